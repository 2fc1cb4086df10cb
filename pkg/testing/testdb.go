// Package testing provides helpers for testing code built on relorm: an
// in-memory SQLite database behind a statement-recording executor, and a
// DB over a mock executor.
package testing

import (
	"context"
	"database/sql"
	"strings"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/pay-theory/relorm"
	"github.com/pay-theory/relorm/pkg/dialect"
	"github.com/pay-theory/relorm/pkg/executor"
	"github.com/pay-theory/relorm/pkg/logger"
	"github.com/pay-theory/relorm/pkg/mocks"
	"github.com/pay-theory/relorm/pkg/model"
	"github.com/pay-theory/relorm/pkg/schema"
)

// TB is the part of testing.TB the helpers use
type TB interface {
	require.TestingT
	Helper()
	Cleanup(func())
}

// TestDB is a relorm DB over an in-memory SQLite database. Every statement
// the DB runs is recorded by Exec.
type TestDB struct {
	SQL      *sql.DB
	Exec     *executor.Counting
	Registry *model.Registry
	DB       *relorm.DB
}

// NewTestDB opens an empty in-memory database with a fresh registry
func NewTestDB(t TB, opts ...relorm.Option) *TestDB {
	t.Helper()

	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = conn.Close() })

	registry := model.NewRegistry()
	exec := executor.NewCounting(executor.NewSQL(conn, dialect.Question{}, executor.WithLogger(logger.Discard())))
	return &TestDB{
		SQL:      conn,
		Exec:     exec,
		Registry: registry,
		DB:       relorm.New(registry, exec, append([]relorm.Option{relorm.WithLogger(logger.Discard())}, opts...)...),
	}
}

// Run executes semicolon separated statements directly, without recording
// them
func (db *TestDB) Run(t TB, statements string) {
	t.Helper()
	for _, stmt := range strings.Split(statements, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.SQL.Exec(stmt)
		require.NoError(t, err)
	}
}

// Migrate creates the tables of the named types, or of every registered
// type, then clears the recorded statements
func (db *TestDB) Migrate(t TB, typeNames ...string) {
	t.Helper()
	m := schema.NewManager(db.Registry, db.Exec, dialect.Question{}, schema.WithLogger(logger.Discard()))
	require.NoError(t, m.AutoMigrate(context.Background(), typeNames...))
	db.Exec.Reset()
}

// Statements returns the SQL of every recorded statement
func (db *TestDB) Statements() []string {
	stmts := db.Exec.Statements()
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.SQL
	}
	return out
}

// RequireQueries fails unless exactly n statements were recorded since the
// last reset, then resets
func (db *TestDB) RequireQueries(t TB, n int) {
	t.Helper()
	require.Equal(t, n, db.Exec.Count(), "statements: %v", db.Statements())
	db.Exec.Reset()
}

// NewMockDB returns a DB over a mock executor and the mock
func NewMockDB(registry *model.Registry, opts ...relorm.Option) (*relorm.DB, *mocks.MockExecutor) {
	if registry == nil {
		registry = model.NewRegistry()
	}
	exec := new(mocks.MockExecutor)
	return relorm.New(registry, exec, append([]relorm.Option{relorm.WithLogger(logger.Discard())}, opts...)...), exec
}
