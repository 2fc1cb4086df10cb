package executor_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/dialect"
	"github.com/pay-theory/relorm/pkg/executor"
	"github.com/pay-theory/relorm/pkg/logger"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE posts (id INTEGER PRIMARY KEY, title TEXT, body BLOB)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO posts (id, title, body) VALUES (1, 'first', x'6869'), (2, 'second', NULL)`)
	require.NoError(t, err)
	return db
}

func TestSQL_Query(t *testing.T) {
	exec := executor.NewSQL(openDB(t), dialect.Question{}, executor.WithLogger(logger.Discard()))

	rows, err := exec.Query(context.Background(), "SELECT id, title, body FROM posts WHERE id >= ? ORDER BY id", []any{1})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "first", rows[0]["title"])
	assert.Equal(t, "hi", rows[0]["body"])
	assert.Nil(t, rows[1]["body"])

	rows, err = exec.Query(context.Background(), "SELECT id FROM posts WHERE id = ?", []any{99})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestSQL_RebindsForDialect(t *testing.T) {
	var seen string
	exec := executor.NewSQL(queryerFunc(func(query string) { seen = query }), dialect.Dollar{}, executor.WithLogger(logger.Discard()))

	_, err := exec.Query(context.Background(), "SELECT * FROM posts WHERE a = ? AND b = '?' AND c = ?", []any{1, 2})
	assert.Error(t, err)
	assert.Equal(t, "SELECT * FROM posts WHERE a = $1 AND b = '?' AND c = $2", seen)
}

func TestSQL_PropagatesDriverErrors(t *testing.T) {
	exec := executor.NewSQL(openDB(t), nil, executor.WithLogger(logger.Discard()))

	_, err := exec.Query(context.Background(), "SELECT * FROM missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

// queryerFunc records the statement text and fails
type queryerFunc func(query string)

func (f queryerFunc) QueryContext(_ context.Context, query string, _ ...any) (*sql.Rows, error) {
	f(query)
	return nil, errors.New("not connected")
}

func TestInstrumented(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := executor.NewMetrics(reg)

	failure := errors.New("boom")
	calls := 0
	next := core.ExecutorFunc(func(ctx context.Context, sql string, args []any) ([]core.Row, error) {
		calls++
		if calls == 2 {
			return nil, failure
		}
		return []core.Row{{"id": 1}, {"id": 2}}, nil
	})
	exec := executor.NewInstrumented(next, metrics)

	ctx := executor.WithOperation(context.Background(), "eager")
	_, err := exec.Query(ctx, "SELECT 1", nil)
	require.NoError(t, err)
	_, err = exec.Query(ctx, "SELECT 1", nil)
	assert.ErrorIs(t, err, failure)
	_, err = exec.Query(context.Background(), "SELECT 1", nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Queries.WithLabelValues("eager", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Queries.WithLabelValues("eager", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Queries.WithLabelValues("query", "ok")))
	assert.Equal(t, 3, testutil.CollectAndCount(metrics.Queries))
}

func TestCounting(t *testing.T) {
	exec := executor.NewCounting(core.ExecutorFunc(func(context.Context, string, []any) ([]core.Row, error) {
		return nil, nil
	}))

	args := []any{1}
	_, _ = exec.Query(context.Background(), "SELECT ?", args)
	args[0] = 2
	_, _ = exec.Query(context.Background(), "SELECT 2", nil)

	require.Equal(t, 2, exec.Count())
	assert.Equal(t, []any{1}, exec.Statements()[0].Args)
	assert.Equal(t, "SELECT 2", exec.Statements()[1].SQL)

	exec.Reset()
	assert.Zero(t, exec.Count())
}
