// Package schema creates tables for registered types
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/dialect"
	"github.com/pay-theory/relorm/pkg/logger"
	"github.com/pay-theory/relorm/pkg/model"
)

var timeType = reflect.TypeOf(time.Time{})

// Manager handles table creation for the types of a registry
type Manager struct {
	registry *model.Registry
	exec     core.Executor
	dialect  dialect.Dialect
	logger   *slog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a new schema manager
func NewManager(registry *model.Registry, exec core.Executor, d dialect.Dialect, opts ...Option) *Manager {
	m := &Manager{registry: registry, exec: exec, dialect: d}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialect == nil {
		m.dialect = dialect.Question{}
	}
	m.logger = logger.Or(m.logger)
	return m
}

// CreateTableSQL renders CREATE TABLE IF NOT EXISTS for t. Column types come
// from the Go field when the type was registered from a struct; other
// columns are TEXT.
func CreateTableSQL(t *model.Type, d dialect.Dialect) string {
	postgres := d != nil && d.Name() == (dialect.Dollar{}).Name()
	defs := make([]string, 0, len(t.Columns)+1)
	for _, col := range t.Columns {
		sqlType := "TEXT"
		if f, ok := t.Field(col); ok && f.Type != nil {
			sqlType = columnType(f.Type, postgres)
		} else if col == "id" || strings.HasSuffix(col, "_id") {
			sqlType = columnType(reflect.TypeOf(int64(0)), postgres)
		}
		defs = append(defs, col+" "+sqlType)
	}
	defs = append(defs, "PRIMARY KEY ("+strings.Join(t.PrimaryKey, ", ")+")")
	return "CREATE TABLE IF NOT EXISTS " + t.Table + " (" + strings.Join(defs, ", ") + ")"
}

func columnType(t reflect.Type, postgres bool) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		if postgres {
			return "TIMESTAMPTZ"
		}
		return "TIMESTAMP"
	}
	switch t.Kind() {
	case reflect.Bool:
		return "BOOLEAN"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if postgres {
			return "BIGINT"
		}
		return "INTEGER"
	case reflect.Float32, reflect.Float64:
		if postgres {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			if postgres {
				return "BYTEA"
			}
			return "BLOB"
		}
	}
	return "TEXT"
}

// CreateTable creates the table of the named type
func (m *Manager) CreateTable(ctx context.Context, typeName string) error {
	t, err := m.registry.Type(typeName)
	if err != nil {
		return err
	}
	stmt := CreateTableSQL(t, m.dialect)
	if _, err := m.exec.Query(ctx, stmt, nil); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Table, err)
	}
	m.logger.DebugContext(ctx, "table created", "type", t.Name, "table", t.Table)
	return nil
}

// AutoMigrate creates the tables of the named types, or of every registered
// type when none are named. Existing tables are left untouched.
func (m *Manager) AutoMigrate(ctx context.Context, typeNames ...string) error {
	if len(typeNames) == 0 {
		typeNames = m.registry.Types()
		sort.Strings(typeNames)
	}
	for _, name := range typeNames {
		if err := m.CreateTable(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
