// Package executor adapts database drivers to core.Executor
package executor

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/pay-theory/relorm/internal/expr"
	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/dialect"
	"github.com/pay-theory/relorm/pkg/logger"
)

// Queryer is the part of *sql.DB, *sql.Conn and *sql.Tx the adapter needs
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQL runs statements through database/sql
type SQL struct {
	db      Queryer
	dialect dialect.Dialect
	logger  *slog.Logger
}

// Option configures an adapter
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for statement debug lines
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logger.Or(o.logger)
	return o
}

// NewSQL creates an adapter over db. Placeholders are rebound for d; a nil
// dialect keeps ?.
func NewSQL(db Queryer, d dialect.Dialect, opts ...Option) *SQL {
	o := buildOptions(opts)
	return &SQL{db: db, dialect: d, logger: o.logger}
}

// Query implements core.Executor
func (e *SQL) Query(ctx context.Context, query string, args []any) ([]core.Row, error) {
	start := time.Now()
	text := query
	if e.dialect != nil {
		text = expr.Rebind(query, e.dialect.Placeholder)
	}

	rows, err := e.db.QueryContext(ctx, text, args...)
	if err != nil {
		e.logger.DebugContext(ctx, "query failed", "sql", text, "args", len(args), "error", err)
		return nil, err
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	e.logger.DebugContext(ctx, "query", "sql", text, "args", len(args), "rows", len(out), "duration", time.Since(start))
	return out, nil
}

func scanRows(rows *sql.Rows) ([]core.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []core.Row{}
	values := make([]any, len(columns))
	targets := make([]any, len(columns))
	for rows.Next() {
		for i := range values {
			values[i] = nil
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		row := make(core.Row, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalize copies driver-owned byte slices, which are only valid until the
// next Scan
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
