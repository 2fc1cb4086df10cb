package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pay-theory/relorm/internal/expr"
	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/dialect"
)

// PgxQuerier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Pgx runs statements through pgx with $n placeholders
type Pgx struct {
	conn   PgxQuerier
	logger *slog.Logger
}

// NewPgx creates an adapter over a pgx pool or connection
func NewPgx(conn PgxQuerier, opts ...Option) *Pgx {
	o := buildOptions(opts)
	return &Pgx{conn: conn, logger: o.logger}
}

// Query implements core.Executor
func (e *Pgx) Query(ctx context.Context, query string, args []any) ([]core.Row, error) {
	start := time.Now()
	text := expr.Rebind(query, dialect.Dollar{}.Placeholder)

	rows, err := e.conn.Query(ctx, text, args...)
	if err != nil {
		e.logger.DebugContext(ctx, "query failed", "sql", text, "args", len(args), "error", err)
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []core.Row{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(core.Row, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	e.logger.DebugContext(ctx, "query", "sql", text, "args", len(args), "rows", len(out), "duration", time.Since(start))
	return out, nil
}
