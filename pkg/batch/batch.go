// Package batch iterates large result sets in keyset-paginated batches.
//
// Each batch is its own query: the caller's filters are kept, ORDER BY,
// LIMIT and OFFSET are replaced by an order over the cursor columns and a
// LIMIT of the batch size, and after the first batch a keyset predicate
// resumes strictly after the last row seen. Only one batch is held in memory.
package batch

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pay-theory/relorm/pkg/condition"
	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/logger"
	"github.com/pay-theory/relorm/pkg/query"
)

// DefaultSize is the batch size used by DefaultConfig
const DefaultSize = 1000

// Config configures an iteration
type Config struct {
	// Size is the number of rows per batch; it must be positive
	Size int
	// Columns are the cursor columns, defaulting to id
	Columns []string
	// Directions holds one direction per cursor column, or a single
	// direction for all of them. Empty means ascending.
	Directions []query.Direction
	// Strict fails when the query already carries an ORDER BY instead of
	// ignoring it
	Strict bool
	// Start and Finish bound the first cursor column, inclusive, in
	// iteration order: with a descending cursor Start is the upper bound
	Start  any
	Finish any
	// Limiter throttles fetches after the first
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// DefaultConfig returns a config with DefaultSize and the id cursor
func DefaultConfig() Config {
	return Config{Size: DefaultSize}
}

// CursorState is the keyset position between batches
type CursorState struct {
	Columns    []string
	Values     []any // nil before the first batch
	Directions []query.Direction
	BatchSize  int
}

// Iterator yields batches of rows. It is not safe for concurrent use.
type Iterator struct {
	exec    core.Executor
	base    *query.Query
	columns []string // as written in SQL
	keys    []string // as returned in rows
	state   CursorState
	limiter *rate.Limiter
	logger  *slog.Logger

	batch   []core.Row
	fetches int
	done    bool
	err     error
}

// New validates cfg against q and prepares an iterator. Configuration errors
// are returned before any query runs.
func New(exec core.Executor, q *query.Query, cfg Config) (*Iterator, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", errors.ErrInvalidBatchConfiguration, cfg.Size)
	}
	columns := cfg.Columns
	if len(columns) == 0 {
		columns = []string{"id"}
	}
	dirs, err := directions(cfg.Directions, len(columns))
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	log := logger.Or(cfg.Logger).With("iteration", id.String(), "table", q.Table())
	if q.Ordered() {
		if cfg.Strict {
			return nil, fmt.Errorf("%w: query on %s is ordered by %s", errors.ErrScopedOrderConflict, q.Table(), orderString(q.Orders()))
		}
		log.Warn("scoped order is ignored, iterating in cursor order", "order", orderString(q.Orders()))
	}

	it := &Iterator{
		exec:    exec,
		base:    q.Except(query.ClauseOrder, query.ClauseLimit, query.ClauseOffset),
		limiter: cfg.Limiter,
		logger:  log,
		state: CursorState{
			Columns:    append([]string(nil), columns...),
			Directions: dirs,
			BatchSize:  cfg.Size,
		},
	}
	for _, col := range columns {
		sqlCol, key := col, col
		if i := strings.LastIndexByte(col, '.'); i >= 0 {
			key = col[i+1:]
		} else {
			sqlCol = q.Table() + "." + col
		}
		it.columns = append(it.columns, sqlCol)
		it.keys = append(it.keys, key)
	}
	if b := bounds(it.columns[0], dirs[0], cfg.Start, cfg.Finish); len(b) > 0 {
		it.base = it.base.Narrow(b...)
	}
	if err := it.base.Err(); err != nil {
		return nil, err
	}
	return it, nil
}

func directions(in []query.Direction, n int) ([]query.Direction, error) {
	out := make([]query.Direction, n)
	switch len(in) {
	case 0:
		for i := range out {
			out[i] = query.Asc
		}
	case 1:
		for i := range out {
			out[i] = in[0]
		}
	case n:
		copy(out, in)
	default:
		return nil, fmt.Errorf("%w: %d directions for %d cursor columns", errors.ErrInvalidBatchConfiguration, len(in), n)
	}
	for _, d := range out {
		if d != query.Asc && d != query.Desc {
			return nil, fmt.Errorf("%w: invalid direction %q", errors.ErrInvalidBatchConfiguration, d)
		}
	}
	return out, nil
}

func bounds(column string, dir query.Direction, start, finish any) []condition.Condition {
	var out []condition.Condition
	lower, upper := condition.Gte, condition.Lte
	if dir == query.Desc {
		lower, upper = condition.Lte, condition.Gte
	}
	if start != nil {
		out = append(out, lower(column, start))
	}
	if finish != nil {
		out = append(out, upper(column, finish))
	}
	return out
}

func orderString(terms []query.OrderTerm) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.Column + " " + string(t.Direction)
	}
	return strings.Join(parts, ", ")
}

// Keyset returns the predicate selecting rows strictly after values in the
// order given by dirs: (a > ?) OR (a = ? AND b > ?) and so on, with < for
// descending columns
func Keyset(columns []string, values []any, dirs []query.Direction) condition.Condition {
	branches := make([]condition.Condition, len(columns))
	for i := range columns {
		parts := make([]condition.Condition, 0, i+1)
		for j := 0; j < i; j++ {
			parts = append(parts, condition.Eq(columns[j], values[j]))
		}
		op := ">"
		if dirs[i] == query.Desc {
			op = "<"
		}
		parts = append(parts, condition.Compare(columns[i], op, values[i]))
		branches[i] = condition.And(parts...)
	}
	return condition.Or(branches...)
}

// Query returns the statement for the next fetch
func (it *Iterator) Query() *query.Query {
	q := it.base
	if it.state.Values != nil {
		q = q.Narrow(Keyset(it.columns, it.state.Values, it.state.Directions))
	}
	for i, col := range it.columns {
		q = q.Order(col, it.state.Directions[i])
	}
	return q.Limit(it.state.BatchSize)
}

// Next fetches the next batch. It returns false when the rows are exhausted
// or an error occurred; check Err afterwards.
func (it *Iterator) Next(ctx context.Context) bool {
	it.batch = nil
	if it.done || it.err != nil {
		return false
	}
	if it.limiter != nil && it.fetches > 0 {
		if err := it.limiter.Wait(ctx); err != nil {
			return it.fail(err)
		}
	}

	sql, args, err := it.Query().ToSQL()
	if err != nil {
		return it.fail(err)
	}
	rows, err := it.exec.Query(ctx, sql, args)
	if err != nil {
		return it.fail(err)
	}
	it.fetches++
	it.logger.Debug("batch fetched", "batch", it.fetches, "rows", len(rows))

	if len(rows) < it.state.BatchSize {
		it.done = true
	}
	if len(rows) == 0 {
		return false
	}

	last := rows[len(rows)-1]
	values := make([]any, len(it.keys))
	for i, key := range it.keys {
		v, ok := last[key]
		if !ok {
			return it.fail(fmt.Errorf("%w: cursor column %s is not in the result", errors.ErrInvalidBatchConfiguration, key))
		}
		values[i] = v
	}
	it.state.Values = values
	it.batch = rows
	return true
}

func (it *Iterator) fail(err error) bool {
	it.err = err
	it.done = true
	it.batch = nil
	return false
}

// Batch returns the rows fetched by the last successful Next
func (it *Iterator) Batch() []core.Row { return it.batch }

// Err returns the error that stopped iteration
func (it *Iterator) Err() error { return it.err }

// State returns a copy of the cursor state
func (it *Iterator) State() CursorState {
	s := it.state
	s.Columns = append([]string(nil), s.Columns...)
	s.Values = append([]any(nil), s.Values...)
	if it.state.Values == nil {
		s.Values = nil
	}
	s.Directions = append([]query.Direction(nil), s.Directions...)
	return s
}

// Batches calls fn with each batch in order
func (it *Iterator) Batches(ctx context.Context, fn func([]core.Row) error) error {
	for it.Next(ctx) {
		if err := fn(it.Batch()); err != nil {
			return err
		}
	}
	return it.Err()
}

// Each calls fn with every row in order
func (it *Iterator) Each(ctx context.Context, fn func(core.Row) error) error {
	return it.Batches(ctx, func(rows []core.Row) error {
		for _, row := range rows {
			if err := fn(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// Chunks yields each batch. A failure is yielded once with a nil batch.
func (it *Iterator) Chunks(ctx context.Context) iter.Seq2[[]core.Row, error] {
	return func(yield func([]core.Row, error) bool) {
		for it.Next(ctx) {
			if !yield(it.Batch(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// All yields every row. A failure is yielded once with a nil row.
func (it *Iterator) All(ctx context.Context) iter.Seq2[core.Row, error] {
	return func(yield func(core.Row, error) bool) {
		for rows, err := range it.Chunks(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, row := range rows {
				if !yield(row, nil) {
					return
				}
			}
		}
	}
}
