package relorm

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/pay-theory/relorm/pkg/association"
	"github.com/pay-theory/relorm/pkg/batch"
	"github.com/pay-theory/relorm/pkg/condition"
	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/eager"
	"github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/model"
	"github.com/pay-theory/relorm/pkg/query"
	"github.com/pay-theory/relorm/pkg/scope"
)

// Relation is a query on one registered type plus the associations to load
// with it. Every method returns a new Relation; a Relation is safe to share.
// Build errors are recorded and returned by the first method that runs SQL.
type Relation struct {
	db  *DB
	typ *model.Type
	q   *query.Query
	err error

	includes  []any // strategy chosen per association
	preloads  []any // always separate queries
	eagerLoad []any // always joined
}

func (r *Relation) clone() *Relation {
	c := *r
	c.includes = append([]any(nil), r.includes...)
	c.preloads = append([]any(nil), r.preloads...)
	c.eagerLoad = append([]any(nil), r.eagerLoad...)
	return &c
}

func (r *Relation) with(q *query.Query) *Relation {
	c := r.clone()
	c.q = q
	return c
}

func (r *Relation) fail(err error) *Relation {
	c := r.clone()
	if c.err == nil {
		c.err = err
	}
	return c
}

// Err returns the first recorded build error
func (r *Relation) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.q.Err()
}

// Type returns the relation's record type
func (r *Relation) Type() *model.Type { return r.typ }

// Query returns the underlying query
func (r *Relation) Query() *query.Query { return r.q }

// ToSQL renders the base query with ? placeholders
func (r *Relation) ToSQL() (string, []any, error) {
	if err := r.Err(); err != nil {
		return "", nil, err
	}
	return r.q.ToSQL()
}

// Where appends conditions to the root AND-group
func (r *Relation) Where(conds ...condition.Condition) *Relation { return r.with(r.q.Where(conds...)) }

// WhereNot appends negated conditions
func (r *Relation) WhereNot(conds ...condition.Condition) *Relation {
	return r.with(r.q.WhereNot(conds...))
}

// Or opens an OR-group
func (r *Relation) Or(conds ...condition.Condition) *Relation { return r.with(r.q.Or(conds...)) }

// Select sets the projection
func (r *Relation) Select(columns ...string) *Relation { return r.with(r.q.Select(columns...)) }

// Distinct makes the projection DISTINCT
func (r *Relation) Distinct() *Relation { return r.with(r.q.Distinct()) }

// Group appends GROUP BY expressions
func (r *Relation) Group(columns ...string) *Relation { return r.with(r.q.Group(columns...)) }

// Having appends HAVING conditions
func (r *Relation) Having(conds ...condition.Condition) *Relation {
	return r.with(r.q.Having(conds...))
}

// Order appends an ORDER BY term
func (r *Relation) Order(column string, dir query.Direction) *Relation {
	return r.with(r.q.Order(column, dir))
}

// OrderBy appends "column [asc|desc]" terms
func (r *Relation) OrderBy(terms ...string) *Relation { return r.with(r.q.OrderBy(terms...)) }

// Reorder replaces the ORDER BY clause
func (r *Relation) Reorder(terms ...string) *Relation { return r.with(r.q.Reorder(terms...)) }

// Limit sets LIMIT
func (r *Relation) Limit(n int) *Relation { return r.with(r.q.Limit(n)) }

// Offset sets OFFSET
func (r *Relation) Offset(n int) *Relation { return r.with(r.q.Offset(n)) }

// References marks tables as referenced so included associations on them
// are joined
func (r *Relation) References(tables ...string) *Relation { return r.with(r.q.References(tables...)) }

// Joins INNER JOINs the associations named by input
func (r *Relation) Joins(input any) *Relation { return r.join(query.InnerJoin, input) }

// LeftJoins LEFT OUTER JOINs the associations named by input
func (r *Relation) LeftJoins(input any) *Relation { return r.join(query.LeftJoin, input) }

func (r *Relation) join(joinType query.JoinType, input any) *Relation {
	if r.typ == nil {
		return r
	}
	q, err := r.db.resolver.Join(r.q, r.typ.Name, joinType, input)
	if err != nil {
		return r.fail(err)
	}
	return r.with(q)
}

// Includes loads the associations named by input, joining those whose
// tables the query's conditions reference and fetching the rest separately
func (r *Relation) Includes(input any) *Relation {
	c := r.clone()
	c.includes = append(c.includes, input)
	return c
}

// Preload loads the associations named by input with separate queries
func (r *Relation) Preload(input any) *Relation {
	c := r.clone()
	c.preloads = append(c.preloads, input)
	return c
}

// EagerLoad loads the associations named by input, and everything Includes
// named, in one joined query
func (r *Relation) EagerLoad(input any) *Relation {
	c := r.clone()
	c.eagerLoad = append(c.eagerLoad, input)
	return c
}

// Scope applies a named scope of the relation's type
func (r *Relation) Scope(name string, args ...any) *Relation {
	if r.typ == nil {
		return r
	}
	fn, ok := r.typ.Scope(name)
	if !ok {
		return r.fail(fmt.Errorf("%w: %s.%s", errors.ErrUnknownScope, r.typ.Name, name))
	}
	return r.with(fn.Apply(r.q, args...))
}

// Scoping applies fn to the query
func (r *Relation) Scoping(fn scope.Func, args ...any) *Relation {
	return r.with(fn.Apply(r.q, args...))
}

// Unscoped discards the default scope and every clause and association
// added so far
func (r *Relation) Unscoped() *Relation {
	if r.typ == nil {
		return r
	}
	return &Relation{db: r.db, typ: r.typ, q: query.New(r.typ.Table)}
}

// Plan reports how the included associations would be loaded
func (r *Relation) Plan() ([]eager.Decision, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	mode, input := r.eagerMode()
	return r.db.loader.Plan(r.typ.Name, r.q, mode, input)
}

func (r *Relation) eagerMode() (eager.Mode, []any) {
	if len(r.eagerLoad) > 0 {
		return eager.Join, append(append([]any(nil), r.eagerLoad...), r.includes...)
	}
	return eager.Auto, r.includes
}

// All runs the query and loads the requested associations
func (r *Relation) All(ctx context.Context) ([]*core.Record, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	if err := r.checkAssociations(r.preloads); err != nil {
		return nil, err
	}
	mode, input := r.eagerMode()
	records, err := r.db.loader.Load(ctx, r.typ.Name, r.q, mode, input)
	if err != nil {
		return nil, err
	}
	if err := r.preload(ctx, records, r.preloads); err != nil {
		return nil, err
	}
	return records, nil
}

// checkAssociations fails on any name in inputs the registry does not know.
// It runs no SQL.
func (r *Relation) checkAssociations(inputs []any) error {
	if len(inputs) == 0 {
		return nil
	}
	_, err := r.db.loader.Plan(r.typ.Name, r.q, eager.Separate, inputs)
	return err
}

func (r *Relation) preload(ctx context.Context, records []*core.Record, inputs []any) error {
	if len(inputs) == 0 {
		return nil
	}
	specs, err := association.Parse(inputs)
	if err != nil {
		return err
	}
	return r.db.loader.Preload(ctx, r.typ, records, specs...)
}

// Scan runs All and maps the records into dest with the DB's mapper
func (r *Relation) Scan(ctx context.Context, dest any) error {
	records, err := r.All(ctx)
	if err != nil {
		return err
	}
	return r.db.mapper.Map(records, dest)
}

// First returns the first record by primary key, or by the relation's
// order when it has one
func (r *Relation) First(ctx context.Context) (*core.Record, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	rel := r
	if !r.q.Ordered() {
		for _, col := range r.typ.PrimaryKey {
			rel = rel.Order(r.typ.Qualified(col), query.Asc)
		}
	}
	return rel.Limit(1).one(ctx, "first")
}

// Last returns the last record, reversing the relation's order or ordering
// by primary key descending
func (r *Relation) Last(ctx context.Context) (*core.Record, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	terms := r.q.Orders()
	rel := r.with(r.q.Except(query.ClauseOrder))
	if len(terms) == 0 {
		for _, col := range r.typ.PrimaryKey {
			terms = append(terms, query.OrderTerm{Column: r.typ.Qualified(col), Direction: query.Asc})
		}
	}
	for _, t := range terms {
		rel = rel.Order(t.Column, t.Direction.Reverse())
	}
	return rel.Limit(1).one(ctx, "last")
}

// Take returns any one matching record
func (r *Relation) Take(ctx context.Context) (*core.Record, error) {
	return r.Limit(1).one(ctx, "take")
}

func (r *Relation) one(ctx context.Context, op string) (*core.Record, error) {
	records, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.NewError(op, r.typ.Name, errors.ErrRecordNotFound)
	}
	return records[0], nil
}

// Find returns the record with the given primary key. Composite keys take
// one value per key column, in key order.
func (r *Relation) Find(ctx context.Context, key ...any) (*core.Record, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	if len(key) != len(r.typ.PrimaryKey) {
		return nil, errors.NewErrorWithContext("find", r.typ.Name, errors.ErrMissingPrimaryKey, map[string]any{
			"expected": len(r.typ.PrimaryKey),
			"given":    len(key),
		})
	}
	conds := make([]condition.Condition, len(key))
	for i, col := range r.typ.PrimaryKey {
		conds[i] = condition.Eq(r.typ.Qualified(col), key[i])
	}
	records, err := r.with(r.q.Narrow(conds...)).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.NewErrorWithContext("find", r.typ.Name, errors.ErrRecordNotFound, map[string]any{"key": key})
	}
	return records[0], nil
}

// FindBy returns the first record matching attrs. Keys are literal column
// names: "id" is the id column, never a primary key alias.
func (r *Relation) FindBy(ctx context.Context, attrs map[string]any) (*core.Record, error) {
	return r.with(r.q.Narrow(condition.Hash(attrs))).Limit(1).one(ctx, "find_by")
}

// Exists reports whether any record matches
func (r *Relation) Exists(ctx context.Context) (bool, error) {
	if err := r.Err(); err != nil {
		return false, err
	}
	cols := make([]string, len(r.typ.PrimaryKey))
	for i, col := range r.typ.PrimaryKey {
		cols[i] = r.typ.Qualified(col)
	}
	sql, args, err := r.q.Reselect(cols...).Except(query.ClauseOrder).Limit(1).ToSQL()
	if err != nil {
		return false, err
	}
	rows, err := r.db.exec.Query(ctx, sql, args)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Count returns the number of matching rows
func (r *Relation) Count(ctx context.Context) (int64, error) {
	if err := r.Err(); err != nil {
		return 0, err
	}
	sql, args, err := r.q.CountSQL()
	if err != nil {
		return 0, err
	}
	rows, err := r.db.exec.Query(ctx, sql, args)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for _, v := range rows[0] {
		return toInt64(v)
	}
	return 0, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("unexpected count value %T", v)
}

// Pluck returns the values of one column, in row order
func (r *Relation) Pluck(ctx context.Context, column string) ([]any, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	sql, args, err := r.q.Reselect(column + " AS relorm_pluck").ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.exec.Query(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row["relorm_pluck"]
	}
	return out, nil
}

// BatchOption adjusts batch iteration
type BatchOption func(*batch.Config)

// BatchSize sets the rows per batch
func BatchSize(n int) BatchOption {
	return func(c *batch.Config) { c.Size = n }
}

// BatchOrder sets the cursor direction
func BatchOrder(dir query.Direction) BatchOption {
	return func(c *batch.Config) { c.Directions = []query.Direction{dir} }
}

// BatchColumns replaces the primary key cursor
func BatchColumns(columns ...string) BatchOption {
	return func(c *batch.Config) { c.Columns = columns }
}

// BatchStart starts at the given first cursor value, inclusive
func BatchStart(v any) BatchOption {
	return func(c *batch.Config) { c.Start = v }
}

// BatchFinish stops at the given first cursor value, inclusive
func BatchFinish(v any) BatchOption {
	return func(c *batch.Config) { c.Finish = v }
}

// BatchStrict fails instead of ignoring an order on the relation
func BatchStrict() BatchOption {
	return func(c *batch.Config) { c.Strict = true }
}

// BatchLimiter throttles fetches
func BatchLimiter(l *rate.Limiter) BatchOption {
	return func(c *batch.Config) { c.Limiter = l }
}

// Iterator returns a keyset batch iterator over the relation's rows. The
// cursor defaults to the primary key in ascending order.
func (r *Relation) Iterator(opts ...BatchOption) (*batch.Iterator, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	cfg := batch.Config{
		Size:    r.db.batchSize,
		Columns: append([]string(nil), r.typ.PrimaryKey...),
		Logger:  r.db.logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return batch.New(r.db.exec, r.q, cfg)
}

// FindInBatches calls fn with each batch of records, loading the relation's
// associations per batch with separate queries
func (r *Relation) FindInBatches(ctx context.Context, fn func([]*core.Record) error, opts ...BatchOption) error {
	it, err := r.Iterator(opts...)
	if err != nil {
		return err
	}
	inputs := append(append(append([]any(nil), r.includes...), r.eagerLoad...), r.preloads...)
	if err := r.checkAssociations(inputs); err != nil {
		return err
	}
	return it.Batches(ctx, func(rows []core.Row) error {
		records := make([]*core.Record, len(rows))
		for i, row := range rows {
			records[i] = core.NewRecord(r.typ.Name, row)
		}
		if err := r.preload(ctx, records, inputs); err != nil {
			return err
		}
		return fn(records)
	})
}

// FindEach calls fn with every record, fetched in batches
func (r *Relation) FindEach(ctx context.Context, fn func(*core.Record) error, opts ...BatchOption) error {
	return r.FindInBatches(ctx, func(records []*core.Record) error {
		for _, rec := range records {
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	}, opts...)
}
