// Package query holds the immutable query representation and renders it to
// SQL text plus an ordered bind list.
//
// Every builder method returns a new *Query. Slices are copied on write, so a
// handle never observes clauses added through a query derived from it.
// Builder failures are recorded on the returned query (first failure wins)
// and reported by Err, ToSQL and Build.
package query

import (
	"fmt"
	"strings"

	"github.com/pay-theory/relorm/pkg/condition"
	relormerrors "github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/validation"
)

// Direction is an ORDER BY direction
type Direction string

// Order directions
const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Reverse returns the opposite direction
func (d Direction) Reverse() Direction {
	if d == Desc {
		return Asc
	}
	return Desc
}

// ParseDirection accepts asc/desc in any case; empty means ascending
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ASC":
		return Asc, nil
	case "DESC":
		return Desc, nil
	}
	return "", fmt.Errorf("%w: order direction %q", relormerrors.ErrInvalidIdentifier, s)
}

// OrderTerm is one ORDER BY entry
type OrderTerm struct {
	Column    string
	Direction Direction
}

// JoinType is the SQL join flavour
type JoinType string

// Join types
const (
	InnerJoin JoinType = "INNER JOIN"
	LeftJoin  JoinType = "LEFT OUTER JOIN"
	RightJoin JoinType = "RIGHT OUTER JOIN"
)

// Join is a single join clause. Alias, when set, names the joined table in
// the predicate and in later clauses.
type Join struct {
	Type  JoinType
	Table string
	Alias string
	On    condition.Condition
}

// Name returns the alias when set, otherwise the table name
func (j Join) Name() string {
	if j.Alias != "" {
		return j.Alias
	}
	return j.Table
}

// Clause names a query part that Except can remove
type Clause int

// Removable clauses
const (
	ClauseSelect Clause = iota
	ClauseDistinct
	ClauseJoins
	ClauseWhere
	ClauseGroup
	ClauseHaving
	ClauseOrder
	ClauseLimit
	ClauseOffset
	ClauseReferences
)

// Query is the accumulated, immutable specification of one SELECT
type Query struct {
	table      string
	selects    []string
	distinct   bool
	joins      []Join
	where      []condition.Condition
	orGroups   [][]condition.Condition
	group      []string
	having     []condition.Condition
	order      []OrderTerm
	limit      int
	offset     int
	references []string
	err        error
}

// New creates a query over table selecting every column
func New(table string) *Query {
	q := &Query{table: table, limit: -1, offset: -1}
	if err := validation.ValidateTableName(table); err != nil {
		q.err = err
	}
	return q
}

func (q *Query) clone() *Query {
	c := *q
	c.selects = append([]string(nil), q.selects...)
	c.joins = append([]Join(nil), q.joins...)
	c.where = append([]condition.Condition(nil), q.where...)
	c.orGroups = make([][]condition.Condition, len(q.orGroups))
	for i, g := range q.orGroups {
		c.orGroups[i] = append([]condition.Condition(nil), g...)
	}
	c.group = append([]string(nil), q.group...)
	c.having = append([]condition.Condition(nil), q.having...)
	c.order = append([]OrderTerm(nil), q.order...)
	c.references = append([]string(nil), q.references...)
	return &c
}

// recordError keeps the first build error
func (q *Query) recordError(err error) {
	if err != nil && q.err == nil {
		q.err = err
	}
}

func (q *Query) checkConditions(conds []condition.Condition) {
	for _, c := range conds {
		q.recordError(c.Err())
	}
}

// Err returns the first error recorded while building the query
func (q *Query) Err() error { return q.err }

// Table returns the FROM table
func (q *Query) Table() string { return q.table }

// Where appends conditions to the root AND-group
func (q *Query) Where(conds ...condition.Condition) *Query {
	c := q.clone()
	c.checkConditions(conds)
	for _, cond := range conds {
		if !cond.IsEmpty() {
			c.where = append(c.where, cond)
		}
	}
	return c
}

// WhereNot appends the negation of each condition to the root AND-group
func (q *Query) WhereNot(conds ...condition.Condition) *Query {
	negated := make([]condition.Condition, 0, len(conds))
	for _, cond := range conds {
		if cond.IsEmpty() {
			continue
		}
		negated = append(negated, condition.Not(cond))
	}
	return q.Where(negated...)
}

// Or opens a new OR-group holding the conjunction of conds. The WHERE clause
// becomes (everything so far) OR (conds).
func (q *Query) Or(conds ...condition.Condition) *Query {
	c := q.clone()
	c.checkConditions(conds)
	group := make([]condition.Condition, 0, len(conds))
	for _, cond := range conds {
		if !cond.IsEmpty() {
			group = append(group, cond)
		}
	}
	if len(group) > 0 {
		c.orGroups = append(c.orGroups, group)
	}
	return c
}

// Narrow ANDs conds onto the whole WHERE clause, folding any OR-groups into a
// single root condition first so the new conditions restrict every branch.
func (q *Query) Narrow(conds ...condition.Condition) *Query {
	c := q.clone()
	if len(c.orGroups) > 0 {
		branches := make([]condition.Condition, 0, len(c.orGroups)+1)
		branches = append(branches, condition.And(c.where...))
		for _, g := range c.orGroups {
			branches = append(branches, condition.And(g...))
		}
		c.where = []condition.Condition{condition.Or(branches...)}
		c.orGroups = nil
	}
	return c.Where(conds...)
}

// Joins appends join clauses in order
func (q *Query) Joins(joins ...Join) *Query {
	c := q.clone()
	for _, j := range joins {
		if j.Type == "" {
			j.Type = InnerJoin
		}
		c.recordError(validation.ValidateTableName(j.Table))
		if j.Alias != "" {
			c.recordError(validation.ValidateTableName(j.Alias))
		}
		c.recordError(j.On.Err())
		c.joins = append(c.joins, j)
	}
	return c
}

// HasJoin reports whether a join already names table (by alias or table)
func (q *Query) HasJoin(name string) bool {
	for _, j := range q.joins {
		if strings.EqualFold(j.Name(), name) {
			return true
		}
	}
	return false
}

// Select appends projection entries. Each argument may hold a comma separated
// list; whitespace is trimmed and empty segments dropped. A list that
// normalizes to nothing records ErrInvalidSelectClause.
func (q *Query) Select(columns ...string) *Query {
	c := q.clone()
	cols, err := NormalizeSelect(columns...)
	if err != nil {
		c.recordError(err)
		return c
	}
	c.selects = append(c.selects, cols...)
	return c
}

// Reselect replaces the projection
func (q *Query) Reselect(columns ...string) *Query {
	c := q.clone()
	c.selects = nil
	return c.Select(columns...)
}

// Distinct marks the projection DISTINCT
func (q *Query) Distinct() *Query {
	c := q.clone()
	c.distinct = true
	return c
}

// Group appends GROUP BY expressions
func (q *Query) Group(columns ...string) *Query {
	c := q.clone()
	cols, err := splitExpressions(columns)
	if err != nil {
		c.recordError(err)
		return c
	}
	c.group = append(c.group, cols...)
	return c
}

// Having appends HAVING conditions, joined by AND
func (q *Query) Having(conds ...condition.Condition) *Query {
	c := q.clone()
	c.checkConditions(conds)
	for _, cond := range conds {
		if !cond.IsEmpty() {
			c.having = append(c.having, cond)
		}
	}
	return c
}

// Order appends an ORDER BY term
func (q *Query) Order(column string, dir Direction) *Query {
	c := q.clone()
	if err := validation.ValidateExpression(column); err != nil {
		c.recordError(err)
		return c
	}
	if dir == "" {
		dir = Asc
	}
	if dir != Asc && dir != Desc {
		c.recordError(fmt.Errorf("%w: order direction %q", relormerrors.ErrInvalidIdentifier, dir))
		return c
	}
	c.order = append(c.order, OrderTerm{Column: strings.TrimSpace(column), Direction: dir})
	return c
}

// OrderBy appends terms written as "column [asc|desc]", comma separated
func (q *Query) OrderBy(terms ...string) *Query {
	c := q.clone()
	parsed, err := ParseOrder(terms...)
	if err != nil {
		c.recordError(err)
		return c
	}
	c.order = append(c.order, parsed...)
	return c
}

// Reorder replaces the ORDER BY clause
func (q *Query) Reorder(terms ...string) *Query {
	c := q.clone()
	c.order = nil
	return c.OrderBy(terms...)
}

// Limit sets LIMIT; negative values record ErrInvalidPagination
func (q *Query) Limit(n int) *Query {
	c := q.clone()
	if n < 0 {
		c.recordError(fmt.Errorf("%w: limit %d", relormerrors.ErrInvalidPagination, n))
		return c
	}
	c.limit = n
	return c
}

// Offset sets OFFSET; negative values record ErrInvalidPagination
func (q *Query) Offset(n int) *Query {
	c := q.clone()
	if n < 0 {
		c.recordError(fmt.Errorf("%w: offset %d", relormerrors.ErrInvalidPagination, n))
		return c
	}
	c.offset = n
	return c
}

// References marks tables as referenced by the query even when no condition
// names them. The eager loader joins associations on referenced tables.
func (q *Query) References(tables ...string) *Query {
	c := q.clone()
	for _, t := range tables {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			c.references = append(c.references, t)
		}
	}
	return c
}

// Except removes whole clauses, keeping everything else
func (q *Query) Except(clauses ...Clause) *Query {
	c := q.clone()
	for _, clause := range clauses {
		switch clause {
		case ClauseSelect:
			c.selects = nil
		case ClauseDistinct:
			c.distinct = false
		case ClauseJoins:
			c.joins = nil
		case ClauseWhere:
			c.where = nil
			c.orGroups = nil
		case ClauseGroup:
			c.group = nil
		case ClauseHaving:
			c.having = nil
		case ClauseOrder:
			c.order = nil
		case ClauseLimit:
			c.limit = -1
		case ClauseOffset:
			c.offset = -1
		case ClauseReferences:
			c.references = nil
		}
	}
	return c
}

// Selects returns the projection; empty means every column
func (q *Query) Selects() []string { return append([]string(nil), q.selects...) }

// IsDistinct reports whether the projection is DISTINCT
func (q *Query) IsDistinct() bool { return q.distinct }

// JoinClauses returns the joins in addition order
func (q *Query) JoinClauses() []Join { return append([]Join(nil), q.joins...) }

// Conditions returns the root AND-group
func (q *Query) Conditions() []condition.Condition {
	return append([]condition.Condition(nil), q.where...)
}

// OrGroups returns the OR-groups
func (q *Query) OrGroups() [][]condition.Condition {
	out := make([][]condition.Condition, len(q.orGroups))
	for i, g := range q.orGroups {
		out[i] = append([]condition.Condition(nil), g...)
	}
	return out
}

// HavingConditions returns the HAVING conditions
func (q *Query) HavingConditions() []condition.Condition {
	return append([]condition.Condition(nil), q.having...)
}

// Orders returns the ORDER BY terms
func (q *Query) Orders() []OrderTerm { return append([]OrderTerm(nil), q.order...) }

// Ordered reports whether the query carries an ORDER BY
func (q *Query) Ordered() bool { return len(q.order) > 0 }

// LimitValue returns the LIMIT and whether one is set
func (q *Query) LimitValue() (int, bool) { return q.limit, q.limit >= 0 }

// OffsetValue returns the OFFSET and whether one is set
func (q *Query) OffsetValue() (int, bool) { return q.offset, q.offset >= 0 }

// ReferencedTables returns explicit references plus every table qualifier
// used by WHERE and HAVING conditions, lower-cased and de-duplicated
func (q *Query) ReferencedTables() []string {
	seen := map[string]bool{}
	var out []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range q.references {
		add(t)
	}
	all := append([]condition.Condition(nil), q.where...)
	for _, g := range q.orGroups {
		all = append(all, g...)
	}
	all = append(all, q.having...)
	for _, c := range all {
		for _, t := range c.Tables() {
			add(t)
		}
	}
	return out
}

// ReferencesTable reports whether a condition or an explicit reference names table
func (q *Query) ReferencesTable(table string) bool {
	table = strings.ToLower(table)
	for _, t := range q.ReferencedTables() {
		if t == table {
			return true
		}
	}
	return false
}
