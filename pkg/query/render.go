package query

import (
	"strings"

	"github.com/pay-theory/relorm/internal/expr"
	"github.com/pay-theory/relorm/pkg/condition"
	"github.com/pay-theory/relorm/pkg/dialect"
)

// ToSQL renders the query with ? placeholders
func (q *Query) ToSQL() (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	b := expr.NewBuilder()
	if err := q.writeSelect(b); err != nil {
		return "", nil, err
	}
	return b.String(), b.Args(), nil
}

// Build renders the query and rebinds placeholders for d. A nil dialect
// keeps ? placeholders.
func (q *Query) Build(d dialect.Dialect) (string, []any, error) {
	sql, args, err := q.ToSQL()
	if err != nil || d == nil {
		return sql, args, err
	}
	return expr.Rebind(sql, d.Placeholder), args, nil
}

// CountSQL renders SELECT COUNT(*) over the query's rows. Ordering is
// dropped; grouped, distinct or paginated queries are counted as a subquery.
func (q *Query) CountSQL() (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	inner := q.Except(ClauseOrder)
	_, hasLimit := inner.LimitValue()
	_, hasOffset := inner.OffsetValue()
	if len(inner.group) > 0 || inner.distinct || hasLimit || hasOffset {
		sql, args, err := inner.ToSQL()
		if err != nil {
			return "", nil, err
		}
		return "SELECT COUNT(*) FROM (" + sql + ") relorm_count", args, nil
	}

	b := expr.NewBuilder().WriteString("SELECT COUNT(*) FROM " + inner.table)
	if err := inner.writeFilters(b); err != nil {
		return "", nil, err
	}
	return b.String(), b.Args(), nil
}

// String renders the query for logs, ignoring errors
func (q *Query) String() string {
	sql, _, err := q.ToSQL()
	if err != nil {
		return "<invalid query: " + err.Error() + ">"
	}
	return sql
}

func (q *Query) projection() string {
	if len(q.selects) > 0 {
		return strings.Join(q.selects, ", ")
	}
	if len(q.joins) > 0 {
		return q.table + ".*"
	}
	return "*"
}

func (q *Query) writeSelect(b *expr.Builder) error {
	b.WriteString("SELECT ")
	if q.distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(q.projection())
	b.WriteString(" FROM " + q.table)

	if err := q.writeFilters(b); err != nil {
		return err
	}

	if len(q.group) > 0 {
		b.Clause("GROUP BY", strings.Join(q.group, ", "))
	}
	having, havingArgs, err := renderConjunction(q.having)
	if err != nil {
		return err
	}
	b.Clause("HAVING", having, havingArgs...)

	if len(q.order) > 0 {
		terms := make([]string, len(q.order))
		for i, o := range q.order {
			terms[i] = o.Column + " " + string(o.Direction)
		}
		b.Clause("ORDER BY", strings.Join(terms, ", "))
	}
	if q.limit >= 0 {
		b.Clause("LIMIT", "?", q.limit)
	}
	if q.offset >= 0 {
		b.Clause("OFFSET", "?", q.offset)
	}
	return nil
}

// writeFilters writes the JOIN and WHERE clauses
func (q *Query) writeFilters(b *expr.Builder) error {
	for _, j := range q.joins {
		b.WriteString(" " + string(j.Type) + " " + j.Table)
		if j.Alias != "" {
			b.WriteString(" " + j.Alias)
		}
		on, onArgs, err := j.On.Render()
		if err != nil {
			return err
		}
		b.Clause("ON", expr.Unwrap(on), onArgs...)
	}

	where, whereArgs, err := q.renderWhere()
	if err != nil {
		return err
	}
	b.Clause("WHERE", where, whereArgs...)
	return nil
}

// renderWhere renders the root AND-group and each OR-group. With OR-groups
// present every non-empty group is parenthesized: (a AND b) OR (c).
func (q *Query) renderWhere() (string, []any, error) {
	groups := make([][]condition.Condition, 0, len(q.orGroups)+1)
	if len(q.where) > 0 {
		groups = append(groups, q.where)
	}
	groups = append(groups, q.orGroups...)

	parts := make([]string, 0, len(groups))
	var args []any
	for _, g := range groups {
		sql, groupArgs, err := renderConjunction(g)
		if err != nil {
			return "", nil, err
		}
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		args = append(args, groupArgs...)
	}
	if len(parts) == 1 {
		return parts[0], args, nil
	}
	for i, p := range parts {
		parts[i] = expr.Enclose(p)
	}
	return strings.Join(parts, " OR "), args, nil
}

// renderConjunction joins conditions with AND without wrapping the result
func renderConjunction(conds []condition.Condition) (string, []any, error) {
	parts := make([]string, 0, len(conds))
	var args []any
	for _, c := range conds {
		sql, condArgs, err := c.Render()
		if err != nil {
			return "", nil, err
		}
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		args = append(args, condArgs...)
	}
	return strings.Join(parts, " AND "), args, nil
}
