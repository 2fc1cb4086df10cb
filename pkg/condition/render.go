package condition

import (
	"strings"

	"github.com/pay-theory/relorm/internal/expr"
)

// Render returns the SQL fragment with ? placeholders and the bind values in
// placeholder order. An empty conjunction renders to "".
func (c Condition) Render() (string, []any, error) {
	if err := c.Err(); err != nil {
		return "", nil, err
	}
	sql, args := c.render()
	if args == nil {
		args = []any{}
	}
	return sql, args, nil
}

func (c Condition) render() (string, []any) {
	switch c.kind {
	case KindEquals:
		return c.column + " = ?", []any{c.value}
	case KindNotEquals:
		return c.column + " != ?", []any{c.value}
	case KindCompare:
		return c.column + " " + c.op + " ?", []any{c.value}
	case KindIsNull:
		return c.column + " IS NULL", nil
	case KindIsNotNull:
		return c.column + " IS NOT NULL", nil
	case KindIn:
		return renderSet(c.column, c.values, false)
	case KindNotIn:
		return renderSet(c.column, c.values, true)
	case KindBetween:
		return c.rng.render(c.column)
	case KindNotBetween:
		if c.rng.Lo != nil && c.rng.Hi != nil && !c.rng.Exclusive {
			return c.column + " NOT BETWEEN ? AND ?", []any{c.rng.Lo, c.rng.Hi}
		}
		sql, args := c.rng.render(c.column)
		return "NOT (" + expr.Unwrap(sql) + ")", args
	case KindLike:
		return c.column + " LIKE ?", []any{c.value}
	case KindNotLike:
		return c.column + " NOT LIKE ?", []any{c.value}
	case KindRaw:
		return "(" + c.text + ")", append([]any(nil), c.params...)
	case KindColumns:
		return c.column + " = " + c.text, nil
	case KindAnd:
		return renderGroup(c.children, " AND ")
	case KindOr:
		return renderGroup(c.children, " OR ")
	case KindNot:
		sql, args := renderGroup(c.children, " AND ")
		if sql == "" {
			return "", nil
		}
		return "NOT (" + expr.Unwrap(sql) + ")", args
	}
	return "", nil
}

func renderSet(column string, values []any, negate bool) (string, []any) {
	present := make([]any, 0, len(values))
	hasNull := false
	for _, v := range values {
		if v == nil {
			hasNull = true
			continue
		}
		present = append(present, v)
	}

	op, nullTest, joiner := " IN (", " IS NULL", " OR "
	if negate {
		op, nullTest, joiner = " NOT IN (", " IS NOT NULL", " AND "
	}

	if len(present) == 0 {
		return column + nullTest, nil
	}
	set := column + op + expr.Placeholders(len(present)) + ")"
	if !hasNull {
		return set, present
	}
	return "(" + set + joiner + column + nullTest + ")", present
}

func renderGroup(children []Condition, sep string) (string, []any) {
	parts := make([]string, 0, len(children))
	var args []any
	for _, child := range children {
		sql, childArgs := child.render()
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		args = append(args, childArgs...)
	}
	switch len(parts) {
	case 0:
		return "", nil
	case 1:
		return parts[0], args
	}
	return "(" + strings.Join(parts, sep) + ")", args
}
