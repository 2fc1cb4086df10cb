// Package condition models single SQL predicates and their bind values.
//
// A Condition renders independently to a fragment that uses ? placeholders
// plus the ordered values those placeholders bind. User values never appear
// in the fragment text. Construction problems (empty IN lists, unknown
// operators, unsafe identifiers, malformed named placeholders) are recorded
// on the Condition and reported by Err and Render, before anything reaches a
// connection.
package condition

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pay-theory/relorm/internal/expr"
	"github.com/pay-theory/relorm/internal/sqlref"
	relormerrors "github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/validation"
)

// Kind identifies the predicate variant
type Kind int

// Predicate variants
const (
	KindAnd Kind = iota
	KindOr
	KindNot
	KindEquals
	KindNotEquals
	KindCompare
	KindIsNull
	KindIsNotNull
	KindIn
	KindNotIn
	KindBetween
	KindNotBetween
	KindLike
	KindNotLike
	KindRaw
	KindColumns
)

var kindNames = map[Kind]string{
	KindEquals:     "Equals",
	KindNotEquals:  "NotEquals",
	KindCompare:    "Comparison",
	KindIsNull:     "IsNull",
	KindIsNotNull:  "IsNotNull",
	KindIn:         "In",
	KindNotIn:      "NotIn",
	KindBetween:    "Between",
	KindNotBetween: "NotBetween",
	KindLike:       "Like",
	KindNotLike:    "NotLike",
	KindRaw:        "Raw",
	KindColumns:    "ColumnCompare",
	KindAnd:        "And",
	KindOr:         "Or",
	KindNot:        "Not",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Condition is a single renderable predicate. The zero value is an empty
// conjunction and renders to nothing.
type Condition struct {
	kind     Kind
	column   string
	op       string
	value    any
	values   []any
	rng      Range
	text     string
	params   []any
	children []Condition
	err      error
}

// Kind returns the predicate variant
func (c Condition) Kind() Kind { return c.kind }

// Column returns the column the predicate tests, if any
func (c Condition) Column() string { return c.column }

// Err returns the construction error, including errors of child conditions
func (c Condition) Err() error {
	if c.err != nil {
		return c.err
	}
	for _, child := range c.children {
		if err := child.Err(); err != nil {
			return err
		}
	}
	return nil
}

// IsEmpty reports whether the condition renders to nothing
func (c Condition) IsEmpty() bool {
	switch c.kind {
	case KindAnd, KindOr, KindNot:
		for _, child := range c.children {
			if !child.IsEmpty() {
				return false
			}
		}
		return c.err == nil
	}
	return false
}

func failed(kind Kind, column string, err error) Condition {
	return Condition{kind: kind, column: column, err: err}
}

func checkColumn(kind Kind, column string) (Condition, bool) {
	if err := validation.ValidateColumnName(column); err != nil {
		return failed(kind, column, err), false
	}
	return Condition{}, true
}

// Eq builds column = value. A nil value becomes IS NULL, a slice becomes IN
// and a Range becomes BETWEEN (or its half-open form).
func Eq(column string, value any) Condition {
	switch v := value.(type) {
	case nil:
		return IsNull(column)
	case Range:
		return BetweenRange(column, v)
	case Condition:
		return failed(KindEquals, column, fmt.Errorf("%w: a condition is not a value", relormerrors.ErrInvalidOperator))
	}
	if values, ok := expr.Flatten(value); ok {
		return In(column, values...)
	}
	if bad, ok := checkColumn(KindEquals, column); !ok {
		return bad
	}
	return Condition{kind: KindEquals, column: column, value: value}
}

// NotEq builds column != value with the same value dispatch as Eq
func NotEq(column string, value any) Condition {
	switch v := value.(type) {
	case nil:
		return IsNotNull(column)
	case Range:
		return NotBetween(column, v)
	}
	if values, ok := expr.Flatten(value); ok {
		return NotIn(column, values...)
	}
	if bad, ok := checkColumn(KindNotEquals, column); !ok {
		return bad
	}
	return Condition{kind: KindNotEquals, column: column, value: value}
}

// Compare builds column <op> value for =, !=, <>, <, <=, > and >=
func Compare(column, op string, value any) Condition {
	op = strings.TrimSpace(op)
	if err := validation.ValidateOperator(op); err != nil {
		return failed(KindCompare, column, err)
	}
	if value == nil {
		return failed(KindCompare, column, fmt.Errorf("%w: comparison %s against NULL", relormerrors.ErrInvalidOperator, op))
	}
	if bad, ok := checkColumn(KindCompare, column); !ok {
		return bad
	}
	return Condition{kind: KindCompare, column: column, op: op, value: value}
}

// Gt builds column > value
func Gt(column string, value any) Condition { return Compare(column, ">", value) }

// Gte builds column >= value
func Gte(column string, value any) Condition { return Compare(column, ">=", value) }

// Lt builds column < value
func Lt(column string, value any) Condition { return Compare(column, "<", value) }

// Lte builds column <= value
func Lte(column string, value any) Condition { return Compare(column, "<=", value) }

// IsNull builds column IS NULL
func IsNull(column string) Condition {
	if bad, ok := checkColumn(KindIsNull, column); !ok {
		return bad
	}
	return Condition{kind: KindIsNull, column: column}
}

// IsNotNull builds column IS NOT NULL
func IsNotNull(column string) Condition {
	if bad, ok := checkColumn(KindIsNotNull, column); !ok {
		return bad
	}
	return Condition{kind: KindIsNotNull, column: column}
}

func setValues(values []any) []any {
	if len(values) == 1 {
		if inner, ok := expr.Flatten(values[0]); ok {
			values = inner
		}
	}
	out := make([]any, len(values))
	copy(out, values)
	return out
}

// In builds column IN (...). A single slice argument is expanded. Zero
// values is an error, never an always-false predicate.
func In(column string, values ...any) Condition {
	values = setValues(values)
	if len(values) == 0 {
		return failed(KindIn, column, fmt.Errorf("%w: IN on %s", relormerrors.ErrEmptySetCondition, column))
	}
	if bad, ok := checkColumn(KindIn, column); !ok {
		return bad
	}
	return Condition{kind: KindIn, column: column, values: values}
}

// NotIn builds column NOT IN (...). Zero values is an error.
func NotIn(column string, values ...any) Condition {
	values = setValues(values)
	if len(values) == 0 {
		return failed(KindNotIn, column, fmt.Errorf("%w: NOT IN on %s", relormerrors.ErrEmptySetCondition, column))
	}
	if bad, ok := checkColumn(KindNotIn, column); !ok {
		return bad
	}
	return Condition{kind: KindNotIn, column: column, values: values}
}

// Between builds an inclusive column BETWEEN lo AND hi
func Between(column string, lo, hi any) Condition {
	return BetweenRange(column, Inclusive(lo, hi))
}

// BetweenRange builds a range predicate honoring the range's exclusivity
func BetweenRange(column string, r Range) Condition {
	if r.Unbounded() {
		return failed(KindBetween, column, fmt.Errorf("%w: range on %s has no bounds", relormerrors.ErrInvalidOperator, column))
	}
	if bad, ok := checkColumn(KindBetween, column); !ok {
		return bad
	}
	return Condition{kind: KindBetween, column: column, rng: r}
}

// NotBetween negates a range predicate
func NotBetween(column string, r Range) Condition {
	c := BetweenRange(column, r)
	c.kind = KindNotBetween
	return c
}

// Like builds column LIKE pattern
func Like(column string, pattern any) Condition {
	if bad, ok := checkColumn(KindLike, column); !ok {
		return bad
	}
	return Condition{kind: KindLike, column: column, value: pattern}
}

// NotLike builds column NOT LIKE pattern
func NotLike(column string, pattern any) Condition {
	c := Like(column, pattern)
	c.kind = KindNotLike
	return c
}

// Raw wraps a hand written fragment using ? placeholders. Slice params widen
// their placeholder into a list; the placeholder count must match params.
func Raw(text string, params ...any) Condition {
	if strings.TrimSpace(text) == "" {
		return failed(KindRaw, "", fmt.Errorf("%w: empty raw fragment", relormerrors.ErrBindCountMismatch))
	}
	expanded, args, err := expr.ExpandSlices(text, params)
	if err != nil {
		return failed(KindRaw, "", err)
	}
	return Condition{kind: KindRaw, text: expanded, params: args}
}

// Named wraps a fragment using :name placeholders bound from lookup
func Named(text string, lookup map[string]any) Condition {
	expanded, args, err := expr.ExpandNamed(text, lookup)
	if err != nil {
		return failed(KindRaw, "", err)
	}
	if strings.TrimSpace(expanded) == "" {
		return failed(KindRaw, "", fmt.Errorf("%w: empty raw fragment", relormerrors.ErrMalformedNamedPlaceholder))
	}
	return Condition{kind: KindRaw, text: expanded, params: args}
}

// ColumnsEqual builds left = right between two column references. Join
// predicates use it; it binds nothing.
func ColumnsEqual(left, right string) Condition {
	if bad, ok := checkColumn(KindColumns, left); !ok {
		return bad
	}
	if bad, ok := checkColumn(KindColumns, right); !ok {
		return bad
	}
	return Condition{kind: KindColumns, column: left, text: right}
}

// Hash builds the conjunction of Eq conditions for each key, in sorted key
// order. A nested map qualifies its keys with the outer key as table name:
// {"authors": {"name": "x"}} tests authors.name.
func Hash(values map[string]any) Condition {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]Condition, 0, len(keys))
	for _, key := range keys {
		if nested, ok := values[key].(map[string]any); ok {
			qualified := make(map[string]any, len(nested))
			for col, v := range nested {
				qualified[key+"."+col] = v
			}
			conds = append(conds, Hash(qualified).children...)
			continue
		}
		conds = append(conds, Eq(key, values[key]))
	}
	return Condition{kind: KindAnd, children: conds}
}

func combine(kind Kind, conds []Condition) Condition {
	children := make([]Condition, 0, len(conds))
	for _, c := range conds {
		if c.IsEmpty() {
			continue
		}
		children = append(children, c)
	}
	return Condition{kind: kind, children: children}
}

// And joins conditions with AND
func And(conds ...Condition) Condition { return combine(KindAnd, conds) }

// Or joins conditions with OR
func Or(conds ...Condition) Condition { return combine(KindOr, conds) }

// Not negates a condition. The child is always parenthesized.
func Not(c Condition) Condition {
	return Condition{kind: KindNot, children: []Condition{c}}
}

// Tables returns the lower-cased table qualifiers the condition references
func (c Condition) Tables() []string {
	seen := map[string]bool{}
	c.collectTables(seen)
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// References reports whether the condition touches table
func (c Condition) References(table string) bool {
	table = strings.ToLower(table)
	for _, t := range c.Tables() {
		if t == table {
			return true
		}
	}
	return false
}

func (c Condition) collectTables(seen map[string]bool) {
	switch c.kind {
	case KindRaw:
		for _, t := range sqlref.Tables(c.text) {
			seen[t] = true
		}
	case KindColumns:
		addQualifier(seen, c.column)
		addQualifier(seen, c.text)
	case KindAnd, KindOr, KindNot:
		for _, child := range c.children {
			child.collectTables(seen)
		}
	default:
		addQualifier(seen, c.column)
	}
}

func addQualifier(seen map[string]bool, column string) {
	parts := strings.Split(column, ".")
	if len(parts) < 2 {
		return
	}
	seen[strings.ToLower(parts[len(parts)-2])] = true
}

// Requalify returns c with columns of table, and unqualified columns, moved
// onto alias. Raw fragments are left as written.
func (c Condition) Requalify(table, alias string) Condition {
	switch c.kind {
	case KindRaw:
		return c
	case KindAnd, KindOr, KindNot:
		children := make([]Condition, len(c.children))
		for i, child := range c.children {
			children[i] = child.Requalify(table, alias)
		}
		c.children = children
		return c
	case KindColumns:
		c.text = requalify(c.text, table, alias)
	}
	if c.column != "" {
		c.column = requalify(c.column, table, alias)
	}
	return c
}

func requalify(column, table, alias string) string {
	i := strings.LastIndex(column, ".")
	if i < 0 {
		return alias + "." + column
	}
	if strings.EqualFold(column[:i], table) {
		return alias + column[i:]
	}
	return column
}
