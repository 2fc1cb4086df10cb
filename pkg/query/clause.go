package query

import (
	"fmt"
	"strings"

	relormerrors "github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/validation"
)

// splitTopLevel splits s on commas that are outside parentheses and quotes
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"', '`':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// splitExpressions flattens comma separated inputs, trims each segment and
// drops empty ones. Every segment must be a safe expression.
func splitExpressions(inputs []string) ([]string, error) {
	var out []string
	for _, in := range inputs {
		for _, part := range splitTopLevel(in) {
			part = strings.Join(strings.Fields(part), " ")
			if part == "" {
				continue
			}
			if err := validation.ValidateExpression(part); err != nil {
				return nil, err
			}
			out = append(out, part)
		}
	}
	return out, nil
}

// NormalizeSelect normalizes select input such as "id, , title ,," or
// []string{" id", "title"} into clean projection entries. An input that
// normalizes to nothing is ErrInvalidSelectClause.
func NormalizeSelect(columns ...string) ([]string, error) {
	cols, err := splitExpressions(columns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", relormerrors.ErrInvalidSelectClause, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: select list is empty", relormerrors.ErrInvalidSelectClause)
	}
	return cols, nil
}

// ParseOrder parses "column [asc|desc]" terms, each possibly comma separated
func ParseOrder(terms ...string) ([]OrderTerm, error) {
	exprs, err := splitExpressions(terms)
	if err != nil {
		return nil, err
	}
	out := make([]OrderTerm, 0, len(exprs))
	for _, e := range exprs {
		column, dir := e, Asc
		if i := strings.LastIndexByte(e, ' '); i > 0 {
			if parsed, perr := ParseDirection(e[i+1:]); perr == nil {
				column, dir = strings.TrimSpace(e[:i]), parsed
			}
		}
		out = append(out, OrderTerm{Column: column, Direction: dir})
	}
	return out, nil
}
