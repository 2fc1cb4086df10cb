// Package validation guards the identifiers and expressions that relorm
// writes into SQL text verbatim. Values are always bound, so only names and
// caller supplied expressions need checking.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	relormerrors "github.com/pay-theory/relorm/pkg/errors"
)

// SecurityError represents a security validation error
type SecurityError struct {
	Type   string
	Field  string
	Detail string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security validation failed [%s]: %s - %s", e.Type, e.Field, e.Detail)
}

// Is makes every SecurityError match ErrInvalidIdentifier
func (e *SecurityError) Is(target error) bool {
	return target == relormerrors.ErrInvalidIdentifier
}

// Identifier limits
const (
	MaxIdentifierLength = 128
	MaxExpressionLength = 4096
	MaxQualifierDepth   = 3
)

// statement separators and comment openers never belong in an identifier or
// a projection expression
var dangerousPatterns = []string{";", "--", "/*", "*/", "\x00"}

var identPart = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// Comparison operator whitelist
var allowedOperators = map[string]bool{
	"=":  true,
	"!=": true,
	"<>": true,
	"<":  true,
	"<=": true,
	">":  true,
	">=": true,
}

// ValidateColumnName validates a possibly table-qualified column reference.
// "*" and "table.*" are accepted.
func ValidateColumnName(name string) error {
	if name == "" {
		return &SecurityError{Type: "InvalidIdentifier", Field: name, Detail: "column name cannot be empty"}
	}
	if len(name) > MaxIdentifierLength {
		return &SecurityError{
			Type:   "InvalidIdentifier",
			Field:  name,
			Detail: fmt.Sprintf("column name exceeds maximum length of %d characters", MaxIdentifierLength),
		}
	}
	if name == "*" {
		return nil
	}

	parts := strings.Split(name, ".")
	if len(parts) > MaxQualifierDepth {
		return &SecurityError{
			Type:   "InvalidIdentifier",
			Field:  name,
			Detail: fmt.Sprintf("qualifier depth exceeds maximum of %d", MaxQualifierDepth),
		}
	}
	for i, part := range parts {
		if part == "*" && i == len(parts)-1 && i > 0 {
			continue
		}
		if !identPart.MatchString(part) {
			return &SecurityError{
				Type:   "InvalidIdentifier",
				Field:  name,
				Detail: fmt.Sprintf("invalid identifier part %q", part),
			}
		}
	}
	return nil
}

// ValidateTableName validates a table name, optionally schema-qualified
func ValidateTableName(name string) error {
	if name == "" {
		return &SecurityError{Type: "InvalidTable", Field: name, Detail: "table name cannot be empty"}
	}
	if strings.HasSuffix(name, "*") {
		return &SecurityError{Type: "InvalidTable", Field: name, Detail: "table name cannot be a wildcard"}
	}
	if err := ValidateColumnName(name); err != nil {
		return &SecurityError{Type: "InvalidTable", Field: name, Detail: err.(*SecurityError).Detail}
	}
	return nil
}

// ValidateExpression validates a projection, grouping or ordering expression
// such as "COUNT(*) AS total". Expressions may contain function calls and
// literals but never statement separators or comments.
func ValidateExpression(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return &SecurityError{Type: "InvalidExpression", Field: expression, Detail: "expression cannot be empty"}
	}
	if len(expression) > MaxExpressionLength {
		return &SecurityError{
			Type:   "InvalidExpression",
			Field:  expression,
			Detail: fmt.Sprintf("expression exceeds maximum length of %d characters", MaxExpressionLength),
		}
	}
	for _, pattern := range dangerousPatterns {
		if strings.Contains(expression, pattern) {
			return &SecurityError{
				Type:   "InjectionAttempt",
				Field:  expression,
				Detail: fmt.Sprintf("expression contains dangerous pattern: %q", pattern),
			}
		}
	}
	for _, r := range expression {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			return &SecurityError{Type: "InvalidExpression", Field: expression, Detail: "expression contains control characters"}
		}
	}
	if depth := parenDepth(expression); depth != 0 {
		return &SecurityError{Type: "InvalidExpression", Field: expression, Detail: "unbalanced parentheses"}
	}
	return nil
}

// ValidateOperator validates a comparison operator
func ValidateOperator(op string) error {
	if !allowedOperators[strings.TrimSpace(op)] {
		return fmt.Errorf("%w: %q", relormerrors.ErrInvalidOperator, op)
	}
	return nil
}

// parenDepth returns the open-minus-close parenthesis balance outside quotes
func parenDepth(s string) int {
	depth := 0
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return depth
			}
		}
	}
	return depth
}
