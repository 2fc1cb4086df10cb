package expr

import (
	"strings"
)

// Builder accumulates SQL text together with its positional bind values.
// Fragments always use ? placeholders; dialect rebinding happens once the
// whole statement is assembled.
type Builder struct {
	sql  strings.Builder
	args []any
}

// NewBuilder creates a new SQL builder
func NewBuilder() *Builder {
	return &Builder{}
}

// WriteString appends literal SQL text with no bind values
func (b *Builder) WriteString(s string) *Builder {
	b.sql.WriteString(s)
	return b
}

// Write appends a fragment and the values bound by its placeholders
func (b *Builder) Write(fragment string, args ...any) *Builder {
	b.sql.WriteString(fragment)
	b.args = append(b.args, args...)
	return b
}

// Clause appends " KEYWORD fragment" when fragment is not empty
func (b *Builder) Clause(keyword, fragment string, args ...any) *Builder {
	if fragment == "" {
		return b
	}
	b.sql.WriteByte(' ')
	b.sql.WriteString(keyword)
	b.sql.WriteByte(' ')
	return b.Write(fragment, args...)
}

// Join writes each fragment separated by sep, collecting all args in order
func (b *Builder) Join(sep string, fragments []string, args [][]any) *Builder {
	for i, f := range fragments {
		if i > 0 {
			b.sql.WriteString(sep)
		}
		b.sql.WriteString(f)
		if i < len(args) {
			b.args = append(b.args, args[i]...)
		}
	}
	return b
}

// String returns the accumulated SQL text
func (b *Builder) String() string {
	return b.sql.String()
}

// Args returns the accumulated bind values in placeholder order
func (b *Builder) Args() []any {
	if b.args == nil {
		return []any{}
	}
	out := make([]any, len(b.args))
	copy(out, b.args)
	return out
}

// Len returns the length of the accumulated SQL text
func (b *Builder) Len() int {
	return b.sql.Len()
}
