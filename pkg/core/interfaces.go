// Package core defines the types shared by the query core and its
// execution and mapping collaborators
package core

import (
	"context"
	"sort"
)

// Row is one result row keyed by column name or alias
type Row map[string]any

// Columns returns the row's column names in sorted order
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Clone returns a shallow copy of the row
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Executor runs a rendered statement and returns its rows. SQL always uses
// ? placeholders; adapters rebind them for their driver. Errors are returned
// as the driver reported them.
type Executor interface {
	Query(ctx context.Context, sql string, args []any) ([]Row, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, sql string, args []any) ([]Row, error)

// Query calls f
func (f ExecutorFunc) Query(ctx context.Context, sql string, args []any) ([]Row, error) {
	return f(ctx, sql, args)
}

// Mapper materializes records into a caller-supplied destination, usually a
// pointer to a struct or to a slice of structs
type Mapper interface {
	Map(records []*Record, dest any) error
}

// MapperFunc adapts a function to Mapper
type MapperFunc func(records []*Record, dest any) error

// Map calls f
func (f MapperFunc) Map(records []*Record, dest any) error {
	return f(records, dest)
}
