// Package scope provides reusable query transformations.
//
// A scope always yields a query. When its guard rejects the arguments, or
// the underlying function returns nil, the input query comes back unchanged,
// so scopes chain unconditionally.
package scope

import (
	"reflect"

	"github.com/pay-theory/relorm/pkg/condition"
	"github.com/pay-theory/relorm/pkg/query"
)

// Func transforms a query, optionally using arguments
type Func func(q *query.Query, args ...any) *query.Query

// Apply runs f against q. A nil Func or a nil result is the identity.
func (f Func) Apply(q *query.Query, args ...any) *query.Query {
	if f == nil {
		return q
	}
	if out := f(q, args...); out != nil {
		return out
	}
	return q
}

// Identity returns its input
func Identity(q *query.Query, _ ...any) *query.Query { return q }

// Guarded applies fn only when guard accepts the arguments
func Guarded(guard func(args ...any) bool, fn Func) Func {
	return func(q *query.Query, args ...any) *query.Query {
		if guard != nil && !guard(args...) {
			return q
		}
		return fn.Apply(q, args...)
	}
}

// Where returns a scope that appends fixed conditions
func Where(conds ...condition.Condition) Func {
	return func(q *query.Query, _ ...any) *query.Query {
		return q.Where(conds...)
	}
}

// Chain applies scopes left to right, passing the same arguments to each
func Chain(fns ...Func) Func {
	return func(q *query.Query, args ...any) *query.Query {
		for _, fn := range fns {
			q = fn.Apply(q, args...)
		}
		return q
	}
}

// Present is a guard accepting a first argument that is set: not nil, not a
// zero value and not an empty string, slice or map.
func Present(args ...any) bool {
	if len(args) == 0 || args[0] == nil {
		return false
	}
	v := reflect.ValueOf(args[0])
	switch v.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return v.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !v.IsNil()
	}
	return !v.IsZero()
}
