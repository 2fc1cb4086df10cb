package executor

import (
	"context"
	"sync"

	"github.com/pay-theory/relorm/pkg/core"
)

// Statement is one recorded call
type Statement struct {
	SQL  string
	Args []any
}

// Counting records every statement passed to another executor
type Counting struct {
	next core.Executor

	mu         sync.Mutex
	statements []Statement
}

// NewCounting wraps next
func NewCounting(next core.Executor) *Counting {
	return &Counting{next: next}
}

// Query implements core.Executor
func (e *Counting) Query(ctx context.Context, sql string, args []any) ([]core.Row, error) {
	e.mu.Lock()
	e.statements = append(e.statements, Statement{SQL: sql, Args: append([]any(nil), args...)})
	e.mu.Unlock()
	return e.next.Query(ctx, sql, args)
}

// Count returns the number of statements run
func (e *Counting) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.statements)
}

// Statements returns a copy of the recorded statements
func (e *Counting) Statements() []Statement {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Statement(nil), e.statements...)
}

// Reset clears the recorded statements
func (e *Counting) Reset() {
	e.mu.Lock()
	e.statements = nil
	e.mu.Unlock()
}
