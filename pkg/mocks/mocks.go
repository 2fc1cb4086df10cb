// Package mocks provides mock implementations of relorm's collaborator
// interfaces for use with github.com/stretchr/testify/mock.
//
// # Basic Usage
//
// Mock the executor to assert the SQL a piece of code builds without a
// database:
//
//	func TestPublishedPosts(t *testing.T) {
//	    exec := new(mocks.MockExecutor)
//	    exec.On("Query", mock.Anything, "SELECT * FROM posts WHERE posts.published = ?", []any{true}).
//	        Return([]core.Row{{"id": int64(1)}}, nil)
//
//	    db := relorm.New(registry, exec)
//	    posts, err := db.Model("Post").Where(condition.Eq("posts.published", true)).All(ctx)
//
//	    exec.AssertExpectations(t)
//	}
//
// # Error Handling
//
// Execution errors are returned to the caller unchanged:
//
//	exec.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, sql.ErrConnDone)
//
// # Tips
//
// 1. Use mock.Anything for the context argument
// 2. Use mock.MatchedBy to match SQL by prefix or substring
// 3. Always assert expectations were met with AssertExpectations
// 4. Use Run to capture arguments before returning
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/pay-theory/relorm/pkg/core"
)

// MockExecutor is a mock implementation of core.Executor
type MockExecutor struct {
	mock.Mock
}

// Query records the call and returns the configured rows and error
func (m *MockExecutor) Query(ctx context.Context, sql string, args []any) ([]core.Row, error) {
	ret := m.Called(ctx, sql, args)
	var rows []core.Row
	if v := ret.Get(0); v != nil {
		rows = v.([]core.Row)
	}
	return rows, ret.Error(1)
}

// MockMapper is a mock implementation of core.Mapper
type MockMapper struct {
	mock.Mock
}

// Map records the call and returns the configured error
func (m *MockMapper) Map(records []*core.Record, dest any) error {
	args := m.Called(records, dest)
	return args.Error(0)
}

// Helper type aliases for convenience
type (
	// Executor is an alias for MockExecutor
	Executor = MockExecutor
	// Mapper is an alias for MockMapper
	Mapper = MockMapper
)

var (
	_ core.Executor = (*MockExecutor)(nil)
	_ core.Mapper   = (*MockMapper)(nil)
)
