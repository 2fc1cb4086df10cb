package scope_test

import (
	"testing"

	"github.com/pay-theory/relorm/pkg/condition"
	"github.com/pay-theory/relorm/pkg/query"
	"github.com/pay-theory/relorm/pkg/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlOf(t *testing.T, q *query.Query) string {
	t.Helper()
	sql, _, err := q.ToSQL()
	require.NoError(t, err)
	return sql
}

func TestGuarded_IdentityWhenGuardFails(t *testing.T) {
	byAuthor := scope.Guarded(scope.Present, func(q *query.Query, args ...any) *query.Query {
		return q.Where(condition.Eq("author_id", args[0]))
	})

	base := query.New("posts").Where(condition.Eq("state", "published"))

	assert.Same(t, base, byAuthor.Apply(base))
	assert.Same(t, base, byAuthor.Apply(base, nil))
	assert.Same(t, base, byAuthor.Apply(base, ""))
	assert.Same(t, base, byAuthor.Apply(base, 0))

	scoped := byAuthor.Apply(base, 7)
	assert.Equal(t, "SELECT * FROM posts WHERE state = ? AND author_id = ?", sqlOf(t, scoped))
}

func TestApply_NilResultIsIdentity(t *testing.T) {
	base := query.New("posts")
	var nothing scope.Func = func(*query.Query, ...any) *query.Query { return nil }
	var unset scope.Func

	assert.Same(t, base, nothing.Apply(base))
	assert.Same(t, base, unset.Apply(base))
	assert.Same(t, base, scope.Func(scope.Identity).Apply(base))
}

func TestChain(t *testing.T) {
	recent := scope.Func(func(q *query.Query, _ ...any) *query.Query { return q.OrderBy("created_at desc") })
	published := scope.Where(condition.Eq("state", "published"))

	q := scope.Chain(published, recent).Apply(query.New("posts"))
	assert.Equal(t, "SELECT * FROM posts WHERE state = ? ORDER BY created_at DESC", sqlOf(t, q))
}

func TestPresent(t *testing.T) {
	var nilPtr *int
	assert.False(t, scope.Present())
	assert.False(t, scope.Present(nilPtr))
	assert.False(t, scope.Present([]int{}))
	assert.True(t, scope.Present("x"))
	assert.True(t, scope.Present(true))
	assert.True(t, scope.Present([]int{1}))
}
