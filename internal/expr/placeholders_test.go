package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relormerrors "github.com/pay-theory/relorm/pkg/errors"
)

func TestCountPlaceholdersSkipsQuotes(t *testing.T) {
	assert.Equal(t, 2, CountPlaceholders("a = ? AND b = ?"))
	assert.Equal(t, 1, CountPlaceholders("a = '?' AND b = ?"))
	assert.Equal(t, 1, CountPlaceholders(`"we?ird" = ? AND c = 'it''s ?'`))
	assert.Equal(t, 0, CountPlaceholders(""))
}

func TestRebind(t *testing.T) {
	dollar := func(i int) string { return "$" + string(rune('0'+i)) }

	assert.Equal(t, "a = $1 AND b IN ($2, $3)", Rebind("a = ? AND b IN (?, ?)", dollar))
	assert.Equal(t, "a = '?' AND b = $1", Rebind("a = '?' AND b = ?", dollar))
	assert.Equal(t, "a = ?", Rebind("a = ?", nil))
}

func TestExpandSlices(t *testing.T) {
	t.Run("scalar params", func(t *testing.T) {
		sql, args, err := ExpandSlices("a = ? AND b = ?", []any{1, "x"})
		require.NoError(t, err)
		assert.Equal(t, "a = ? AND b = ?", sql)
		assert.Equal(t, []any{1, "x"}, args)
	})

	t.Run("slice widens placeholder", func(t *testing.T) {
		sql, args, err := ExpandSlices("id IN (?) AND name = ?", []any{[]int{1, 2, 3}, "x"})
		require.NoError(t, err)
		assert.Equal(t, "id IN (?, ?, ?) AND name = ?", sql)
		assert.Equal(t, []any{1, 2, 3, "x"}, args)
	})

	t.Run("bytes stay scalar", func(t *testing.T) {
		sql, args, err := ExpandSlices("data = ?", []any{[]byte("abc")})
		require.NoError(t, err)
		assert.Equal(t, "data = ?", sql)
		assert.Len(t, args, 1)
	})

	t.Run("empty slice", func(t *testing.T) {
		_, _, err := ExpandSlices("id IN (?)", []any{[]int{}})
		assert.ErrorIs(t, err, relormerrors.ErrEmptySetCondition)
	})

	t.Run("count mismatch", func(t *testing.T) {
		_, _, err := ExpandSlices("a = ? AND b = ?", []any{1})
		assert.ErrorIs(t, err, relormerrors.ErrBindCountMismatch)
	})
}

func TestExpandNamed(t *testing.T) {
	t.Run("repeated names get their own slots", func(t *testing.T) {
		sql, args, err := ExpandNamed("a = :x OR b = :y OR c = :x", map[string]any{"x": 1, "y": 2})
		require.NoError(t, err)
		assert.Equal(t, "a = ? OR b = ? OR c = ?", sql)
		assert.Equal(t, []any{1, 2, 1}, args)
	})

	t.Run("prefix names do not collide", func(t *testing.T) {
		sql, args, err := ExpandNamed("a = :id AND b = :idx", map[string]any{"id": 1, "idx": 2})
		require.NoError(t, err)
		assert.Equal(t, "a = ? AND b = ?", sql)
		assert.Equal(t, []any{1, 2}, args)
	})

	t.Run("casts and quotes untouched", func(t *testing.T) {
		sql, args, err := ExpandNamed("created_at::date = :day AND note <> ':day'", map[string]any{"day": "2024-01-01"})
		require.NoError(t, err)
		assert.Equal(t, "created_at::date = ? AND note <> ':day'", sql)
		assert.Equal(t, []any{"2024-01-01"}, args)
	})

	t.Run("list values widen", func(t *testing.T) {
		sql, args, err := ExpandNamed("id IN (:ids)", map[string]any{"ids": []int64{4, 5}})
		require.NoError(t, err)
		assert.Equal(t, "id IN (?, ?)", sql)
		assert.Equal(t, []any{int64(4), int64(5)}, args)
	})

	t.Run("missing name", func(t *testing.T) {
		_, _, err := ExpandNamed("a = :nope", map[string]any{})
		assert.ErrorIs(t, err, relormerrors.ErrMalformedNamedPlaceholder)
	})

	t.Run("bare colon", func(t *testing.T) {
		_, _, err := ExpandNamed("a = : b", map[string]any{})
		assert.ErrorIs(t, err, relormerrors.ErrMalformedNamedPlaceholder)
	})

	t.Run("mixed positional", func(t *testing.T) {
		_, _, err := ExpandNamed("a = ? AND b = :b", map[string]any{"b": 1})
		assert.ErrorIs(t, err, relormerrors.ErrMalformedNamedPlaceholder)
	})
}

func TestBuilder(t *testing.T) {
	b := NewBuilder()
	b.WriteString("SELECT * FROM posts").
		Clause("WHERE", "id = ? AND status = ?", 1, "draft").
		Clause("ORDER BY", "").
		Clause("LIMIT", "10")

	assert.Equal(t, "SELECT * FROM posts WHERE id = ? AND status = ? LIMIT 10", b.String())
	assert.Equal(t, []any{1, "draft"}, b.Args())
	assert.Equal(t, []any{}, NewBuilder().Args())
}
