package query_test

import (
	"testing"

	"github.com/pay-theory/relorm/pkg/condition"
	"github.com/pay-theory/relorm/pkg/dialect"
	relormerrors "github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toSQL(t *testing.T, q *query.Query) (string, []any) {
	t.Helper()
	sql, args, err := q.ToSQL()
	require.NoError(t, err)
	return sql, args
}

func TestQuery_BasicQuery(t *testing.T) {
	sql, args := toSQL(t, query.New("posts"))
	assert.Equal(t, "SELECT * FROM posts", sql)
	assert.Empty(t, args)
}

func TestQuery_ClauseOrder(t *testing.T) {
	q := query.New("posts").
		Limit(10).
		OrderBy("created_at desc").
		Having(condition.Raw("COUNT(comments.id) > ?", 1)).
		Group("posts.id").
		Where(condition.Eq("posts.state", "published")).
		Joins(query.Join{Table: "comments", On: condition.ColumnsEqual("comments.post_id", "posts.id")}).
		Select("posts.id, COUNT(comments.id) AS n").
		Offset(20)

	sql, args := toSQL(t, q)
	assert.Equal(t,
		"SELECT posts.id, COUNT(comments.id) AS n FROM posts INNER JOIN comments ON comments.post_id = posts.id"+
			" WHERE posts.state = ? GROUP BY posts.id HAVING (COUNT(comments.id) > ?) ORDER BY created_at DESC LIMIT ? OFFSET ?",
		sql)
	assert.Equal(t, []any{"published", 1, 10, 20}, args)
}

func TestQuery_ChainOrderIndependent(t *testing.T) {
	a := query.New("posts").OrderBy("id").Where(condition.Eq("state", "x"))
	b := query.New("posts").Where(condition.Eq("state", "x")).OrderBy("id")

	sqlA, argsA := toSQL(t, a)
	sqlB, argsB := toSQL(t, b)
	assert.Equal(t, sqlA, sqlB)
	assert.Equal(t, argsA, argsB)
}

func TestQuery_Immutable(t *testing.T) {
	base := query.New("posts").Where(condition.Eq("a", 1))
	derived := base.Where(condition.Eq("b", 2)).Or(condition.Eq("c", 3)).OrderBy("id")
	_ = base.Where(condition.Eq("z", 9))

	sql, args := toSQL(t, base)
	assert.Equal(t, "SELECT * FROM posts WHERE a = ?", sql)
	assert.Equal(t, []any{1}, args)

	sql, args = toSQL(t, derived)
	assert.Equal(t, "SELECT * FROM posts WHERE (a = ? AND b = ?) OR (c = ?) ORDER BY id ASC", sql)
	assert.Equal(t, []any{1, 2, 3}, args)
}

func TestQuery_OrGroups(t *testing.T) {
	q := query.New("posts").
		Where(condition.Eq("a", 1)).
		Or(condition.Eq("c", 3)).
		Or(condition.Eq("d", 4), condition.Eq("e", 5))
	sql, args := toSQL(t, q)
	assert.Equal(t, "SELECT * FROM posts WHERE (a = ?) OR (c = ?) OR (d = ? AND e = ?)", sql)
	assert.Equal(t, []any{1, 3, 4, 5}, args)

	narrowed := q.Narrow(condition.Gt("id", 7))
	sql, args = toSQL(t, narrowed)
	assert.Equal(t, "SELECT * FROM posts WHERE (a = ? OR c = ? OR (d = ? AND e = ?)) AND id > ?", sql)
	assert.Equal(t, []any{1, 3, 4, 5, 7}, args)
	assert.Empty(t, narrowed.OrGroups())
}

func TestQuery_WhereNot(t *testing.T) {
	sql, args := toSQL(t, query.New("posts").WhereNot(condition.Eq("state", "draft"), condition.Eq("id", []int{1, 2})))
	assert.Equal(t, "SELECT * FROM posts WHERE NOT (state = ?) AND NOT (id IN (?, ?))", sql)
	assert.Equal(t, []any{"draft", 1, 2}, args)
}

func TestQuery_Select(t *testing.T) {
	cases := []struct {
		name  string
		input []string
		want  string
	}{
		{"comma list", []string{"id, title"}, "SELECT id, title FROM posts"},
		{"repeated separators", []string{" id ,, title ,"}, "SELECT id, title FROM posts"},
		{"list input", []string{" id", "", "title "}, "SELECT id, title FROM posts"},
		{"function commas kept", []string{"COALESCE(title, 'x,y') AS t, id"}, "SELECT COALESCE(title, 'x,y') AS t, id FROM posts"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sql, _ := toSQL(t, query.New("posts").Select(tc.input...))
			assert.Equal(t, tc.want, sql)
		})
	}

	for _, bad := range [][]string{{""}, {" , ,"}, {}, {"id; DROP TABLE posts"}} {
		_, _, err := query.New("posts").Select(bad...).ToSQL()
		assert.ErrorIs(t, err, relormerrors.ErrInvalidSelectClause, bad)
	}

	sql, _ := toSQL(t, query.New("posts").Select("id").Reselect("title").Distinct())
	assert.Equal(t, "SELECT DISTINCT title FROM posts", sql)
}

func TestQuery_JoinsProjectRootTable(t *testing.T) {
	q := query.New("posts").Joins(query.Join{
		Type:  query.LeftJoin,
		Table: "users",
		Alias: "authors",
		On:    condition.And(condition.ColumnsEqual("authors.id", "posts.author_id"), condition.Eq("authors.kind", "Author")),
	})
	sql, args := toSQL(t, q)
	assert.Equal(t, "SELECT posts.* FROM posts LEFT OUTER JOIN users authors ON authors.id = posts.author_id AND authors.kind = ?", sql)
	assert.Equal(t, []any{"Author"}, args)
	assert.True(t, q.HasJoin("AUTHORS"))
	assert.False(t, q.HasJoin("users"))
}

func TestQuery_Build(t *testing.T) {
	q := query.New("posts").Where(condition.Eq("a", 1), condition.In("b", 2, 3)).Limit(5)

	sql, args, err := q.Build(dialect.Dollar{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM posts WHERE a = $1 AND b IN ($2, $3) LIMIT $4", sql)
	assert.Equal(t, []any{1, 2, 3, 5}, args)

	sql, _, err = q.Build(nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM posts WHERE a = ? AND b IN (?, ?) LIMIT ?", sql)
}

func TestQuery_CountSQL(t *testing.T) {
	sql, args, err := query.New("posts").Where(condition.Eq("a", 1)).OrderBy("id").CountSQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM posts WHERE a = ?", sql)
	assert.Equal(t, []any{1}, args)

	sql, args, err = query.New("posts").Limit(3).OrderBy("id").CountSQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM (SELECT * FROM posts LIMIT ?) relorm_count", sql)
	assert.Equal(t, []any{3}, args)
}

func TestQuery_Except(t *testing.T) {
	q := query.New("posts").Where(condition.Eq("a", 1)).OrderBy("id desc").Limit(2).Offset(4)
	stripped := q.Except(query.ClauseOrder, query.ClauseLimit, query.ClauseOffset)

	sql, args := toSQL(t, stripped)
	assert.Equal(t, "SELECT * FROM posts WHERE a = ?", sql)
	assert.Equal(t, []any{1}, args)
	assert.True(t, q.Ordered())
	assert.False(t, stripped.Ordered())

	_, hasLimit := stripped.LimitValue()
	assert.False(t, hasLimit)
}

func TestQuery_Order(t *testing.T) {
	terms, err := query.ParseOrder("title, created_at DESC", "LOWER(name) asc")
	require.NoError(t, err)
	assert.Equal(t, []query.OrderTerm{
		{Column: "title", Direction: query.Asc},
		{Column: "created_at", Direction: query.Desc},
		{Column: "LOWER(name)", Direction: query.Asc},
	}, terms)

	sql, _ := toSQL(t, query.New("posts").OrderBy("id").Reorder("title desc"))
	assert.Equal(t, "SELECT * FROM posts ORDER BY title DESC", sql)

	assert.Error(t, query.New("posts").Order("id", "sideways").Err())
	assert.Equal(t, query.Asc, query.Desc.Reverse())
}

func TestQuery_Errors(t *testing.T) {
	cases := []struct {
		name string
		q    *query.Query
		want error
	}{
		{"empty in", query.New("posts").Where(condition.In("id")), relormerrors.ErrEmptySetCondition},
		{"or empty in", query.New("posts").Or(condition.NotIn("id", []int{})), relormerrors.ErrEmptySetCondition},
		{"bad table", query.New("posts; --"), relormerrors.ErrInvalidIdentifier},
		{"negative limit", query.New("posts").Limit(-1), relormerrors.ErrInvalidPagination},
		{"first error wins", query.New("posts").Select("").Where(condition.In("id")), relormerrors.ErrInvalidSelectClause},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sql, args, err := tc.q.ToSQL()
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, sql)
			assert.Nil(t, args)
		})
	}
}

func TestQuery_ReferencedTables(t *testing.T) {
	q := query.New("posts").
		Where(condition.Eq("posts.id", 1)).
		Or(condition.Raw("comments.body LIKE ?", "%x%")).
		Having(condition.Gt("tags.count", 1)).
		References("Authors")

	assert.Equal(t, []string{"authors", "posts", "comments", "tags"}, q.ReferencedTables())
	assert.True(t, q.ReferencesTable("Comments"))
	assert.False(t, q.ReferencesTable("users"))
}
