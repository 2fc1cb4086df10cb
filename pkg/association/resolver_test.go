package association_test

import (
	"testing"

	"github.com/pay-theory/relorm/pkg/association"
	"github.com/pay-theory/relorm/pkg/condition"
	relormerrors "github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/model"
	"github.com/pay-theory/relorm/pkg/query"
	"github.com/pay-theory/relorm/pkg/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func define(t *testing.T, registry *model.Registry, defs ...model.Definition) {
	t.Helper()
	for _, def := range defs {
		_, err := registry.DefineType(def)
		require.NoError(t, err)
	}
}

func register(t *testing.T, registry *model.Registry, owner, name string, kind model.Kind, target string, opts ...model.Option) {
	t.Helper()
	require.NoError(t, registry.Register(owner, name, kind, target, "", "", opts...))
}

// blog builds Author, Post, Comment, Tag and Photo with every association kind
func blog(t *testing.T) *model.Registry {
	t.Helper()
	registry := model.NewRegistry()
	define(t, registry,
		model.Definition{Name: "Author", Columns: []string{"name"}},
		model.Definition{Name: "Post", Columns: []string{"author_id", "title"}},
		model.Definition{Name: "Comment", Columns: []string{"post_id", "author_id", "body"}},
		model.Definition{Name: "Tag", Columns: []string{"name"}},
		model.Definition{Name: "Photo", Columns: []string{"url"}},
		model.Definition{Name: "Like", Columns: []string{"likeable_id", "likeable_type"}},
	)
	register(t, registry, "Author", "posts", model.HasMany, "Post")
	register(t, registry, "Post", "author", model.BelongsTo, "Author")
	register(t, registry, "Post", "comments", model.HasMany, "Comment")
	register(t, registry, "Post", "tags", model.HasAndBelongsToMany, "Tag")
	register(t, registry, "Post", "likes", model.PolymorphicHasMany, "Like", model.As("likeable"))
	register(t, registry, "Comment", "post", model.BelongsTo, "Post")
	register(t, registry, "Comment", "author", model.BelongsTo, "Author")
	register(t, registry, "Author", "comments", model.HasManyThrough, "", model.Through("posts"))
	register(t, registry, "Like", "likeable", model.PolymorphicBelongsTo, "")
	register(t, registry, "Like", "photo", model.PolymorphicBelongsTo, "Photo", model.Polymorphic("likeable_type"), func(a *model.Association) {
		a.LocalKey = "likeable_id"
	})
	return registry
}

func render(t *testing.T, q *query.Query) (string, []any) {
	t.Helper()
	sql, args, err := q.ToSQL()
	require.NoError(t, err)
	return sql, args
}

func TestResolve_NestedOrder(t *testing.T) {
	registry := model.NewRegistry()
	define(t, registry,
		model.Definition{Name: "R", Table: "r"},
		model.Definition{Name: "A", Table: "a", Columns: []string{"r_id"}},
		model.Definition{Name: "B", Table: "b", Columns: []string{"a_id"}},
		model.Definition{Name: "C", Table: "c", Columns: []string{"a_id"}},
		model.Definition{Name: "D", Table: "d", Columns: []string{"c_id"}},
	)
	register(t, registry, "R", "a", model.HasMany, "A")
	register(t, registry, "A", "b", model.HasMany, "B")
	register(t, registry, "A", "c", model.HasMany, "C")
	register(t, registry, "C", "d", model.HasMany, "D")

	specs, err := association.Parse(map[string]any{"a": []any{"b", map[string]any{"c": "d"}}})
	require.NoError(t, err)
	assert.Equal(t, "a(b, c(d))", specs[0].String())

	joins, err := association.NewResolver(registry).Resolve("R", query.InnerJoin, specs...)
	require.NoError(t, err)
	require.Len(t, joins, 4)

	want := []struct{ table, on string }{
		{"a", "a.r_id = r.id"},
		{"b", "b.a_id = a.id"},
		{"c", "c.a_id = a.id"},
		{"d", "d.c_id = c.id"},
	}
	for i, w := range want {
		assert.Equal(t, w.table, joins[i].Table)
		on, _, err := joins[i].On.Render()
		require.NoError(t, err)
		assert.Equal(t, w.on, on)
	}
}

func TestJoin_Kinds(t *testing.T) {
	registry := blog(t)
	resolver := association.NewResolver(registry)

	cases := []struct {
		name string
		root string
		spec any
		sql  string
		args []any
	}{
		{
			name: "belongs to",
			root: "Post",
			spec: "author",
			sql:  "SELECT posts.* FROM posts INNER JOIN authors ON authors.id = posts.author_id",
			args: []any{},
		},
		{
			name: "has many and siblings",
			root: "Post",
			spec: []string{"comments", "author"},
			sql:  "SELECT posts.* FROM posts INNER JOIN comments ON comments.post_id = posts.id INNER JOIN authors ON authors.id = posts.author_id",
			args: []any{},
		},
		{
			name: "habtm",
			root: "Post",
			spec: "tags",
			sql:  "SELECT posts.* FROM posts INNER JOIN posts_tags ON posts_tags.post_id = posts.id INNER JOIN tags ON tags.id = posts_tags.tag_id",
			args: []any{},
		},
		{
			name: "polymorphic has many",
			root: "Post",
			spec: "likes",
			sql:  "SELECT posts.* FROM posts INNER JOIN likes ON likes.likeable_id = posts.id AND likes.likeable_type = ?",
			args: []any{"Post"},
		},
		{
			name: "polymorphic belongs to with target",
			root: "Like",
			spec: "photo",
			sql:  "SELECT likes.* FROM likes INNER JOIN photos ON photos.id = likes.likeable_id AND likes.likeable_type = ?",
			args: []any{"Photo"},
		},
		{
			name: "through",
			root: "Author",
			spec: "comments",
			sql:  "SELECT authors.* FROM authors INNER JOIN posts ON posts.author_id = authors.id INNER JOIN comments ON comments.post_id = posts.id",
			args: []any{},
		},
		{
			name: "self reference is aliased",
			root: "Post",
			spec: map[string]any{"comments": "post"},
			sql:  "SELECT posts.* FROM posts INNER JOIN comments ON comments.post_id = posts.id INNER JOIN posts posts_comments ON posts_comments.id = comments.post_id",
			args: []any{},
		},
		{
			name: "repeated table is aliased by association",
			root: "Post",
			spec: map[string]any{"author": []any{}, "comments": "author"},
			sql: "SELECT posts.* FROM posts INNER JOIN authors ON authors.id = posts.author_id" +
				" INNER JOIN comments ON comments.post_id = posts.id INNER JOIN authors authors_comments ON authors_comments.id = comments.author_id",
			args: []any{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			typ, err := registry.Type(tc.root)
			require.NoError(t, err)
			q, err := resolver.Join(query.New(typ.Table), tc.root, query.InnerJoin, tc.spec)
			require.NoError(t, err)
			sql, args := render(t, q)
			assert.Equal(t, tc.sql, sql)
			assert.Equal(t, tc.args, args)
		})
	}
}

func TestJoin_LeftJoinAndExistingJoins(t *testing.T) {
	resolver := association.NewResolver(blog(t))

	q := query.New("posts").Joins(query.Join{Table: "authors", On: condition.ColumnsEqual("authors.id", "posts.author_id")})
	q, err := resolver.Join(q, "Post", query.LeftJoin, "author")
	require.NoError(t, err)

	sql, _ := render(t, q)
	assert.Equal(t, "SELECT posts.* FROM posts INNER JOIN authors ON authors.id = posts.author_id"+
		" LEFT OUTER JOIN authors authors_posts ON authors_posts.id = posts.author_id", sql)
}

func TestJoin_TargetDefaultScope(t *testing.T) {
	registry := blog(t)
	require.NoError(t, registry.SetDefaultScope("Comment", scope.Where(condition.Eq("body", "ok"))))
	require.NoError(t, registry.SetDefaultScope("Post", scope.Where(condition.Eq("posts.title", "live"))))
	resolver := association.NewResolver(registry)

	q, err := resolver.Join(query.New("posts"), "Post", query.InnerJoin, map[string]any{"comments": "post"})
	require.NoError(t, err)

	sql, args := render(t, q)
	assert.Equal(t, "SELECT posts.* FROM posts"+
		" INNER JOIN comments ON comments.post_id = posts.id AND comments.body = ?"+
		" INNER JOIN posts posts_comments ON posts_comments.id = comments.post_id AND posts_comments.title = ?", sql)
	assert.Equal(t, []any{"ok", "live"}, args)

	_, err = resolver.Join(query.New("posts"), "Post", query.InnerJoin, "author")
	require.NoError(t, err)
}

func TestResolve_Errors(t *testing.T) {
	resolver := association.NewResolver(blog(t))

	_, err := resolver.Resolve("Post", query.InnerJoin, association.Spec{Name: "editor"})
	var unknown *relormerrors.UnknownAssociationError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "editor", unknown.Name)
	assert.Equal(t, "Post", unknown.Parent)

	specs, err := association.Parse(map[string]any{"comments": []string{"author", "reactions"}})
	require.NoError(t, err)
	joins, err := resolver.Resolve("Post", query.InnerJoin, specs...)
	require.ErrorAs(t, err, &unknown)
	assert.Nil(t, joins)
	assert.Equal(t, "reactions", unknown.Name)
	assert.Equal(t, "Comment", unknown.Parent)
	assert.Equal(t, []string{"comments"}, unknown.Path)

	_, err = resolver.Resolve("Like", query.InnerJoin, association.Spec{Name: "likeable"})
	assert.ErrorIs(t, err, relormerrors.ErrPolymorphicJoin)

	_, err = resolver.Resolve("Nope", query.InnerJoin, association.Spec{Name: "x"})
	assert.ErrorIs(t, err, relormerrors.ErrModelNotRegistered)

	_, err = association.Parse(42)
	assert.ErrorIs(t, err, relormerrors.ErrInvalidAssociation)

	_, err = association.Parse([]string{"ok", " "})
	assert.ErrorIs(t, err, relormerrors.ErrInvalidAssociation)
}

func TestSourceOf(t *testing.T) {
	registry := blog(t)
	post, err := registry.Type("Post")
	require.NoError(t, err)

	src, err := association.SourceOf(post, model.Association{Name: "comments"})
	require.NoError(t, err)
	assert.Equal(t, "comments", src.Name)

	src, err = association.SourceOf(post, model.Association{Name: "authors"})
	require.NoError(t, err)
	assert.Equal(t, "author", src.Name)

	_, err = association.SourceOf(post, model.Association{Name: "x", Source: "missing"})
	assert.ErrorIs(t, err, relormerrors.ErrUnknownAssociation)
}
