package model_test

import (
	"testing"
	"time"

	relormerrors "github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test models with various struct tag configurations

type Author struct {
	ID    int64 `relorm:"pk"`
	Name  string
	Posts []Post `relorm:"assoc"`
}

type Post struct {
	ID        int64
	AuthorID  int64
	Title     string `relorm:"column:headline"`
	CreatedAt time.Time
	Draft     string  `relorm:"-"`
	Author    *Author `relorm:"assoc"`
	internal  string
}

type Membership struct {
	UserID  int64 `relorm:"pk"`
	GroupID int64 `relorm:"pk"`
	Role    string
}

type LegacyWidget struct {
	ID int64
}

func (LegacyWidget) TableName() string { return "tbl_widgets" }

type NoKey struct {
	Name string
}

type BadTag struct {
	ID   int64
	Name string `relorm:"index"`
}

func TestRegisterModel(t *testing.T) {
	registry := model.NewRegistry()

	typ, err := registry.RegisterModel(&Post{})
	require.NoError(t, err)

	assert.Equal(t, "Post", typ.Name)
	assert.Equal(t, "posts", typ.Table)
	assert.Equal(t, []string{"id"}, typ.PrimaryKey)
	assert.Equal(t, []string{"id", "author_id", "headline", "created_at"}, typ.Columns)

	field, ok := typ.Field("headline")
	require.True(t, ok)
	assert.Equal(t, "Title", field.Name)

	assocField, ok := typ.AssociationField("author")
	require.True(t, ok)
	assert.Equal(t, "Author", assocField.Name)
	assert.False(t, typ.HasColumn("draft"))

	again, err := registry.RegisterModel(Post{})
	require.NoError(t, err)
	assert.Same(t, typ, again)

	found, err := registry.TypeOf([]*Post{})
	require.NoError(t, err)
	assert.Same(t, typ, found)
}

func TestRegisterModel_CompositeAndCustomTable(t *testing.T) {
	registry := model.NewRegistry()

	typ, err := registry.RegisterModel(&Membership{})
	require.NoError(t, err)
	assert.Equal(t, []string{"user_id", "group_id"}, typ.PrimaryKey)
	assert.Equal(t, "memberships", typ.Table)

	typ, err = registry.RegisterModel(&LegacyWidget{})
	require.NoError(t, err)
	assert.Equal(t, "tbl_widgets", typ.Table)

	byTable, err := registry.TypeByTable("tbl_widgets")
	require.NoError(t, err)
	assert.Same(t, typ, byTable)
}

func TestRegisterModel_Errors(t *testing.T) {
	registry := model.NewRegistry()

	_, err := registry.RegisterModel(&NoKey{})
	assert.ErrorIs(t, err, relormerrors.ErrMissingPrimaryKey)

	_, err = registry.RegisterModel(&BadTag{})
	assert.ErrorIs(t, err, relormerrors.ErrInvalidTag)

	_, err = registry.RegisterModel("not a struct")
	assert.ErrorIs(t, err, relormerrors.ErrInvalidModel)

	_, err = registry.RegisterModel(nil)
	assert.ErrorIs(t, err, relormerrors.ErrInvalidModel)

	_, err = registry.Type("Missing")
	assert.ErrorIs(t, err, relormerrors.ErrModelNotRegistered)
}

func TestDefineType(t *testing.T) {
	registry := model.NewRegistry()

	typ, err := registry.DefineType(model.Definition{Name: "Person", Columns: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, "people", typ.Table)
	assert.Equal(t, []string{"id", "name"}, typ.Columns)
	assert.Equal(t, "people.name", typ.Qualified("name"))

	_, err = registry.DefineType(model.Definition{Name: "Person"})
	assert.ErrorIs(t, err, relormerrors.ErrInvalidModel)

	_, err = registry.DefineType(model.Definition{Name: "Other", Table: "people"})
	assert.ErrorIs(t, err, relormerrors.ErrInvalidModel)

	_, err = registry.DefineType(model.Definition{Name: "Evil", Table: "x; DROP TABLE y"})
	assert.ErrorIs(t, err, relormerrors.ErrInvalidModel)
}

func newBlog(t *testing.T) *model.Registry {
	t.Helper()
	registry := model.NewRegistry()
	for _, def := range []model.Definition{
		{Name: "Author", Columns: []string{"name"}},
		{Name: "Post", Columns: []string{"author_id", "title"}},
		{Name: "Comment", Columns: []string{"commentable_id", "commentable_type", "body"}},
		{Name: "Tag", Columns: []string{"name"}},
		{Name: "Photo", Columns: []string{"url"}},
	} {
		_, err := registry.DefineType(def)
		require.NoError(t, err)
	}
	return registry
}

func TestRegister_Defaults(t *testing.T) {
	registry := newBlog(t)

	require.NoError(t, registry.Register("Post", "author", model.BelongsTo, "Author", "", ""))
	require.NoError(t, registry.Register("Author", "posts", model.HasMany, "Post", "", "", model.WithDependent(model.DependentDestroy)))
	require.NoError(t, registry.Register("Post", "comments", model.PolymorphicHasMany, "Comment", "", "", model.As("commentable")))
	require.NoError(t, registry.Register("Comment", "commentable", model.PolymorphicBelongsTo, "", "", ""))
	require.NoError(t, registry.Register("Post", "tags", model.HasAndBelongsToMany, "Tag", "", ""))
	require.NoError(t, registry.Register("Author", "comments", model.HasManyThrough, "", "", "", model.Through("posts")))

	author, err := registry.Association("Post", "author")
	require.NoError(t, err)
	assert.Equal(t, "author_id", author.LocalKey)
	assert.Equal(t, "id", author.ForeignKey)
	assert.False(t, author.Kind.Collection())

	posts, err := registry.Association("Author", "posts")
	require.NoError(t, err)
	assert.Equal(t, "id", posts.LocalKey)
	assert.Equal(t, "author_id", posts.ForeignKey)
	assert.Equal(t, model.DependentDestroy, posts.Dependent)
	assert.True(t, posts.Kind.Collection())

	comments, err := registry.Association("Post", "comments")
	require.NoError(t, err)
	assert.Equal(t, "commentable_id", comments.ForeignKey)
	assert.Equal(t, "commentable_type", comments.TypeColumn)
	assert.True(t, comments.Polymorphic())

	commentable, err := registry.Association("Comment", "commentable")
	require.NoError(t, err)
	assert.Equal(t, "commentable_id", commentable.LocalKey)
	assert.Equal(t, "commentable_type", commentable.TypeColumn)
	assert.Empty(t, commentable.Target)

	tags, err := registry.Association("Post", "tags")
	require.NoError(t, err)
	assert.Equal(t, "posts_tags", tags.JoinTable)
	assert.Equal(t, "post_id", tags.ForeignKey)
	assert.Equal(t, "tag_id", tags.AssociationForeignKey)

	typ, err := registry.Type("Post")
	require.NoError(t, err)
	names := []string{}
	for _, a := range typ.Associations() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"author", "comments", "tags"}, names)
}

func TestRegister_Errors(t *testing.T) {
	registry := newBlog(t)
	require.NoError(t, registry.Register("Post", "author", model.BelongsTo, "Author", "", ""))

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"duplicate", registry.Register("Post", "author", model.BelongsTo, "Author", "", ""), relormerrors.ErrDuplicateAssociation},
		{"missing owner", registry.Register("Nope", "x", model.HasMany, "Post", "", ""), relormerrors.ErrModelNotRegistered},
		{"missing target", registry.Register("Post", "x", model.HasMany, "Nope", "", ""), relormerrors.ErrModelNotRegistered},
		{"no target", registry.Register("Post", "x", model.HasMany, "", "", ""), relormerrors.ErrInvalidAssociation},
		{"bad kind", registry.Register("Post", "x", model.Kind(42), "Tag", "", ""), relormerrors.ErrInvalidAssociation},
		{"unknown through", registry.Register("Post", "x", model.HasManyThrough, "", "", "", model.Through("nope")), relormerrors.ErrUnknownAssociation},
		{"polymorphic without key", registry.Register("Post", "x", model.PolymorphicHasMany, "Comment", "", ""), relormerrors.ErrInvalidAssociation},
		{"unsafe key", registry.Register("Post", "x", model.BelongsTo, "Author", "a;b", ""), relormerrors.ErrInvalidAssociation},
		{"source without through", registry.Register("Post", "x", model.HasMany, "Tag", "", "", model.Source("y")), relormerrors.ErrInvalidAssociation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.err, tc.want)
		})
	}

	_, err := registry.Association("Post", "missing")
	var unknown *relormerrors.UnknownAssociationError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "missing", unknown.Name)
	assert.Equal(t, "Post", unknown.Parent)
}

func TestParseKind(t *testing.T) {
	k, err := model.ParseKind("HABTM")
	require.NoError(t, err)
	assert.Equal(t, model.HasAndBelongsToMany, k)

	k, err = model.ParseKind(" polymorphic_belongs_to ")
	require.NoError(t, err)
	assert.Equal(t, model.PolymorphicBelongsTo, k)
	assert.Equal(t, "polymorphic_belongs_to", k.String())

	_, err = model.ParseKind("has_few")
	assert.ErrorIs(t, err, relormerrors.ErrInvalidAssociation)
}
