package model_test

import (
	"strings"
	"testing"

	relormerrors "github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/model"
	"github.com/pay-theory/relorm/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blogSchema = `
types:
  - name: Author
    columns: [name]
    associations:
      - name: posts
        kind: has_many
        target: Post
        dependent: destroy
      - name: comments
        kind: has_many_through
        through: posts
  - name: Post
    columns: [author_id, title, state, deleted_at]
    default_scope:
      where: {deleted_at: null}
    scopes:
      published:
        where: {state: published}
        order: created_at desc
    associations:
      - name: author
        kind: belongs_to
        target: Author
      - name: comments
        kind: polymorphic_has_many
        target: Comment
        as: commentable
  - name: Comment
    columns: [commentable_id, commentable_type, body]
    associations:
      - name: commentable
        kind: polymorphic_belongs_to
`

func TestLoadSchema(t *testing.T) {
	registry := model.NewRegistry()
	require.NoError(t, registry.LoadSchemaReader(strings.NewReader(blogSchema)))

	post, err := registry.Type("Post")
	require.NoError(t, err)
	assert.Equal(t, "posts", post.Table)
	assert.Equal(t, []string{"id", "author_id", "title", "state", "deleted_at"}, post.Columns)

	sql, args, err := post.DefaultScope().Apply(query.New(post.Table)).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM posts WHERE deleted_at IS NULL", sql)
	assert.Empty(t, args)

	published, err := registry.Scope("Post", "published")
	require.NoError(t, err)
	sql, args, err = published.Apply(query.New("posts")).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM posts WHERE state = ? ORDER BY created_at DESC", sql)
	assert.Equal(t, []any{"published"}, args)

	_, err = registry.Scope("Post", "archived")
	assert.ErrorIs(t, err, relormerrors.ErrUnknownScope)

	through, err := registry.Association("Author", "comments")
	require.NoError(t, err)
	assert.Equal(t, model.HasManyThrough, through.Kind)
	assert.Equal(t, "posts", through.Through)

	comments, err := registry.Association("Post", "comments")
	require.NoError(t, err)
	assert.Equal(t, "commentable_type", comments.TypeColumn)
}

func TestLoadSchema_Invalid(t *testing.T) {
	cases := map[string]string{
		"not yaml":      "types: [",
		"missing types": "models: []",
		"unknown kind":  "types: [{name: A, associations: [{name: b, kind: has_few}]}]",
		"unknown field": "types: [{name: A, colour: red}]",
		"bad name":      "types: [{name: 'A B'}]",
		"bad dependent": "types: [{name: A, associations: [{name: b, kind: has_many, target: A, dependent: explode}]}]",
		"missing assoc": "types: [{name: A, associations: [{kind: has_many}]}]",
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			err := model.NewRegistry().LoadSchema([]byte(doc))
			assert.ErrorIs(t, err, relormerrors.ErrInvalidSchema)
		})
	}
}

func TestLoadSchema_RegistrationErrors(t *testing.T) {
	doc := "types: [{name: A, associations: [{name: b, kind: belongs_to, target: Missing}]}]"
	err := model.NewRegistry().LoadSchema([]byte(doc))
	assert.ErrorIs(t, err, relormerrors.ErrModelNotRegistered)
}
