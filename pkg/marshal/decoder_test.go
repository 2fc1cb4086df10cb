package marshal_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/relorm/pkg/core"
	relormerrors "github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/marshal"
	"github.com/pay-theory/relorm/pkg/model"
)

type Author struct {
	ID    int64
	Name  string
	Posts []Post `relorm:"assoc"`
}

type Post struct {
	ID        int64
	AuthorID  int
	Title     string `relorm:"column:headline"`
	Score     float64
	Published bool
	CreatedAt time.Time
	Summary   *string
	Note      sql.NullString
	Author    *Author `relorm:"assoc"`
	Tags      []*Tag  `relorm:"assoc"`
}

type Tag struct {
	ID   int64
	Name string
}

type Like struct {
	ID       int64
	Likeable any `relorm:"assoc"`
}

func TestDecoder_ColumnsAndConversions(t *testing.T) {
	registry := model.NewRegistry()
	_, err := registry.RegisterModel(&Post{})
	require.NoError(t, err)
	decoder := marshal.NewDecoder(registry)

	record := core.NewRecord("Post", core.Row{
		"id":         int64(7),
		"author_id":  int64(3),
		"headline":   []byte("hello"),
		"score":      "4.5",
		"published":  int64(1),
		"created_at": "2024-05-01 12:30:00",
		"summary":    "short",
		"note":       nil,
		"ignored":    "x",
	})

	var post Post
	require.NoError(t, decoder.Decode(record, &post))
	assert.Equal(t, int64(7), post.ID)
	assert.Equal(t, 3, post.AuthorID)
	assert.Equal(t, "hello", post.Title)
	assert.Equal(t, 4.5, post.Score)
	assert.True(t, post.Published)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC), post.CreatedAt)
	require.NotNil(t, post.Summary)
	assert.Equal(t, "short", *post.Summary)
	assert.False(t, post.Note.Valid)
}

func TestDecoder_Associations(t *testing.T) {
	decoder := marshal.NewDecoder(nil)

	author := core.NewRecord("Author", core.Row{"id": int64(1), "name": "ann"})
	first := core.NewRecord("Post", core.Row{"id": int64(1), "author_id": int64(1), "headline": "a"})
	second := core.NewRecord("Post", core.Row{"id": int64(2), "author_id": int64(1), "headline": "b"})
	first.SetOne("author", author)
	first.SetMany("tags", []*core.Record{core.NewRecord("Tag", core.Row{"id": int64(9), "name": "go"})})
	second.SetOne("author", nil)
	second.SetMany("tags", nil)
	author.SetMany("posts", []*core.Record{first, second})

	var authors []Author
	require.NoError(t, decoder.Map([]*core.Record{author}, &authors))
	require.Len(t, authors, 1)
	require.Len(t, authors[0].Posts, 2)
	assert.Equal(t, "a", authors[0].Posts[0].Title)

	loaded := authors[0].Posts[0]
	require.NotNil(t, loaded.Author)
	assert.Equal(t, "ann", loaded.Author.Name)
	require.Len(t, loaded.Tags, 1)
	assert.Equal(t, "go", loaded.Tags[0].Name)

	empty := authors[0].Posts[1]
	assert.Nil(t, empty.Author)
	assert.NotNil(t, empty.Tags)
	assert.Empty(t, empty.Tags)
}

func TestDecoder_PolymorphicFieldReceivesRecord(t *testing.T) {
	like := core.NewRecord("Like", core.Row{"id": int64(1)})
	photo := core.NewRecord("Photo", core.Row{"id": int64(4)})
	like.SetOne("likeable", photo)

	var out []*Like
	require.NoError(t, marshal.NewDecoder(nil).Map([]*core.Record{like}, &out))
	require.Len(t, out, 1)
	assert.Same(t, photo, out[0].Likeable)
}

func TestDecoder_Destinations(t *testing.T) {
	decoder := marshal.NewDecoder(nil)
	records := []*core.Record{core.NewRecord("Tag", core.Row{"id": int64(1), "name": "go"})}

	var ptr *Tag
	require.NoError(t, decoder.Map(records, &ptr))
	require.NotNil(t, ptr)
	assert.Equal(t, "go", ptr.Name)

	untouched := Tag{Name: "keep"}
	require.NoError(t, decoder.Map(nil, &untouched))
	assert.Equal(t, "keep", untouched.Name)

	var none []Tag
	require.NoError(t, decoder.Map(nil, &none))
	assert.NotNil(t, none)
	assert.Empty(t, none)

	assert.ErrorIs(t, decoder.Map(records, Tag{}), relormerrors.ErrInvalidModel)
	var n int
	assert.ErrorIs(t, decoder.Map(records, &n), relormerrors.ErrInvalidModel)
}

func TestDecoder_ConversionError(t *testing.T) {
	record := core.NewRecord("Tag", core.Row{"id": "abc"})
	var tag Tag
	err := marshal.NewDecoder(nil).Decode(record, &tag)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column id")
}

func TestDecoder_ImplementsMapper(t *testing.T) {
	var _ core.Mapper = marshal.NewDecoder(nil)
}
