package testing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/relorm/pkg/condition"
	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/model"
	relormtesting "github.com/pay-theory/relorm/pkg/testing"
)

type Author struct {
	ID   int64 `relorm:"pk"`
	Name string
}

type Book struct {
	ID       int64 `relorm:"pk"`
	AuthorID int64
	Title    string
}

func TestNewTestDB_MigrateAndQuery(t *testing.T) {
	db := relormtesting.NewTestDB(t)
	_, err := db.Registry.RegisterModel(&Author{})
	require.NoError(t, err)
	_, err = db.Registry.RegisterModel(&Book{})
	require.NoError(t, err)
	require.NoError(t, db.Registry.Register("Author", "books", model.HasMany, "Book", "", ""))

	db.Migrate(t)
	db.Run(t, `
INSERT INTO authors (id, name) VALUES (1, 'ann'), (2, 'bob');
INSERT INTO books (id, author_id, title) VALUES (1, 1, 'x'), (2, 1, 'y'), (3, 2, 'z');
`)

	authors, err := db.DB.Model(&Author{}).Includes("books").All(context.Background())
	require.NoError(t, err)
	require.Len(t, authors, 2)
	assert.Len(t, authors[0].Many("books"), 2)
	assert.Equal(t, []string{
		"SELECT * FROM authors",
		"SELECT * FROM books WHERE books.author_id IN (?, ?)",
	}, db.Statements())
	db.RequireQueries(t, 2)
	assert.Empty(t, db.Statements())
}

func TestNewMockDB(t *testing.T) {
	db, exec := relormtesting.NewMockDB(nil)
	exec.On("Query", mock.Anything, "SELECT * FROM books WHERE books.title = ?", []any{"x"}).
		Return([]core.Row{{"id": int64(1), "title": "x"}}, nil).Once()

	var books []Book
	require.NoError(t, db.Model(Book{}).Where(condition.Eq("books.title", "x")).Scan(context.Background(), &books))
	assert.Equal(t, []Book{{ID: 1, Title: "x"}}, books)
	exec.AssertExpectations(t)
}
