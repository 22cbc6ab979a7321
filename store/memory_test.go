package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCatalog(t *testing.T, m *Memory) (Author, Author) {
	t.Helper()
	ctx := context.Background()

	martin, err := m.AddAuthor(ctx, Author{Name: "Robert Martin"})
	require.NoError(t, err)
	fowler, err := m.AddAuthor(ctx, Author{Name: "Martin Fowler"})
	require.NoError(t, err)

	books := []Book{
		{Title: "Clean Code", Published: 2008, AuthorID: martin.ID, Genres: []string{"refactoring"}},
		{Title: "Agile software development", Published: 2002, AuthorID: martin.ID, Genres: []string{"agile", "design"}},
		{Title: "Refactoring, edition 2", Published: 2018, AuthorID: fowler.ID, Genres: []string{"refactoring"}},
	}
	for _, b := range books {
		_, err := m.AddBook(ctx, b)
		require.NoError(t, err)
	}
	return martin, fowler
}

func TestCounts(t *testing.T) {
	m := NewMemory()
	seedCatalog(t, m)
	ctx := context.Background()

	books, err := m.BookCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), books)

	authors, err := m.AuthorCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), authors)
}

func TestBooksFiltering(t *testing.T) {
	m := NewMemory()
	martin, _ := seedCatalog(t, m)
	ctx := context.Background()

	t.Run("no filter returns all", func(t *testing.T) {
		books, err := m.Books(ctx, BookFilter{})
		require.NoError(t, err)
		assert.Len(t, books, 3)
	})

	t.Run("author filter", func(t *testing.T) {
		books, err := m.Books(ctx, BookFilter{AuthorID: martin.ID})
		require.NoError(t, err)
		assert.Len(t, books, 2)
		for _, b := range books {
			assert.Equal(t, martin.ID, b.AuthorID)
		}
	})

	t.Run("genre filter", func(t *testing.T) {
		books, err := m.Books(ctx, BookFilter{Genre: "refactoring"})
		require.NoError(t, err)
		assert.Len(t, books, 2)
	})

	t.Run("author and genre intersect", func(t *testing.T) {
		books, err := m.Books(ctx, BookFilter{AuthorID: martin.ID, Genre: "refactoring"})
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, "Clean Code", books[0].Title)
	})

	t.Run("unknown genre yields empty", func(t *testing.T) {
		books, err := m.Books(ctx, BookFilter{Genre: "cooking"})
		require.NoError(t, err)
		assert.Empty(t, books)
	})
}

func TestBookCountByAuthor(t *testing.T) {
	m := NewMemory()
	martin, fowler := seedCatalog(t, m)
	ctx := context.Background()

	n, err := m.BookCountByAuthor(ctx, martin.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), n)

	n, err = m.BookCountByAuthor(ctx, fowler.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)
}

func TestAddBookValidation(t *testing.T) {
	m := NewMemory()
	martin, _ := seedCatalog(t, m)
	ctx := context.Background()

	t.Run("short title", func(t *testing.T) {
		_, err := m.AddBook(ctx, Book{Title: "ab", AuthorID: martin.ID})
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("unknown author", func(t *testing.T) {
		_, err := m.AddBook(ctx, Book{Title: "A perfectly fine title", AuthorID: "nope"})
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})

	t.Run("generated ids are distinct", func(t *testing.T) {
		b1, err := m.AddBook(ctx, Book{Title: "First title", AuthorID: martin.ID})
		require.NoError(t, err)
		b2, err := m.AddBook(ctx, Book{Title: "Second title", AuthorID: martin.ID})
		require.NoError(t, err)
		assert.NotEqual(t, b1.ID, b2.ID)
	})
}

func TestAuthorUniqueness(t *testing.T) {
	m := NewMemory()
	seedCatalog(t, m)
	ctx := context.Background()

	_, err := m.AddAuthor(ctx, Author{Name: "Robert Martin"})
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindDuplicate, kind)
}

func TestSetAuthorBorn(t *testing.T) {
	m := NewMemory()
	seedCatalog(t, m)
	ctx := context.Background()

	updated, err := m.SetAuthorBorn(ctx, "Robert Martin", 1952)
	require.NoError(t, err)
	require.NotNil(t, updated.Born)
	assert.Equal(t, int32(1952), *updated.Born)

	// persists
	again, err := m.AuthorByName(ctx, "Robert Martin")
	require.NoError(t, err)
	require.NotNil(t, again.Born)
	assert.Equal(t, int32(1952), *again.Born)

	_, err = m.SetAuthorBorn(ctx, "Nobody", 1900)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestUsers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	u, err := m.AddUser(ctx, User{Username: "kalle", FavoriteGenre: "refactoring"})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	byName, err := m.UserByUsername(ctx, "kalle")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	byID, err := m.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "kalle", byID.Username)

	t.Run("duplicate username", func(t *testing.T) {
		_, err := m.AddUser(ctx, User{Username: "kalle", FavoriteGenre: "agile"})
		require.Error(t, err)
		assert.True(t, IsDuplicate(err))
	})

	t.Run("short username", func(t *testing.T) {
		_, err := m.AddUser(ctx, User{Username: "ab", FavoriteGenre: "agile"})
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("missing favorite genre", func(t *testing.T) {
		_, err := m.AddUser(ctx, User{Username: "pekka"})
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := m.UserByID(ctx, "missing")
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})
}

func TestContextCancellation(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Books(ctx, BookFilter{})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindUnavailable, kind)
}
