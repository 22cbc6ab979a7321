package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Memory implements Store in process memory. It backs unit tests and
// brokerless development; it applies the same validation and uniqueness
// rules as the MongoDB implementation.
type Memory struct {
	mu      sync.RWMutex
	books   map[string]Book
	authors map[string]Author
	users   map[string]User
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		books:   make(map[string]Book),
		authors: make(map[string]Author),
		users:   make(map[string]User),
	}
}

// BookCount returns the number of books in the catalog.
func (m *Memory) BookCount(ctx context.Context) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, dataErr(KindUnavailable, "BookCount", "context done", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int32(len(m.books)), nil
}

// AuthorCount returns the number of authors in the catalog.
func (m *Memory) AuthorCount(ctx context.Context) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, dataErr(KindUnavailable, "AuthorCount", "context done", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int32(len(m.authors)), nil
}

// Books lists books matching the filter.
func (m *Memory) Books(ctx context.Context, filter BookFilter) ([]Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, dataErr(KindUnavailable, "Books", "context done", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	books := make([]Book, 0, len(m.books))
	for _, b := range m.books {
		if filter.AuthorID != "" && b.AuthorID != filter.AuthorID {
			continue
		}
		if filter.Genre != "" && !slices.Contains(b.Genres, filter.Genre) {
			continue
		}
		books = append(books, b)
	}
	return books, nil
}

// BookCountByAuthor counts books written by the given author.
func (m *Memory) BookCountByAuthor(ctx context.Context, authorID string) (int32, error) {
	books, err := m.Books(ctx, BookFilter{AuthorID: authorID})
	if err != nil {
		return 0, err
	}
	return int32(len(books)), nil
}

// AddBook inserts a book and returns it with a generated identifier.
func (m *Memory) AddBook(ctx context.Context, book Book) (Book, error) {
	if err := ctx.Err(); err != nil {
		return Book{}, dataErr(KindUnavailable, "AddBook", "context done", err)
	}
	if err := validateBook(book); err != nil {
		return Book{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.authors[book.AuthorID]; !ok {
		return Book{}, dataErr(KindNotFound, "AddBook",
			fmt.Sprintf("author %q", book.AuthorID), nil)
	}
	book.ID = uuid.NewString()
	m.books[book.ID] = book
	return book, nil
}

// Authors lists all authors.
func (m *Memory) Authors(ctx context.Context) ([]Author, error) {
	if err := ctx.Err(); err != nil {
		return nil, dataErr(KindUnavailable, "Authors", "context done", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	authors := make([]Author, 0, len(m.authors))
	for _, a := range m.authors {
		authors = append(authors, a)
	}
	return authors, nil
}

// AuthorByName looks up an author by exact name.
func (m *Memory) AuthorByName(ctx context.Context, name string) (Author, error) {
	if err := ctx.Err(); err != nil {
		return Author{}, dataErr(KindUnavailable, "AuthorByName", "context done", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.authors {
		if a.Name == name {
			return a, nil
		}
	}
	return Author{}, dataErr(KindNotFound, "AuthorByName", fmt.Sprintf("name %q", name), nil)
}

// AuthorByID looks up an author by identifier.
func (m *Memory) AuthorByID(ctx context.Context, id string) (Author, error) {
	if err := ctx.Err(); err != nil {
		return Author{}, dataErr(KindUnavailable, "AuthorByID", "context done", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.authors[id]
	if !ok {
		return Author{}, dataErr(KindNotFound, "AuthorByID", fmt.Sprintf("id %q", id), nil)
	}
	return a, nil
}

// AddAuthor inserts an author and returns it with a generated identifier.
func (m *Memory) AddAuthor(ctx context.Context, author Author) (Author, error) {
	if err := ctx.Err(); err != nil {
		return Author{}, dataErr(KindUnavailable, "AddAuthor", "context done", err)
	}
	if err := validateAuthor(author); err != nil {
		return Author{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.authors {
		if a.Name == author.Name {
			return Author{}, dataErr(KindDuplicate, "AddAuthor",
				fmt.Sprintf("name %q", author.Name), nil)
		}
	}
	author.ID = uuid.NewString()
	m.authors[author.ID] = author
	return author, nil
}

// SetAuthorBorn updates an author's birth year by unique name.
func (m *Memory) SetAuthorBorn(ctx context.Context, name string, born int32) (Author, error) {
	if err := ctx.Err(); err != nil {
		return Author{}, dataErr(KindUnavailable, "SetAuthorBorn", "context done", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, a := range m.authors {
		if a.Name == name {
			b := born
			a.Born = &b
			m.authors[id] = a
			return a, nil
		}
	}
	return Author{}, dataErr(KindNotFound, "SetAuthorBorn", fmt.Sprintf("name %q", name), nil)
}

// UserByID looks up a user by identifier.
func (m *Memory) UserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, dataErr(KindUnavailable, "UserByID", "context done", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, dataErr(KindNotFound, "UserByID", fmt.Sprintf("id %q", id), nil)
	}
	return u, nil
}

// UserByUsername looks up a user by exact username.
func (m *Memory) UserByUsername(ctx context.Context, username string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, dataErr(KindUnavailable, "UserByUsername", "context done", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, dataErr(KindNotFound, "UserByUsername", fmt.Sprintf("username %q", username), nil)
}

// AddUser inserts a user and returns it with a generated identifier.
func (m *Memory) AddUser(ctx context.Context, user User) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, dataErr(KindUnavailable, "AddUser", "context done", err)
	}
	if err := validateUser(user); err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return User{}, dataErr(KindDuplicate, "AddUser",
				fmt.Sprintf("username %q", user.Username), nil)
		}
	}
	user.ID = uuid.NewString()
	m.users[user.ID] = user
	return user, nil
}

// compile-time interface check
var _ Store = (*Memory)(nil)
