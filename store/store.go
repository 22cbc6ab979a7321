// Package store provides the data-access capability for the book catalog:
// point lookups, exact-match filtered listings, counts, inserts with
// generated identifiers and updates by unique key, for books, authors and
// users. Implementations exist for MongoDB and for in-process memory.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies data-access failures so callers can map them to
// caller-facing errors without inspecting driver internals.
type Kind int

const (
	// KindNotFound means the referenced entity does not exist.
	KindNotFound Kind = iota
	// KindDuplicate means a uniqueness constraint was violated.
	KindDuplicate
	// KindValidation means the entity failed document validation.
	KindValidation
	// KindUnavailable means the store could not serve the request.
	KindUnavailable
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDuplicate:
		return "duplicate"
	case KindValidation:
		return "validation"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// DataAccessError is the uniform failure type returned by Store
// implementations. The original driver error is retained for diagnostics.
type DataAccessError struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *DataAccessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store.%s: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("store.%s: %s", e.Op, e.Detail)
}

// Unwrap returns the underlying driver error, if any.
func (e *DataAccessError) Unwrap() error {
	return e.Err
}

func dataErr(kind Kind, op, detail string, err error) *DataAccessError {
	return &DataAccessError{Kind: kind, Op: op, Detail: detail, Err: err}
}

// KindOf returns the kind of a data-access error and whether err is one.
func KindOf(err error) (Kind, bool) {
	var de *DataAccessError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return KindUnavailable, false
}

// IsNotFound reports whether err is a data-access not-found failure.
func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}

// IsDuplicate reports whether err is a uniqueness violation.
func IsDuplicate(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindDuplicate
}

// IsValidation reports whether err is a document validation failure.
func IsValidation(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindValidation
}

// Book is a catalog entry. AuthorID references an Author document.
type Book struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Published int32    `json:"published"`
	AuthorID  string   `json:"authorId"`
	Genres    []string `json:"genres"`
}

// Author is a book author. Born is nil when unknown.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Born *int32 `json:"born"`
}

// User is a registered account.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	FavoriteGenre string `json:"favoriteGenre"`
}

// BookFilter selects books by exact field match. Zero-value fields are
// ignored; setting both intersects them.
type BookFilter struct {
	// AuthorID filters to books written by the author with this ID.
	AuthorID string
	// Genre filters to books whose genre list contains this genre.
	Genre string
}

// Store is the data-access capability consumed by the resolvers. All
// methods honor context cancellation and return *DataAccessError on
// failure.
type Store interface {
	BookCount(ctx context.Context) (int32, error)
	AuthorCount(ctx context.Context) (int32, error)
	Books(ctx context.Context, filter BookFilter) ([]Book, error)
	BookCountByAuthor(ctx context.Context, authorID string) (int32, error)
	AddBook(ctx context.Context, book Book) (Book, error)

	Authors(ctx context.Context) ([]Author, error)
	AuthorByName(ctx context.Context, name string) (Author, error)
	AuthorByID(ctx context.Context, id string) (Author, error)
	AddAuthor(ctx context.Context, author Author) (Author, error)
	SetAuthorBorn(ctx context.Context, name string, born int32) (Author, error)

	UserByID(ctx context.Context, id string) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)
	AddUser(ctx context.Context, user User) (User, error)
}

// Document validation limits, enforced uniformly by all implementations.
const (
	minTitleLen    = 5
	minAuthorLen   = 4
	minUsernameLen = 3
)

func validateBook(b Book) error {
	if len(strings.TrimSpace(b.Title)) < minTitleLen {
		return dataErr(KindValidation, "AddBook",
			fmt.Sprintf("title must be at least %d characters", minTitleLen), nil)
	}
	if b.AuthorID == "" {
		return dataErr(KindValidation, "AddBook", "author reference is required", nil)
	}
	return nil
}

func validateAuthor(a Author) error {
	if len(strings.TrimSpace(a.Name)) < minAuthorLen {
		return dataErr(KindValidation, "AddAuthor",
			fmt.Sprintf("author name must be at least %d characters", minAuthorLen), nil)
	}
	return nil
}

func validateUser(u User) error {
	if len(strings.TrimSpace(u.Username)) < minUsernameLen {
		return dataErr(KindValidation, "AddUser",
			fmt.Sprintf("username must be at least %d characters", minUsernameLen), nil)
	}
	if u.FavoriteGenre == "" {
		return dataErr(KindValidation, "AddUser", "favorite genre is required", nil)
	}
	return nil
}
