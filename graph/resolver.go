// Package graph compiles the catalog's GraphQL schema and dispatches its
// resolvers. The compiled schema is immutable and shared by the HTTP and
// subscription transports; per-request identity arrives through the
// execution context built by the gateway.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	graphql "github.com/graph-gophers/graphql-go"

	"github.com/libraria/libraria/auth"
	"github.com/libraria/libraria/errors"
	"github.com/libraria/libraria/pubsub"
	"github.com/libraria/libraria/store"
)

// placeholderPassword is the shared login secret. Credential storage is
// out of scope for this service; real password handling lives upstream.
const placeholderPassword = "123"

// Resolver is the root resolver shared by queries, mutations and
// subscriptions. It holds only immutable references; all per-request
// state travels in the context.
type Resolver struct {
	store  store.Store
	auth   *auth.Service
	bus    pubsub.Bus
	logger *slog.Logger
}

// NewResolver creates the root resolver.
func NewResolver(st store.Store, authSvc *auth.Service, bus pubsub.Bus, logger *slog.Logger) (*Resolver, error) {
	if st == nil || authSvc == nil || bus == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Resolver", "NewResolver",
			"store, auth service and bus are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: st, auth: authSvc, bus: bus, logger: logger}, nil
}

// panicLogger routes resolver panics into slog.
type panicLogger struct {
	logger *slog.Logger
}

func (l *panicLogger) LogPanic(ctx context.Context, value any) {
	l.logger.Error("resolver panic", "value", value)
}

// NewSchema compiles the type definitions and resolver into the single
// shared schema instance. Failure is fatal: the process must not serve
// traffic without a compiled schema.
func NewSchema(resolver *Resolver, logger *slog.Logger) (*graphql.Schema, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := graphql.ParseSchema(SchemaString, resolver,
		graphql.MaxDepth(12),
		graphql.MaxParallelism(20),
		graphql.Logger(&panicLogger{logger: logger}),
	)
	if err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %w", errors.ErrSchemaCompilation, err),
			"Schema", "NewSchema", "type definition compile")
	}
	return schema, nil
}

// logCause records the internal cause of a caller-facing error.
func (r *Resolver) logCause(op string, err *requestError) *requestError {
	if err.cause != nil {
		r.logger.Warn("resolver error", "operation", op, "code", err.code, "cause", err.cause)
	}
	return err
}

// ---- Query ----

// BookCount resolves Query.bookCount.
func (r *Resolver) BookCount(ctx context.Context) (int32, error) {
	n, err := r.store.BookCount(ctx)
	if err != nil {
		return 0, r.logCause("bookCount", storeError(err, "counting books failed", nil))
	}
	return n, nil
}

// AuthorCount resolves Query.authorCount.
func (r *Resolver) AuthorCount(ctx context.Context) (int32, error) {
	n, err := r.store.AuthorCount(ctx)
	if err != nil {
		return 0, r.logCause("authorCount", storeError(err, "counting authors failed", nil))
	}
	return n, nil
}

// AllBooksArgs are the typed arguments of Query.allBooks.
type AllBooksArgs struct {
	Author *string
	Genre  *string
}

// AllBooks resolves Query.allBooks. Supplying both filters intersects
// them; an unknown author name yields an empty list.
func (r *Resolver) AllBooks(ctx context.Context, args AllBooksArgs) ([]*BookResolver, error) {
	var filter store.BookFilter

	if args.Author != nil && *args.Author != "" {
		author, err := r.store.AuthorByName(ctx, *args.Author)
		if err != nil {
			if store.IsNotFound(err) {
				return []*BookResolver{}, nil
			}
			return nil, r.logCause("allBooks", storeError(err, "author lookup failed", *args.Author))
		}
		filter.AuthorID = author.ID
	}
	if args.Genre != nil {
		filter.Genre = *args.Genre
	}

	books, err := r.store.Books(ctx, filter)
	if err != nil {
		return nil, r.logCause("allBooks", storeError(err, "listing books failed", nil))
	}

	resolvers := make([]*BookResolver, 0, len(books))
	for _, b := range books {
		resolvers = append(resolvers, &BookResolver{book: b, root: r})
	}
	return resolvers, nil
}

// AllAuthors resolves Query.allAuthors.
func (r *Resolver) AllAuthors(ctx context.Context) ([]*AuthorResolver, error) {
	authors, err := r.store.Authors(ctx)
	if err != nil {
		return nil, r.logCause("allAuthors", storeError(err, "listing authors failed", nil))
	}

	resolvers := make([]*AuthorResolver, 0, len(authors))
	for _, a := range authors {
		resolvers = append(resolvers, &AuthorResolver{author: a, root: r})
	}
	return resolvers, nil
}

// Me resolves Query.me: the identity attached to the execution context,
// or null for anonymous callers.
func (r *Resolver) Me(ctx context.Context) (*UserResolver, error) {
	identity := auth.FromContext(ctx)
	if identity == nil {
		return nil, nil
	}

	user, err := r.store.UserByID(ctx, identity.SubjectID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, r.logCause("me", storeError(err, "user lookup failed", nil))
	}
	return &UserResolver{user: user}, nil
}

// ---- Mutation ----

// AddBookArgs are the typed arguments of Mutation.addBook.
type AddBookArgs struct {
	Title     string
	Author    string
	Published int32
	Genres    []string
}

// AddBook resolves Mutation.addBook. Requires an authenticated identity;
// the check runs before any mutating data access. An unknown author is
// created implicitly.
func (r *Resolver) AddBook(ctx context.Context, args AddBookArgs) (*BookResolver, error) {
	if auth.FromContext(ctx) == nil {
		return nil, errUnauthenticated()
	}

	author, err := r.store.AuthorByName(ctx, args.Author)
	if err != nil {
		if !store.IsNotFound(err) {
			return nil, r.logCause("addBook", storeError(err, "author lookup failed", args.Author))
		}
		author, err = r.store.AddAuthor(ctx, store.Author{Name: args.Author})
		if err != nil {
			return nil, r.logCause("addBook", storeError(err, "saving author failed", args.Author))
		}
	}

	book, err := r.store.AddBook(ctx, store.Book{
		Title:     args.Title,
		Published: args.Published,
		AuthorID:  author.ID,
		Genres:    args.Genres,
	})
	if err != nil {
		return nil, r.logCause("addBook", storeError(err, "saving book failed", map[string]any{
			"title":     args.Title,
			"author":    args.Author,
			"published": args.Published,
			"genres":    args.Genres,
		}))
	}

	// Subscription delivery is best effort; the mutation already succeeded.
	if err := r.bus.PublishBookAdded(ctx, book); err != nil {
		r.logger.Warn("publishing bookAdded failed", "title", book.Title, "error", err)
	}

	return &BookResolver{book: book, root: r}, nil
}

// EditAuthorArgs are the typed arguments of Mutation.editAuthor.
type EditAuthorArgs struct {
	Name      string
	SetBornTo int32
}

// EditAuthor resolves Mutation.editAuthor. Requires an authenticated
// identity before the update is attempted.
func (r *Resolver) EditAuthor(ctx context.Context, args EditAuthorArgs) (*AuthorResolver, error) {
	if auth.FromContext(ctx) == nil {
		return nil, errUnauthenticated()
	}

	author, err := r.store.SetAuthorBorn(ctx, args.Name, args.SetBornTo)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errNotFound("author not found", args.Name)
		}
		return nil, r.logCause("editAuthor", storeError(err, "updating author failed", args.Name))
	}
	return &AuthorResolver{author: author, root: r}, nil
}

// CreateUserArgs are the typed arguments of Mutation.createUser.
type CreateUserArgs struct {
	Username      string
	FavoriteGenre string
}

// CreateUser resolves Mutation.createUser. Registration is open; no
// identity is required.
func (r *Resolver) CreateUser(ctx context.Context, args CreateUserArgs) (*UserResolver, error) {
	user, err := r.store.AddUser(ctx, store.User{
		Username:      args.Username,
		FavoriteGenre: args.FavoriteGenre,
	})
	if err != nil {
		return nil, r.logCause("createUser", storeError(err, "saving user failed", args.Username))
	}
	return &UserResolver{user: user}, nil
}

// LoginArgs are the typed arguments of Mutation.login.
type LoginArgs struct {
	Username string
	Password string
}

// Login resolves Mutation.login, minting a fresh bearer token. Unknown
// users and bad passwords are indistinguishable to the caller.
func (r *Resolver) Login(ctx context.Context, args LoginArgs) (*TokenResolver, error) {
	user, err := r.store.UserByUsername(ctx, args.Username)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errWrongCredentials()
		}
		return nil, r.logCause("login", storeError(err, "user lookup failed", nil))
	}
	if args.Password != placeholderPassword {
		return nil, errWrongCredentials()
	}

	token, err := r.auth.IssueToken(user)
	if err != nil {
		return nil, r.logCause("login", &requestError{
			message: "issuing token failed",
			code:    codeUpstream,
			cause:   err,
		})
	}
	return &TokenResolver{value: token}, nil
}

// ---- Subscription ----

// BookAdded resolves Subscription.bookAdded. The returned channel closes
// when the operation context is cancelled: client unsubscribe, connection
// close or server shutdown all stop emission.
func (r *Resolver) BookAdded(ctx context.Context) (<-chan *BookResolver, error) {
	events, err := r.bus.SubscribeBookAdded(ctx)
	if err != nil {
		return nil, r.logCause("bookAdded", &requestError{
			message: "subscription setup failed",
			code:    codeUpstream,
			cause:   err,
		})
	}

	out := make(chan *BookResolver)
	go func() {
		defer close(out)
		for book := range events {
			select {
			case out <- &BookResolver{book: book, root: r}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ---- Type resolvers ----

// BookResolver resolves the Book type.
type BookResolver struct {
	book store.Book
	root *Resolver
}

// ID resolves Book.id.
func (b *BookResolver) ID() graphql.ID {
	return graphql.ID(b.book.ID)
}

// Title resolves Book.title.
func (b *BookResolver) Title() string {
	return b.book.Title
}

// Published resolves Book.published.
func (b *BookResolver) Published() int32 {
	return b.book.Published
}

// Genres resolves Book.genres.
func (b *BookResolver) Genres() []string {
	return b.book.Genres
}

// Author resolves Book.author by reference.
func (b *BookResolver) Author(ctx context.Context) (*AuthorResolver, error) {
	author, err := b.root.store.AuthorByID(ctx, b.book.AuthorID)
	if err != nil {
		return nil, b.root.logCause("Book.author", storeError(err, "author lookup failed", nil))
	}
	return &AuthorResolver{author: author, root: b.root}, nil
}

// AuthorResolver resolves the Author type.
type AuthorResolver struct {
	author store.Author
	root   *Resolver
}

// ID resolves Author.id.
func (a *AuthorResolver) ID() graphql.ID {
	return graphql.ID(a.author.ID)
}

// Name resolves Author.name.
func (a *AuthorResolver) Name() string {
	return a.author.Name
}

// Born resolves Author.born; null when unknown.
func (a *AuthorResolver) Born() *int32 {
	return a.author.Born
}

// BookCount resolves Author.bookCount.
func (a *AuthorResolver) BookCount(ctx context.Context) (int32, error) {
	n, err := a.root.store.BookCountByAuthor(ctx, a.author.ID)
	if err != nil {
		return 0, a.root.logCause("Author.bookCount", storeError(err, "counting books failed", nil))
	}
	return n, nil
}

// UserResolver resolves the User type.
type UserResolver struct {
	user store.User
}

// ID resolves User.id.
func (u *UserResolver) ID() graphql.ID {
	return graphql.ID(u.user.ID)
}

// Username resolves User.username.
func (u *UserResolver) Username() string {
	return u.user.Username
}

// FavoriteGenre resolves User.favoriteGenre.
func (u *UserResolver) FavoriteGenre() string {
	return u.user.FavoriteGenre
}

// TokenResolver resolves the Token type.
type TokenResolver struct {
	value string
}

// Value resolves Token.value.
func (t *TokenResolver) Value() string {
	return t.value
}
