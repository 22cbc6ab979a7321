package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names in the catalog database.
const (
	booksCollection   = "books"
	authorsCollection = "authors"
	usersCollection   = "users"
)

// Mongo implements Store on a MongoDB database.
type Mongo struct {
	books   *mongo.Collection
	authors *mongo.Collection
	users   *mongo.Collection
	logger  *slog.Logger
}

// NewMongo creates a Store backed by the given database.
func NewMongo(db *mongo.Database, logger *slog.Logger) *Mongo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mongo{
		books:   db.Collection(booksCollection),
		authors: db.Collection(authorsCollection),
		users:   db.Collection(usersCollection),
		logger:  logger,
	}
}

// Connect dials MongoDB and verifies the connection with a bounded ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, dataErr(KindUnavailable, "Connect", "dial failed", err)
	}
	if err := client.Ping(dialCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, dataErr(KindUnavailable, "Connect", "ping failed", err)
	}
	return client, nil
}

// EnsureIndexes creates the uniqueness indexes the catalog relies on.
// Idempotent; called once at startup.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	unique := func(field string) mongo.IndexModel {
		return mongo.IndexModel{
			Keys:    bson.D{{Key: field, Value: 1}},
			Options: options.Index().SetUnique(true),
		}
	}
	if _, err := m.authors.Indexes().CreateOne(ctx, unique("name")); err != nil {
		return dataErr(KindUnavailable, "EnsureIndexes", "authors.name index", err)
	}
	if _, err := m.users.Indexes().CreateOne(ctx, unique("username")); err != nil {
		return dataErr(KindUnavailable, "EnsureIndexes", "users.username index", err)
	}
	if _, err := m.books.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "author", Value: 1}},
	}); err != nil {
		return dataErr(KindUnavailable, "EnsureIndexes", "books.author index", err)
	}
	return nil
}

// Internal document shapes. Domain types carry string IDs so resolvers
// and transports never see ObjectIDs.
type bookDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Title     string             `bson:"title"`
	Published int32              `bson:"published"`
	Author    primitive.ObjectID `bson:"author"`
	Genres    []string           `bson:"genres"`
}

type authorDoc struct {
	ID   primitive.ObjectID `bson:"_id,omitempty"`
	Name string             `bson:"name"`
	Born *int32             `bson:"born"`
}

type userDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Username      string             `bson:"username"`
	FavoriteGenre string             `bson:"favoriteGenre"`
}

func (d bookDoc) domain() Book {
	return Book{
		ID:        d.ID.Hex(),
		Title:     d.Title,
		Published: d.Published,
		AuthorID:  d.Author.Hex(),
		Genres:    d.Genres,
	}
}

func (d authorDoc) domain() Author {
	return Author{ID: d.ID.Hex(), Name: d.Name, Born: d.Born}
}

func (d userDoc) domain() User {
	return User{ID: d.ID.Hex(), Username: d.Username, FavoriteGenre: d.FavoriteGenre}
}

func objectID(op, id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID,
			dataErr(KindNotFound, op, fmt.Sprintf("malformed id %q", id), err)
	}
	return oid, nil
}

// mapMongoErr converts a driver error into a DataAccessError.
func mapMongoErr(op, detail string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return dataErr(KindNotFound, op, detail, err)
	case mongo.IsDuplicateKeyError(err):
		return dataErr(KindDuplicate, op, detail, err)
	default:
		return dataErr(KindUnavailable, op, detail, err)
	}
}

// BookCount returns the number of books in the catalog.
func (m *Mongo) BookCount(ctx context.Context) (int32, error) {
	n, err := m.books.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, mapMongoErr("BookCount", "count failed", err)
	}
	return int32(n), nil
}

// AuthorCount returns the number of authors in the catalog.
func (m *Mongo) AuthorCount(ctx context.Context) (int32, error) {
	n, err := m.authors.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, mapMongoErr("AuthorCount", "count failed", err)
	}
	return int32(n), nil
}

// Books lists books matching the filter. Both filter fields set means
// both must match.
func (m *Mongo) Books(ctx context.Context, filter BookFilter) ([]Book, error) {
	query := bson.M{}
	if filter.AuthorID != "" {
		oid, err := objectID("Books", filter.AuthorID)
		if err != nil {
			return nil, err
		}
		query["author"] = oid
	}
	if filter.Genre != "" {
		// Matches documents whose genres array contains the value.
		query["genres"] = filter.Genre
	}

	cursor, err := m.books.Find(ctx, query)
	if err != nil {
		return nil, mapMongoErr("Books", "find failed", err)
	}
	var docs []bookDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mapMongoErr("Books", "cursor decode failed", err)
	}

	books := make([]Book, 0, len(docs))
	for _, d := range docs {
		books = append(books, d.domain())
	}
	return books, nil
}

// BookCountByAuthor counts books written by the given author.
func (m *Mongo) BookCountByAuthor(ctx context.Context, authorID string) (int32, error) {
	oid, err := objectID("BookCountByAuthor", authorID)
	if err != nil {
		return 0, err
	}
	n, err := m.books.CountDocuments(ctx, bson.M{"author": oid})
	if err != nil {
		return 0, mapMongoErr("BookCountByAuthor", "count failed", err)
	}
	return int32(n), nil
}

// AddBook inserts a book and returns it with its generated identifier.
func (m *Mongo) AddBook(ctx context.Context, book Book) (Book, error) {
	if err := validateBook(book); err != nil {
		return Book{}, err
	}
	authorOID, err := objectID("AddBook", book.AuthorID)
	if err != nil {
		return Book{}, err
	}

	doc := bookDoc{
		Title:     book.Title,
		Published: book.Published,
		Author:    authorOID,
		Genres:    book.Genres,
	}
	res, err := m.books.InsertOne(ctx, doc)
	if err != nil {
		return Book{}, mapMongoErr("AddBook", "insert failed", err)
	}
	doc.ID = res.InsertedID.(primitive.ObjectID)
	return doc.domain(), nil
}

// Authors lists all authors.
func (m *Mongo) Authors(ctx context.Context) ([]Author, error) {
	cursor, err := m.authors.Find(ctx, bson.D{})
	if err != nil {
		return nil, mapMongoErr("Authors", "find failed", err)
	}
	var docs []authorDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mapMongoErr("Authors", "cursor decode failed", err)
	}

	authors := make([]Author, 0, len(docs))
	for _, d := range docs {
		authors = append(authors, d.domain())
	}
	return authors, nil
}

// AuthorByName looks up an author by exact name.
func (m *Mongo) AuthorByName(ctx context.Context, name string) (Author, error) {
	var doc authorDoc
	err := m.authors.FindOne(ctx, bson.M{"name": name}).Decode(&doc)
	if err != nil {
		return Author{}, mapMongoErr("AuthorByName", fmt.Sprintf("name %q", name), err)
	}
	return doc.domain(), nil
}

// AuthorByID looks up an author by identifier.
func (m *Mongo) AuthorByID(ctx context.Context, id string) (Author, error) {
	oid, err := objectID("AuthorByID", id)
	if err != nil {
		return Author{}, err
	}
	var doc authorDoc
	if err := m.authors.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return Author{}, mapMongoErr("AuthorByID", fmt.Sprintf("id %q", id), err)
	}
	return doc.domain(), nil
}

// AddAuthor inserts an author and returns it with its generated identifier.
func (m *Mongo) AddAuthor(ctx context.Context, author Author) (Author, error) {
	if err := validateAuthor(author); err != nil {
		return Author{}, err
	}
	doc := authorDoc{Name: author.Name, Born: author.Born}
	res, err := m.authors.InsertOne(ctx, doc)
	if err != nil {
		return Author{}, mapMongoErr("AddAuthor", "insert failed", err)
	}
	doc.ID = res.InsertedID.(primitive.ObjectID)
	return doc.domain(), nil
}

// SetAuthorBorn updates an author's birth year by unique name and returns
// the updated document.
func (m *Mongo) SetAuthorBorn(ctx context.Context, name string, born int32) (Author, error) {
	after := options.After
	opts := options.FindOneAndUpdate().SetReturnDocument(after)

	var doc authorDoc
	err := m.authors.FindOneAndUpdate(ctx,
		bson.M{"name": name},
		bson.M{"$set": bson.M{"born": born}},
		opts,
	).Decode(&doc)
	if err != nil {
		return Author{}, mapMongoErr("SetAuthorBorn", fmt.Sprintf("name %q", name), err)
	}
	return doc.domain(), nil
}

// UserByID looks up a user by identifier.
func (m *Mongo) UserByID(ctx context.Context, id string) (User, error) {
	oid, err := objectID("UserByID", id)
	if err != nil {
		return User{}, err
	}
	var doc userDoc
	if err := m.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return User{}, mapMongoErr("UserByID", fmt.Sprintf("id %q", id), err)
	}
	return doc.domain(), nil
}

// UserByUsername looks up a user by exact username.
func (m *Mongo) UserByUsername(ctx context.Context, username string) (User, error) {
	var doc userDoc
	err := m.users.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if err != nil {
		return User{}, mapMongoErr("UserByUsername", fmt.Sprintf("username %q", username), err)
	}
	return doc.domain(), nil
}

// AddUser inserts a user and returns it with its generated identifier.
func (m *Mongo) AddUser(ctx context.Context, user User) (User, error) {
	if err := validateUser(user); err != nil {
		return User{}, err
	}
	doc := userDoc{Username: user.Username, FavoriteGenre: user.FavoriteGenre}
	res, err := m.users.InsertOne(ctx, doc)
	if err != nil {
		return User{}, mapMongoErr("AddUser", "insert failed", err)
	}
	doc.ID = res.InsertedID.(primitive.ObjectID)
	return doc.domain(), nil
}

// compile-time interface check
var _ Store = (*Mongo)(nil)
