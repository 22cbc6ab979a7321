package graph

// SchemaString is the catalog's GraphQL type definitions. It is compiled
// exactly once at startup; both transports execute against the same
// compiled schema instance.
const SchemaString = `
schema {
	query: Query
	mutation: Mutation
	subscription: Subscription
}

type Book {
	title: String!
	published: Int!
	author: Author!
	genres: [String!]!
	id: ID!
}

type Author {
	name: String!
	born: Int
	bookCount: Int!
	id: ID!
}

type User {
	username: String!
	favoriteGenre: String!
	id: ID!
}

type Token {
	value: String!
}

type Query {
	bookCount: Int!
	authorCount: Int!
	allBooks(author: String, genre: String): [Book!]!
	allAuthors: [Author!]!
	me: User
}

type Mutation {
	addBook(
		title: String!
		author: String!
		published: Int!
		genres: [String!]!
	): Book
	editAuthor(name: String!, setBornTo: Int!): Author
	createUser(username: String!, favoriteGenre: String!): User
	login(username: String!, password: String!): Token
}

type Subscription {
	bookAdded: Book!
}
`
