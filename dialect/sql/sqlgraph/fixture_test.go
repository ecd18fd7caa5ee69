package sqlgraph

import (
	"context"
	stdsql "database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloq/dialect"
	"github.com/syssam/veloq/dialect/sql"
	"github.com/syssam/veloq/schema"
	"github.com/syssam/veloq/schema/field"

	_ "modernc.org/sqlite"
)

// library returns the registry shared by the tests of the package:
//
//	authors <- books <- reviews
//	users <- messages (sender_id, recipient_id)
//	tags (unrelated)
func library(t testing.TB) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		schema.NewTable("authors",
			field.Int64("id").PrimaryKey(),
			field.String("name"),
		),
		schema.NewTable("books",
			field.Int64("id").PrimaryKey(),
			field.Int64("author_id"),
			field.String("title"),
		).AddForeignKeys(
			schema.References("author_id", "authors"),
		),
		schema.NewTable("reviews",
			field.Int64("id").PrimaryKey(),
			field.Int64("book_id"),
			field.Int("stars"),
		).AddForeignKeys(
			schema.References("book_id", "books"),
		),
		schema.NewTable("users",
			field.Int64("id").PrimaryKey(),
			field.String("name"),
		),
		schema.NewTable("messages",
			field.Int64("id").PrimaryKey(),
			field.Int64("sender_id"),
			field.Int64("recipient_id"),
		).AddForeignKeys(
			schema.References("sender_id", "users").BackRef("sent"),
			schema.References("recipient_id", "users").BackRef("received"),
		),
		schema.NewTable("tags",
			field.Int64("id").PrimaryKey(),
			field.String("name"),
		),
	)
	require.NoError(t, err)
	return reg
}

// mockDriver returns a sqlite driver backed by sqlmock.
func mockDriver(t *testing.T) (*sql.Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sql.OpenDB(dialect.SQLite, db), mock
}

// expectQuery registers the statement of q on mock.
func expectQuery(t *testing.T, mock sqlmock.Sqlmock, q *sql.Selector) *sqlmock.ExpectedQuery {
	t.Helper()
	cq, err := q.Compile()
	require.NoError(t, err)
	return mock.ExpectQuery(regexp.QuoteMeta(cq.SQL))
}

// openLibrary returns a driver over an in-memory sqlite database holding:
//
//	Herbert: Dune (reviews 5, 4), Children of Dune
//	Austen: Emma (review 3)
//	Tolkien: no books
func openLibrary(t *testing.T) *sql.Driver {
	t.Helper()
	db, err := stdsql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	drv := sql.OpenDB(dialect.SQLite, db)
	ctx := context.Background()
	for _, q := range []string{
		`CREATE TABLE authors (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE books (id INTEGER PRIMARY KEY, author_id INTEGER NOT NULL REFERENCES authors(id), title TEXT NOT NULL)`,
		`CREATE TABLE reviews (id INTEGER PRIMARY KEY, book_id INTEGER NOT NULL REFERENCES books(id), stars INTEGER NOT NULL)`,
		`INSERT INTO authors (id, name) VALUES (1, 'Herbert'), (2, 'Austen'), (3, 'Tolkien')`,
		`INSERT INTO books (id, author_id, title) VALUES (1, 1, 'Dune'), (2, 2, 'Emma'), (3, 1, 'Children of Dune')`,
		`INSERT INTO reviews (id, book_id, stars) VALUES (1, 1, 5), (2, 2, 3), (3, 1, 4)`,
	} {
		require.NoError(t, drv.Exec(ctx, q, []any{}, nil))
	}
	return drv
}
