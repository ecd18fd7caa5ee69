package sql

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syssam/veloq/schema"
	"github.com/syssam/veloq/schema/field"
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
			field.Int("pages"),
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
			field.String("name").Nillable(),
		),
		schema.NewTable("messages",
			field.Int64("id").PrimaryKey(),
			field.Int64("sender_id"),
			field.Int64("recipient_id"),
			field.Text("body"),
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
