package sqlgraph_test

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"log"

	"github.com/syssam/veloq/dialect"
	"github.com/syssam/veloq/dialect/sql"
	"github.com/syssam/veloq/dialect/sql/sqlgraph"
	"github.com/syssam/veloq/schema"
	"github.com/syssam/veloq/schema/field"

	_ "modernc.org/sqlite"
)

func openExample() (*sql.Driver, *schema.Registry) {
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
	)
	if err != nil {
		log.Fatal(err)
	}
	db, err := stdsql.Open("sqlite", ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	drv := sql.OpenDB(dialect.SQLite, db)
	for _, q := range []string{
		`CREATE TABLE authors (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE books (id INTEGER PRIMARY KEY, author_id INTEGER NOT NULL, title TEXT NOT NULL)`,
		`INSERT INTO authors (id, name) VALUES (1, 'Herbert'), (2, 'Austen'), (3, 'Tolkien')`,
		`INSERT INTO books (id, author_id, title) VALUES (1, 1, 'Dune'), (2, 2, 'Emma'), (3, 1, 'Children of Dune')`,
	} {
		if err := drv.Exec(context.Background(), q, []any{}, nil); err != nil {
			log.Fatal(err)
		}
	}
	return drv, reg
}

func ExamplePrefetch() {
	drv, reg := openExample()
	defer drv.Close()
	b := sql.Dialect(dialect.SQLite, reg)
	authors, books := sql.T("authors"), sql.T("books")

	roots, err := sqlgraph.Prefetch(context.Background(), drv,
		b.Select(authors.Star()).From(authors).OrderBy(sql.Asc(authors.C("id"))),
		b.Select(books.Star()).From(books).OrderBy(sql.Asc(books.C("title"))),
	)
	if err != nil {
		log.Fatal(err)
	}
	for _, a := range roots {
		fmt.Printf("%s:", a.Values["name"])
		bs, _ := a.List("books")
		for _, bk := range bs {
			fmt.Printf(" %q", bk.Values["title"])
		}
		fmt.Println()
	}
	// Output:
	// Herbert: "Children of Dune" "Dune"
	// Austen: "Emma"
	// Tolkien:
}

func ExampleIterator() {
	drv, reg := openExample()
	defer drv.Close()
	b := sql.Dialect(dialect.SQLite, reg)
	authors, books := sql.T("authors"), sql.T("books")

	cq, err := b.Select(authors.Star(), books.C("id"), books.C("title")).
		From(authors).
		Join(books).
		OrderBy(sql.Asc(books.C("id"))).
		Compile()
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	it, err := sqlgraph.Query(ctx, drv, cq, sqlgraph.WithIdentityCache())
	if err != nil {
		log.Fatal(err)
	}
	defer it.Close()
	seen := make(map[*sqlgraph.Instance]bool)
	for it.Next() {
		a := it.Instance()
		if seen[a] {
			continue
		}
		seen[a] = true
		fmt.Println(a)
	}
	if err := it.Err(); err != nil {
		log.Fatal(err)
	}
	for a := range seen {
		if a.Values["name"] == "Herbert" {
			bs, _ := a.List("books")
			fmt.Println(len(bs), "books by Herbert")
		}
	}
	// Output:
	// authors(id=1, name=Herbert)
	// authors(id=2, name=Austen)
	// 2 books by Herbert
}
