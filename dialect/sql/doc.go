// Package sql provides the expression tree, join graph and SQL compiler of
// veloq, together with the database/sql driver adapter and sessions.
//
// This package turns composable expression values into parameterized SQL
// for PostgreSQL, MySQL and SQLite. Expressions are immutable; a query is
// built with a Selector and compiled into a CompiledQuery holding the
// statement text, its parameters and the selection map used to rebuild
// object graphs from result rows (see the sqlgraph package).
//
// # Builder Types
//
//   - Builder: Low-level SQL string builder with identifier quoting and placeholders
//   - Selector: SELECT query builder with joins, predicates, CTEs and pagination
//   - InsertBuilder: INSERT statement builder with RETURNING support
//   - UpdateBuilder: UPDATE statement builder with SET and WHERE clauses
//   - DeleteBuilder: DELETE statement builder with WHERE predicates
//
// # Dialect Support
//
// Every builder is bound to a dialect and a schema registry:
//
//	import "github.com/syssam/veloq/dialect"
//
//	b := sql.Dialect(dialect.Postgres, reg)
//	authors, books := sql.T("authors"), sql.T("books")
//	q := b.Select(books.Star()).From(books).Where(sql.EQ(books.C("title"), "Dune"))
//	// SELECT "t1"."id", ... FROM "books" AS "t1" WHERE "t1"."title" = $1
//
// # Predicates
//
// Predicates are built with named combinators. Values are always bound as
// parameters:
//
//	sql.EQ(books.C("title"), "Dune")        // "t1"."title" = ?
//	sql.NEQ(books.C("deleted_at"), nil)     // "t1"."deleted_at" IS NOT NULL
//	sql.GT(books.C("pages"), 100)           // "t1"."pages" > ?
//	sql.HasPrefix(books.C("title"), "Du")   // "t1"."title" LIKE ?
//	sql.In(books.C("id"), []int{1, 2, 3})   // "t1"."id" IN (?, ?, ?)
//	sql.In(books.C("id"), []int{})          // 1 = 0
//
// # Joins
//
// Joins are inferred from the single foreign key connecting two tables, or
// given explicitly:
//
//	b.Select(authors.Star(), books.Star()).
//	    From(authors).
//	    Join(books).
//	    Where(sql.GT(books.C("pages"), 100))
//
//	b.Select(authors.Star()).
//	    From(authors).
//	    Join(books, sql.On(sql.EQ(books.C("author_id"), authors.C("id"))))
//
// # Row-Level Locking
//
//	b.Select(books.Star()).From(books).
//	    Where(sql.EQ(books.C("id"), 1)).
//	    ForUpdate()  // SELECT ... FOR UPDATE
//
// # Sessions
//
// A Session pins one connection and runs statements inside nested scopes.
// The outermost scope is a transaction and nested scopes are savepoints:
//
//	err := sess.Atomic(ctx, func(ctx context.Context) error {
//	    return sess.Atomic(ctx, func(ctx context.Context) error {
//	        _, err := b.Insert(books).Set("title", "Dune").Exec(ctx, sess)
//	        return err
//	    })
//	})
package sql
