package sqlgraph

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloq"
	"github.com/syssam/veloq/dialect"
	"github.com/syssam/veloq/dialect/sql"
)

func TestPrefetch(t *testing.T) {
	reg := library(t)
	b := sql.Dialect(dialect.SQLite, reg)
	authors, books, reviews := sql.T("authors"), sql.T("books"), sql.T("reviews")
	ctx := context.Background()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()
	drv := sql.OpenDB(dialect.SQLite, db)

	mock.ExpectQuery(`SELECT "t1"."id", "t1"."name" FROM "authors" AS "t1" ORDER BY "t1"."id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "Herbert").
			AddRow(int64(2), "Austen").
			AddRow(int64(3), "Tolkien"))
	mock.ExpectQuery(`SELECT "t1"."title", "t1"."author_id", "t1"."id" FROM "books" AS "t1" WHERE "t1"."title" <> ? AND "t1"."author_id" IN (?, ?, ?)`).
		WithArgs("Draft", 1, 2, 3).
		WillReturnRows(sqlmock.NewRows([]string{"title", "author_id", "id"}).
			AddRow("Dune", int64(1), int64(1)).
			AddRow("Emma", int64(2), int64(2)).
			AddRow("Children of Dune", int64(1), int64(3)))
	mock.ExpectQuery(`SELECT "t1"."id", "t1"."book_id", "t1"."stars" FROM "reviews" AS "t1" WHERE "t1"."book_id" IN (?, ?, ?)`).
		WithArgs(1, 2, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "stars"}).
			AddRow(int64(1), int64(1), int64(5)).
			AddRow(int64(2), int64(2), int64(3)).
			AddRow(int64(3), int64(1), int64(4)))

	roots, err := Prefetch(ctx, drv,
		b.Select(authors.Star()).From(authors).OrderBy(sql.Asc(authors.C("id"))),
		b.Select(books.C("title")).From(books).Where(sql.NEQ(books.C("title"), "Draft")),
		b.Select(reviews.Star()).From(reviews),
	)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet(), "one query per level")

	review := func(id, bookID, stars int64) *node {
		return &node{Table: "reviews", Values: map[string]any{"id": id, "book_id": bookID, "stars": stars}, Edges: map[string]any{"book": bookID}}
	}
	bookNode := func(id, authorID int64, title string, rs ...*node) *node {
		return &node{
			Table:  "books",
			Values: map[string]any{"id": id, "author_id": authorID, "title": title},
			Edges:  map[string]any{"author": authorID},
			Lists:  map[string][]*node{"reviews": append([]*node{}, rs...)},
		}
	}
	want := []*node{
		{Table: "authors", Values: author(1, "Herbert"), Lists: map[string][]*node{"books": {
			bookNode(1, 1, "Dune", review(1, 1, 5), review(3, 1, 4)),
			bookNode(3, 1, "Children of Dune"),
		}}},
		{Table: "authors", Values: author(2, "Austen"), Lists: map[string][]*node{"books": {
			bookNode(2, 2, "Emma", review(2, 2, 3)),
		}}},
		{Table: "authors", Values: author(3, "Tolkien"), Lists: map[string][]*node{"books": {}}},
	}
	if diff := cmp.Diff(want, trees(roots)); diff != "" {
		t.Errorf("graph mismatch (-want +got):\n%s", diff)
	}

	herbert := roots[0]
	dune := herbert.Lists["books"][0]
	back, err := dune.Edge("author")
	require.NoError(t, err)
	require.Same(t, herbert, back)
	require.Same(t, dune, dune.Lists["reviews"][1].Edges["book"])
}

func TestPrefetchEmptyKeys(t *testing.T) {
	reg := library(t)
	b := sql.Dialect(dialect.SQLite, reg)
	authors, books := sql.T("authors"), sql.T("books")
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT "t1"."id", "t1"."name" FROM "authors" AS "t1" WHERE "t1"."name" = ?`).
		WithArgs("Nobody").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))
	mock.ExpectQuery(`SELECT "t1"."id", "t1"."author_id", "t1"."title" FROM "books" AS "t1" WHERE 1 = 0`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "author_id", "title"}))

	roots, err := Prefetch(context.Background(), sql.OpenDB(dialect.SQLite, db),
		b.Select(authors.Star()).From(authors).Where(sql.EQ(authors.C("name"), "Nobody")),
		b.Select(books.Star()).From(books),
	)
	require.NoError(t, err)
	require.Empty(t, roots)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrefetchPathErrors(t *testing.T) {
	reg := library(t)
	b := sql.Dialect(dialect.SQLite, reg)
	authors, books, tags := sql.T("authors"), sql.T("books"), sql.T("tags")
	users, messages := sql.T("users"), sql.T("messages")
	sub := sql.Subquery(b.Select(authors.Star()).From(authors)).As("s")

	tests := []struct {
		name   string
		path   []*sql.Selector
		level  int
		prev   string
		table  string
		errMsg string
	}{
		{
			name:   "no foreign key",
			path:   []*sql.Selector{b.Select(authors.Star()).From(authors), b.Select(tags.Star()).From(tags)},
			level:  1,
			prev:   "authors",
			table:  "tags",
			errMsg: "veloq: prefetch path level 1 (authors -> tags): tags holds no foreign key to authors",
		},
		{
			name:  "wrong direction",
			path:  []*sql.Selector{b.Select(books.Star()).From(books), b.Select(authors.Star()).From(authors)},
			level: 1,
			prev:  "books",
			table: "authors",
		},
		{
			name: "invalid deeper level",
			path: []*sql.Selector{
				b.Select(authors.Star()).From(authors),
				b.Select(books.Star()).From(books),
				b.Select(tags.Star()).From(tags),
			},
			level: 2,
			prev:  "books",
			table: "tags",
		},
		{
			name:   "ambiguous",
			path:   []*sql.Selector{b.Select(users.Star()).From(users), b.Select(messages.Star()).From(messages)},
			level:  1,
			prev:   "users",
			table:  "messages",
			errMsg: "veloq: prefetch path level 1 (users -> messages): ambiguous foreign keys messages.sender_id, messages.recipient_id",
		},
		{
			name:  "no from",
			path:  []*sql.Selector{b.Select(authors.Star()).From(authors), b.Select(sql.Lit(1))},
			level: 1,
			prev:  "authors",
		},
		{
			name:  "subquery root",
			path:  []*sql.Selector{b.Select(sub.Star()).From(sub)},
			level: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			_, err = Prefetch(context.Background(), sql.OpenDB(dialect.SQLite, db), tt.path[0], tt.path[1:]...)
			require.True(t, veloq.IsPrefetchPathError(err))
			var pe *veloq.PrefetchPathError
			require.ErrorAs(t, err, &pe)
			require.Equal(t, tt.level, pe.Level)
			require.Equal(t, tt.prev, pe.Prev)
			require.Equal(t, tt.table, pe.Table)
			if tt.errMsg != "" {
				require.EqualError(t, err, tt.errMsg)
			}
			require.NoError(t, mock.ExpectationsWereMet(), "no query runs for an invalid path")
		})
	}

	t.Run("build error", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		_, err = Prefetch(context.Background(), sql.OpenDB(dialect.SQLite, db),
			b.Select(authors.Star()).From(authors),
			b.Select(books.Star()).Join(authors),
		)
		require.True(t, veloq.IsBuildError(err))
	})
}

func TestPrefetchSQLite(t *testing.T) {
	reg := library(t)
	b := sql.Dialect(dialect.SQLite, reg)
	authors, books, reviews := sql.T("authors"), sql.T("books"), sql.T("reviews")
	ctx := context.Background()
	stats := sql.NewStatsDriver(openLibrary(t))

	rootQ := b.Select(authors.Star()).From(authors).OrderBy(sql.Asc(authors.C("id")))
	booksQ := b.Select(books.Star()).From(books).OrderBy(sql.Desc(books.C("title")))
	roots, err := Prefetch(ctx, stats, rootQ, booksQ, b.Select(reviews.Star()).From(reviews).OrderBy(sql.Asc(reviews.C("id"))))
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.QueryStats().Stats().TotalQueries, "a path of length 3 issues 3 queries")

	names := make([]string, len(roots))
	for i, a := range roots {
		names[i] = a.Values["name"].(string)
	}
	require.Equal(t, []string{"Herbert", "Austen", "Tolkien"}, names)

	// The pairing equals a per-parent back-reference query, for parents
	// with many, one and zero children.
	for _, a := range roots {
		naive, err := All(ctx, stats, booksQ.Clone().Where(sql.EQ(books.C("author_id"), a.ID())))
		require.NoError(t, err)
		got, err := a.List("books")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Len(t, got, len(naive))
		for i := range naive {
			require.Equal(t, naive[i].Values, got[i].Values, "book %d of %s", i, a.Values["name"])
			p, err := got[i].Edge("author")
			require.NoError(t, err)
			require.Same(t, a, p)
		}
	}
	dune := roots[0].Lists["books"][0]
	require.Equal(t, "Dune", dune.Values["title"])
	stars := make([]int64, 0, 2)
	for _, r := range dune.Lists["reviews"] {
		stars = append(stars, r.Values["stars"].(int64))
	}
	require.Equal(t, []int64{5, 4}, stars)
	require.Empty(t, roots[0].Lists["books"][1].Lists["reviews"])
}

func TestIteratorSQLite(t *testing.T) {
	reg := library(t)
	b := sql.Dialect(dialect.SQLite, reg)
	authors, books := sql.T("authors"), sql.T("books")
	drv := openLibrary(t)

	q := b.Select(books.C("id"), books.C("title"), authors.Star()).
		From(books).
		Join(authors).
		Where(sql.HasPrefix(books.C("title"), "Dune")).
		OrderBy(sql.Asc(books.C("id")))
	all, err := All(context.Background(), drv, q, WithIdentityCache())
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, map[string]any{"id": int64(1), "title": "Dune"}, all[0].Values)
	a, err := all[0].Edge("author")
	require.NoError(t, err)
	require.Equal(t, author(1, "Herbert"), a.Values)
}

func TestIteratorSessionFault(t *testing.T) {
	reg := library(t)
	b := sql.Dialect(dialect.SQLite, reg)
	authors := sql.T("authors")
	ctx := context.Background()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()
	s, err := sql.OpenDB(dialect.SQLite, db).Session(ctx)
	require.NoError(t, err)

	mock.ExpectExec("BEGIN").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "t1"."id", "t1"."name" FROM "authors" AS "t1"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "Herbert").
			AddRow(int64(2), "Austen").
			RowError(1, context.DeadlineExceeded))
	mock.ExpectExec("ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.Atomic(ctx, func(ctx context.Context) error {
		_, err := All(ctx, s, b.Select(authors.Star()).From(authors))
		return err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, s.Depth())
	require.ErrorIs(t, s.Err(), veloq.ErrSessionBroken)
	require.NoError(t, s.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}
