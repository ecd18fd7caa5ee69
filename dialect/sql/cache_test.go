package sql

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/veloq"
	"github.com/syssam/veloq/dialect"
)

// countingStore counts the lookups reaching a veloq.Cache.
type countingStore struct {
	veloq.Cache
	gets atomic.Int64
	err  error
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.gets.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.Cache.Get(ctx, key)
}

func TestStmtCache(t *testing.T) {
	reg := library(t)
	ctx := context.Background()
	key := veloq.CacheKey{Dialect: dialect.Postgres, Table: "books", Name: "by_author"}
	byAuthor := func() *Selector {
		books := T("books")
		return Dialect(dialect.Postgres, reg).
			Select(books.Star()).
			From(books).
			Where(EQ(books.C("author_id"), 1))
	}

	t.Run("memory", func(t *testing.T) {
		c := NewStmtCache()
		cq1, err := c.Compile(ctx, key, byAuthor())
		require.NoError(t, err)
		cq2, err := c.Compile(ctx, key, byAuthor())
		require.NoError(t, err)
		require.Same(t, cq1, cq2)
		require.Equal(t, `SELECT "t1"."id", "t1"."author_id", "t1"."title", "t1"."pages" FROM "books" AS "t1" WHERE "t1"."author_id" = $1`, cq1.SQL)
		require.Equal(t, 1, c.Len())
	})

	t.Run("concurrent compilations collapse", func(t *testing.T) {
		store := &countingStore{Cache: veloq.NewMapCache()}
		c := NewStmtCache(WithStore(store))
		var g errgroup.Group
		results := make([]*CompiledQuery, 16)
		for i := range results {
			i := i
			g.Go(func() error {
				cq, err := c.Compile(ctx, key, byAuthor())
				results[i] = cq
				return err
			})
		}
		require.NoError(t, g.Wait())
		for _, cq := range results {
			require.Same(t, results[0], cq)
		}
		require.Equal(t, int64(1), store.gets.Load())
	})

	t.Run("store round trip", func(t *testing.T) {
		store := veloq.NewMapCache()
		cq1, err := NewStmtCache(WithStore(store)).Compile(ctx, key, byAuthor())
		require.NoError(t, err)
		require.Equal(t, 1, store.Len())
		data, err := store.Get(ctx, key.String())
		require.NoError(t, err)
		require.NotEmpty(t, data)

		cq2, err := NewStmtCache(WithStore(store)).Compile(ctx, key, byAuthor())
		require.NoError(t, err)
		require.NotSame(t, cq1, cq2)
		require.Equal(t, cq1.SQL, cq2.SQL)
		require.Len(t, cq2.Args, 1)
		require.Equal(t, cq1.Root, cq2.Root)
		for _, e := range cq2.Selection {
			require.Same(t, reg.MustTable("books"), e.Table)
		}
	})

	t.Run("corrupted entry is recompiled", func(t *testing.T) {
		store := veloq.NewMapCache()
		require.NoError(t, store.Set(ctx, key.String(), []byte("garbage")))
		cq, err := NewStmtCache(WithStore(store)).Compile(ctx, key, byAuthor())
		require.NoError(t, err)
		require.NotEmpty(t, cq.SQL)
		data, err := store.Get(ctx, key.String())
		require.NoError(t, err)
		require.NotEqual(t, []byte("garbage"), data)
	})

	t.Run("invalidate", func(t *testing.T) {
		store := veloq.NewMapCache()
		c := NewStmtCache(WithStore(store))
		_, err := c.Compile(ctx, key, byAuthor())
		require.NoError(t, err)
		require.NoError(t, c.Invalidate(ctx, key))
		require.Zero(t, c.Len())
		require.Zero(t, store.Len())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		c := NewStmtCache()
		errBuild := errors.New("bad selector")
		_, err := c.Compile(ctx, key, byAuthor().AddError(errBuild))
		require.ErrorIs(t, err, errBuild)
		require.Zero(t, c.Len())
		_, err = c.Compile(ctx, key, byAuthor())
		require.NoError(t, err)
	})

	t.Run("store failure", func(t *testing.T) {
		errStore := errors.New("store unavailable")
		c := NewStmtCache(WithStore(&countingStore{Cache: veloq.NewMapCache(), err: errStore}))
		_, err := c.Compile(ctx, key, byAuthor())
		require.ErrorIs(t, err, errStore)
		require.Contains(t, err.Error(), `stmt cache get "postgres:books:by_author"`)
	})
}
