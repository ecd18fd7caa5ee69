package sql

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/syssam/veloq"
)

// StmtCache caches compiled queries by key. Concurrent compilations of one
// key are collapsed into a single one. A StmtCache is safe for concurrent
// use.
//
// Only compiled statements are cached, never result rows.
type StmtCache struct {
	group singleflight.Group
	mu    sync.RWMutex
	stmts map[string]*CompiledQuery
	store veloq.Cache
}

// StmtCacheOption configures a StmtCache.
type StmtCacheOption func(*StmtCache)

// WithStore sets a second-tier byte store consulted on a miss. Queries found
// there are decoded with msgpack and bound to the selector's registry.
func WithStore(c veloq.Cache) StmtCacheOption {
	return func(s *StmtCache) {
		s.store = c
	}
}

// NewStmtCache returns an empty statement cache.
func NewStmtCache(opts ...StmtCacheOption) *StmtCache {
	s := &StmtCache{stmts: make(map[string]*CompiledQuery)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compile returns the compiled query stored under key, compiling q on a miss.
// The caller guarantees that a key always names the same statement.
func (s *StmtCache) Compile(ctx context.Context, key veloq.CacheKey, q *Selector) (*CompiledQuery, error) {
	k := key.String()
	s.mu.RLock()
	cq, ok := s.stmts[k]
	s.mu.RUnlock()
	if ok {
		return cq, nil
	}
	v, err, _ := s.group.Do(k, func() (any, error) {
		s.mu.RLock()
		cq, ok := s.stmts[k]
		s.mu.RUnlock()
		if ok {
			return cq, nil
		}
		cq, err := s.load(ctx, k, q)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.stmts[k] = cq
		s.mu.Unlock()
		return cq, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CompiledQuery), nil
}

func (s *StmtCache) load(ctx context.Context, key string, q *Selector) (*CompiledQuery, error) {
	if s.store != nil {
		data, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("dialect/sql: stmt cache get %q: %w", key, err)
		}
		if data != nil {
			cq := &CompiledQuery{}
			if err := cq.UnmarshalBinary(data); err == nil && cq.Bind(q.Registry()) == nil {
				return cq, nil
			}
		}
	}
	cq, err := q.Compile()
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		data, err := cq.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("dialect/sql: stmt cache encode %q: %w", key, err)
		}
		if err := s.store.Set(ctx, key, data); err != nil {
			return nil, fmt.Errorf("dialect/sql: stmt cache set %q: %w", key, err)
		}
	}
	return cq, nil
}

// Invalidate removes the query stored under key from both tiers.
func (s *StmtCache) Invalidate(ctx context.Context, key veloq.CacheKey) error {
	k := key.String()
	s.mu.Lock()
	delete(s.stmts, k)
	s.mu.Unlock()
	if s.store != nil {
		return s.store.Delete(ctx, k)
	}
	return nil
}

// Len returns the number of queries held in memory.
func (s *StmtCache) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stmts)
}
