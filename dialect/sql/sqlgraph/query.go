package sqlgraph

import (
	"context"

	"github.com/syssam/veloq"
	"github.com/syssam/veloq/dialect"
	"github.com/syssam/veloq/dialect/sql"
)

// Query executes cq and returns an iterator over its rows.
func Query(ctx context.Context, ex dialect.ExecQuerier, cq *sql.CompiledQuery, opts ...IteratorOption) (*Iterator, error) {
	rows := &sql.Rows{}
	if err := ex.Query(ctx, cq.SQL, cq.Args, rows); err != nil {
		return nil, err
	}
	return NewIterator(cq, rows, opts...), nil
}

// All compiles and executes q and returns the top-level instance of every
// row.
func All(ctx context.Context, ex dialect.ExecQuerier, q *sql.Selector, opts ...IteratorOption) ([]*Instance, error) {
	cq, err := q.Compile()
	if err != nil {
		return nil, err
	}
	it, err := Query(ctx, ex, cq, opts...)
	if err != nil {
		return nil, err
	}
	return it.All()
}

// First returns the instance of the first row of q. It returns a
// *veloq.NotFoundError if q has no rows.
func First(ctx context.Context, ex dialect.ExecQuerier, q *sql.Selector, opts ...IteratorOption) (*Instance, error) {
	all, err := All(ctx, ex, q.Clone().Limit(1), opts...)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, veloq.NewNotFoundError(label(q))
	}
	return all[0], nil
}

// Only returns the instance of the single row of q. It returns a
// *veloq.NotFoundError if q has no rows, and a *veloq.NotSingularError if it
// has more than one.
func Only(ctx context.Context, ex dialect.ExecQuerier, q *sql.Selector, opts ...IteratorOption) (*Instance, error) {
	all, err := All(ctx, ex, q.Clone().Limit(2), opts...)
	if err != nil {
		return nil, err
	}
	switch len(all) {
	case 0:
		return nil, veloq.NewNotFoundError(label(q))
	case 1:
		return all[0], nil
	default:
		return nil, veloq.NewNotSingularError(label(q), len(all))
	}
}

func label(q *sql.Selector) string {
	if t := q.Table(); t != nil {
		return t.Name
	}
	return "row"
}
