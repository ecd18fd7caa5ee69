package sqlgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/syssam/veloq"
	"github.com/syssam/veloq/dialect"
	"github.com/syssam/veloq/dialect/sql"
	"github.com/syssam/veloq/schema"
)

// step is one validated level of a prefetch path.
type step struct {
	q     *sql.Selector
	ref   *sql.TableRef
	table *schema.Table
	fk    *schema.ForeignKey // Foreign key to the previous level; nil for the root.
	key   string             // Column referenced by the next level, if any.
}

// Prefetch executes root and then one query per level, and stitches each
// level into the to-many attribute of its parents. It returns the distinct
// root instances in result order.
//
// The table of every level must hold exactly one foreign key to the table of
// the previous level. Level i executes its own query ANDed with
// "fk IN (keys of level i-1)"; a path of k queries issues exactly k
// statements, even when a level has no keys. Every parent receives an empty
// list before stitching, children keep the order of their level's result,
// and each child's to-one attribute points back at its parent.
//
//	authors, err := sqlgraph.Prefetch(ctx, drv,
//		b.Select(authors.Star()).From(authors).OrderBy(sql.Asc(authors.C("id"))),
//		b.Select(books.Star()).From(books).OrderBy(sql.Asc(books.C("title"))),
//	)
//	for _, a := range authors {
//		books, _ := a.List("books")
//		...
//	}
func Prefetch(ctx context.Context, ex dialect.ExecQuerier, root *sql.Selector, levels ...*sql.Selector) ([]*Instance, error) {
	path, err := preparePath(root, levels)
	if err != nil {
		return nil, err
	}
	roots, err := path[0].run(ctx, ex, nil)
	if err != nil {
		return nil, err
	}
	parents := roots
	for i := 1; i < len(path); i++ {
		if parents, err = stitch(ctx, ex, path[i-1], path[i], parents); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

// preparePath validates the path before any query executes.
func preparePath(root *sql.Selector, levels []*sql.Selector) ([]*step, error) {
	qs := append([]*sql.Selector{root}, levels...)
	path := make([]*step, len(qs))
	for i, q := range qs {
		var prev string
		if i > 0 {
			prev = path[i-1].table.Name
		}
		fail := func(format string, args ...any) error {
			e := &veloq.PrefetchPathError{Level: i, Prev: prev, Msg: fmt.Sprintf(format, args...)}
			if q != nil && q.Table() != nil {
				e.Table = q.Table().Name
			}
			return e
		}
		if q == nil {
			return nil, fail("query is nil")
		}
		if err := q.Err(); err != nil {
			return nil, err
		}
		g := q.Graph()
		if g == nil {
			return nil, fail("query has no FROM clause")
		}
		ref, ok := g.Root().Source.(*sql.TableRef)
		if !ok || g.Root().Table == nil {
			return nil, fail("query does not select from a table")
		}
		s := &step{q: q, ref: ref, table: g.Root().Table}
		if i > 0 {
			fks := s.table.ForeignKeysTo(path[i-1].table)
			switch len(fks) {
			case 0:
				return nil, fail("%s holds no foreign key to %s", s.table.Name, prev)
			case 1:
				s.fk = fks[0]
				path[i-1].key = s.fk.RefColumn
			default:
				names := make([]string, len(fks))
				for j, fk := range fks {
					names[j] = fk.String()
				}
				return nil, fail("ambiguous foreign keys %s", strings.Join(names, ", "))
			}
		}
		path[i] = s
	}
	return path, nil
}

// stitch executes child for the keys of parents and attaches the children.
func stitch(ctx context.Context, ex dialect.ExecQuerier, parent, child *step, parents []*Instance) ([]*Instance, error) {
	var (
		attr  = child.fk.Ref
		keys  []any
		byKey = make(map[string][]*Instance, len(parents))
	)
	for _, p := range parents {
		p.Lists[attr] = []*Instance{}
		v := p.Values[parent.key]
		if v == nil {
			continue
		}
		k := keyOf(v)
		if _, ok := byKey[k]; !ok {
			keys = append(keys, v)
		}
		byKey[k] = append(byKey[k], p)
	}
	children, err := child.run(ctx, ex, keys)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		ps := byKey[keyOf(c.Values[child.fk.Column])]
		for _, p := range ps {
			p.Lists[attr] = append(p.Lists[attr], c)
		}
		if len(ps) > 0 {
			c.Edges[child.fk.Name] = ps[0]
		}
	}
	return children, nil
}

// run executes the query of the step, restricted to keys for non-root
// steps, and returns its distinct top-level instances.
func (s *step) run(ctx context.Context, ex dialect.ExecQuerier, keys []any) ([]*Instance, error) {
	q := s.q.Clone()
	var need []string
	if s.fk != nil {
		q.Where(sql.In(s.ref.C(s.fk.Column), sql.List(keys...)))
		need = append(need, s.fk.Column)
	}
	if s.key != "" {
		need = append(need, s.key)
	}
	cq, err := q.Compile()
	if err != nil {
		return nil, err
	}
	if missing := missingColumns(cq, need); len(missing) > 0 {
		for _, c := range missing {
			q.AppendSelect(s.ref.C(c))
		}
		if cq, err = q.Compile(); err != nil {
			return nil, err
		}
	}
	it, err := Query(ctx, ex, cq, WithIdentityCache())
	if err != nil {
		return nil, err
	}
	all, err := it.All()
	if err != nil {
		return nil, err
	}
	seen := make(map[*Instance]bool, len(all))
	distinct := all[:0]
	for _, inst := range all {
		if !seen[inst] {
			seen[inst] = true
			distinct = append(distinct, inst)
		}
	}
	return distinct, nil
}

// missingColumns returns the columns of need that the root occurrence of cq
// does not select.
func missingColumns(cq *sql.CompiledQuery, need []string) []string {
	var missing []string
	for _, c := range need {
		found := false
		for _, e := range cq.Selection {
			if e.Alias == cq.Root && e.Column && e.Name == c {
				found = true
				break
			}
		}
		if !found && !contains(missing, c) {
			missing = append(missing, c)
		}
	}
	return missing
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
