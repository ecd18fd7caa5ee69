package sql

import (
	"errors"

	"github.com/syssam/veloq"
	"github.com/syssam/veloq/schema"
)

// DialectBuilder prepares statement builders for one dialect and registry.
type DialectBuilder struct {
	dialect string
	reg     *schema.Registry
}

// Dialect returns a DialectBuilder for the given dialect. The registry is
// used to resolve the tables of joins and selections.
//
//	b := sql.Dialect(dialect.Postgres, reg)
//	q := b.Select(books.Star()).From(books).Where(sql.GT(books.C("pages"), 100))
func Dialect(name string, reg *schema.Registry) *DialectBuilder {
	return &DialectBuilder{dialect: name, reg: reg}
}

// Select returns a new Selector with the given projections.
func (d *DialectBuilder) Select(proj ...Projection) *Selector {
	return &Selector{dialect: d.dialect, reg: d.reg, proj: proj}
}

// Insert returns a new InsertBuilder for the given table.
func (d *DialectBuilder) Insert(table *TableRef) *InsertBuilder {
	return &InsertBuilder{dialect: d.dialect, reg: d.reg, table: table}
}

// Update returns a new UpdateBuilder for the given table.
func (d *DialectBuilder) Update(table *TableRef) *UpdateBuilder {
	return &UpdateBuilder{dialect: d.dialect, reg: d.reg, table: table}
}

// Delete returns a new DeleteBuilder for the given table.
func (d *DialectBuilder) Delete(table *TableRef) *DeleteBuilder {
	return &DeleteBuilder{dialect: d.dialect, reg: d.reg, table: table}
}

// Lock strengths of a SELECT.
const (
	lockNone = iota
	lockUpdate
	lockShare
)

type commonTable struct {
	name    string
	columns []string
	query   *Selector
}

// Selector is a builder for SELECT statements.
//
// Build errors are accumulated and returned by Err and Compile, so calls
// can be chained. A Selector is not safe for concurrent use; use Clone to
// derive independent queries.
type Selector struct {
	dialect  string
	reg      *schema.Registry
	proj     []Projection
	graph    *JoinGraph
	where    Expr
	group    []Expr
	having   Expr
	order    []OrderTerm
	limit    *int
	offset   *int
	distinct bool
	lock     int
	ctes     []*commonTable
	errs     []error
}

// Dialect returns the dialect of the selector.
func (s *Selector) Dialect() string { return s.dialect }

// Registry returns the registry of the selector.
func (s *Selector) Registry() *schema.Registry { return s.reg }

// Select replaces the projections of the selector.
func (s *Selector) Select(proj ...Projection) *Selector {
	s.proj = append([]Projection(nil), proj...)
	return s
}

// AppendSelect adds projections to the selector.
func (s *Selector) AppendSelect(proj ...Projection) *Selector {
	s.proj = append(s.proj, proj...)
	return s
}

// Projections returns the projections of the selector.
func (s *Selector) Projections() []Projection {
	return append([]Projection(nil), s.proj...)
}

// From sets the root source of the query.
func (s *Selector) From(src Source) *Selector {
	g, err := NewJoinGraph(s.reg, src)
	if err != nil {
		s.AddError(err)
		return s
	}
	s.graph = g
	return s
}

// Graph returns the join graph of the selector, or nil if From was not
// called.
func (s *Selector) Graph() *JoinGraph { return s.graph }

// Table returns the table of the root source, or nil.
func (s *Selector) Table() *schema.Table {
	if s.graph == nil {
		return nil
	}
	return s.graph.Root().Table
}

// Join joins target from the join cursor. See JoinGraph.Join.
func (s *Selector) Join(target Source, opts ...JoinOption) *Selector {
	if s.graph == nil {
		s.AddError(veloq.NewBuildError("join", "%s joined before FROM", target.SourceName()))
		return s
	}
	if _, err := s.graph.Join(target, opts...); err != nil {
		s.AddError(err)
	}
	return s
}

// LeftJoin is like Join, but makes a LEFT JOIN.
func (s *Selector) LeftJoin(target Source, opts ...JoinOption) *Selector {
	return s.Join(target, append(opts, LeftJoin())...)
}

// JoinFrom joins target from the occurrence of src.
func (s *Selector) JoinFrom(src, target Source, opts ...JoinOption) *Selector {
	if s.graph == nil {
		s.AddError(veloq.NewBuildError("join", "%s joined before FROM", target.SourceName()))
		return s
	}
	if _, err := s.graph.JoinFrom(src, target, opts...); err != nil {
		s.AddError(err)
	}
	return s
}

// Switch moves the join cursor to the occurrence of src.
func (s *Selector) Switch(src Source) *Selector {
	if s.graph == nil {
		s.AddError(veloq.NewBuildError("switch", "no FROM clause"))
		return s
	}
	if err := s.graph.Switch(src); err != nil {
		s.AddError(err)
	}
	return s
}

// Where adds a predicate, ANDed with the existing ones.
func (s *Selector) Where(p Expr) *Selector {
	s.where = And(s.where, p)
	return s
}

// P returns the WHERE predicate of the selector.
func (s *Selector) P() Expr { return s.where }

// GroupBy adds GROUP BY expressions.
func (s *Selector) GroupBy(xs ...Expr) *Selector {
	s.group = append(s.group, xs...)
	return s
}

// Having adds a HAVING predicate, ANDed with the existing ones.
func (s *Selector) Having(p Expr) *Selector {
	s.having = And(s.having, p)
	return s
}

// OrderBy adds ORDER BY terms.
func (s *Selector) OrderBy(terms ...OrderTerm) *Selector {
	s.order = append(s.order, terms...)
	return s
}

// Limit sets the LIMIT of the query.
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset sets the OFFSET of the query.
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// Distinct makes the query SELECT DISTINCT.
func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

// ForUpdate locks the selected rows for update. It is ignored by SQLite.
func (s *Selector) ForUpdate() *Selector {
	s.lock = lockUpdate
	return s
}

// ForShare locks the selected rows in share mode. It is ignored by SQLite.
func (s *Selector) ForShare() *Selector {
	s.lock = lockShare
	return s
}

// With declares a common table expression, referenced with CTE(name).
func (s *Selector) With(name string, q *Selector, columns ...string) *Selector {
	s.ctes = append(s.ctes, &commonTable{name: name, columns: columns, query: q})
	return s
}

// Clone returns a deep copy of the selector. Expression nodes are shared,
// as they are immutable.
func (s *Selector) Clone() *Selector {
	if s == nil {
		return nil
	}
	c := &Selector{
		dialect:  s.dialect,
		reg:      s.reg,
		proj:     append([]Projection(nil), s.proj...),
		where:    s.where,
		group:    append([]Expr(nil), s.group...),
		having:   s.having,
		order:    append([]OrderTerm(nil), s.order...),
		distinct: s.distinct,
		lock:     s.lock,
		ctes:     append([]*commonTable(nil), s.ctes...),
		errs:     append([]error(nil), s.errs...),
	}
	if s.graph != nil {
		c.graph = s.graph.Clone()
	}
	if s.limit != nil {
		n := *s.limit
		c.limit = &n
	}
	if s.offset != nil {
		n := *s.offset
		c.offset = &n
	}
	return c
}

// AddError records a build error.
func (s *Selector) AddError(err error) *Selector {
	if err != nil {
		s.errs = append(s.errs, err)
	}
	return s
}

// Err returns the build errors of the selector, joined.
func (s *Selector) Err() error {
	return errors.Join(s.errs...)
}

// Compile compiles the selector into a CompiledQuery.
func (s *Selector) Compile() (*CompiledQuery, error) {
	return compileQuery(s)
}

// Query returns the statement text and its parameters. Errors are reported
// by Err and Compile; Query returns an empty statement if there is one.
func (s *Selector) Query() (string, []any) {
	cq, err := s.Compile()
	if err != nil {
		return "", nil
	}
	return cq.SQL, cq.Args
}
