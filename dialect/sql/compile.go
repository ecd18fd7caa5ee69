package sql

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/veloq"
	"github.com/syssam/veloq/dialect"
	"github.com/syssam/veloq/schema"
)

// CompiledQuery is the output of compiling a Selector: the statement text,
// its parameters, and the selection map describing each column of a result
// row. A CompiledQuery is immutable and safe for concurrent use.
type CompiledQuery struct {
	SQL       string           `msgpack:"sql"`
	Args      []any            `msgpack:"args"`
	Selection []SelectionEntry `msgpack:"selection"`
	Root      string           `msgpack:"root"` // Alias of the root occurrence; empty without FROM.
	Joins     []JoinInfo       `msgpack:"joins"`
	Dialect   string           `msgpack:"dialect"`
}

// SelectionEntry describes one column of a result row.
type SelectionEntry struct {
	Table     *schema.Table `msgpack:"-"` // Table of the owning occurrence; nil for CTEs, subqueries and FROM-less queries.
	TableName string        `msgpack:"table"`
	Alias     string        `msgpack:"alias"` // Alias of the owning occurrence.
	Name      string        `msgpack:"name"`  // Column or attribute name.
	Index     int           `msgpack:"index"` // Position in the row.
	Column    bool          `msgpack:"column"`
}

// JoinInfo is the compiled form of a join edge, with final aliases.
type JoinInfo struct {
	Source    string        `msgpack:"source"`
	Target    string        `msgpack:"target"`
	Table     *schema.Table `msgpack:"-"`
	TableName string        `msgpack:"table"`
	Attr      string        `msgpack:"attr"`
	Many      bool          `msgpack:"many"`
	Left      bool          `msgpack:"left"`
}

// Segment groups the selection entries owned by one occurrence.
type Segment struct {
	Alias   string
	Table   *schema.Table
	Entries []SelectionEntry
}

// Segments returns the selection grouped by occurrence: the root first, then
// the joined occurrences in join order, then any other owner in order of
// appearance. Occurrences without selected columns are omitted.
func (q *CompiledQuery) Segments() []Segment {
	var (
		segs []Segment
		idx  = make(map[string]int)
	)
	add := func(alias string) {
		if _, ok := idx[alias]; !ok {
			idx[alias] = -1
		}
	}
	order := []string{q.Root}
	add(q.Root)
	for _, j := range q.Joins {
		order = append(order, j.Target)
		add(j.Target)
	}
	for _, e := range q.Selection {
		if _, ok := idx[e.Alias]; !ok {
			order = append(order, e.Alias)
			add(e.Alias)
		}
	}
	for _, alias := range order {
		for _, e := range q.Selection {
			if e.Alias != alias {
				continue
			}
			i := idx[alias]
			if i < 0 {
				i = len(segs)
				idx[alias] = i
				segs = append(segs, Segment{Alias: alias, Table: e.Table})
			}
			segs[i].Entries = append(segs[i].Entries, e)
		}
	}
	return segs
}

// Columns returns the number of columns of a result row.
func (q *CompiledQuery) Columns() int {
	return len(q.Selection)
}

// compiledQuery has no methods, so msgpack encodes its fields.
type compiledQuery CompiledQuery

// MarshalBinary encodes the query with msgpack. Table pointers are not
// encoded; call Bind after decoding.
func (q *CompiledQuery) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal((*compiledQuery)(q))
}

// UnmarshalBinary decodes a query encoded by MarshalBinary.
func (q *CompiledQuery) UnmarshalBinary(data []byte) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode((*compiledQuery)(q))
}

// Bind resolves the table names of a decoded query against a registry.
func (q *CompiledQuery) Bind(reg *schema.Registry) error {
	lookup := func(name string) (*schema.Table, error) {
		if name == "" {
			return nil, nil
		}
		t, ok := reg.Table(name)
		if !ok {
			return nil, fmt.Errorf("dialect/sql: bind: table %q is not registered", name)
		}
		return t, nil
	}
	for i := range q.Selection {
		t, err := lookup(q.Selection[i].TableName)
		if err != nil {
			return err
		}
		q.Selection[i].Table = t
	}
	for i := range q.Joins {
		t, err := lookup(q.Joins[i].TableName)
		if err != nil {
			return err
		}
		q.Joins[i].Table = t
	}
	return nil
}

type exprCtx uint8

const (
	ctxValue exprCtx = iota
	ctxProjection
	ctxOrder
)

// compiler holds the state shared by a statement and all its nested
// queries: the aliases in use and the hoisted common table expressions.
type compiler struct {
	dialect string
	reg     *schema.Registry
	used    map[string]bool
	seq     int
	ctes    []*compiledCTE
	byName  map[string]*compiledCTE
	names   map[string][]string // Output columns of subquery sources, by alias.
	err     error
}

type compiledCTE struct {
	name      string
	columns   []string
	body      *Builder
	canonical string
	names     []string
}

// scope is the name resolution context of one query level.
type scope struct {
	parent *scope
	graph  *JoinGraph
	phys   map[string]string // Graph alias to emitted alias.
}

func (sc *scope) resolve(src Source) (string, *Occurrence, bool) {
	for s := sc; s != nil; s = s.parent {
		if s.graph == nil {
			continue
		}
		if o, ok := s.graph.aliases.Resolve(src); ok {
			return s.phys[o.Alias], o, true
		}
	}
	return "", nil, false
}

type selectResult struct {
	b         *Builder
	selection []SelectionEntry
	root      string
	joins     []JoinInfo
}

func newCompiler(d string, reg *schema.Registry) *compiler {
	return &compiler{
		dialect: d,
		reg:     reg,
		used:    make(map[string]bool),
		byName:  make(map[string]*compiledCTE),
		names:   make(map[string][]string),
	}
}

func compileQuery(s *Selector) (*CompiledQuery, error) {
	c := newCompiler(s.dialect, s.reg)
	res := c.selectStmt(s, nil)
	if c.err != nil {
		return nil, c.err
	}
	b := c.with().Join(res.b)
	text, args := b.Query()
	return &CompiledQuery{
		SQL:       text,
		Args:      args,
		Selection: res.selection,
		Root:      res.root,
		Joins:     res.joins,
		Dialect:   s.dialect,
	}, nil
}

func (c *compiler) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// scope registers the aliases of a graph. Aliases already used by another
// level of the statement are renumbered.
func (c *compiler) scope(parent *scope, g *JoinGraph) *scope {
	sc := &scope{parent: parent, graph: g, phys: make(map[string]string)}
	if g == nil {
		return sc
	}
	for _, o := range g.aliases.occs {
		a := o.Alias
		if c.used[a] {
			a = c.fresh()
		}
		c.used[a] = true
		sc.phys[o.Alias] = a
	}
	return sc
}

func (c *compiler) fresh() string {
	for {
		c.seq++
		a := "t" + strconv.Itoa(c.seq)
		if !c.used[a] {
			return a
		}
	}
}

func (c *compiler) selectStmt(s *Selector, parent *scope) *selectResult {
	if err := s.Err(); err != nil {
		c.fail(err)
		return nil
	}
	g := s.graph
	if g == nil {
		src := c.inferRoot(s, parent)
		if c.err != nil {
			return nil
		}
		if src != nil {
			var err error
			if g, err = NewJoinGraph(s.reg, src); err != nil {
				c.fail(err)
				return nil
			}
		}
	}
	sc := c.scope(parent, g)
	for _, ct := range s.ctes {
		c.commonTable(ct)
	}
	from := NewBuilder(c.dialect)
	if g != nil {
		c.fromClause(from, g, sc)
	}
	res := &selectResult{b: NewBuilder(c.dialect)}
	if g != nil {
		res.root = sc.phys[g.Root().Alias]
		for _, e := range g.edges {
			res.joins = append(res.joins, JoinInfo{
				Source:    sc.phys[e.Source],
				Target:    sc.phys[e.TargetAlias],
				Table:     e.TargetTable,
				TableName: tableName(e.TargetTable),
				Attr:      e.Attr,
				Many:      e.Many,
				Left:      e.Kind == JoinLeft,
			})
		}
	}
	b := res.b
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	res.selection = c.projections(b, s, g, sc)
	if g != nil {
		b.WriteString(" FROM ").Join(from)
	}
	if !isNil(s.where) {
		b.WriteString(" WHERE ")
		c.expr(b, s.where, sc, ctxValue)
	}
	if len(s.group) > 0 {
		b.WriteString(" GROUP BY ")
		for i, x := range s.group {
			if i > 0 {
				b.WriteString(", ")
			}
			c.expr(b, x, sc, ctxOrder)
		}
	}
	if !isNil(s.having) {
		b.WriteString(" HAVING ")
		c.expr(b, s.having, sc, ctxValue)
	}
	if len(s.order) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.order {
			if i > 0 {
				b.WriteString(", ")
			}
			c.expr(b, o.x, sc, ctxOrder)
			if o.desc {
				b.WriteString(" DESC")
			}
		}
	}
	if s.limit != nil {
		b.WriteString(" LIMIT ").Arg(*s.limit)
	}
	if s.offset != nil {
		if s.limit == nil {
			switch c.dialect {
			case dialect.SQLite:
				b.WriteString(" LIMIT -1")
			case dialect.MySQL:
				b.WriteString(" LIMIT 18446744073709551615")
			}
		}
		b.WriteString(" OFFSET ").Arg(*s.offset)
	}
	if c.dialect != dialect.SQLite {
		switch s.lock {
		case lockUpdate:
			b.WriteString(" FOR UPDATE")
		case lockShare:
			b.WriteString(" FOR SHARE")
		}
	}
	if c.err != nil {
		return nil
	}
	return res
}

// inferRoot returns the single source projected by a query without FROM.
// Sources of enclosing queries are ignored.
func (c *compiler) inferRoot(s *Selector, parent *scope) Source {
	var found []Source
	visit := func(src Source) {
		if src == nil {
			return
		}
		if parent != nil {
			if _, _, ok := parent.resolve(src); ok {
				return
			}
		}
		for _, f := range found {
			if sameSource(f, src) {
				return
			}
		}
		found = append(found, src)
	}
	for _, p := range s.proj {
		switch p := p.(type) {
		case *StarProjection:
			visit(p.src)
		case Expr:
			Walk(p, func(x Expr) bool {
				switch x := x.(type) {
				case *ColumnExpr:
					visit(x.src)
				case *AliasExpr:
					visit(x.owner)
				}
				return true
			})
		}
	}
	switch len(found) {
	case 0:
		return nil
	case 1:
		return found[0]
	default:
		names := make([]string, len(found))
		for i, f := range found {
			names[i] = f.SourceName()
		}
		c.fail(veloq.NewCompileError("multiple sources (%s) projected without a FROM clause", strings.Join(names, ", ")))
		return nil
	}
}

func (c *compiler) fromClause(b *Builder, g *JoinGraph, sc *scope) {
	c.source(b, g.Root(), sc)
	for _, e := range g.edges {
		b.Pad().WriteString(e.Kind.String()).Pad()
		c.source(b, g.aliases.byAlias[e.TargetAlias], sc)
		b.WriteString(" ON ")
		c.expr(b, e.On, sc, ctxValue)
	}
}

func (c *compiler) source(b *Builder, o *Occurrence, sc *scope) {
	phys := sc.phys[o.Alias]
	switch src := o.Source.(type) {
	case *TableRef:
		if o.Table != nil {
			b.Ident(o.Table.Name)
		} else {
			b.Ident(src.name)
		}
	case *SubqueryExpr:
		res := c.selectStmt(src.query, sc.parent)
		if res == nil {
			return
		}
		names := make([]string, len(res.selection))
		for i, e := range res.selection {
			names[i] = e.Name
		}
		c.names[phys] = names
		b.WriteByte('(').Join(res.b).WriteByte(')')
	}
	b.WriteString(" AS ").Ident(phys)
}

// starColumns returns the columns a star projection of o expands to.
func (c *compiler) starColumns(o *Occurrence, phys string) []string {
	if o.Table != nil {
		return o.Table.ColumnNames()
	}
	if r, ok := o.Source.(*TableRef); ok && r.cte {
		if ct, ok := c.byName[strings.ToLower(r.name)]; ok {
			return ct.names
		}
		return nil
	}
	return c.names[phys]
}

func (c *compiler) projections(b *Builder, s *Selector, g *JoinGraph, sc *scope) []SelectionEntry {
	var (
		sel   []SelectionEntry
		proj  = s.proj
		root  string
		rootT *schema.Table
	)
	if g != nil {
		root, rootT = sc.phys[g.Root().Alias], g.Root().Table
		if len(proj) == 0 {
			proj = []Projection{&StarProjection{src: occurrenceRef(g.Root())}}
		}
	}
	if len(proj) == 0 {
		c.fail(veloq.NewCompileError("empty select list"))
		return nil
	}
	add := func(e SelectionEntry) {
		e.Index = len(sel)
		e.TableName = tableName(e.Table)
		sel = append(sel, e)
	}
	for i, p := range proj {
		if i > 0 {
			b.WriteString(", ")
		}
		switch p := p.(type) {
		case *StarProjection:
			phys, o, ok := sc.resolve(p.src)
			if !ok {
				c.fail(unresolved(p.src))
				return nil
			}
			cols := c.starColumns(o, phys)
			if len(cols) == 0 {
				c.fail(veloq.NewCompileError("cannot expand the columns of %s", p.src.SourceName()))
				return nil
			}
			for j, name := range cols {
				if j > 0 {
					b.WriteString(", ")
				}
				b.Qualified(phys, name)
				add(SelectionEntry{Table: o.Table, Alias: phys, Name: name, Column: o.Table != nil})
			}
		case Expr:
			c.expr(b, p, sc, ctxProjection)
			add(c.scalarEntry(p, sc, root, rootT))
		default:
			c.fail(veloq.NewCompileError("unexpected projection %T", p))
			return nil
		}
	}
	return sel
}

// scalarEntry returns the selection entry of an expression projection: the
// column of its source, the attribute of its owner, or a named attribute of
// the root.
func (c *compiler) scalarEntry(x Expr, sc *scope, root string, rootT *schema.Table) SelectionEntry {
	switch x := x.(type) {
	case *ColumnExpr:
		if x.src == nil {
			return SelectionEntry{Table: rootT, Alias: root, Name: x.name, Column: hasColumn(rootT, x.name)}
		}
		phys, o, ok := sc.resolve(x.src)
		if !ok {
			return SelectionEntry{Name: x.name}
		}
		return SelectionEntry{Table: o.Table, Alias: phys, Name: x.name, Column: hasColumn(o.Table, x.name)}
	case *AliasExpr:
		if x.owner != nil {
			if phys, o, ok := sc.resolve(x.owner); ok {
				return SelectionEntry{Table: o.Table, Alias: phys, Name: x.name}
			}
			c.fail(unresolved(x.owner))
		}
		return SelectionEntry{Table: rootT, Alias: root, Name: x.name}
	case *FuncExpr:
		return SelectionEntry{Table: rootT, Alias: root, Name: strings.ToLower(x.name)}
	default:
		return SelectionEntry{Table: rootT, Alias: root, Name: "expr"}
	}
}

func (c *compiler) commonTable(ct *commonTable) {
	key := strings.ToLower(ct.name)
	canonical := canonicalText(c.dialect, c.reg, ct.query)
	if prev, ok := c.byName[key]; ok {
		if prev.canonical != canonical {
			c.fail(veloq.NewCompileError("conflicting definitions of common table expression %q", ct.name))
		}
		return
	}
	res := c.selectStmt(ct.query, nil)
	if res == nil {
		return
	}
	cc := &compiledCTE{name: ct.name, columns: ct.columns, body: res.b, canonical: canonical, names: ct.columns}
	if len(cc.names) == 0 {
		for _, e := range res.selection {
			cc.names = append(cc.names, e.Name)
		}
	}
	c.byName[key] = cc
	c.ctes = append(c.ctes, cc)
}

// canonicalText compiles a query on its own, so that two definitions can be
// compared independently of the aliases used by the enclosing statement.
func canonicalText(d string, reg *schema.Registry, q *Selector) string {
	c := newCompiler(d, reg)
	res := c.selectStmt(q, nil)
	if c.err != nil {
		return "error: " + c.err.Error()
	}
	text, args := c.with().Join(res.b).Query()
	return fmt.Sprintf("%s %v", text, args)
}

// with returns the WITH clause of all hoisted common table expressions.
func (c *compiler) with() *Builder {
	b := NewBuilder(c.dialect)
	if len(c.ctes) == 0 {
		return b
	}
	b.WriteString("WITH ")
	for i, ct := range c.ctes {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(ct.name)
		if len(ct.columns) > 0 {
			b.WriteString(" (")
			for j, col := range ct.columns {
				if j > 0 {
					b.WriteString(", ")
				}
				b.Ident(col)
			}
			b.WriteByte(')')
		}
		b.WriteString(" AS (").Join(ct.body).WriteByte(')')
	}
	return b.Pad()
}

func (c *compiler) expr(b *Builder, x Expr, sc *scope, ctx exprCtx) {
	switch x := x.(type) {
	case *ColumnExpr:
		if x.src == nil {
			b.Ident(x.name)
			return
		}
		phys, _, ok := sc.resolve(x.src)
		if !ok {
			c.fail(unresolved(x.src))
			return
		}
		b.Qualified(phys, x.name)
	case *LiteralExpr:
		switch {
		case x.isList:
			b.WriteByte('(').Args(x.list...).WriteByte(')')
		case x.value == nil:
			b.WriteString("NULL")
		default:
			b.Arg(x.value)
		}
	case *BinaryExpr:
		c.binary(b, x, sc)
	case *UnaryExpr:
		c.unary(b, x, sc)
	case *FuncExpr:
		b.WriteString(x.name).WriteByte('(')
		if x.distinct {
			b.WriteString("DISTINCT ")
		}
		for i, a := range x.args {
			if i > 0 {
				b.WriteString(", ")
			}
			c.expr(b, a, sc, ctxValue)
		}
		b.WriteByte(')')
	case *SubqueryExpr:
		res := c.selectStmt(x.query, sc)
		if res == nil {
			return
		}
		b.WriteByte('(').Join(res.b).WriteByte(')')
	case *AliasExpr:
		switch ctx {
		case ctxProjection:
			c.expr(b, x.x, sc, ctxValue)
			b.WriteString(" AS ").Ident(x.name)
		case ctxOrder:
			b.Ident(x.name)
		default:
			c.expr(b, x.x, sc, ctx)
		}
	case *RawExpr:
		if n := Placeholders(x.sql); n != len(x.args) {
			c.fail(veloq.NewBuildError("raw", "fragment %q has %d placeholders for %d args", x.sql, n, len(x.args)))
			return
		}
		b.Raw(x.sql, x.args)
	default:
		c.fail(veloq.NewCompileError("unexpected expression %T", x))
	}
}

func (c *compiler) binary(b *Builder, x *BinaryExpr, sc *scope) {
	l, r := x.l, x.r
	switch x.op {
	case OpEQ, OpNEQ, OpIs, OpIsNot:
		if isNullLiteral(l) && !isNullLiteral(r) {
			l, r = r, l
		}
		if isNullLiteral(r) {
			c.operand(b, l, sc, x, false)
			if x.op == OpEQ || x.op == OpIs {
				b.WriteString(" IS NULL")
			} else {
				b.WriteString(" IS NOT NULL")
			}
			return
		}
	case OpIn, OpNotIn:
		if lit, ok := r.(*LiteralExpr); ok && lit.isList && len(lit.list) == 0 {
			if x.op == OpIn {
				b.WriteString("1 = 0")
			} else {
				b.WriteString("1 = 1")
			}
			return
		}
		c.operand(b, l, sc, x, false)
		b.Pad().WriteString(string(x.op)).Pad()
		switch r := r.(type) {
		case *SubqueryExpr:
			c.expr(b, r, sc, ctxValue)
		case *LiteralExpr:
			if r.isList {
				c.expr(b, r, sc, ctxValue)
			} else {
				b.WriteByte('(').Arg(r.value).WriteByte(')')
			}
		default:
			b.WriteByte('(')
			c.expr(b, r, sc, ctxValue)
			b.WriteByte(')')
		}
		return
	case OpILike:
		if c.dialect != dialect.Postgres {
			b.WriteString("LOWER(")
			c.expr(b, l, sc, ctxValue)
			b.WriteString(") LIKE LOWER(")
			c.expr(b, r, sc, ctxValue)
			b.WriteByte(')')
			c.escape(b, x)
			return
		}
	case OpConcat:
		if c.dialect == dialect.MySQL {
			b.WriteString("CONCAT(")
			c.expr(b, l, sc, ctxValue)
			b.WriteString(", ")
			c.expr(b, r, sc, ctxValue)
			b.WriteByte(')')
			return
		}
	}
	c.operand(b, l, sc, x, false)
	b.Pad().WriteString(string(x.op)).Pad()
	c.operand(b, r, sc, x, true)
	c.escape(b, x)
}

func (c *compiler) escape(b *Builder, x *BinaryExpr) {
	if x.escape && c.dialect == dialect.SQLite {
		b.WriteString(` ESCAPE '\'`)
	}
}

// operand writes an operand of a binary expression, in parentheses when it
// binds looser than its parent.
func (c *compiler) operand(b *Builder, x Expr, sc *scope, parent *BinaryExpr, right bool) {
	pp, cp := precedence(parent), precedence(x)
	paren := cp < pp || cp == pp && (pp == 4 || right && !associative(parent.op))
	if paren {
		b.WriteByte('(')
	}
	c.expr(b, x, sc, ctxValue)
	if paren {
		b.WriteByte(')')
	}
}

func (c *compiler) unary(b *Builder, x *UnaryExpr, sc *scope) {
	switch x.op {
	case "EXISTS", "NOT EXISTS":
		b.WriteString(x.op).Pad()
		c.expr(b, x.x, sc, ctxValue)
	default:
		b.WriteString(x.op)
		if x.op == "NOT" {
			b.Pad()
		}
		_, paren := x.x.(*BinaryExpr)
		if paren {
			b.WriteByte('(')
		}
		c.expr(b, x.x, sc, ctxValue)
		if paren {
			b.WriteByte(')')
		}
	}
}

func isNullLiteral(x Expr) bool {
	l, ok := x.(*LiteralExpr)
	return ok && l.IsNull()
}

func hasColumn(t *schema.Table, name string) bool {
	return t != nil && t.ColumnIndex(name) >= 0
}

func tableName(t *schema.Table) string {
	if t == nil {
		return ""
	}
	return t.Name
}

func unresolved(src Source) error {
	return veloq.NewCompileError("unresolved reference to %s: it is not part of the join graph", src.SourceName())
}
