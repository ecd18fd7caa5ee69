package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/veloq"
	"github.com/syssam/veloq/schema"
)

// JoinKind is the kind of a join.
type JoinKind uint8

// Join kinds.
const (
	JoinInner JoinKind = iota
	JoinLeft
)

// String returns the SQL keyword of the join kind.
func (k JoinKind) String() string {
	if k == JoinLeft {
		return "LEFT JOIN"
	}
	return "JOIN"
}

// JoinEdge is one join of a join graph: the occurrence it starts from, the
// joined source with its alias, the ON predicate, and the relation attribute
// under which joined instances are attached in the result graph.
type JoinEdge struct {
	Source      string        // Alias of the source occurrence.
	Target      Source        // Joined source.
	TargetTable *schema.Table // Table of the joined source; nil for CTEs and subqueries.
	TargetAlias string        // Alias of the joined occurrence.
	On          Expr
	Kind        JoinKind
	Attr        string             // Relation attribute on the source instance.
	FK          *schema.ForeignKey // Foreign key the predicate equates, if any.
	Many        bool               // The target is on the many side of FK.
}

// Occurrence is one appearance of a source in a join graph.
type Occurrence struct {
	Alias  string
	Source Source
	Table  *schema.Table // nil for CTEs and subqueries.
	Edge   *JoinEdge     // Edge that introduced the occurrence; nil for the root.
}

// AliasTable maps sources of a join graph to their occurrences.
type AliasTable struct {
	occs    []*Occurrence
	byAlias map[string]*Occurrence
}

func newAliasTable() *AliasTable {
	return &AliasTable{byAlias: make(map[string]*Occurrence)}
}

// Occurrences returns all occurrences in join order, the root first.
func (a *AliasTable) Occurrences() []*Occurrence {
	return append([]*Occurrence(nil), a.occs...)
}

// Aliases returns all aliases in join order.
func (a *AliasTable) Aliases() []string {
	names := make([]string, len(a.occs))
	for i, o := range a.occs {
		names[i] = o.Alias
	}
	return names
}

// Lookup returns the occurrence with the given alias.
func (a *AliasTable) Lookup(alias string) (*Occurrence, bool) {
	o, ok := a.byAlias[alias]
	return o, ok
}

// Resolve returns the occurrence a source refers to. A pre-aliased source
// resolves to the occurrence carrying its alias; a plain table reference to
// the first occurrence of its table.
func (a *AliasTable) Resolve(src Source) (*Occurrence, bool) {
	switch src := src.(type) {
	case *TableRef:
		if src.alias != "" {
			o, ok := a.byAlias[src.alias]
			return o, ok
		}
		for _, o := range a.occs {
			if r, ok := o.Source.(*TableRef); ok && strings.EqualFold(r.name, src.name) {
				return o, true
			}
		}
	case *SubqueryExpr:
		if src.alias != "" {
			o, ok := a.byAlias[src.alias]
			return o, ok
		}
		for _, o := range a.occs {
			if o.Source == Source(src) {
				return o, true
			}
		}
	}
	return nil, false
}

func (a *AliasTable) add(o *Occurrence) {
	a.occs = append(a.occs, o)
	a.byAlias[o.Alias] = o
}

func (a *AliasTable) clone() *AliasTable {
	c := &AliasTable{
		occs:    append([]*Occurrence(nil), a.occs...),
		byAlias: make(map[string]*Occurrence, len(a.byAlias)),
	}
	for k, v := range a.byAlias {
		c.byAlias[k] = v
	}
	return c
}

type joinOptions struct {
	on   Expr
	via  string
	kind JoinKind
	attr string
}

// JoinOption configures a join.
type JoinOption func(*joinOptions)

// On sets an explicit join predicate.
func On(x Expr) JoinOption {
	return func(o *joinOptions) { o.on = x }
}

// Via selects the foreign-key column used to infer the join predicate when
// more than one foreign key connects the two tables.
func Via(column string) JoinOption {
	return func(o *joinOptions) { o.via = column }
}

// LeftJoin makes the join a LEFT JOIN.
func LeftJoin() JoinOption {
	return func(o *joinOptions) { o.kind = JoinLeft }
}

// Attr overrides the relation attribute the joined instances are attached
// under.
func Attr(name string) JoinOption {
	return func(o *joinOptions) { o.attr = name }
}

// JoinGraph records the joins of a query. Joins are made from a cursor that
// starts at the root and moves to every newly joined occurrence.
//
// A JoinGraph is not safe for concurrent use.
type JoinGraph struct {
	reg     *schema.Registry
	aliases *AliasTable
	edges   []*JoinEdge
	cursor  *Occurrence
	seq     int
}

// NewJoinGraph returns a join graph rooted at the given source.
func NewJoinGraph(reg *schema.Registry, root Source) (*JoinGraph, error) {
	g := &JoinGraph{reg: reg, aliases: newAliasTable()}
	t, err := g.tableOf("from", root)
	if err != nil {
		return nil, err
	}
	alias, err := g.alias(root)
	if err != nil {
		return nil, err
	}
	o := &Occurrence{Alias: alias, Source: root, Table: t}
	g.aliases.add(o)
	g.cursor = o
	return g, nil
}

// Root returns the root occurrence.
func (g *JoinGraph) Root() *Occurrence {
	return g.aliases.occs[0]
}

// Cursor returns the occurrence the next join starts from.
func (g *JoinGraph) Cursor() *Occurrence {
	return g.cursor
}

// Edges returns the join edges in join order.
func (g *JoinGraph) Edges() []*JoinEdge {
	return append([]*JoinEdge(nil), g.edges...)
}

// Aliases returns the alias table of the graph.
func (g *JoinGraph) Aliases() *AliasTable {
	return g.aliases
}

// Switch moves the cursor to the occurrence of src.
func (g *JoinGraph) Switch(src Source) error {
	o, ok := g.aliases.Resolve(src)
	if !ok {
		return veloq.NewBuildError("switch", "%s is not part of the join graph", src.SourceName())
	}
	g.cursor = o
	return nil
}

// JoinFrom joins target from the occurrence of src.
func (g *JoinGraph) JoinFrom(src, target Source, opts ...JoinOption) (*JoinEdge, error) {
	if err := g.Switch(src); err != nil {
		return nil, err
	}
	return g.Join(target, opts...)
}

// Join joins target from the cursor and moves the cursor to the new
// occurrence.
//
// Without an On option, the predicate is inferred from the single foreign
// key connecting the two tables, in either direction. Zero candidates
// return a *veloq.NoImplicitJoinError and several a *veloq.AmbiguousJoinError.
func (g *JoinGraph) Join(target Source, opts ...JoinOption) (*JoinEdge, error) {
	var o joinOptions
	for _, opt := range opts {
		opt(&o)
	}
	cur := g.cursor
	tt, err := g.tableOf("join", target)
	if err != nil {
		return nil, err
	}
	alias, err := g.alias(target)
	if err != nil {
		return nil, err
	}
	e := &JoinEdge{
		Source:      cur.Alias,
		Target:      target,
		TargetTable: tt,
		TargetAlias: alias,
		Kind:        o.kind,
	}
	if o.on != nil {
		e.On = o.on
		if cur.Table != nil && tt != nil {
			e.FK, e.Many = g.matchFK(cur, target, tt, o.on)
		}
	} else {
		fk, err := g.infer(cur, target, tt, o.via)
		if err != nil {
			return nil, err
		}
		src := occurrenceRef(cur)
		dst := &TableRef{name: tt.Name, table: tt, alias: alias}
		if fk.Owner() == cur.Table {
			e.On = EQ(src.C(fk.Column), dst.C(fk.RefColumn))
		} else {
			e.On = EQ(dst.C(fk.Column), src.C(fk.RefColumn))
			e.Many = true
		}
		e.FK = fk
	}
	switch {
	case o.attr != "":
		e.Attr = o.attr
	case e.FK != nil && e.Many:
		e.Attr = e.FK.Ref
	case e.FK != nil:
		e.Attr = e.FK.Name
	default:
		e.Attr = target.SourceName()
	}
	occ := &Occurrence{Alias: alias, Source: target, Table: tt, Edge: e}
	g.aliases.add(occ)
	g.edges = append(g.edges, e)
	g.cursor = occ
	return e, nil
}

// Clone returns a copy of the graph. Occurrences and edges are shared, as
// they are never modified after creation.
func (g *JoinGraph) Clone() *JoinGraph {
	return &JoinGraph{
		reg:     g.reg,
		aliases: g.aliases.clone(),
		edges:   append([]*JoinEdge(nil), g.edges...),
		cursor:  g.cursor,
		seq:     g.seq,
	}
}

func (g *JoinGraph) infer(cur *Occurrence, target Source, tt *schema.Table, via string) (*schema.ForeignKey, error) {
	if cur.Table == nil || tt == nil {
		return nil, &veloq.NoImplicitJoinError{From: cur.Source.SourceName(), To: target.SourceName()}
	}
	fks := g.reg.Relations(cur.Table, tt)
	if via != "" {
		var matched []*schema.ForeignKey
		for _, fk := range fks {
			if fk.Column == via {
				matched = append(matched, fk)
			}
		}
		fks = matched
	}
	switch len(fks) {
	case 0:
		return nil, &veloq.NoImplicitJoinError{From: cur.Table.Name, To: tt.Name}
	case 1:
		return fks[0], nil
	default:
		names := make([]string, len(fks))
		for i, fk := range fks {
			names[i] = fk.String()
		}
		return nil, &veloq.AmbiguousJoinError{From: cur.Table.Name, To: tt.Name, Candidates: names}
	}
}

// matchFK recognizes an explicit predicate that equates the two columns of
// a foreign key between the cursor and the target.
func (g *JoinGraph) matchFK(cur *Occurrence, target Source, tt *schema.Table, on Expr) (*schema.ForeignKey, bool) {
	b, ok := on.(*BinaryExpr)
	if !ok || b.op != OpEQ {
		return nil, false
	}
	l, lok := b.l.(*ColumnExpr)
	r, rok := b.r.(*ColumnExpr)
	if !lok || !rok || l.src == nil || r.src == nil {
		return nil, false
	}
	srcCol, dstCol := l, r
	if g.targetSide(cur, target, l) && !g.targetSide(cur, target, r) {
		srcCol, dstCol = r, l
	}
	if !g.sourceSide(cur, srcCol) {
		return nil, false
	}
	for _, fk := range g.reg.Relations(cur.Table, tt) {
		switch {
		case fk.Owner() == cur.Table && fk.Target() == tt && srcCol.name == fk.Column && dstCol.name == fk.RefColumn:
			return fk, false
		case fk.Owner() == tt && fk.Target() == cur.Table && dstCol.name == fk.Column && srcCol.name == fk.RefColumn:
			return fk, true
		}
	}
	return nil, false
}

func (g *JoinGraph) targetSide(cur *Occurrence, target Source, c *ColumnExpr) bool {
	if !sameSource(c.src, target) {
		return false
	}
	o, ok := g.aliases.Resolve(c.src)
	return !ok || o != cur
}

func (g *JoinGraph) sourceSide(cur *Occurrence, c *ColumnExpr) bool {
	if o, ok := g.aliases.Resolve(c.src); ok && o == cur {
		return true
	}
	r, ok := c.src.(*TableRef)
	return ok && r.alias == "" && cur.Table != nil && strings.EqualFold(r.name, cur.Table.Name)
}

func (g *JoinGraph) tableOf(op string, src Source) (*schema.Table, error) {
	switch src := src.(type) {
	case *TableRef:
		if src.cte {
			return nil, nil
		}
		if g.reg == nil {
			return nil, veloq.NewBuildError(op, "no registry to resolve table %q", src.name)
		}
		t, ok := g.reg.Table(src.name)
		if !ok {
			return nil, veloq.NewBuildError(op, "table %q is not registered", src.name)
		}
		return t, nil
	case *SubqueryExpr:
		return nil, nil
	case nil:
		return nil, veloq.NewBuildError(op, "nil source")
	default:
		return nil, veloq.NewBuildError(op, "unexpected source %T", src)
	}
}

// alias returns the alias of a new occurrence: the pre-assigned one, or the
// next free "t<N>".
func (g *JoinGraph) alias(src Source) (string, error) {
	var explicit string
	switch src := src.(type) {
	case *TableRef:
		explicit = src.alias
	case *SubqueryExpr:
		explicit = src.alias
	}
	if explicit != "" {
		if _, ok := g.aliases.byAlias[explicit]; ok {
			return "", veloq.NewBuildError("join", "duplicate alias %q", explicit)
		}
		return explicit, nil
	}
	for {
		g.seq++
		a := "t" + strconv.Itoa(g.seq)
		if _, ok := g.aliases.byAlias[a]; !ok {
			return a, nil
		}
	}
}

// occurrenceRef returns a reference pinned to the alias of an occurrence.
func occurrenceRef(o *Occurrence) *TableRef {
	name := o.Alias
	if o.Table != nil {
		name = o.Table.Name
	} else if r, ok := o.Source.(*TableRef); ok {
		name = r.name
	}
	return &TableRef{name: name, table: o.Table, alias: o.Alias}
}

func sameSource(a, b Source) bool {
	switch a := a.(type) {
	case *TableRef:
		b, ok := b.(*TableRef)
		if !ok {
			return false
		}
		if a.alias != "" || b.alias != "" {
			return a.alias == b.alias
		}
		return strings.EqualFold(a.name, b.name)
	case *SubqueryExpr:
		b, ok := b.(*SubqueryExpr)
		if !ok {
			return false
		}
		if a.alias != "" || b.alias != "" {
			return a.alias == b.alias
		}
		return a == b
	}
	return false
}
