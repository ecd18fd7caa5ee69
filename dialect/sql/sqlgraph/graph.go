package sqlgraph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/syssam/veloq"
	"github.com/syssam/veloq/dialect/sql"
	"github.com/syssam/veloq/schema"
)

// Instance is one materialized object of a result graph: the column values
// of one table row, its to-one relations in Edges and its to-many relations
// in Lists.
//
// A relation attribute that is present in Edges with a nil value was loaded
// and found empty (e.g. an outer join without match). A to-many attribute,
// once attached, is never nil.
type Instance struct {
	Table  *schema.Table          // nil for CTEs, subqueries and FROM-less queries.
	Values map[string]any         // Column values by column name.
	Edges  map[string]*Instance   // To-one relations by attribute name.
	Lists  map[string][]*Instance // To-many relations by attribute name.
	Extra  map[string]any         // Named scalars that are not columns of Table.
}

// NewInstance returns an empty instance of the given table.
func NewInstance(t *schema.Table) *Instance {
	return &Instance{
		Table:  t,
		Values: make(map[string]any),
		Edges:  make(map[string]*Instance),
		Lists:  make(map[string][]*Instance),
		Extra:  make(map[string]any),
	}
}

// ID returns the primary-key value of the instance, or nil.
func (i *Instance) ID() any {
	if i.Table == nil {
		return nil
	}
	pk := i.Table.PrimaryKey()
	if pk == nil {
		return nil
	}
	return i.Values[pk.Name]
}

// Get returns the value of the named column or scalar.
func (i *Instance) Get(name string) (any, bool) {
	if v, ok := i.Values[name]; ok {
		return v, true
	}
	v, ok := i.Extra[name]
	return v, ok
}

// Edge returns the to-one relation stored under name. It returns a
// *veloq.NotLoadedError if the relation was never attached.
func (i *Instance) Edge(name string) (*Instance, error) {
	e, ok := i.Edges[name]
	if !ok {
		return nil, veloq.NewNotLoadedError(name)
	}
	return e, nil
}

// List returns the to-many relation stored under name. It returns a
// *veloq.NotLoadedError if the relation was never attached.
func (i *Instance) List(name string) ([]*Instance, error) {
	l, ok := i.Lists[name]
	if !ok {
		return nil, veloq.NewNotLoadedError(name)
	}
	return l, nil
}

// String returns the table name and the column values of the instance.
func (i *Instance) String() string {
	var b strings.Builder
	if i.Table != nil {
		b.WriteString(i.Table.Name)
	}
	b.WriteByte('(')
	names := make([]string, 0, len(i.Values))
	if i.Table != nil {
		for _, c := range i.Table.Columns {
			if _, ok := i.Values[c.Name]; ok {
				names = append(names, c.Name)
			}
		}
	} else {
		for name := range i.Values {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for j, name := range names {
		if j > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", name, i.Values[name])
	}
	b.WriteByte(')')
	return b.String()
}

// segment is a precomputed selection segment of a compiled query.
type segment struct {
	alias   string
	table   *schema.Table
	entries []sql.SelectionEntry
	pk      int // Row index of the primary-key column, or -1.
}

// identity identifies an instance in the identity cache.
type identity struct {
	table *schema.Table
	id    string
}

// link identifies one element of a to-many list.
type link struct {
	parent *Instance
	attr   string
	child  *Instance
}

// IteratorOption configures an Iterator.
type IteratorOption func(*Iterator)

// WithIdentityCache makes the iterator reuse instances by table and primary
// key within one iteration. A parent repeated by a one-to-many join then
// collects its children in a single list.
func WithIdentityCache() IteratorOption {
	return func(it *Iterator) {
		it.cache = make(map[identity]*Instance)
		it.links = make(map[link]struct{})
	}
}

// Iterator turns the rows of a compiled query into instances, one top-level
// instance per row. An Iterator is not safe for concurrent use.
//
//	it := sqlgraph.NewIterator(cq, rows)
//	defer it.Close()
//	for it.Next() {
//		author := it.Instance()
//		books, _ := author.List("books")
//		...
//	}
//	if err := it.Err(); err != nil {
//		return err
//	}
type Iterator struct {
	cq      *sql.CompiledQuery
	rows    sql.ColumnScanner
	root    *segment
	targets map[string]*segment
	needed  map[string]bool // Join targets with selected columns, or leading to some.
	extra   []*segment
	cache   map[identity]*Instance
	links   map[link]struct{}
	cur     *Instance
	checked bool
	closed  bool
	err     error
}

// NewIterator returns an iterator over rows, which must be the result of
// executing cq.
func NewIterator(cq *sql.CompiledQuery, rows sql.ColumnScanner, opts ...IteratorOption) *Iterator {
	it := &Iterator{
		cq:      cq,
		rows:    rows,
		targets: make(map[string]*segment),
	}
	for _, opt := range opts {
		opt(it)
	}
	joined := make(map[string]bool, len(cq.Joins))
	for _, j := range cq.Joins {
		joined[j.Target] = true
	}
	for _, s := range cq.Segments() {
		seg := &segment{alias: s.Alias, table: s.Table, entries: s.Entries, pk: -1}
		if pk := primaryKey(s.Table); pk != "" {
			for _, e := range s.Entries {
				if e.Column && e.Name == pk {
					seg.pk = e.Index
				}
			}
		}
		switch {
		case s.Alias == cq.Root:
			it.root = seg
		case joined[s.Alias]:
			it.targets[s.Alias] = seg
		default:
			it.extra = append(it.extra, seg)
		}
	}
	it.needed = make(map[string]bool, len(cq.Joins))
	for i := len(cq.Joins) - 1; i >= 0; i-- {
		j := cq.Joins[i]
		if _, ok := it.targets[j.Target]; ok || it.needed[j.Target] {
			it.needed[j.Target] = true
			it.needed[j.Source] = true
		}
	}
	return it
}

// Next advances to the next row. It returns false when the rows are
// exhausted or an error occurred; the rows are then closed.
func (it *Iterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return it.fail(fmt.Errorf("sqlgraph: rows: %w", sql.NormalizeError(err)))
		}
		it.Close()
		return false
	}
	if !it.checked {
		it.checked = true
		cols, err := it.rows.Columns()
		if err != nil {
			return it.fail(fmt.Errorf("sqlgraph: columns: %w", err))
		}
		if len(cols) != it.cq.Columns() {
			return it.fail(fmt.Errorf("sqlgraph: row has %d columns, selection expects %d", len(cols), it.cq.Columns()))
		}
	}
	row := make([]any, it.cq.Columns())
	dest := make([]any, len(row))
	for i := range row {
		dest[i] = &row[i]
	}
	if err := it.rows.Scan(dest...); err != nil {
		return it.fail(fmt.Errorf("sqlgraph: scan: %w", sql.NormalizeError(err)))
	}
	it.cur = it.build(row)
	return true
}

// Instance returns the top-level instance of the current row.
func (it *Iterator) Instance() *Instance {
	return it.cur
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close closes the underlying rows. It is safe to call Close more than
// once.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.cur = nil
	return it.rows.Close()
}

// All consumes the iterator and returns the top-level instance of every row.
func (it *Iterator) All() ([]*Instance, error) {
	defer it.Close()
	var all []*Instance
	for it.Next() {
		all = append(all, it.Instance())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return all, nil
}

func (it *Iterator) fail(err error) bool {
	it.err = err
	it.Close()
	return false
}

// build materializes one row: the root segment first, then the join
// targets in join order, attached to the instance of their join source.
func (it *Iterator) build(row []any) *Instance {
	var root *Instance
	if it.root != nil {
		root, _ = it.materialize(it.root, row)
	} else {
		root = NewInstance(nil)
	}
	byAlias := map[string]*Instance{it.cq.Root: root}
	for _, j := range it.cq.Joins {
		src := byAlias[j.Source]
		if src == nil || !it.needed[j.Target] {
			continue
		}
		var dst *Instance
		if seg, ok := it.targets[j.Target]; ok {
			inst, null := it.materialize(seg, row)
			if !null || !j.Left {
				dst = inst
			}
		} else if !j.Left {
			dst = NewInstance(j.Table)
		}
		it.attach(src, j, dst)
		if dst != nil {
			byAlias[j.Target] = dst
		}
	}
	for _, seg := range it.extra {
		for _, e := range seg.entries {
			root.Extra[e.Name] = row[e.Index]
		}
	}
	return root
}

// materialize returns the instance of seg in row, and whether all its
// values are NULL.
func (it *Iterator) materialize(seg *segment, row []any) (*Instance, bool) {
	null := true
	for _, e := range seg.entries {
		if row[e.Index] != nil {
			null = false
			break
		}
	}
	var key identity
	if it.cache != nil && seg.pk >= 0 && row[seg.pk] != nil {
		key = identity{table: seg.table, id: keyOf(row[seg.pk])}
		if inst, ok := it.cache[key]; ok {
			return inst, null
		}
	}
	inst := NewInstance(seg.table)
	for _, e := range seg.entries {
		if e.Column {
			inst.Values[e.Name] = row[e.Index]
		} else {
			inst.Extra[e.Name] = row[e.Index]
		}
	}
	if key.table != nil {
		it.cache[key] = inst
	}
	return inst, null
}

func (it *Iterator) attach(src *Instance, j sql.JoinInfo, dst *Instance) {
	attr := j.Attr
	if attr == "" {
		attr = j.Target
	}
	if !j.Many {
		if dst != nil || src.Edges[attr] == nil {
			src.Edges[attr] = dst
		}
		return
	}
	if _, ok := src.Lists[attr]; !ok {
		src.Lists[attr] = []*Instance{}
	}
	if dst == nil {
		return
	}
	if it.links != nil {
		l := link{parent: src, attr: attr, child: dst}
		if _, ok := it.links[l]; ok {
			return
		}
		it.links[l] = struct{}{}
	}
	src.Lists[attr] = append(src.Lists[attr], dst)
}

func primaryKey(t *schema.Table) string {
	if t == nil {
		return ""
	}
	if pk := t.PrimaryKey(); pk != nil {
		return pk.Name
	}
	return ""
}

// keyOf returns the lookup key of a key value. Drivers may return the same
// key as different Go types depending on the protocol (e.g. []byte or
// int64 for a MySQL integer), so keys are compared by their text.
func keyOf(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
