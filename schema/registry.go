package schema

import (
	"fmt"

	"golang.org/x/text/cases"

	"github.com/syssam/veloq/schema/field"
)

// Registry is the immutable set of table descriptors known to a process.
// It is built once with NewRegistry and then passed by reference to every
// component; it is safe for concurrent use.
type Registry struct {
	tables []*Table
	byName map[string]*Table
}

// NewRegistry validates the given table definitions and returns a registry
// holding frozen copies of them.
func NewRegistry(tables ...*Table) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Table, len(tables))}
	for _, def := range tables {
		if def == nil || def.Name == "" {
			return nil, fmt.Errorf("schema: table name is required")
		}
		key := fold(def.Name)
		if _, ok := r.byName[key]; ok {
			return nil, fmt.Errorf("schema: duplicate table %q", def.Name)
		}
		t, err := freeze(def)
		if err != nil {
			return nil, err
		}
		r.tables = append(r.tables, t)
		r.byName[key] = t
	}
	for _, t := range r.tables {
		for _, fk := range t.ForeignKeys {
			if err := r.resolve(t, fk); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
func MustRegistry(tables ...*Table) *Registry {
	r, err := NewRegistry(tables...)
	if err != nil {
		panic(err)
	}
	return r
}

// Table returns the table registered under the given name. The lookup is
// case-insensitive.
func (r *Registry) Table(name string) (*Table, bool) {
	t, ok := r.byName[fold(name)]
	return t, ok
}

// MustTable is like Table but panics if the table is not registered.
func (r *Registry) MustTable(name string) *Table {
	t, ok := r.Table(name)
	if !ok {
		panic(fmt.Sprintf("schema: table %q is not registered", name))
	}
	return t
}

// Tables returns all registered tables in registration order.
func (r *Registry) Tables() []*Table {
	return append([]*Table(nil), r.tables...)
}

// Has reports whether t is the registered copy of a table of r.
func (r *Registry) Has(t *Table) bool {
	rt, ok := r.Table(t.Name)
	return ok && rt == t
}

// Relations returns the distinct foreign keys connecting a and b in either
// direction: keys held by a referencing b first, then keys held by b
// referencing a. A self-referencing key is reported once.
func (r *Registry) Relations(a, b *Table) []*ForeignKey {
	fks := a.ForeignKeysTo(b)
	if a == b {
		return fks
	}
	return append(fks, b.ForeignKeysTo(a)...)
}

func (r *Registry) resolve(t *Table, fk *ForeignKey) error {
	target, ok := r.Table(fk.RefTable)
	if !ok {
		return fmt.Errorf("schema: foreign key %s.%s references unknown table %q", t.Name, fk.Column, fk.RefTable)
	}
	if fk.RefColumn == "" {
		pk := target.PrimaryKey()
		if pk == nil {
			return fmt.Errorf("schema: foreign key %s.%s references table %q without primary key", t.Name, fk.Column, target.Name)
		}
		fk.RefColumn = pk.Name
	}
	if _, ok := target.Column(fk.RefColumn); !ok {
		return fmt.Errorf("schema: foreign key %s.%s references unknown column %s.%s", t.Name, fk.Column, target.Name, fk.RefColumn)
	}
	fk.RefTable = target.Name
	fk.target = target
	return nil
}

// freeze copies a table definition, validates its columns and indexes them.
func freeze(def *Table) (*Table, error) {
	t := &Table{
		Name:    def.Name,
		Columns: make([]*field.Descriptor, 0, len(def.Columns)),
		pk:      -1,
		index:   make(map[string]int, len(def.Columns)),
	}
	for _, c := range def.Columns {
		if c == nil || c.Name == "" {
			return nil, fmt.Errorf("schema: table %q has a column without a name", def.Name)
		}
		if _, ok := t.index[c.Name]; ok {
			return nil, fmt.Errorf("schema: duplicate column %s.%s", def.Name, c.Name)
		}
		if c.PrimaryKey {
			if t.pk >= 0 {
				return nil, fmt.Errorf("schema: table %q has more than one primary-key column", def.Name)
			}
			t.pk = len(t.Columns)
		}
		cp := *c
		t.index[c.Name] = len(t.Columns)
		t.Columns = append(t.Columns, &cp)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("schema: table %q has no columns", def.Name)
	}
	seen := make(map[string]bool, len(def.ForeignKeys))
	for _, fk := range def.ForeignKeys {
		col, ok := t.Column(fk.Column)
		if !ok {
			return nil, fmt.Errorf("schema: foreign key on unknown column %s.%s", def.Name, fk.Column)
		}
		if seen[fk.Column] {
			return nil, fmt.Errorf("schema: duplicate foreign key on %s.%s", def.Name, fk.Column)
		}
		seen[fk.Column] = true
		cp := *fk
		cp.owner = t
		cp.Nillable = col.Nillable
		if cp.Name == "" {
			cp.Name = defaultAttr(cp.Column)
		}
		if cp.Ref == "" {
			cp.Ref = defaultBackRef(def.Name)
		}
		t.ForeignKeys = append(t.ForeignKeys, &cp)
	}
	return t, nil
}

// fold returns the case-folded form of an identifier. A new Caser is used per
// call since Casers are stateful.
func fold(s string) string {
	return cases.Fold().String(s)
}
