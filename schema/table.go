package schema

import (
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/syssam/veloq/schema/field"
)

// Column is implemented by column builders (see the field package).
type Column interface {
	Descriptor() *field.Descriptor
}

// Table is the Schema Descriptor of one mapped table: its name, ordered
// column descriptors and the foreign keys it holds.
//
// A Table is mutable only until it is passed to NewRegistry. The registry
// keeps its own frozen copy.
type Table struct {
	Name        string
	Columns     []*field.Descriptor
	ForeignKeys []*ForeignKey

	pk    int
	index map[string]int
}

// NewTable returns a table definition with the given columns.
func NewTable(name string, columns ...Column) *Table {
	t := &Table{Name: name, pk: -1}
	for _, c := range columns {
		t.Columns = append(t.Columns, c.Descriptor())
	}
	return t
}

// AddForeignKeys adds foreign-key definitions to the table and returns it.
func (t *Table) AddForeignKeys(fks ...*ForeignKey) *Table {
	t.ForeignKeys = append(t.ForeignKeys, fks...)
	return t
}

// Column returns the descriptor of the named column.
func (t *Table) Column(name string) (*field.Descriptor, bool) {
	i := t.ColumnIndex(name)
	if i < 0 {
		return nil, false
	}
	return t.Columns[i], true
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	if t.index != nil {
		if i, ok := t.index[name]; ok {
			return i
		}
		return -1
	}
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the names of all columns, in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// PrimaryKey returns the primary-key column, or nil for a table without one.
func (t *Table) PrimaryKey() *field.Descriptor {
	if t.index != nil {
		if t.pk < 0 {
			return nil
		}
		return t.Columns[t.pk]
	}
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return c
		}
	}
	return nil
}

// ForeignKey returns the foreign key held by the given local column.
func (t *Table) ForeignKey(column string) (*ForeignKey, bool) {
	for _, fk := range t.ForeignKeys {
		if fk.Column == column {
			return fk, true
		}
	}
	return nil, false
}

// ForeignKeysTo returns the foreign keys of t that reference the target table.
func (t *Table) ForeignKeysTo(target *Table) []*ForeignKey {
	var fks []*ForeignKey
	for _, fk := range t.ForeignKeys {
		if fk.target == target || fk.target == nil && strings.EqualFold(fk.RefTable, target.Name) {
			fks = append(fks, fk)
		}
	}
	return fks
}

// String returns the table name.
func (t *Table) String() string {
	return t.Name
}

// ForeignKey describes a many-to-one relation held by a table column.
//
// Viewed from the table holding the column, the relation is a to-one
// attribute named Name. Viewed from the referenced table it is the
// back-reference, a to-many attribute named Ref.
type ForeignKey struct {
	Column    string // Local column.
	RefTable  string // Referenced table.
	RefColumn string // Referenced column. Defaults to the primary key of RefTable.
	Name      string // Forward attribute name. Defaults to Column without the "_id" suffix.
	Ref       string // Back-reference attribute name. Defaults to the plural of the owning table.
	Nillable  bool   // Set from the local column at registration.

	owner  *Table
	target *Table
}

// References returns a foreign key held by column and referencing table.
func References(column, table string) *ForeignKey {
	return &ForeignKey{Column: column, RefTable: table}
}

// To sets the referenced column.
func (fk *ForeignKey) To(column string) *ForeignKey {
	fk.RefColumn = column
	return fk
}

// As sets the forward attribute name.
func (fk *ForeignKey) As(name string) *ForeignKey {
	fk.Name = name
	return fk
}

// BackRef sets the back-reference attribute name.
func (fk *ForeignKey) BackRef(name string) *ForeignKey {
	fk.Ref = name
	return fk
}

// Owner returns the table holding the foreign-key column.
func (fk *ForeignKey) Owner() *Table {
	return fk.owner
}

// Target returns the referenced table.
func (fk *ForeignKey) Target() *Table {
	return fk.target
}

// String returns the qualified foreign-key column.
func (fk *ForeignKey) String() string {
	if fk.owner != nil {
		return fk.owner.Name + "." + fk.Column
	}
	return fk.Column
}

func defaultAttr(column string) string {
	if name, ok := strings.CutSuffix(column, "_id"); ok && name != "" {
		return name
	}
	return column
}

func defaultBackRef(owner string) string {
	return inflect.Pluralize(inflect.Singularize(owner))
}
