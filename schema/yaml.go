package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syssam/veloq/schema/field"
)

// File is the YAML layout of a registry:
//
//	tables:
//	  - name: authors
//	    columns:
//	      - {name: id, type: int64, primary_key: true}
//	      - {name: name, type: string}
//	  - name: books
//	    columns:
//	      - {name: id, type: int64, primary_key: true}
//	      - {name: author_id, type: int64}
//	      - {name: title, type: string}
//	    foreign_keys:
//	      - {column: author_id, references: authors, name: author, backref: books}
type File struct {
	Tables []TableFile `yaml:"tables"`
}

// TableFile is the YAML layout of one table.
type TableFile struct {
	Name        string           `yaml:"name"`
	Columns     []ColumnFile     `yaml:"columns"`
	ForeignKeys []ForeignKeyFile `yaml:"foreign_keys,omitempty"`
}

// ColumnFile is the YAML layout of one column.
type ColumnFile struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Nullable   bool   `yaml:"nullable,omitempty"`
	PrimaryKey bool   `yaml:"primary_key,omitempty"`
}

// ForeignKeyFile is the YAML layout of one foreign key.
type ForeignKeyFile struct {
	Column     string `yaml:"column"`
	References string `yaml:"references"`
	RefColumn  string `yaml:"ref_column,omitempty"`
	Name       string `yaml:"name,omitempty"`
	BackRef    string `yaml:"backref,omitempty"`
}

// LoadYAML reads a registry definition from r.
func LoadYAML(r io.Reader) (*Registry, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("schema: decode yaml: %w", err)
	}
	tables := make([]*Table, 0, len(f.Tables))
	for _, tf := range f.Tables {
		t := &Table{Name: tf.Name, pk: -1}
		for _, cf := range tf.Columns {
			typ, err := field.ParseType(cf.Type)
			if err != nil {
				return nil, fmt.Errorf("schema: column %s.%s: %w", tf.Name, cf.Name, err)
			}
			b := field.New(cf.Name, typ)
			if cf.Nullable {
				b.Nillable()
			}
			if cf.PrimaryKey {
				b.PrimaryKey()
			}
			t.Columns = append(t.Columns, b.Descriptor())
		}
		for _, ff := range tf.ForeignKeys {
			t.ForeignKeys = append(t.ForeignKeys, &ForeignKey{
				Column:    ff.Column,
				RefTable:  ff.References,
				RefColumn: ff.RefColumn,
				Name:      ff.Name,
				Ref:       ff.BackRef,
			})
		}
		tables = append(tables, t)
	}
	return NewRegistry(tables...)
}

// LoadFile reads a registry definition from the YAML file at path.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open %s: %w", path, err)
	}
	defer f.Close()
	return LoadYAML(f)
}
