package field

import (
	"fmt"
	"strings"
)

// A Type represents a column value type.
type Type uint8

// List of column types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeTime
	TypeJSON
	TypeUUID
	TypeBytes
	TypeEnum
	TypeString
	TypeOther
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint
	TypeUint64
	TypeFloat32
	TypeFloat64
	endTypes
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeTime:    "time.Time",
	TypeJSON:    "json.RawMessage",
	TypeUUID:    "[16]byte",
	TypeBytes:   "[]byte",
	TypeEnum:    "string",
	TypeString:  "string",
	TypeOther:   "other",
	TypeInt:     "int",
	TypeInt8:    "int8",
	TypeInt16:   "int16",
	TypeInt32:   "int32",
	TypeInt64:   "int64",
	TypeUint:    "uint",
	TypeUint8:   "uint8",
	TypeUint16:  "uint16",
	TypeUint32:  "uint32",
	TypeUint64:  "uint64",
	TypeFloat32: "float32",
	TypeFloat64: "float64",
}

// String returns the Go type name of the column type.
func (t Type) String() string {
	if t < endTypes {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Valid reports if the given type is known.
func (t Type) Valid() bool {
	return t > TypeInvalid && t < endTypes
}

// Numeric reports if the given type is a numeric type.
func (t Type) Numeric() bool {
	return t >= TypeInt8 && t < endTypes
}

// ParseType parses a type name as written in schema files ("int64", "string",
// "time", "uuid", ...).
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "boolean":
		return TypeBool, nil
	case "time", "time.time", "timestamp":
		return TypeTime, nil
	case "json":
		return TypeJSON, nil
	case "uuid":
		return TypeUUID, nil
	case "bytes", "[]byte", "blob":
		return TypeBytes, nil
	case "enum":
		return TypeEnum, nil
	case "string", "text":
		return TypeString, nil
	case "other":
		return TypeOther, nil
	case "int":
		return TypeInt, nil
	case "int8":
		return TypeInt8, nil
	case "int16":
		return TypeInt16, nil
	case "int32":
		return TypeInt32, nil
	case "int64":
		return TypeInt64, nil
	case "uint":
		return TypeUint, nil
	case "uint8":
		return TypeUint8, nil
	case "uint16":
		return TypeUint16, nil
	case "uint32":
		return TypeUint32, nil
	case "uint64":
		return TypeUint64, nil
	case "float32":
		return TypeFloat32, nil
	case "float64", "float":
		return TypeFloat64, nil
	}
	return TypeInvalid, fmt.Errorf("field: unknown type %q", s)
}

// A Descriptor for column configuration.
type Descriptor struct {
	Name       string // column name.
	Type       Type   // column value type.
	Nillable   bool   // nullable column.
	PrimaryKey bool   // primary-key column.
}

// Builder is the builder of a column descriptor.
type Builder struct {
	desc *Descriptor
}

// New returns a builder for a column of the given type.
func New(name string, t Type) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Type: t}}
}

// Bool returns a new builder of a boolean column.
func Bool(name string) *Builder { return New(name, TypeBool) }

// Time returns a new builder of a time column.
func Time(name string) *Builder { return New(name, TypeTime) }

// JSON returns a new builder of a json column.
func JSON(name string) *Builder { return New(name, TypeJSON) }

// UUID returns a new builder of a uuid column.
func UUID(name string) *Builder { return New(name, TypeUUID) }

// Bytes returns a new builder of a binary column.
func Bytes(name string) *Builder { return New(name, TypeBytes) }

// Enum returns a new builder of an enum column.
func Enum(name string) *Builder { return New(name, TypeEnum) }

// String returns a new builder of a string column.
func String(name string) *Builder { return New(name, TypeString) }

// Text is an alias of String.
func Text(name string) *Builder { return New(name, TypeString) }

// Int returns a new builder of an int column.
func Int(name string) *Builder { return New(name, TypeInt) }

// Int32 returns a new builder of an int32 column.
func Int32(name string) *Builder { return New(name, TypeInt32) }

// Int64 returns a new builder of an int64 column.
func Int64(name string) *Builder { return New(name, TypeInt64) }

// Uint64 returns a new builder of an uint64 column.
func Uint64(name string) *Builder { return New(name, TypeUint64) }

// Float64 returns a new builder of a float64 column.
func Float64(name string) *Builder { return New(name, TypeFloat64) }

// Other returns a new builder of a column whose type is opaque to the library.
func Other(name string) *Builder { return New(name, TypeOther) }

// Nillable marks the column as nullable in the database.
func (b *Builder) Nillable() *Builder {
	b.desc.Nillable = true
	return b
}

// PrimaryKey marks the column as the primary key of its table.
func (b *Builder) PrimaryKey() *Builder {
	b.desc.PrimaryKey = true
	b.desc.Nillable = false
	return b
}

// Descriptor implements the schema column interface by returning its descriptor.
func (b *Builder) Descriptor() *Descriptor {
	d := *b.desc
	return &d
}
