package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/veloq/dialect"
)

// Builder is the low-level SQL writer shared by all statement builders.
//
// Parameters are never written into the text. Arg records the position of a
// placeholder together with its value, and the placeholders are rendered in
// the dialect's syntax only when Query is called. This lets fragments that
// were written separately (a subquery, a CTE body) be spliced into an outer
// statement with their parameters kept in text order.
type Builder struct {
	sb      strings.Builder
	args    []any
	marks   []int // byte offsets of the placeholders in sb.
	dialect string
}

// NewBuilder returns an empty Builder for the given dialect.
func NewBuilder(d string) *Builder {
	return &Builder{dialect: d}
}

// Dialect returns the dialect of the builder.
func (b *Builder) Dialect() string {
	return b.dialect
}

// WriteString writes a raw string.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// WriteByte writes a raw byte.
func (b *Builder) WriteByte(c byte) *Builder {
	b.sb.WriteByte(c)
	return b
}

// Pad writes a space.
func (b *Builder) Pad() *Builder {
	return b.WriteByte(' ')
}

// Ident writes a quoted identifier.
func (b *Builder) Ident(s string) *Builder {
	b.sb.WriteString(b.Quote(s))
	return b
}

// Qualified writes a qualified and quoted identifier ("alias"."column").
func (b *Builder) Qualified(qualifier, name string) *Builder {
	if qualifier != "" {
		b.Ident(qualifier).WriteByte('.')
	}
	return b.Ident(name)
}

// Quote quotes an identifier for the builder dialect.
func (b *Builder) Quote(ident string) string {
	q := `"`
	if b.dialect == dialect.MySQL {
		q = "`"
	}
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// Arg writes a placeholder for the given value.
func (b *Builder) Arg(v any) *Builder {
	b.marks = append(b.marks, b.sb.Len())
	b.args = append(b.args, v)
	return b
}

// Args writes a comma-separated list of placeholders.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

// Raw writes a raw SQL fragment whose '?' characters are parameter
// placeholders for args. A literal question mark is written as "??".
// The number of placeholders must equal len(args); see Placeholders.
func (b *Builder) Raw(fragment string, args []any) *Builder {
	n := 0
	for i := 0; i < len(fragment); i++ {
		c := fragment[i]
		if c != '?' {
			b.sb.WriteByte(c)
			continue
		}
		if i+1 < len(fragment) && fragment[i+1] == '?' {
			b.sb.WriteByte('?')
			i++
			continue
		}
		if n < len(args) {
			b.Arg(args[n])
		}
		n++
	}
	return b
}

// Placeholders returns the number of parameter placeholders of a raw
// fragment.
func Placeholders(fragment string) int {
	n := 0
	for i := 0; i < len(fragment); i++ {
		if fragment[i] != '?' {
			continue
		}
		if i+1 < len(fragment) && fragment[i+1] == '?' {
			i++
			continue
		}
		n++
	}
	return n
}

// Join appends the text and the parameters of another builder.
func (b *Builder) Join(o *Builder) *Builder {
	offset := b.sb.Len()
	b.sb.WriteString(o.sb.String())
	for _, m := range o.marks {
		b.marks = append(b.marks, offset+m)
	}
	b.args = append(b.args, o.args...)
	return b
}

// Len returns the length of the written text.
func (b *Builder) Len() int {
	return b.sb.Len()
}

// Empty reports whether nothing was written.
func (b *Builder) Empty() bool {
	return b.sb.Len() == 0
}

// Query returns the statement text with rendered placeholders, and its
// parameters in order.
func (b *Builder) Query() (string, []any) {
	text := b.sb.String()
	if len(b.marks) == 0 {
		return text, b.copyArgs()
	}
	var sb strings.Builder
	sb.Grow(len(text) + 3*len(b.marks))
	last := 0
	for i, m := range b.marks {
		sb.WriteString(text[last:m])
		if b.dialect == dialect.Postgres {
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(i + 1))
		} else {
			sb.WriteByte('?')
		}
		last = m
	}
	sb.WriteString(text[last:])
	return sb.String(), b.copyArgs()
}

// String returns the rendered statement text.
func (b *Builder) String() string {
	q, _ := b.Query()
	return q
}

func (b *Builder) copyArgs() []any {
	if len(b.args) == 0 {
		return nil
	}
	return append([]any(nil), b.args...)
}
