package sql

import (
	"time"

	"github.com/google/uuid"
)

// ValueField is a typed column wrapper that provides type-safe predicate
// methods. The predicates it returns are plain expression nodes.
//
// Usage:
//
//	var (
//		books = sql.T("books")
//		Pages = sql.Field[int](books.C("pages"))
//		Title = sql.NewStringField(books.C("title"))
//	)
//	q.Where(sql.And(Pages.GT(100), Title.HasPrefix("Go")))
type ValueField[T any] struct {
	col *ColumnExpr
}

// Field returns a typed wrapper of the given column.
func Field[T any](c *ColumnExpr) ValueField[T] {
	return ValueField[T]{col: c}
}

// Type aliases of the common field types.
type (
	IntField     = ValueField[int]
	Int64Field   = ValueField[int64]
	Float64Field = ValueField[float64]
	BoolField    = ValueField[bool]
	TimeField    = ValueField[time.Time]
	UUIDField    = ValueField[uuid.UUID]
)

// C returns the wrapped column.
func (f ValueField[T]) C() *ColumnExpr { return f.col }

// Name returns the column name.
func (f ValueField[T]) Name() string { return f.col.name }

// Of returns the same field bound to another reference of the table, such
// as a pre-aliased one.
func (f ValueField[T]) Of(src Source) ValueField[T] {
	return ValueField[T]{col: &ColumnExpr{src: src, name: f.col.name}}
}

// EQ returns a predicate that checks if the field equals the given value.
func (f ValueField[T]) EQ(v T) *BinaryExpr { return EQ(f.col, v) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f ValueField[T]) NEQ(v T) *BinaryExpr { return NEQ(f.col, v) }

// In returns a predicate that checks if the field value is in the given list.
func (f ValueField[T]) In(vs ...T) *BinaryExpr { return FieldIn(f.col, vs...) }

// NotIn returns a predicate that checks if the field value is not in the given list.
func (f ValueField[T]) NotIn(vs ...T) *BinaryExpr { return FieldNotIn(f.col, vs...) }

// GT returns a predicate that checks if the field is greater than the given value.
func (f ValueField[T]) GT(v T) *BinaryExpr { return GT(f.col, v) }

// GTE returns a predicate that checks if the field is greater than or equal to the given value.
func (f ValueField[T]) GTE(v T) *BinaryExpr { return GTE(f.col, v) }

// LT returns a predicate that checks if the field is less than the given value.
func (f ValueField[T]) LT(v T) *BinaryExpr { return LT(f.col, v) }

// LTE returns a predicate that checks if the field is less than or equal to the given value.
func (f ValueField[T]) LTE(v T) *BinaryExpr { return LTE(f.col, v) }

// IsNull returns a predicate that checks if the field is NULL.
func (f ValueField[T]) IsNull() *BinaryExpr { return IsNull(f.col) }

// NotNull returns a predicate that checks if the field is not NULL.
func (f ValueField[T]) NotNull() *BinaryExpr { return NotNull(f.col) }

// Asc orders by the field ascending.
func (f ValueField[T]) Asc() OrderTerm { return Asc(f.col) }

// Desc orders by the field descending.
func (f ValueField[T]) Desc() OrderTerm { return Desc(f.col) }

// StringField is a string column wrapper with pattern predicates.
type StringField struct {
	ValueField[string]
}

// NewStringField returns a string wrapper of the given column.
func NewStringField(c *ColumnExpr) StringField {
	return StringField{ValueField[string]{col: c}}
}

// Of returns the same field bound to another reference of the table.
func (f StringField) Of(src Source) StringField {
	return StringField{f.ValueField.Of(src)}
}

// Contains returns a predicate that checks if the field contains the given substring.
func (f StringField) Contains(v string) *BinaryExpr { return Contains(f.col, v) }

// ContainsFold returns a predicate that checks if the field contains the given substring (case-insensitive).
func (f StringField) ContainsFold(v string) *BinaryExpr { return ContainsFold(f.col, v) }

// HasPrefix returns a predicate that checks if the field has the given prefix.
func (f StringField) HasPrefix(v string) *BinaryExpr { return HasPrefix(f.col, v) }

// HasSuffix returns a predicate that checks if the field has the given suffix.
func (f StringField) HasSuffix(v string) *BinaryExpr { return HasSuffix(f.col, v) }

// EqualFold returns a predicate that checks if the field equals the given value (case-insensitive).
func (f StringField) EqualFold(v string) *BinaryExpr { return EqualFold(f.col, v) }

// FieldIn returns an IN predicate for a typed list of values.
func FieldIn[T any](c Expr, vs ...T) *BinaryExpr {
	return &BinaryExpr{op: OpIn, l: c, r: List(anySlice(vs)...)}
}

// FieldNotIn returns a NOT IN predicate for a typed list of values.
func FieldNotIn[T any](c Expr, vs ...T) *BinaryExpr {
	return &BinaryExpr{op: OpNotIn, l: c, r: List(anySlice(vs)...)}
}

func anySlice[T any](vs []T) []any {
	l := make([]any, len(vs))
	for i := range vs {
		l[i] = vs[i]
	}
	return l
}
