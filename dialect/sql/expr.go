package sql

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/syssam/veloq/schema"
)

// Kind identifies the variant of an expression node.
type Kind uint8

// Expression kinds.
const (
	KindColumn Kind = iota + 1
	KindLiteral
	KindBinary
	KindUnary
	KindFunc
	KindSubquery
	KindAlias
	KindRaw
)

var kindNames = [...]string{
	KindColumn:   "column",
	KindLiteral:  "literal",
	KindBinary:   "binary",
	KindUnary:    "unary",
	KindFunc:     "func",
	KindSubquery: "subquery",
	KindAlias:    "alias",
	KindRaw:      "raw",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Expr is a node of the expression tree. The set of implementations is
// closed: *ColumnExpr, *LiteralExpr, *BinaryExpr, *UnaryExpr, *FuncExpr,
// *SubqueryExpr, *AliasExpr and *RawExpr.
//
// Nodes are immutable. Combinators never modify their operands and always
// return new nodes, so a node may be shared between queries.
type Expr interface {
	Projection
	Kind() Kind
	expr()
}

// Projection is an item of a select list: an expression or all the columns
// of a source (see TableRef.Star).
type Projection interface {
	projection()
}

// Source is something a query can select from or join to: a table reference
// or an aliased subquery.
type Source interface {
	// SourceName returns the name used in error messages: the alias if the
	// source has one, the table name otherwise.
	SourceName() string
	source()
}

// node is embedded by all expression nodes.
type node struct{}

func (node) expr()       {}
func (node) projection() {}

// TableRef is a reference to a mapped table, or to a common table
// expression declared with Selector.With.
//
// A plain reference resolves to the first occurrence of its table in a join
// graph. A reference created with As is pre-aliased and resolves only to the
// occurrence carrying that alias.
type TableRef struct {
	name  string
	table *schema.Table
	alias string
	cte   bool
}

// T returns a reference to the table with the given name. The name is
// resolved against the registry when the reference is joined.
func T(name string) *TableRef {
	return &TableRef{name: name}
}

// Ref returns a reference to a registered table.
func Ref(t *schema.Table) *TableRef {
	return &TableRef{name: t.Name, table: t}
}

// CTE returns a reference to a common table expression.
func CTE(name string) *TableRef {
	return &TableRef{name: name, cte: true}
}

// Name returns the referenced table name.
func (r *TableRef) Name() string { return r.name }

// Alias returns the pre-assigned alias, if any.
func (r *TableRef) Alias() string { return r.alias }

// IsCTE reports whether the reference points to a common table expression.
func (r *TableRef) IsCTE() bool { return r.cte }

// As returns a pre-aliased copy of the reference.
func (r *TableRef) As(alias string) *TableRef {
	c := *r
	c.alias = alias
	return &c
}

// C returns a column of the referenced table.
func (r *TableRef) C(column string) *ColumnExpr {
	return &ColumnExpr{src: r, name: column}
}

// Star returns a projection of all the columns of the referenced table.
func (r *TableRef) Star() *StarProjection {
	return &StarProjection{src: r}
}

// Scalar returns a named scalar projection attached to the instances of this
// reference in the result graph.
func (r *TableRef) Scalar(name string, x Expr) *AliasExpr {
	return &AliasExpr{x: x, name: name, owner: r}
}

// SourceName implements Source.
func (r *TableRef) SourceName() string {
	if r.alias != "" {
		return r.alias
	}
	return r.name
}

// String implements fmt.Stringer.
func (r *TableRef) String() string {
	if r.alias != "" {
		return r.name + " AS " + r.alias
	}
	return r.name
}

func (*TableRef) source() {}

// StarProjection selects all the columns of a source.
type StarProjection struct {
	src Source
}

// Source returns the projected source.
func (p *StarProjection) Source() Source { return p.src }

func (*StarProjection) projection() {}

// ColumnExpr is a column reference.
type ColumnExpr struct {
	node
	src  Source
	name string
}

// Col returns an unqualified column reference.
func Col(name string) *ColumnExpr {
	return &ColumnExpr{name: name}
}

// Kind implements Expr.
func (*ColumnExpr) Kind() Kind { return KindColumn }

// Source returns the source of the column, or nil if it is unqualified.
func (c *ColumnExpr) Source() Source { return c.src }

// Name returns the column name.
func (c *ColumnExpr) Name() string { return c.name }

// LiteralExpr is a value bound as a query parameter. Values are never
// inlined in the statement text.
type LiteralExpr struct {
	node
	value  any
	list   []any
	isList bool
}

// Lit returns a literal node. A slice or array value (other than []byte)
// becomes a list literal, expanded to one placeholder per element.
func Lit(v any) *LiteralExpr {
	if l, ok := listOf(v); ok {
		return &LiteralExpr{list: l, isList: true}
	}
	return &LiteralExpr{value: v}
}

// List returns a list literal.
func List(vs ...any) *LiteralExpr {
	return &LiteralExpr{list: append([]any(nil), vs...), isList: true}
}

// Null returns the NULL literal.
func Null() *LiteralExpr {
	return &LiteralExpr{}
}

// Kind implements Expr.
func (*LiteralExpr) Kind() Kind { return KindLiteral }

// Value returns the value of a scalar literal.
func (l *LiteralExpr) Value() any { return l.value }

// Values returns the elements of a list literal.
func (l *LiteralExpr) Values() []any { return l.list }

// IsList reports whether the literal is a list.
func (l *LiteralExpr) IsList() bool { return l.isList }

// IsNull reports whether the literal is NULL.
func (l *LiteralExpr) IsNull() bool { return !l.isList && l.value == nil }

// Op is a binary operator.
type Op string

// Binary operators.
const (
	OpEQ     Op = "="
	OpNEQ    Op = "<>"
	OpLT     Op = "<"
	OpLTE    Op = "<="
	OpGT     Op = ">"
	OpGTE    Op = ">="
	OpLike   Op = "LIKE"
	OpILike  Op = "ILIKE"
	OpIn     Op = "IN"
	OpNotIn  Op = "NOT IN"
	OpIs     Op = "IS"
	OpIsNot  Op = "IS NOT"
	OpAnd    Op = "AND"
	OpOr     Op = "OR"
	OpAdd    Op = "+"
	OpSub    Op = "-"
	OpMul    Op = "*"
	OpDiv    Op = "/"
	OpConcat Op = "||"
)

// BinaryExpr applies a binary operator to two operands.
type BinaryExpr struct {
	node
	op     Op
	l, r   Expr
	escape bool // LIKE pattern escaped with backslashes.
}

// Kind implements Expr.
func (*BinaryExpr) Kind() Kind { return KindBinary }

// Op returns the operator.
func (b *BinaryExpr) Op() Op { return b.op }

// Left returns the left operand.
func (b *BinaryExpr) Left() Expr { return b.l }

// Right returns the right operand.
func (b *BinaryExpr) Right() Expr { return b.r }

// UnaryExpr applies a prefix operator to one operand.
type UnaryExpr struct {
	node
	op string
	x  Expr
}

// Kind implements Expr.
func (*UnaryExpr) Kind() Kind { return KindUnary }

// Op returns the operator.
func (u *UnaryExpr) Op() string { return u.op }

// Operand returns the operand.
func (u *UnaryExpr) Operand() Expr { return u.x }

// FuncExpr is a function call.
type FuncExpr struct {
	node
	name     string
	args     []Expr
	distinct bool
}

// Kind implements Expr.
func (*FuncExpr) Kind() Kind { return KindFunc }

// Name returns the function name.
func (f *FuncExpr) Name() string { return f.name }

// Args returns the function arguments.
func (f *FuncExpr) Args() []Expr { return f.args }

// SubqueryExpr is a nested query, used as a value, as an operand of IN and
// EXISTS, or as a join source when aliased.
type SubqueryExpr struct {
	node
	query *Selector
	alias string
}

// Subquery returns a subquery node for the given selector.
func Subquery(q *Selector) *SubqueryExpr {
	return &SubqueryExpr{query: q}
}

// Kind implements Expr.
func (*SubqueryExpr) Kind() Kind { return KindSubquery }

// Query returns the nested selector.
func (s *SubqueryExpr) Query() *Selector { return s.query }

// As returns an aliased copy of the subquery, usable as a join source.
func (s *SubqueryExpr) As(alias string) *SubqueryExpr {
	return &SubqueryExpr{query: s.query, alias: alias}
}

// Alias returns the alias of the subquery.
func (s *SubqueryExpr) Alias() string { return s.alias }

// C returns a column of the subquery source.
func (s *SubqueryExpr) C(column string) *ColumnExpr {
	return &ColumnExpr{src: s, name: column}
}

// Star returns a projection of all the columns of the subquery source.
func (s *SubqueryExpr) Star() *StarProjection {
	return &StarProjection{src: s}
}

// SourceName implements Source.
func (s *SubqueryExpr) SourceName() string {
	if s.alias != "" {
		return s.alias
	}
	return "subquery"
}

func (*SubqueryExpr) source() {}

// AliasExpr names an expression. In a select list it compiles to
// "expr AS name"; in ORDER BY and GROUP BY to the name; elsewhere to the
// inner expression.
type AliasExpr struct {
	node
	x     Expr
	name  string
	owner Source
}

// Kind implements Expr.
func (*AliasExpr) Kind() Kind { return KindAlias }

// Expr returns the aliased expression.
func (a *AliasExpr) Expr() Expr { return a.x }

// Name returns the alias.
func (a *AliasExpr) Name() string { return a.name }

// Owner returns the source the projection is attached to, or nil.
func (a *AliasExpr) Owner() Source { return a.owner }

// RawExpr is a raw SQL fragment. Each '?' in the fragment is a parameter
// placeholder.
type RawExpr struct {
	node
	sql  string
	args []any
}

// Kind implements Expr.
func (*RawExpr) Kind() Kind { return KindRaw }

// SQL returns the raw fragment.
func (r *RawExpr) SQL() string { return r.sql }

// Args returns the fragment parameters.
func (r *RawExpr) Args() []any { return r.args }

// Raw returns a raw SQL fragment with '?' placeholders.
func Raw(sql string, args ...any) *RawExpr {
	return &RawExpr{sql: sql, args: args}
}

// As names an expression.
func As(x Expr, name string) *AliasExpr {
	return &AliasExpr{x: x, name: name}
}

// operand converts a combinator argument to an expression: expressions are
// used as they are, selectors become subqueries, nil becomes NULL and other
// values become literals.
func operand(v any) Expr {
	switch v := v.(type) {
	case Expr:
		return v
	case *Selector:
		return Subquery(v)
	case nil:
		return Null()
	default:
		return Lit(v)
	}
}

func binary(op Op, x Expr, v any) *BinaryExpr {
	return &BinaryExpr{op: op, l: x, r: operand(v)}
}

// EQ returns "x = v". Comparing with NULL compiles to "x IS NULL".
func EQ(x Expr, v any) *BinaryExpr { return binary(OpEQ, x, v) }

// NEQ returns "x <> v". Comparing with NULL compiles to "x IS NOT NULL".
func NEQ(x Expr, v any) *BinaryExpr { return binary(OpNEQ, x, v) }

// LT returns "x < v".
func LT(x Expr, v any) *BinaryExpr { return binary(OpLT, x, v) }

// LTE returns "x <= v".
func LTE(x Expr, v any) *BinaryExpr { return binary(OpLTE, x, v) }

// GT returns "x > v".
func GT(x Expr, v any) *BinaryExpr { return binary(OpGT, x, v) }

// GTE returns "x >= v".
func GTE(x Expr, v any) *BinaryExpr { return binary(OpGTE, x, v) }

// Like returns "x LIKE pattern".
func Like(x Expr, pattern any) *BinaryExpr { return binary(OpLike, x, pattern) }

// ILike returns a case-insensitive LIKE. Dialects without ILIKE compile it
// as "LOWER(x) LIKE LOWER(pattern)".
func ILike(x Expr, pattern any) *BinaryExpr { return binary(OpILike, x, pattern) }

// Contains returns a LIKE predicate matching values containing s.
func Contains(x Expr, s string) *BinaryExpr {
	return &BinaryExpr{op: OpLike, l: x, r: Lit("%" + escapeLike(s) + "%"), escape: true}
}

// ContainsFold returns a case-insensitive Contains.
func ContainsFold(x Expr, s string) *BinaryExpr {
	return &BinaryExpr{op: OpILike, l: x, r: Lit("%" + escapeLike(s) + "%"), escape: true}
}

// HasPrefix returns a LIKE predicate matching values starting with s.
func HasPrefix(x Expr, s string) *BinaryExpr {
	return &BinaryExpr{op: OpLike, l: x, r: Lit(escapeLike(s) + "%"), escape: true}
}

// HasSuffix returns a LIKE predicate matching values ending with s.
func HasSuffix(x Expr, s string) *BinaryExpr {
	return &BinaryExpr{op: OpLike, l: x, r: Lit("%" + escapeLike(s)), escape: true}
}

// EqualFold returns a case-insensitive equality predicate.
func EqualFold(x Expr, s string) *BinaryExpr {
	return &BinaryExpr{op: OpILike, l: x, r: Lit(escapeLike(s)), escape: true}
}

// In returns "x IN (...)". The values may be a single list literal, a single
// subquery or selector, a single slice, or the list elements themselves.
// An empty list compiles to a predicate that is always false.
func In(x Expr, vs ...any) *BinaryExpr { return &BinaryExpr{op: OpIn, l: x, r: inOperand(vs)} }

// NotIn returns "x NOT IN (...)". An empty list compiles to a predicate that
// is always true.
func NotIn(x Expr, vs ...any) *BinaryExpr { return &BinaryExpr{op: OpNotIn, l: x, r: inOperand(vs)} }

func inOperand(vs []any) Expr {
	if len(vs) == 1 {
		switch v := vs[0].(type) {
		case Expr:
			return v
		case *Selector:
			return Subquery(v)
		}
		if l, ok := listOf(vs[0]); ok {
			return &LiteralExpr{list: l, isList: true}
		}
	}
	return List(vs...)
}

// IsNull returns "x IS NULL".
func IsNull(x Expr) *BinaryExpr { return &BinaryExpr{op: OpIs, l: x, r: Null()} }

// NotNull returns "x IS NOT NULL".
func NotNull(x Expr) *BinaryExpr { return &BinaryExpr{op: OpIsNot, l: x, r: Null()} }

// And joins the given predicates with AND. Nil predicates are skipped; And
// returns nil if none is left and the predicate itself if only one is.
func And(xs ...Expr) Expr { return fold(OpAnd, xs) }

// Or joins the given predicates with OR. Nil predicates are skipped.
func Or(xs ...Expr) Expr { return fold(OpOr, xs) }

func fold(op Op, xs []Expr) Expr {
	var acc Expr
	for _, x := range xs {
		if isNil(x) {
			continue
		}
		if acc == nil {
			acc = x
			continue
		}
		acc = &BinaryExpr{op: op, l: acc, r: x}
	}
	return acc
}

// Not returns "NOT x".
func Not(x Expr) *UnaryExpr { return &UnaryExpr{op: "NOT", x: x} }

// Neg returns "-x".
func Neg(x Expr) *UnaryExpr { return &UnaryExpr{op: "-", x: x} }

// Add returns "x + v".
func Add(x Expr, v any) *BinaryExpr { return binary(OpAdd, x, v) }

// Sub returns "x - v".
func Sub(x Expr, v any) *BinaryExpr { return binary(OpSub, x, v) }

// Mul returns "x * v".
func Mul(x Expr, v any) *BinaryExpr { return binary(OpMul, x, v) }

// Div returns "x / v".
func Div(x Expr, v any) *BinaryExpr { return binary(OpDiv, x, v) }

// Concat returns the string concatenation of x and v.
func Concat(x Expr, v any) *BinaryExpr { return binary(OpConcat, x, v) }

// Exists returns "EXISTS (q)".
func Exists(q *Selector) *UnaryExpr { return &UnaryExpr{op: "EXISTS", x: Subquery(q)} }

// NotExists returns "NOT EXISTS (q)".
func NotExists(q *Selector) *UnaryExpr { return &UnaryExpr{op: "NOT EXISTS", x: Subquery(q)} }

// Func returns a call of the named function.
func Func(name string, args ...Expr) *FuncExpr {
	return &FuncExpr{name: name, args: args}
}

// Count returns COUNT(x), or COUNT(*) if x is nil.
func Count(x Expr) *FuncExpr {
	if isNil(x) {
		x = Raw("*")
	}
	return Func("COUNT", x)
}

// CountDistinct returns COUNT(DISTINCT x).
func CountDistinct(x Expr) *FuncExpr {
	return &FuncExpr{name: "COUNT", args: []Expr{x}, distinct: true}
}

// Sum returns SUM(x).
func Sum(x Expr) *FuncExpr { return Func("SUM", x) }

// Max returns MAX(x).
func Max(x Expr) *FuncExpr { return Func("MAX", x) }

// Min returns MIN(x).
func Min(x Expr) *FuncExpr { return Func("MIN", x) }

// Avg returns AVG(x).
func Avg(x Expr) *FuncExpr { return Func("AVG", x) }

// Coalesce returns COALESCE(xs...).
func Coalesce(xs ...Expr) *FuncExpr { return Func("COALESCE", xs...) }

// Lower returns LOWER(x).
func Lower(x Expr) *FuncExpr { return Func("LOWER", x) }

// Upper returns UPPER(x).
func Upper(x Expr) *FuncExpr { return Func("UPPER", x) }

// OrderTerm is an ORDER BY term.
type OrderTerm struct {
	x    Expr
	desc bool
}

// Asc orders by x ascending.
func Asc(x Expr) OrderTerm { return OrderTerm{x: x} }

// Desc orders by x descending.
func Desc(x Expr) OrderTerm { return OrderTerm{x: x, desc: true} }

// Expr returns the ordered expression.
func (o OrderTerm) Expr() Expr { return o.x }

// Descending reports whether the order is descending.
func (o OrderTerm) Descending() bool { return o.desc }

// Walk traverses an expression tree in depth-first order, calling fn for
// each node. If fn returns false, the children of the node are skipped.
// Walk does not descend into subqueries.
func Walk(x Expr, fn func(Expr) bool) {
	if isNil(x) || !fn(x) {
		return
	}
	switch x := x.(type) {
	case *BinaryExpr:
		Walk(x.l, fn)
		Walk(x.r, fn)
	case *UnaryExpr:
		Walk(x.x, fn)
	case *FuncExpr:
		for _, a := range x.args {
			Walk(a, fn)
		}
	case *AliasExpr:
		Walk(x.x, fn)
	}
}

// precedence returns the binding strength of a node; higher binds tighter.
func precedence(x Expr) int {
	switch x := x.(type) {
	case *BinaryExpr:
		switch x.op {
		case OpOr:
			return 1
		case OpAnd:
			return 2
		case OpConcat:
			return 5
		case OpAdd, OpSub:
			return 6
		case OpMul, OpDiv:
			return 7
		default:
			return 4
		}
	case *UnaryExpr:
		switch x.op {
		case "NOT", "NOT EXISTS":
			return 3
		case "-":
			return 8
		}
	case *AliasExpr:
		return precedence(x.x)
	}
	return 10
}

func associative(op Op) bool {
	switch op {
	case OpAnd, OpOr, OpAdd, OpMul, OpConcat:
		return true
	}
	return false
}

func isNil(x Expr) bool {
	if x == nil {
		return true
	}
	v := reflect.ValueOf(x)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// listOf returns the elements of a slice or array value. []byte and
// json.RawMessage-like byte slices are scalar values.
func listOf(v any) ([]any, bool) {
	switch v := v.(type) {
	case nil, []byte, string:
		return nil, false
	case []any:
		return append([]any(nil), v...), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	l := make([]any, rv.Len())
	for i := range l {
		l[i] = rv.Index(i).Interface()
	}
	return l, true
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
