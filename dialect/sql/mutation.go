package sql

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/veloq"
	"github.com/syssam/veloq/dialect"
	"github.com/syssam/veloq/schema"
)

// tableScope returns the resolution scope of a single-table statement:
// columns of the table are qualified with the table name.
func (c *compiler) tableScope(op string, ref *TableRef) (*scope, *schema.Table) {
	if ref == nil {
		c.fail(veloq.NewBuildError(op, "missing table"))
		return nil, nil
	}
	g, err := NewJoinGraph(c.reg, ref)
	if err != nil {
		c.fail(err)
		return nil, nil
	}
	t := g.Root().Table
	if t == nil {
		c.fail(veloq.NewBuildError(op, "%s is not a table", ref.SourceName()))
		return nil, nil
	}
	c.used[t.Name] = true
	return &scope{graph: g, phys: map[string]string{g.Root().Alias: t.Name}}, t
}

func (c *compiler) checkColumns(op string, t *schema.Table, cols []string) {
	for _, col := range cols {
		if !hasColumn(t, col) {
			c.fail(veloq.NewBuildError(op, "unknown column %s.%s", t.Name, col))
		}
	}
}

func (c *compiler) returning(b *Builder, cols []string) {
	if len(cols) == 0 || c.dialect == dialect.MySQL {
		return
	}
	b.WriteString(" RETURNING ")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(col)
	}
}

// InsertBuilder is a builder for INSERT statements.
type InsertBuilder struct {
	dialect   string
	reg       *schema.Registry
	table     *TableRef
	columns   []string
	values    [][]any
	returning []string
}

// Columns sets the inserted columns.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append(i.columns, columns...)
	return i
}

// Values adds a row of values. A value may be an expression, such as
// Raw("CURRENT_TIMESTAMP").
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values)
	return i
}

// Set adds a column and its value to a single-row insert.
func (i *InsertBuilder) Set(column string, v any) *InsertBuilder {
	i.columns = append(i.columns, column)
	if len(i.values) == 0 {
		i.values = append(i.values, nil)
	}
	i.values[0] = append(i.values[0], v)
	return i
}

// Returning sets the RETURNING columns. It is ignored by MySQL.
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = columns
	return i
}

// Compile returns the statement text and its parameters.
func (i *InsertBuilder) Compile() (string, []any, error) {
	c := newCompiler(i.dialect, i.reg)
	sc, t := c.tableScope("insert", i.table)
	if c.err != nil {
		return "", nil, c.err
	}
	c.checkColumns("insert", t, i.columns)
	c.checkColumns("insert", t, i.returning)
	b := NewBuilder(i.dialect)
	b.WriteString("INSERT INTO ").Ident(t.Name)
	if len(i.columns) == 0 {
		if i.dialect == dialect.MySQL {
			b.WriteString(" VALUES ()")
		} else {
			b.WriteString(" DEFAULT VALUES")
		}
	} else {
		b.WriteString(" (")
		for j, col := range i.columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.Ident(col)
		}
		b.WriteString(") VALUES ")
		for j, row := range i.values {
			if len(row) != len(i.columns) {
				c.fail(veloq.NewBuildError("insert", "row %d has %d values, expected %d", j, len(row), len(i.columns)))
				break
			}
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('(')
			for k, v := range row {
				if k > 0 {
					b.WriteString(", ")
				}
				c.expr(b, operand(v), sc, ctxValue)
			}
			b.WriteByte(')')
		}
	}
	c.returning(b, i.returning)
	if c.err != nil {
		return "", nil, c.err
	}
	text, args := b.Query()
	return text, args, nil
}

// Query returns the statement text and its parameters, or an empty
// statement if the builder is invalid.
func (i *InsertBuilder) Query() (string, []any) {
	text, args, err := i.Compile()
	if err != nil {
		return "", nil
	}
	return text, args
}

// Exec executes the insert and returns the primary key of the last inserted
// row. Postgres reads it with RETURNING; other dialects use the driver's
// last insert id.
func (i *InsertBuilder) Exec(ctx context.Context, ex dialect.ExecQuerier) (int64, error) {
	if i.dialect != dialect.Postgres {
		text, args, err := i.Compile()
		if err != nil {
			return 0, err
		}
		var res Result
		if err := ex.Exec(ctx, text, args, &res); err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	q := *i
	if i.table != nil && i.reg != nil {
		if t, ok := i.reg.Table(i.table.name); ok && t.PrimaryKey() != nil {
			q.returning = []string{t.PrimaryKey().Name}
		}
	}
	text, args, err := q.Compile()
	if err != nil {
		return 0, err
	}
	if len(q.returning) == 0 {
		return 0, ex.Exec(ctx, text, args, nil)
	}
	var rows Rows
	if err := ex.Query(ctx, text, args, &rows); err != nil {
		return 0, err
	}
	defer rows.Close()
	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("dialect/sql: scan returning id: %w", err)
		}
	}
	return id, rows.Err()
}

// UpdateBuilder is a builder for UPDATE statements.
type UpdateBuilder struct {
	dialect   string
	reg       *schema.Registry
	table     *TableRef
	columns   []string
	values    []Expr
	where     Expr
	returning []string
}

// Set sets a column to a value or an expression.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.columns = append(u.columns, column)
	u.values = append(u.values, operand(v))
	return u
}

// Add increments a numeric column by v.
func (u *UpdateBuilder) Add(column string, v any) *UpdateBuilder {
	return u.Set(column, Add(u.table.C(column), v))
}

// Where adds a predicate, ANDed with the existing ones.
func (u *UpdateBuilder) Where(p Expr) *UpdateBuilder {
	u.where = And(u.where, p)
	return u
}

// Returning sets the RETURNING columns. It is ignored by MySQL.
func (u *UpdateBuilder) Returning(columns ...string) *UpdateBuilder {
	u.returning = columns
	return u
}

// Compile returns the statement text and its parameters.
func (u *UpdateBuilder) Compile() (string, []any, error) {
	c := newCompiler(u.dialect, u.reg)
	sc, t := c.tableScope("update", u.table)
	if c.err != nil {
		return "", nil, c.err
	}
	if len(u.columns) == 0 {
		return "", nil, veloq.NewBuildError("update", "no columns to set")
	}
	c.checkColumns("update", t, u.columns)
	c.checkColumns("update", t, u.returning)
	b := NewBuilder(u.dialect)
	b.WriteString("UPDATE ").Ident(t.Name).WriteString(" SET ")
	for i, col := range u.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(col).WriteString(" = ")
		c.expr(b, u.values[i], sc, ctxValue)
	}
	if !isNil(u.where) {
		b.WriteString(" WHERE ")
		c.expr(b, u.where, sc, ctxValue)
	}
	c.returning(b, u.returning)
	if c.err != nil {
		return "", nil, c.err
	}
	text, args := b.Query()
	return text, args, nil
}

// Query returns the statement text and its parameters, or an empty
// statement if the builder is invalid.
func (u *UpdateBuilder) Query() (string, []any) {
	text, args, err := u.Compile()
	if err != nil {
		return "", nil
	}
	return text, args
}

// Exec executes the update and returns the number of affected rows.
func (u *UpdateBuilder) Exec(ctx context.Context, ex dialect.ExecQuerier) (int64, error) {
	text, args, err := u.Compile()
	if err != nil {
		return 0, err
	}
	return execAffected(ctx, ex, text, args)
}

// DeleteBuilder is a builder for DELETE statements.
type DeleteBuilder struct {
	dialect string
	reg     *schema.Registry
	table   *TableRef
	where   Expr
}

// Where adds a predicate, ANDed with the existing ones.
func (d *DeleteBuilder) Where(p Expr) *DeleteBuilder {
	d.where = And(d.where, p)
	return d
}

// Compile returns the statement text and its parameters.
func (d *DeleteBuilder) Compile() (string, []any, error) {
	c := newCompiler(d.dialect, d.reg)
	sc, t := c.tableScope("delete", d.table)
	if c.err != nil {
		return "", nil, c.err
	}
	b := NewBuilder(d.dialect)
	b.WriteString("DELETE FROM ").Ident(t.Name)
	if !isNil(d.where) {
		b.WriteString(" WHERE ")
		c.expr(b, d.where, sc, ctxValue)
	}
	if c.err != nil {
		return "", nil, c.err
	}
	text, args := b.Query()
	return text, args, nil
}

// Query returns the statement text and its parameters, or an empty
// statement if the builder is invalid.
func (d *DeleteBuilder) Query() (string, []any) {
	text, args, err := d.Compile()
	if err != nil {
		return "", nil
	}
	return text, args
}

// Exec executes the delete and returns the number of affected rows.
func (d *DeleteBuilder) Exec(ctx context.Context, ex dialect.ExecQuerier) (int64, error) {
	text, args, err := d.Compile()
	if err != nil {
		return 0, err
	}
	return execAffected(ctx, ex, text, args)
}

func execAffected(ctx context.Context, ex dialect.ExecQuerier, query string, args []any) (int64, error) {
	var res Result
	if err := ex.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	if res == nil {
		return 0, errors.New("dialect/sql: exec: no result")
	}
	return res.RowsAffected()
}
