package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/syssam/veloq/dialect"
)

// Driver is a dialect.Driver over a database/sql pool.
type Driver struct {
	Conn
	dialect string
}

// NewDriver returns a Driver running statements on c.
func NewDriver(dialect string, c Conn) *Driver {
	return &Driver{dialect: dialect, Conn: c}
}

// Open opens a pool with database/sql.Open and returns a Driver over it.
func Open(dialect, source string) (*Driver, error) {
	db, err := sql.Open(dialect, source)
	if err != nil {
		return nil, err
	}
	return OpenDB(dialect, db), nil
}

// OpenDB returns a Driver over an open pool.
func OpenDB(dialect string, db *sql.DB) *Driver {
	return NewDriver(dialect, Conn{db, dialect})
}

// DB returns the underlying pool.
func (d Driver) DB() *sql.DB {
	return d.ExecQuerier.(*sql.DB)
}

// Dialect implements the dialect.Driver interface. Driver names that extend
// a dialect name, such as those of instrumented drivers, map to the dialect.
func (d Driver) Dialect() string {
	for _, name := range []string{dialect.MySQL, dialect.SQLite, dialect.Postgres} {
		if strings.HasPrefix(d.dialect, name) {
			return name
		}
	}
	return d.dialect
}

// Session reserves one connection of the pool and returns a Session bound
// to it. The connection returns to the pool when the session is closed.
func (d *Driver) Session(ctx context.Context, opts ...SessionOption) (*Session, error) {
	conn, err := d.DB().Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: session: %w", NormalizeError(err))
	}
	return NewSession(d.Dialect(), conn, opts...), nil
}

// Tx implements the dialect.Driver interface. The transaction is the
// outermost frame of a new session, which is closed when the transaction
// ends.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	s, err := d.Session(ctx)
	if err != nil {
		return nil, err
	}
	return s.ownedTx(ctx)
}

// Close closes the pool.
func (d *Driver) Close() error { return d.DB().Close() }

// Tx is a dialect.Tx bound to one frame of a Session. Commit and Rollback
// end the frame like the scope returned by Session.Begin: a savepoint frame
// is released or rolled back, and only the outermost frame commits.
type Tx struct {
	s     *Session
	scope *Scope
	owned bool
}

// Exec implements the dialect.ExecQuerier interface.
func (tx *Tx) Exec(ctx context.Context, query string, args, v any) error {
	return tx.s.Exec(ctx, query, args, v)
}

// Query implements the dialect.ExecQuerier interface.
func (tx *Tx) Query(ctx context.Context, query string, args, v any) error {
	return tx.s.Query(ctx, query, args, v)
}

// Frame returns the frame of the transaction.
func (tx *Tx) Frame() Frame { return tx.scope.Frame() }

// Commit commits, or releases, the frame of the transaction.
func (tx *Tx) Commit() error { return tx.end(true) }

// Rollback rolls back the frame of the transaction.
func (tx *Tx) Rollback() error { return tx.end(false) }

func (tx *Tx) end(commit bool) error {
	if tx.scope.done {
		return sql.ErrTxDone
	}
	err := tx.scope.close(commit)
	if tx.owned {
		err = errors.Join(err, tx.s.Close())
	}
	return err
}

type varsKey struct{}

// sessionVar is a variable set on the connection before a statement.
type sessionVar struct{ name, value string }

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]{0,127}$`)

func (v sessionVar) stmt() string {
	value := v.value
	if strings.ContainsAny(value, `'\`) {
		value = strings.NewReplacer(`\`, `\\`, `'`, `''`).Replace(value)
	}
	return fmt.Sprintf("SET %s = '%s'", v.name, value)
}

// WithVar returns a context whose statements set the variable name to value
// on their connection first. On a pool, the variable is reset before the
// connection is released.
func WithVar(ctx context.Context, name, value string) context.Context {
	vars, _ := ctx.Value(varsKey{}).([]sessionVar)
	vars = append(vars[:len(vars):len(vars)], sessionVar{name: name, value: value})
	return context.WithValue(ctx, varsKey{}, vars)
}

// VarFromContext returns the last value set for the variable name in ctx.
func VarFromContext(ctx context.Context, name string) (string, bool) {
	vars, _ := ctx.Value(varsKey{}).([]sessionVar)
	for i := len(vars) - 1; i >= 0; i-- {
		if vars[i].name == name {
			return vars[i].value, true
		}
	}
	return "", false
}

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn implements dialect.ExecQuerier given ExecQuerier.
type Conn struct {
	ExecQuerier
	dialect string
}

// Exec implements the dialect.Exec method.
func (c Conn) Exec(ctx context.Context, query string, args, v any) (rerr error) {
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	ex, done, err := c.setVars(ctx)
	if err != nil {
		return fmt.Errorf("dialect/sql: exec: set session vars: %w", err)
	}
	if done != nil {
		defer func() { rerr = errors.Join(rerr, done()) }()
	}
	switch v := v.(type) {
	case nil:
		if _, err := ex.ExecContext(ctx, query, argv...); err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", NormalizeError(err))
		}
	case *sql.Result:
		res, err := ex.ExecContext(ctx, query, argv...)
		if err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", NormalizeError(err))
		}
		*v = res
	default:
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Result", v)
	}
	return nil
}

// Query implements the dialect.Query method.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	vr, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Rows", v)
	}
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	ex, done, err := c.setVars(ctx)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: set session vars: %w", err)
	}
	rows, err := ex.QueryContext(ctx, query, argv...)
	if err != nil {
		err = NormalizeError(err)
		if done != nil {
			err = errors.Join(err, done())
		}
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	*vr = Rows{rows}
	if done != nil {
		vr.ColumnScanner = rowsWithCloser{rows, done}
	}
	return nil
}

// setVars issues the SET statements of the variables attached to ctx and
// returns the executor to run the statement on, with the function that
// resets the variables and releases the connection, if any. Variables set
// in a database/sql transaction live until the transaction ends.
func (c Conn) setVars(ctx context.Context) (ExecQuerier, func() error, error) {
	vars, _ := ctx.Value(varsKey{}).([]sessionVar)
	if len(vars) == 0 {
		return c, nil, nil
	}
	for _, v := range vars {
		if !identRe.MatchString(v.name) {
			return nil, nil, fmt.Errorf("invalid session variable name: %q", v.name)
		}
	}
	var (
		ex      ExecQuerier
		release func() error // Set if a connection was taken from the pool.
		reset   bool
	)
	switch e := c.ExecQuerier.(type) {
	case *sql.Tx:
		ex = e
	case *sql.Conn:
		ex, reset = e, true
	case *sql.DB:
		conn, err := e.Conn(ctx)
		if err != nil {
			return nil, nil, err
		}
		ex, release, reset = conn, conn.Close, true
	default:
		return nil, nil, fmt.Errorf("unsupported ExecQuerier type: %T", c.ExecQuerier)
	}
	done := func() error {
		if release == nil {
			return nil
		}
		return release()
	}
	for _, v := range vars {
		if _, err := ex.ExecContext(ctx, v.stmt()); err != nil {
			return nil, nil, errors.Join(err, done())
		}
	}
	var stmts []string
	if reset {
		stmts = resetStmts(c.dialect, vars)
	}
	if len(stmts) == 0 {
		return ex, release, nil
	}
	return ex, func() error {
		// The statement context may be done already.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, q := range stmts {
			if _, err := ex.ExecContext(ctx, q); err != nil {
				return errors.Join(err, done())
			}
		}
		return done()
	}, nil
}

// resetStmts returns the statements restoring the defaults of vars.
func resetStmts(d string, vars []sessionVar) []string {
	var (
		stmts []string
		seen  = make(map[string]bool, len(vars))
	)
	for _, v := range vars {
		if seen[v.name] {
			continue
		}
		seen[v.name] = true
		switch d {
		case dialect.Postgres:
			stmts = append(stmts, "RESET "+v.name)
		case dialect.MySQL:
			stmts = append(stmts, fmt.Sprintf("SET %s = NULL", v.name))
		}
	}
	return stmts
}

var _ dialect.Driver = (*Driver)(nil)

type (
	// Rows wraps the sql.Rows to avoid locks copy.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
)

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}

// rowsWithCloser runs closer after the rows are closed.
type rowsWithCloser struct {
	ColumnScanner
	closer func() error
}

func (r rowsWithCloser) Close() error {
	err := r.ColumnScanner.Close()
	return errors.Join(err, r.closer())
}
