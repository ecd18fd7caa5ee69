package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/veloq"
	"github.com/syssam/veloq/dialect"
)

// FrameKind is the kind of a transaction frame.
type FrameKind uint8

// Frame kinds.
const (
	FrameTransaction FrameKind = iota + 1
	FrameSavepoint
)

// String returns the name of the frame kind.
func (k FrameKind) String() string {
	switch k {
	case FrameTransaction:
		return "transaction"
	case FrameSavepoint:
		return "savepoint"
	default:
		return fmt.Sprintf("FrameKind(%d)", k)
	}
}

// Frame is one open transactional scope of a session: the real transaction
// at depth 1, or a savepoint nested in it.
type Frame struct {
	Kind  FrameKind
	Depth int
	ID    string   // Transaction identifier, or savepoint name.
	Lock  LockMode // Lock strength the transaction was opened with.

	opts txOptions
}

// LockMode is the lock strength of a SQLite transaction.
type LockMode string

// SQLite lock modes.
const (
	LockDeferred  LockMode = "DEFERRED"
	LockImmediate LockMode = "IMMEDIATE"
	LockExclusive LockMode = "EXCLUSIVE"
)

type txOptions struct {
	lock      LockMode
	isolation sql.IsolationLevel
	readOnly  bool
}

// TxOption configures the transaction opened by an outermost scope. Options
// of nested scopes are ignored, as savepoints cannot change them.
type TxOption func(*txOptions)

// WithLock sets the lock strength of a SQLite transaction.
func WithLock(mode LockMode) TxOption {
	return func(o *txOptions) { o.lock = mode }
}

// WithIsolation sets the isolation level of a Postgres or MySQL transaction.
func WithIsolation(level sql.IsolationLevel) TxOption {
	return func(o *txOptions) { o.isolation = level }
}

// WithReadOnly makes a Postgres or MySQL transaction read-only.
func WithReadOnly() TxOption {
	return func(o *txOptions) { o.readOnly = true }
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger of frame transitions. Transitions are logged
// at debug level. The default is slog.Default().
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// withExecQuerier wraps the statement executor of the session.
func withExecQuerier(wrap func(dialect.ExecQuerier) dialect.ExecQuerier) SessionOption {
	return func(s *Session) { s.ex = wrap(s.ex) }
}

// Session is one physical connection with a stack of transaction frames.
//
// The first scope opened on an empty stack begins a real transaction. Scopes
// opened inside it create savepoints, so an inner failure rolls back only the
// inner work. COMMIT and ROLLBACK of the real transaction are issued only
// when the outermost scope ends.
//
//	s, err := drv.Session(ctx)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	err = s.Atomic(ctx, func(ctx context.Context) error {
//		if _, err := insertA.Exec(ctx, s); err != nil {
//			return err
//		}
//		// Only the work of this inner scope is undone on error.
//		_ = s.Atomic(ctx, insertB)
//		return nil
//	})
//
// A Session is not safe for concurrent use.
type Session struct {
	conn    *sql.Conn
	ex      dialect.ExecQuerier
	dialect string
	frames  []*Frame
	flat    []int       // Stack depth at entry of each flat scope that did not open a frame.
	seq     map[int]int // Savepoint counters by depth; reset when the stack empties.
	broken  error
	log     *slog.Logger
}

// NewSession returns a Session bound to the given connection.
func NewSession(d string, conn *sql.Conn, opts ...SessionOption) *Session {
	s := &Session{
		conn:    conn,
		ex:      Conn{conn, d},
		dialect: d,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dialect returns the dialect of the session.
func (s *Session) Dialect() string { return s.dialect }

// Depth returns the number of open frames.
func (s *Session) Depth() int { return len(s.frames) }

// InTransaction reports whether a transaction is open.
func (s *Session) InTransaction() bool { return len(s.frames) > 0 }

// Frames returns a copy of the open frames, the outermost first.
func (s *Session) Frames() []Frame {
	fs := make([]Frame, len(s.frames))
	for i, f := range s.frames {
		fs[i] = *f
	}
	return fs
}

// Err returns the fault that made the session unusable, if any.
func (s *Session) Err() error {
	if s.broken == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", veloq.ErrSessionBroken, s.broken)
}

// Exec implements the dialect.ExecQuerier interface.
func (s *Session) Exec(ctx context.Context, query string, args, v any) error {
	if err := s.Err(); err != nil {
		return err
	}
	err := s.ex.Exec(ctx, query, args, v)
	s.check(err)
	return err
}

// Query implements the dialect.ExecQuerier interface. A connection fault
// reported while reading the returned rows breaks the session as well.
func (s *Session) Query(ctx context.Context, query string, args, v any) error {
	if err := s.Err(); err != nil {
		return err
	}
	err := s.ex.Query(ctx, query, args, v)
	s.check(err)
	if rows, ok := v.(*Rows); ok && err == nil {
		rows.ColumnScanner = &sessionRows{ColumnScanner: rows.ColumnScanner, s: s}
	}
	return err
}

// sessionRows reports the faults of a row fetch to its session.
type sessionRows struct {
	ColumnScanner
	s *Session
}

func (r *sessionRows) Err() error { return r.fault(r.ColumnScanner.Err()) }

func (r *sessionRows) Scan(dest ...any) error { return r.fault(r.ColumnScanner.Scan(dest...)) }

func (r *sessionRows) Close() error { return r.fault(r.ColumnScanner.Close()) }

func (r *sessionRows) fault(err error) error {
	if err != nil && isConnFault(err) {
		// The rows hold the connection until closed.
		_ = r.ColumnScanner.Close()
		r.s.check(err)
	}
	return err
}

// Close rolls back any open transaction and returns the connection to the
// pool. The connection of a broken session is discarded instead.
func (s *Session) Close() error {
	var err error
	if len(s.frames) > 0 && s.broken == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.ex.Exec(ctx, "ROLLBACK", []any{}, nil)
		cancel()
		s.frames, s.seq = nil, nil
	}
	cerr := s.conn.Close()
	if s.broken != nil && errors.Is(cerr, sql.ErrConnDone) {
		cerr = nil
	}
	if cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Atomic runs fn inside a new frame. The frame is released or committed if
// fn returns nil, and rolled back if fn returns an error or panics; the
// error or panic is then propagated.
func (s *Session) Atomic(ctx context.Context, fn func(context.Context) error, opts ...TxOption) (err error) {
	sc, err := s.Begin(ctx, opts...)
	if err != nil {
		return err
	}
	defer sc.End(&err)
	return fn(ctx)
}

// Atomically returns fn wrapped so that every call runs inside its own
// frame of s.
func (s *Session) Atomically(fn func(context.Context) error, opts ...TxOption) func(context.Context) error {
	return func(ctx context.Context) error {
		return s.Atomic(ctx, fn, opts...)
	}
}

// Transaction runs fn in a transaction. Unlike Atomic, it does not nest:
// if a frame is already open, fn runs in it and no savepoint is created.
func (s *Session) Transaction(ctx context.Context, fn func(context.Context) error, opts ...TxOption) (err error) {
	if len(s.frames) == 0 {
		return s.Atomic(ctx, fn, opts...)
	}
	s.flat = append(s.flat, len(s.frames))
	defer func() { s.flat = s.flat[:len(s.flat)-1] }()
	return fn(ctx)
}

// Begin opens a new frame and returns its Scope. End must be deferred
// right after a successful Begin:
//
//	sc, err := s.Begin(ctx)
//	if err != nil {
//		return err
//	}
//	defer sc.End(&err)
func (s *Session) Begin(ctx context.Context, opts ...TxOption) (*Scope, error) {
	var o txOptions
	for _, opt := range opts {
		opt(&o)
	}
	f, err := s.open(ctx, o)
	if err != nil {
		return nil, err
	}
	return &Scope{s: s, frame: f, ctx: ctx}, nil
}

// Tx opens a new frame and returns it as a dialect.Tx, for code written
// against the dialect.Driver interface.
func (s *Session) Tx(ctx context.Context, opts ...TxOption) (*Tx, error) {
	sc, err := s.Begin(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Tx{s: s, scope: sc}, nil
}

// ownedTx is like Tx, but the session is closed when the transaction ends.
func (s *Session) ownedTx(ctx context.Context) (*Tx, error) {
	tx, err := s.Tx(ctx)
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}
	tx.owned = true
	return tx, nil
}

// Commit commits the work of the innermost frame and reopens it: a savepoint
// is released and recreated under a new name; the outermost transaction is
// committed and a new one begins.
func (s *Session) Commit(ctx context.Context) error {
	return s.manual(ctx, "commit", true)
}

// Rollback rolls back the work of the innermost frame and reopens it.
func (s *Session) Rollback(ctx context.Context) error {
	return s.manual(ctx, "rollback", false)
}

func (s *Session) manual(ctx context.Context, op string, commit bool) error {
	if err := s.Err(); err != nil {
		return err
	}
	if len(s.frames) == 0 {
		return veloq.NewTransactionStateError(op, "no transaction is open")
	}
	if n := len(s.flat); n > 0 && s.flat[n-1] == len(s.frames) {
		return veloq.NewTransactionStateError(op, "the current scope did not open a transaction frame")
	}
	f := s.frames[len(s.frames)-1]
	if err := s.finalize(ctx, f, commit); err != nil {
		return err
	}
	return s.reopen(ctx, f)
}

func (s *Session) open(ctx context.Context, o txOptions) (*Frame, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}
	if len(s.frames) == 0 {
		stmts, err := s.beginStmts(o)
		if err != nil {
			return nil, err
		}
		f := &Frame{Kind: FrameTransaction, Depth: 1, ID: uuid.NewString(), Lock: o.lock, opts: o}
		for _, q := range stmts {
			if err := s.exec(ctx, q); err != nil {
				return nil, err
			}
		}
		s.frames = append(s.frames, f)
		s.seq = make(map[int]int)
		s.logFrame(ctx, "begin", f)
		return f, nil
	}
	depth := len(s.frames) + 1
	s.seq[depth]++
	f := &Frame{Kind: FrameSavepoint, Depth: depth, ID: savepointName(depth, s.seq[depth])}
	if err := s.exec(ctx, "SAVEPOINT "+s.quote(f.ID)); err != nil {
		return nil, err
	}
	s.frames = append(s.frames, f)
	s.logFrame(ctx, "savepoint", f)
	return f, nil
}

// end closes the innermost frame f.
func (s *Session) end(ctx context.Context, f *Frame, commit bool) error {
	if err := s.Err(); err != nil {
		return err
	}
	n := len(s.frames)
	if n == 0 || s.frames[n-1] != f {
		return veloq.NewTransactionStateError("end", fmt.Sprintf("frame %s is not the innermost open frame", f.ID))
	}
	err := s.finalize(ctx, f, commit)
	if err != nil && commit && s.broken == nil {
		// A failed COMMIT or RELEASE may leave the frame open on the server.
		if rerr := s.finalize(context.WithoutCancel(ctx), f, false); rerr != nil {
			err = &veloq.RollbackError{Err: err, Rollback: rerr}
		}
	}
	if s.broken != nil {
		return err
	}
	s.frames = s.frames[:n-1]
	if len(s.frames) == 0 {
		s.seq = nil
	}
	return err
}

// finalize issues the statements that commit or roll back the work of f.
func (s *Session) finalize(ctx context.Context, f *Frame, commit bool) error {
	if f.Kind == FrameTransaction {
		q, event := "COMMIT", "commit"
		if !commit {
			q, event = "ROLLBACK", "rollback"
		}
		if err := s.exec(ctx, q); err != nil {
			return err
		}
		s.logFrame(ctx, event, f)
		return nil
	}
	name := s.quote(f.ID)
	if !commit {
		if err := s.exec(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
			return err
		}
		s.logFrame(ctx, "rollback", f)
	}
	if err := s.exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return err
	}
	s.logFrame(ctx, "release", f)
	return nil
}

// reopen begins f again after a manual commit or rollback, under a new
// identifier.
func (s *Session) reopen(ctx context.Context, f *Frame) error {
	if f.Kind == FrameTransaction {
		stmts, err := s.beginStmts(f.opts)
		if err != nil {
			return err
		}
		f.ID = uuid.NewString()
		s.seq = make(map[int]int)
		for _, q := range stmts {
			if err := s.exec(ctx, q); err != nil {
				s.frames = s.frames[:len(s.frames)-1]
				return err
			}
		}
		s.logFrame(ctx, "begin", f)
		return nil
	}
	s.seq[f.Depth]++
	f.ID = savepointName(f.Depth, s.seq[f.Depth])
	if err := s.exec(ctx, "SAVEPOINT "+s.quote(f.ID)); err != nil {
		s.frames = s.frames[:len(s.frames)-1]
		return err
	}
	s.logFrame(ctx, "savepoint", f)
	return nil
}

func (s *Session) beginStmts(o txOptions) ([]string, error) {
	level, err := isolationLevel(o.isolation)
	if err != nil {
		return nil, err
	}
	switch s.dialect {
	case dialect.SQLite:
		if o.lock != "" {
			return []string{"BEGIN " + string(o.lock)}, nil
		}
		return []string{"BEGIN"}, nil
	case dialect.MySQL:
		var stmts []string
		if level != "" {
			stmts = append(stmts, "SET TRANSACTION ISOLATION LEVEL "+level)
		}
		q := "START TRANSACTION"
		if o.readOnly {
			q += " READ ONLY"
		}
		return append(stmts, q), nil
	default:
		q := "BEGIN"
		if level != "" {
			q += " ISOLATION LEVEL " + level
		}
		if o.readOnly {
			q += " READ ONLY"
		}
		return []string{q}, nil
	}
}

func isolationLevel(level sql.IsolationLevel) (string, error) {
	switch level {
	case sql.LevelDefault:
		return "", nil
	case sql.LevelReadUncommitted, sql.LevelReadCommitted, sql.LevelRepeatableRead, sql.LevelSerializable:
		return strings.ToUpper(level.String()), nil
	default:
		return "", veloq.NewTransactionStateError("begin", fmt.Sprintf("unsupported isolation level %q", level))
	}
}

// exec issues a transaction control statement.
func (s *Session) exec(ctx context.Context, query string) error {
	if err := s.Err(); err != nil {
		return err
	}
	err := s.ex.Exec(ctx, query, []any{}, nil)
	s.check(err)
	return err
}

// check marks the session broken if err is a connection fault. The frame
// stack is discarded, the open transaction, if any, is rolled back on a
// best-effort basis, and the connection is not returned to the pool.
func (s *Session) check(err error) {
	if err == nil || s.broken != nil || !isConnFault(err) {
		return
	}
	if len(s.frames) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _ = s.conn.ExecContext(ctx, "ROLLBACK")
		cancel()
	}
	_ = s.conn.Raw(func(any) error { return driver.ErrBadConn })
	s.log.Debug("session broken", "depth", len(s.frames), "error", err)
	s.frames, s.seq = nil, nil
	s.broken = err
}

func (s *Session) quote(name string) string {
	return NewBuilder(s.dialect).Quote(name)
}

func (s *Session) logFrame(ctx context.Context, event string, f *Frame) {
	tx := f.ID
	if len(s.frames) > 0 {
		tx = s.frames[0].ID
	}
	s.log.DebugContext(ctx, event, "frame", f.ID, "kind", f.Kind.String(), "depth", f.Depth, "tx", tx)
}

func savepointName(depth, seq int) string {
	return fmt.Sprintf("s%d_%d", depth, seq)
}

// Scope is an open frame returned by Session.Begin.
type Scope struct {
	s     *Session
	frame *Frame
	ctx   context.Context
	done  bool
}

// Frame returns the frame of the scope.
func (sc *Scope) Frame() Frame { return *sc.frame }

// End closes the scope. It must be deferred with a pointer to the named
// error result of the enclosing function: the frame is committed (or
// released) if the error is nil, and rolled back otherwise. A panic rolls
// the frame back and continues unwinding.
func (sc *Scope) End(errp *error) {
	if r := recover(); r != nil {
		sc.close(false)
		panic(r)
	}
	var err error
	if errp != nil {
		err = *errp
	}
	cerr := sc.close(err == nil)
	switch {
	case cerr == nil || errp == nil:
	case err == nil:
		*errp = cerr
	default:
		*errp = &veloq.RollbackError{Err: err, Rollback: cerr}
	}
}

func (sc *Scope) close(commit bool) error {
	if sc.done {
		return nil
	}
	sc.done = true
	ctx := sc.ctx
	if !commit {
		ctx = context.WithoutCancel(ctx)
	}
	if !commit && sc.s.broken != nil {
		return nil
	}
	return sc.s.end(ctx, sc.frame, commit)
}
