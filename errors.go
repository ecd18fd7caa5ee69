package veloq

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a query that expects a result returns none.
	ErrNotFound = errors.New("veloq: entity not found")

	// ErrNotSingular is returned when a query that expects exactly one result
	// returns zero or multiple results.
	ErrNotSingular = errors.New("veloq: entity not singular")

	// ErrJoin is matched by both join inference failures
	// (NoImplicitJoinError and AmbiguousJoinError).
	ErrJoin = errors.New("veloq: cannot infer join predicate")

	// ErrSessionBroken is returned by a session after a connection fault
	// discarded its frame stack.
	ErrSessionBroken = errors.New("veloq: session is broken")
)

// BuildError reports a malformed composition detected while a query or a
// join graph is being built.
type BuildError struct {
	Op  string // Builder operation (e.g. "join", "as").
	Msg string
}

// Error returns the error string.
func (e *BuildError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("veloq: build %s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("veloq: build: %s", e.Msg)
}

// NewBuildError returns a new BuildError.
func NewBuildError(op, format string, args ...any) *BuildError {
	return &BuildError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IsBuildError returns true if the error is a BuildError.
func IsBuildError(err error) bool {
	if err == nil {
		return false
	}
	var e *BuildError
	return errors.As(err, &e)
}

// CompileError reports an alias or join resolution failure found while
// compiling a query.
type CompileError struct {
	Msg string
}

// Error returns the error string.
func (e *CompileError) Error() string {
	return "veloq: compile: " + e.Msg
}

// NewCompileError returns a new CompileError.
func NewCompileError(format string, args ...any) *CompileError {
	return &CompileError{Msg: fmt.Sprintf(format, args...)}
}

// IsCompileError returns true if the error is a CompileError.
func IsCompileError(err error) bool {
	if err == nil {
		return false
	}
	var e *CompileError
	return errors.As(err, &e)
}

// NoImplicitJoinError is returned when no foreign key connects the two
// tables of an implicit join.
type NoImplicitJoinError struct {
	From, To string
}

// Error returns the error string.
func (e *NoImplicitJoinError) Error() string {
	return fmt.Sprintf("veloq: no foreign key between %q and %q, an explicit predicate is required", e.From, e.To)
}

// Is reports whether the target error matches ErrJoin.
func (e *NoImplicitJoinError) Is(err error) bool {
	return err == ErrJoin
}

// AmbiguousJoinError is returned when more than one foreign key connects the
// two tables of an implicit join.
type AmbiguousJoinError struct {
	From, To   string
	Candidates []string // Foreign-key columns that could serve the join.
}

// Error returns the error string.
func (e *AmbiguousJoinError) Error() string {
	return fmt.Sprintf("veloq: ambiguous join between %q and %q (candidates: %s), an explicit predicate is required",
		e.From, e.To, strings.Join(e.Candidates, ", "))
}

// Is reports whether the target error matches ErrJoin.
func (e *AmbiguousJoinError) Is(err error) bool {
	return err == ErrJoin
}

// IsNoImplicitJoin returns true if the error is a NoImplicitJoinError.
func IsNoImplicitJoin(err error) bool {
	var e *NoImplicitJoinError
	return err != nil && errors.As(err, &e)
}

// IsAmbiguousJoin returns true if the error is an AmbiguousJoinError.
func IsAmbiguousJoin(err error) bool {
	var e *AmbiguousJoinError
	return err != nil && errors.As(err, &e)
}

// PrefetchPathError reports an invalid prefetch path. It is returned before
// any query of the path executes.
type PrefetchPathError struct {
	Level int    // Index of the offending path entry.
	Table string // Table of the offending entry.
	Prev  string // Table of the preceding entry.
	Msg   string
}

// Error returns the error string.
func (e *PrefetchPathError) Error() string {
	return fmt.Sprintf("veloq: prefetch path level %d (%s -> %s): %s", e.Level, e.Prev, e.Table, e.Msg)
}

// IsPrefetchPathError returns true if the error is a PrefetchPathError.
func IsPrefetchPathError(err error) bool {
	var e *PrefetchPathError
	return err != nil && errors.As(err, &e)
}

// TransactionStateError reports a transaction operation that is invalid in
// the current state of a session, such as a manual commit with no open frame.
type TransactionStateError struct {
	Op  string
	Msg string
}

// Error returns the error string.
func (e *TransactionStateError) Error() string {
	return fmt.Sprintf("veloq: %s: %s", e.Op, e.Msg)
}

// NewTransactionStateError returns a new TransactionStateError.
func NewTransactionStateError(op, msg string) *TransactionStateError {
	return &TransactionStateError{Op: op, Msg: msg}
}

// IsTransactionStateError returns true if the error is a TransactionStateError.
func IsTransactionStateError(err error) bool {
	var e *TransactionStateError
	return err != nil && errors.As(err, &e)
}

// DriverError holds an error returned by the database driver. Its message is
// the backend's message, unchanged.
type DriverError struct {
	Err error
}

// Error returns the original driver error string.
func (e DriverError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying driver error.
func (e DriverError) Unwrap() error {
	return e.Err
}

func (DriverError) driverError() {}

// ConstraintKind names the kind of constraint an IntegrityError violated.
type ConstraintKind string

// Constraint kinds.
const (
	ConstraintUnknown    ConstraintKind = ""
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintNotNull    ConstraintKind = "not_null"
	ConstraintCheck      ConstraintKind = "check"
)

// IntegrityError is a driver error caused by a constraint violation.
type IntegrityError struct {
	DriverError
	Constraint ConstraintKind
}

// OperationalError is a driver error caused by the database operation
// itself: lost connections, lock timeouts, deadlocks, resource exhaustion.
type OperationalError struct {
	DriverError
}

// ProgrammingError is a driver error caused by the statement: syntax errors,
// unknown tables or columns, wrong number of parameters.
type ProgrammingError struct {
	DriverError
}

// InterfaceError is a driver error caused by misuse of the driver interface,
// such as using a closed connection or transaction.
type InterfaceError struct {
	DriverError
}

// IsDriverError returns true if the error is one of the normalized driver errors.
func IsDriverError(err error) bool {
	var e interface{ driverError() }
	return err != nil && errors.As(err, &e)
}

// IsIntegrityError returns true if the error is an IntegrityError.
func IsIntegrityError(err error) bool {
	var e *IntegrityError
	return err != nil && errors.As(err, &e)
}

// IsOperationalError returns true if the error is an OperationalError.
func IsOperationalError(err error) bool {
	var e *OperationalError
	return err != nil && errors.As(err, &e)
}

// IsProgrammingError returns true if the error is a ProgrammingError.
func IsProgrammingError(err error) bool {
	var e *ProgrammingError
	return err != nil && errors.As(err, &e)
}

// IsInterfaceError returns true if the error is an InterfaceError.
func IsInterfaceError(err error) bool {
	var e *InterfaceError
	return err != nil && errors.As(err, &e)
}

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("veloq: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// NewNotFoundError returns a new NotFoundError for the given table.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError represents an error when a query expects a singular result
// but receives zero or multiple results.
type NotSingularError struct {
	label string
	count int
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	return fmt.Sprintf("veloq: %s not singular (got %d results, expected 1)", e.label, e.count)
}

// Is reports whether the target error matches NotSingularError.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// Count returns the number of results.
func (e *NotSingularError) Count() int {
	return e.count
}

// NewNotSingularError returns a new NotSingularError with the result count.
func NewNotSingularError(label string, count int) *NotSingularError {
	return &NotSingularError{label: label, count: count}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// NotLoadedError represents an error when reading a relation attribute
// that was not attached to an instance.
type NotLoadedError struct {
	edge string
}

// Error returns the error string.
func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("veloq: edge %q was not loaded", e.edge)
}

// NewNotLoadedError returns a new NotLoadedError for the given edge name.
func NewNotLoadedError(edge string) *NotLoadedError {
	return &NotLoadedError{edge: edge}
}

// IsNotLoaded returns true if the error is a NotLoadedError.
func IsNotLoaded(err error) bool {
	if err == nil {
		return false
	}
	var e *NotLoadedError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
// Err is the error that triggered the rollback and Rollback is the failure of
// the rollback statement itself.
type RollbackError struct {
	Err      error
	Rollback error
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("veloq: %v: rollback failed: %v", e.Err, e.Rollback)
}

// Unwrap returns both underlying errors.
func (e *RollbackError) Unwrap() []error {
	return []error{e.Err, e.Rollback}
}
