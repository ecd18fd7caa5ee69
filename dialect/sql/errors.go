package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"

	"github.com/syssam/veloq"
)

type errorClass uint8

const (
	classUnknown errorClass = iota
	classIntegrity
	classOperational
	classProgramming
	classInterface
)

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// MySQL error numbers.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlBadNull                = 1048
	mysqlNoDefault              = 1364
	mysqlCheckConstraintViolate = 3819
	mysqlParseError             = 1064
	mysqlBadField               = 1054
	mysqlNoSuchTable            = 1146
	mysqlTableExists            = 1050
	mysqlLockWaitTimeout        = 1205
	mysqlDeadlock               = 1213
	mysqlTooManyConnections     = 1040
	mysqlServerGone             = 2006
	mysqlServerLost             = 2013
)

// SQLite result codes.
const (
	sqliteError      = 1
	sqliteBusy       = 5
	sqliteLocked     = 6
	sqliteNoMem      = 7
	sqliteIOErr      = 10
	sqliteFull       = 13
	sqliteCantOpen   = 14
	sqliteConstraint = 19
	sqliteMismatch   = 20
	sqliteMisuse     = 21
	sqliteRange      = 25

	sqliteConstraintCheck      = sqliteConstraint | 1<<8
	sqliteConstraintForeignKey = sqliteConstraint | 3<<8
	sqliteConstraintNotNull    = sqliteConstraint | 5<<8
	sqliteConstraintPrimaryKey = sqliteConstraint | 6<<8
	sqliteConstraintUnique     = sqliteConstraint | 8<<8
)

// NormalizeError maps a driver error to the veloq error taxonomy: the result
// is a *veloq.IntegrityError, *veloq.OperationalError, *veloq.ProgrammingError
// or *veloq.InterfaceError whose message is the original driver message and
// which unwraps to the original error. Errors that cannot be classified and
// errors already normalized are returned unchanged.
func NormalizeError(err error) error {
	if err == nil || veloq.IsDriverError(err) {
		return err
	}
	class, kind := classify(err)
	de := veloq.DriverError{Err: err}
	switch class {
	case classIntegrity:
		return &veloq.IntegrityError{DriverError: de, Constraint: kind}
	case classOperational:
		return &veloq.OperationalError{DriverError: de}
	case classProgramming:
		return &veloq.ProgrammingError{DriverError: de}
	case classInterface:
		return &veloq.InterfaceError{DriverError: de}
	default:
		return err
	}
}

func classify(err error) (errorClass, veloq.ConstraintKind) {
	var (
		pqErr     *pq.Error
		mysqlErr  *mysql.MySQLError
		sqliteErr *sqlite.Error
	)
	switch {
	case errors.As(err, &pqErr):
		return classifyPostgres(string(pqErr.Code))
	case errors.As(err, &mysqlErr):
		return classifyMySQL(mysqlErr.Number)
	case errors.As(err, &sqliteErr):
		class, kind := classifySQLite(sqliteErr.Code())
		if class == classIntegrity && kind == veloq.ConstraintUnknown {
			// Primary result code only; the kind is in the message.
			_, kind = classifyMessage(sqliteErr.Error())
		}
		return class, kind
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return classOperational, veloq.ConstraintUnknown
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, sql.ErrTxDone):
		return classInterface, veloq.ConstraintUnknown
	}
	return classifyMessage(err.Error())
}

func classifyPostgres(code string) (errorClass, veloq.ConstraintKind) {
	switch code {
	case pgUniqueViolation:
		return classIntegrity, veloq.ConstraintUnique
	case pgForeignKeyViolation:
		return classIntegrity, veloq.ConstraintForeignKey
	case pgNotNullViolation:
		return classIntegrity, veloq.ConstraintNotNull
	case pgCheckViolation:
		return classIntegrity, veloq.ConstraintCheck
	}
	if len(code) < 2 {
		return classUnknown, veloq.ConstraintUnknown
	}
	switch pq.ErrorCode(code).Class() {
	case "23":
		return classIntegrity, veloq.ConstraintUnknown
	case "22", "42":
		return classProgramming, veloq.ConstraintUnknown
	case "08", "40", "53", "55", "57", "58":
		return classOperational, veloq.ConstraintUnknown
	}
	return classUnknown, veloq.ConstraintUnknown
}

func classifyMySQL(number uint16) (errorClass, veloq.ConstraintKind) {
	switch number {
	case mysqlDuplicateEntry:
		return classIntegrity, veloq.ConstraintUnique
	case mysqlForeignKeyParent, mysqlForeignKeyChild:
		return classIntegrity, veloq.ConstraintForeignKey
	case mysqlBadNull, mysqlNoDefault:
		return classIntegrity, veloq.ConstraintNotNull
	case mysqlCheckConstraintViolate:
		return classIntegrity, veloq.ConstraintCheck
	case mysqlParseError, mysqlBadField, mysqlNoSuchTable, mysqlTableExists:
		return classProgramming, veloq.ConstraintUnknown
	case mysqlLockWaitTimeout, mysqlDeadlock, mysqlTooManyConnections, mysqlServerGone, mysqlServerLost:
		return classOperational, veloq.ConstraintUnknown
	}
	return classUnknown, veloq.ConstraintUnknown
}

func classifySQLite(code int) (errorClass, veloq.ConstraintKind) {
	switch code {
	case sqliteConstraintUnique, sqliteConstraintPrimaryKey:
		return classIntegrity, veloq.ConstraintUnique
	case sqliteConstraintForeignKey:
		return classIntegrity, veloq.ConstraintForeignKey
	case sqliteConstraintNotNull:
		return classIntegrity, veloq.ConstraintNotNull
	case sqliteConstraintCheck:
		return classIntegrity, veloq.ConstraintCheck
	}
	switch code & 0xff {
	case sqliteConstraint:
		return classIntegrity, veloq.ConstraintUnknown
	case sqliteBusy, sqliteLocked, sqliteNoMem, sqliteIOErr, sqliteFull, sqliteCantOpen:
		return classOperational, veloq.ConstraintUnknown
	case sqliteError, sqliteMismatch, sqliteRange:
		return classProgramming, veloq.ConstraintUnknown
	case sqliteMisuse:
		return classInterface, veloq.ConstraintUnknown
	}
	return classUnknown, veloq.ConstraintUnknown
}

// classifyMessage is the fallback for drivers without typed errors.
func classifyMessage(msg string) (errorClass, veloq.ConstraintKind) {
	switch {
	case containsAny(msg,
		"Error 1062",                 // MySQL
		"violates unique constraint", // Postgres
		"UNIQUE constraint failed",   // SQLite
	):
		return classIntegrity, veloq.ConstraintUnique
	case containsAny(msg,
		"Error 1451",                      // MySQL (Cannot delete or update a parent row)
		"Error 1452",                      // MySQL (Cannot add or update a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	):
		return classIntegrity, veloq.ConstraintForeignKey
	case containsAny(msg,
		"Error 1048",                   // MySQL
		"violates not-null constraint", // Postgres
		"NOT NULL constraint failed",   // SQLite
	):
		return classIntegrity, veloq.ConstraintNotNull
	case containsAny(msg,
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
	):
		return classIntegrity, veloq.ConstraintCheck
	case containsAny(msg, "syntax error", "no such table", "no such column"):
		return classProgramming, veloq.ConstraintUnknown
	case containsAny(msg, "database is locked", "deadlock detected"):
		return classOperational, veloq.ConstraintUnknown
	}
	return classUnknown, veloq.ConstraintUnknown
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if veloq.IsIntegrityError(err) {
		return true
	}
	class, _ := classify(err)
	return class == classIntegrity
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	return constraintOf(err) == veloq.ConstraintUnique
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	return constraintOf(err) == veloq.ConstraintForeignKey
}

// IsNotNullConstraintError reports if the error resulted from a NOT NULL constraint violation.
func IsNotNullConstraintError(err error) bool {
	return constraintOf(err) == veloq.ConstraintNotNull
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
// e.g. a value does not satisfy a check condition.
func IsCheckConstraintError(err error) bool {
	return constraintOf(err) == veloq.ConstraintCheck
}

func constraintOf(err error) veloq.ConstraintKind {
	if err == nil {
		return veloq.ConstraintUnknown
	}
	var ie *veloq.IntegrityError
	if errors.As(err, &ie) {
		return ie.Constraint
	}
	class, kind := classify(err)
	if class != classIntegrity {
		return veloq.ConstraintUnknown
	}
	return kind
}

// isConnFault reports whether err means the connection can no longer be
// trusted: a bad connection, or a statement interrupted by its context.
func isConnFault(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
