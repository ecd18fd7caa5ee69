// Package veloq is the root of a SQL query construction and execution core.
//
// Queries are composed from immutable expression values (dialect/sql),
// compiled into parameterized SQL for PostgreSQL, MySQL or SQLite, and their
// rows rebuilt into linked object graphs (dialect/sql/sqlgraph). One-to-many
// relations can be prefetched with one query per level, and statements can
// run inside nested transactional scopes backed by savepoints.
//
// This package holds what every other package shares: the error taxonomy and
// the byte-level Cache used by the compiled-statement cache.
//
// # Errors
//
// Errors raised while building or compiling a query are *BuildError and
// *CompileError. Implicit joins fail with *NoImplicitJoinError or
// *AmbiguousJoinError, both matching ErrJoin. Driver errors are normalized
// into *IntegrityError, *OperationalError, *ProgrammingError and
// *InterfaceError, keeping the backend message and the driver error in the
// chain:
//
//	if err := sess.Exec(ctx, query, args, nil); veloq.IsIntegrityError(err) {
//	    var ie *veloq.IntegrityError
//	    errors.As(err, &ie)
//	    log.Println("constraint violated:", ie.Constraint)
//	}
package veloq
