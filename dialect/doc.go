// Package dialect provides the database dialect abstraction used by veloq.
//
// This package defines the interfaces and types used for database-specific
// operations, allowing veloq to support multiple database backends including
// PostgreSQL, MySQL, and SQLite.
//
// # Supported Dialects
//
// The following dialects are supported:
//
//   - Postgres: PostgreSQL database
//   - MySQL: MySQL/MariaDB database
//   - SQLite: SQLite database
//
// # Dialect Constants
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// # Driver Interface
//
// The package defines the Driver interface for database operations:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// # Transaction Interface
//
// The Tx interface extends Driver with transaction methods:
//
//	type Tx interface {
//	    Driver
//	    Commit() error
//	    Rollback() error
//	}
//
// # ExecQuerier Interface
//
// The ExecQuerier interface is implemented by both Driver and Tx:
//
//	type ExecQuerier interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	}
//
// # Usage
//
// Opening a database connection:
//
//	import (
//	    "github.com/syssam/veloq/dialect"
//	    "github.com/syssam/veloq/dialect/sql"
//	)
//
//	db, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// Running statements on one physical connection, inside nested scopes:
//
//	sess, err := db.Session(ctx)
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//	err = sess.Atomic(ctx, func(ctx context.Context) error {
//	    return sess.Exec(ctx, "DELETE FROM books", []any{}, nil)
//	})
//
// # Sub-packages
//
// The dialect package contains several sub-packages:
//
//   - dialect/sql: expression tree, join graph, SQL compiler, driver adapter and sessions
//   - dialect/sql/sqlgraph: result graph reconstruction and prefetching
package dialect
