// Package dialect provides the database dialect abstraction used by the rls
// module.
//
// Row-level security policies target PostgreSQL. The abstraction exists so
// the request middleware and the migration pipeline can recognize the backend
// they run against and degrade to a no-op on any other dialect instead of
// failing.
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
// The dialect/sql sub-package provides the database/sql backed implementation
// with per-connection session variable support.
package dialect
