package dialect

import (
	"context"
)

// Dialect names for the supported database backends. Row-level security is a
// PostgreSQL feature; the other dialects are recognized so callers can
// degrade to a no-op instead of erroring on them.
const (
	// Postgres is the only dialect where policies are synthesized and
	// session context is applied.
	Postgres = "postgres"
	// MySQL dialect.
	MySQL = "mysql"
	// SQLite dialect.
	SQLite = "sqlite"
)

// ExecQuerier wraps the two basic Exec and Query methods.
type ExecQuerier interface {
	// Exec executes a query that does not return records. For example, in SQL, INSERT or UPDATE.
	// It scans the result into the pointer v. For SQL drivers, it is dialect/sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a query that returns rows, typically a SELECT in SQL.
	// It scans the result into the pointer v. For SQL drivers, it is *dialect/sql.Rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all database operations.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	// The provided context is used until the transaction is committed or rolled back.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps transactional operations.
type Tx interface {
	ExecQuerier
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error
}
