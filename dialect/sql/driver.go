// Package sql provides a database/sql backed implementation of the dialect
// interfaces with per-connection session variable support, used to carry the
// row-level security context of a request into the database session.
package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/syssam/rls/dialect"
)

// validVarNameRe validates session variable names (identifier, optionally
// namespaced with dots, e.g. "rls.tenant_id").
var validVarNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// isValidVarName checks if the string is a valid session variable name.
func isValidVarName(s string) bool {
	return s != "" && len(s) <= 128 && validVarNameRe.MatchString(s)
}

// Driver is a dialect.Driver implementation for SQL based databases.
type Driver struct {
	Conn
	dialect string
}

// NewDriver creates a new Driver with the given Conn and dialect.
func NewDriver(dialect string, c Conn) *Driver {
	return &Driver{dialect: dialect, Conn: c}
}

// Open wraps the database/sql.Open method and returns a dialect.Driver.
func Open(dialect, source string) (*Driver, error) {
	db, err := sql.Open(dialect, source)
	if err != nil {
		return nil, err
	}
	return NewDriver(dialect, Conn{db, dialect}), nil
}

// OpenDB wraps the given database/sql.DB with a Driver.
func OpenDB(dialect string, db *sql.DB) *Driver {
	return NewDriver(dialect, Conn{db, dialect})
}

// DB returns the underlying *sql.DB instance.
func (d Driver) DB() *sql.DB {
	return d.ExecQuerier.(*sql.DB)
}

// Dialect implements the dialect.Dialect method.
func (d Driver) Dialect() string {
	return d.dialect
}

// Tx starts and returns a transaction.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with options.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	tx, err := d.DB().BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{
		Conn: Conn{tx, d.dialect},
		Tx:   tx,
	}, nil
}

// Close closes the underlying connection.
func (d *Driver) Close() error { return d.DB().Close() }

// Tx implements dialect.Tx interface.
type Tx struct {
	Conn
	driver.Tx
}

// SessionVar is a single session variable assignment, e.g. name
// "rls.tenant_id" with value "42". Values are always text; generated policies
// cast them to the protected column's type.
type SessionVar struct {
	Name  string
	Value string
}

// ctxVarsKey is the key used for attaching and reading the session context.
type ctxVarsKey struct{}

// sessionContext holds the variables to set before every statement.
type sessionContext struct {
	vars []SessionVar
}

// WithSessionContext returns a new context carrying session variables to be
// applied before every statement executed through the driver. Later
// assignments to the same name win.
func WithSessionContext(ctx context.Context, vars ...SessionVar) context.Context {
	sc, _ := ctx.Value(ctxVarsKey{}).(sessionContext)
	sc.vars = append(sc.vars, vars...)
	return context.WithValue(ctx, ctxVarsKey{}, sc)
}

// SessionContextFrom returns the session variables attached to the context.
func SessionContextFrom(ctx context.Context) []SessionVar {
	sc, _ := ctx.Value(ctxVarsKey{}).(sessionContext)
	return sc.vars
}

// SetSessionVars applies the given session variables on ex, which is usually
// a *sql.Conn or *sql.Tx pinned to a single database session. Assignments are
// parameterized; variable names are validated before use. The postgres
// dialect is the only one with row security policies, so every other dialect
// is a no-op.
func SetSessionVars(ctx context.Context, ex ExecQuerier, dialectName string, vars []SessionVar) error {
	if dialectName != dialect.Postgres {
		return nil
	}
	for _, v := range vars {
		if !isValidVarName(v.Name) {
			return fmt.Errorf("dialect/sql: invalid session variable name: %q", v.Name)
		}
		// set_config with is_local=false keeps the value for the session,
		// which is reset explicitly when the connection is released.
		if _, err := ex.ExecContext(ctx, "SELECT set_config($1, $2, false)", v.Name, v.Value); err != nil {
			return fmt.Errorf("dialect/sql: set session variable %q: %w", v.Name, err)
		}
	}
	return nil
}

// ResetSessionVars clears the given session variables on ex. It must be
// called before a pooled connection is returned, otherwise the security
// context would leak into the next request served by the same connection.
func ResetSessionVars(ctx context.Context, ex ExecQuerier, dialectName string, vars []SessionVar) error {
	if dialectName != dialect.Postgres {
		return nil
	}
	seen := make(map[string]struct{}, len(vars))
	for _, v := range vars {
		if _, ok := seen[v.Name]; ok {
			continue
		}
		seen[v.Name] = struct{}{}
		if !isValidVarName(v.Name) {
			return fmt.Errorf("dialect/sql: invalid session variable name: %q", v.Name)
		}
		if _, err := ex.ExecContext(ctx, fmt.Sprintf("RESET %s", v.Name)); err != nil {
			return fmt.Errorf("dialect/sql: reset session variable %q: %w", v.Name, err)
		}
	}
	return nil
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
	ex, cf, err := c.maySetVars(ctx)
	if err != nil {
		return fmt.Errorf("dialect/sql: exec: set session vars: %w", err)
	}
	if cf != nil {
		defer func() { rerr = errors.Join(rerr, cf()) }()
	}
	switch v := v.(type) {
	case nil:
		if _, err := ex.ExecContext(ctx, query, argv...); err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", err)
		}
	case *sql.Result:
		res, err := ex.ExecContext(ctx, query, argv...)
		if err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", err)
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
	ex, cf, err := c.maySetVars(ctx)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: set session vars: %w", err)
	}
	rows, err := ex.QueryContext(ctx, query, argv...)
	if err != nil {
		if cf != nil {
			err = errors.Join(err, cf())
		}
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	*vr = Rows{rows}
	if cf != nil {
		vr.ColumnScanner = rowsWithCloser{rows, cf}
	}
	return nil
}

// maySetVars applies the context's session variables before executing a
// statement. When the underlying ExecQuerier is a pooled *sql.DB, a dedicated
// connection is acquired so the variables stay scoped to this statement's
// session, and the variables are reset before the connection is released.
func (c Conn) maySetVars(ctx context.Context) (ExecQuerier, func() error, error) {
	sc, _ := ctx.Value(ctxVarsKey{}).(sessionContext)
	if len(sc.vars) == 0 || c.dialect != dialect.Postgres {
		return c, nil, nil
	}
	var (
		ex ExecQuerier
		cf func() error
	)
	switch e := c.ExecQuerier.(type) {
	case *sql.Tx:
		ex = e
	case *sql.DB:
		conn, err := e.Conn(ctx)
		if err != nil {
			return nil, nil, err
		}
		ex, cf = conn, conn.Close
	default:
		return nil, nil, fmt.Errorf("unsupported ExecQuerier type: %T", c.ExecQuerier)
	}
	if err := SetSessionVars(ctx, ex, c.dialect, sc.vars); err != nil {
		if cf != nil {
			err = errors.Join(err, cf())
		}
		return nil, nil, err
	}
	// Reset before the connection goes back to the pool. Use a background
	// context with timeout so cleanup completes even if the request context
	// was canceled.
	if cls := cf; cf != nil {
		cf = func() error {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ResetSessionVars(cleanupCtx, ex, c.dialect, sc.vars); err != nil {
				return errors.Join(err, cls())
			}
			return cls()
		}
	}
	return ex, cf, nil
}

var _ dialect.Driver = (*Driver)(nil)

type (
	// Rows wraps the sql.Rows to avoid locks copy.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
	// NullBool is an alias to sql.NullBool.
	NullBool = sql.NullBool
	// NullInt64 is an alias to sql.NullInt64.
	NullInt64 = sql.NullInt64
	// NullString is an alias to sql.NullString.
	NullString = sql.NullString
	// NullTime represents a time.Time that may be null.
	NullTime = sql.NullTime
	// TxOptions holds the transaction options to be used in DB.BeginTx.
	TxOptions = sql.TxOptions
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

// rowsWithCloser wraps the ColumnScanner interface with a custom Close hook.
type rowsWithCloser struct {
	ColumnScanner
	closer func() error
}

// Close closes the underlying ColumnScanner and calls the custom closer.
func (r rowsWithCloser) Close() error {
	err := r.ColumnScanner.Close()
	return errors.Join(err, r.closer())
}
