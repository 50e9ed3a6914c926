package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dave/jennifer/jen"
	"github.com/go-openapi/inflect"
	"github.com/lib/pq"

	"github.com/syssam/rls/schema/field"
)

// GoDir persists batches as Go migration files: one file per module and run,
// registering exported Up_/Down_ functions with the package-level registry.
// The registry runtime (registry.go) is written once when missing.
//
// After a file is written, a cosmetic pass rewrites multi-line SQL string
// literals into raw (backtick) literals for readability. The pass is purely
// textual and best effort: files it cannot parse are left untouched.
type GoDir struct {
	path string
	pkg  string
	now  func() time.Time
}

// GoDirOption configures a GoDir.
type GoDirOption func(*GoDir)

// WithPackage sets the package name of generated files. Default "migrations".
func WithPackage(name string) GoDirOption {
	return func(d *GoDir) {
		d.pkg = name
	}
}

// WithClock sets the time source used for migration versions.
func WithClock(now func() time.Time) GoDirOption {
	return func(d *GoDir) {
		d.now = now
	}
}

// NewGoDir returns a GoDir writing into path, creating it if needed.
func NewGoDir(path string, opts ...GoDirOption) (*GoDir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("migrate: creating migration dir: %w", err)
	}
	d := &GoDir{path: path, pkg: "migrations", now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Write persists every non-empty module change set as a Go migration file
// and then reformats the embedded SQL literals.
func (d *GoDir) Write(_ context.Context, b *Batch) error {
	if err := d.ensureRegistry(); err != nil {
		return err
	}
	version := d.now().UTC().Format("20060102150405")
	for _, m := range b.Modules {
		if len(m.Ops) == 0 {
			continue
		}
		name := inflect.Underscore(m.Module)
		file := filepath.Join(d.path, fmt.Sprintf("%s_%s.go", version, name))
		if err := d.render(version, name, m).Save(file); err != nil {
			return fmt.Errorf("migrate: writing %s: %w", file, err)
		}
		if err := formatSQLLiterals(file); err != nil {
			return err
		}
	}
	return nil
}

// render builds the migration file for one module.
func (d *GoDir) render(version, name string, m *ModuleChanges) *jen.File {
	var (
		up   = fmt.Sprintf("Up_%s_%s", version, name)
		down = fmt.Sprintf("Down_%s_%s", version, name)
	)
	f := jen.NewFile(d.pkg)
	f.HeaderComment(fmt.Sprintf("Code generated by rls migrate for module %s.", m.Module))
	f.Func().Id("init").Params().Block(
		jen.Id("Register").Call(jen.Lit(version+"_"+name), jen.Id(up), jen.Id(down)),
	)

	var upStmts []jen.Code
	for _, op := range m.Ops {
		sql, desc := forwardSQL(m.Module, op)
		upStmts = append(upStmts, execStmt(sql, desc))
	}
	upStmts = append(upStmts, jen.Return(jen.Nil()))
	f.Func().Id(up).Params(jen.Id("tx").Op("*").Qual("database/sql", "Tx")).Error().Block(upStmts...)

	var downStmts []jen.Code
	for i := len(m.Ops) - 1; i >= 0; i-- {
		sql, desc := reverseSQL(m.Module, m.Ops[i])
		downStmts = append(downStmts, execStmt(sql, "reverting "+desc))
	}
	downStmts = append(downStmts, jen.Return(jen.Nil()))
	f.Func().Id(down).Params(jen.Id("tx").Op("*").Qual("database/sql", "Tx")).Error().Block(downStmts...)
	return f
}

// execStmt renders: if _, err := tx.Exec(sql); err != nil { return fmt.Errorf(...) }
func execStmt(sql, desc string) jen.Code {
	return jen.If(
		jen.List(jen.Id("_"), jen.Err()).Op(":=").Id("tx").Dot("Exec").Call(jen.Lit(sql)),
		jen.Err().Op("!=").Nil(),
	).Block(
		jen.Return(jen.Qual("fmt", "Errorf").Call(jen.Lit(desc+": %w"), jen.Err())),
	)
}

// forwardSQL returns the forward script and a short description for an operation.
func forwardSQL(module string, op Op) (string, string) {
	switch op := op.(type) {
	case *CreateTable:
		table := op.Table(module)
		return createTableDDL(table, op.Columns), fmt.Sprintf("creating table %s", table)
	case *RunSQL:
		return op.Forward, "running migration sql"
	default:
		panic(fmt.Sprintf("migrate: unknown operation type %T", op))
	}
}

// reverseSQL returns the reverse script and a short description for an operation.
func reverseSQL(module string, op Op) (string, string) {
	switch op := op.(type) {
	case *CreateTable:
		table := op.Table(module)
		return fmt.Sprintf("DROP TABLE IF EXISTS %s;", pq.QuoteIdentifier(table)), fmt.Sprintf("creating table %s", table)
	case *RunSQL:
		return op.Reverse, "running migration sql"
	default:
		panic(fmt.Sprintf("migrate: unknown operation type %T", op))
	}
}

// createTableDDL renders the CREATE TABLE statement for a new table.
func createTableDDL(table string, cols []Column) string {
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		defs = append(defs, pq.QuoteIdentifier(c.Name)+" "+ddlType(c.Type))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s);", pq.QuoteIdentifier(table), strings.Join(defs, ", "))
}

// ddlType maps abstract column types to PostgreSQL DDL types.
func ddlType(t field.Type) string {
	switch t {
	case field.TypeBool:
		return "boolean"
	case field.TypeTime:
		return "timestamptz"
	case field.TypeJSON:
		return "jsonb"
	case field.TypeUUID:
		return "uuid"
	case field.TypeBytes:
		return "bytea"
	case field.TypeInt, field.TypeInt8, field.TypeInt16, field.TypeInt32,
		field.TypeUint8, field.TypeUint16:
		return "integer"
	case field.TypeInt64, field.TypeUint, field.TypeUint32, field.TypeUint64:
		return "bigint"
	case field.TypeFloat32:
		return "real"
	case field.TypeFloat64:
		return "double precision"
	default:
		return "text"
	}
}

// registrySrc is the static runtime written next to generated migrations.
// It mirrors the common registry style of hand-rolled Go migration packages.
const registrySrc = `// Code generated by rls migrate. DO NOT EDIT.

package %s

import (
	"database/sql"
	"fmt"
	"sort"
)

// A Migration is a reversible schema change applied in a transaction.
type Migration struct {
	Version string
	Up      func(*sql.Tx) error
	Down    func(*sql.Tx) error
}

var registry []Migration

// Register adds a migration to the package registry. It is called from the
// init function of every generated migration file.
func Register(version string, up, down func(*sql.Tx) error) {
	registry = append(registry, Migration{Version: version, Up: up, Down: down})
}

// All returns the registered migrations ordered by version.
func All() []Migration {
	out := make([]Migration, len(registry))
	copy(out, registry)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// Apply runs every registered migration in order, each in its own
// transaction.
func Apply(db *sql.DB) error {
	for _, m := range All() {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %%s: %%w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
`

// ensureRegistry writes registry.go when it does not exist yet.
func (d *GoDir) ensureRegistry() error {
	path := filepath.Join(d.path, "registry.go")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	src := fmt.Sprintf(registrySrc, d.pkg)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return fmt.Errorf("migrate: writing registry: %w", err)
	}
	return nil
}
