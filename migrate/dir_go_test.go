package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/rls/schema/field"
)

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	}
}

func policyBatch(t *testing.T) *Batch {
	t.Helper()
	planner := PlannerFunc(func(context.Context) (*Batch, error) {
		b := &Batch{}
		b.Module("billing").Ops = []Op{invoiceTable()}
		return b, nil
	})
	p, err := NewPipeline(testConfig(), planner, &memDir{})
	require.NoError(t, err)
	b, err := p.Run(context.Background())
	require.NoError(t, err)
	return b
}

func TestGoDirWrite(t *testing.T) {
	dir := t.TempDir()
	d, err := NewGoDir(dir, WithClock(fixedClock()))
	require.NoError(t, err)

	require.NoError(t, d.Write(context.Background(), policyBatch(t)))

	buf, err := os.ReadFile(filepath.Join(dir, "20230102030405_billing.go"))
	require.NoError(t, err)
	src := string(buf)

	assert.Contains(t, src, "package migrations")
	assert.Contains(t, src, "func init() {")
	assert.Contains(t, src, `Register("20230102030405_billing", Up_20230102030405_billing, Down_20230102030405_billing)`)
	assert.Contains(t, src, "func Up_20230102030405_billing(tx *sql.Tx) error {")
	assert.Contains(t, src, "func Down_20230102030405_billing(tx *sql.Tx) error {")
	// Single-line DDL stays an interpreted literal with escaped quotes.
	assert.Contains(t, src, `CREATE TABLE \"billing_invoice\"`)
	assert.Contains(t, src, `\"tenant_id\" bigint`)
	assert.Contains(t, src, `DROP TABLE IF EXISTS \"billing_invoice\";`)
	// The multi-line policy script becomes a raw literal.
	assert.Contains(t, src, `CREATE POLICY "billing_invoice_rls_policy"`)
	// Multi-line policy SQL is emitted as a raw literal.
	assert.Contains(t, src, "`DROP POLICY IF EXISTS")

	// The registry runtime is written alongside.
	reg, err := os.ReadFile(filepath.Join(dir, "registry.go"))
	require.NoError(t, err)
	assert.Contains(t, string(reg), "package migrations")
	assert.Contains(t, string(reg), "func Register(version string, up, down func(*sql.Tx) error)")
}

func TestGoDirWritePreservesRegistry(t *testing.T) {
	dir := t.TempDir()
	d, err := NewGoDir(dir, WithClock(fixedClock()))
	require.NoError(t, err)
	require.NoError(t, d.Write(context.Background(), policyBatch(t)))

	// A manually edited registry is never overwritten.
	path := filepath.Join(dir, "registry.go")
	require.NoError(t, os.WriteFile(path, []byte("package migrations // edited\n"), 0o644))
	require.NoError(t, d.Write(context.Background(), &Batch{}))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(buf), "edited")
}

func TestGoDirCustomPackage(t *testing.T) {
	dir := t.TempDir()
	d, err := NewGoDir(dir, WithClock(fixedClock()), WithPackage("schema"))
	require.NoError(t, err)
	require.NoError(t, d.Write(context.Background(), policyBatch(t)))

	buf, err := os.ReadFile(filepath.Join(dir, "registry.go"))
	require.NoError(t, err)
	assert.Contains(t, string(buf), "package schema")
}

func TestGoDirSkipsEmptyModules(t *testing.T) {
	dir := t.TempDir()
	d, err := NewGoDir(dir, WithClock(fixedClock()))
	require.NoError(t, err)

	b := &Batch{}
	b.Module("billing")
	require.NoError(t, d.Write(context.Background(), b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "registry.go", entries[0].Name())
}

func TestDDLType(t *testing.T) {
	tests := []struct {
		in   field.Type
		want string
	}{
		{field.TypeBool, "boolean"},
		{field.TypeTime, "timestamptz"},
		{field.TypeJSON, "jsonb"},
		{field.TypeUUID, "uuid"},
		{field.TypeBytes, "bytea"},
		{field.TypeInt, "integer"},
		{field.TypeInt64, "bigint"},
		{field.TypeFloat32, "real"},
		{field.TypeFloat64, "double precision"},
		{field.TypeString, "text"},
		{field.TypeEnum, "text"},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ddlType(tt.in))
		})
	}
}
