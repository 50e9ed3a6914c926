package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ariga.io/atlas/sql/sqltool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtlasDirWrite(t *testing.T) {
	dir := t.TempDir()
	d, err := NewAtlasDir(dir, WithAtlasClock(fixedClock()))
	require.NoError(t, err)

	require.NoError(t, d.Write(context.Background(), policyBatch(t)))

	up, err := os.ReadFile(filepath.Join(dir, "20230102030405_billing.up.sql"))
	require.NoError(t, err)
	assert.Contains(t, string(up), `CREATE TABLE "billing_invoice"`)
	assert.Contains(t, string(up), `CREATE POLICY "billing_invoice_rls_policy"`)
	assert.Contains(t, string(up), "FORCE ROW LEVEL SECURITY")

	down, err := os.ReadFile(filepath.Join(dir, "20230102030405_billing.down.sql"))
	require.NoError(t, err)
	assert.Contains(t, string(down), `DROP TABLE IF EXISTS "billing_invoice";`)
	assert.Contains(t, string(down), "NO FORCE ROW LEVEL SECURITY")
}

func TestAtlasDirGooseFormatter(t *testing.T) {
	dir := t.TempDir()
	d, err := NewAtlasDir(dir, WithAtlasClock(fixedClock()), WithFormatter(sqltool.GooseFormatter))
	require.NoError(t, err)

	require.NoError(t, d.Write(context.Background(), policyBatch(t)))

	buf, err := os.ReadFile(filepath.Join(dir, "20230102030405_billing.sql"))
	require.NoError(t, err)
	assert.Contains(t, string(buf), "+goose Up")
	assert.Contains(t, string(buf), "+goose Down")
}

func TestAtlasDirSumFile(t *testing.T) {
	dir := t.TempDir()
	d, err := NewAtlasDir(dir, WithAtlasClock(fixedClock()), WithSumFile())
	require.NoError(t, err)

	require.NoError(t, d.Write(context.Background(), policyBatch(t)))

	_, err = os.Stat(filepath.Join(dir, "atlas.sum"))
	require.NoError(t, err)
}

func TestAtlasDirSkipsEmptyModules(t *testing.T) {
	dir := t.TempDir()
	d, err := NewAtlasDir(dir, WithAtlasClock(fixedClock()))
	require.NoError(t, err)

	b := &Batch{}
	b.Module("billing")
	require.NoError(t, d.Write(context.Background(), b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
