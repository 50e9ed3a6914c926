package migrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mig.go")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestFormatSQLLiterals(t *testing.T) {
	path := writeTemp(t, `package migrations

var script = "DROP POLICY IF EXISTS p ON t;\nCREATE POLICY p ON t;"
`)
	require.NoError(t, formatSQLLiterals(path))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(buf), "`DROP POLICY IF EXISTS p ON t;\nCREATE POLICY p ON t;`")
}

func TestFormatSQLLiteralsIdempotent(t *testing.T) {
	path := writeTemp(t, `package migrations

var script = "SELECT 1;\nSELECT 2;"
`)
	require.NoError(t, formatSQLLiterals(path))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, formatSQLLiterals(path))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestFormatSQLLiteralsLeavesSingleLineAlone(t *testing.T) {
	src := `package migrations

var script = "SELECT 1;"
`
	path := writeTemp(t, src)
	require.NoError(t, formatSQLLiterals(path))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, src, string(buf))
}

func TestFormatSQLLiteralsSkipsBackticks(t *testing.T) {
	src := `package migrations

var script = "SELECT '` + "`" + `';\nSELECT 2;"
`
	path := writeTemp(t, src)
	require.NoError(t, formatSQLLiterals(path))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	// A literal containing a backtick cannot be raw; the file stays as is.
	assert.Equal(t, src, string(buf))
}

func TestFormatSQLLiteralsSkipsUnparsableFile(t *testing.T) {
	src := "this is not go source {{{"
	path := writeTemp(t, src)
	require.NoError(t, formatSQLLiterals(path))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, src, string(buf))
}

func TestFormatSQLLiteralsMissingFile(t *testing.T) {
	err := formatSQLLiterals(filepath.Join(t.TempDir(), "missing.go"))
	require.Error(t, err)
}
