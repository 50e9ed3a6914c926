package migrate

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"strconv"
	"strings"

	"golang.org/x/tools/imports"
)

// formatSQLLiterals rewrites interpreted string literals containing escaped
// newlines (the SQL scripts jennifer emits) into raw backtick literals, so
// persisted migration files show the SQL as readable blocks.
//
// The pass is cosmetic and must never change program semantics or corrupt a
// file: it operates on parsed literal positions only, leaves files untouched
// when nothing matches or parsing fails, and is idempotent since raw
// literals contain no escape sequences to match.
func formatSQLLiterals(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("migrate: reading %s: %w", path, err)
	}
	out, ok := rewriteSQLLiterals(path, src)
	if !ok {
		return nil
	}
	// Re-run the formatter over the spliced source. A failure here means
	// the rewrite produced something unexpected; keep the original file.
	formatted, err := imports.Process(path, out, nil)
	if err != nil {
		return nil
	}
	if err := os.WriteFile(path, formatted, 0o644); err != nil {
		return fmt.Errorf("migrate: writing %s: %w", path, err)
	}
	return nil
}

// rewriteSQLLiterals returns the rewritten source and whether any literal
// changed. Literals containing backticks or carriage returns cannot be
// represented raw and are skipped.
func rewriteSQLLiterals(path string, src []byte) ([]byte, bool) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, false
	}
	type splice struct {
		start, end int
		repl       string
	}
	var splices []splice
	ast.Inspect(f, func(n ast.Node) bool {
		lit, ok := n.(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING || !strings.HasPrefix(lit.Value, `"`) {
			return true
		}
		if !strings.Contains(lit.Value, `\n`) {
			return true
		}
		val, err := strconv.Unquote(lit.Value)
		if err != nil {
			return true
		}
		if strings.ContainsAny(val, "`\r") {
			return true
		}
		splices = append(splices, splice{
			start: fset.Position(lit.Pos()).Offset,
			end:   fset.Position(lit.End()).Offset,
			repl:  "`" + val + "`",
		})
		return true
	})
	if len(splices) == 0 {
		return nil, false
	}
	out := make([]byte, len(src))
	copy(out, src)
	for i := len(splices) - 1; i >= 0; i-- {
		s := splices[i]
		out = append(out[:s.start], append([]byte(s.repl), out[s.end:]...)...)
	}
	return out, true
}
