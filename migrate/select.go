package migrate

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/syssam/rls"
)

// FieldSelector decides which candidate fields a new table's policy
// enforces. Implementations must return a subset of candidates;
// rls.ErrSelectionCanceled signals an operator cancel and
// rls.ErrNotInteractive signals that no prompt could be shown.
type FieldSelector interface {
	Select(model string, candidates []string, module string) ([]string, error)
}

// SelectorFunc allows ordinary functions to be used as field selectors.
type SelectorFunc func(model string, candidates []string, module string) ([]string, error)

// Select returns f(model, candidates, module).
func (f SelectorFunc) Select(model string, candidates []string, module string) ([]string, error) {
	return f(model, candidates, module)
}

// AutoSelector selects every candidate field. This is the non-interactive
// default, suitable for CI.
type AutoSelector struct{}

// Select returns all candidates.
func (AutoSelector) Select(_ string, candidates []string, _ string) ([]string, error) {
	return candidates, nil
}

// FixedSelector always selects the same field list, intersected with the
// candidates of each table.
type FixedSelector []string

// Select returns the fixed fields that are candidates for this table.
func (s FixedSelector) Select(_ string, candidates []string, _ string) ([]string, error) {
	var out []string
	for _, f := range s {
		if contains(candidates, f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// InteractiveSelector prompts the operator on a terminal to pick fields.
// Without a terminal it returns rls.ErrNotInteractive, which the synthesizer
// downgrades to selecting all candidates with a warning.
type InteractiveSelector struct {
	// In is the prompt input. Defaults to os.Stdin.
	In io.Reader
	// Out is where the prompt is printed. Defaults to os.Stderr.
	Out io.Writer
}

// Select prompts for a comma-separated field list. Blank input selects all
// candidates, the literal "none" selects nothing, and EOF cancels.
func (s InteractiveSelector) Select(model string, candidates []string, module string) ([]string, error) {
	in, out := s.In, s.Out
	if in == nil {
		if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			return nil, rls.ErrNotInteractive
		}
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprintf(out, "\nRLS configuration for %s (in %s)\n", model, module)
	fmt.Fprintf(out, "Candidate fields: %s\n", strings.Join(candidates, ", "))
	fmt.Fprintf(out, "Enter fields to enforce (comma-separated, blank for all, %q to skip): ", "none")

	r := bufio.NewReader(in)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return nil, rls.ErrSelectionCanceled
	}
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return candidates, nil
	case "none":
		return nil, nil
	}
	var selected []string
	for _, f := range strings.Split(line, ",") {
		if f = strings.TrimSpace(f); f != "" {
			selected = append(selected, f)
		}
	}
	return selected, nil
}
