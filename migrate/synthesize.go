package migrate

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/syssam/rls"
	"github.com/syssam/rls/policy"
)

// Synthesizer turns a create-table operation in a tenant-scoped module into
// a reversible policy operation. Synthesis is deterministic: the same table,
// field set, and prefix always produce byte-identical SQL.
type Synthesizer struct {
	cfg      *rls.Config
	selector FieldSelector
	logger   *slog.Logger
}

// NewSynthesizer returns a Synthesizer using the configuration's candidate
// field list and session prefix, with automatic field selection.
func NewSynthesizer(cfg *rls.Config) *Synthesizer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{cfg: cfg, selector: AutoSelector{}, logger: logger}
}

// Synthesize builds the policy operation for a new table, or nil when the
// table is not tenant-scoped in practice (no candidate fields) or the
// operator skipped it. The returned operation carries the forward
// (drop/create/enable/force) and reverse (unforce/disable/drop) scripts.
func (s *Synthesizer) Synthesize(module string, ct *CreateTable) (*RunSQL, error) {
	// Candidates are the configured fields present on the table, in
	// configured order rather than column order.
	var candidates []string
	for _, f := range s.cfg.Fields {
		if _, ok := ct.Column(f); ok {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	selected, err := s.selector.Select(ct.Model, candidates, module)
	switch {
	case errors.Is(err, rls.ErrNotInteractive):
		// No console to prompt on. Protect everything rather than nothing.
		s.logger.Warn("rls: cannot prompt for field selection, using all candidates",
			"model", ct.Model, "module", module, "fields", candidates)
		selected = candidates
	case errors.Is(err, rls.ErrSelectionCanceled):
		selected = nil
	case err != nil:
		return nil, fmt.Errorf("migrate: selecting fields for %s: %w", ct.Model, err)
	}
	if len(selected) == 0 {
		if s.cfg.RequireSelection {
			return nil, fmt.Errorf("migrate: no fields selected for %s: %w", ct.Model, rls.ErrSelectionCanceled)
		}
		// The table stays unprotected. Loud on purpose: a human has to
		// notice this at migration-authoring time.
		s.logger.Warn("rls: skipping policy, no fields selected",
			"model", ct.Model, "module", module)
		return nil, nil
	}

	fields := make([]policy.ProtectedField, 0, len(selected))
	for _, name := range selected {
		if !contains(candidates, name) {
			return nil, rls.NewUnknownFieldError(ct.Model, name)
		}
	}
	// Preserve configured candidate order regardless of selection order.
	for _, name := range candidates {
		if !contains(selected, name) {
			continue
		}
		t, err := ct.FieldType(name)
		if err != nil {
			return nil, err
		}
		fields = append(fields, policy.NewField(name, t))
	}

	spec := policy.NewSpec(ct.Table(module), fields, s.cfg.SessionPrefix)
	s.logger.Info("rls: policy added",
		"model", ct.Model, "table", spec.Table, "fields", selected)
	return &RunSQL{Forward: spec.ForwardSQL(), Reverse: spec.ReverseSQL()}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
