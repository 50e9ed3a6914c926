// Package migrate implements the schema-migration pipeline that attaches
// row-level security policies to newly created tenant-scoped tables.
//
// The pipeline has three strictly sequential phases:
//
//	COMPUTE  a Planner produces the batch of pending schema operations
//	AUGMENT  for every new table in a tenant-scoped module, a policy
//	         operation is synthesized and inserted right after it
//	PERSIST  a Dir writes the augmented batch to migration artifacts
//
// The batch is mutated by insertion only; existing operations are never
// reordered or removed. Policy operations are placed immediately after the
// create-table operation they protect, so table creation and policy
// attachment stay adjacent for any ordering-dependent tooling downstream.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/syssam/rls"
	"github.com/syssam/rls/schema/field"
)

// Column describes a single column of a table handed to the pipeline.
type Column struct {
	Name string
	Type field.Type
}

// Op is a single schema operation. The variant set is closed: the pipeline
// dispatches on the concrete type and explicitly ignores variants it does
// not synthesize policies for.
type Op interface {
	op()
}

// CreateTable is the creation of a new table.
type CreateTable struct {
	// Model is the declared model name, e.g. "Invoice".
	Model string
	// TableName overrides the derived table name when set.
	TableName string
	// Columns are the table's columns in declaration order.
	Columns []Column
}

func (*CreateTable) op() {}

// Table returns the table name: the explicit override if configured,
// otherwise the deterministic default {module}_{model lowercased}.
func (c *CreateTable) Table(module string) string {
	if c.TableName != "" {
		return c.TableName
	}
	return module + "_" + strings.ToLower(c.Model)
}

// Column returns the named column, if present.
func (c *CreateTable) Column(name string) (Column, bool) {
	for _, col := range c.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// FieldType returns the abstract type of the named column. A missing column
// is a distinct unknown-field error surfaced to the operator at
// migration-authoring time.
func (c *CreateTable) FieldType(name string) (field.Type, error) {
	col, ok := c.Column(name)
	if !ok {
		return field.TypeInvalid, rls.NewUnknownFieldError(c.Model, name)
	}
	return col.Type, nil
}

// RunSQL is a raw SQL operation with forward and reverse scripts.
type RunSQL struct {
	Forward string
	Reverse string
}

func (*RunSQL) op() {}

// ModuleChanges groups the pending operations of one module.
type ModuleChanges struct {
	Module string
	Ops    []Op
}

// Batch is an ordered sequence of per-module schema operations, as produced
// by a Planner.
type Batch struct {
	Modules []*ModuleChanges
}

// Module returns the change set for the named module, creating it if absent.
func (b *Batch) Module(name string) *ModuleChanges {
	for _, m := range b.Modules {
		if m.Module == name {
			return m
		}
	}
	m := &ModuleChanges{Module: name}
	b.Modules = append(b.Modules, m)
	return m
}

// Planner computes the batch of pending schema operations. It is the
// external migration engine's entry point into the pipeline; SnapshotPlanner
// is the built-in implementation.
type Planner interface {
	Plan(ctx context.Context) (*Batch, error)
}

// PlannerFunc allows ordinary functions to be used as Planners.
type PlannerFunc func(ctx context.Context) (*Batch, error)

// Plan returns f(ctx).
func (f PlannerFunc) Plan(ctx context.Context) (*Batch, error) {
	return f(ctx)
}

// Committer is implemented by planners that record state after a batch has
// been persisted, such as SnapshotPlanner.
type Committer interface {
	Commit(ctx context.Context, b *Batch) error
}

// Dir persists an augmented batch as durable migration artifacts.
type Dir interface {
	Write(ctx context.Context, b *Batch) error
}

// Pipeline wires a Planner, the policy Synthesizer, and a Dir into the
// COMPUTE -> AUGMENT -> PERSIST sequence. It is a single-threaded,
// non-reentrant batch process run by an operator or CI job.
type Pipeline struct {
	cfg     *rls.Config
	planner Planner
	dir     Dir
	synth   *Synthesizer
	logger  *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSelector sets the field-selection strategy used during synthesis.
// Default is AutoSelector, which selects every candidate field.
func WithSelector(s FieldSelector) PipelineOption {
	return func(p *Pipeline) {
		p.synth.selector = s
	}
}

// WithLogger sets the logger for pipeline warnings.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
		p.synth.logger = l
	}
}

// NewPipeline returns a Pipeline for the given validated configuration.
func NewPipeline(cfg *rls.Config, planner Planner, dir Dir, opts ...PipelineOption) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:     cfg,
		planner: planner,
		dir:     dir,
		synth:   NewSynthesizer(cfg),
		logger:  cfg.Logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run executes one COMPUTE -> AUGMENT -> PERSIST cycle and returns the
// augmented batch. When the planner implements Committer, its state is
// committed only after the batch has been persisted.
func (p *Pipeline) Run(ctx context.Context) (*Batch, error) {
	b, err := p.planner.Plan(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: computing changes: %w", err)
	}
	if err := p.augment(b); err != nil {
		return nil, err
	}
	if err := p.dir.Write(ctx, b); err != nil {
		return nil, fmt.Errorf("migrate: persisting batch: %w", err)
	}
	if c, ok := p.planner.(Committer); ok {
		if err := c.Commit(ctx, b); err != nil {
			return nil, fmt.Errorf("migrate: committing planner state: %w", err)
		}
	}
	return b, nil
}

// augment inserts a synthesized policy operation after every create-table
// operation inside tenant-scoped modules. Other operations pass through
// untouched.
func (p *Pipeline) augment(b *Batch) error {
	for _, m := range b.Modules {
		if !p.tenantScoped(m.Module) {
			continue
		}
		for i := 0; i < len(m.Ops); i++ {
			ct, ok := m.Ops[i].(*CreateTable)
			if !ok {
				continue
			}
			op, err := p.synth.Synthesize(m.Module, ct)
			if err != nil {
				return err
			}
			if op == nil {
				continue
			}
			m.Ops = append(m.Ops[:i+1], append([]Op{op}, m.Ops[i+1:]...)...)
			i++ // skip the operation just inserted
		}
	}
	return nil
}

func (p *Pipeline) tenantScoped(module string) bool {
	for _, m := range p.cfg.TenantModules {
		if m == module {
			return true
		}
	}
	return false
}
