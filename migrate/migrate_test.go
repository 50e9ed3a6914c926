package migrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/rls"
	"github.com/syssam/rls/schema/field"
)

// memDir records written batches in memory.
type memDir struct {
	batches []*Batch
	err     error
}

func (d *memDir) Write(_ context.Context, b *Batch) error {
	if d.err != nil {
		return d.err
	}
	d.batches = append(d.batches, b)
	return nil
}

func invoiceTable() *CreateTable {
	return &CreateTable{
		Model: "Invoice",
		Columns: []Column{
			{Name: "id", Type: field.TypeInt64},
			{Name: "tenant_id", Type: field.TypeInt64},
			{Name: "amount", Type: field.TypeFloat64},
		},
	}
}

func testConfig() *rls.Config {
	return &rls.Config{
		TenantModules: []string{"billing"},
		Fields:        []string{"tenant_id", "owner_id"},
	}
}

func TestCreateTableTable(t *testing.T) {
	ct := &CreateTable{Model: "Invoice"}
	assert.Equal(t, "billing_invoice", ct.Table("billing"))

	ct.TableName = "legacy_invoices"
	assert.Equal(t, "legacy_invoices", ct.Table("billing"))
}

func TestCreateTableFieldType(t *testing.T) {
	ct := invoiceTable()

	ft, err := ct.FieldType("tenant_id")
	require.NoError(t, err)
	assert.Equal(t, field.TypeInt64, ft)

	_, err = ct.FieldType("missing")
	require.Error(t, err)
	assert.True(t, rls.IsUnknownField(err))
}

func TestBatchModule(t *testing.T) {
	b := &Batch{}
	m := b.Module("billing")
	assert.Same(t, m, b.Module("billing"))
	b.Module("projects")
	assert.Len(t, b.Modules, 2)
}

func TestPipelineRun(t *testing.T) {
	planner := PlannerFunc(func(context.Context) (*Batch, error) {
		b := &Batch{}
		m := b.Module("billing")
		m.Ops = append(m.Ops, invoiceTable(), &RunSQL{Forward: "SELECT 1;", Reverse: "SELECT 1;"})
		return b, nil
	})
	dir := &memDir{}
	p, err := NewPipeline(testConfig(), planner, dir)
	require.NoError(t, err)

	b, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, dir.batches, 1)

	ops := b.Modules[0].Ops
	require.Len(t, ops, 3)
	_, ok := ops[0].(*CreateTable)
	assert.True(t, ok)

	// The policy operation is inserted right after the table it protects.
	policyOp, ok := ops[1].(*RunSQL)
	require.True(t, ok)
	assert.Contains(t, policyOp.Forward, `CREATE POLICY "billing_invoice_rls_policy" ON "billing_invoice"`)
	assert.Contains(t, policyOp.Forward, `ALTER TABLE "billing_invoice" ENABLE ROW LEVEL SECURITY;`)
	assert.Contains(t, policyOp.Forward, `ALTER TABLE "billing_invoice" FORCE ROW LEVEL SECURITY;`)
	assert.Contains(t, policyOp.Reverse, `ALTER TABLE "billing_invoice" NO FORCE ROW LEVEL SECURITY;`)
	assert.Contains(t, policyOp.Reverse, `DROP POLICY IF EXISTS "billing_invoice_rls_policy"`)

	// The pre-existing raw operation is untouched and keeps its position.
	raw, ok := ops[2].(*RunSQL)
	require.True(t, ok)
	assert.Equal(t, "SELECT 1;", raw.Forward)
}

func TestPipelineSkipsUnscopedModules(t *testing.T) {
	planner := PlannerFunc(func(context.Context) (*Batch, error) {
		b := &Batch{}
		b.Module("analytics").Ops = []Op{invoiceTable()}
		return b, nil
	})
	dir := &memDir{}
	p, err := NewPipeline(testConfig(), planner, dir)
	require.NoError(t, err)

	b, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, b.Modules[0].Ops, 1)
}

func TestPipelineSkipsTablesWithoutCandidates(t *testing.T) {
	planner := PlannerFunc(func(context.Context) (*Batch, error) {
		b := &Batch{}
		b.Module("billing").Ops = []Op{&CreateTable{
			Model:   "Currency",
			Columns: []Column{{Name: "id", Type: field.TypeInt64}, {Name: "code", Type: field.TypeString}},
		}}
		return b, nil
	})
	dir := &memDir{}
	p, err := NewPipeline(testConfig(), planner, dir)
	require.NoError(t, err)

	b, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, b.Modules[0].Ops, 1)
}

func TestPipelineMultipleTables(t *testing.T) {
	planner := PlannerFunc(func(context.Context) (*Batch, error) {
		b := &Batch{}
		b.Module("billing").Ops = []Op{
			invoiceTable(),
			&CreateTable{Model: "Payment", Columns: []Column{
				{Name: "id", Type: field.TypeInt64},
				{Name: "tenant_id", Type: field.TypeInt64},
				{Name: "owner_id", Type: field.TypeUUID},
			}},
		}
		return b, nil
	})
	dir := &memDir{}
	p, err := NewPipeline(testConfig(), planner, dir)
	require.NoError(t, err)

	b, err := p.Run(context.Background())
	require.NoError(t, err)
	ops := b.Modules[0].Ops
	require.Len(t, ops, 4)
	assert.IsType(t, &CreateTable{}, ops[0])
	assert.IsType(t, &RunSQL{}, ops[1])
	assert.IsType(t, &CreateTable{}, ops[2])
	assert.IsType(t, &RunSQL{}, ops[3])
	assert.Contains(t, ops[3].(*RunSQL).Forward, "billing_payment_rls_policy")
	// The payment policy casts owner_id as uuid.
	assert.Contains(t, ops[3].(*RunSQL).Forward, "::uuid")
}

func TestPipelinePlannerError(t *testing.T) {
	boom := errors.New("boom")
	planner := PlannerFunc(func(context.Context) (*Batch, error) { return nil, boom })
	p, err := NewPipeline(testConfig(), planner, &memDir{})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPipelineDirError(t *testing.T) {
	boom := errors.New("disk full")
	planner := PlannerFunc(func(context.Context) (*Batch, error) { return &Batch{}, nil })
	p, err := NewPipeline(testConfig(), planner, &memDir{err: boom})
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPipelineInvalidConfig(t *testing.T) {
	cfg := &rls.Config{Fields: []string{"not valid"}}
	_, err := NewPipeline(cfg, PlannerFunc(func(context.Context) (*Batch, error) { return &Batch{}, nil }), &memDir{})
	require.Error(t, err)
	assert.True(t, rls.IsInvalidConfig(err))
}

func TestWatchStopsOnContextCancel(t *testing.T) {
	planner := PlannerFunc(func(context.Context) (*Batch, error) { return &Batch{}, nil })
	p, err := NewPipeline(testConfig(), planner, &memDir{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = p.Watch(ctx, t.TempDir())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWatchMissingPath(t *testing.T) {
	planner := PlannerFunc(func(context.Context) (*Batch, error) { return &Batch{}, nil })
	p, err := NewPipeline(testConfig(), planner, &memDir{})
	require.NoError(t, err)

	err = p.Watch(context.Background(), "/nonexistent/path/for/watcher")
	require.Error(t, err)
}
