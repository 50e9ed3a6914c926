package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshotVersion is the on-disk format version of the snapshot file.
const snapshotVersion = 1

// snapshotState records the tables already seen by previous runs,
// per module. It is the minimal state needed to detect new tables.
type snapshotState struct {
	Version int                 `msgpack:"version"`
	Tables  map[string][]string `msgpack:"tables"`
}

func (s *snapshotState) seen(module, table string) bool {
	for _, t := range s.Tables[module] {
		if t == table {
			return true
		}
	}
	return false
}

// TableDef declares one table of the application schema to the planner.
type TableDef struct {
	Module    string
	Model     string
	TableName string // optional explicit override
	Columns   []Column
}

// SnapshotPlanner is the built-in Planner: it diffs the declared tables
// against a snapshot file of previously seen tables and emits a create-table
// operation for every table the snapshot does not know yet. The snapshot is
// only advanced by Commit, after the batch has been persisted, so a failed
// run can be retried without losing changes.
type SnapshotPlanner struct {
	path   string
	tables []TableDef
}

// NewSnapshotPlanner returns a planner persisting its state at path.
func NewSnapshotPlanner(path string, tables ...TableDef) *SnapshotPlanner {
	return &SnapshotPlanner{path: path, tables: tables}
}

// Plan computes the batch of create-table operations for unseen tables.
// Module order follows declaration order; a missing snapshot file means
// every declared table is new.
func (p *SnapshotPlanner) Plan(_ context.Context) (*Batch, error) {
	st, err := p.load()
	if err != nil {
		return nil, err
	}
	b := &Batch{}
	for _, t := range p.tables {
		ct := &CreateTable{Model: t.Model, TableName: t.TableName, Columns: t.Columns}
		if st.seen(t.Module, ct.Table(t.Module)) {
			continue
		}
		m := b.Module(t.Module)
		m.Ops = append(m.Ops, ct)
	}
	return b, nil
}

// Commit records the batch's created tables in the snapshot file.
func (p *SnapshotPlanner) Commit(_ context.Context, b *Batch) error {
	st, err := p.load()
	if err != nil {
		return err
	}
	if st.Tables == nil {
		st.Tables = make(map[string][]string)
	}
	for _, m := range b.Modules {
		for _, op := range m.Ops {
			ct, ok := op.(*CreateTable)
			if !ok {
				continue
			}
			if table := ct.Table(m.Module); !st.seen(m.Module, table) {
				st.Tables[m.Module] = append(st.Tables[m.Module], table)
			}
		}
	}
	for module := range st.Tables {
		sort.Strings(st.Tables[module])
	}
	return p.store(st)
}

func (p *SnapshotPlanner) load() (*snapshotState, error) {
	buf, err := os.ReadFile(p.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &snapshotState{Version: snapshotVersion}, nil
	case err != nil:
		return nil, fmt.Errorf("migrate: reading snapshot %s: %w", p.path, err)
	}
	var st snapshotState
	if err := msgpack.Unmarshal(buf, &st); err != nil {
		return nil, fmt.Errorf("migrate: decoding snapshot %s: %w", p.path, err)
	}
	if st.Version != snapshotVersion {
		return nil, fmt.Errorf("migrate: unsupported snapshot version %d in %s", st.Version, p.path)
	}
	return &st, nil
}

// store writes the snapshot atomically: a torn write must not corrupt the
// state a later run diffs against.
func (p *SnapshotPlanner) store(st *snapshotState) error {
	buf, err := msgpack.Marshal(st)
	if err != nil {
		return fmt.Errorf("migrate: encoding snapshot: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("migrate: creating snapshot dir: %w", err)
	}
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("migrate: writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("migrate: replacing snapshot: %w", err)
	}
	return nil
}
