package migrate

import (
	"context"
	"fmt"
	"time"

	atlas "ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/sqltool"
	"github.com/go-openapi/inflect"
)

// AtlasDir persists batches as versioned SQL migration files through an
// atlas migration directory, one plan per module. The file layout is decided
// by the formatter; the default golang-migrate format writes paired
// {version}_{name}.up.sql / .down.sql files.
type AtlasDir struct {
	dir atlas.Dir
	fmt atlas.Formatter
	sum bool
	now func() time.Time
}

// AtlasDirOption configures an AtlasDir.
type AtlasDirOption func(*AtlasDir)

// WithFormatter sets the migration file formatter. Defaults to the
// golang-migrate format; goose, dbmate, flyway, and liquibase formatters
// from ariga.io/atlas/sql/sqltool work as well.
func WithFormatter(f atlas.Formatter) AtlasDirOption {
	return func(d *AtlasDir) {
		d.fmt = f
	}
}

// WithDir sets the underlying atlas migration directory, replacing the
// local directory created from the path.
func WithDir(dir atlas.Dir) AtlasDirOption {
	return func(d *AtlasDir) {
		d.dir = dir
	}
}

// WithSumFile makes Write maintain the atlas.sum integrity file.
func WithSumFile() AtlasDirOption {
	return func(d *AtlasDir) {
		d.sum = true
	}
}

// WithAtlasClock sets the time source used for migration versions.
func WithAtlasClock(now func() time.Time) AtlasDirOption {
	return func(d *AtlasDir) {
		d.now = now
	}
}

// NewAtlasDir returns an AtlasDir writing into path.
func NewAtlasDir(path string, opts ...AtlasDirOption) (*AtlasDir, error) {
	d := &AtlasDir{fmt: sqltool.GolangMigrateFormatter, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	if d.dir == nil {
		dir, err := atlas.NewLocalDir(path)
		if err != nil {
			return nil, fmt.Errorf("migrate: opening migration dir: %w", err)
		}
		d.dir = dir
	}
	return d, nil
}

// Write formats one reversible plan per non-empty module and writes the
// resulting files.
func (d *AtlasDir) Write(_ context.Context, b *Batch) error {
	version := d.now().UTC().Format("20060102150405")
	for _, m := range b.Modules {
		if len(m.Ops) == 0 {
			continue
		}
		plan := &atlas.Plan{
			Name:          inflect.Underscore(m.Module),
			Version:       version,
			Reversible:    true,
			Transactional: true,
		}
		for _, op := range m.Ops {
			fwd, desc := forwardSQL(m.Module, op)
			rev, _ := reverseSQL(m.Module, op)
			plan.Changes = append(plan.Changes, &atlas.Change{
				Cmd:     fwd,
				Reverse: rev,
				Comment: desc,
			})
		}
		files, err := d.fmt.Format(plan)
		if err != nil {
			return fmt.Errorf("migrate: formatting plan for %s: %w", m.Module, err)
		}
		for _, f := range files {
			if err := d.dir.WriteFile(f.Name(), f.Bytes()); err != nil {
				return fmt.Errorf("migrate: writing %s: %w", f.Name(), err)
			}
		}
	}
	if d.sum {
		sum, err := d.dir.Checksum()
		if err != nil {
			return fmt.Errorf("migrate: computing dir checksum: %w", err)
		}
		if err := atlas.WriteSumFile(d.dir, sum); err != nil {
			return fmt.Errorf("migrate: writing sum file: %w", err)
		}
	}
	return nil
}
