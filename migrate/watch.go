package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay batches bursts of file events (editors often write a file
// several times in quick succession) into a single pipeline run.
const debounceDelay = 500 * time.Millisecond

// Watch re-runs the pipeline whenever one of the given paths changes, until
// the context is canceled. Runs are strictly sequential: events arriving
// while a run is in flight only schedule the next run, the pipeline is never
// reentered. A failing run is logged and watching continues.
func (p *Pipeline) Watch(ctx context.Context, paths ...string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("migrate: starting watcher: %w", err)
	}
	defer w.Close()
	for _, path := range paths {
		if err := w.Add(path); err != nil {
			return fmt.Errorf("migrate: watching %s: %w", path, err)
		}
	}

	timer := time.NewTimer(debounceDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounceDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("rls: watcher error", "error", err)
		case <-timer.C:
			if _, err := p.Run(ctx); err != nil {
				p.logger.Warn("rls: watched run failed", "error", err)
			}
		}
	}
}
