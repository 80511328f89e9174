// Package watch recompiles programs when their IR documents change.
package watch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/orizon-lang/wp4c/internal/build"
)

// Op indicates a change operation in the filesystem.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

// Event describes a filesystem change event.
type Event struct {
	Path string
	Op   Op
}

// Watcher delivers filesystem events for the added paths.
type Watcher interface {
	Events() <-chan Event
	Errors() <-chan error
	Add(name string) error
	Remove(name string) error
	Close() error
}

// DefaultDebounce is the quiet period after the last event before a rebuild.
const DefaultDebounce = 100 * time.Millisecond

// Loop turns events for a fixed set of inputs into rebuilds.
type Loop struct {
	Watcher Watcher
	Inputs  []string
	// Debounce <=0 selects DefaultDebounce.
	Debounce time.Duration
	// Rebuild receives the sorted inputs whose content changed.
	Rebuild func(ctx context.Context, changed []string)
	// OnError receives watcher errors. It may be nil.
	OnError func(err error)
}

// Run watches the directories of the inputs until ctx is done. Directories
// are watched rather than files so that editors replacing a file by rename
// are still seen. Events for other files in those directories are ignored.
func (l *Loop) Run(ctx context.Context) error {
	inputs := make(map[string]string, len(l.Inputs))
	dirs := make(map[string]bool)
	for _, in := range l.Inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		inputs[abs] = in
		dir := filepath.Dir(abs)
		if !dirs[dir] {
			if err := l.Watcher.Add(dir); err != nil {
				return err
			}
			dirs[dir] = true
		}
	}

	prev, err := build.TakeSnapshot(l.Inputs)
	if err != nil {
		return err
	}

	debounce := l.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	timer := time.NewTimer(debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-l.Watcher.Events():
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(ev.Path)
			if err != nil {
				continue
			}
			if _, ok := inputs[abs]; !ok || ev.Op == OpChmod {
				continue
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
			pending = true
		case err, ok := <-l.Watcher.Errors():
			if !ok {
				return nil
			}
			if l.OnError != nil {
				l.OnError(err)
			}
		case <-timer.C:
			pending = false
			curr, err := build.TakeSnapshot(l.Inputs)
			if err != nil {
				if l.OnError != nil {
					l.OnError(err)
				}
				continue
			}
			if changed := build.Changed(prev, curr); len(changed) > 0 {
				l.Rebuild(ctx, changed)
			}
			prev = curr
		}
	}
}
