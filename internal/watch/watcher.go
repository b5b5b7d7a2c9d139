// Package watch polls the project tree for external edits and turns them
// into file-changed events. Polling with content hashes keeps the watcher
// portable across the filesystem abstraction; a quiet period per file
// absorbs editor save storms.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	billyutil "github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/realm/api"
	"github.com/agentic-research/realm/internal/bus"
	"github.com/agentic-research/realm/internal/config"
	"github.com/agentic-research/realm/internal/registry"
)

var watchedExts = map[string]bool{
	".tsx": true, ".jsx": true, ".ts": true, ".js": true,
	".css": true, ".scss": true, ".sass": true, ".html": true,
}

// Watcher diffs content hashes between polls and reports changed, created,
// and removed files on the event bus.
type Watcher struct {
	fs  billy.Filesystem
	bus *bus.Bus
	reg *registry.Registry
	cfg config.WatchConfig
	log *slog.Logger

	mu        sync.Mutex
	hashes    map[string]string
	debounced map[string]*Debouncer
}

func New(fs billy.Filesystem, b *bus.Bus, reg *registry.Registry, cfg config.WatchConfig, log *slog.Logger) *Watcher {
	return &Watcher{
		fs:        fs,
		bus:       b,
		reg:       reg,
		cfg:       cfg,
		log:       log,
		hashes:    make(map[string]string),
		debounced: make(map[string]*Debouncer),
	}
}

// Run polls until the context is cancelled. The first scan primes the hash
// table without emitting events, so startup never floods the bus.
func (w *Watcher) Run(ctx context.Context) {
	w.prime()

	ticker := time.NewTicker(w.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *Watcher) prime() {
	seen := w.snapshot()
	w.mu.Lock()
	w.hashes = seen
	w.mu.Unlock()
}

// scan performs one diff pass and schedules notifications for every path
// whose content hash moved.
func (w *Watcher) scan() {
	seen := w.snapshot()

	w.mu.Lock()
	var changed, removed []string
	for path, hash := range seen {
		if w.hashes[path] != hash {
			changed = append(changed, path)
		}
	}
	for path := range w.hashes {
		if _, ok := seen[path]; !ok {
			removed = append(removed, path)
		}
	}
	w.hashes = seen
	w.mu.Unlock()

	for _, path := range changed {
		w.notify(path)
	}
	for _, path := range removed {
		w.notify(path)
	}
}

// snapshot hashes every watchable file under the root.
func (w *Watcher) snapshot() map[string]string {
	seen := make(map[string]string)
	err := billyutil.Walk(w.fs, ".", func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.IsDir() {
			if path != "." && w.ignored(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.ignored(path) || !watchedExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		content, err := billyutil.ReadFile(w.fs, path)
		if err != nil {
			return nil
		}
		seen[path] = registry.HashContent(content)
		return nil
	})
	if err != nil {
		w.log.Warn("watch: scan failed", "err", err)
	}
	return seen
}

func (w *Watcher) notify(path string) {
	w.mu.Lock()
	deb, ok := w.debounced[path]
	if !ok {
		deb = NewDebouncer(w.cfg.Debounce())
		w.debounced[path] = deb
	}
	w.mu.Unlock()

	deb.Trigger(func() { w.emit(path) })
}

func (w *Watcher) emit(path string) {
	affected := w.reg.KeysForFile(path)
	w.log.Debug("watch: file changed", "path", path, "elements", len(affected))
	w.bus.Emit(api.FileChanged{
		Meta:             api.NewMeta(api.SourceFileWatcher),
		FilePath:         path,
		AffectedRealmIDs: affected,
	})
}

// flushAll fires every pending notification immediately.
func (w *Watcher) flushAll() {
	w.mu.Lock()
	debs := make([]*Debouncer, 0, len(w.debounced))
	for _, d := range w.debounced {
		debs = append(debs, d)
	}
	w.mu.Unlock()
	for _, d := range debs {
		d.Flush()
	}
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, d := range w.debounced {
		d.Cancel()
	}
}

// ignored matches a path against the configured ignore patterns. Patterns
// apply to the full relative path and to each path component, so
// "node_modules" prunes the whole subtree.
func (w *Watcher) ignored(path string) bool {
	for _, pat := range w.cfg.IgnorePatterns {
		if ok, _ := filepath.Match(pat, path); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, filepath.Base(path)); ok {
			return true
		}
		for _, part := range strings.Split(path, "/") {
			if ok, _ := filepath.Match(pat, part); ok {
				return true
			}
		}
	}
	return false
}
