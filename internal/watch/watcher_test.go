package watch

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	billyutil "github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/realm/api"
	"github.com/agentic-research/realm/internal/bus"
	"github.com/agentic-research/realm/internal/config"
	"github.com/agentic-research/realm/internal/extract"
	"github.com/agentic-research/realm/internal/registry"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWatcher(t *testing.T) (*Watcher, *bus.Bus, *registry.Registry, func() []api.FileChanged) {
	t.Helper()

	fs := memfs.New()
	require.NoError(t, billyutil.WriteFile(fs, "src/App.tsx", []byte("export const App = () => <div>hi</div>;\n"), 0o644))
	require.NoError(t, billyutil.WriteFile(fs, "src/app.css", []byte(".app { color: red; }\n"), 0o644))
	require.NoError(t, billyutil.WriteFile(fs, "node_modules/pkg/index.js", []byte("module.exports = 1;\n"), 0o644))
	require.NoError(t, billyutil.WriteFile(fs, "README.md", []byte("docs\n"), 0o644))

	b := bus.New(16, discard())
	reg := registry.New()

	var mu sync.Mutex
	var got []api.FileChanged
	b.On(api.KindFileChanged, func(ev api.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.(api.FileChanged))
	})

	cfg := config.WatchConfig{
		Enabled:        true,
		PollIntervalMs: 10,
		DebounceMs:     1,
		IgnorePatterns: []string{"node_modules", ".git", "dist"},
	}
	w := New(fs, b, reg, cfg, discard())
	return w, b, reg, func() []api.FileChanged {
		mu.Lock()
		defer mu.Unlock()
		out := make([]api.FileChanged, len(got))
		copy(out, got)
		return out
	}
}

func TestFirstScanPrimesWithoutEvents(t *testing.T) {
	w, _, _, events := testWatcher(t)

	w.prime()
	w.scan()
	w.flushAll()

	assert.Empty(t, events())
}

func TestDetectsModifiedFile(t *testing.T) {
	w, _, _, events := testWatcher(t)
	w.prime()

	require.NoError(t, billyutil.WriteFile(w.fs, "src/App.tsx",
		[]byte("export const App = () => <div>changed</div>;\n"), 0o644))
	w.scan()
	w.flushAll()

	got := events()
	require.Len(t, got, 1)
	assert.Equal(t, "src/App.tsx", got[0].FilePath)
	assert.Equal(t, api.SourceFileWatcher, got[0].EventMeta().Source)
}

func TestDetectsCreatedAndRemovedFiles(t *testing.T) {
	w, _, _, events := testWatcher(t)
	w.prime()

	require.NoError(t, billyutil.WriteFile(w.fs, "src/New.tsx",
		[]byte("export const New = () => <span>n</span>;\n"), 0o644))
	require.NoError(t, w.fs.Remove("src/app.css"))
	w.scan()
	w.flushAll()

	got := events()
	require.Len(t, got, 2)
	paths := []string{got[0].FilePath, got[1].FilePath}
	assert.ElementsMatch(t, []string{"src/New.tsx", "src/app.css"}, paths)
}

func TestIgnoresConfiguredPatternsAndForeignExtensions(t *testing.T) {
	w, _, _, events := testWatcher(t)
	w.prime()

	require.NoError(t, billyutil.WriteFile(w.fs, "node_modules/pkg/index.js",
		[]byte("module.exports = 2;\n"), 0o644))
	require.NoError(t, billyutil.WriteFile(w.fs, "README.md",
		[]byte("more docs\n"), 0o644))
	w.scan()
	w.flushAll()

	assert.Empty(t, events())
}

func TestUnchangedFilesStayQuiet(t *testing.T) {
	w, _, _, events := testWatcher(t)
	w.prime()

	w.scan()
	w.scan()
	w.flushAll()

	assert.Empty(t, events())
}

func TestEventCarriesAffectedElements(t *testing.T) {
	w, _, reg, events := testWatcher(t)
	w.prime()

	ex := extract.New(nil)
	content := []byte("export const App = () => <div>hi</div>;\n")
	res, err := ex.Extract(content, "src/App.tsx")
	require.NoError(t, err)
	reg.RegisterAll("src/App.tsx", registry.HashContent(content), res)
	require.NotZero(t, reg.Len())

	require.NoError(t, billyutil.WriteFile(w.fs, "src/App.tsx",
		[]byte("export const App = () => <div>bye</div>;\n"), 0o644))
	w.scan()
	w.flushAll()

	got := events()
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].AffectedRealmIDs)
}

func TestDebouncerCoalescesTriggers(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	var mu sync.Mutex
	calls := 0
	for i := 0; i < 5; i++ {
		d.Trigger(func() {
			mu.Lock()
			calls++
			mu.Unlock()
		})
	}

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestDebouncerCancel(t *testing.T) {
	d := NewDebouncer(5 * time.Millisecond)

	fired := make(chan struct{}, 1)
	d.Trigger(func() { fired <- struct{}{} })
	d.Cancel()

	select {
	case <-fired:
		t.Fatal("cancelled trigger still fired")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestDebouncerFlushRunsImmediately(t *testing.T) {
	d := NewDebouncer(time.Hour)

	ran := false
	d.Trigger(func() { ran = true })
	d.Flush()
	assert.True(t, ran)

	// a second flush with nothing pending is a no-op
	d.Flush()
	assert.True(t, ran)
}
