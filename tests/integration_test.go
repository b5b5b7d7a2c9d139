package tests

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	billyutil "github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/realm/api"
	"github.com/agentic-research/realm/internal/bus"
	"github.com/agentic-research/realm/internal/config"
	"github.com/agentic-research/realm/internal/extract"
	"github.com/agentic-research/realm/internal/mutate"
	"github.com/agentic-research/realm/internal/registry"
	"github.com/agentic-research/realm/internal/store"
	realmsync "github.com/agentic-research/realm/internal/sync"
)

// testFixture bundles the full pipeline: a component file on an in-memory
// filesystem, extracted and registered, with the sync engine wired to a
// real mutation engine and a real journal.
type testFixture struct {
	fs      billy.Filesystem
	reg     *registry.Registry
	bus     *bus.Bus
	engine  *realmsync.Engine
	journal *store.Journal

	mu     sync.Mutex
	events []api.Event
}

const appSource = `export function App() {
  return (
    <main>
      <h1 className="text-2xl font-bold">Welcome</h1>
      <a className="text-sm text-blue-500" href="/one">One</a>
      <a className="text-sm text-blue-500" href="/two">Two</a>
    </main>
  );
}
`

const appPath = "src/App.tsx"

type fsMutator struct {
	fs     billy.Filesystem
	engine *mutate.Engine
}

func (m *fsMutator) Apply(filePath, selector string, ch mutate.Changes) error {
	return m.engine.ApplyToFile(m.fs, filePath, selector, ch)
}

func setup(t *testing.T, policy config.ConflictPolicy) *testFixture {
	t.Helper()

	f := &testFixture{
		fs:  memfs.New(),
		reg: registry.New(),
	}
	require.NoError(t, billyutil.WriteFile(f.fs, appPath, []byte(appSource), 0o644))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.bus = bus.New(64, log)
	f.bus.OnAny(func(ev api.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
	})

	ex := extract.New(nil)
	res, err := ex.Extract([]byte(appSource), appPath)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	f.reg.RegisterAll(appPath, registry.HashContent([]byte(appSource)), res)

	f.journal, err = store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.journal.Close() })

	mutator := &fsMutator{fs: f.fs, engine: mutate.NewEngine(mutate.DefaultMatchPolicy())}
	f.engine = realmsync.New(f.bus, f.reg, mutator, f.journal, f.fs, config.SyncConfig{
		DebounceMs:     5,
		StalenessMs:    30000,
		ConflictPolicy: policy,
		HistorySize:    64,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	go f.engine.Run(ctx)
	t.Cleanup(cancel)
	return f
}

func (f *testFixture) waitFor(t *testing.T, kind api.Kind) api.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, ev := range f.events {
			if ev.Kind() == kind {
				f.mu.Unlock()
				return ev
			}
		}
		f.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", kind)
	return nil
}

func (f *testFixture) countKind(kind api.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

// drain blocks until the engine has processed everything dispatched before
// it, by riding a marker selection through the single-threaded loop.
func (f *testFixture) drain(t *testing.T) {
	t.Helper()
	n := f.countKind(api.KindSelection)
	f.engine.Dispatch(api.Selection{Meta: api.NewMeta(api.SourceSystem), RealmID: "drain-marker"})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.countKind(api.KindSelection) > n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("engine never processed the marker event")
}

func (f *testFixture) secondLink(t *testing.T) *extract.ElementInfo {
	t.Helper()
	for _, el := range f.reg.AllForFile(appPath) {
		if el.TagName == "a" && el.Attributes["href"] == "/two" {
			return el
		}
	}
	t.Fatal("second link not extracted")
	return nil
}

func (f *testFixture) fileContent(t *testing.T) string {
	t.Helper()
	content, err := billyutil.ReadFile(f.fs, appPath)
	require.NoError(t, err)
	return string(content)
}

func TestPreviewThenCommitWritesSource(t *testing.T) {
	f := setup(t, config.LastWriteWins)
	link := f.secondLink(t)

	f.engine.Dispatch(api.ClassChanged{
		Meta:        api.NewMeta(api.SourcePanel),
		RealmID:     link.ID.Key(),
		ClassName:   "text-sm text-red-500",
		Preview:     true,
		BaseVersion: link.ID.Version,
	})
	f.engine.Dispatch(api.CommitRequested{
		Meta:        api.NewMeta(api.SourcePanel),
		RealmID:     link.ID.Key(),
		Selector:    "a.text-sm:nth-of-type(2)",
		BaseVersion: link.ID.Version,
	})

	completed := f.waitFor(t, api.KindCommitCompleted).(api.CommitCompleted)
	assert.Equal(t, link.ID.Version+1, completed.Version)

	content := f.fileContent(t)
	assert.Contains(t, content, `<a className="text-sm text-red-500" href="/two">Two</a>`)
	assert.Contains(t, content, `<a className="text-sm text-blue-500" href="/one">One</a>`,
		"the first link keeps its original classes")

	entries, err := f.journal.ForFile(context.Background(), appPath, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, link.ID.Key(), entries[0].RealmID)
}

func TestDirectEditWritesSource(t *testing.T) {
	f := setup(t, config.LastWriteWins)
	link := f.secondLink(t)

	// No preview, no commit-requested frame: the edit lands on its own.
	f.engine.Dispatch(api.TextChanged{
		Meta:        api.NewMeta(api.SourcePanel),
		RealmID:     link.ID.Key(),
		Text:        "Deux",
		Preview:     false,
		BaseVersion: link.ID.Version,
	})

	completed := f.waitFor(t, api.KindCommitCompleted).(api.CommitCompleted)
	assert.Equal(t, link.ID.Version+1, completed.Version)

	content := f.fileContent(t)
	assert.Contains(t, content, `href="/two">Deux</a>`)
	assert.Contains(t, content, `href="/one">One</a>`, "the first link is untouched")
}

func TestCommitSurvivesReExtraction(t *testing.T) {
	f := setup(t, config.LastWriteWins)
	link := f.secondLink(t)

	f.engine.Dispatch(api.CommitRequested{
		Meta:        api.NewMeta(api.SourcePanel),
		RealmID:     link.ID.Key(),
		Selector:    "a.text-sm:nth-of-type(2)",
		BaseVersion: link.ID.Version,
		Styles:      map[string]string{"color": "red"},
	})
	f.waitFor(t, api.KindCommitCompleted)

	// The rewritten file still parses and extracts cleanly.
	ex := extract.New(nil)
	content := f.fileContent(t)
	res, err := ex.Extract([]byte(content), appPath)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)

	count := 0
	for _, el := range res.Elements {
		if el.TagName == "a" {
			count++
		}
	}
	assert.Equal(t, 2, count, "no element gained or lost")
	assert.Contains(t, content, "color: 'red'")
}

func TestStaleCommitRejectedAfterExternalEdit(t *testing.T) {
	f := setup(t, config.FirstWriteWins)
	link := f.secondLink(t)

	f.engine.Dispatch(api.FileChanged{
		Meta:             api.NewMeta(api.SourceFileWatcher),
		FilePath:         appPath,
		AffectedRealmIDs: []string{link.ID.Key()},
	})
	f.engine.Dispatch(api.CommitRequested{
		Meta:        api.NewMeta(api.SourcePanel),
		RealmID:     link.ID.Key(),
		Selector:    "a.text-sm:nth-of-type(2)",
		BaseVersion: link.ID.Version,
		Styles:      map[string]string{"color": "red"},
	})
	f.drain(t)

	assert.Equal(t, appSource, f.fileContent(t), "the stale commit never touched the file")
	assert.Zero(t, f.countKind(api.KindCommitCompleted), "rejection is silent")
	assert.Zero(t, f.countKind(api.KindRolledBack))
	assert.NotZero(t, f.reg.Len(), "invalidation re-extracts instead of leaving a hole")

	// Rebasing on the advanced version succeeds.
	f.engine.Dispatch(api.CommitRequested{
		Meta:        api.NewMeta(api.SourcePanel),
		RealmID:     link.ID.Key(),
		Selector:    "a.text-sm:nth-of-type(2)",
		BaseVersion: link.ID.Version + 1,
		Styles:      map[string]string{"color": "red"},
	})
	f.waitFor(t, api.KindCommitCompleted)
	assert.Contains(t, f.fileContent(t), "color: 'red'")
}

func TestFailedValidationLeavesFileIntact(t *testing.T) {
	f := setup(t, config.LastWriteWins)

	// A selector that matches nothing must fail the transaction cleanly.
	f.engine.Dispatch(api.CommitRequested{
		Meta:        api.NewMeta(api.SourcePanel),
		RealmID:     "src/App.tsx#App#main[0]/nav[9]#000000000000",
		Selector:    "nav.missing",
		BaseVersion: 1,
		Styles:      map[string]string{"color": "red"},
	})

	failed := f.waitFor(t, api.KindTransactionFailed).(api.TransactionFailed)
	assert.True(t, strings.Contains(failed.Error, "matched no element"))
	assert.Equal(t, appSource, f.fileContent(t))
}
