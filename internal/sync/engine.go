// Package sync coordinates preview and commit traffic between connected
// clients and the source tree. A single goroutine owns all engine state;
// everything arrives through one channel, including debounce expirations,
// so no lock ordering exists to get wrong.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	billyutil "github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"

	"github.com/agentic-research/realm/api"
	"github.com/agentic-research/realm/internal/bus"
	"github.com/agentic-research/realm/internal/config"
	"github.com/agentic-research/realm/internal/extract"
	"github.com/agentic-research/realm/internal/mutate"
	"github.com/agentic-research/realm/internal/registry"
	"github.com/agentic-research/realm/internal/store"
)

// Mutator persists one edit into a source file.
type Mutator interface {
	Apply(filePath, selector string, ch mutate.Changes) error
}

// Journal records committed edits. A nil journal disables persistence of
// the audit trail without touching the commit path.
type Journal interface {
	Append(ctx context.Context, e store.Entry) error
}

// pending accumulates the preview state of one element between a preview
// edit and its commit or rollback.
type pending struct {
	styles      map[string]string
	text        *string
	className   *string
	baseVersion int
	updatedAt   time.Time
}

// flush is the loop-internal trigger injected when a debounce timer fires.
type flush struct {
	key string
}

// Engine is the sync state machine.
type Engine struct {
	bus       *bus.Bus
	reg       *registry.Registry
	mutator   Mutator
	journal   Journal
	fs        billy.Filesystem // source tree for re-extraction, nil disables
	extractor *extract.Extractor
	cfg       config.SyncConfig
	log       *slog.Logger

	events  chan api.Event
	flushes chan flush

	// loop-owned state
	versions map[string]int
	previews map[string]*pending
	timers   map[string]*time.Timer
	latest   map[string]api.Event

	now func() time.Time
}

func New(b *bus.Bus, reg *registry.Registry, mutator Mutator, journal Journal, fs billy.Filesystem, cfg config.SyncConfig, log *slog.Logger) *Engine {
	return &Engine{
		bus:       b,
		reg:       reg,
		mutator:   mutator,
		journal:   journal,
		fs:        fs,
		extractor: extract.New(nil),
		cfg:       cfg,
		log:       log,
		events:    make(chan api.Event, 256),
		flushes:   make(chan flush, 256),
		versions:  make(map[string]int),
		previews:  make(map[string]*pending),
		timers:    make(map[string]*time.Timer),
		latest:    make(map[string]api.Event),
		now:       time.Now,
	}
}

// Dispatch hands an inbound event to the engine. It never blocks the
// caller for long; a full queue drops the event with an error on the bus.
func (e *Engine) Dispatch(ev api.Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Warn("sync: event queue full, dropping", "kind", ev.Kind())
		e.bus.Emit(api.Error{
			Meta:    api.NewMeta(api.SourceSystem),
			Message: fmt.Sprintf("event queue full, dropped %s", ev.Kind()),
		})
	}
}

// Run processes events until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, t := range e.timers {
				t.Stop()
			}
			return
		case ev := <-e.events:
			e.handle(ctx, ev)
		case f := <-e.flushes:
			e.handleFlush(f.key)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev api.Event) {
	if e.stale(ev) {
		e.log.Debug("sync: dropping stale event", "kind", ev.Kind(), "id", ev.EventMeta().ID)
		e.bus.Emit(api.Error{
			Meta:    api.NewMeta(api.SourceSystem),
			Message: fmt.Sprintf("stale %s event dropped", ev.Kind()),
		})
		return
	}

	switch ev := ev.(type) {
	case api.Selection:
		e.bus.Emit(ev)
	case api.StyleChanged:
		if !ev.Preview {
			e.direct(ctx, api.CommitRequested{
				Meta: ev.Meta, RealmID: ev.RealmID,
				BaseVersion: ev.BaseVersion, Styles: ev.Styles,
			})
			return
		}
		e.preview(ev.RealmID, ev.BaseVersion, func(p *pending) {
			if p.styles == nil {
				p.styles = make(map[string]string, len(ev.Styles))
			}
			for k, v := range ev.Styles {
				p.styles[k] = v
			}
		})
		e.debounce(ev.RealmID, ev)
	case api.TextChanged:
		if !ev.Preview {
			t := ev.Text
			e.direct(ctx, api.CommitRequested{
				Meta: ev.Meta, RealmID: ev.RealmID,
				BaseVersion: ev.BaseVersion, Text: &t,
			})
			return
		}
		e.preview(ev.RealmID, ev.BaseVersion, func(p *pending) {
			t := ev.Text
			p.text = &t
		})
		e.debounce(ev.RealmID, ev)
	case api.ClassChanged:
		if !ev.Preview {
			c := ev.ClassName
			e.direct(ctx, api.CommitRequested{
				Meta: ev.Meta, RealmID: ev.RealmID,
				BaseVersion: ev.BaseVersion, ClassName: &c,
			})
			return
		}
		e.preview(ev.RealmID, ev.BaseVersion, func(p *pending) {
			c := ev.ClassName
			p.className = &c
		})
		e.debounce(ev.RealmID, ev)
	case api.CommitRequested:
		e.commit(ctx, ev)
	case api.RollbackRequested:
		e.rollback(ev)
	case api.FileChanged:
		e.fileChanged(ev)
	default:
		e.bus.Emit(ev)
	}
}

// stale rejects events whose timestamp predates the staleness window.
// A zero timestamp is a client that never set one; those pass.
func (e *Engine) stale(ev api.Event) bool {
	m := ev.EventMeta()
	if m.Timestamp == 0 {
		return false
	}
	return e.now().Sub(m.Time()) > e.cfg.Staleness()
}

func (e *Engine) preview(realmID string, baseVersion int, apply func(*pending)) {
	p, ok := e.previews[realmID]
	if !ok {
		p = &pending{baseVersion: baseVersion}
		e.previews[realmID] = p
	}
	apply(p)
	p.updatedAt = e.now()
}

// debounce holds the latest preview event per (kind, element) and emits it
// once the window closes. Intermediate values within the window vanish.
func (e *Engine) debounce(realmID string, ev api.Event) {
	key := string(ev.Kind()) + "\x00" + realmID
	e.latest[key] = ev

	if t, ok := e.timers[key]; ok {
		t.Stop()
	}
	e.timers[key] = time.AfterFunc(e.cfg.SyncDebounce(), func() {
		e.flushes <- flush{key: key}
	})
}

func (e *Engine) handleFlush(key string) {
	ev, ok := e.latest[key]
	if !ok {
		return
	}
	delete(e.latest, key)
	delete(e.timers, key)
	e.bus.Emit(ev)
}

// version returns the authoritative version of an element, seeding it from
// the registry on first contact. Every element starts at 1 whether or not
// it has been extracted yet, so both baselines agree.
func (e *Engine) version(realmID string) int {
	if v, ok := e.versions[realmID]; ok {
		return v
	}
	v := 1
	if el := e.reg.Get(realmID); el != nil && el.ID.Version > 1 {
		v = el.ID.Version
	}
	e.versions[realmID] = v
	return v
}

// direct runs a non-preview edit through the commit path without waiting
// for a commit-requested frame. The edit events carry no selector, so one
// is derived from the element's registered snapshot.
func (e *Engine) direct(ctx context.Context, req api.CommitRequested) {
	sel, ok := e.selectorFor(req.RealmID)
	if !ok {
		e.log.Warn("sync: direct edit for unregistered element", "realm", req.RealmID)
		e.bus.Emit(api.Error{
			Meta:    api.NewMeta(api.SourceSystem),
			Message: fmt.Sprintf("direct edit for unknown element %s", req.RealmID),
		})
		return
	}
	req.Selector = sel
	e.commit(ctx, req)
}

// selectorFor renders a selector that re-locates a registered element in
// its source file: tag, literal classes, and same-tag position. Classes
// whose text would not survive selector parsing are left out; the matcher
// tolerates partial class lists.
func (e *Engine) selectorFor(realmID string) (string, bool) {
	el := e.reg.Get(realmID)
	if el == nil {
		return "", false
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(el.TagName))
	for _, class := range strings.Fields(el.Attributes["className"]) {
		if strings.ContainsAny(class, ".#[]") {
			continue
		}
		b.WriteByte('.')
		b.WriteString(class)
	}
	nth := el.NthOfType
	if nth < 1 {
		nth = 1
	}
	fmt.Fprintf(&b, ":nth-of-type(%d)", nth)
	return b.String(), true
}

func (e *Engine) commit(ctx context.Context, req api.CommitRequested) {
	current := e.version(req.RealmID)

	if req.BaseVersion != 0 && req.BaseVersion < current {
		switch e.cfg.ConflictPolicy {
		case config.FirstWriteWins:
			// The earlier write holds. The preview stays pending so the
			// client can rebase and retry against the current version.
			e.log.Info("sync: stale commit rejected", "realm", req.RealmID,
				"base", req.BaseVersion, "current", current)
			return
		case config.ManualResolve:
			e.bus.Emit(api.Conflict{
				Meta:            api.NewMeta(api.SourceSystem),
				RealmID:         req.RealmID,
				LocalVersion:    req.BaseVersion,
				IncomingVersion: current,
			})
			return
		default:
			// last-write-wins: the stale commit applies anyway
		}
	}

	ch := e.changesFor(req)
	if ch.Empty() {
		e.bus.Emit(api.Error{
			Meta:    api.NewMeta(api.SourceSystem),
			Message: fmt.Sprintf("commit for %s carries no changes", req.RealmID),
		})
		return
	}

	filePath, selector := req.FilePath, req.Selector
	if filePath == "" {
		filePath = extract.FileForKey(req.RealmID)
	}

	txID := uuid.NewString()
	e.bus.Emit(api.TransactionStarted{
		Meta:    api.NewMeta(api.SourceSystem),
		TxID:    txID,
		RealmID: req.RealmID,
	})

	if err := e.mutator.Apply(filePath, selector, ch); err != nil {
		e.log.Error("sync: commit failed", "realm", req.RealmID, "err", err)
		e.bus.Emit(api.TransactionFailed{
			Meta:    api.NewMeta(api.SourceSystem),
			TxID:    txID,
			RealmID: req.RealmID,
			Error:   err.Error(),
		})
		return
	}

	next := current + 1
	e.versions[req.RealmID] = next
	delete(e.previews, req.RealmID)

	// The write changed the file, so every snapshot extracted from it is
	// now stale. Invalidate and re-extract before anyone can read the old
	// state, then announce the change like any other file modification.
	affected := e.invalidateFile(filePath)
	e.bus.Emit(api.FileChanged{
		Meta:             api.NewMeta(api.SourceSystem),
		FilePath:         filePath,
		AffectedRealmIDs: affected,
	})

	if e.journal != nil {
		err := e.journal.Append(ctx, store.Entry{
			ID:        uuid.NewString(),
			TxID:      txID,
			RealmID:   req.RealmID,
			FilePath:  filePath,
			Selector:  selector,
			Version:   next,
			Styles:    ch.Styles,
			Text:      ch.Text,
			ClassName: ch.ClassName,
			CreatedAt: e.now(),
		})
		if err != nil {
			e.log.Error("sync: journal append failed", "realm", req.RealmID, "err", err)
		}
	}

	e.bus.Emit(api.TransactionCompleted{
		Meta:    api.NewMeta(api.SourceSystem),
		TxID:    txID,
		RealmID: req.RealmID,
	})
	e.bus.Emit(api.CommitCompleted{
		Meta:    api.NewMeta(api.SourceSystem),
		RealmID: req.RealmID,
		Version: next,
	})
}

// changesFor folds the request's inline payload over the pending preview:
// inline values win, preview fills the gaps.
func (e *Engine) changesFor(req api.CommitRequested) mutate.Changes {
	ch := mutate.Changes{
		Styles:    req.Styles,
		Text:      req.Text,
		ClassName: req.ClassName,
	}
	p, ok := e.previews[req.RealmID]
	if !ok {
		return ch
	}
	if len(ch.Styles) == 0 && len(p.styles) > 0 {
		ch.Styles = p.styles
	}
	if ch.Text == nil {
		ch.Text = p.text
	}
	if ch.ClassName == nil {
		ch.ClassName = p.className
	}
	return ch
}

func (e *Engine) rollback(req api.RollbackRequested) {
	if _, ok := e.previews[req.RealmID]; !ok {
		e.log.Debug("sync: rollback with no pending preview", "realm", req.RealmID)
	}
	delete(e.previews, req.RealmID)
	e.bus.Emit(api.RolledBack{
		Meta:    api.NewMeta(api.SourceSystem),
		RealmID: req.RealmID,
	})
}

// fileChanged invalidates everything the external edit touched. Element
// versions advance so commits based on the pre-edit source are detected as
// stale.
func (e *Engine) fileChanged(ev api.FileChanged) {
	for _, realmID := range ev.AffectedRealmIDs {
		e.versions[realmID] = e.version(realmID) + 1
	}
	if cleared := e.invalidateFile(ev.FilePath); len(cleared) > 0 {
		e.log.Info("sync: invalidated elements after external edit",
			"path", ev.FilePath, "count", len(cleared))
	}
	// The watcher already published this event; invalidation is all that
	// happens here, re-emitting would echo it forever.
}

// invalidateFile drops every preview and registry snapshot tied to a file,
// then re-extracts it so the registry keeps serving current elements. It
// returns the realm keys that were registered before the purge.
func (e *Engine) invalidateFile(path string) []string {
	affected := e.reg.KeysForFile(path)
	for realmID := range e.previews {
		if extract.FileForKey(realmID) == path {
			delete(e.previews, realmID)
		}
	}
	e.reg.ClearFile(path)
	e.refresh(path)
	return affected
}

// refresh re-extracts one file into the registry. Unchanged content is
// satisfied from the extraction cache without a parse. A nil filesystem
// (no source tree attached) makes this a no-op.
func (e *Engine) refresh(path string) {
	if e.fs == nil {
		return
	}
	content, err := billyutil.ReadFile(e.fs, path)
	if err != nil {
		e.log.Warn("sync: re-extraction read failed", "path", path, "err", err)
		return
	}
	hash := registry.HashContent(content)
	if res, ok := e.reg.CachedResult(path, hash); ok {
		e.reg.RegisterAll(path, hash, res)
		return
	}
	res, err := e.extractor.Extract(content, path)
	if err != nil {
		e.log.Warn("sync: re-extraction failed", "path", path, "err", err)
		return
	}
	e.reg.RegisterAll(path, hash, res)
}
