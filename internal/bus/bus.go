// Package bus is the in-process publish/subscribe hub for realm events.
// Handlers are isolated from each other: one panicking handler never stops
// its siblings or the emitter.
package bus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/agentic-research/realm/api"
)

// Handler receives one event.
type Handler func(api.Event)

// Option configures a subscription.
type Option func(*subscription)

// WithSource restricts a subscription to events from one source tag.
func WithSource(source api.Source) Option {
	return func(s *subscription) {
		s.source = source
		s.filtered = true
	}
}

type subscription struct {
	id       string
	kind     api.Kind // ignored for wildcard subscriptions
	wildcard bool
	source   api.Source
	filtered bool
	once     bool
	fn       Handler
}

func (s *subscription) matches(ev api.Event) bool {
	if s.filtered && ev.EventMeta().Source != s.source {
		return false
	}
	return true
}

// Bus fans events out to subscribers, keeping a bounded history and
// per-kind counters for diagnostics.
type Bus struct {
	mu       sync.RWMutex
	byKind   map[api.Kind][]*subscription
	wildcard []*subscription

	history  []api.Event // ring, oldest first
	capacity int
	counts   map[api.Kind]uint64

	log *slog.Logger
}

// New creates a bus with the given history capacity.
func New(historySize int, log *slog.Logger) *Bus {
	if historySize <= 0 {
		historySize = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		byKind:   make(map[api.Kind][]*subscription),
		capacity: historySize,
		counts:   make(map[api.Kind]uint64),
		log:      log,
	}
}

// On subscribes a handler to one event kind and returns the subscription ID.
func (b *Bus) On(kind api.Kind, fn Handler, opts ...Option) string {
	return b.subscribe(&subscription{kind: kind, fn: fn}, opts)
}

// OnAny subscribes a handler to every event kind.
func (b *Bus) OnAny(fn Handler, opts ...Option) string {
	return b.subscribe(&subscription{wildcard: true, fn: fn}, opts)
}

// Once subscribes a handler that fires for at most one matching event.
func (b *Bus) Once(kind api.Kind, fn Handler, opts ...Option) string {
	return b.subscribe(&subscription{kind: kind, once: true, fn: fn}, opts)
}

func (b *Bus) subscribe(sub *subscription, opts []Option) string {
	for _, opt := range opts {
		opt(sub)
	}
	sub.id = uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.wildcard {
		b.wildcard = append(b.wildcard, sub)
	} else {
		b.byKind[sub.kind] = append(b.byKind[sub.kind], sub)
	}
	return sub.id
}

// Off removes a subscription by ID. Removing an unknown ID is a no-op.
func (b *Bus) Off(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, subs := range b.byKind {
		b.byKind[kind] = removeSub(subs, id)
	}
	b.wildcard = removeSub(b.wildcard, id)
}

func removeSub(subs []*subscription, id string) []*subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Emit dispatches synchronously: exact-kind handlers in registration order,
// then wildcard handlers. Handler panics are caught and logged per handler.
func (b *Bus) Emit(ev api.Event) {
	for _, sub := range b.collect(ev) {
		b.invoke(sub, ev)
	}
}

// EmitAsync runs all matching handlers concurrently and returns after every
// one has finished. Ordering between handlers is not guaranteed.
func (b *Bus) EmitAsync(ev api.Event) {
	subs := b.collect(ev)
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			b.invoke(s, ev)
		}(sub)
	}
	wg.Wait()
}

// collect snapshots matching subscriptions, records history and counters,
// and unsubscribes once-handlers before dispatch so a recursive Emit cannot
// fire them twice.
func (b *Bus) collect(ev api.Event) []*subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counts[ev.Kind()]++
	b.history = append(b.history, ev)
	if len(b.history) > b.capacity {
		b.history = b.history[len(b.history)-b.capacity:]
	}

	var out []*subscription
	for _, sub := range b.byKind[ev.Kind()] {
		if sub.matches(ev) {
			out = append(out, sub)
		}
	}
	for _, sub := range b.wildcard {
		if sub.matches(ev) {
			out = append(out, sub)
		}
	}

	for _, sub := range out {
		if sub.once {
			b.byKind[sub.kind] = removeSub(b.byKind[sub.kind], sub.id)
		}
	}
	return out
}

func (b *Bus) invoke(sub *subscription, ev api.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				"kind", string(ev.Kind()), "subscription", sub.id, "panic", r)
		}
	}()
	sub.fn(ev)
}

// History returns up to n most recent events, oldest first. n <= 0 returns
// the full retained window.
func (b *Bus) History(n int) []api.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	out := make([]api.Event, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// Stats returns the per-kind emission counters.
func (b *Bus) Stats() map[api.Kind]uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[api.Kind]uint64, len(b.counts))
	for k, v := range b.counts {
		out[k] = v
	}
	return out
}
