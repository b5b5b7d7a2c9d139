package bus

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/realm/api"
)

func selection(source api.Source, realm string) api.Selection {
	return api.Selection{Meta: api.NewMeta(source), RealmID: realm}
}

func TestEmit_ExactKindInRegistrationOrder(t *testing.T) {
	b := New(10, nil)
	var order []int
	b.On(api.KindSelection, func(api.Event) { order = append(order, 1) })
	b.On(api.KindSelection, func(api.Event) { order = append(order, 2) })
	b.On(api.KindSelection, func(api.Event) { order = append(order, 3) })

	b.Emit(selection(api.SourcePanel, "r1"))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEmit_WildcardReceivesEverything(t *testing.T) {
	b := New(10, nil)
	var kinds []api.Kind
	b.OnAny(func(ev api.Event) { kinds = append(kinds, ev.Kind()) })

	b.Emit(selection(api.SourcePanel, "r1"))
	b.Emit(api.RolledBack{Meta: api.NewMeta(api.SourceSystem), RealmID: "r1"})

	assert.Equal(t, []api.Kind{api.KindSelection, api.KindRolledBack}, kinds)
}

func TestEmit_SourceFilter(t *testing.T) {
	b := New(10, nil)
	var got int
	b.On(api.KindSelection, func(api.Event) { got++ }, WithSource(api.SourceDOM))

	b.Emit(selection(api.SourcePanel, "r1"))
	assert.Equal(t, 0, got, "panel event must not reach a dom-filtered handler")

	b.Emit(selection(api.SourceDOM, "r1"))
	assert.Equal(t, 1, got)
}

func TestOnce_FiresExactlyOnce(t *testing.T) {
	b := New(10, nil)
	var got int
	b.Once(api.KindSelection, func(api.Event) { got++ })

	b.Emit(selection(api.SourcePanel, "r1"))
	b.Emit(selection(api.SourcePanel, "r2"))
	assert.Equal(t, 1, got)
}

func TestOff_StopsDelivery(t *testing.T) {
	b := New(10, nil)
	var got int
	id := b.On(api.KindSelection, func(api.Event) { got++ })

	b.Emit(selection(api.SourcePanel, "r1"))
	b.Off(id)
	b.Emit(selection(api.SourcePanel, "r2"))
	assert.Equal(t, 1, got)

	b.Off("not-a-subscription") // no-op
}

func TestEmit_PanickingHandlerIsIsolated(t *testing.T) {
	b := New(10, nil)
	var after int
	b.On(api.KindSelection, func(api.Event) { panic("boom") })
	b.On(api.KindSelection, func(api.Event) { after++ })

	require.NotPanics(t, func() { b.Emit(selection(api.SourcePanel, "r1")) })
	assert.Equal(t, 1, after, "the sibling handler still runs")
}

func TestEmitAsync_AllHandlersRun(t *testing.T) {
	b := New(10, nil)
	var count atomic.Int64
	for i := 0; i < 8; i++ {
		b.On(api.KindSelection, func(api.Event) { count.Add(1) })
	}
	b.On(api.KindSelection, func(api.Event) { panic("still isolated") })

	b.EmitAsync(selection(api.SourceDOM, "r1"))
	assert.Equal(t, int64(8), count.Load())
}

func TestHistory_BoundedOldestPruned(t *testing.T) {
	b := New(3, nil)
	for _, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		b.Emit(selection(api.SourcePanel, id))
	}

	hist := b.History(0)
	require.Len(t, hist, 3)
	ids := []string{
		hist[0].(api.Selection).RealmID,
		hist[1].(api.Selection).RealmID,
		hist[2].(api.Selection).RealmID,
	}
	assert.Equal(t, []string{"r3", "r4", "r5"}, ids)

	last := b.History(1)
	require.Len(t, last, 1)
	assert.Equal(t, "r5", last[0].(api.Selection).RealmID)
}

func TestStats_CountsPerKind(t *testing.T) {
	b := New(10, nil)
	b.Emit(selection(api.SourcePanel, "r1"))
	b.Emit(selection(api.SourcePanel, "r2"))
	b.Emit(api.RolledBack{Meta: api.NewMeta(api.SourceSystem), RealmID: "r1"})

	stats := b.Stats()
	assert.Equal(t, uint64(2), stats[api.KindSelection])
	assert.Equal(t, uint64(1), stats[api.KindRolledBack])
}
