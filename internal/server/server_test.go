package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/realm/api"
	"github.com/agentic-research/realm/internal/bus"
	"github.com/agentic-research/realm/internal/config"
	"github.com/agentic-research/realm/internal/extract"
	"github.com/agentic-research/realm/internal/mutate"
	"github.com/agentic-research/realm/internal/registry"
	realmsync "github.com/agentic-research/realm/internal/sync"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopMutator struct{}

func (nopMutator) Apply(string, string, mutate.Changes) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry, *bus.Bus) {
	t.Helper()

	b := bus.New(64, discard())
	reg := registry.New()
	engine := realmsync.New(b, reg, nopMutator{}, nil, nil, config.SyncConfig{
		DebounceMs:     5,
		StalenessMs:    30000,
		ConflictPolicy: config.LastWriteWins,
	}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)
	t.Cleanup(cancel)

	srv := New(b, engine, reg, discard())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, reg, b
}

func wsURL(ts *httptest.Server, kind string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?client=" + kind
}

func dial(t *testing.T, ts *httptest.Server, kind string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, kind), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// collectFrames reads frames until the deadline and returns the observed
// type tags.
func collectFrames(conn *websocket.Conn, window time.Duration) []string {
	var types []string
	deadline := time.Now().Add(window)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return types
		}
		parsed, err := oj.Parse(data)
		if err != nil {
			continue
		}
		if obj, ok := parsed.(map[string]any); ok {
			if tag, ok := obj["type"].(string); ok {
				types = append(types, tag)
			}
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	parsed, err := oj.Parse(body)
	require.NoError(t, err)
	assert.Equal(t, "ok", parsed.(map[string]any)["status"])
}

func TestElementsEndpoint(t *testing.T) {
	ts, reg, _ := newTestServer(t)

	ex := extract.New(nil)
	content := []byte(`export const App = () => <div className="app">hello</div>;` + "\n")
	res, err := ex.Extract(content, "src/App.tsx")
	require.NoError(t, err)
	reg.RegisterAll("src/App.tsx", registry.HashContent(content), res)

	resp, err := http.Get(ts.URL + "/api/elements?file=src/App.tsx")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	parsed, err := oj.Parse(body)
	require.NoError(t, err)

	obj := parsed.(map[string]any)
	elements := obj["elements"].([]any)
	require.NotEmpty(t, elements)
	first := elements[0].(map[string]any)
	assert.Equal(t, "div", first["tagName"])
	assert.Contains(t, first["realmId"], "src/App.tsx#")
}

func TestElementsEndpointRequiresFile(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/elements")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownClientKindRejected(t *testing.T) {
	ts, _, _ := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "gremlin"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBroadcastSkipsOriginatingTrafficClass(t *testing.T) {
	ts, _, _ := newTestServer(t)

	panel := dial(t, ts, "panel")
	dom := dial(t, ts, "dom")
	time.Sleep(20 * time.Millisecond) // let both registrations settle

	frame := map[string]any{
		"type":    string(api.KindStyleChanged),
		"source":  string(api.SourcePanel),
		"realmId": "src/App.tsx#App#div[0]#abc123def456",
		"styles":  map[string]any{"color": "red"},
		"preview": true,
	}
	data, err := oj.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, panel.WriteMessage(websocket.TextMessage, data))

	domTypes := collectFrames(dom, 300*time.Millisecond)
	assert.Contains(t, domTypes, string(api.KindStyleChanged),
		"the DOM client receives the panel's edit")

	panelTypes := collectFrames(panel, 100*time.Millisecond)
	assert.NotContains(t, panelTypes, string(api.KindStyleChanged),
		"the panel never hears its own edit back")
}

func TestMalformedFrameGetsErrorReply(t *testing.T) {
	ts, _, _ := newTestServer(t)

	panel := dial(t, ts, "panel")
	require.NoError(t, panel.WriteMessage(websocket.TextMessage, []byte("{not json")))

	types := collectFrames(panel, 300*time.Millisecond)
	assert.Contains(t, types, string(api.KindError))
}

func TestHistoryEndpoint(t *testing.T) {
	ts, _, b := newTestServer(t)

	b.Emit(api.Selection{
		Meta:    api.NewMeta(api.SourceDOM),
		RealmID: "src/App.tsx#App#div[0]#abc123def456",
	})

	resp, err := http.Get(ts.URL + "/api/history?n=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	parsed, err := oj.Parse(body)
	require.NoError(t, err)

	events := parsed.(map[string]any)["events"].([]any)
	require.NotEmpty(t, events)
	found := false
	for _, raw := range events {
		if obj, ok := raw.(map[string]any); ok && obj["type"] == string(api.KindSelection) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStatsEndpoint(t *testing.T) {
	ts, _, b := newTestServer(t)

	b.Emit(api.Selection{
		Meta:    api.NewMeta(api.SourceDOM),
		RealmID: "src/App.tsx#App#div[0]#abc123def456",
	})

	resp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	parsed, err := oj.Parse(body)
	require.NoError(t, err)
	counts := parsed.(map[string]any)
	assert.Contains(t, counts, string(api.KindSelection))
}
