// Package server exposes the engine over websocket plus a small REST
// surface for inspection. One websocket connection per client; the client
// declares its kind at connect time and never receives echoes of its own
// traffic class.
package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/realm/api"
	"github.com/agentic-research/realm/internal/bus"
	"github.com/agentic-research/realm/internal/registry"
	realmsync "github.com/agentic-research/realm/internal/sync"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// ClientKind labels the traffic class a connection belongs to.
type ClientKind string

const (
	ClientPanel   ClientKind = "panel"
	ClientDOM     ClientKind = "dom"
	ClientWatcher ClientKind = "watcher"
	ClientSystem  ClientKind = "system"
)

// excludedSources maps a client kind to the event sources it must never
// receive back. A panel already applied its own edit locally, so events it
// (or a connected editor) originated would double-apply.
func excludedSources(kind ClientKind) map[api.Source]bool {
	switch kind {
	case ClientPanel:
		return map[api.Source]bool{api.SourcePanel: true, api.SourceEditor: true}
	case ClientDOM:
		return map[api.Source]bool{api.SourceDOM: true}
	case ClientWatcher:
		return map[api.Source]bool{api.SourceFileWatcher: true}
	case ClientSystem:
		return map[api.Source]bool{api.SourceSystem: true}
	default:
		return nil
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		// The server binds to loopback; the iframe preview connects from
		// arbitrary dev origins.
		return true
	},
}

type client struct {
	id       string
	kind     ClientKind
	conn     *websocket.Conn
	send     chan []byte
	excluded map[api.Source]bool
}

// Server owns the websocket fan-out and the inspection endpoints.
type Server struct {
	bus    *bus.Bus
	engine *realmsync.Engine
	reg    *registry.Registry
	log    *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
}

func New(b *bus.Bus, engine *realmsync.Engine, reg *registry.Registry, log *slog.Logger) *Server {
	s := &Server{
		bus:     b,
		engine:  engine,
		reg:     reg,
		log:     log,
		clients: make(map[string]*client),
	}
	b.OnAny(s.broadcast)
	return s
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWS)
	r.Get("/api/elements", s.handleElements)
	r.Get("/api/history", s.handleHistory)
	r.Get("/api/stats", s.handleStats)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	n := len(s.clients)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"clients":  n,
		"elements": s.reg.Len(),
	})
}

// handleElements lists registered elements, optionally scoped to one file.
func (s *Server) handleElements(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	if file == "" {
		http.Error(w, "file query parameter is required", http.StatusBadRequest)
		return
	}

	elements := s.reg.AllForFile(file)
	out := make([]map[string]any, 0, len(elements))
	for _, el := range elements {
		out = append(out, map[string]any{
			"realmId":    el.ID.Key(),
			"tagName":    el.TagName,
			"component":  el.ID.Component,
			"version":    el.ID.Version,
			"attributes": el.Attributes,
			"directText": el.DirectText,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": file, "elements": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	events := s.bus.History(n)
	frames := make([]any, 0, len(events))
	for _, ev := range events {
		encoded, err := api.Encode(ev)
		if err != nil {
			continue
		}
		parsed, err := oj.Parse(encoded)
		if err != nil {
			continue
		}
		frames = append(frames, parsed)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": frames})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.bus.Stats()
	out := make(map[string]any, len(stats))
	for kind, count := range stats {
		out[string(kind)] = count
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	kind := ClientKind(r.URL.Query().Get("client"))
	switch kind {
	case ClientPanel, ClientDOM, ClientWatcher, ClientSystem:
	case "":
		kind = ClientPanel
	default:
		http.Error(w, "unknown client kind", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		id:       uuid.NewString(),
		kind:     kind,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		excluded: excludedSources(kind),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.log.Info("client connected", "id", c.id, "kind", kind)

	s.engine.Dispatch(api.ClientConnected{
		Meta:     api.NewMeta(api.SourceSystem),
		ClientID: c.id,
	})

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer s.drop(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("client read failed", "id", c.id, "err", err)
			}
			return
		}

		ev, err := api.Decode(data)
		if err != nil {
			s.log.Debug("bad frame", "id", c.id, "err", err)
			s.sendError(c, "malformed frame: "+err.Error())
			continue
		}
		s.engine.Dispatch(ev)
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast fans a bus event out to every connection whose traffic class
// did not originate it. Slow clients lose frames rather than stall the bus.
func (s *Server) broadcast(ev api.Event) {
	data, err := api.Encode(ev)
	if err != nil {
		s.log.Error("encode event failed", "kind", ev.Kind(), "err", err)
		return
	}
	source := ev.EventMeta().Source

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.excluded[source] {
			continue
		}
		select {
		case c.send <- data:
		default:
			s.log.Warn("client send buffer full, dropping frame", "id", c.id, "kind", ev.Kind())
		}
	}
}

func (s *Server) sendError(c *client, msg string) {
	data, err := api.Encode(api.Error{
		Meta:    api.NewMeta(api.SourceSystem),
		Message: msg,
	})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c.id)
	s.mu.Unlock()

	close(c.send)
	s.log.Info("client disconnected", "id", c.id)
	s.engine.Dispatch(api.ClientDisconnected{
		Meta:     api.NewMeta(api.SourceSystem),
		ClientID: c.id,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := oj.Marshal(v)
	if err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
