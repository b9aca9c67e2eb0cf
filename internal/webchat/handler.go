// Package webchat is the widget transport: a WebSocket (with HTTP
// fallbacks) that forwards page and conversation events into a per-session
// engine and streams the engine's messages back out. The widget itself
// stays thin; everything stateful lives server-side.
package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/vantagechat/engage/internal/engine"
	"github.com/vantagechat/engage/internal/pagecontext"
	"github.com/vantagechat/engage/internal/session"
	"github.com/vantagechat/engage/pkg/logging"
)

// Engine is the transport's view of one session's conversation engine.
// Satisfied by *engine.Engine.
type Engine interface {
	Initialize(ctx context.Context)
	SendUserMessage(ctx context.Context, text string)
	HandlePageView(ctx context.Context, view pagecontext.PageView)
	HandleScroll(ctx context.Context, view pagecontext.PageView)
	HandleSectionEnter(ctx context.Context, view pagecontext.PageView)
	HandleInteraction()
	HandleWidgetActivity()
	HandleVisibilityHidden()
	HandleWidgetClosed()
	Shutdown()
	Messages() []engine.Message
}

// EngineFactory builds the engine for a session. The sink receives every
// message the engine appends; the handler passes itself.
type EngineFactory func(sessionID string, sink engine.Sink) Engine

// TranscriptStore mirrors the message log for reconnect replay.
type TranscriptStore interface {
	Append(ctx context.Context, conversationID string, msg session.TranscriptMessage) error
	List(ctx context.Context, conversationID string, limit int64) ([]session.TranscriptMessage, error)
}

// Engines created through the HTTP fallbacks have no disconnect to clean
// them up; the janitor evicts them once the session goes quiet.
const (
	engineIdleTTL = 10 * time.Minute
	janitorPeriod = time.Minute
)

// Handler manages widget connections and their engines.
type Handler struct {
	factory    EngineFactory
	sessions   *session.Store
	transcript TranscriptStore
	logger     *logging.Logger
	widgetJS   []byte

	mu       sync.RWMutex
	conns    map[string]*wsConn // sessionID -> active connection
	engines  map[string]Engine
	lastSeen map[string]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // one writer at a time
}

func (c *wsConn) send(msg OutboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = websocket.JSON.Send(c.conn, msg)
}

// InboundEvent is what the widget sends. Page events carry the raw capture;
// everything else is a plain signal.
type InboundEvent struct {
	Type      string                `json:"type"` // "init", "message", "page_view", "scroll", "section_enter", "activity", "visibility", "close", "ping"
	SessionID string                `json:"session_id,omitempty"`
	Text      string                `json:"text,omitempty"`
	Page      *pagecontext.PageView `json:"page,omitempty"`
	Hidden    bool                  `json:"hidden,omitempty"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type      string          `json:"type"` // "message", "typing", "history", "session", "pong", "error"
	Text      string          `json:"text,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   *engine.Message `json:"message,omitempty"`
	Messages  []HistoryEntry  `json:"messages,omitempty"`
}

// HistoryEntry is a replayed transcript message.
type HistoryEntry struct {
	Role        string   `json:"role"`
	Text        string   `json:"text"`
	Buttons     []string `json:"buttons,omitempty"`
	EmailPrompt string   `json:"email_prompt,omitempty"`
	Kind        string   `json:"kind,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// NewHandler creates the widget transport.
func NewHandler(factory EngineFactory, sessions *session.Store, transcript TranscriptStore, widgetJS []byte, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		factory:    factory,
		sessions:   sessions,
		transcript: transcript,
		logger:     logger.Component("webchat"),
		widgetJS:   widgetJS,
		conns:      make(map[string]*wsConn),
		engines:    make(map[string]Engine),
		lastSeen:   make(map[string]time.Time),
		stop:       make(chan struct{}),
	}
	go h.janitor()
	return h
}

// Close stops the idle-engine janitor and shuts every live engine down.
func (h *Handler) Close() {
	h.stopOnce.Do(func() { close(h.stop) })

	h.mu.Lock()
	engines := make([]Engine, 0, len(h.engines))
	for id, eng := range h.engines {
		engines = append(engines, eng)
		delete(h.engines, id)
		delete(h.lastSeen, id)
	}
	h.mu.Unlock()
	for _, eng := range engines {
		eng.Shutdown()
	}
}

func (h *Handler) janitor() {
	ticker := time.NewTicker(janitorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.evictIdle(engineIdleTTL)
		}
	}
}

// evictIdle shuts down engines whose session has no live connection and no
// recent traffic. WebSocket sessions never qualify while connected; their
// engines are dropped on disconnect instead.
func (h *Handler) evictIdle(olderThan time.Duration) {
	cutoff := time.Now().Add(-olderThan)

	h.mu.Lock()
	var evicted []Engine
	for id, eng := range h.engines {
		if _, live := h.conns[id]; live {
			continue
		}
		if h.lastSeen[id].After(cutoff) {
			continue
		}
		evicted = append(evicted, eng)
		delete(h.engines, id)
		delete(h.lastSeen, id)
	}
	h.mu.Unlock()

	for _, eng := range evicted {
		eng.Shutdown()
	}
	if len(evicted) > 0 {
		h.logger.Debug("evicted idle engines", "count", len(evicted))
	}
}

// generateSessionID creates a random session identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// PushMessage implements engine.Sink: mirror to the transcript and stream to
// the live connection, if any.
func (h *Handler) PushMessage(sessionID string, msg engine.Message) {
	if h.transcript != nil {
		_ = h.transcript.Append(context.Background(), sessionID, session.TranscriptMessage{
			ID:          msg.ID,
			Role:        string(msg.Role),
			Body:        msg.Content,
			Buttons:     msg.Buttons,
			EmailPrompt: msg.EmailPrompt,
			Kind:        msg.Kind,
			Timestamp:   msg.Timestamp,
		})
	}

	h.mu.RLock()
	c, ok := h.conns[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.send(OutboundMessage{Type: "message", Message: &msg})
}

// PushTyping implements engine.Sink.
func (h *Handler) PushTyping(sessionID string) {
	h.mu.RLock()
	c, ok := h.conns[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.send(OutboundMessage{Type: "typing"})
}

// engineFor returns the session's engine, creating it on first use. Every
// lookup refreshes the idle clock.
func (h *Handler) engineFor(sessionID string) Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSeen[sessionID] = time.Now()
	if eng, ok := h.engines[sessionID]; ok {
		return eng
	}
	eng := h.factory(sessionID, h)
	h.engines[sessionID] = eng
	return eng
}

// dropEngine shuts the session's engine down and forgets it. Durable state
// (greeted flag, counters, transcript) survives in redis for reconnects.
func (h *Handler) dropEngine(sessionID string) {
	h.mu.Lock()
	eng, ok := h.engines[sessionID]
	delete(h.engines, sessionID)
	delete(h.lastSeen, sessionID)
	h.mu.Unlock()
	if ok {
		eng.Shutdown()
	}
}

// HandleWebSocket upgrades to WebSocket and runs the event loop.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	sessionID := h.resolveSession(ctx, r.URL.Query().Get("session"))

	wsc := &wsConn{conn: conn}
	h.mu.Lock()
	h.conns[sessionID] = wsc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.conns[sessionID] == wsc {
			delete(h.conns, sessionID)
		}
		h.mu.Unlock()
		h.dropEngine(sessionID)
	}()

	wsc.send(OutboundMessage{Type: "session", SessionID: sessionID})
	h.replayHistory(ctx, wsc, sessionID)

	eng := h.engineFor(sessionID)
	h.logger.Info("connection opened", "session_id", sessionID)

	for {
		var evt InboundEvent
		if err := websocket.JSON.Receive(conn, &evt); err != nil {
			h.logger.Debug("connection closed", "session_id", sessionID, "error", err)
			return
		}
		if evt.Type == "ping" {
			wsc.send(OutboundMessage{Type: "pong"})
			continue
		}
		h.dispatch(ctx, eng, evt)
	}
}

// dispatch routes one widget event into the engine. Conversation turns run
// asynchronously so a slow upstream reply never stalls the read loop.
func (h *Handler) dispatch(ctx context.Context, eng Engine, evt InboundEvent) {
	switch evt.Type {
	case "init":
		if evt.Page != nil {
			eng.HandlePageView(ctx, *evt.Page)
		}
		eng.Initialize(ctx)
	case "message":
		text := strings.TrimSpace(evt.Text)
		if text == "" {
			return
		}
		go eng.SendUserMessage(ctx, text)
	case "page_view":
		if evt.Page != nil {
			eng.HandlePageView(ctx, *evt.Page)
		}
	case "scroll":
		if evt.Page != nil {
			eng.HandleScroll(ctx, *evt.Page)
		}
	case "section_enter":
		if evt.Page != nil {
			eng.HandleSectionEnter(ctx, *evt.Page)
		}
	case "interaction":
		eng.HandleInteraction()
	case "activity":
		eng.HandleWidgetActivity()
	case "visibility":
		if evt.Hidden {
			eng.HandleVisibilityHidden()
		}
	case "close":
		eng.HandleWidgetClosed()
	}
}

func (h *Handler) resolveSession(ctx context.Context, candidate string) string {
	if h.sessions != nil {
		return h.sessions.GetOrCreateSessionID(ctx, candidate)
	}
	if candidate != "" {
		return candidate
	}
	return generateSessionID()
}

func (h *Handler) replayHistory(ctx context.Context, wsc *wsConn, sessionID string) {
	if h.transcript == nil {
		return
	}
	msgs, err := h.transcript.List(ctx, sessionID, 50)
	if err != nil || len(msgs) == 0 {
		return
	}
	wsc.send(OutboundMessage{Type: "history", Messages: toHistory(msgs)})
}

func toHistory(msgs []session.TranscriptMessage) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryEntry{
			Role:        m.Role,
			Text:        m.Body,
			Buttons:     m.Buttons,
			EmailPrompt: m.EmailPrompt,
			Kind:        m.Kind,
			Timestamp:   m.Timestamp.Format(time.RFC3339),
		})
	}
	return out
}

// HandleMessage is the HTTP fallback for sending a message without a socket.
// The reply lands in the transcript; the widget polls history for it.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	sessionID := h.resolveSession(r.Context(), req.SessionID)
	h.engineFor(sessionID).SendUserMessage(r.Context(), req.Text)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":     "ok",
		"session_id": sessionID,
	})
}

// HandleEvent is the HTTP fallback for page events (scroll, section enter).
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var evt InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if evt.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	sessionID := h.resolveSession(r.Context(), evt.SessionID)
	h.dispatch(context.WithoutCancel(r.Context()), h.engineFor(sessionID), evt)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":     "ok",
		"session_id": sessionID,
	})
}

// HandleHistory returns the stored transcript for a session.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}

	if h.transcript == nil {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": []HistoryEntry{}})
		return
	}

	msgs, err := h.transcript.List(r.Context(), sessionID, 100)
	if err != nil {
		h.logger.Error("failed to load history", "error", err, "session_id", sessionID)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": toHistory(msgs)})
}

// HandleWidgetJS serves the embeddable widget JavaScript.
func (h *Handler) HandleWidgetJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = w.Write(h.widgetJS)
}
