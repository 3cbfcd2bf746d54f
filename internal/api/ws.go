package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/frameloop/frameloop-agent/internal/engine"
	"github.com/frameloop/frameloop-agent/internal/playback"
	"github.com/frameloop/frameloop-agent/internal/session"
	"github.com/frameloop/frameloop-agent/internal/timeline"
)

// commandTimeout bounds how long a backend load/seek waits for the browser
// to acknowledge before it counts as failed.
const commandTimeout = 10 * time.Second

// The real players live in the browser; the agent's playback sync drives
// them through this hub. Outbound messages carry backend commands and engine
// events, inbound messages carry command acks, reported media times, and
// input gestures.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*wsConn // session ID -> the one attached client
}

type wsConn struct {
	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan string // command ID -> error text, "" on success
	times   map[string]float64     // backend ID -> last reported media time
}

// wsMessage is the single wire envelope, both directions. Unused fields are
// omitted per message type.
type wsMessage struct {
	Type      string  `json:"type"`
	CommandID string  `json:"command_id,omitempty"`
	BackendID string  `json:"backend_id,omitempty"`
	Kind      string  `json:"kind,omitempty"`
	Cmd       string  `json:"cmd,omitempty"`
	URL       string  `json:"url,omitempty"`
	Seconds   float64 `json:"seconds,omitempty"`
	Error     string  `json:"error,omitempty"`

	Frame   float64           `json:"frame,omitempty"`
	Playing bool              `json:"playing,omitempty"`
	TrackID string            `json:"track_id,omitempty"`
	Segment *timeline.Segment `json:"segment,omitempty"`

	X         float64 `json:"x,omitempty"`
	SegmentID string  `json:"segment_id,omitempty"`
	Key       string  `json:"key,omitempty"`
	Start     int64   `json:"start,omitempty"`
	Zoom      float64 `json:"zoom,omitempty"`
	ScrollPx  float64 `json:"scroll_px,omitempty"`
	WidthPx   float64 `json:"width_px,omitempty"`
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		conns:  make(map[string]*wsConn),
	}
}

// FactoryFor returns a backend factory whose backends forward commands to
// the client attached under the given session ID.
func (h *Hub) FactoryFor(sessionID string) playback.BackendFactory {
	return func(kind timeline.BackendKind) playback.Backend {
		return &remoteBackend{
			hub:       h,
			sessionID: sessionID,
			backendID: timeline.NewID(),
			kind:      kind,
		}
	}
}

// LoadErrorFor returns the load-error relay for a session. Delivery is best
// effort; a disconnected client simply misses the notice.
func (h *Hub) LoadErrorFor(sessionID string) func(*playback.LoadError) {
	return func(le *playback.LoadError) {
		h.send(sessionID, wsMessage{
			Type:      "load_error",
			TrackID:   le.TrackID,
			SegmentID: le.Segment.ID,
			Error:     le.Err.Error(),
		})
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The server binds to loopback and the upgrade carries the agent token,
	// so cross-origin pages gain nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades the per-session WebSocket. One client per session; a new
// connection replaces the old one.
func (h *Hub) Handler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		sess, ok := cfg.Sessions.Get(sessionID)
		if !ok {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
			return
		}

		wc := &wsConn{
			conn:    conn,
			pending: make(map[string]chan string),
			times:   make(map[string]float64),
		}

		h.mu.Lock()
		if old, ok := h.conns[sessionID]; ok {
			old.conn.Close()
		}
		h.conns[sessionID] = wc
		h.mu.Unlock()

		unsubscribe := sess.Engine().Subscribe(func(ev engine.Event) {
			wc.write(wsMessage{
				Type:    "event",
				Kind:    string(ev.Kind),
				Frame:   ev.Frame,
				Playing: ev.Playing,
				TrackID: ev.TrackID,
				Segment: ev.Segment,
			})
		})

		h.logger.Info("client attached", "session_id", sessionID)
		h.readLoop(cfg, sessionID, sess, wc)

		unsubscribe()
		h.mu.Lock()
		if h.conns[sessionID] == wc {
			delete(h.conns, sessionID)
		}
		h.mu.Unlock()
		conn.Close()
		h.logger.Info("client detached", "session_id", sessionID)
	}
}

func (h *Hub) readLoop(cfg ServerConfig, sessionID string, sess *session.Session, wc *wsConn) {
	ctrl := sess.Controller()
	for {
		var msg wsMessage
		if err := wc.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "ack":
			wc.mu.Lock()
			if ch, ok := wc.pending[msg.CommandID]; ok {
				delete(wc.pending, msg.CommandID)
				ch <- msg.Error
			}
			wc.mu.Unlock()

		case "time":
			wc.mu.Lock()
			wc.times[msg.BackendID] = msg.Seconds
			wc.mu.Unlock()

		case "scrub_start":
			ctrl.ScrubStart(msg.X)
		case "scrub_move":
			ctrl.ScrubMove(msg.X)
		case "scrub_end":
			ctrl.ScrubEnd()

		case "drag_start":
			ctrl.DragStart(msg.SegmentID, msg.X)
		case "drag_move":
			if preview, ok := ctrl.DragMove(msg.X); ok {
				wc.write(wsMessage{Type: "drag_preview", Start: preview})
			}
		case "drag_end":
			if err := ctrl.DragEnd(); err != nil {
				wc.write(wsMessage{Type: "edit_error", Error: err.Error()})
			}

		case "key":
			ctrl.HandleKey(msg.Key)

		case "viewport":
			if msg.Zoom > 0 {
				sess.SetViewport(viewportFromRequest(cfg, sess, ViewportRequest{
					Zoom:     msg.Zoom,
					ScrollPx: msg.ScrollPx,
					WidthPx:  msg.WidthPx,
				}))
			}

		default:
			h.logger.Debug("unknown ws message", "session_id", sessionID, "type", msg.Type)
		}
	}
}

func (wc *wsConn) write(msg wsMessage) error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	return wc.conn.WriteJSON(msg)
}

// send delivers a message to a session's client, dropping it silently when
// no client is attached.
func (h *Hub) send(sessionID string, msg wsMessage) {
	h.mu.Lock()
	wc, ok := h.conns[sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}
	wc.write(msg)
}

// command sends a backend command and waits for its ack.
func (h *Hub) command(ctx context.Context, sessionID string, msg wsMessage) error {
	h.mu.Lock()
	wc, ok := h.conns[sessionID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("no client attached to session %s", sessionID)
	}

	msg.CommandID = timeline.NewID()
	ch := make(chan string, 1)
	wc.mu.Lock()
	wc.pending[msg.CommandID] = ch
	wc.mu.Unlock()

	cleanup := func() {
		wc.mu.Lock()
		delete(wc.pending, msg.CommandID)
		wc.mu.Unlock()
	}

	if err := wc.write(msg); err != nil {
		cleanup()
		return fmt.Errorf("failed to send backend command: %w", err)
	}

	select {
	case errText := <-ch:
		if errText != "" {
			return fmt.Errorf("backend %s failed: %s", msg.Cmd, errText)
		}
		return nil
	case <-ctx.Done():
		cleanup()
		return ctx.Err()
	case <-time.After(commandTimeout):
		cleanup()
		return fmt.Errorf("backend %s timed out", msg.Cmd)
	}
}

func (h *Hub) reportedTime(sessionID, backendID string) float64 {
	h.mu.Lock()
	wc, ok := h.conns[sessionID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.times[backendID]
}

// remoteBackend forwards playback commands to the browser player element
// registered under its backend ID.
type remoteBackend struct {
	hub       *Hub
	sessionID string
	backendID string
	kind      timeline.BackendKind
}

func (b *remoteBackend) Load(ctx context.Context, url string) error {
	return b.hub.command(ctx, b.sessionID, wsMessage{
		Type:      "backend",
		BackendID: b.backendID,
		Kind:      string(b.kind),
		Cmd:       "load",
		URL:       url,
	})
}

func (b *remoteBackend) Seek(ctx context.Context, seconds float64) error {
	return b.hub.command(ctx, b.sessionID, wsMessage{
		Type:      "backend",
		BackendID: b.backendID,
		Cmd:       "seek",
		Seconds:   seconds,
	})
}

func (b *remoteBackend) Play() {
	b.hub.send(b.sessionID, wsMessage{Type: "backend", BackendID: b.backendID, Cmd: "play"})
}

func (b *remoteBackend) Pause() {
	b.hub.send(b.sessionID, wsMessage{Type: "backend", BackendID: b.backendID, Cmd: "pause"})
}

func (b *remoteBackend) CurrentTime() float64 {
	return b.hub.reportedTime(b.sessionID, b.backendID)
}
