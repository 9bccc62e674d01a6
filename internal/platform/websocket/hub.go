// Package websocket keeps the live session registry for alert push. Each
// session belongs to one recipient (a doctor); events are delivered to every
// open session of that recipient.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Event is the envelope written to a session.
type Event struct {
	Type      string          `json:"type"`
	Recipient string          `json:"recipient"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Session is one open WebSocket connection.
type Session struct {
	ID        string
	Recipient string
	Send      chan []byte
}

func newSession(recipient string) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Recipient: recipient,
		Send:      make(chan []byte, sendBuffer),
	}
}

// Hub tracks sessions by recipient. All operations are safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	logger   zerolog.Logger
	now      func() time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]map[*Session]struct{}),
		logger:   logger.With().Str("component", "websocket").Logger(),
		now:      time.Now,
	}
}

func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[s.Recipient] == nil {
		h.sessions[s.Recipient] = make(map[*Session]struct{})
	}
	h.sessions[s.Recipient][s] = struct{}{}
}

// Unregister removes the session and closes its Send channel. Calling it
// twice is harmless.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[s.Recipient]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.sessions, s.Recipient)
	}
	close(s.Send)
}

// Deliver marshals data into an Event and queues it on every session of the
// recipient. It returns how many sessions accepted the event; sessions whose
// buffer is full are skipped rather than blocking the caller.
func (h *Hub) Deliver(recipient, eventType string, data interface{}) (int, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}
	msg, err := json.Marshal(Event{
		Type:      eventType,
		Recipient: recipient,
		Timestamp: h.now().UTC(),
		Data:      raw,
	})
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.sessions[recipient] {
		select {
		case s.Send <- msg:
			delivered++
		default:
			h.logger.Warn().Str("session_id", s.ID).Str("recipient", recipient).Msg("session buffer full, event dropped")
		}
	}
	return delivered, nil
}

// SessionCount returns the number of open sessions for a recipient.
func (h *Hub) SessionCount(recipient string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[recipient])
}

// TotalSessions returns the number of open sessions across all recipients.
func (h *Hub) TotalSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.sessions {
		n += len(set)
	}
	return n
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler builds the upgrade handler. An empty allowedOrigins accepts any
// origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.Connect)
}

// Connect upgrades GET /ws?recipient=<doctorID> and starts the pumps.
func (h *Handler) Connect(c echo.Context) error {
	recipient, err := uuid.Parse(c.QueryParam("recipient"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient must be a UUID")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	s := newSession(recipient.String())
	h.hub.Register(s)
	h.hub.logger.Debug().Str("session_id", s.ID).Str("recipient", s.Recipient).Msg("session opened")

	go h.writePump(s, ws)
	go h.readPump(s, ws)
	return nil
}

// readPump only services control frames; clients never send data.
func (h *Handler) readPump(s *Session, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(s)
		ws.Close()
		h.hub.logger.Debug().Str("session_id", s.ID).Msg("session closed")
	}()

	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(s *Session, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-s.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
