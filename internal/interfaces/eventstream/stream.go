// Package eventstream bridges the Event Bus (C11) subscriber contract —
// `subscribe(rootId?) -> channel<Event>` — onto a WebSocket endpoint for
// operator tooling, alongside the in-process Go channel API every other
// consumer uses directly.
package eventstream

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/infrastructure/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Subscriber is the narrow eventbus surface the bridge needs — satisfied by
// application.App.Subscribe.
type Subscriber interface {
	Subscribe(rootID string) (<-chan eventbus.Event, func())
}

// wireEvent is the JSON projection of an eventbus.Event sent to clients.
type wireEvent struct {
	Type      string      `json:"type"`
	RootID    string      `json:"root_id"`
	Timestamp time.Time   `json:"ts"`
	Payload   interface{} `json:"payload"`
}

// Handler upgrades HTTP connections to WebSocket and pumps one rootId's
// event stream (or the global stream, for rootId="") to each client until
// it disconnects or the stream ends.
type Handler struct {
	events Subscriber
	logger *zap.Logger
}

func NewHandler(events Subscriber, logger *zap.Logger) *Handler {
	return &Handler{events: events, logger: logger}
}

// ServeWS handles one client connection. The optional `root_id` query
// parameter scopes the subscription to a single dialog tree; omitted, the
// client receives every event published.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	rootID := r.URL.Query().Get("root_id")
	ch, unsubscribe := h.events.Subscribe(rootID)
	defer unsubscribe()

	// Drain client-initiated messages (pings, close frames) in the
	// background so the connection doesn't look stalled to intermediaries.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for evt := range ch {
		if evt.IsEndOfStream() {
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		body, err := json.Marshal(wireEvent{
			Type: evt.Type, RootID: evt.RootID, Timestamp: evt.Timestamp, Payload: evt.Payload,
		})
		if err != nil {
			h.logger.Warn("event marshal failed", zap.String("type", evt.Type), zap.Error(err))
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			return
		}
	}
}
