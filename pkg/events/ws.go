package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is one control frame a WS client may send: subscribe
// or unsubscribe from a topic, optionally replaying from since.
type clientMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
	Since  int64  `json:"since"`
}

// ServeWS upgrades the request to a WebSocket and multiplexes any
// number of topic subscriptions over the single connection — the
// same subscribe/unsubscribe control-message shape (catch-up rides
// on subscribe's `since` cursor) the
// teacher's ConnectionManager used, adapted from coder/websocket onto
// gorilla/websocket (already wired for the carrier media-stream
// transport, so the gateway reuses it instead of adding a second
// WebSocket library).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("event bus ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	cancels := make(map[string]func())
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Action {
		case "subscribe":
			if msg.Topic == "" || cancels[msg.Topic] != nil {
				continue
			}
			live, subCancel := h.Subscribe(msg.Topic)
			cancels[msg.Topic] = subCancel
			go h.pumpTopic(ctx, conn, &writeMu, msg.Topic, msg.Since, live)
		case "unsubscribe":
			if c, ok := cancels[msg.Topic]; ok {
				c()
				delete(cancels, msg.Topic)
			}
		case "ping":
			writeMu.Lock()
			_ = conn.WriteJSON(map[string]string{"type": "pong"})
			writeMu.Unlock()
		}
	}
}

// pumpTopic replays backlog for topic then forwards live events until
// ctx is cancelled or live closes (unsubscribe).
func (h *Hub) pumpTopic(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex, topic string, since int64, live <-chan store.Event) {
	backlog, err := h.store.EventsSince(ctx, topic, since, 500)
	if err != nil {
		return
	}
	seen := since
	for _, evt := range backlog {
		if !writeEvent(conn, writeMu, evt) {
			return
		}
		seen = evt.Sequence
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-live:
			if !ok {
				return
			}
			if evt.Sequence <= seen {
				continue
			}
			if !writeEvent(conn, writeMu, evt) {
				return
			}
			seen = evt.Sequence
		}
	}
}

func writeEvent(conn *websocket.Conn, writeMu *sync.Mutex, evt store.Event) bool {
	writeMu.Lock()
	defer writeMu.Unlock()
	return conn.WriteJSON(evt) == nil
}
