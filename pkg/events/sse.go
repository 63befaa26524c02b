package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

const heartbeatInterval = 15 * time.Second

// ServeSSE implements `GET /webapp/sse?topic&since=N` (§4.9): replays
// any persisted events after since, then streams live events for
// topic until the client disconnects, sending a heartbeat comment
// every 15s so the client can detect a silently dead connection
// (§4.7's "missing heartbeat >45s must reconnect").
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "topic is required", http.StatusBadRequest)
		return
	}
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replay, so any event published mid-replay isn't
	// lost between the catch-up query and going live.
	live, cancel := h.Subscribe(topic)
	defer cancel()

	ctx := r.Context()
	backlog, err := h.store.EventsSince(ctx, topic, since, 500)
	if err != nil {
		return
	}
	seen := since
	for _, evt := range backlog {
		if err := writeSSEEvent(w, evt); err != nil {
			return
		}
		seen = evt.Sequence
	}
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-live:
			if !ok {
				return
			}
			if evt.Sequence <= seen {
				continue // already sent during replay
			}
			if err := writeSSEEvent(w, evt); err != nil {
				return
			}
			seen = evt.Sequence
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt store.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Sequence, evt.Type, data)
	return err
}
