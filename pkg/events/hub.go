package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

// subscriberBuffer bounds how far a live subscriber can lag before
// events are dropped in its favor of forward progress — §5's "readers
// are lock-free ring buffers with replay from the persistence layer
// for misses": a dropped event is recoverable by reconnecting with
// since=N, never a crash or a stall of other subscribers.
const subscriberBuffer = 64

// eventStore is the subset of *store.Store the gateway needs to
// replay missed events and resolve a freshly-NOTIFY'd row.
type eventStore interface {
	EventsSince(ctx context.Context, topic string, since int64, limit int) ([]store.Event, error)
	LatestSequence(ctx context.Context, topic string) (int64, error)
}

// Hub fans out topic events to in-process subscribers (SSE and WS
// handlers each hold one). It is the single-writer-per-topic/
// lock-free-reader split §5 calls for: dispatch is the only writer,
// each subscriber only ever reads its own channel.
type Hub struct {
	store  eventStore
	mu     sync.RWMutex
	subs   map[string]map[string]chan store.Event
	remote func(topic string, evt store.Event)
}

// NewHub constructs a Hub backed by st for replay and row lookups.
func NewHub(st eventStore) *Hub {
	return &Hub{subs: make(map[string]map[string]chan store.Event), store: st}
}

// SetRemotePublisher registers a hook invoked with every
// locally-resolved event (i.e. one this pod's own Listener saw via
// Postgres NOTIFY), so a NATSBridge can republish it for other pods to
// pick up without re-querying the store. nil disables cross-pod
// fan-out.
func (h *Hub) SetRemotePublisher(fn func(topic string, evt store.Event)) {
	h.mu.Lock()
	h.remote = fn
	h.mu.Unlock()
}

// Subscribe registers a new listener on topic and returns its receive
// channel and a cancel func that must be called when the caller is
// done (connection closed, request context cancelled).
func (h *Hub) Subscribe(topic string) (<-chan store.Event, func()) {
	id := uuid.NewString()
	ch := make(chan store.Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[string]chan store.Event)
	}
	h.subs[topic][id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if m, ok := h.subs[topic]; ok {
			if c, ok := m[id]; ok {
				delete(m, id)
				close(c)
			}
			if len(m) == 0 {
				delete(h.subs, topic)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// EventsSince returns a one-shot backlog page for topic, for callers
// (the Control Plane API's `GET /calls/{id}/events`) that want a plain
// request/response read rather than opening a streaming subscription.
func (h *Hub) EventsSince(ctx context.Context, topic string, since int64, limit int) ([]store.Event, error) {
	return h.store.EventsSince(ctx, topic, since, limit)
}

// dispatch is invoked by Listener for every local Postgres NOTIFY: it
// fetches the row named by (topic, seq), fans it out to this pod's own
// subscribers via dispatchLocal, and — if a remote publisher is
// registered — republishes it for other pods. Only locally-originated
// events reach the remote publisher; events a NATSBridge delivers from
// another pod call dispatchLocal directly, never dispatch, so a row
// never bounces back out to NATS a second time.
func (h *Hub) dispatch(ctx context.Context, topic string, seq int64) {
	rows, err := h.store.EventsSince(ctx, topic, seq-1, 1)
	if err != nil || len(rows) == 0 {
		slog.Warn("event bus: failed to resolve notified row", "topic", topic, "sequence", seq, "error", err)
		return
	}
	evt := rows[0]

	h.dispatchLocal(topic, evt)

	h.mu.RLock()
	remote := h.remote
	h.mu.RUnlock()
	if remote != nil {
		remote(topic, evt)
	}
}

// dispatchLocal pushes evt to every current in-process subscriber on
// topic. A subscriber whose buffer is full is skipped rather than
// blocked — see subscriberBuffer. Exported within the package for
// NATSBridge, which calls it directly for events originating on
// another pod.
func (h *Hub) dispatchLocal(topic string, evt store.Event) {
	h.mu.RLock()
	subs := h.subs[topic]
	chans := make([]chan store.Event, 0, len(subs))
	for _, ch := range subs {
		chans = append(chans, ch)
	}
	h.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- evt:
		default:
			slog.Warn("event bus: subscriber buffer full, dropping event", "topic", topic, "sequence", evt.Sequence)
		}
	}
}
