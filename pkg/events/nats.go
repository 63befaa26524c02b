package events

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

// natsSubjectPrefix namespaces every republished event under one NATS
// subject tree, so a single cluster can carry other traffic alongside
// the Event Bus's cross-pod fan-out.
const natsSubjectPrefix = "tarsy.events."

// NATSBridge extends the single-pod Event Bus (§5) across pods: every
// event a pod's own Listener resolves from Postgres NOTIFY is
// republished to NATS, and every event another pod publishes is fed
// into this pod's Hub.dispatchLocal so its SSE/WS subscribers see it
// without a second round-trip to Postgres. Postgres LISTEN/NOTIFY
// remains the durable source of truth and the sole replay path
// (EventsSince); NATS only shortcuts delivery latency for subscribers
// attached to a pod that didn't originate the event.
type NATSBridge struct {
	nc  *nats.Conn
	hub *Hub
	sub *nats.Subscription
}

// NewNATSBridge wires nc to hub in both directions and begins
// subscribing immediately.
func NewNATSBridge(nc *nats.Conn, hub *Hub) (*NATSBridge, error) {
	b := &NATSBridge{nc: nc, hub: hub}

	hub.SetRemotePublisher(b.publish)

	sub, err := nc.Subscribe(natsSubjectPrefix+">", b.onMessage)
	if err != nil {
		hub.SetRemotePublisher(nil)
		return nil, err
	}
	b.sub = sub
	return b, nil
}

// publish is Hub's remote-publisher hook: called with every
// locally-resolved event.
func (b *NATSBridge) publish(topic string, evt store.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Error("nats bridge: failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := b.nc.Publish(natsSubjectPrefix+topic, data); err != nil {
		slog.Error("nats bridge: failed to publish event", "topic", topic, "error", err)
	}
}

// onMessage feeds an event published by another pod into this pod's
// Hub, bypassing dispatch (and therefore publish) so it is never
// republished back to NATS.
func (b *NATSBridge) onMessage(msg *nats.Msg) {
	topic := msg.Subject[len(natsSubjectPrefix):]
	var evt store.Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		slog.Error("nats bridge: failed to unmarshal event", "subject", msg.Subject, "error", err)
		return
	}
	b.hub.dispatchLocal(topic, evt)
}

// Close unsubscribes from NATS and stops republishing local events.
func (b *NATSBridge) Close() error {
	b.hub.SetRemotePublisher(nil)
	if b.sub != nil {
		return b.sub.Unsubscribe()
	}
	return nil
}
