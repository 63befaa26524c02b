package notify

import (
	"context"
	"fmt"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// Router is a Deliverer that dispatches each notification to the
// Deliverer registered for its DeliveryChannel (§4.6's Subscriber
// carries one delivery_channel per subscriber; this is where that
// string resolves to a transport).
type Router struct {
	channels map[string]Deliverer
	fallback Deliverer
}

// NewRouter builds a Router over named channels. fallback, if non-nil,
// handles any delivery_channel with no registered entry instead of
// failing the attempt outright.
func NewRouter(channels map[string]Deliverer, fallback Deliverer) *Router {
	return &Router{channels: channels, fallback: fallback}
}

// Deliver implements Deliverer.
func (r *Router) Deliver(ctx context.Context, n *models.Notification) error {
	if d, ok := r.channels[n.DeliveryChannel]; ok && d != nil {
		return d.Deliver(ctx, n)
	}
	if r.fallback != nil {
		return r.fallback.Deliver(ctx, n)
	}
	return fmt.Errorf("notify: no deliverer registered for channel %q", n.DeliveryChannel)
}
