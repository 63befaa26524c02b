package call

import (
	"context"
	"math/rand"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

// sweepStore is the subset of *store.Store the timeout sweep needs, on
// top of callStore: listing calls stuck in a pre-terminal state long
// enough to breach the ring or first-media SLO.
type sweepStore interface {
	callStore
	ListStaleCalls(ctx context.Context, states []models.CallStatus, olderThan time.Time, limit int) ([]*models.Call, error)
}

// RunTimeoutSweep polls for calls stuck in DIALING/RINGING past
// RingTimeout, or ANSWERED without reaching STREAMING past
// FirstMediaTimeout, and fails them (§4.3: "no first-media within
// slo_first_media_ms" / ring timeout). Grounded on the teacher's
// pkg/queue jittered-poll-loop shape (fixed interval, small random
// jitter to avoid thundering-herd polling across replicas).
func (o *Orchestrator) RunTimeoutSweep(ctx context.Context, sw sweepStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		jitter := time.Duration(rand.Int63n(int64(interval) / 4))
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter):
		}

		if err := o.SweepOnce(ctx, sw); err != nil {
			o.logger.Error("timeout sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce runs a single timeout-sweep pass; exported so tests and the
// composition root can drive it without waiting on the ticker.
func (o *Orchestrator) SweepOnce(ctx context.Context, sw sweepStore) error {
	if o.cfg.RingTimeout > 0 {
		cutoff := time.Now().Add(-o.cfg.RingTimeout)
		stuck, err := sw.ListStaleCalls(ctx, []models.CallStatus{models.CallDialing, models.CallRinging}, cutoff, 100)
		if err != nil {
			return err
		}
		for _, c := range stuck {
			o.timeoutCall(ctx, c.ID, "ring_timeout")
		}
	}

	if o.cfg.FirstMediaTimeout > 0 {
		cutoff := time.Now().Add(-o.cfg.FirstMediaTimeout)
		stuck, err := sw.ListStaleCalls(ctx, []models.CallStatus{models.CallAnswered}, cutoff, 100)
		if err != nil {
			return err
		}
		for _, c := range stuck {
			if o.onSLOViolation != nil {
				o.onSLOViolation(ctx, c.ID, "first_media_timeout", map[string]any{"slo_first_media_ms": o.cfg.SLOFirstMedia.Milliseconds()})
			}
			o.timeoutCall(ctx, c.ID, "first_media_timeout")
		}
	}
	return nil
}

func (o *Orchestrator) timeoutCall(ctx context.Context, callID, reason string) {
	err := o.store.AppendCallTransition(ctx, callID, models.CallFailed, map[string]any{"reason": reason}, &store.CallTransitionUpdate{
		FailureReason: strPtr(reason),
	})
	if err != nil && err != store.ErrOutOfOrderTransition {
		o.logger.Error("failed to apply timeout transition", "call_id", callID, "error", err)
	}
}
