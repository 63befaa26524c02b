package streampump

import (
	"context"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// sttPartial is one speech-to-text result carrying the producer-
// assigned sequence index of §4.5's sequence window.
type sttPartial struct {
	index      int64
	speaker    models.Speaker
	text       string
	final      bool
	confidence *float64
	ts         time.Time
}

// inboundWindow buffers out-of-order STT results until the expected
// index arrives, then emits them (and any now-contiguous buffered
// results) in order — §4.5: "frames arriving in order are emitted
// immediately, out-of-order frames are buffered until the expected
// index is reached."
type inboundWindow struct {
	expected int64
	buffered map[int64]sttPartial
}

func newInboundWindow() inboundWindow {
	return inboundWindow{buffered: make(map[int64]sttPartial)}
}

// admit records p and returns, in order, every partial now ready to
// emit (p itself if it matches the expected index, plus any
// previously buffered partials it unblocks).
func (w *inboundWindow) admit(p sttPartial) []sttPartial {
	if p.index < w.expected {
		return nil // stale retransmit, already emitted
	}
	w.buffered[p.index] = p

	var ready []sttPartial
	for {
		next, ok := w.buffered[w.expected]
		if !ok {
			break
		}
		delete(w.buffered, w.expected)
		ready = append(ready, next)
		w.expected++
	}
	return ready
}

// HandleInboundSTT feeds one sequence-indexed STT result into the
// pump's inbound window, persisting every partial that becomes ready
// to emit as a transcript line.
func (p *Pump) HandleInboundSTT(ctx context.Context, index int64, speaker models.Speaker, text string, final bool, confidence *float64) error {
	p.mu.Lock()
	ready := p.inbound.admit(sttPartial{
		index: index, speaker: speaker, text: text, final: final,
		confidence: confidence, ts: time.Now().UTC(),
	})
	p.interactionN++
	interaction := p.interactionN
	p.mu.Unlock()

	for _, r := range ready {
		t := &models.Transcript{
			CallID:           p.callID,
			Speaker:          r.speaker,
			Message:          r.text,
			InteractionCount: interaction,
			Confidence:       r.confidence,
			Final:            r.final,
			Ts:               r.ts,
		}
		if err := p.store.AddTranscript(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// HandleInboundAudio feeds one raw inbound media frame in for barge-in
// RMS level tracking (§4.5). It does not itself buffer for sequencing
// — only STT results need sequence-window reordering, since audio
// frames are consumed purely for level computation, not persisted.
func (p *Pump) HandleInboundAudio(ctx context.Context, frame MediaFrame) {
	level := muLawRMS(frame.Payload)

	p.mu.Lock()
	tripped := p.bargeTracker.observe(level, time.Now())
	p.mu.Unlock()

	if tripped {
		p.cancelOutbound(ctx)
		if p.cb.OnBargeIn != nil {
			p.cb.OnBargeIn(ctx, p.callID)
		}
	}
}
