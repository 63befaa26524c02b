// Package streampump implements the Realtime Stream Pump (§4.5): a
// single-threaded-per-call cooperative task merging inbound media/STT
// frames in sequence order and draining an outbound TTS queue with
// barge-in and waveform-tick support.
package streampump

import (
	"context"
	"sync"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// MediaFrame is one inbound or outbound audio frame. Payload is raw
// µ-law samples (already base64-decoded at the transport edge).
type MediaFrame struct {
	Index   int64
	Payload []byte
}

// FrameSender is the outbound transport the pump writes frames to —
// implemented by pkg/mediastream's wsFrameSender over the call's
// media-stream WebSocket, which writes Twilio-shaped `media`+`mark`
// JSON frames.
type FrameSender interface {
	SendMedia(ctx context.Context, payload []byte) error
	SendMark(ctx context.Context, mark string) error
}

// transcriptStore is the subset of *store.Store the pump depends on to
// persist merged transcript lines.
type transcriptStore interface {
	AddTranscript(ctx context.Context, t *models.Transcript) error
}

// Config carries the timing parameters of §4.5.
type Config struct {
	AudioTick          time.Duration
	BargeInLevel       float64
	BargeInHold        time.Duration
}

// Callbacks notifies the caller of pump-driven events without the pump
// importing pkg/call or pkg/events directly.
type Callbacks struct {
	OnAudioSent func(ctx context.Context, callID, mark string)
	OnAudioTick func(ctx context.Context, callID string, level, progress float64, frameIndex, frames int)
	OnBargeIn   func(ctx context.Context, callID string)
}

// Pump owns one call's inbound sequence window and outbound TTS queue.
// Not safe for concurrent use from multiple goroutines beyond the
// synchronized entry points below — "single-threaded-per-call" is
// enforced by a mutex rather than true single-goroutine ownership,
// since inbound frames and outbound mark-acks can arrive on different
// transport read loops.
type Pump struct {
	callID string
	cfg    Config
	sender FrameSender
	store  transcriptStore
	cb     Callbacks

	mu sync.Mutex

	inbound       inboundWindow
	outbound      outboundQueue
	interactionN  int
	bargeTracker  bargeInTracker
}

// New constructs a Pump for one call.
func New(callID string, sender FrameSender, store transcriptStore, cfg Config, cb Callbacks) *Pump {
	return &Pump{
		callID:  callID,
		cfg:     cfg,
		sender:  sender,
		store:   store,
		cb:      cb,
		inbound: newInboundWindow(),
		bargeTracker: bargeInTracker{
			threshold: cfg.BargeInLevel,
			hold:      cfg.BargeInHold,
		},
	}
}
