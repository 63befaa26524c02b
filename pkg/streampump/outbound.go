package streampump

import (
	"context"
	"errors"
	"time"
)

// frameDuration is the fixed per-chunk duration carrier media streams
// use (20ms frames of 8kHz µ-law, Twilio/Vonage/Connect's shared
// convention) — used only to convert the configured audio_tick_ms into
// a frame count for §4.5's tick cadence.
const frameDuration = 20 * time.Millisecond

// outboundQueue tracks the cancel function of whatever TTS playback is
// currently in flight, so a barge-in can stop it.
type outboundQueue struct {
	cancel context.CancelFunc
}

// ErrBargedIn is returned by EmitTTS when playback was cut short by a
// barge-in.
var ErrBargedIn = errors.New("streampump: playback cancelled by barge-in")

// EmitTTS drains chunks (already base64-decoded µ-law audio) as a
// sequence of `media` frames followed by a `mark` frame (§4.5). It
// blocks until playback completes, is cancelled by a concurrent
// barge-in (HandleInboundAudio), or ctx is cancelled by the caller.
func (p *Pump) EmitTTS(ctx context.Context, chunks [][]byte, mark string) error {
	playCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.outbound.cancel != nil {
		p.outbound.cancel() // supersede any playback already in flight
	}
	p.outbound.cancel = cancel
	p.bargeTracker.arm()
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.outbound.cancel != nil {
			p.outbound.cancel()
			p.outbound.cancel = nil
		}
		p.bargeTracker.disarm()
		p.mu.Unlock()
	}()

	ticksEveryNFrames := 1
	if p.cfg.AudioTick > frameDuration {
		ticksEveryNFrames = int(p.cfg.AudioTick / frameDuration)
	}

	total := len(chunks)
	for i, chunk := range chunks {
		if err := playCtx.Err(); err != nil {
			return ErrBargedIn
		}
		if err := p.sender.SendMedia(playCtx, chunk); err != nil {
			return err
		}

		if p.cb.OnAudioTick != nil && (i+1)%ticksEveryNFrames == 0 {
			level := muLawRMS(chunk)
			progress := float64(i+1) / float64(total)
			p.cb.OnAudioTick(ctx, p.callID, level, progress, i+1, total)
		}
	}

	if err := playCtx.Err(); err != nil {
		return ErrBargedIn
	}
	if err := p.sender.SendMark(ctx, mark); err != nil {
		return err
	}
	return nil
}

// cancelOutbound stops any in-flight EmitTTS playback, flushing
// remaining chunks — the barge-in side of §4.5.
func (p *Pump) cancelOutbound(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outbound.cancel != nil {
		p.outbound.cancel()
		p.outbound.cancel = nil
	}
}

// HandleMarkAck is called when the carrier confirms it has finished
// playing the frames up to mark, completing the outbound handshake
// with `audiosent(mark)`.
func (p *Pump) HandleMarkAck(ctx context.Context, mark string) {
	if p.cb.OnAudioSent != nil {
		p.cb.OnAudioSent(ctx, p.callID, mark)
	}
}
