// Package mediastream implements the raw-audio WebSocket transport
// (§4.5/§4.9's `wss://.../stream/{callID}`) that carries a carrier's
// bidirectional media frames, pairing each connection with a
// streampump.Pump and the Speech/TTS clients that drive it.
package mediastream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tarsy-voice/tarsy-voice/pkg/llmclient"
	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/streampump"
)

// errNoActiveSession is returned by Speak when no media stream is
// currently connected for the given call.
var errNoActiveSession = errors.New("mediastream: no active session for call")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// carrierFrame is the wire envelope Twilio/Vonage/Connect media
// streams all converge on (§4.5): a small set of named events, each
// optionally carrying a base64 µ-law media payload.
type carrierFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`
	Media     *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

// sessionStore is the subset of *store.Store a session needs to
// resolve which pump configuration and call state to run with.
type sessionStore interface {
	GetCall(ctx context.Context, callID string, includeDeleted bool) (*models.Call, error)
}

// Registry owns one streampump.Pump per active call and the Speech/TTS
// clients every session uses to drive it, handing out sessions to
// Handler.ServeWS as carrier connections arrive.
type Registry struct {
	store  sessionStore
	speech llmclient.SpeechClient
	tts    llmclient.TTSClient
	cfg    streampump.Config
	cb     streampump.Callbacks

	trStore transcriptStore

	mu    sync.Mutex
	pumps map[string]*streampump.Pump
}

// transcriptStore mirrors streampump's own unexported interface so
// Registry can be constructed directly against *store.Store without
// this package importing store for anything but that purpose.
type transcriptStore interface {
	AddTranscript(ctx context.Context, t *models.Transcript) error
}

// NewRegistry constructs a session registry. st resolves calls and
// transcripts persists STT lines; the composition root passes
// *store.Store for both.
func NewRegistry(st sessionStore, transcripts transcriptStore, speech llmclient.SpeechClient, tts llmclient.TTSClient, cfg streampump.Config, cb streampump.Callbacks) *Registry {
	return &Registry{
		store:  st,
		speech: speech,
		tts:    tts,
		cfg:    cfg,
		cb:     cb,
		pumps:  make(map[string]*streampump.Pump),
		trStore: transcripts,
	}
}

// pumpFor returns the call's pump, creating it on first connection.
func (reg *Registry) pumpFor(callID string, sender streampump.FrameSender) *streampump.Pump {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if p, ok := reg.pumps[callID]; ok {
		return p
	}
	p := streampump.New(callID, sender, reg.trStore, reg.cfg, reg.cb)
	reg.pumps[callID] = p
	return p
}

// Release drops a call's pump once its media stream has ended, so a
// later reconnect (stream/retry, stream/fallback) starts fresh.
func (reg *Registry) Release(callID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.pumps, callID)
}

// ServeWS upgrades the request and runs one call's media-stream
// session until the carrier closes the connection or ctx is done.
// callID is taken from the route (the composition root mounts this at
// `/stream/:callID`, the path every adapter's BuildAnswerDocument
// points the carrier's media stream at).
func (reg *Registry) ServeWS(w http.ResponseWriter, r *http.Request, callID string) {
	if _, err := reg.store.GetCall(r.Context(), callID, false); err != nil {
		http.Error(w, "unknown call", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("media stream ws upgrade failed", "call_id", callID, "error", err)
		return
	}
	defer conn.Close()
	defer reg.Release(callID)

	sender := &wsFrameSender{conn: conn}
	pump := reg.pumpFor(callID, sender)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var sttBuf []byte
	var frameIndex int64

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame carrierFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			slog.Debug("media stream: malformed frame, dropping", "call_id", callID, "error", err)
			continue
		}

		switch frame.Event {
		case "media":
			if frame.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
			if err != nil {
				continue
			}
			frameIndex++
			pump.HandleInboundAudio(ctx, streampump.MediaFrame{Index: frameIndex, Payload: payload})
			sttBuf = append(sttBuf, payload...)

			// Flush to STT every ~1s of audio (50 frames at 20ms each),
			// the same cadence §4.5 assumes for the audio-tick callback.
			if len(sttBuf) >= sttFlushBytes {
				reg.flushSTT(ctx, pump, callID, frameIndex, sttBuf)
				sttBuf = nil
			}

		case "mark":
			if frame.Mark != nil {
				pump.HandleMarkAck(ctx, frame.Mark.Name)
			}

		case "stop":
			if len(sttBuf) > 0 {
				reg.flushSTT(ctx, pump, callID, frameIndex, sttBuf)
			}
			return
		}
	}
}

// sttFlushBytes is roughly one second of 8kHz µ-law audio (one byte
// per sample).
const sttFlushBytes = 8000

func (reg *Registry) flushSTT(ctx context.Context, pump *streampump.Pump, callID string, index int64, audio []byte) {
	if reg.speech == nil {
		return
	}
	transcript, err := reg.speech.Transcribe(ctx, audio)
	if err != nil {
		slog.Warn("media stream: transcription failed", "call_id", callID, "error", err)
		return
	}
	if transcript.Text == "" {
		return
	}
	if err := pump.HandleInboundSTT(ctx, index, models.SpeakerUser, transcript.Text, transcript.Final, &transcript.Confidence); err != nil {
		slog.Warn("media stream: persisting transcript failed", "call_id", callID, "error", err)
	}
}

// Speak synthesizes text via the registry's TTS client and plays it
// out over callID's pump, chunked into the fixed-size frames EmitTTS
// expects. Returns errNoActiveSession when no media stream is
// connected for callID. No caller in the composition root invokes it.
func (reg *Registry) Speak(ctx context.Context, callID, mark, text string) error {
	reg.mu.Lock()
	pump, ok := reg.pumps[callID]
	reg.mu.Unlock()
	if !ok {
		return errNoActiveSession
	}

	audio, err := reg.tts.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	return pump.EmitTTS(ctx, chunkMuLaw(audio, ttsFrameBytes), mark)
}

// ttsFrameBytes is 20ms of 8kHz µ-law audio, the frame size every
// carrier media stream expects (§4.5).
const ttsFrameBytes = 160

func chunkMuLaw(audio []byte, size int) [][]byte {
	var chunks [][]byte
	for len(audio) > 0 {
		n := size
		if n > len(audio) {
			n = len(audio)
		}
		chunks = append(chunks, audio[:n])
		audio = audio[n:]
	}
	return chunks
}

// wsFrameSender implements streampump.FrameSender over a carrier media
// stream WebSocket connection, writing the Twilio-shaped media/mark
// envelope every adapter's stream protocol converges on.
type wsFrameSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsFrameSender) SendMedia(ctx context.Context, payload []byte) error {
	frame := carrierFrame{
		Event: "media",
		Media: &struct {
			Payload string `json:"payload"`
		}{Payload: base64.StdEncoding.EncodeToString(payload)},
	}
	return s.write(frame)
}

func (s *wsFrameSender) SendMark(ctx context.Context, mark string) error {
	frame := carrierFrame{
		Event: "mark",
		Mark: &struct {
			Name string `json:"name"`
		}{Name: mark},
	}
	return s.write(frame)
}

func (s *wsFrameSender) write(frame carrierFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(frame)
}
