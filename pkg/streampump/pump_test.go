package streampump_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/streampump"
)

type fakeSender struct {
	mu       sync.Mutex
	media    [][]byte
	marks    []string
	afterEach func() // test hook invoked after each SendMedia, before returning
}

func (f *fakeSender) SendMedia(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	f.media = append(f.media, payload)
	hook := f.afterEach
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeSender) SendMark(ctx context.Context, mark string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, mark)
	return nil
}

type fakeTranscriptStore struct {
	mu   sync.Mutex
	rows []*models.Transcript
}

func (f *fakeTranscriptStore) AddTranscript(ctx context.Context, t *models.Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, t)
	return nil
}

func TestHandleInboundSTT_ReordersOutOfSequenceResults(t *testing.T) {
	ts := &fakeTranscriptStore{}
	p := streampump.New("call-1", &fakeSender{}, ts, streampump.Config{}, streampump.Callbacks{})

	ctx := context.Background()
	require.NoError(t, p.HandleInboundSTT(ctx, 1, models.SpeakerUser, "second", true, nil))
	require.NoError(t, p.HandleInboundSTT(ctx, 0, models.SpeakerUser, "first", true, nil))
	require.NoError(t, p.HandleInboundSTT(ctx, 2, models.SpeakerUser, "third", true, nil))

	require.Len(t, ts.rows, 3)
	assert.Equal(t, "first", ts.rows[0].Message)
	assert.Equal(t, "second", ts.rows[1].Message)
	assert.Equal(t, "third", ts.rows[2].Message)
}

func TestEmitTTS_SendsMediaThenMark(t *testing.T) {
	sender := &fakeSender{}
	ts := &fakeTranscriptStore{}
	var ticks int
	p := streampump.New("call-2", sender, ts, streampump.Config{AudioTick: 20 * time.Millisecond}, streampump.Callbacks{
		OnAudioTick: func(ctx context.Context, callID string, level, progress float64, frameIndex, frames int) {
			ticks++
		},
	})

	chunks := [][]byte{{0xFF, 0xFF}, {0x00, 0x00}, {0x80, 0x80}}
	require.NoError(t, p.EmitTTS(context.Background(), chunks, "turn-1"))

	assert.Len(t, sender.media, 3)
	assert.Equal(t, []string{"turn-1"}, sender.marks)
	assert.Equal(t, 3, ticks)
}

func TestHandleMarkAck_FiresOnAudioSent(t *testing.T) {
	sender := &fakeSender{}
	ts := &fakeTranscriptStore{}
	var gotMark string
	p := streampump.New("call-3", sender, ts, streampump.Config{}, streampump.Callbacks{
		OnAudioSent: func(ctx context.Context, callID, mark string) { gotMark = mark },
	})

	p.HandleMarkAck(context.Background(), "turn-1")
	assert.Equal(t, "turn-1", gotMark)
}

func TestHandleInboundAudio_BargeInCancelsOutboundAfterSustainedLevel(t *testing.T) {
	sender := &fakeSender{}
	ts := &fakeTranscriptStore{}
	bargedIn := make(chan struct{}, 1)
	p := streampump.New("call-4", sender, ts, streampump.Config{
		BargeInLevel: 0.1,
		BargeInHold:  0,
	}, streampump.Callbacks{
		OnBargeIn: func(ctx context.Context, callID string) { bargedIn <- struct{}{} },
	})

	loud := make([]byte, 160)
	firstFrameSent := make(chan struct{})
	var once sync.Once
	sender.afterEach = func() {
		once.Do(func() { close(firstFrameSent) })
	}

	done := make(chan error, 1)
	go func() {
		chunks := make([][]byte, 0, 50)
		for i := 0; i < 50; i++ {
			chunks = append(chunks, make([]byte, 160))
		}
		done <- p.EmitTTS(context.Background(), chunks, "turn-2")
	}()

	<-firstFrameSent // playback is now armed and mid-stream
	// Two sustained-level samples are required to trip: the first
	// establishes aboveSince, the second confirms the hold duration
	// (zero here) has elapsed since.
	p.HandleInboundAudio(context.Background(), streampump.MediaFrame{Index: 0, Payload: loud})
	p.HandleInboundAudio(context.Background(), streampump.MediaFrame{Index: 1, Payload: loud})

	select {
	case <-bargedIn:
	case <-time.After(time.Second):
		t.Fatal("expected barge-in to fire")
	}

	err := <-done
	assert.ErrorIs(t, err, streampump.ErrBargedIn)
}
