package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeSSE_ReplaysBacklogThenStreamsLive(t *testing.T) {
	st := newFakeEventStore()
	hub := NewHub(st)
	st.add("call.call-1", "call.ringing", map[string]any{"status": "ringing"})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/webapp/sse?topic=call.call-1&since=0", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		hub.ServeSSE(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), "call.ringing")
	}, time.Second, time.Millisecond, "expected replayed event in SSE body")

	evt := st.add("call.call-1", "call.answered", map[string]any{"status": "answered"})
	hub.dispatch(context.Background(), "call.call-1", evt.Sequence)

	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), "call.answered")
	}, time.Second, time.Millisecond, "expected live event in SSE body")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ServeSSE did not return after context cancellation")
	}

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestServeSSE_MissingTopicIsBadRequest(t *testing.T) {
	hub := NewHub(newFakeEventStore())
	req := httptest.NewRequest(http.MethodGet, "/webapp/sse", nil)
	rec := httptest.NewRecorder()

	hub.ServeSSE(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
