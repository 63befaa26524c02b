package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

func TestServeWS_SubscribeReplaysThenStreamsLive(t *testing.T) {
	st := newFakeEventStore()
	hub := NewHub(st)
	st.add("inbound", "call.new", map[string]any{"call_id": "call-9"})

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientMessage{Action: "subscribe", Topic: "inbound"}))

	var replayed store.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&replayed))
	require.Equal(t, "call.new", replayed.Type)

	evt := st.add("inbound", "call.originated", map[string]any{"call_id": "call-9"})
	hub.dispatch(t.Context(), "inbound", evt.Sequence)

	var live store.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&live))
	require.Equal(t, "call.originated", live.Type)
}
