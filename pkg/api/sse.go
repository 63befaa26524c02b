package api

import (
	"github.com/gin-gonic/gin"
)

// webappSSEHandler proxies `GET /webapp/sse?token&topic&since=N` to the
// Event Bus gateway. topic addresses either a per-call topic
// (store.CallEventsTopic(id), i.e. "call:<id>") or one of the two
// global topics ("calls" for new-call notifications, "messages" for
// SMS/Email lifecycle) — the same topic names every other part of the
// system already publishes onto (§4.7).
func (s *Server) webappSSEHandler(c *gin.Context) {
	s.eventsHub.ServeSSE(c.Writer, c.Request)
}
