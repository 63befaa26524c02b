package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

type originateRequest struct {
	PhoneNumber  string              `json:"phone_number" binding:"required"`
	Prompt       string              `json:"prompt,omitempty"`
	FirstMessage string              `json:"first_message,omitempty"`
	OwnerSubject string              `json:"owner_subject,omitempty"`
	Direction    models.CallDirection `json:"direction,omitempty"`
	MaxAttempts  int                 `json:"max_attempts,omitempty"`
}

// originateHandler implements `POST /calls` (§4.9): originate a new
// outbound call. The Idempotency-Key header is required, per the
// Call Orchestrator's originate(req) contract.
func (s *Server) originateHandler(c *gin.Context) {
	idemKey := c.GetHeader("Idempotency-Key")
	if idemKey == "" {
		respondError(c, http.StatusBadRequest, "validation", "Idempotency-Key header is required", nil)
		return
	}

	var req originateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation", "invalid request body", err)
		return
	}

	call, err := s.orchestrator.Originate(c.Request.Context(), models.OriginateRequest{
		IdempotencyKey: idemKey,
		PhoneNumber:    req.PhoneNumber,
		Prompt:         req.Prompt,
		FirstMessage:   req.FirstMessage,
		OwnerSubject:   req.OwnerSubject,
		Direction:      req.Direction,
		MaxAttempts:    req.MaxAttempts,
	})
	if err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"call": call})
}

// getCallHandler implements `GET /calls/{id}` (§4.9).
func (s *Server) getCallHandler(c *gin.Context) {
	call, err := s.orchestrator.GetCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"call": call})
}

// listCallsHandler implements `GET /calls?cursor,limit,status,q` (§4.9).
func (s *Server) listCallsHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = 50
	}
	filter := models.ListCallsCursor{
		Cursor: c.Query("cursor"),
		Limit:  limit,
		Status: models.CallStatus(c.Query("status")),
		Query:  c.Query("q"),
	}
	calls, nextCursor, err := s.orchestrator.ListCalls(c.Request.Context(), filter)
	if err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"calls": calls, "cursor": nextCursor})
}

// callEventsHandler implements `GET /calls/{id}/events?since=N` (§4.9)
// as a one-shot backlog fetch (as distinct from the streaming
// `GET /webapp/sse` gateway) over the same per-call topic.
func (s *Server) callEventsHandler(c *gin.Context) {
	callID := c.Param("id")
	since, _ := strconv.ParseInt(c.Query("since"), 10, 64)

	events, err := s.eventsHub.EventsSince(c.Request.Context(), store.CallEventsTopic(callID), since, 500)
	if err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"events": events})
}

type updateScriptRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// updateScriptHandler implements `POST /calls/{id}/script` (§4.9).
func (s *Server) updateScriptHandler(c *gin.Context) {
	var req updateScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation", "invalid request body", err)
		return
	}
	if err := s.orchestrator.UpdateScript(c.Request.Context(), c.Param("id"), req.Prompt); err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}

// endCallHandler implements `POST /calls/{id}/end` (§4.9).
func (s *Server) endCallHandler(c *gin.Context) {
	if err := s.orchestrator.End(c.Request.Context(), c.Param("id")); err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}

// retryStreamHandler implements `POST /calls/{id}/stream/retry` (§4.9).
func (s *Server) retryStreamHandler(c *gin.Context) {
	doc, err := s.orchestrator.RetryStream(c.Request.Context(), c.Param("id"), requestHost(c))
	if err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"document": doc})
}

type fallbackStreamRequest struct {
	Provider string `json:"provider" binding:"required"`
}

// fallbackStreamHandler implements `POST /calls/{id}/stream/fallback` (§4.9).
func (s *Server) fallbackStreamHandler(c *gin.Context) {
	var req fallbackStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation", "invalid request body", err)
		return
	}
	doc, err := s.orchestrator.FallbackStream(c.Request.Context(), c.Param("id"), req.Provider, requestHost(c))
	if err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"document": doc})
}

// answerInboundHandler implements `POST /inbound/{id}/answer` (§4.9).
func (s *Server) answerInboundHandler(c *gin.Context) {
	doc, err := s.orchestrator.AnswerInbound(c.Request.Context(), c.Param("id"), requestHost(c))
	if err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"document": doc})
}

// declineInboundHandler implements `POST /inbound/{id}/decline` (§4.9).
func (s *Server) declineInboundHandler(c *gin.Context) {
	if err := s.orchestrator.DeclineInbound(c.Request.Context(), c.Param("id")); err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}
