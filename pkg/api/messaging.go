package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// enqueueSMSHandler implements `POST /sms` (§4.9, §4.8).
func (s *Server) enqueueSMSHandler(c *gin.Context) {
	s.enqueueOne(c, models.ChannelSMS)
}

// enqueueEmailHandler implements `POST /emails` (§4.9, §4.8).
func (s *Server) enqueueEmailHandler(c *gin.Context) {
	s.enqueueOne(c, models.ChannelEmail)
}

func (s *Server) enqueueOne(c *gin.Context, channel models.MessageChannel) {
	var req models.EnqueueMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation", "invalid request body", err)
		return
	}
	req.Channel = channel
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	result, err := s.deliveryEngine.Enqueue(c.Request.Context(), &req)
	if err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": result})
}

// enqueueBulkSMSHandler implements `POST /sms/bulk` (§4.9, §4.8).
func (s *Server) enqueueBulkSMSHandler(c *gin.Context) {
	s.enqueueBulk(c, models.ChannelSMS)
}

// enqueueBulkEmailHandler implements `POST /emails/bulk` (§4.9, §4.8).
func (s *Server) enqueueBulkEmailHandler(c *gin.Context) {
	s.enqueueBulk(c, models.ChannelEmail)
}

func (s *Server) enqueueBulk(c *gin.Context, channel models.MessageChannel) {
	var req models.BulkEnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation", "invalid request body", err)
		return
	}
	req.Channel = channel
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	jobID, results, err := s.deliveryEngine.EnqueueBulk(c.Request.Context(), &req)
	if err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"bulk_job_id": jobID, "messages": results})
}
