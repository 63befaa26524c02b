package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/provideradapter"
)

// carrierWebhookHandler implements the carrier webhook ingress surface
// (§6) at `POST /webhooks/{provider}/{callID}/{kind}`, kind being one
// of the callback paths each adapter embeds in its Originate/
// BuildAnswerDocument calls (answer, status, gather/dtmf). It
// validates the provider's own signature scheme, normalizes the body
// into the provider-neutral CarrierEvent envelope, and either routes
// it to the Digit Capture Engine (digit events) or reconciles it
// against the call's state machine (everything else).
func (s *Server) carrierWebhookHandler(c *gin.Context) {
	provider := c.Param("provider")
	callID := c.Param("callID")

	adapter, err := s.registry.Get(provider)
	if err != nil {
		respondError(c, http.StatusNotFound, "not_found", "unknown provider", err)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusBadRequest, "validation", "failed to read webhook body", nil)
		return
	}

	validation, err := adapter.ValidateWebhook(c.Request, body)
	if validation == provideradapter.ValidationFail {
		respondError(c, http.StatusUnauthorized, "auth", "webhook signature validation failed", err)
		return
	}

	ev, err := adapter.ParseWebhook(c.Request, body, callID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "validation", "failed to parse webhook body", err)
		return
	}

	if ev.EventType == models.CarrierEventDigits {
		digits, _ := ev.Payload["digits"].(string)
		source := models.DigitSourceDTMF
		if c.Param("kind") == "gather" {
			source = models.DigitSourceGather
		}
		if err := s.digitEngine.Submit(c.Request.Context(), callID, source, digits); err != nil {
			mapError(c, err)
			return
		}
		respondOK(c, http.StatusOK, nil)
		return
	}

	if err := s.orchestrator.HandleCarrierEvent(c.Request.Context(), ev); err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}

// deliveryWebhookHandler accepts a normalized vendor delivery callback
// (SMS/email provider bounce, complaint, delivered, failed) at
// `POST /webhooks/delivery/{channel}` and applies it via the
// Reconciler (§4.8's "Provider event reconciliation"). channel is
// informational only; the event body carries its own message id.
func (s *Server) deliveryWebhookHandler(c *gin.Context) {
	var ev models.ProviderEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		respondError(c, http.StatusBadRequest, "validation", "failed to parse provider event", err)
		return
	}

	if err := s.reconciler.Apply(c.Request.Context(), ev); err != nil {
		mapError(c, err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}
