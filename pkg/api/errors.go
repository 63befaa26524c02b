package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	callpkg "github.com/tarsy-voice/tarsy-voice/pkg/call"
	"github.com/tarsy-voice/tarsy-voice/pkg/delivery"
	"github.com/tarsy-voice/tarsy-voice/pkg/provideradapter"
	"github.com/tarsy-voice/tarsy-voice/pkg/store"
)

// errorResponse is the `{ok:false,error:{...}}` envelope (§4.9).
type errorResponse struct {
	OK    bool       `json:"ok"`
	Error errorBody  `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// respondError writes the error envelope directly, for auth/validation
// failures caught before a service-layer error exists to map.
func respondError(c *gin.Context, status int, code, message string, details error) {
	body := errorBody{Code: code, Message: message}
	if details != nil {
		body.Details = details.Error()
	}
	c.JSON(status, errorResponse{Error: body})
}

// respondOK wraps a payload in the `{ok:true,...}` envelope by merging
// the given fields with ok:true.
func respondOK(c *gin.Context, status int, fields gin.H) {
	if fields == nil {
		fields = gin.H{}
	}
	fields["ok"] = true
	c.JSON(status, fields)
}

// mapError maps a service-layer error to the Control Plane API's HTTP
// status/error-code scheme (§4.9): 404 not-found, 409
// idempotency-conflict/conflict, 502 provider-transient, 422
// unprocessable as the catch-all for everything else.
func mapError(c *gin.Context, err error) {
	var missingVars *delivery.ErrMissingVariables
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", "resource not found", nil)
	case errors.Is(err, store.ErrIdempotencyConflict):
		respondError(c, http.StatusConflict, "idempotency_conflict", "idempotency key reused with a different request", nil)
	case errors.Is(err, callpkg.ErrCallTerminal):
		respondError(c, http.StatusConflict, "conflict", "call has already ended", nil)
	case errors.Is(err, callpkg.ErrAdmissionRejected):
		c.Header("Retry-After", "5")
		respondError(c, http.StatusTooManyRequests, "admission_rejected", "at concurrent call limit", nil)
	case errors.Is(err, provideradapter.ErrRetryable):
		respondError(c, http.StatusBadGateway, "provider_transient", "provider request failed transiently", err)
	case errors.As(err, &missingVars):
		respondError(c, http.StatusUnprocessableEntity, "unprocessable", missingVars.Error(), nil)
	default:
		slog.Error("control plane request failed", "error", err)
		respondError(c, http.StatusUnprocessableEntity, "unprocessable", "request could not be processed", err)
	}
}
