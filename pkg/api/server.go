// Package api implements the Control Plane HTTP surface (§4.9): call
// origination/control, inbound accept/decline, SMS/Email enqueue,
// carrier webhook ingress, and the webapp SSE feed.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-voice/tarsy-voice/pkg/call"
	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/database"
	"github.com/tarsy-voice/tarsy-voice/pkg/delivery"
	"github.com/tarsy-voice/tarsy-voice/pkg/digit"
	"github.com/tarsy-voice/tarsy-voice/pkg/events"
	"github.com/tarsy-voice/tarsy-voice/pkg/mediastream"
	"github.com/tarsy-voice/tarsy-voice/pkg/provideradapter"
	"github.com/tarsy-voice/tarsy-voice/pkg/sysmetrics"
	"github.com/tarsy-voice/tarsy-voice/pkg/version"
)

const maxBodyBytesLimit = 2 * 1024 * 1024 // 2 MB, above the largest expected script/prompt payload

// WorkerStatus reports whether one of the process's background
// workers is currently running, for the health endpoint's worker pool
// report (§4.9).
type WorkerStatus struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Server is the Control Plane HTTP server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	dbClient   *database.Client

	orchestrator   *call.Orchestrator
	digitEngine    *digit.Engine
	deliveryEngine *delivery.Engine
	reconciler     *delivery.Reconciler
	eventsHub      *events.Hub
	registry       *provideradapter.Registry
	mediaStream    *mediastream.Registry

	workerStatus           func() []WorkerStatus
	notificationQueueDepth func(ctx context.Context) (int64, error)
	systemMetrics          func() sysmetrics.Snapshot
}

// NewServer wires the Control Plane API over already-constructed
// domain services (the composition root owns their lifecycles).
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	orchestrator *call.Orchestrator,
	digitEngine *digit.Engine,
	deliveryEngine *delivery.Engine,
	reconciler *delivery.Reconciler,
	eventsHub *events.Hub,
	registry *provideradapter.Registry,
	mediaStream *mediastream.Registry,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:         router,
		cfg:            cfg,
		dbClient:       dbClient,
		orchestrator:   orchestrator,
		digitEngine:    digitEngine,
		deliveryEngine: deliveryEngine,
		reconciler:     reconciler,
		eventsHub:      eventsHub,
		registry:       registry,
		mediaStream:    mediaStream,
	}

	s.setupRoutes()
	return s
}

// SetWorkerStatus registers a callback the health endpoint polls to
// report background-worker liveness (§4.9's "worker pool health"). The
// composition root builds fn from the atomic flags it tracks around
// each worker goroutine it starts.
func (s *Server) SetWorkerStatus(fn func() []WorkerStatus) {
	s.workerStatus = fn
}

// SetNotificationQueueDepth registers a callback the health endpoint
// polls for the Notification Fan-out worker's backlog size (§4.9).
func (s *Server) SetNotificationQueueDepth(fn func(ctx context.Context) (int64, error)) {
	s.notificationQueueDepth = fn
}

// SetSystemMetrics registers the resource sampler the health endpoint
// reports CPU/memory usage from (§4.9).
func (s *Server) SetSystemMetrics(fn func() sysmetrics.Snapshot) {
	s.systemMetrics = fn
}

// setupRoutes registers every Control Plane route. Static paths are
// registered ahead of param routes within each group per gin's own
// routing requirements.
func (s *Server) setupRoutes() {
	s.router.Use(securityHeaders())
	s.router.Use(maxBodyBytes(maxBodyBytesLimit))

	s.router.GET("/health", s.healthHandler)

	hmac := hmacAuth(s.cfg.ControlPlane)

	calls := s.router.Group("/calls", hmac)
	calls.POST("", s.originateHandler)
	calls.GET("", s.listCallsHandler)
	calls.GET("/:id", s.getCallHandler)
	calls.GET("/:id/events", s.callEventsHandler)
	calls.POST("/:id/script", s.updateScriptHandler)
	calls.POST("/:id/end", s.endCallHandler)
	calls.POST("/:id/stream/retry", s.retryStreamHandler)
	calls.POST("/:id/stream/fallback", s.fallbackStreamHandler)

	inbound := s.router.Group("/inbound", hmac)
	inbound.POST("/:id/answer", s.answerInboundHandler)
	inbound.POST("/:id/decline", s.declineInboundHandler)

	messaging := s.router.Group("/", hmac)
	messaging.POST("/sms", s.enqueueSMSHandler)
	messaging.POST("/sms/bulk", s.enqueueBulkSMSHandler)
	messaging.POST("/emails", s.enqueueEmailHandler)
	messaging.POST("/emails/bulk", s.enqueueBulkEmailHandler)

	s.router.GET("/webapp/sse", sseTokenAuth(s.cfg.ControlPlane), s.webappSSEHandler)

	webhooks := s.router.Group("/webhooks")
	webhooks.POST("/:provider/:callID/:kind", s.carrierWebhookHandler)
	webhooks.POST("/delivery/:channel", s.deliveryWebhookHandler)

	s.router.GET("/stream/:callID", s.mediaStreamHandler)
}

// mediaStreamHandler upgrades a carrier's media-stream connection
// (§4.5/§4.9's `wss://.../stream/{callID}`, the host every adapter's
// BuildAnswerDocument points back at via requestHost) and hands it to
// the media-stream session registry.
func (s *Server) mediaStreamHandler(c *gin.Context) {
	s.mediaStream.ServeWS(c.Writer, c.Request, c.Param("callID"))
}

// healthHandler reports database reachability, build version, and the
// worker pool status SPEC_FULL.md's §4.9 commits this endpoint to:
// per-adapter health, delivery/notification queue depth, and
// active/total background workers.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbErr := s.dbClient.Healthy(ctx)

	adapters := make([]gin.H, 0, len(s.registry.ProviderNames()))
	for _, name := range s.registry.ProviderNames() {
		snap := s.registry.Health().Snapshot(name)
		adapters = append(adapters, gin.H{
			"provider":        name,
			"degraded":        snap.Degraded,
			"error_count":     snap.ErrorCount,
			"last_error_at":   optionalTimeJSON(snap.LastErrorAt),
			"last_success_at": optionalTimeJSON(snap.LastSuccessAt),
		})
	}

	queue := gin.H{}
	if queued, retrying, err := s.deliveryEngine.QueueDepth(ctx); err != nil {
		queue["delivery_error"] = err.Error()
	} else {
		queue["delivery_queued"] = queued
		queue["delivery_retrying"] = retrying
	}
	if s.notificationQueueDepth != nil {
		if n, err := s.notificationQueueDepth(ctx); err != nil {
			queue["notifications_error"] = err.Error()
		} else {
			queue["notifications_pending"] = n
		}
	}

	var workers []WorkerStatus
	if s.workerStatus != nil {
		workers = s.workerStatus()
	}
	activeWorkers := 0
	for _, w := range workers {
		if w.Active {
			activeWorkers++
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	body := gin.H{
		"version":  version.Full(),
		"adapters": adapters,
		"queue":    queue,
		"workers": gin.H{
			"active": activeWorkers,
			"total":  len(workers),
			"detail": workers,
		},
	}
	if s.systemMetrics != nil {
		body["system"] = s.systemMetrics()
	}
	if dbErr != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
		body["error"] = dbErr.Error()
	}
	body["ok"] = dbErr == nil
	body["status"] = status
	c.JSON(httpStatus, body)
}

func optionalTimeJSON(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// requestHost resolves the host the media-stream WebSocket endpoint
// will be reachable on, for adapters' BuildAnswerDocument calls.
// Trusts X-Forwarded-Host ahead of the raw request Host so the value
// is correct behind a reverse proxy/load balancer, matching the
// composition root's trusted-proxy assumption.
func requestHost(c *gin.Context) string {
	if h := c.GetHeader("X-Forwarded-Host"); h != "" {
		return h
	}
	return c.Request.Host
}

// ServeHTTP makes Server usable directly with net/http (and
// httptest), delegating to the underlying gin router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins serving on addr. Blocks until the server stops or
// errors; call Shutdown from another goroutine to stop it.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE/long-poll handlers stream indefinitely
		IdleTimeout:  60 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
