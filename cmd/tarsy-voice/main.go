// tarsy-voice is a realtime voice-call orchestrator: it originates and
// answers carrier calls, streams audio through STT/TTS, captures
// digits/OTPs, and delivers SMS/email notifications, all under a
// single Control Plane HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"

	"github.com/tarsy-voice/tarsy-voice/pkg/api"
	"github.com/tarsy-voice/tarsy-voice/pkg/call"
	"github.com/tarsy-voice/tarsy-voice/pkg/cleanup"
	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/database"
	"github.com/tarsy-voice/tarsy-voice/pkg/delivery"
	"github.com/tarsy-voice/tarsy-voice/pkg/digit"
	"github.com/tarsy-voice/tarsy-voice/pkg/events"
	"github.com/tarsy-voice/tarsy-voice/pkg/llmclient"
	"github.com/tarsy-voice/tarsy-voice/pkg/mediastream"
	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/notify"
	"github.com/tarsy-voice/tarsy-voice/pkg/provideradapter"
	"github.com/tarsy-voice/tarsy-voice/pkg/recording"
	"github.com/tarsy-voice/tarsy-voice/pkg/slack"
	"github.com/tarsy-voice/tarsy-voice/pkg/store"
	"github.com/tarsy-voice/tarsy-voice/pkg/streampump"
	"github.com/tarsy-voice/tarsy-voice/pkg/sysmetrics"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// Retry/admission knobs the Call Orchestrator needs but that
// config.Config doesn't (yet) expose a YAML/env surface for.
const (
	maxOriginateAttempts = 3
	retryBaseMs          = 1000
	retryMaxMs           = 30000

	healthWindow        = 2 * time.Minute
	healthErrorThreshold = 5
	healthCooldown      = 30 * time.Second
	healthFlushInterval = time.Minute
)

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	httpAddr := flag.String("http-addr", getEnv("HTTP_ADDR", ":8080"), "HTTP listen address")
	metricsAddr := flag.String("metrics-addr", getEnv("METRICS_ADDR", ":9090"), "Prometheus metrics listen address")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir, *httpAddr, *metricsAddr); err != nil {
		slog.Error("tarsy-voice exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir, httpAddr, metricsAddr string) error {
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return err
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return err
	}
	defer dbClient.Close()
	slog.Info("connected to database, migrations applied")

	st := store.New(dbClient)

	adapters := make(map[string]provideradapter.Adapter, len(cfg.ProviderRegistry.All()))
	for _, p := range cfg.ProviderRegistry.All() {
		adapter, err := provideradapter.New(*p)
		if err != nil {
			return err
		}
		adapters[p.Name] = adapter
	}

	health := provideradapter.NewHealthTracker(healthWindow, healthErrorThreshold, healthCooldown, healthFlushInterval, st)
	health.Start(ctx, cfg.ProviderRegistry.Preference())
	defer health.Stop()

	registry := provideradapter.NewRegistry(adapters, cfg.ProviderRegistry.Preference(), cfg.ProviderRegistry.FailoverEnabled(), health)

	slackSvc := slack.NewService(slack.ServiceConfig{
		Token:        os.Getenv("SLACK_BOT_TOKEN"),
		Channel:      os.Getenv("SLACK_CHANNEL_ID"),
		DashboardURL: os.Getenv("DASHBOARD_URL"),
	})

	var notifyChannels map[string]notify.Deliverer
	var subscribers []models.Subscriber
	if slackSvc != nil {
		notifyChannels = map[string]notify.Deliverer{"slack": slackSvc}
		subscribers = append(subscribers, models.Subscriber{
			SubscriberID: "ops-slack", DeliveryChannel: "slack", PriorityFilter: models.PriorityLow,
		})
	}
	if webhookURL := os.Getenv("NOTIFY_WEBHOOK_URL"); webhookURL != "" {
		if notifyChannels == nil {
			notifyChannels = map[string]notify.Deliverer{}
		}
		notifyChannels["webhook"] = notify.NewWebhookDeliverer(webhookURL, &http.Client{Timeout: 10 * time.Second})
		subscribers = append(subscribers, models.Subscriber{
			SubscriberID: "ops-webhook", DeliveryChannel: "webhook", PriorityFilter: models.PriorityLow,
		})
	}
	notifyRouter := notify.NewRouter(notifyChannels, nil)
	notifyWorker := notify.New(st, notifyRouter, notify.Config{
		Batch: 25, PollInterval: 5 * time.Second, DeliverTimeout: 10 * time.Second,
	})
	var notifyWorkerRunning atomic.Bool
	go func() {
		notifyWorkerRunning.Store(true)
		defer notifyWorkerRunning.Store(false)
		notifyWorker.Run(ctx)
	}()

	eventsHub := events.NewHub(st)
	listener := events.NewListener(dbConfig.DSN, eventsHub)
	if err := listener.Start(ctx); err != nil {
		return err
	}
	defer listener.Stop(ctx)

	if cfg.EventBus.NATSURL != "" {
		nc, err := nats.Connect(cfg.EventBus.NATSURL)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer nc.Close()
		bridge, err := events.NewNATSBridge(nc, eventsHub)
		if err != nil {
			return fmt.Errorf("start nats event bridge: %w", err)
		}
		defer bridge.Close()
		slog.Info("event bus: cross-pod NATS bridge active", "url", cfg.EventBus.NATSURL)
	}

	// Fan out a Notification for every terminal call, sourced from the
	// Event Bus's own "calls" topic rather than a dedicated orchestrator
	// callback, since call.ended already carries everything §4.6 needs.
	callsCh, cancelCallsSub := eventsHub.Subscribe("calls")
	defer cancelCallsSub()
	go func() {
		for ev := range callsCh {
			if ev.Type != "call.ended" {
				continue
			}
			kind := models.KindCallCompleted
			if status, _ := ev.Data["status"].(string); status == string(models.CallFailed) {
				kind = models.KindCallFailed
			}
			if err := notify.Fanout(ctx, st, subscribers, ev.CallID, kind, models.PriorityNormal, ev.Data); err != nil {
				slog.Error("failed to fan out call-ended notification", "call_id", ev.CallID, "error", err)
			}
		}
	}()

	orchestrator := call.New(st, registry, call.Config{
		MaxOriginateAttempts: maxOriginateAttempts,
		RetryBaseMs:          retryBaseMs,
		RetryMaxMs:           retryMaxMs,
		FirstMediaTimeout:    time.Duration(cfg.FirstMediaTimeoutMs) * time.Millisecond,
		RingTimeout:          time.Duration(cfg.RingTimeoutMs) * time.Millisecond,
		MachinePolicy:        cfg.Compliance.MachinePolicy,
		MaxConcurrentCalls:   cfg.Queue.MaxConcurrentCalls,
		SLOFirstMedia:        time.Duration(cfg.SLOFirstMediaMs) * time.Millisecond,
		SLOAnswerDelay:       time.Duration(cfg.SLOAnswerDelayMs) * time.Millisecond,
		SLOSTTFailures:       cfg.SLOSTTFailures,
	})
	orchestrator.OnSLOViolation(func(ctx context.Context, callID, kind string, detail map[string]any) {
		data := make(map[string]any, len(detail)+1)
		for k, v := range detail {
			data[k] = v
		}
		data["kind"] = kind
		if err := st.PublishCallEvent(ctx, callID, "call.slo_violation", data); err != nil {
			slog.Error("failed to publish slo_violation event", "call_id", callID, "error", err)
		}
		if err := notify.Fanout(ctx, st, subscribers, callID, models.KindCallSLOViolation, models.PriorityHigh, data); err != nil {
			slog.Error("failed to fan out slo_violation notification", "call_id", callID, "error", err)
		}
	})

	recordingUploader, err := recording.NewUploader(ctx, cfg.Delivery)
	if err != nil {
		return err
	}
	if recordingUploader != nil {
		orchestrator.OnRecordingReady(func(ctx context.Context, callID, recordingURL string) {
			if err := recordingUploader.Upload(ctx, callID, recordingURL); err != nil {
				slog.Error("failed to upload call recording", "call_id", callID, "error", err)
			}
		})
	}

	var timeoutSweepRunning atomic.Bool
	go func() {
		timeoutSweepRunning.Store(true)
		defer timeoutSweepRunning.Store(false)
		orchestrator.RunTimeoutSweep(ctx, st, cfg.Queue.PollInterval)
	}()

	cipher, err := digit.NewCipher(cfg.Compliance)
	if err != nil {
		return err
	}
	digitEngine := digit.New(cfg.DigitProfileRegistry, cipher, st, digit.Callbacks{
		OnReprompt: func(ctx context.Context, callID, promptText string) {
			_ = st.PublishCallEvent(ctx, callID, "call.digit_reprompt", map[string]any{"prompt": promptText})
		},
		OnFallback: func(ctx context.Context, callID, fallbackText string) {
			_ = st.PublishCallEvent(ctx, callID, "call.digit_fallback", map[string]any{"message": fallbackText})
		},
		OnStepAdvance: func(ctx context.Context, callID string, step models.CollectionPlanStep) {
			_ = st.PublishCallEvent(ctx, callID, "call.digit_step", map[string]any{"profile": step.Profile})
		},
		OnPlanComplete: func(ctx context.Context, callID, completionMessage string, endCall bool) {
			_ = st.PublishCallEvent(ctx, callID, "call.digit_complete", map[string]any{
				"message": completionMessage, "end_call": endCall,
			})
		},
	})

	speechClient := llmclient.NewDeepgramSpeechClient(cfg.LLMClient)
	ttsClient := llmclient.NewDeepgramTTSClient(cfg.LLMClient)

	streamCfg := streampump.Config{
		AudioTick:    time.Duration(cfg.AudioTickMs) * time.Millisecond,
		BargeInLevel: cfg.BargeInLevelThreshold,
		BargeInHold:  time.Duration(cfg.BargeInHoldMs) * time.Millisecond,
	}
	streamCallbacks := streampump.Callbacks{
		OnBargeIn: func(ctx context.Context, callID string) {
			_ = st.PublishCallEvent(ctx, callID, "call.barge_in", nil)
		},
	}
	mediaStream := mediastream.NewRegistry(st, st, speechClient, ttsClient, streamCfg, streamCallbacks)

	deliveryEngine := delivery.NewEngine(st, delivery.NewMemoryTemplateStore())
	reconciler := delivery.NewReconciler(st)

	var rateLimiter delivery.RateLimiter
	if cfg.Delivery.RedisAddr != "" {
		rl, err := delivery.NewRedisRateLimiter(cfg.Delivery.RedisAddr)
		if err != nil {
			return err
		}
		rateLimiter = rl
	} else {
		rateLimiter = delivery.NewMemoryRateLimiter()
	}

	var smsSender delivery.SMSSender
	if sid := os.Getenv("TWILIO_ACCOUNT_SID"); sid != "" {
		smsSender = delivery.NewTwilioSMSSender(sid, os.Getenv("TWILIO_AUTH_TOKEN"))
	}
	emailSender := delivery.NewSMTPEmailSender(cfg.Delivery)

	deliveryWorker := delivery.NewWorker(st, cfg.Delivery, rateLimiter, smsSender, emailSender)
	var deliveryWorkerRunning atomic.Bool
	go func() {
		deliveryWorkerRunning.Store(true)
		defer deliveryWorkerRunning.Store(false)
		deliveryWorker.Run(ctx)
	}()

	cleanupSvc := cleanup.NewService(cfg.Retention, st)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	server := api.NewServer(cfg, dbClient, orchestrator, digitEngine, deliveryEngine, reconciler, eventsHub, registry, mediaStream)
	server.SetWorkerStatus(func() []api.WorkerStatus {
		return []api.WorkerStatus{
			{Name: "delivery_worker", Active: deliveryWorkerRunning.Load()},
			{Name: "notify_worker", Active: notifyWorkerRunning.Load()},
			{Name: "timeout_sweep", Active: timeoutSweepRunning.Load()},
			{Name: "cleanup_service", Active: cleanupSvc.Running()},
		}
	})
	server.SetNotificationQueueDepth(st.CountPendingNotifications)

	resourceSampler := sysmetrics.NewSampler(15 * time.Second)
	resourceSampler.Start(ctx)
	defer resourceSampler.Stop()
	server.SetSystemMetrics(resourceSampler.Snapshot)

	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("control plane listening", "addr", httpAddr)
		serveErr <- server.Start(httpAddr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("control plane shutdown error", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown error", "error", err)
	}
	return nil
}

