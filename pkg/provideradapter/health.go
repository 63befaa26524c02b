package provideradapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// healthStore is the persistence seam HealthTracker periodically writes
// through, satisfied by *store.Store without provideradapter importing
// store directly (store already imports models, and provideradapter
// must not import store to avoid a cycle with the call orchestrator
// wiring both together at the composition root).
type healthStore interface {
	UpsertProviderHealth(ctx context.Context, h *models.ProviderHealth) error
	GetProviderHealth(ctx context.Context, provider string) (*models.ProviderHealth, error)
}

// HealthTracker maintains the sliding error window for one adapter
// in-memory (§4.2, §3) and periodically flushes a snapshot to storage.
// Structurally grounded on the teacher's pkg/mcp HealthMonitor: a
// mutex-guarded status map updated by a background loop, with a
// Start/Stop lifecycle — generalized here from periodic active probing
// to passive error/success recording driven by the orchestrator's own
// traffic, since telephony adapters have no cheap no-op ping.
type HealthTracker struct {
	window        time.Duration
	errorThreshold int
	cooldown      time.Duration
	flushInterval time.Duration
	store         healthStore
	logger        *slog.Logger

	mu            sync.Mutex
	errorTimes    map[string][]time.Time
	degraded      map[string]bool
	cooldownUntil map[string]time.Time
	lastErrorAt   map[string]time.Time
	lastSuccessAt map[string]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthTracker constructs a tracker for the given sliding window,
// error threshold, and cooldown duration.
func NewHealthTracker(window time.Duration, errorThreshold int, cooldown time.Duration, flushInterval time.Duration, store healthStore) *HealthTracker {
	return &HealthTracker{
		window:         window,
		errorThreshold: errorThreshold,
		cooldown:       cooldown,
		flushInterval:  flushInterval,
		store:          store,
		logger:         slog.Default(),
		errorTimes:     make(map[string][]time.Time),
		degraded:       make(map[string]bool),
		cooldownUntil:  make(map[string]time.Time),
		lastErrorAt:    make(map[string]time.Time),
		lastSuccessAt:  make(map[string]time.Time),
	}
}

// Seed loads last-known health from storage at process start so a
// restart doesn't forget an active cooldown.
func (h *HealthTracker) Seed(ctx context.Context, providerNames []string) {
	for _, name := range providerNames {
		snap, err := h.store.GetProviderHealth(ctx, name)
		if err != nil {
			continue
		}
		h.mu.Lock()
		h.degraded[name] = snap.Degraded
		if snap.CooldownUntil != nil {
			h.cooldownUntil[name] = *snap.CooldownUntil
		}
		if snap.LastErrorAt != nil {
			h.lastErrorAt[name] = *snap.LastErrorAt
		}
		if snap.LastSuccessAt != nil {
			h.lastSuccessAt[name] = *snap.LastSuccessAt
		}
		h.mu.Unlock()
	}
}

// Start launches the periodic persistence loop.
func (h *HealthTracker) Start(ctx context.Context, providerNames []string) {
	if h.cancel != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(h.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				h.flush(context.Background(), providerNames)
				return
			case <-ticker.C:
				h.flush(ctx, providerNames)
			}
		}
	}()
}

// Stop halts the persistence loop and flushes one last time.
func (h *HealthTracker) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	if h.done != nil {
		<-h.done
	}
	h.cancel = nil
	h.done = nil
}

func (h *HealthTracker) flush(ctx context.Context, providerNames []string) {
	for _, name := range providerNames {
		snap := h.Snapshot(name)
		err := h.store.UpsertProviderHealth(ctx, &models.ProviderHealth{
			ProviderName:     name,
			ErrorCountWindow: snap.ErrorCount,
			Degraded:         snap.Degraded,
			CooldownUntil:    optionalTime(snap.CooldownUntil),
			LastErrorAt:      optionalTime(snap.LastErrorAt),
			LastSuccessAt:    optionalTime(snap.LastSuccessAt),
		})
		if err != nil {
			h.logger.Warn("failed to persist provider health", "provider", name, "error", err)
		}
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// RecordError registers a failed adapter call and re-evaluates the
// degraded/cooldown state for provider.
func (h *HealthTracker) RecordError(provider string) {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	times := append(h.errorTimes[provider], now)
	times = pruneBefore(times, now.Add(-h.window))
	h.errorTimes[provider] = times
	h.lastErrorAt[provider] = now

	if len(times) >= h.errorThreshold {
		h.degraded[provider] = true
		h.cooldownUntil[provider] = now.Add(h.cooldown)
	}
}

// RecordSuccess registers a successful adapter call. A success does
// not immediately clear degraded status — that only lapses once the
// cooldown elapses — but it does update last_success_at for the
// least-recently-failed failover tie-break.
func (h *HealthTracker) RecordSuccess(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSuccessAt[provider] = time.Now()
}

// IsAvailable reports whether provider is eligible for new originate
// traffic: not degraded, or degraded but past its cooldown.
func (h *HealthTracker) IsAvailable(provider string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.degraded[provider] {
		return true
	}
	until, ok := h.cooldownUntil[provider]
	if !ok {
		return true
	}
	if time.Now().After(until) {
		h.degraded[provider] = false
		return true
	}
	return false
}

// Snapshot returns the current in-memory health for provider.
func (h *HealthTracker) Snapshot(provider string) HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	times := pruneBefore(h.errorTimes[provider], now.Add(-h.window))
	h.errorTimes[provider] = times

	return HealthSnapshot{
		ProviderName:  provider,
		ErrorCount:    len(times),
		Degraded:      h.degraded[provider],
		CooldownUntil: h.cooldownUntil[provider],
		LastErrorAt:   h.lastErrorAt[provider],
		LastSuccessAt: h.lastSuccessAt[provider],
	}
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
