package provideradapter

import (
	"fmt"
	"sort"
)

// Registry selects the adapter to use for a new outbound call,
// implementing §4.2's failover rule: route to the first non-degraded
// adapter in the configured preference list; if every adapter is
// degraded and failover is enabled, fall back to the
// least-recently-failed one. Webhook acceptance never consults health
// — inbound traffic is reconciled from whichever carrier actually
// rang, regardless of whether this registry currently considers it
// degraded.
type Registry struct {
	adapters   map[string]Adapter
	preference []string
	failover   bool
	health     *HealthTracker
}

// NewRegistry builds a registry over the given adapters, in preference
// order, with failover-on-all-degraded behavior controlled by failover.
func NewRegistry(adapters map[string]Adapter, preference []string, failover bool, health *HealthTracker) *Registry {
	return &Registry{adapters: adapters, preference: preference, failover: failover, health: health}
}

// ProviderNames returns the configured preference order of provider
// names, for the health endpoint's per-adapter status table (§4.9).
func (r *Registry) ProviderNames() []string {
	out := make([]string, len(r.preference))
	copy(out, r.preference)
	return out
}

// Health returns the registry's HealthTracker, for the health
// endpoint's per-adapter status table (§4.9).
func (r *Registry) Health() *HealthTracker {
	return r.health
}

// Get returns the adapter registered under name, ignoring health.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("provideradapter: unknown provider %q", name)
	}
	return a, nil
}

// Pick selects an adapter for a new originate attempt per the
// failover rule above. excluded lists providers already tried for this
// request (the orchestrator's retry loop advances through the
// preference list on a retryable failure).
func (r *Registry) Pick(excluded map[string]bool) (Adapter, error) {
	for _, name := range r.preference {
		if excluded[name] {
			continue
		}
		if r.health.IsAvailable(name) {
			return r.Get(name)
		}
	}

	if !r.failover {
		return nil, fmt.Errorf("provideradapter: no healthy provider available and failover is disabled")
	}

	candidates := make([]string, 0, len(r.preference))
	for _, name := range r.preference {
		if !excluded[name] {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("provideradapter: every configured provider has been excluded for this request")
	}

	sort.Slice(candidates, func(i, j int) bool {
		si := r.health.Snapshot(candidates[i])
		sj := r.health.Snapshot(candidates[j])
		return si.LastErrorAt.Before(sj.LastErrorAt)
	})
	return r.Get(candidates[0])
}
