// Package sysmetrics samples process resource usage for the Control
// Plane health endpoint (§4.9's "worker pool health"). Grounded on the
// teacher pack's gopsutil-based system sampler: a background ticker
// refreshes CPU/memory readings so the health endpoint never blocks a
// request on cpu.Percent's sampling window.
package sysmetrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time resource reading.
type Snapshot struct {
	CPUPercent   float64   `json:"cpu_percent"`
	MemAllocMB   float64   `json:"mem_alloc_mb"`
	MemSysMB     float64   `json:"mem_sys_mb"`
	MemUsedPct   float64   `json:"host_mem_used_percent"`
	NumGoroutine int       `json:"num_goroutine"`
	SampledAt    time.Time `json:"sampled_at"`
}

// Sampler periodically refreshes a Snapshot in the background so
// readers never pay gopsutil's sampling latency inline.
type Sampler struct {
	interval time.Duration

	mu       sync.RWMutex
	snapshot Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSampler constructs a Sampler that refreshes every interval.
func NewSampler(interval time.Duration) *Sampler {
	return &Sampler{interval: interval}
}

// Start launches the background sampling loop, taking one reading
// immediately so Snapshot never returns a zero value before the first
// tick fires.
func (s *Sampler) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.sample()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

// Stop halts the background sampling loop.
func (s *Sampler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.cancel = nil
	s.done = nil
}

// Snapshot returns the most recent resource reading.
func (s *Sampler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func (s *Sampler) sample() {
	snap := Snapshot{
		NumGoroutine: runtime.NumGoroutine(),
		SampledAt:    time.Now(),
	}

	// 0 duration: gopsutil returns the delta since its own last call
	// rather than blocking for a fresh sampling window, so this never
	// stalls the ticker.
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}

	var rt runtime.MemStats
	runtime.ReadMemStats(&rt)
	const mb = 1024 * 1024
	snap.MemAllocMB = float64(rt.Alloc) / mb
	snap.MemSysMB = float64(rt.Sys) / mb

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemUsedPct = vm.UsedPercent
	}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}
