package digit

import (
	"sync"
	"time"
)

// completionDedupe suppresses the losing source when both carrier
// DTMF-gather and the speech path complete the same Expectation inside
// the 2s window (§4.4 dual sourcing: "whichever completes first wins").
// Same shape as the call package's carrier-webhook dedupe window;
// duplicated rather than shared because the two packages dedupe
// different keys for different reasons and neither should import the
// other just for this helper.
type completionDedupe struct {
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func newCompletionDedupe(window time.Duration) *completionDedupe {
	return &completionDedupe{window: window, seen: make(map[string]time.Time)}
}

func (d *completionDedupe) SeenRecently(key string) bool {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, t := range d.seen {
		if now.Sub(t) > d.window {
			delete(d.seen, k)
		}
	}

	if last, ok := d.seen[key]; ok && now.Sub(last) <= d.window {
		return true
	}
	d.seen[key] = now
	return false
}
