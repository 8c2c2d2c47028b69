package llm

import "sync"

// UsageStats is a snapshot of accumulated token and cost usage
type UsageStats struct {
	Tokens int
	Cost   float64
}

// UsageTracker accumulates usage across calls within a single pipeline run.
// It keeps a local sum of every call it observed plus the latest totals
// reported back from the persisted unit; Stats returns whichever is larger,
// so totals are monotonic even when bookkeeping paths overlap.
type UsageTracker struct {
	mu       sync.Mutex
	local    UsageStats
	reported UsageStats
}

// NewUsageTracker creates an empty tracker
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{}
}

// Add records usage observed from one call, successful or not
func (t *UsageTracker) Add(tokens int, cost float64) {
	if tokens < 0 || cost < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local.Tokens += tokens
	t.local.Cost += cost
}

// ReportPersisted records the totals the persisted unit currently carries
func (t *UsageTracker) ReportPersisted(tokens int, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tokens > t.reported.Tokens {
		t.reported.Tokens = tokens
	}
	if cost > t.reported.Cost {
		t.reported.Cost = cost
	}
}

// Stats returns the current usage snapshot
func (t *UsageTracker) Stats() UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.local
	if t.reported.Tokens > out.Tokens {
		out.Tokens = t.reported.Tokens
	}
	if t.reported.Cost > out.Cost {
		out.Cost = t.reported.Cost
	}
	return out
}
