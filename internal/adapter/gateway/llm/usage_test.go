package llm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsageTracker_Add(t *testing.T) {
	tracker := NewUsageTracker()
	tracker.Add(100, 0.5)
	tracker.Add(50, 0.25)

	stats := tracker.Stats()
	assert.Equal(t, 150, stats.Tokens)
	assert.InDelta(t, 0.75, stats.Cost, 1e-9)
}

func TestUsageTracker_NegativeDeltasIgnored(t *testing.T) {
	tracker := NewUsageTracker()
	tracker.Add(100, 0.5)
	tracker.Add(-50, -0.25)

	stats := tracker.Stats()
	assert.Equal(t, 100, stats.Tokens)
	assert.InDelta(t, 0.5, stats.Cost, 1e-9)
}

func TestUsageTracker_ReportedTotalsAreMonotonic(t *testing.T) {
	tracker := NewUsageTracker()
	tracker.Add(100, 0.5)

	// Persisted totals above local observation win
	tracker.ReportPersisted(500, 2.0)
	stats := tracker.Stats()
	assert.Equal(t, 500, stats.Tokens)
	assert.InDelta(t, 2.0, stats.Cost, 1e-9)

	// A lower persisted total never regresses the snapshot
	tracker.ReportPersisted(50, 0.1)
	stats = tracker.Stats()
	assert.Equal(t, 500, stats.Tokens)
	assert.InDelta(t, 2.0, stats.Cost, 1e-9)
}

func TestUsageTracker_ConcurrentAdd(t *testing.T) {
	tracker := NewUsageTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Add(10, 0.01)
		}()
	}
	wg.Wait()

	stats := tracker.Stats()
	assert.Equal(t, 500, stats.Tokens)
	assert.InDelta(t, 0.5, stats.Cost, 1e-6)
}

func TestEstimateTokens(t *testing.T) {
	assert.Zero(t, EstimateTokens("gpt-4-turbo", ""))

	n := EstimateTokens("gpt-4-turbo", "hello world, this is a token count check")
	assert.Greater(t, n, 0)

	// Unknown models still produce a positive estimate
	n = EstimateTokens("mystery-model", "one two three four five")
	assert.Greater(t, n, 0)
}
