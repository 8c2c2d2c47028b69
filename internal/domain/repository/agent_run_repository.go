package repository

import (
	"context"
	"time"
)

// Agent run statuses. A run is created as running and closed exactly once.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// AgentRun is one append-only stage-attempt record. Rows are created when a
// stage starts, mutated exactly once when it closes, and never deleted.
type AgentRun struct {
	ID            int64
	MVPID         string
	Stage         string
	Status        string
	AttemptNumber int
	StageInput    string
	StageOutput   string
	LLMModel      string
	TokenUsage    int
	CostEstimate  float64
	Log           string
	TraceID       string
	StartedAt     time.Time
	CompletedAt   *time.Time
	DurationMS    *int64
	CreatedAt     time.Time
}

// AgentRunRepository persists stage-attempt records
type AgentRunRepository interface {
	// Create inserts a new running record and assigns its ID
	Create(ctx context.Context, run *AgentRun) error

	// Close writes the terminal fields of a record (status, output, usage,
	// completed_at, duration_ms). Called exactly once per run.
	Close(ctx context.Context, run *AgentRun) error

	// FindByMVPID retrieves all records for an MVP ordered by started_at
	FindByMVPID(ctx context.Context, mvpID string) ([]*AgentRun, error)
}
