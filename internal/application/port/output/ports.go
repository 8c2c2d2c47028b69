// Package output defines the outbound ports the pipeline core depends on.
// Concrete collaborators (AI runtime, metrics, alerting, artifact storage)
// live in the adapter and infrastructure layers.
package output

import (
	"context"
	"time"

	"github.com/eidolabs/forge/internal/domain/model"
)

// StageResult is the structured outcome of one delegated stage execution.
// Expected failures are signaled via Success=false and Error; the gateway
// returns a Go error only for unexpected infrastructure faults.
type StageResult struct {
	Stage        model.Stage
	Success      bool
	StageInput   string
	StageOutput  string
	LLMModel     string
	TokenUsage   int
	CostEstimate float64
	Logs         []string
	Error        string
}

// AgentGateway is the AI-runtime collaborator that performs a stage's work.
// Stage side effects must be safe to repeat: the orchestrator re-executes
// stages at-least-once after a crash.
type AgentGateway interface {
	ExecuteStage(ctx context.Context, stage model.Stage, mvpID model.MVPID) (*StageResult, error)
}

// MetricsRecorder receives pipeline observations. Implementations must never
// propagate their own failures into the pipeline.
type MetricsRecorder interface {
	MVPCreated()
	PipelineActiveInc()
	PipelineActiveDec()
	PipelineSucceeded()
	PipelineFailed(reason string)
	PipelineObserved(status string, duration time.Duration, cost float64, tokens int)
	StageObserved(stage, status string, duration time.Duration, cost float64, tokens int)
	CostLimitExceeded()
	RuntimeLimitExceeded()
}

// AlertNotifier delivers threshold alerts. Calls are fire-and-forget; a
// notifier failure must never block or fail a stage.
type AlertNotifier interface {
	CostThresholdExceeded(ctx context.Context, currentCost, threshold float64)
}

// ArtifactStore persists stage input/output snapshots outside the database
type ArtifactStore interface {
	SaveSnapshot(ctx context.Context, mvpID, stage, kind string, data []byte) (string, error)
}
