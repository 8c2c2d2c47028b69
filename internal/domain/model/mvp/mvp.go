// Package mvp defines the MVP aggregate: the pipeline's unit of work.
// All status mutation goes through the validated transition table; cost and
// token totals only ever grow within a run.
package mvp

import (
	"errors"
	"fmt"
	"time"

	"github.com/eidolabs/forge/internal/domain/model"
)

// MVP is the aggregate root driven through the build pipeline
type MVP struct {
	id                model.MVPID
	name              string
	status            model.Status
	ideaSummary       string
	deploymentURL     string
	tokenID           string
	retryCount        int
	totalTokenUsage   int
	totalCostEstimate float64
	maxAllowedCost    float64
	executionTraceID  string
	lastErrorStage    string
	createdAt         model.Timestamp
	updatedAt         model.Timestamp
}

// NewMVP creates a new MVP in CREATED state
func NewMVP(name, ideaSummary string, maxAllowedCost float64) (*MVP, error) {
	if name == "" {
		return nil, errors.New("MVP name cannot be empty")
	}
	if len(name) > 200 {
		return nil, errors.New("MVP name cannot exceed 200 characters")
	}
	if maxAllowedCost <= 0 {
		return nil, errors.New("max allowed cost must be positive")
	}

	now := model.NewTimestamp()
	return &MVP{
		id:             model.NewMVPID(),
		name:           name,
		status:         model.StatusCreated,
		ideaSummary:    ideaSummary,
		maxAllowedCost: maxAllowedCost,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// Reconstruct rebuilds an MVP from stored data
func Reconstruct(
	id model.MVPID,
	name string,
	status model.Status,
	ideaSummary string,
	deploymentURL string,
	tokenID string,
	retryCount int,
	totalTokenUsage int,
	totalCostEstimate float64,
	maxAllowedCost float64,
	executionTraceID string,
	lastErrorStage string,
	createdAt time.Time,
	updatedAt time.Time,
) *MVP {
	return &MVP{
		id:                id,
		name:              name,
		status:            status,
		ideaSummary:       ideaSummary,
		deploymentURL:     deploymentURL,
		tokenID:           tokenID,
		retryCount:        retryCount,
		totalTokenUsage:   totalTokenUsage,
		totalCostEstimate: totalCostEstimate,
		maxAllowedCost:    maxAllowedCost,
		executionTraceID:  executionTraceID,
		lastErrorStage:    lastErrorStage,
		createdAt:         model.NewTimestampFromTime(createdAt),
		updatedAt:         model.NewTimestampFromTime(updatedAt),
	}
}

// ID returns the MVP ID
func (m *MVP) ID() model.MVPID {
	return m.id
}

// Name returns the MVP name
func (m *MVP) Name() string {
	return m.name
}

// Status returns the current pipeline status
func (m *MVP) Status() model.Status {
	return m.status
}

// IdeaSummary returns the free-text idea summary
func (m *MVP) IdeaSummary() string {
	return m.ideaSummary
}

// DeploymentURL returns the deployment artifact URL, if any
func (m *MVP) DeploymentURL() string {
	return m.deploymentURL
}

// TokenID returns the tokenization artifact identifier, if any
func (m *MVP) TokenID() string {
	return m.tokenID
}

// RetryCount returns the pipeline retry counter
func (m *MVP) RetryCount() int {
	return m.retryCount
}

// TotalTokenUsage returns the accumulated token usage
func (m *MVP) TotalTokenUsage() int {
	return m.totalTokenUsage
}

// TotalCostEstimate returns the accumulated cost estimate in USD
func (m *MVP) TotalCostEstimate() float64 {
	return m.totalCostEstimate
}

// MaxAllowedCost returns the cost ceiling for this MVP
func (m *MVP) MaxAllowedCost() float64 {
	return m.maxAllowedCost
}

// ExecutionTraceID returns the correlation ID for the current run
func (m *MVP) ExecutionTraceID() string {
	return m.executionTraceID
}

// LastErrorStage returns the stage name of the most recent failure
func (m *MVP) LastErrorStage() string {
	return m.lastErrorStage
}

// CreatedAt returns the creation timestamp
func (m *MVP) CreatedAt() model.Timestamp {
	return m.createdAt
}

// UpdatedAt returns the last update timestamp
func (m *MVP) UpdatedAt() model.Timestamp {
	return m.updatedAt
}

// UpdateStatus transitions to a new status through the transition table
func (m *MVP) UpdateStatus(next model.Status) error {
	if !next.IsValid() {
		return fmt.Errorf("invalid status: %s", next)
	}

	if !m.status.CanTransitionTo(next) {
		return &model.StateTransitionError{From: m.status, To: next}
	}

	m.status = next
	m.updatedAt = model.NewTimestamp()
	return nil
}

// AccumulateUsage adds a stage's token and cost usage to the running totals.
// Totals are monotonic within a run; negative deltas are rejected.
func (m *MVP) AccumulateUsage(tokens int, cost float64) error {
	if tokens < 0 || cost < 0 {
		return errors.New("usage deltas must be non-negative")
	}
	m.totalTokenUsage += tokens
	m.totalCostEstimate += cost
	m.updatedAt = model.NewTimestamp()
	return nil
}

// IncrementRetry bumps the retry counter after a failed run
func (m *MVP) IncrementRetry() {
	m.retryCount++
	m.updatedAt = model.NewTimestamp()
}

// SetLastErrorStage records the stage that caused the most recent failure
func (m *MVP) SetLastErrorStage(stage string) {
	m.lastErrorStage = stage
	m.updatedAt = model.NewTimestamp()
}

// SetExecutionTraceID assigns the run correlation ID if not already set
func (m *MVP) SetExecutionTraceID(traceID string) {
	if m.executionTraceID == "" {
		m.executionTraceID = traceID
		m.updatedAt = model.NewTimestamp()
	}
}

// SetDeploymentURL records the deployment artifact URL
func (m *MVP) SetDeploymentURL(url string) {
	m.deploymentURL = url
	m.updatedAt = model.NewTimestamp()
}

// SetTokenID records the tokenization artifact identifier
func (m *MVP) SetTokenID(tokenID string) {
	m.tokenID = tokenID
	m.updatedAt = model.NewTimestamp()
}

// SetIdeaSummary updates the idea summary
func (m *MVP) SetIdeaSummary(summary string) {
	m.ideaSummary = summary
	m.updatedAt = model.NewTimestamp()
}
