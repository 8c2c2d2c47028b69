// Package service provides application-level domain services shared by the
// pipeline use cases.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/eidolabs/forge/internal/app"
	"github.com/eidolabs/forge/internal/application/port/output"
	"github.com/eidolabs/forge/internal/domain/model/mvp"
)

// CostLimitExceededError aborts a pipeline when accumulated cost reaches the
// unit's ceiling.
type CostLimitExceededError struct {
	MVPID       string
	CurrentCost float64
	MaxCost     float64
}

func (e *CostLimitExceededError) Error() string {
	return fmt.Sprintf("cost limit exceeded for MVP %s: $%.4f >= $%.4f", e.MVPID, e.CurrentCost, e.MaxCost)
}

// Code returns the machine-readable error code
func (e *CostLimitExceededError) Code() string {
	return "COST_LIMIT_EXCEEDED"
}

// StatusCode returns the HTTP-like status for API callers
func (e *CostLimitExceededError) StatusCode() int {
	return 402
}

// RuntimeLimitExceededError aborts a pipeline that has run past the wall-clock
// ceiling.
type RuntimeLimitExceededError struct {
	MVPID   string
	Elapsed time.Duration
	MaxTime time.Duration
}

func (e *RuntimeLimitExceededError) Error() string {
	return fmt.Sprintf("runtime limit exceeded for MVP %s: %s elapsed, limit %s", e.MVPID, e.Elapsed.Round(time.Second), e.MaxTime)
}

// Code returns the machine-readable error code
func (e *RuntimeLimitExceededError) Code() string {
	return "RUNTIME_LIMIT_EXCEEDED"
}

// StatusCode returns the HTTP-like status for API callers
func (e *RuntimeLimitExceededError) StatusCode() int {
	return 408
}

// GuardrailService enforces runtime and cost ceilings before each stage.
// Checks are pre-checks only: an in-flight stage is never interrupted.
type GuardrailService struct {
	maxRuntime     time.Duration
	alertThreshold float64
	metrics        output.MetricsRecorder
	notifier       output.AlertNotifier
	clock          func() time.Time
}

// NewGuardrailService creates a GuardrailService. notifier may be nil when
// alerting is not configured.
func NewGuardrailService(maxRuntime time.Duration, alertThreshold float64, metrics output.MetricsRecorder, notifier output.AlertNotifier) *GuardrailService {
	return &GuardrailService{
		maxRuntime:     maxRuntime,
		alertThreshold: alertThreshold,
		metrics:        metrics,
		notifier:       notifier,
		clock:          time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (s *GuardrailService) SetClock(clock func() time.Time) {
	s.clock = clock
}

// CheckRuntimeLimit verifies the pipeline has not exceeded its wall-clock
// ceiling since startedAt.
func (s *GuardrailService) CheckRuntimeLimit(m *mvp.MVP, startedAt time.Time) error {
	elapsed := s.clock().Sub(startedAt)
	if elapsed < s.maxRuntime {
		return nil
	}

	s.metrics.RuntimeLimitExceeded()
	app.GetLogger().Warn("runtime limit exceeded: mvp=%s elapsed=%s limit=%s",
		m.ID().String(), elapsed.Round(time.Second), s.maxRuntime)

	return &RuntimeLimitExceededError{
		MVPID:   m.ID().String(),
		Elapsed: elapsed,
		MaxTime: s.maxRuntime,
	}
}

// CheckCostLimit verifies accumulated cost is strictly below the unit's
// ceiling. Crossing the alert threshold fires a non-blocking notification
// regardless of whether the hard limit was hit.
func (s *GuardrailService) CheckCostLimit(ctx context.Context, m *mvp.MVP) error {
	current := m.TotalCostEstimate()

	if s.notifier != nil && s.alertThreshold > 0 && current >= s.alertThreshold {
		go s.notifier.CostThresholdExceeded(context.WithoutCancel(ctx), current, s.alertThreshold)
	}

	if current < m.MaxAllowedCost() {
		return nil
	}

	s.metrics.CostLimitExceeded()
	app.GetLogger().Warn("cost limit exceeded: mvp=%s cost=%.4f limit=%.4f",
		m.ID().String(), current, m.MaxAllowedCost())

	return &CostLimitExceededError{
		MVPID:       m.ID().String(),
		CurrentCost: current,
		MaxCost:     m.MaxAllowedCost(),
	}
}
