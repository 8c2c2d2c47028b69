package service

import (
	"context"
	"fmt"

	"github.com/eidolabs/forge/internal/app"
	"github.com/eidolabs/forge/internal/application/port/output"
	"github.com/eidolabs/forge/internal/domain/model"
	"github.com/eidolabs/forge/internal/domain/model/mvp"
	"github.com/eidolabs/forge/internal/domain/repository"
)

// PipelineConflictError is returned when a pipeline run is requested for a
// unit that cannot accept one.
type PipelineConflictError struct {
	MVPID  string
	Status model.Status
}

func (e *PipelineConflictError) Error() string {
	return fmt.Sprintf("MVP %s cannot start a pipeline run in status %s", e.MVPID, e.Status)
}

// Code returns the machine-readable error code
func (e *PipelineConflictError) Code() string {
	return "PIPELINE_CONFLICT"
}

// StatusCode returns the HTTP-like status for API callers
func (e *PipelineConflictError) StatusCode() int {
	return 409
}

// MVPService handles MVP lifecycle operations outside the pipeline itself
type MVPService struct {
	mvpRepo repository.MVPRepository
	metrics output.MetricsRecorder
}

// NewMVPService creates an MVPService
func NewMVPService(mvpRepo repository.MVPRepository, metrics output.MetricsRecorder) *MVPService {
	return &MVPService{mvpRepo: mvpRepo, metrics: metrics}
}

// CreateMVP registers a new unit of work in CREATED state
func (s *MVPService) CreateMVP(ctx context.Context, name, ideaSummary string, maxAllowedCost float64) (*mvp.MVP, error) {
	m, err := mvp.NewMVP(name, ideaSummary, maxAllowedCost)
	if err != nil {
		return nil, err
	}

	if err := s.mvpRepo.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save new MVP: %w", err)
	}

	s.metrics.MVPCreated()
	app.GetLogger().Info("MVP created: id=%s name=%q max_cost=%.2f", m.ID().String(), m.Name(), m.MaxAllowedCost())

	return m, nil
}

// GetMVP retrieves a unit by ID
func (s *MVPService) GetMVP(ctx context.Context, id model.MVPID) (*mvp.MVP, error) {
	return s.mvpRepo.Find(ctx, id)
}

// ListMVPs retrieves units matching the filter
func (s *MVPService) ListMVPs(ctx context.Context, filter repository.MVPFilter) ([]*mvp.MVP, error) {
	return s.mvpRepo.List(ctx, filter)
}

// CheckPipelineAdmission verifies the unit may start a fresh pipeline run.
// Only CREATED units are admitted: a unit in any later non-terminal state
// already has a run in flight (resumption belongs to the recovery scanner),
// and terminal units have nothing left to run.
func (s *MVPService) CheckPipelineAdmission(ctx context.Context, id model.MVPID) (*mvp.MVP, error) {
	m, err := s.mvpRepo.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	if m.Status() != model.StatusCreated {
		return nil, &PipelineConflictError{MVPID: m.ID().String(), Status: m.Status()}
	}

	return m, nil
}
