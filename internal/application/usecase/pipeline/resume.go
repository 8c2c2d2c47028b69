package pipeline

import (
	"context"
	"sync"

	"github.com/eidolabs/forge/internal/app"
	"github.com/eidolabs/forge/internal/domain/model"
	"github.com/eidolabs/forge/internal/domain/repository"
)

// RecoveryScanner finds units left in non-terminal states by a crashed
// process and resumes their pipelines. Stage re-execution after a crash is
// at-least-once: the orchestrator re-runs the stage implied by the persisted
// status.
type RecoveryScanner struct {
	mvpRepo  repository.MVPRepository
	pipeline *PipelineUseCase
	wg       sync.WaitGroup
}

// NewRecoveryScanner creates a RecoveryScanner
func NewRecoveryScanner(mvpRepo repository.MVPRepository, pipeline *PipelineUseCase) *RecoveryScanner {
	return &RecoveryScanner{mvpRepo: mvpRepo, pipeline: pipeline}
}

// ResumeIncomplete scans for non-terminal pipelines and resumes each in its
// own goroutine. It returns the number of pipelines resumed; zero means
// nothing was interrupted.
func (s *RecoveryScanner) ResumeIncomplete(ctx context.Context) (int, error) {
	mvps, err := s.mvpRepo.List(ctx, repository.MVPFilter{Statuses: model.NonTerminalStatuses()})
	if err != nil {
		return 0, err
	}

	if len(mvps) == 0 {
		app.GetLogger().Info("recovery scan: no interrupted pipelines")
		return 0, nil
	}

	app.GetLogger().Info("recovery scan: resuming %d interrupted pipeline(s)", len(mvps))
	for _, m := range mvps {
		id := m.ID()
		status := m.Status()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			app.GetLogger().Info("resuming pipeline: mvp=%s status=%s", id, status)
			if err := s.pipeline.Run(ctx, id); err != nil {
				app.GetLogger().Warn("resumed pipeline did not complete: mvp=%s err=%v", id, err)
			}
		}()
	}

	return len(mvps), nil
}

// Wait blocks until all resumed pipelines have finished
func (s *RecoveryScanner) Wait() {
	s.wg.Wait()
}
