// Package pipeline drives a unit of work through the staged build pipeline:
// ideation, architecture, building, deployment, tokenization. Every stage
// attempt leaves an append-only execution record, and runtime/cost guardrails
// are checked before each stage starts.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eidolabs/forge/internal/app"
	"github.com/eidolabs/forge/internal/application/port/output"
	"github.com/eidolabs/forge/internal/application/service"
	"github.com/eidolabs/forge/internal/domain/model"
	"github.com/eidolabs/forge/internal/domain/model/mvp"
	"github.com/eidolabs/forge/internal/domain/repository"
)

// stageStep pairs a stage with the status the unit holds while it runs
type stageStep struct {
	stage  model.Stage
	target model.Status
}

// stageOrder is the canonical pipeline sequence
var stageOrder = []stageStep{
	{model.StageIdeation, model.StatusIdeating},
	{model.StageArchitecture, model.StatusArchitecting},
	{model.StageBuilding, model.StatusBuilding},
	{model.StageDeployment, model.StatusDeploying},
	{model.StageTokenization, model.StatusTokenizing},
}

// failureStateFor maps a stage to its dedicated failure status. Only building
// and deployment define one; a failed stage without a failure state leaves the
// unit's status untouched.
func failureStateFor(stage model.Stage) (model.Status, bool) {
	switch stage {
	case model.StageBuilding:
		return model.StatusBuildFailed, true
	case model.StageDeployment:
		return model.StatusDeployFailed, true
	default:
		return "", false
	}
}

// resumeIndex maps a persisted status to the stage the pipeline should
// execute next. An in-progress status re-runs its own stage, so a crash
// mid-stage is retried rather than skipped.
func resumeIndex(status model.Status) int {
	switch status {
	case model.StatusCreated, model.StatusIdeating:
		return 0
	case model.StatusArchitecting:
		return 1
	case model.StatusBuilding, model.StatusBuildFailed:
		return 2
	case model.StatusDeploying, model.StatusDeployFailed:
		return 3
	case model.StatusTokenizing:
		return 4
	default:
		return -1
	}
}

// PipelineUseCase orchestrates pipeline runs
type PipelineUseCase struct {
	mvpRepo    repository.MVPRepository
	runRepo    repository.AgentRunRepository
	agent      output.AgentGateway
	guardrails *service.GuardrailService
	metrics    output.MetricsRecorder
	artifacts  output.ArtifactStore
	maxRetries int
	clock      func() time.Time
}

// NewPipelineUseCase creates a PipelineUseCase. artifacts may be nil when
// snapshot storage is not configured.
func NewPipelineUseCase(
	mvpRepo repository.MVPRepository,
	runRepo repository.AgentRunRepository,
	agent output.AgentGateway,
	guardrails *service.GuardrailService,
	metrics output.MetricsRecorder,
	artifacts output.ArtifactStore,
	maxRetries int,
) *PipelineUseCase {
	return &PipelineUseCase{
		mvpRepo:    mvpRepo,
		runRepo:    runRepo,
		agent:      agent,
		guardrails: guardrails,
		metrics:    metrics,
		artifacts:  artifacts,
		maxRetries: maxRetries,
		clock:      time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (uc *PipelineUseCase) SetClock(clock func() time.Time) {
	uc.clock = clock
}

// Run executes the pipeline for a unit from its current status through
// COMPLETED, stopping at the first guardrail violation or exhausted stage.
func (uc *PipelineUseCase) Run(ctx context.Context, mvpID model.MVPID) error {
	m, err := uc.mvpRepo.Find(ctx, mvpID)
	if err != nil {
		return err
	}

	if m.Status().IsTerminal() {
		return &service.PipelineConflictError{MVPID: m.ID().String(), Status: m.Status()}
	}

	start := resumeIndex(m.Status())
	if start < 0 {
		return fmt.Errorf("unexpected status %s for MVP %s", m.Status(), m.ID())
	}

	uc.metrics.PipelineActiveInc()
	defer uc.metrics.PipelineActiveDec()

	if m.ExecutionTraceID() == "" {
		m.SetExecutionTraceID(ulid.Make().String())
		if err := uc.mvpRepo.Save(ctx, m); err != nil {
			return fmt.Errorf("save trace ID: %w", err)
		}
	}

	startedAt := uc.clock()
	app.GetLogger().Info("pipeline run starting: mvp=%s status=%s trace=%s stage_index=%d",
		m.ID(), m.Status(), m.ExecutionTraceID(), start)

	for _, step := range stageOrder[start:] {
		if err := uc.executeStage(ctx, m, step, startedAt); err != nil {
			uc.finishFailed(ctx, m, startedAt, err)
			return err
		}
	}

	if err := uc.transition(ctx, m, model.StatusCompleted); err != nil {
		uc.finishFailed(ctx, m, startedAt, err)
		return err
	}

	uc.metrics.PipelineSucceeded()
	uc.observePipeline(m, startedAt)
	app.GetLogger().Info("pipeline run completed: mvp=%s cost=%.4f tokens=%d",
		m.ID(), m.TotalCostEstimate(), m.TotalTokenUsage())
	return nil
}

// executeStage runs one stage: guardrail pre-checks, status transition,
// append-only run bookkeeping, delegation, and usage accounting.
func (uc *PipelineUseCase) executeStage(ctx context.Context, m *mvp.MVP, step stageStep, startedAt time.Time) error {
	if err := uc.guardrails.CheckRuntimeLimit(m, startedAt); err != nil {
		return err
	}
	if err := uc.guardrails.CheckCostLimit(ctx, m); err != nil {
		return err
	}

	// A unit resuming mid-stage already holds the target status.
	if m.Status() != step.target {
		if err := uc.transition(ctx, m, step.target); err != nil {
			return err
		}
	}

	run := &repository.AgentRun{
		MVPID:         m.ID().String(),
		Stage:         step.stage.String(),
		Status:        repository.RunStatusRunning,
		AttemptNumber: m.RetryCount() + 1,
		TraceID:       m.ExecutionTraceID(),
		StartedAt:     uc.clock(),
	}
	if err := uc.runRepo.Create(ctx, run); err != nil {
		return fmt.Errorf("create agent run: %w", err)
	}

	result, err := uc.agent.ExecuteStage(ctx, step.stage, m.ID())
	if err != nil {
		// Infrastructure fault: the record must still be closed so no
		// run is left open forever, and the retry budget is charged the
		// same as an expected stage failure.
		uc.closeRun(ctx, run, repository.RunStatusFailed, nil, err.Error())
		m.SetLastErrorStage(step.stage.String())
		m.IncrementRetry()
		if serr := uc.mvpRepo.Save(ctx, m); serr != nil {
			app.GetLogger().Error("save after stage fault failed: mvp=%s err=%v", m.ID(), serr)
		}
		return &StageExecutionError{MVPID: m.ID().String(), Stage: step.stage, Reason: err.Error()}
	}

	status := repository.RunStatusCompleted
	if !result.Success {
		status = repository.RunStatusFailed
	}
	uc.closeRun(ctx, run, status, result, "")
	uc.saveSnapshots(ctx, m, step.stage, result)

	if err := m.AccumulateUsage(result.TokenUsage, result.CostEstimate); err != nil {
		app.GetLogger().Warn("usage accumulation rejected: mvp=%s err=%v", m.ID(), err)
	}

	duration := time.Duration(0)
	if run.DurationMS != nil {
		duration = time.Duration(*run.DurationMS) * time.Millisecond
	}
	uc.metrics.StageObserved(step.stage.String(), status, duration, result.CostEstimate, result.TokenUsage)

	if !result.Success {
		m.SetLastErrorStage(step.stage.String())
		m.IncrementRetry()
		if err := uc.mvpRepo.Save(ctx, m); err != nil {
			return fmt.Errorf("save failed stage state: %w", err)
		}
		return &StageExecutionError{MVPID: m.ID().String(), Stage: step.stage, Reason: result.Error}
	}

	uc.applyStageOutput(m, step.stage, result.StageOutput)
	if err := uc.mvpRepo.Save(ctx, m); err != nil {
		return fmt.Errorf("save stage result: %w", err)
	}
	return nil
}

// closeRun writes the terminal fields of an execution record. Failure to
// close is logged, never propagated: run bookkeeping must not mask the
// stage outcome.
func (uc *PipelineUseCase) closeRun(ctx context.Context, run *repository.AgentRun, status string, result *output.StageResult, errMsg string) {
	now := uc.clock()
	durationMS := now.Sub(run.StartedAt).Milliseconds()

	run.Status = status
	run.CompletedAt = &now
	run.DurationMS = &durationMS

	if result != nil {
		run.StageInput = result.StageInput
		run.StageOutput = result.StageOutput
		run.LLMModel = result.LLMModel
		run.TokenUsage = result.TokenUsage
		run.CostEstimate = result.CostEstimate
		if len(result.Logs) > 0 {
			b, _ := json.Marshal(result.Logs)
			run.Log = string(b)
		}
		if result.Error != "" && errMsg == "" {
			errMsg = result.Error
		}
	}
	if errMsg != "" && run.Log == "" {
		run.Log = errMsg
	}

	if err := uc.runRepo.Close(ctx, run); err != nil {
		app.GetLogger().Error("failed to close agent run %d: %v", run.ID, err)
	}
}

// applyStageOutput lifts well-known fields out of a stage's JSON output onto
// the unit.
func (uc *PipelineUseCase) applyStageOutput(m *mvp.MVP, stage model.Stage, rawOutput string) {
	var fields map[string]interface{}
	if json.Unmarshal([]byte(rawOutput), &fields) != nil {
		return
	}

	str := func(key string) string {
		if v, ok := fields[key].(string); ok {
			return v
		}
		return ""
	}

	switch stage {
	case model.StageIdeation:
		if s := str("idea_summary"); s != "" {
			m.SetIdeaSummary(s)
		}
	case model.StageDeployment:
		if s := str("deployment_url"); s != "" {
			m.SetDeploymentURL(s)
		}
	case model.StageTokenization:
		if s := str("token_id"); s != "" {
			m.SetTokenID(s)
		}
	}
}

func (uc *PipelineUseCase) saveSnapshots(ctx context.Context, m *mvp.MVP, stage model.Stage, result *output.StageResult) {
	if uc.artifacts == nil {
		return
	}
	if result.StageInput != "" {
		if _, err := uc.artifacts.SaveSnapshot(ctx, m.ID().String(), stage.String(), "input", []byte(result.StageInput)); err != nil {
			app.GetLogger().Warn("snapshot save failed: mvp=%s stage=%s err=%v", m.ID(), stage, err)
		}
	}
	if result.StageOutput != "" {
		if _, err := uc.artifacts.SaveSnapshot(ctx, m.ID().String(), stage.String(), "output", []byte(result.StageOutput)); err != nil {
			app.GetLogger().Warn("snapshot save failed: mvp=%s stage=%s err=%v", m.ID(), stage, err)
		}
	}
}

func (uc *PipelineUseCase) transition(ctx context.Context, m *mvp.MVP, next model.Status) error {
	if err := m.UpdateStatus(next); err != nil {
		return err
	}
	if err := uc.mvpRepo.Save(ctx, m); err != nil {
		return fmt.Errorf("save status %s: %w", next, err)
	}
	return nil
}

// guardrailErrorStage marks a unit whose run ended on a budget violation
// rather than a stage failure.
const guardrailErrorStage = "cost_or_runtime_limit"

// finishFailed moves the unit to the status its failure demands and records
// terminal pipeline metrics. A stage failure below the retry ceiling parks
// the unit — in the stage's failure state when one exists, otherwise in its
// current state — for a later recovery run. Guardrail violations and
// exhausted retries drive it to FAILED through table-valid hops.
func (uc *PipelineUseCase) finishFailed(ctx context.Context, m *mvp.MVP, startedAt time.Time, cause error) {
	var stageErr *StageExecutionError
	terminal := true
	reason := "stage_error"

	switch {
	case errors.As(cause, &stageErr):
		if failState, ok := failureStateFor(stageErr.Stage); ok && m.Status() != failState {
			if err := uc.transition(ctx, m, failState); err != nil {
				app.GetLogger().Error("failure transition rejected: mvp=%s err=%v", m.ID(), err)
			}
		}
		if m.RetryCount() < uc.maxRetries {
			terminal = false
		}
	case isCostLimit(cause):
		reason = "cost_limit"
		m.SetLastErrorStage(guardrailErrorStage)
	case isRuntimeLimit(cause):
		reason = "runtime_limit"
		m.SetLastErrorStage(guardrailErrorStage)
	}

	if terminal {
		uc.forceFail(ctx, m)
		uc.metrics.PipelineFailed(reason)
	} else {
		app.GetLogger().Info("pipeline parked for retry: mvp=%s status=%s retry=%d/%d",
			m.ID(), m.Status(), m.RetryCount(), uc.maxRetries)
	}
	uc.observePipeline(m, startedAt)
}

// forceFail walks the unit to FAILED through valid transitions only
func (uc *PipelineUseCase) forceFail(ctx context.Context, m *mvp.MVP) {
	for !m.Status().IsTerminal() {
		var next model.Status
		switch {
		case m.Status().CanTransitionTo(model.StatusFailed):
			next = model.StatusFailed
		case m.Status() == model.StatusBuilding:
			next = model.StatusBuildFailed
		case m.Status() == model.StatusDeploying:
			next = model.StatusDeployFailed
		case m.Status() == model.StatusCreated:
			next = model.StatusIdeating
		default:
			app.GetLogger().Error("no failure path from status %s for MVP %s", m.Status(), m.ID())
			return
		}
		if err := uc.transition(ctx, m, next); err != nil {
			app.GetLogger().Error("force-fail transition rejected: mvp=%s err=%v", m.ID(), err)
			return
		}
	}
}

func (uc *PipelineUseCase) observePipeline(m *mvp.MVP, startedAt time.Time) {
	uc.metrics.PipelineObserved(m.Status().String(), uc.clock().Sub(startedAt), m.TotalCostEstimate(), m.TotalTokenUsage())
}

func isCostLimit(err error) bool {
	var e *service.CostLimitExceededError
	return errors.As(err, &e)
}

func isRuntimeLimit(err error) bool {
	var e *service.RuntimeLimitExceededError
	return errors.As(err, &e)
}
