package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidolabs/forge/internal/application/port/output"
	"github.com/eidolabs/forge/internal/application/service"
	"github.com/eidolabs/forge/internal/domain/model"
	"github.com/eidolabs/forge/internal/domain/model/mvp"
	"github.com/eidolabs/forge/internal/domain/repository"
)

// memoryMVPRepo is a map-backed MVP repository
type memoryMVPRepo struct {
	mu   sync.Mutex
	mvps map[string]*mvp.MVP
}

func newMemoryMVPRepo() *memoryMVPRepo {
	return &memoryMVPRepo{mvps: make(map[string]*mvp.MVP)}
}

func (r *memoryMVPRepo) Save(_ context.Context, m *mvp.MVP) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mvps[m.ID().String()] = m
	return nil
}

func (r *memoryMVPRepo) Find(_ context.Context, id model.MVPID) (*mvp.MVP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mvps[id.String()]
	if !ok {
		return nil, repository.ErrMVPNotFound
	}
	return m, nil
}

func (r *memoryMVPRepo) List(_ context.Context, filter repository.MVPFilter) ([]*mvp.MVP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*mvp.MVP
	for _, m := range r.mvps {
		if len(filter.Statuses) > 0 {
			match := false
			for _, s := range filter.Statuses {
				if m.Status() == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// memoryRunRepo is a slice-backed execution-record repository
type memoryRunRepo struct {
	mu     sync.Mutex
	nextID int64
	runs   []*repository.AgentRun
}

func newMemoryRunRepo() *memoryRunRepo {
	return &memoryRunRepo{nextID: 1}
}

func (r *memoryRunRepo) Create(_ context.Context, run *repository.AgentRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.ID = r.nextID
	r.nextID++
	cp := *run
	r.runs = append(r.runs, &cp)
	return nil
}

func (r *memoryRunRepo) Close(_ context.Context, run *repository.AgentRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.runs {
		if existing.ID == run.ID {
			if existing.Status != repository.RunStatusRunning {
				return fmt.Errorf("agent run %d not open for closing", run.ID)
			}
			cp := *run
			r.runs[i] = &cp
			return nil
		}
	}
	return fmt.Errorf("agent run %d not found", run.ID)
}

func (r *memoryRunRepo) FindByMVPID(_ context.Context, mvpID string) ([]*repository.AgentRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.AgentRun
	for _, run := range r.runs {
		if run.MVPID == mvpID {
			cp := *run
			out = append(out, &cp)
		}
	}
	return out, nil
}

// scriptedGateway returns canned results per stage
type scriptedGateway struct {
	mu        sync.Mutex
	results   map[model.Stage]*output.StageResult
	errs      map[model.Stage]error
	executed  []model.Stage
	onExecute func()
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{
		results: make(map[model.Stage]*output.StageResult),
		errs:    make(map[model.Stage]error),
	}
}

func (g *scriptedGateway) succeed(stage model.Stage, out string, tokens int, cost float64) {
	g.results[stage] = &output.StageResult{
		Stage: stage, Success: true,
		StageInput: "prompt for " + stage.String(), StageOutput: out,
		LLMModel: "gpt-4-turbo", TokenUsage: tokens, CostEstimate: cost,
	}
}

func (g *scriptedGateway) fail(stage model.Stage, reason string, tokens int, cost float64) {
	g.results[stage] = &output.StageResult{
		Stage: stage, Success: false,
		StageInput: "prompt for " + stage.String(),
		LLMModel:   "gpt-4-turbo", TokenUsage: tokens, CostEstimate: cost,
		Error: reason,
	}
}

func (g *scriptedGateway) ExecuteStage(_ context.Context, stage model.Stage, _ model.MVPID) (*output.StageResult, error) {
	g.mu.Lock()
	g.executed = append(g.executed, stage)
	g.mu.Unlock()

	if g.onExecute != nil {
		g.onExecute()
	}

	if err, ok := g.errs[stage]; ok {
		return nil, err
	}
	if result, ok := g.results[stage]; ok {
		cp := *result
		return &cp, nil
	}
	return &output.StageResult{Stage: stage, Success: true, StageOutput: "{}"}, nil
}

func (g *scriptedGateway) executedStages() []model.Stage {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Stage, len(g.executed))
	copy(out, g.executed)
	return out
}

// nopMetrics records failure reasons and discards the rest
type nopMetrics struct {
	mu             sync.Mutex
	failureReasons []string
	succeeded      int
	active         int
}

func (m *nopMetrics) MVPCreated() {}
func (m *nopMetrics) PipelineActiveInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active++
}
func (m *nopMetrics) PipelineActiveDec() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--
}
func (m *nopMetrics) PipelineSucceeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.succeeded++
}
func (m *nopMetrics) PipelineFailed(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureReasons = append(m.failureReasons, reason)
}
func (m *nopMetrics) PipelineObserved(string, time.Duration, float64, int) {}
func (m *nopMetrics) StageObserved(string, string, time.Duration, float64, int) {}
func (m *nopMetrics) CostLimitExceeded()    {}
func (m *nopMetrics) RuntimeLimitExceeded() {}

type fixture struct {
	mvpRepo *memoryMVPRepo
	runRepo *memoryRunRepo
	gateway *scriptedGateway
	metrics *nopMetrics
	uc      *PipelineUseCase
}

func newFixture(t *testing.T, maxRetries int) *fixture {
	t.Helper()
	f := &fixture{
		mvpRepo: newMemoryMVPRepo(),
		runRepo: newMemoryRunRepo(),
		gateway: newScriptedGateway(),
		metrics: &nopMetrics{},
	}
	guardrails := service.NewGuardrailService(time.Hour, 0, f.metrics, nil)
	f.uc = NewPipelineUseCase(f.mvpRepo, f.runRepo, f.gateway, guardrails, f.metrics, nil, maxRetries)
	return f
}

func (f *fixture) newMVP(t *testing.T, maxCost float64) *mvp.MVP {
	t.Helper()
	m, err := mvp.NewMVP("Test MVP", "an idea", maxCost)
	require.NoError(t, err)
	require.NoError(t, f.mvpRepo.Save(context.Background(), m))
	return m
}

func (f *fixture) scriptHappyPath() {
	f.gateway.succeed(model.StageIdeation, `{"idea_summary": "refined concept"}`, 100, 0.10)
	f.gateway.succeed(model.StageArchitecture, `{"architecture": "three tiers"}`, 200, 0.20)
	f.gateway.succeed(model.StageBuilding, `{"build_summary": "built"}`, 300, 0.30)
	f.gateway.succeed(model.StageDeployment, `{"deployment_url": "https://app.example.test"}`, 100, 0.10)
	f.gateway.succeed(model.StageTokenization, `{"token_id": "tok-42"}`, 50, 0.05)
}

func TestPipelineUseCase_Run_HappyPath(t *testing.T) {
	f := newFixture(t, 3)
	f.scriptHappyPath()
	m := f.newMVP(t, 10.0)

	require.NoError(t, f.uc.Run(context.Background(), m.ID()))

	final, err := f.mvpRepo.Find(context.Background(), m.ID())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, final.Status())
	assert.Equal(t, 750, final.TotalTokenUsage())
	assert.InDelta(t, 0.75, final.TotalCostEstimate(), 1e-9)
	assert.Equal(t, "refined concept", final.IdeaSummary())
	assert.Equal(t, "https://app.example.test", final.DeploymentURL())
	assert.Equal(t, "tok-42", final.TokenID())
	assert.NotEmpty(t, final.ExecutionTraceID())

	// One closed record per stage, in order, all attempt 1
	runs, err := f.runRepo.FindByMVPID(context.Background(), m.ID().String())
	require.NoError(t, err)
	require.Len(t, runs, 5)
	wantStages := []string{"ideation", "architecture", "building", "deployment", "tokenization"}
	for i, run := range runs {
		assert.Equal(t, wantStages[i], run.Stage)
		assert.Equal(t, repository.RunStatusCompleted, run.Status)
		assert.Equal(t, 1, run.AttemptNumber)
		assert.Equal(t, final.ExecutionTraceID(), run.TraceID)
		require.NotNil(t, run.CompletedAt)
		require.NotNil(t, run.DurationMS)
		assert.False(t, run.CompletedAt.Before(run.StartedAt))
	}

	assert.Equal(t, 1, f.metrics.succeeded)
	assert.Zero(t, f.metrics.active, "active gauge must return to zero")
}

func TestPipelineUseCase_Run_CostLimitAbortsBeforeNextStage(t *testing.T) {
	f := newFixture(t, 3)
	f.gateway.succeed(model.StageIdeation, `{"idea_summary": "x"}`, 100, 1.0)
	f.gateway.succeed(model.StageArchitecture, `{"architecture": "x"}`, 100, 1.0)
	// Building blows through the ceiling; the violation is caught at the
	// next stage's pre-check, never mid-stage.
	f.gateway.succeed(model.StageBuilding, `{"build_summary": "x"}`, 5000, 10.0)
	m := f.newMVP(t, 5.0)

	err := f.uc.Run(context.Background(), m.ID())
	require.Error(t, err)

	var costErr *service.CostLimitExceededError
	require.ErrorAs(t, err, &costErr)
	assert.InDelta(t, 12.0, costErr.CurrentCost, 1e-9)

	final, ferr := f.mvpRepo.Find(context.Background(), m.ID())
	require.NoError(t, ferr)
	assert.Equal(t, model.StatusFailed, final.Status())
	assert.Equal(t, "cost_or_runtime_limit", final.LastErrorStage())
	assert.InDelta(t, 12.0, final.TotalCostEstimate(), 1e-9)

	// Deployment was never attempted
	assert.NotContains(t, f.gateway.executedStages(), model.StageDeployment)

	runs, rerr := f.runRepo.FindByMVPID(context.Background(), m.ID().String())
	require.NoError(t, rerr)
	assert.Len(t, runs, 3)

	require.Len(t, f.metrics.failureReasons, 1)
	assert.Equal(t, "cost_limit", f.metrics.failureReasons[0])
}

func TestPipelineUseCase_Run_RuntimeLimitAbortsSecondStage(t *testing.T) {
	f := newFixture(t, 3)
	guardrails := service.NewGuardrailService(time.Second, 0, f.metrics, nil)
	f.uc = NewPipelineUseCase(f.mvpRepo, f.runRepo, f.gateway, guardrails, f.metrics, nil, 3)
	f.gateway.succeed(model.StageIdeation, `{"idea_summary": "x"}`, 100, 0.10)
	m := f.newMVP(t, 10.0)

	// The first stage takes two seconds against a one-second ceiling: it
	// completes undisturbed, and the second stage's pre-check aborts.
	now := time.Now()
	f.uc.SetClock(func() time.Time { return now })
	guardrails.SetClock(func() time.Time { return now })
	f.gateway.onExecute = func() { now = now.Add(2 * time.Second) }

	err := f.uc.Run(context.Background(), m.ID())
	require.Error(t, err)

	var runtimeErr *service.RuntimeLimitExceededError
	require.ErrorAs(t, err, &runtimeErr)

	assert.Equal(t, []model.Stage{model.StageIdeation}, f.gateway.executedStages())
	require.Len(t, f.metrics.failureReasons, 1)
	assert.Equal(t, "runtime_limit", f.metrics.failureReasons[0])

	final, ferr := f.mvpRepo.Find(context.Background(), m.ID())
	require.NoError(t, ferr)
	assert.Equal(t, model.StatusFailed, final.Status())
	assert.Equal(t, "cost_or_runtime_limit", final.LastErrorStage())

	// The completed first stage is still recorded as such
	runs, rerr := f.runRepo.FindByMVPID(context.Background(), m.ID().String())
	require.NoError(t, rerr)
	require.Len(t, runs, 1)
	assert.Equal(t, repository.RunStatusCompleted, runs[0].Status)
}

func TestPipelineUseCase_Run_StageFailureParksForRetry(t *testing.T) {
	f := newFixture(t, 3)
	f.gateway.succeed(model.StageIdeation, `{"idea_summary": "x"}`, 100, 0.10)
	f.gateway.succeed(model.StageArchitecture, `{"architecture": "x"}`, 100, 0.10)
	f.gateway.fail(model.StageBuilding, "compile error", 200, 0.20)
	m := f.newMVP(t, 10.0)

	err := f.uc.Run(context.Background(), m.ID())
	require.Error(t, err)

	var stageErr *StageExecutionError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, model.StageBuilding, stageErr.Stage)

	final, ferr := f.mvpRepo.Find(context.Background(), m.ID())
	require.NoError(t, ferr)
	assert.Equal(t, model.StatusBuildFailed, final.Status())
	assert.Equal(t, 1, final.RetryCount())
	assert.Equal(t, "building", final.LastErrorStage())
	// Failed stage usage still counts
	assert.Equal(t, 400, final.TotalTokenUsage())

	// Parked, not terminally failed
	assert.Empty(t, f.metrics.failureReasons)

	runs, rerr := f.runRepo.FindByMVPID(context.Background(), m.ID().String())
	require.NoError(t, rerr)
	require.Len(t, runs, 3)
	assert.Equal(t, repository.RunStatusFailed, runs[2].Status)
}

func TestPipelineUseCase_Run_StageWithoutFailureStateParksInPlace(t *testing.T) {
	f := newFixture(t, 3)
	f.gateway.fail(model.StageIdeation, "no viable concept", 50, 0.05)
	m := f.newMVP(t, 10.0)

	err := f.uc.Run(context.Background(), m.ID())
	require.Error(t, err)

	var stageErr *StageExecutionError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, model.StageIdeation, stageErr.Stage)

	// Ideation has no failure state: the unit stays where it failed,
	// charged one retry, waiting for a recovery run.
	final, ferr := f.mvpRepo.Find(context.Background(), m.ID())
	require.NoError(t, ferr)
	assert.Equal(t, model.StatusIdeating, final.Status())
	assert.Equal(t, 1, final.RetryCount())
	assert.Equal(t, "ideation", final.LastErrorStage())
	assert.Empty(t, f.metrics.failureReasons)
}

func TestPipelineUseCase_Run_StageWithoutFailureStateExhaustsToFailed(t *testing.T) {
	f := newFixture(t, 3)
	f.gateway.fail(model.StageIdeation, "no viable concept", 50, 0.05)

	m := f.newMVP(t, 10.0)
	m.IncrementRetry()
	m.IncrementRetry()
	require.NoError(t, f.mvpRepo.Save(context.Background(), m))

	err := f.uc.Run(context.Background(), m.ID())
	require.Error(t, err)

	final, ferr := f.mvpRepo.Find(context.Background(), m.ID())
	require.NoError(t, ferr)
	assert.Equal(t, model.StatusFailed, final.Status())
	assert.Equal(t, 3, final.RetryCount())

	require.Len(t, f.metrics.failureReasons, 1)
	assert.Equal(t, "stage_error", f.metrics.failureReasons[0])
}

func TestPipelineUseCase_Run_RetriesExhaustedGoesTerminal(t *testing.T) {
	f := newFixture(t, 3)
	f.gateway.fail(model.StageBuilding, "still broken", 100, 0.10)

	m := f.newMVP(t, 10.0)
	require.NoError(t, m.UpdateStatus(model.StatusIdeating))
	require.NoError(t, m.UpdateStatus(model.StatusArchitecting))
	require.NoError(t, m.UpdateStatus(model.StatusBuilding))
	require.NoError(t, m.UpdateStatus(model.StatusBuildFailed))
	m.IncrementRetry()
	m.IncrementRetry()
	require.NoError(t, f.mvpRepo.Save(context.Background(), m))

	err := f.uc.Run(context.Background(), m.ID())
	require.Error(t, err)

	final, ferr := f.mvpRepo.Find(context.Background(), m.ID())
	require.NoError(t, ferr)
	assert.Equal(t, model.StatusFailed, final.Status())
	assert.Equal(t, 3, final.RetryCount())

	// The new attempt is numbered after the prior retries
	runs, rerr := f.runRepo.FindByMVPID(context.Background(), m.ID().String())
	require.NoError(t, rerr)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].AttemptNumber)

	require.Len(t, f.metrics.failureReasons, 1)
	assert.Equal(t, "stage_error", f.metrics.failureReasons[0])
}

func TestPipelineUseCase_Run_ResumesFromPersistedStatus(t *testing.T) {
	f := newFixture(t, 3)
	f.scriptHappyPath()

	m := f.newMVP(t, 10.0)
	require.NoError(t, m.UpdateStatus(model.StatusIdeating))
	require.NoError(t, m.UpdateStatus(model.StatusArchitecting))
	require.NoError(t, m.UpdateStatus(model.StatusBuilding))
	require.NoError(t, f.mvpRepo.Save(context.Background(), m))

	require.NoError(t, f.uc.Run(context.Background(), m.ID()))

	// Earlier stages are not re-executed
	assert.Equal(t,
		[]model.Stage{model.StageBuilding, model.StageDeployment, model.StageTokenization},
		f.gateway.executedStages())

	final, err := f.mvpRepo.Find(context.Background(), m.ID())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, final.Status())
}

func TestPipelineUseCase_Run_TerminalStatusRejected(t *testing.T) {
	f := newFixture(t, 3)
	m := f.newMVP(t, 10.0)
	require.NoError(t, m.UpdateStatus(model.StatusIdeating))
	require.NoError(t, m.UpdateStatus(model.StatusFailed))
	require.NoError(t, f.mvpRepo.Save(context.Background(), m))

	err := f.uc.Run(context.Background(), m.ID())
	require.Error(t, err)

	var conflict *service.PipelineConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Empty(t, f.gateway.executedStages())
}

func TestPipelineUseCase_Run_InfraFaultForceClosesRecord(t *testing.T) {
	f := newFixture(t, 3)
	f.gateway.succeed(model.StageIdeation, `{"idea_summary": "x"}`, 100, 0.10)
	f.gateway.errs[model.StageArchitecture] = errors.New("gateway connection lost")
	m := f.newMVP(t, 10.0)

	err := f.uc.Run(context.Background(), m.ID())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway connection lost")

	// No record may be left open after a fault
	runs, rerr := f.runRepo.FindByMVPID(context.Background(), m.ID().String())
	require.NoError(t, rerr)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.NotEqual(t, repository.RunStatusRunning, run.Status)
	}
	assert.Equal(t, repository.RunStatusFailed, runs[1].Status)
	require.NotNil(t, runs[1].CompletedAt)

	// A fault charges the retry budget and parks the unit like any other
	// stage failure
	final, ferr := f.mvpRepo.Find(context.Background(), m.ID())
	require.NoError(t, ferr)
	assert.Equal(t, model.StatusArchitecting, final.Status())
	assert.Equal(t, 1, final.RetryCount())
	assert.Equal(t, "architecture", final.LastErrorStage())
	assert.Empty(t, f.metrics.failureReasons)
}
