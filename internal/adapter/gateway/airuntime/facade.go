// Package airuntime adapts the LLM router to the pipeline's agent gateway
// port: it turns a stage request into prompts, executes the routed call, and
// shapes the outcome into a stage result.
package airuntime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eidolabs/forge/internal/adapter/gateway/llm"
	"github.com/eidolabs/forge/internal/app"
	"github.com/eidolabs/forge/internal/application/port/output"
	"github.com/eidolabs/forge/internal/domain/model"
	"github.com/eidolabs/forge/internal/domain/model/mvp"
	"github.com/eidolabs/forge/internal/domain/repository"
)

// fallbackModels is the ordered ladder tried when the primary model is
// throttled. The cursor survives across stages within one process so a
// saturated model is not retried immediately.
var fallbackModels = []string{"claude-3-haiku", "gpt-3.5-turbo"}

// Facade executes pipeline stages through the LLM router
type Facade struct {
	mvpRepo    repository.MVPRepository
	router     *llm.Router
	stageDelay time.Duration
	sleep      func(time.Duration)

	mu             sync.Mutex
	fallbackCursor int
}

// NewFacade creates a Facade
func NewFacade(mvpRepo repository.MVPRepository, router *llm.Router, stageDelay time.Duration) *Facade {
	return &Facade{
		mvpRepo:    mvpRepo,
		router:     router,
		stageDelay: stageDelay,
		sleep:      time.Sleep,
	}
}

// SetSleep overrides the stage pacing delay. Used by tests.
func (f *Facade) SetSleep(sleep func(time.Duration)) {
	f.sleep = sleep
}

func taskTypeForStage(stage model.Stage) llm.TaskType {
	switch stage {
	case model.StageIdeation:
		return llm.TaskIdeation
	case model.StageArchitecture:
		return llm.TaskArchitecture
	case model.StageBuilding:
		return llm.TaskBuilding
	case model.StageDeployment:
		return llm.TaskDeployment
	case model.StageTokenization:
		return llm.TaskTokenization
	default:
		return llm.TaskSummary
	}
}

// requiredFieldsForStage lists the JSON keys a stage's output must carry
func requiredFieldsForStage(stage model.Stage) []string {
	switch stage {
	case model.StageIdeation:
		return []string{"idea_summary"}
	case model.StageArchitecture:
		return []string{"architecture"}
	case model.StageBuilding:
		return []string{"build_summary"}
	case model.StageDeployment:
		return []string{"deployment_url"}
	case model.StageTokenization:
		return []string{"token_id"}
	default:
		return nil
	}
}

func stagePrompts(stage model.Stage, m *mvp.MVP) (system, user string) {
	system = "You are an autonomous product engineer building an MVP end to end. " +
		"Respond with only a JSON object."

	switch stage {
	case model.StageIdeation:
		user = fmt.Sprintf(
			"Refine the following product idea into a concrete MVP concept.\nProduct: %s\nIdea: %s\n"+
				"Return JSON with field idea_summary.",
			m.Name(), m.IdeaSummary())
	case model.StageArchitecture:
		user = fmt.Sprintf(
			"Design the technical architecture for this MVP.\nProduct: %s\nConcept: %s\n"+
				"Return JSON with field architecture.",
			m.Name(), m.IdeaSummary())
	case model.StageBuilding:
		user = fmt.Sprintf(
			"Implement the MVP described below and summarize what was built.\nProduct: %s\nConcept: %s\n"+
				"Return JSON with field build_summary.",
			m.Name(), m.IdeaSummary())
	case model.StageDeployment:
		user = fmt.Sprintf(
			"Deploy the built MVP and report where it is reachable.\nProduct: %s\n"+
				"Return JSON with field deployment_url.",
			m.Name())
	case model.StageTokenization:
		user = fmt.Sprintf(
			"Register an ownership token for the deployed MVP at %s.\nProduct: %s\n"+
				"Return JSON with field token_id.",
			m.DeploymentURL(), m.Name())
	}
	return system, user
}

func (f *Facade) nextFallbackModel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fallbackCursor >= len(fallbackModels) {
		return ""
	}
	model := fallbackModels[f.fallbackCursor]
	f.fallbackCursor++
	return model
}

// ExecuteStage runs one stage for the given unit. Expected stage failures are
// reported via Success=false; only infrastructure faults (missing unit,
// storage errors) surface as Go errors.
func (f *Facade) ExecuteStage(ctx context.Context, stage model.Stage, mvpID model.MVPID) (*output.StageResult, error) {
	m, err := f.mvpRepo.Find(ctx, mvpID)
	if err != nil {
		return nil, fmt.Errorf("load MVP for stage %s: %w", stage, err)
	}

	// The unit's durable totals may include usage this process never saw
	// (earlier runs, delegated execution). Report them so the router's
	// process-wide stats stay at least as high.
	f.router.ReportPersistedUsage(m.TotalTokenUsage(), m.TotalCostEstimate())

	if f.stageDelay > 0 {
		f.sleep(f.stageDelay)
	}

	system, user := stagePrompts(stage, m)
	req := llm.CallRequest{
		Task:           taskTypeForStage(stage),
		SystemPrompt:   system,
		Prompt:         user,
		RequiredFields: requiredFieldsForStage(stage),
	}

	tracker := llm.NewUsageTracker()
	result, err := f.router.ExecuteCall(ctx, req, tracker)
	for err != nil && errors.Is(err, llm.ErrThrottled) {
		fallback := f.nextFallbackModel()
		if fallback == "" {
			break
		}
		app.GetLogger().Warn("model throttled for stage %s, falling back to %s", stage, fallback)
		req.ModelOverride = fallback
		result, err = f.router.ExecuteCall(ctx, req, tracker)
	}

	stats := tracker.Stats()

	if err != nil {
		var routerErr *llm.RouterError
		modelName := ""
		if errors.As(err, &routerErr) {
			modelName = routerErr.Model
		}
		return &output.StageResult{
			Stage:        stage,
			Success:      false,
			StageInput:   user,
			LLMModel:     modelName,
			TokenUsage:   stats.Tokens,
			CostEstimate: stats.Cost,
			Logs:         []string{err.Error()},
			Error:        err.Error(),
		}, nil
	}

	global := f.router.UsageStats()
	app.GetLogger().Debug("stage %s done: tokens=%d cost=$%.4f (process totals: tokens=%d cost=$%.4f)",
		stage, stats.Tokens, stats.Cost, global.Tokens, global.Cost)

	return &output.StageResult{
		Stage:        stage,
		Success:      true,
		StageInput:   user,
		StageOutput:  result.Output,
		LLMModel:     result.Model,
		TokenUsage:   stats.Tokens,
		CostEstimate: stats.Cost,
		Logs:         []string{fmt.Sprintf("stage %s completed in %d attempt(s)", stage, result.Attempts)},
	}, nil
}
