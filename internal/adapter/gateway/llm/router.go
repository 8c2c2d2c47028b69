package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eidolabs/forge/internal/app"
)

// TaskType selects which model handles a call
type TaskType string

const (
	TaskIdeation     TaskType = "ideation"
	TaskArchitecture TaskType = "architecture"
	TaskBuilding     TaskType = "building"
	TaskDeployment   TaskType = "deployment"
	TaskTokenization TaskType = "tokenization"
	TaskSummary      TaskType = "summary"
)

// RouterError is returned when a call fails after all validation retries
type RouterError struct {
	Task     TaskType
	Model    string
	Attempts int
	Err      error
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("LLM call failed for task %s on %s after %d attempt(s): %v", e.Task, e.Model, e.Attempts, e.Err)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// CallRequest is one routed model invocation
type CallRequest struct {
	Task         TaskType
	SystemPrompt string
	Prompt       string
	// RequiredFields are top-level JSON keys the output must contain.
	// Empty means free-form output, no validation.
	RequiredFields []string
	// ModelOverride bypasses the task routing table when set
	ModelOverride string
}

// CallResult is the validated outcome of a routed call
type CallResult struct {
	Model      string
	Output     string
	Fields     map[string]interface{}
	TokenUsage int
	Cost       float64
	Attempts   int
}

// Router maps task types to models and providers, validates structured
// output, and accounts usage for every attempt including failed ones.
type Router struct {
	clients      map[string]ProviderClient
	taskModels   map[TaskType]string
	defaultModel string
	maxRetries   int
	sleep        func(time.Duration)
	usage        *UsageTracker
}

// NewRouter creates a Router. clients is keyed by provider name.
func NewRouter(clients map[string]ProviderClient, taskModels map[TaskType]string, defaultModel string, maxRetries int) *Router {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Router{
		clients:      clients,
		taskModels:   taskModels,
		defaultModel: defaultModel,
		maxRetries:   maxRetries,
		sleep:        time.Sleep,
		usage:        NewUsageTracker(),
	}
}

// ReportPersistedUsage feeds durable totals recorded outside direct router
// calls (usage persisted by earlier processes or delegated execution layers)
// into the router's own tracker.
func (r *Router) ReportPersistedUsage(tokens int, cost float64) {
	r.usage.ReportPersisted(tokens, cost)
}

// UsageStats reports process-wide usage: the higher of the totals tracked
// across direct calls and the totals reported out of band.
func (r *Router) UsageStats() UsageStats {
	return r.usage.Stats()
}

// SetSleep overrides the inter-attempt delay. Used by tests.
func (r *Router) SetSleep(sleep func(time.Duration)) {
	r.sleep = sleep
}

// ModelForTask resolves the model for a task type
func (r *Router) ModelForTask(task TaskType) string {
	if model, ok := r.taskModels[task]; ok && model != "" {
		return model
	}
	return r.defaultModel
}

func providerForModel(model string) string {
	if strings.HasPrefix(model, "claude") {
		return "anthropic"
	}
	return "openai"
}

// ExecuteCall routes a call to the task's model, retrying with a corrective
// prompt when the output fails schema validation. Usage from every attempt
// is added to tracker whether or not the attempt succeeded.
func (r *Router) ExecuteCall(ctx context.Context, req CallRequest, tracker *UsageTracker) (*CallResult, error) {
	model := req.ModelOverride
	if model == "" {
		model = r.ModelForTask(req.Task)
	}

	provider := providerForModel(model)
	client, ok := r.clients[provider]
	if !ok {
		return nil, &RouterError{Task: req.Task, Model: model, Attempts: 0,
			Err: fmt.Errorf("no client for provider %s", provider)}
	}

	prompt := req.Prompt
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if attempt > 1 {
			r.sleep(time.Duration(1<<(attempt-1)) * time.Second)
		}

		completion, err := client.Complete(ctx, CompletionRequest{
			Model:        model,
			SystemPrompt: req.SystemPrompt,
			UserPrompt:   prompt,
		})
		if err != nil {
			if errors.Is(err, ErrThrottled) || ctx.Err() != nil {
				return nil, &RouterError{Task: req.Task, Model: model, Attempts: attempt, Err: err}
			}
			lastErr = err
			app.GetLogger().Warn("LLM call attempt %d/%d failed: task=%s model=%s err=%v",
				attempt, r.maxRetries, req.Task, model, err)
			continue
		}

		tokens, cost := accountUsage(model, prompt, completion, tracker)
		r.usage.Add(tokens, cost)

		fields, verr := validateOutput(completion.Text, req.RequiredFields)
		if verr != nil {
			lastErr = verr
			app.GetLogger().Warn("LLM output invalid on attempt %d/%d: task=%s model=%s err=%v",
				attempt, r.maxRetries, req.Task, model, verr)
			prompt = correctivePrompt(req.Prompt, req.RequiredFields, verr)
			continue
		}

		return &CallResult{
			Model:      model,
			Output:     completion.Text,
			Fields:     fields,
			TokenUsage: tokens,
			Cost:       cost,
			Attempts:   attempt,
		}, nil
	}

	return nil, &RouterError{Task: req.Task, Model: model, Attempts: r.maxRetries, Err: lastErr}
}

// accountUsage prices a completion and feeds the tracker. Provider-reported
// counts win; otherwise both sides are estimated from text.
func accountUsage(model, prompt string, c *Completion, tracker *UsageTracker) (int, float64) {
	in := c.InputTokens
	if in == 0 {
		in = EstimateTokens(model, prompt)
	}
	out := c.OutputTokens
	if out == 0 {
		out = EstimateTokens(model, c.Text)
	}

	tokens := in + out
	cost := EstimateCost(model, in, out)
	if tracker != nil {
		tracker.Add(tokens, cost)
	}
	return tokens, cost
}

// validateOutput parses the completion as JSON and checks required keys.
// Markdown code fences are tolerated; when the whole body is not valid JSON,
// the first balanced {...} block is extracted and parsed instead.
func validateOutput(output string, required []string) (map[string]interface{}, error) {
	if len(required) == 0 {
		return nil, nil
	}

	body := strings.TrimSpace(output)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
		body = strings.TrimSpace(body)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		block, ok := firstJSONObject(body)
		if !ok {
			return nil, fmt.Errorf("output is not a JSON object: %w", err)
		}
		if err := json.Unmarshal([]byte(block), &fields); err != nil {
			return nil, fmt.Errorf("output is not a JSON object: %w", err)
		}
	}

	var missing []string
	for _, key := range required {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("output missing required fields: %s", strings.Join(missing, ", "))
	}

	return fields, nil
}

// firstJSONObject returns the first balanced top-level {...} block in s.
// Braces inside JSON strings are ignored.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func correctivePrompt(original string, required []string, verr error) string {
	return fmt.Sprintf(
		"%s\n\nYour previous response was invalid: %v.\nRespond with only a JSON object containing the fields: %s.",
		original, verr, strings.Join(required, ", "),
	)
}
