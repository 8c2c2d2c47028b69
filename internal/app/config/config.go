// Package config holds the engine configuration with environment defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Default guardrail and retry constants
const (
	DefaultMaxAgentRetries    = 3
	DefaultMaxLLMRetries      = 3
	DefaultMaxTotalRuntime    = time.Hour
	DefaultMaxAllowedCost     = 10.0
	DefaultAlertCostThreshold = 50.0
	DefaultStageDelay         = 2 * time.Second
)

// Config is the effective engine configuration
type Config struct {
	DBPath       string
	ArtifactsDir string

	// Guardrails
	MaxAgentRetries    int
	MaxTotalRuntime    time.Duration
	DefaultMaxCost     float64
	AlertCostThreshold float64
	AlertWebhookURL    string

	// LLM routing
	MaxLLMRetries     int
	StageDelay        time.Duration
	DefaultModel      string
	IdeationModel     string
	ArchitectureModel string
	BuildingModel     string
	DeploymentModel   string
	TokenizationModel string
	SummaryModel      string

	// Provider credentials (empty enables stub mode)
	AnthropicAPIKey string
	OpenAIAPIKey    string
}

// Load builds a Config from environment variables with defaults
func Load() Config {
	get := func(k, def string) string {
		if v := os.Getenv(k); v != "" {
			return v
		}
		return def
	}
	toInt := func(s string, def int) int {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		return def
	}
	toFloat := func(s string, def float64) float64 {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return def
	}
	toDur := func(s string, def time.Duration) time.Duration {
		if s == "" {
			return def
		}
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
		if n, err := strconv.Atoi(s); err == nil {
			return time.Duration(n) * time.Second
		}
		return def
	}

	return Config{
		DBPath:       get("FORGE_DB_PATH", ".forge/forge.db"),
		ArtifactsDir: get("FORGE_ARTIFACTS_DIR", ".forge/artifacts"),

		MaxAgentRetries:    toInt(os.Getenv("FORGE_MAX_AGENT_RETRIES"), DefaultMaxAgentRetries),
		MaxTotalRuntime:    toDur(os.Getenv("FORGE_MAX_TOTAL_RUNTIME"), DefaultMaxTotalRuntime),
		DefaultMaxCost:     toFloat(os.Getenv("FORGE_DEFAULT_MAX_COST"), DefaultMaxAllowedCost),
		AlertCostThreshold: toFloat(os.Getenv("FORGE_ALERT_COST_THRESHOLD"), DefaultAlertCostThreshold),
		AlertWebhookURL:    os.Getenv("FORGE_ALERT_WEBHOOK_URL"),

		MaxLLMRetries:     toInt(os.Getenv("FORGE_MAX_LLM_RETRIES"), DefaultMaxLLMRetries),
		StageDelay:        toDur(os.Getenv("FORGE_STAGE_DELAY"), DefaultStageDelay),
		DefaultModel:      get("FORGE_DEFAULT_MODEL", "gpt-4-turbo"),
		IdeationModel:     get("FORGE_IDEATION_MODEL", "claude-3-sonnet"),
		ArchitectureModel: get("FORGE_ARCHITECTURE_MODEL", "claude-3-opus"),
		BuildingModel:     get("FORGE_BUILDING_MODEL", "gpt-4-turbo"),
		DeploymentModel:   get("FORGE_DEPLOYMENT_MODEL", "gpt-3.5-turbo"),
		TokenizationModel: get("FORGE_TOKENIZATION_MODEL", "gpt-3.5-turbo"),
		SummaryModel:      get("FORGE_SUMMARY_MODEL", "claude-3-haiku"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
	}
}
