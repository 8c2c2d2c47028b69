// Package config loads optional settings files that overlay the
// environment-derived configuration. Absent file or absent fields leave the
// base values untouched.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	appconfig "github.com/eidolabs/forge/internal/app/config"
)

// Settings mirrors the settings file. Pointer fields distinguish "not set"
// from zero values.
type Settings struct {
	DBPath       *string `yaml:"db_path"`
	ArtifactsDir *string `yaml:"artifacts_dir"`

	MaxAgentRetries    *int     `yaml:"max_agent_retries"`
	MaxTotalRuntimeSec *int     `yaml:"max_total_runtime_sec"`
	DefaultMaxCost     *float64 `yaml:"default_max_cost"`
	AlertCostThreshold *float64 `yaml:"alert_cost_threshold"`
	AlertWebhookURL    *string  `yaml:"alert_webhook_url"`

	MaxLLMRetries *int `yaml:"max_llm_retries"`
	StageDelaySec *int `yaml:"stage_delay_sec"`

	Models struct {
		Default      *string `yaml:"default"`
		Ideation     *string `yaml:"ideation"`
		Architecture *string `yaml:"architecture"`
		Building     *string `yaml:"building"`
		Deployment   *string `yaml:"deployment"`
		Tokenization *string `yaml:"tokenization"`
		Summary      *string `yaml:"summary"`
	} `yaml:"models"`
}

// LoadSettings reads a settings file. A missing file returns empty settings.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	return &s, nil
}

// Apply overlays the set fields onto cfg
func (s *Settings) Apply(cfg *appconfig.Config) {
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}

	setStr(&cfg.DBPath, s.DBPath)
	setStr(&cfg.ArtifactsDir, s.ArtifactsDir)
	setStr(&cfg.AlertWebhookURL, s.AlertWebhookURL)

	if s.MaxAgentRetries != nil {
		cfg.MaxAgentRetries = *s.MaxAgentRetries
	}
	if s.MaxTotalRuntimeSec != nil {
		cfg.MaxTotalRuntime = time.Duration(*s.MaxTotalRuntimeSec) * time.Second
	}
	if s.DefaultMaxCost != nil {
		cfg.DefaultMaxCost = *s.DefaultMaxCost
	}
	if s.AlertCostThreshold != nil {
		cfg.AlertCostThreshold = *s.AlertCostThreshold
	}
	if s.MaxLLMRetries != nil {
		cfg.MaxLLMRetries = *s.MaxLLMRetries
	}
	if s.StageDelaySec != nil {
		cfg.StageDelay = time.Duration(*s.StageDelaySec) * time.Second
	}

	setStr(&cfg.DefaultModel, s.Models.Default)
	setStr(&cfg.IdeationModel, s.Models.Ideation)
	setStr(&cfg.ArchitectureModel, s.Models.Architecture)
	setStr(&cfg.BuildingModel, s.Models.Building)
	setStr(&cfg.DeploymentModel, s.Models.Deployment)
	setStr(&cfg.TokenizationModel, s.Models.Tokenization)
	setStr(&cfg.SummaryModel, s.Models.Summary)
}
