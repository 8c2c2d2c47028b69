// Package di wires the application together with manual dependency
// injection in dependency order: infrastructure, services, use cases.
package di

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/eidolabs/forge/internal/adapter/gateway/airuntime"
	"github.com/eidolabs/forge/internal/adapter/gateway/llm"
	appconfig "github.com/eidolabs/forge/internal/app/config"
	"github.com/eidolabs/forge/internal/application/port/output"
	"github.com/eidolabs/forge/internal/application/service"
	"github.com/eidolabs/forge/internal/application/usecase/pipeline"
	"github.com/eidolabs/forge/internal/domain/repository"
	"github.com/eidolabs/forge/internal/infrastructure/alert"
	"github.com/eidolabs/forge/internal/infrastructure/artifact"
	"github.com/eidolabs/forge/internal/infrastructure/metrics"
	sqliterepo "github.com/eidolabs/forge/internal/infrastructure/persistence/sqlite"
)

// Container holds all wired dependencies
type Container struct {
	db *sql.DB

	// Repositories
	mvpRepo repository.MVPRepository
	runRepo repository.AgentRunRepository

	// Gateways and collaborators
	agentGateway output.AgentGateway
	metrics      output.MetricsRecorder
	notifier     output.AlertNotifier
	artifacts    output.ArtifactStore

	// Services
	mvpService *service.MVPService
	guardrails *service.GuardrailService

	// Use cases
	pipelineUseCase *pipeline.PipelineUseCase
	recoveryScanner *pipeline.RecoveryScanner

	config appconfig.Config
}

// NewContainer creates and initializes the container
func NewContainer(cfg appconfig.Config) (*Container, error) {
	c := &Container{config: cfg}

	if err := c.initializeInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}
	c.initializeServices()
	c.initializeUseCases()

	return c, nil
}

func (c *Container) initializeInfrastructure() error {
	if dir := filepath.Dir(c.config.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", c.config.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	c.db = db

	if err := sqliterepo.NewMigrator(db).Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate database: %w", err)
	}

	c.mvpRepo = sqliterepo.NewMVPRepository(db)
	c.runRepo = sqliterepo.NewAgentRunRepository(db)

	c.metrics = metrics.NewRecorder(prometheus.DefaultRegisterer)

	if c.config.AlertWebhookURL != "" {
		c.notifier = alert.NewWebhookNotifier(c.config.AlertWebhookURL)
	}

	c.artifacts = artifact.NewStore(afero.NewOsFs(), c.config.ArtifactsDir)

	c.agentGateway = airuntime.NewFacade(c.mvpRepo, c.buildRouter(), c.config.StageDelay)
	return nil
}

// buildRouter assembles the LLM router. Providers without API keys run in
// stub mode so the pipeline works offline.
func (c *Container) buildRouter() *llm.Router {
	clients := map[string]llm.ProviderClient{}

	if c.config.AnthropicAPIKey != "" {
		clients["anthropic"] = llm.NewAnthropicClient(c.config.AnthropicAPIKey)
	} else {
		clients["anthropic"] = llm.NewStubClient("anthropic")
	}
	if c.config.OpenAIAPIKey != "" {
		clients["openai"] = llm.NewOpenAIClient(c.config.OpenAIAPIKey)
	} else {
		clients["openai"] = llm.NewStubClient("openai")
	}

	taskModels := map[llm.TaskType]string{
		llm.TaskIdeation:     c.config.IdeationModel,
		llm.TaskArchitecture: c.config.ArchitectureModel,
		llm.TaskBuilding:     c.config.BuildingModel,
		llm.TaskDeployment:   c.config.DeploymentModel,
		llm.TaskTokenization: c.config.TokenizationModel,
		llm.TaskSummary:      c.config.SummaryModel,
	}

	return llm.NewRouter(clients, taskModels, c.config.DefaultModel, c.config.MaxLLMRetries)
}

func (c *Container) initializeServices() {
	c.mvpService = service.NewMVPService(c.mvpRepo, c.metrics)
	c.guardrails = service.NewGuardrailService(
		c.config.MaxTotalRuntime, c.config.AlertCostThreshold, c.metrics, c.notifier)
}

func (c *Container) initializeUseCases() {
	c.pipelineUseCase = pipeline.NewPipelineUseCase(
		c.mvpRepo, c.runRepo, c.agentGateway, c.guardrails,
		c.metrics, c.artifacts, c.config.MaxAgentRetries)
	c.recoveryScanner = pipeline.NewRecoveryScanner(c.mvpRepo, c.pipelineUseCase)
}

// Close releases held resources
func (c *Container) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Config returns the effective configuration
func (c *Container) Config() appconfig.Config { return c.config }

// MVPService returns the MVP lifecycle service
func (c *Container) MVPService() *service.MVPService { return c.mvpService }

// PipelineUseCase returns the pipeline orchestrator
func (c *Container) PipelineUseCase() *pipeline.PipelineUseCase { return c.pipelineUseCase }

// RecoveryScanner returns the crash-recovery scanner
func (c *Container) RecoveryScanner() *pipeline.RecoveryScanner { return c.recoveryScanner }

// AgentRunRepository returns the execution-record repository
func (c *Container) AgentRunRepository() repository.AgentRunRepository { return c.runRepo }
