package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eidolabs/forge/internal/domain/repository"
)

// AgentRunRepositoryImpl implements repository.AgentRunRepository using SQLite
type AgentRunRepositoryImpl struct {
	db *sql.DB
}

// NewAgentRunRepository creates a new AgentRunRepository implementation
func NewAgentRunRepository(db *sql.DB) repository.AgentRunRepository {
	return &AgentRunRepositoryImpl{db: db}
}

// Create inserts a new running record and assigns its ID
func (r *AgentRunRepositoryImpl) Create(ctx context.Context, run *repository.AgentRun) error {
	query := `
		INSERT INTO agent_runs (mvp_id, stage, status, attempt_number, stage_input,
		                        stage_output, llm_model, token_usage, cost_estimate,
		                        log, trace_id, started_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`

	result, err := r.db.ExecContext(ctx, query,
		run.MVPID, run.Stage, run.Status, run.AttemptNumber, run.StageInput,
		run.StageOutput, run.LLMModel, run.TokenUsage, run.CostEstimate,
		run.Log, run.TraceID, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create agent run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get agent run ID: %w", err)
	}
	run.ID = id

	return nil
}

// Close writes the terminal fields of a record. The append-only contract is
// enforced here: only a row still in running status can be closed.
func (r *AgentRunRepositoryImpl) Close(ctx context.Context, run *repository.AgentRun) error {
	query := `
		UPDATE agent_runs
		SET status = ?, stage_input = ?, stage_output = ?, llm_model = ?,
		    token_usage = ?, cost_estimate = ?, log = ?,
		    completed_at = ?, duration_ms = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		run.Status, run.StageInput, run.StageOutput, run.LLMModel,
		run.TokenUsage, run.CostEstimate, run.Log,
		run.CompletedAt, run.DurationMS,
		run.ID, repository.RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to close agent run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected failed: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("agent run %d not open for closing", run.ID)
	}

	return nil
}

// FindByMVPID retrieves all records for an MVP ordered by started_at
func (r *AgentRunRepositoryImpl) FindByMVPID(ctx context.Context, mvpID string) ([]*repository.AgentRun, error) {
	query := `
		SELECT id, mvp_id, stage, status, attempt_number, stage_input, stage_output,
		       llm_model, token_usage, cost_estimate, log, trace_id,
		       started_at, completed_at, duration_ms, created_at
		FROM agent_runs
		WHERE mvp_id = ?
		ORDER BY started_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, mvpID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent runs: %w", err)
	}
	defer rows.Close()

	var runs []*repository.AgentRun
	for rows.Next() {
		run := &repository.AgentRun{}
		var completedAt sql.NullTime
		var durationMS sql.NullInt64

		err := rows.Scan(
			&run.ID, &run.MVPID, &run.Stage, &run.Status, &run.AttemptNumber,
			&run.StageInput, &run.StageOutput, &run.LLMModel,
			&run.TokenUsage, &run.CostEstimate, &run.Log, &run.TraceID,
			&run.StartedAt, &completedAt, &durationMS, &run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent run: %w", err)
		}

		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		if durationMS.Valid {
			run.DurationMS = &durationMS.Int64
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent runs: %w", err)
	}

	return runs, nil
}
