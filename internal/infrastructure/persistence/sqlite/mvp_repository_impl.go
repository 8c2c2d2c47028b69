package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eidolabs/forge/internal/domain/model"
	"github.com/eidolabs/forge/internal/domain/model/mvp"
	"github.com/eidolabs/forge/internal/domain/repository"
)

// MVPRepositoryImpl implements repository.MVPRepository with SQLite
type MVPRepositoryImpl struct {
	db *sql.DB
}

// NewMVPRepository creates a new SQLite-based MVP repository
func NewMVPRepository(db *sql.DB) repository.MVPRepository {
	return &MVPRepositoryImpl{db: db}
}

const mvpColumns = `id, name, status, idea_summary, deployment_url, token_id,
	       retry_count, total_token_usage, total_cost_estimate, max_allowed_cost,
	       execution_trace_id, last_error_stage, created_at, updated_at`

// Save persists an MVP entity
func (r *MVPRepositoryImpl) Save(ctx context.Context, m *mvp.MVP) error {
	query := `
		INSERT INTO mvps (id, name, status, idea_summary, deployment_url, token_id,
		                  retry_count, total_token_usage, total_cost_estimate, max_allowed_cost,
		                  execution_trace_id, last_error_stage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			idea_summary = excluded.idea_summary,
			deployment_url = excluded.deployment_url,
			token_id = excluded.token_id,
			retry_count = excluded.retry_count,
			total_token_usage = excluded.total_token_usage,
			total_cost_estimate = excluded.total_cost_estimate,
			max_allowed_cost = excluded.max_allowed_cost,
			execution_trace_id = excluded.execution_trace_id,
			last_error_stage = excluded.last_error_stage,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		m.ID().String(), m.Name(), string(m.Status()), m.IdeaSummary(),
		m.DeploymentURL(), m.TokenID(),
		m.RetryCount(), m.TotalTokenUsage(), m.TotalCostEstimate(), m.MaxAllowedCost(),
		m.ExecutionTraceID(), m.LastErrorStage(),
		m.CreatedAt().Value(), m.UpdatedAt().Value(),
	)
	if err != nil {
		return fmt.Errorf("save MVP failed: %w", err)
	}

	return nil
}

// Find retrieves an MVP by its ID
func (r *MVPRepositoryImpl) Find(ctx context.Context, id model.MVPID) (*mvp.MVP, error) {
	query := "SELECT " + mvpColumns + " FROM mvps WHERE id = ?"
	return scanMVP(r.db.QueryRowContext(ctx, query, id.String()))
}

// List retrieves MVPs by filter
func (r *MVPRepositoryImpl) List(ctx context.Context, filter repository.MVPFilter) ([]*mvp.MVP, error) {
	query := "SELECT " + mvpColumns + " FROM mvps WHERE 1=1"
	args := []interface{}{}

	if len(filter.Statuses) > 0 {
		query += " AND status IN ("
		for i, status := range filter.Statuses {
			if i > 0 {
				query += ", "
			}
			query += "?"
			args = append(args, string(status))
		}
		query += ")"
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list MVPs failed: %w", err)
	}
	defer rows.Close()

	var mvps []*mvp.MVP
	for rows.Next() {
		m, err := scanMVP(rows)
		if err != nil {
			return nil, err
		}
		mvps = append(mvps, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate MVPs failed: %w", err)
	}

	return mvps, nil
}

// rowScanner abstracts sql.Row and sql.Rows for scanning
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMVP(row rowScanner) (*mvp.MVP, error) {
	var (
		id, name, status, ideaSummary     string
		deploymentURL, tokenID            string
		retryCount, totalTokenUsage       int
		totalCostEstimate, maxAllowedCost float64
		executionTraceID, lastErrorStage  string
		createdAt, updatedAt              time.Time
	)

	err := row.Scan(
		&id, &name, &status, &ideaSummary, &deploymentURL, &tokenID,
		&retryCount, &totalTokenUsage, &totalCostEstimate, &maxAllowedCost,
		&executionTraceID, &lastErrorStage, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrMVPNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan MVP failed: %w", err)
	}

	mvpID, err := model.NewMVPIDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("invalid MVP ID in database: %w", err)
	}

	return mvp.Reconstruct(
		mvpID, name, model.Status(status), ideaSummary, deploymentURL, tokenID,
		retryCount, totalTokenUsage, totalCostEstimate, maxAllowedCost,
		executionTraceID, lastErrorStage, createdAt, updatedAt,
	), nil
}
