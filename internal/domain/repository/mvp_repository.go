package repository

import (
	"context"
	"errors"

	"github.com/eidolabs/forge/internal/domain/model"
	"github.com/eidolabs/forge/internal/domain/model/mvp"
)

// ErrMVPNotFound is returned when an MVP does not exist
var ErrMVPNotFound = errors.New("MVP not found")

// MVPFilter specifies criteria for listing MVPs
type MVPFilter struct {
	Statuses []model.Status
	Limit    int
	Offset   int
}

// MVPRepository persists MVP aggregates
type MVPRepository interface {
	// Save persists an MVP (insert or update)
	Save(ctx context.Context, m *mvp.MVP) error

	// Find retrieves an MVP by ID, or ErrMVPNotFound
	Find(ctx context.Context, id model.MVPID) (*mvp.MVP, error)

	// List retrieves MVPs matching the filter, newest first
	List(ctx context.Context, filter MVPFilter) ([]*mvp.MVP, error)
}
