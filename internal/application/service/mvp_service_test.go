package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidolabs/forge/internal/domain/model"
	"github.com/eidolabs/forge/internal/domain/model/mvp"
	"github.com/eidolabs/forge/internal/domain/repository"
)

// memoryMVPRepo is a map-backed repository for service tests
type memoryMVPRepo struct {
	mvps map[string]*mvp.MVP
}

func newMemoryMVPRepo() *memoryMVPRepo {
	return &memoryMVPRepo{mvps: make(map[string]*mvp.MVP)}
}

func (r *memoryMVPRepo) Save(_ context.Context, m *mvp.MVP) error {
	r.mvps[m.ID().String()] = m
	return nil
}

func (r *memoryMVPRepo) Find(_ context.Context, id model.MVPID) (*mvp.MVP, error) {
	m, ok := r.mvps[id.String()]
	if !ok {
		return nil, repository.ErrMVPNotFound
	}
	return m, nil
}

func (r *memoryMVPRepo) List(_ context.Context, filter repository.MVPFilter) ([]*mvp.MVP, error) {
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

func TestMVPService_CreateMVP(t *testing.T) {
	repo := newMemoryMVPRepo()
	svc := NewMVPService(repo, &recordingMetrics{})

	m, err := svc.CreateMVP(context.Background(), "Test", "idea", 10.0)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, m.Status())

	found, err := svc.GetMVP(context.Background(), m.ID())
	require.NoError(t, err)
	assert.Equal(t, m.ID().String(), found.ID().String())
}

func TestMVPService_CreateMVP_Invalid(t *testing.T) {
	svc := NewMVPService(newMemoryMVPRepo(), &recordingMetrics{})

	_, err := svc.CreateMVP(context.Background(), "", "idea", 10.0)
	assert.Error(t, err)

	_, err = svc.CreateMVP(context.Background(), "ok", "idea", -5)
	assert.Error(t, err)
}

func TestMVPService_CheckPipelineAdmission(t *testing.T) {
	repo := newMemoryMVPRepo()
	svc := NewMVPService(repo, &recordingMetrics{})
	ctx := context.Background()

	m, err := svc.CreateMVP(ctx, "Test", "idea", 10.0)
	require.NoError(t, err)

	// CREATED unit is admitted
	_, err = svc.CheckPipelineAdmission(ctx, m.ID())
	assert.NoError(t, err)

	// In-flight unit already has a run; a second start is a conflict
	require.NoError(t, m.UpdateStatus(model.StatusIdeating))

	_, err = svc.CheckPipelineAdmission(ctx, m.ID())
	require.Error(t, err)

	var conflict *PipelineConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 409, conflict.StatusCode())
	assert.Equal(t, model.StatusIdeating, conflict.Status)

	// Terminal unit is rejected too
	require.NoError(t, m.UpdateStatus(model.StatusFailed))
	_, err = svc.CheckPipelineAdmission(ctx, m.ID())
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.StatusFailed, conflict.Status)
}

func TestMVPService_CheckPipelineAdmission_NotFound(t *testing.T) {
	svc := NewMVPService(newMemoryMVPRepo(), &recordingMetrics{})

	id, err := model.NewMVPIDFromString("missing")
	require.NoError(t, err)

	_, err = svc.CheckPipelineAdmission(context.Background(), id)
	assert.ErrorIs(t, err, repository.ErrMVPNotFound)
}
