package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveSnapshot(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/artifacts")

	path, err := store.SaveSnapshot(context.Background(), "mvp-1", "building", "output", []byte(`{"build_summary": "ok"}`))
	require.NoError(t, err)
	assert.Contains(t, path, "/artifacts/mvp-1/building/")
	assert.Contains(t, path, "output.json")

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"build_summary": "ok"}`, string(data))
}

func TestStore_RepeatedSnapshotsDoNotOverwrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/artifacts")

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	})

	first, err := store.SaveSnapshot(context.Background(), "mvp-1", "building", "output", []byte("a"))
	require.NoError(t, err)
	second, err := store.SaveSnapshot(context.Background(), "mvp-1", "building", "output", []byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	data, err := afero.ReadFile(fs, first)
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}
