// Package artifact stores stage input/output snapshots on a filesystem.
package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/eidolabs/forge/internal/application/port/output"
)

// Store persists stage snapshots under <root>/<mvp_id>/<stage>/. The afero
// abstraction lets tests run against an in-memory filesystem.
type Store struct {
	fs    afero.Fs
	root  string
	clock func() time.Time
}

var _ output.ArtifactStore = (*Store)(nil)

// NewStore creates a Store over the given filesystem
func NewStore(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root, clock: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (s *Store) SetClock(clock func() time.Time) {
	s.clock = clock
}

// SaveSnapshot writes one snapshot and returns its path. Snapshots are
// timestamped so repeated attempts never overwrite each other.
func (s *Store) SaveSnapshot(_ context.Context, mvpID, stage, kind string, data []byte) (string, error) {
	dir := filepath.Join(s.root, mvpID, stage)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", s.clock().UTC().Format("20060102T150405.000000000"), kind)
	path := filepath.Join(dir, name)

	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}
