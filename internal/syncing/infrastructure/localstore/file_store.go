// Package localstore reads and writes the synced library file. The file's
// modification time is the local half of the last-writer-wins comparison, so
// pulls and pushes stamp the remote timestamp onto it; a file the user has
// touched since then compares newer and wins the next cycle.
package localstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/felixgeelhaar/nekosync/internal/syncing/domain"
)

// FileStore implements domain.LocalStore over a single library file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a local store for the library at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the library file path.
func (s *FileStore) Path() string {
	return s.path
}

// Snapshot returns the current library content and its modification time.
// Returns nil, nil when the library does not exist yet.
func (s *FileStore) Snapshot(ctx context.Context) (*domain.LocalSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	content, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	return &domain.LocalSnapshot{
		ModifiedAt: info.ModTime(),
		Content:    content,
	}, nil
}

// Apply replaces the library with a pulled remote snapshot and stamps the
// remote modification time on the file. Writes go through a temp file and
// rename so a crash mid-pull never leaves a truncated library.
func (s *FileStore) Apply(ctx context.Context, snap *domain.RemoteSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, snap.Content, 0600); err != nil {
		return err
	}
	if err := os.Chtimes(tmp, snap.ModifiedAt, snap.ModifiedAt); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// MarkPushed stamps the remote modification time onto the library after a
// push, so an unchanged file compares equal to the remote next cycle. A
// library modified since the snapshot was taken is left alone; its newer
// content wins the next comparison.
func (s *FileStore) MarkPushed(ctx context.Context, snap *domain.LocalSnapshot, remoteModifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	if !info.ModTime().Equal(snap.ModifiedAt) {
		return nil
	}
	return os.Chtimes(s.path, remoteModifiedAt, remoteModifiedAt)
}

var _ domain.LocalStore = (*FileStore)(nil)
