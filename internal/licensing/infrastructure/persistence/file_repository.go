package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/felixgeelhaar/nekosync/internal/licensing/domain"
)

// FileRepository stores the license record as a JSON file on disk. Writes
// go through a temp file and rename so a crash mid-write never leaves a
// truncated record.
type FileRepository struct {
	mu       sync.RWMutex
	filePath string
}

// NewFileRepository creates a repository backed by the file at filePath.
func NewFileRepository(filePath string) *FileRepository {
	return &FileRepository{filePath: filePath}
}

// Load reads the stored license. A missing file means the device was
// never activated and returns nil, nil.
func (r *FileRepository) Load(ctx context.Context) (*domain.License, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := os.ReadFile(r.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var license domain.License
	if err := json.Unmarshal(data, &license); err != nil {
		return nil, fmt.Errorf("license file %s is corrupt: %w", r.filePath, err)
	}
	return &license, nil
}

// Save writes the license record, creating parent directories as needed.
func (r *FileRepository) Save(ctx context.Context, license *domain.License) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.filePath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(license, "", "  ")
	if err != nil {
		return err
	}

	// Restrictive permissions: the record carries the license key.
	tmp := r.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, r.filePath); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Delete removes the license record. Deleting an absent record is not an
// error; deactivation must be idempotent.
func (r *FileRepository) Delete(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether a license record is stored.
func (r *FileRepository) Exists(ctx context.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, err := os.Stat(r.filePath)
	return err == nil
}

// FilePath returns where the license record lives.
func (r *FileRepository) FilePath() string {
	return r.filePath
}
