package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/nekosync/internal/licensing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var savedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNewFileRepository(t *testing.T) {
	repo := NewFileRepository("/tmp/test-license.json")
	assert.NotNil(t, repo)
	assert.Equal(t, "/tmp/test-license.json", repo.FilePath())
}

func TestFileRepository_Load_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "nonexistent.json")

	repo := NewFileRepository(filePath)
	ctx := context.Background()

	license, err := repo.Load(ctx)
	assert.NoError(t, err)
	assert.Nil(t, license) // No file = nil license, no error
}

func TestFileRepository_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "license.json")

	repo := NewFileRepository(filePath)
	ctx := context.Background()

	license := domain.NewActivated("NEKO-TEST-1234-5678", "testuser", "pro", savedAt.Add(365*24*time.Hour), savedAt)

	err := repo.Save(ctx, license)
	require.NoError(t, err)

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, license.Key, loaded.Key)
	assert.Equal(t, license.BoundAccountID, loaded.BoundAccountID)
	assert.Equal(t, license.Plan, loaded.Plan)
	assert.Equal(t, license.Status, loaded.Status)
	assert.True(t, license.ActivatedAt.Equal(loaded.ActivatedAt))
	assert.True(t, license.LastValidatedAt.Equal(loaded.LastValidatedAt))
	assert.True(t, license.ExpiresAt.Equal(loaded.ExpiresAt))
	assert.Nil(t, loaded.GracePeriodEndsAt)
}

func TestFileRepository_SaveAndLoad_GracePeriod(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "license.json")

	repo := NewFileRepository(filePath)
	ctx := context.Background()

	license := domain.NewActivated("NEKO-TEST-1234-5678", "testuser", "pro", savedAt.Add(365*24*time.Hour), savedAt)
	license.EnterGracePeriod(savedAt.Add(25 * time.Hour), domain.GracePeriodDuration)
	license.FlagTimeTamper()

	require.NoError(t, repo.Save(ctx, license))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, domain.StatusGracePeriod, loaded.Status)
	require.NotNil(t, loaded.GracePeriodEndsAt)
	assert.True(t, license.GracePeriodEndsAt.Equal(*loaded.GracePeriodEndsAt))
	assert.True(t, loaded.TimeTamperDetected)
}

func TestFileRepository_Save_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "nested", "deep", "license.json")

	repo := NewFileRepository(filePath)
	ctx := context.Background()

	err := repo.Save(ctx, domain.NewUnactivated())
	require.NoError(t, err)

	_, err = os.Stat(filePath)
	assert.NoError(t, err)
}

func TestFileRepository_Save_OverwritesAndLeavesNoTempFile(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "license.json")

	repo := NewFileRepository(filePath)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, domain.NewUnactivated()))
	license := domain.NewActivated("NEKO-TEST-1234-5678", "testuser", "pro", savedAt.Add(24*time.Hour), savedAt)
	require.NoError(t, repo.Save(ctx, license))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, loaded.Status)

	_, err = os.Stat(filePath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileRepository_Exists_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "nonexistent.json")

	repo := NewFileRepository(filePath)
	ctx := context.Background()

	assert.False(t, repo.Exists(ctx))
}

func TestFileRepository_Exists_WithFile(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "license.json")

	repo := NewFileRepository(filePath)
	ctx := context.Background()

	err := repo.Save(ctx, domain.NewUnactivated())
	require.NoError(t, err)

	assert.True(t, repo.Exists(ctx))
}

func TestFileRepository_Delete_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "nonexistent.json")

	repo := NewFileRepository(filePath)
	ctx := context.Background()

	// Delete non-existent file should not error
	err := repo.Delete(ctx)
	assert.NoError(t, err)
}

func TestFileRepository_Delete_WithFile(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "license.json")

	repo := NewFileRepository(filePath)
	ctx := context.Background()

	err := repo.Save(ctx, domain.NewUnactivated())
	require.NoError(t, err)
	require.True(t, repo.Exists(ctx))

	err = repo.Delete(ctx)
	assert.NoError(t, err)

	assert.False(t, repo.Exists(ctx))
}

func TestFileRepository_Load_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "license.json")

	err := os.WriteFile(filePath, []byte("not valid json"), 0600)
	require.NoError(t, err)

	repo := NewFileRepository(filePath)
	ctx := context.Background()

	license, err := repo.Load(ctx)
	assert.Error(t, err)
	assert.Nil(t, license)
}

func TestFileRepository_FilePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "license.json")

	repo := NewFileRepository(filePath)
	ctx := context.Background()

	err := repo.Save(ctx, domain.NewUnactivated())
	require.NoError(t, err)

	// 0600 = owner read/write only
	info, err := os.Stat(filePath)
	require.NoError(t, err)

	mode := info.Mode().Perm()
	assert.Equal(t, os.FileMode(0600), mode)
}
