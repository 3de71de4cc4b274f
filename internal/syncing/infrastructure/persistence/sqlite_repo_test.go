package persistence_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/nekosync/internal/syncing/domain"
	"github.com/felixgeelhaar/nekosync/internal/syncing/infrastructure/persistence"
)

const testAccount = "acct-tests"

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStateRepository_LoadFirstRun(t *testing.T) {
	db := setupTestDB(t)
	repo, err := persistence.NewSQLiteStateRepository(context.Background(), db, testAccount)
	require.NoError(t, err)

	state, err := repo.Load(context.Background())

	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSQLiteStateRepository_SaveAndLoad(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo, err := persistence.NewSQLiteStateRepository(ctx, db, testAccount)
	require.NoError(t, err)

	state := domain.NewSyncState()
	state.MarkSyncing()
	state.MarkSuccess(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Save(ctx, state))

	loaded, err := repo.Load(ctx)

	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.LastSyncAt().Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, loaded.RetryCount())
	// Only durable fields survive: the engine always boots idle.
	assert.Equal(t, domain.SyncStatusIdle, loaded.Status())
}

func TestSQLiteStateRepository_SavePreservesRetryCount(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo, err := persistence.NewSQLiteStateRepository(ctx, db, testAccount)
	require.NoError(t, err)

	state := domain.NewSyncState()
	state.MarkFailure("remote store unreachable")
	state.MarkFailure("remote store unreachable")
	require.NoError(t, repo.Save(ctx, state))

	loaded, err := repo.Load(ctx)

	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 2, loaded.RetryCount())
	assert.True(t, loaded.LastSyncAt().IsZero())
}

func TestSQLiteStateRepository_UpsertsSingleRow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo, err := persistence.NewSQLiteStateRepository(ctx, db, testAccount)
	require.NoError(t, err)

	state := domain.NewSyncState()
	for i := 0; i < 3; i++ {
		state.MarkSuccess(time.Date(2026, 3, 1, 12, i, 0, 0, time.UTC))
		require.NoError(t, repo.Save(ctx, state))
	}

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sync_state`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteHistoryRepository_AppendAndRecent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo, err := persistence.NewSQLiteHistoryRepository(ctx, db, testAccount)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := domain.NewSyncCycle(base, base.Add(2*time.Second), domain.DirectionPush, domain.OutcomeSuccess, "", false)
	second := domain.NewSyncCycle(base.Add(time.Minute), base.Add(time.Minute+time.Second), domain.DirectionPull, domain.OutcomeFailure, "remote store unreachable", true)
	require.NoError(t, repo.Append(ctx, first))
	require.NoError(t, repo.Append(ctx, second))

	cycles, err := repo.Recent(ctx, 10)

	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, second.ID, cycles[0].ID)
	assert.Equal(t, domain.DirectionPull, cycles[0].Direction)
	assert.Equal(t, domain.OutcomeFailure, cycles[0].Outcome)
	assert.Equal(t, "remote store unreachable", cycles[0].Error)
	assert.True(t, cycles[0].Manual)
	assert.Equal(t, first.ID, cycles[1].ID)
	assert.True(t, cycles[1].StartedAt.Equal(base))
}

func TestSQLiteHistoryRepository_RecentHonorsLimit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo, err := persistence.NewSQLiteHistoryRepository(ctx, db, testAccount)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		cycle := domain.NewSyncCycle(base.Add(time.Duration(i)*time.Minute), base.Add(time.Duration(i)*time.Minute+time.Second), domain.DirectionNone, domain.OutcomeSuccess, "", false)
		require.NoError(t, repo.Append(ctx, cycle))
	}

	cycles, err := repo.Recent(ctx, 2)

	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.True(t, cycles[0].StartedAt.After(cycles[1].StartedAt))
}
