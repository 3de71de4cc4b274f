// Package persistence stores the durable slice of the sync engine state:
// the last successful sync, the retry count, and the per-cycle history.
// Statuses and timers are deliberately not stored; the engine boots idle.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/nekosync/internal/syncing/domain"
)

const sqliteStateSchema = `
CREATE TABLE IF NOT EXISTS sync_state (
	account_id   TEXT PRIMARY KEY,
	last_sync_at TEXT NOT NULL DEFAULT '',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	updated_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_cycles (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	direction   TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	manual      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sync_cycles_started ON sync_cycles (account_id, started_at DESC);
`

// SQLiteStateRepository implements domain.StateRepository with SQLite.
// One row per account.
type SQLiteStateRepository struct {
	db        *sql.DB
	accountID string
}

// NewSQLiteStateRepository creates the repository and its schema.
func NewSQLiteStateRepository(ctx context.Context, db *sql.DB, accountID string) (*SQLiteStateRepository, error) {
	if _, err := db.ExecContext(ctx, sqliteStateSchema); err != nil {
		return nil, fmt.Errorf("failed to create sync schema: %w", err)
	}
	return &SQLiteStateRepository{db: db, accountID: accountID}, nil
}

// Load retrieves the persisted state. Returns nil, nil on first run.
func (r *SQLiteStateRepository) Load(ctx context.Context) (*domain.SyncState, error) {
	query := `SELECT last_sync_at, retry_count FROM sync_state WHERE account_id = ?`

	var lastSyncRaw string
	var retryCount int
	err := r.db.QueryRowContext(ctx, query, r.accountID).Scan(&lastSyncRaw, &retryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	lastSyncAt, err := parseStoredTime(lastSyncRaw)
	if err != nil {
		return nil, fmt.Errorf("sync state row for %s is corrupt: %w", r.accountID, err)
	}
	return domain.RehydrateSyncState(lastSyncAt, retryCount), nil
}

// Save upserts the durable fields of the state.
func (r *SQLiteStateRepository) Save(ctx context.Context, state *domain.SyncState) error {
	query := `
		INSERT INTO sync_state (account_id, last_sync_at, retry_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			retry_count = excluded.retry_count,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		r.accountID,
		formatStoredTime(state.LastSyncAt()),
		state.RetryCount(),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// SQLiteHistoryRepository implements domain.HistoryRepository with SQLite.
type SQLiteHistoryRepository struct {
	db        *sql.DB
	accountID string
}

// NewSQLiteHistoryRepository creates the repository. The schema is shared
// with the state repository and created by either constructor.
func NewSQLiteHistoryRepository(ctx context.Context, db *sql.DB, accountID string) (*SQLiteHistoryRepository, error) {
	if _, err := db.ExecContext(ctx, sqliteStateSchema); err != nil {
		return nil, fmt.Errorf("failed to create sync schema: %w", err)
	}
	return &SQLiteHistoryRepository{db: db, accountID: accountID}, nil
}

// Append stores a finished cycle.
func (r *SQLiteHistoryRepository) Append(ctx context.Context, cycle *domain.SyncCycle) error {
	query := `
		INSERT INTO sync_cycles (id, account_id, started_at, finished_at, direction, outcome, error, manual)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	manual := 0
	if cycle.Manual {
		manual = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		cycle.ID.String(),
		r.accountID,
		cycle.StartedAt.UTC().Format(time.RFC3339Nano),
		cycle.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(cycle.Direction),
		string(cycle.Outcome),
		cycle.Error,
		manual,
	)
	return err
}

// Recent returns up to limit cycles, newest first.
func (r *SQLiteHistoryRepository) Recent(ctx context.Context, limit int) ([]*domain.SyncCycle, error) {
	query := `
		SELECT id, started_at, finished_at, direction, outcome, error, manual
		FROM sync_cycles
		WHERE account_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, r.accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cycles := make([]*domain.SyncCycle, 0, limit)
	for rows.Next() {
		var (
			id          string
			startedRaw  string
			finishedRaw string
			direction   string
			outcome     string
			errMessage  string
			manual      int
		)
		if err := rows.Scan(&id, &startedRaw, &finishedRaw, &direction, &outcome, &errMessage, &manual); err != nil {
			return nil, err
		}

		cycleID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("sync cycle row %s is corrupt: %w", id, err)
		}
		startedAt, err := parseStoredTime(startedRaw)
		if err != nil {
			return nil, fmt.Errorf("sync cycle row %s is corrupt: %w", id, err)
		}
		finishedAt, err := parseStoredTime(finishedRaw)
		if err != nil {
			return nil, fmt.Errorf("sync cycle row %s is corrupt: %w", id, err)
		}

		cycles = append(cycles, &domain.SyncCycle{
			ID:         cycleID,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
			Direction:  domain.Direction(direction),
			Outcome:    domain.Outcome(outcome),
			Error:      errMessage,
			Manual:     manual != 0,
		})
	}
	return cycles, rows.Err()
}

func formatStoredTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

var (
	_ domain.StateRepository   = (*SQLiteStateRepository)(nil)
	_ domain.HistoryRepository = (*SQLiteHistoryRepository)(nil)
)
