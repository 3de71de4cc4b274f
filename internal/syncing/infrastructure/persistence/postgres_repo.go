package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/nekosync/internal/syncing/domain"
)

const postgresStateSchema = `
CREATE TABLE IF NOT EXISTS sync_state (
	account_id   TEXT PRIMARY KEY,
	last_sync_at TIMESTAMPTZ,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS sync_cycles (
	id          UUID PRIMARY KEY,
	account_id  TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	direction   TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	manual      BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_sync_cycles_started ON sync_cycles (account_id, started_at DESC);
`

// PostgresStateRepository implements domain.StateRepository with Postgres
// for server deployments where several nekosync instances share a database.
type PostgresStateRepository struct {
	pool      *pgxpool.Pool
	accountID string
}

// NewPostgresStateRepository creates the repository and its schema.
func NewPostgresStateRepository(ctx context.Context, pool *pgxpool.Pool, accountID string) (*PostgresStateRepository, error) {
	if _, err := pool.Exec(ctx, postgresStateSchema); err != nil {
		return nil, fmt.Errorf("failed to create sync schema: %w", err)
	}
	return &PostgresStateRepository{pool: pool, accountID: accountID}, nil
}

// Load retrieves the persisted state. Returns nil, nil on first run.
func (r *PostgresStateRepository) Load(ctx context.Context) (*domain.SyncState, error) {
	query := `SELECT last_sync_at, retry_count FROM sync_state WHERE account_id = $1`

	var lastSyncAt *time.Time
	var retryCount int
	err := r.pool.QueryRow(ctx, query, r.accountID).Scan(&lastSyncAt, &retryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var last time.Time
	if lastSyncAt != nil {
		last = *lastSyncAt
	}
	return domain.RehydrateSyncState(last, retryCount), nil
}

// Save upserts the durable fields of the state.
func (r *PostgresStateRepository) Save(ctx context.Context, state *domain.SyncState) error {
	query := `
		INSERT INTO sync_state (account_id, last_sync_at, retry_count, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			last_sync_at = EXCLUDED.last_sync_at,
			retry_count = EXCLUDED.retry_count,
			updated_at = NOW()
	`
	var lastSyncAt *time.Time
	if !state.LastSyncAt().IsZero() {
		last := state.LastSyncAt()
		lastSyncAt = &last
	}
	_, err := r.pool.Exec(ctx, query, r.accountID, lastSyncAt, state.RetryCount())
	return err
}

// PostgresHistoryRepository implements domain.HistoryRepository with Postgres.
type PostgresHistoryRepository struct {
	pool      *pgxpool.Pool
	accountID string
}

// NewPostgresHistoryRepository creates the repository. The schema is shared
// with the state repository and created by either constructor.
func NewPostgresHistoryRepository(ctx context.Context, pool *pgxpool.Pool, accountID string) (*PostgresHistoryRepository, error) {
	if _, err := pool.Exec(ctx, postgresStateSchema); err != nil {
		return nil, fmt.Errorf("failed to create sync schema: %w", err)
	}
	return &PostgresHistoryRepository{pool: pool, accountID: accountID}, nil
}

// Append stores a finished cycle.
func (r *PostgresHistoryRepository) Append(ctx context.Context, cycle *domain.SyncCycle) error {
	query := `
		INSERT INTO sync_cycles (id, account_id, started_at, finished_at, direction, outcome, error, manual)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		cycle.ID,
		r.accountID,
		cycle.StartedAt,
		cycle.FinishedAt,
		string(cycle.Direction),
		string(cycle.Outcome),
		cycle.Error,
		cycle.Manual,
	)
	return err
}

// Recent returns up to limit cycles, newest first.
func (r *PostgresHistoryRepository) Recent(ctx context.Context, limit int) ([]*domain.SyncCycle, error) {
	query := `
		SELECT id, started_at, finished_at, direction, outcome, error, manual
		FROM sync_cycles
		WHERE account_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, r.accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cycles := make([]*domain.SyncCycle, 0, limit)
	for rows.Next() {
		var (
			id         uuid.UUID
			startedAt  time.Time
			finishedAt time.Time
			direction  string
			outcome    string
			errMessage string
			manual     bool
		)
		if err := rows.Scan(&id, &startedAt, &finishedAt, &direction, &outcome, &errMessage, &manual); err != nil {
			return nil, err
		}
		cycles = append(cycles, &domain.SyncCycle{
			ID:         id,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
			Direction:  domain.Direction(direction),
			Outcome:    domain.Outcome(outcome),
			Error:      errMessage,
			Manual:     manual,
		})
	}
	return cycles, rows.Err()
}

var (
	_ domain.StateRepository   = (*PostgresStateRepository)(nil)
	_ domain.HistoryRepository = (*PostgresHistoryRepository)(nil)
)
