package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Direction is which way data moved during a cycle.
type Direction string

const (
	// DirectionPush means the local copy was newer and was uploaded.
	DirectionPush Direction = "push"
	// DirectionPull means the remote copy was newer and was downloaded.
	DirectionPull Direction = "pull"
	// DirectionNone means both sides already agreed.
	DirectionNone Direction = "none"
)

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// SyncCycle is one completed sync attempt, kept for history.
type SyncCycle struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Direction  Direction
	Outcome    Outcome
	Error      string
	Manual     bool
}

// NewSyncCycle records a finished attempt.
func NewSyncCycle(startedAt, finishedAt time.Time, direction Direction, outcome Outcome, errMessage string, manual bool) *SyncCycle {
	return &SyncCycle{
		ID:         uuid.New(),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Direction:  direction,
		Outcome:    outcome,
		Error:      errMessage,
		Manual:     manual,
	}
}

// Duration is how long the cycle ran.
func (c *SyncCycle) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}

// HistoryRepository persists completed cycles for inspection.
type HistoryRepository interface {
	// Append stores a finished cycle.
	Append(ctx context.Context, cycle *SyncCycle) error

	// Recent returns up to limit cycles, newest first.
	Recent(ctx context.Context, limit int) ([]*SyncCycle, error)
}
