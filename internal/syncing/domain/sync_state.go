package domain

import (
	"context"
	"time"
)

// SyncStatus describes where the sync engine currently stands.
type SyncStatus string

const (
	// SyncStatusIdle indicates no sync activity and nothing scheduled.
	SyncStatusIdle SyncStatus = "idle"
	// SyncStatusPendingDebounce indicates a sync is scheduled and waiting
	// out the debounce or cooldown window.
	SyncStatusPendingDebounce SyncStatus = "pending_debounce"
	// SyncStatusSyncing indicates a sync cycle is executing.
	SyncStatusSyncing SyncStatus = "syncing"
	// SyncStatusSuccess indicates the last cycle completed cleanly.
	SyncStatusSuccess SyncStatus = "success"
	// SyncStatusError indicates the last cycle failed.
	SyncStatusError SyncStatus = "error"
)

// SyncState tracks the engine state between cycles. The scheduler loop is
// the only writer; everyone else observes it through snapshots.
type SyncState struct {
	status     SyncStatus
	connected  bool
	lastSyncAt time.Time
	retryCount int
	lastError  string
	gaveUp     bool
}

// NewSyncState creates the boot state: idle, assumed connected until a
// connectivity event says otherwise.
func NewSyncState() *SyncState {
	return &SyncState{
		status:    SyncStatusIdle,
		connected: true,
	}
}

// Getters
func (s *SyncState) Status() SyncStatus    { return s.status }
func (s *SyncState) Connected() bool       { return s.connected }
func (s *SyncState) LastSyncAt() time.Time { return s.lastSyncAt }
func (s *SyncState) RetryCount() int       { return s.retryCount }
func (s *SyncState) LastError() string     { return s.lastError }
func (s *SyncState) GaveUp() bool          { return s.gaveUp }

// HasSynced returns true if at least one successful sync has occurred.
func (s *SyncState) HasSynced() bool {
	return !s.lastSyncAt.IsZero()
}

// SetConnected records a connectivity change.
func (s *SyncState) SetConnected(connected bool) {
	s.connected = connected
}

// MarkPending records that a sync is scheduled and waiting.
func (s *SyncState) MarkPending() {
	s.status = SyncStatusPendingDebounce
}

// MarkSyncing records the start of a cycle.
func (s *SyncState) MarkSyncing() {
	s.status = SyncStatusSyncing
}

// MarkSuccess records a clean cycle and resets the retry budget.
func (s *SyncState) MarkSuccess(now time.Time) {
	s.status = SyncStatusSuccess
	s.lastSyncAt = now
	s.retryCount = 0
	s.lastError = ""
	s.gaveUp = false
}

// MarkIdle returns the engine to rest.
func (s *SyncState) MarkIdle() {
	s.status = SyncStatusIdle
}

// MarkFailure records a failed cycle and counts it against the retry
// budget.
func (s *SyncState) MarkFailure(message string) {
	s.status = SyncStatusError
	s.lastError = message
	s.retryCount++
}

// MarkGaveUp records a failure that will not be retried automatically.
// The flag parks the engine whatever the retry count says; only a manual
// sync resumes from here. The count itself is left alone so the snapshot
// still shows how far the ladder got.
func (s *SyncState) MarkGaveUp(message string) {
	s.status = SyncStatusError
	s.lastError = message
	s.gaveUp = true
}

// ShouldRetry returns true if another automatic retry may be scheduled.
func (s *SyncState) ShouldRetry(maxRetries int) bool {
	return s.retryCount < maxRetries
}

// ResetForManual clears the error bookkeeping ahead of a manual sync.
func (s *SyncState) ResetForManual() {
	s.status = SyncStatusIdle
	s.retryCount = 0
	s.lastError = ""
	s.gaveUp = false
}

// RehydrateSyncState recreates the state from persisted data. Statuses and
// timers do not survive restarts, so the engine always boots idle.
func RehydrateSyncState(lastSyncAt time.Time, retryCount int) *SyncState {
	return &SyncState{
		status:     SyncStatusIdle,
		connected:  true,
		lastSyncAt: lastSyncAt,
		retryCount: retryCount,
	}
}

// StateRepository defines the interface for sync state persistence. Only
// the fields that survive restarts are stored.
type StateRepository interface {
	// Load retrieves the persisted state.
	// Returns nil, nil if none has been saved yet (first run).
	Load(ctx context.Context) (*SyncState, error)

	// Save persists the durable fields of the state.
	Save(ctx context.Context, state *SyncState) error
}
