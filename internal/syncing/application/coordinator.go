package application

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/nekosync/internal/syncing/domain"
)

// Coordinator is the surface the editor and CLI talk to. It decides
// whether data changes turn into scheduled syncs and answers UI
// questions; the scheduler underneath owns all timing.
type Coordinator struct {
	scheduler *Scheduler
	gate      LicenseGate
	history   domain.HistoryRepository
	logger    *slog.Logger
}

// NewCoordinator creates a sync coordinator.
func NewCoordinator(scheduler *Scheduler, gate LicenseGate, history domain.HistoryRepository, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		scheduler: scheduler,
		gate:      gate,
		history:   history,
		logger:    logger,
	}
}

// NotifyDataChanged reports a local data mutation. Accounts entitled to
// automatic sync get one scheduled; everyone else syncs manually. Cheap
// enough to call on every keystroke, and never blocks.
func (c *Coordinator) NotifyDataChanged() {
	if !c.gate.AutoSyncAllowed(context.Background()) {
		return
	}
	c.scheduler.TriggerSync()
}

// SyncNow forces an immediate sync. See Scheduler.SyncNow.
func (c *Coordinator) SyncNow(ctx context.Context) bool {
	return c.scheduler.SyncNow(ctx)
}

// ManualSyncAvailable reports whether the UI should offer its manual
// sync control: connected accounts without automatic sync, and not while
// a cycle is already running.
func (c *Coordinator) ManualSyncAvailable(ctx context.Context) bool {
	snap := c.scheduler.State()
	if !snap.Connected || snap.Status == domain.SyncStatusSyncing {
		return false
	}
	return !c.gate.AutoSyncAllowed(ctx)
}

// SetConnected reports a connectivity change to the engine.
func (c *Coordinator) SetConnected(connected bool) {
	c.scheduler.SetConnected(connected)
}

// State returns the engine's latest snapshot.
func (c *Coordinator) State() Snapshot {
	return c.scheduler.State()
}

// Subscribe streams engine snapshots. See Scheduler.Subscribe.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	return c.scheduler.Subscribe()
}

// RecentCycles returns the newest sync cycles, most recent first.
func (c *Coordinator) RecentCycles(ctx context.Context, limit int) ([]*domain.SyncCycle, error) {
	if c.history == nil {
		return nil, nil
	}
	return c.history.Recent(ctx, limit)
}
