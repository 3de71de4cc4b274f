// Package sync holds the sync command group.
package sync

import (
	"context"
	"fmt"
	"log/slog"

	licensingApp "github.com/felixgeelhaar/nekosync/internal/licensing/application"
	"github.com/felixgeelhaar/nekosync/internal/syncing/application"
	"github.com/felixgeelhaar/nekosync/pkg/observability"
	"github.com/spf13/cobra"
)

// Deps are the services the sync commands need. Coordinator and Scheduler
// are nil when no remote store is configured.
type Deps struct {
	Coordinator *application.Coordinator
	Scheduler   *application.Scheduler
	Validation  *licensingApp.ValidationScheduler
	Health      *observability.HealthRegistry
	LibraryPath string
	HealthAddr  string
	Logger      *slog.Logger
}

var deps Deps

// SetDeps sets the dependencies for CLI commands.
func SetDeps(d Deps) {
	deps = d
}

// Cmd is the parent command for sync operations.
var Cmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the local library with the cloud",
	Long: `Keep the local NekoNote library in sync with its cloud copy.

Sync requires an active Pro license and a configured remote store.
Run the watch daemon for continuous syncing, or sync on demand.`,
}

func ensureConfigured() error {
	if deps.Coordinator == nil || deps.Scheduler == nil {
		return fmt.Errorf("no remote store configured: set NEKOSYNC_REMOTE_URL")
	}
	return nil
}

// ensureEngine starts the scheduler loop if it is not already running and
// loads the persisted sync state.
func ensureEngine(ctx context.Context) error {
	if deps.Scheduler.IsRunning() {
		return nil
	}
	if err := deps.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync engine: %w", err)
	}
	return nil
}

// refreshLicense runs a due validation before syncing. Failures are logged
// rather than fatal; the grace period and the license gate decide what is
// still allowed.
func refreshLicense(ctx context.Context) {
	if deps.Validation == nil {
		return
	}
	if err := deps.Validation.EnsureFresh(ctx); err != nil && deps.Logger != nil {
		deps.Logger.Warn("license validation failed", "error", err)
	}
}
