package sync

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/nekosync/internal/syncing/domain"
	"github.com/felixgeelhaar/nekosync/pkg/observability"
)

// validationCheckInterval is how often the daemon re-checks whether a
// license validation is due. The check is cheap; the actual validation
// only runs when the last one is stale.
const validationCheckInterval = time.Hour

// watchCmd runs the sync daemon: watch the library for changes and keep it
// synced until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the library and sync continuously",
	Long: `Run nekosync as a daemon. Edits to the library file schedule a
debounced sync; failed cycles are retried with backoff. The daemon also
revalidates the license in the background.

Stop with Ctrl-C.`,
	RunE: runWatch,
}

func init() {
	Cmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := ensureConfigured(); err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := ensureEngine(ctx); err != nil {
		return err
	}
	refreshLicense(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files via rename
	// and a watch on the old inode would go stale.
	libraryDir := filepath.Dir(deps.LibraryPath)
	if err := watcher.Add(libraryDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", libraryDir, err)
	}

	if deps.HealthAddr != "" {
		startHealthServer(ctx, deps.HealthAddr)
	}

	snaps, cancel := deps.Coordinator.Subscribe()
	defer cancel()

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s\n", deps.LibraryPath)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	ticker := time.NewTicker(validationCheckInterval)
	defer ticker.Stop()

	libraryName := filepath.Base(deps.LibraryPath)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(cmd.OutOrStdout(), "Shutting down.")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("file watcher closed unexpectedly")
			}
			if filepath.Base(event.Name) != libraryName {
				continue
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
				deps.Coordinator.NotifyDataChanged()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("file watcher closed unexpectedly")
			}
			deps.Logger.Warn("file watcher error", "error", err)

		case <-ticker.C:
			refreshLicense(ctx)

		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			reportTransition(cmd, snap.Status, snap.LastError)
		}
	}
}

var lastReported domain.SyncStatus

// reportTransition prints one line per engine state change so the daemon
// log tells the sync story without flooding.
func reportTransition(cmd *cobra.Command, status domain.SyncStatus, lastError string) {
	if status == lastReported {
		return
	}
	lastReported = status

	ts := time.Now().Format("15:04:05")
	switch status {
	case domain.SyncStatusSyncing:
		fmt.Fprintf(cmd.OutOrStdout(), "%s syncing...\n", ts)
	case domain.SyncStatusSuccess:
		fmt.Fprintf(cmd.OutOrStdout(), "%s synced\n", ts)
	case domain.SyncStatusError:
		fmt.Fprintf(cmd.OutOrStdout(), "%s sync failed: %s\n", ts, lastError)
	}
}

// startHealthServer exposes GET /healthz for process supervisors.
func startHealthServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := deps.Health.GetOverallHealth(r.Context())
		data, err := health.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if health.Status != observability.HealthStatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write(data)
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("health server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
