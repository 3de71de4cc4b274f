package sync

import (
	"fmt"

	"github.com/spf13/cobra"
)

// nowCmd forces an immediate sync cycle.
var nowCmd = &cobra.Command{
	Use:   "now",
	Short: "Sync immediately",
	Long: `Run one sync cycle right away, skipping the debounce and cooldown
windows. A manual sync also resumes syncing after the automatic retries
have given up.`,
	RunE: runNow,
}

func init() {
	Cmd.AddCommand(nowCmd)
}

func runNow(cmd *cobra.Command, args []string) error {
	if err := ensureConfigured(); err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := ensureEngine(ctx); err != nil {
		return err
	}
	refreshLicense(ctx)

	fmt.Fprintln(cmd.OutOrStdout(), "Syncing...")

	if deps.Coordinator.SyncNow(ctx) {
		snap := deps.Coordinator.State()
		fmt.Fprintln(cmd.OutOrStdout(), "Sync completed.")
		if !snap.LastSyncAt.IsZero() {
			fmt.Fprintf(cmd.OutOrStdout(), "Last synced: %s\n", snap.LastSyncAt.Format("Jan 2, 2006 15:04:05 MST"))
		}
		return nil
	}

	snap := deps.Coordinator.State()
	if snap.LastError != "" {
		return fmt.Errorf("sync failed: %s", snap.LastError)
	}
	if !snap.Connected {
		return fmt.Errorf("sync is unavailable while offline")
	}
	return fmt.Errorf("sync is not available; check your license: nekosync license status")
}
