package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/nekosync/internal/syncing/application"
	"github.com/felixgeelhaar/nekosync/internal/syncing/domain"
	"github.com/spf13/cobra"
)

var (
	statusJSON    bool
	statusHistory int
)

// statusCmd shows the sync engine state and recent cycles.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long: `Display the sync engine state: current status, last successful
sync, pending retries and the next scheduled action. Use --history to list
recent sync cycles.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	statusCmd.Flags().IntVar(&statusHistory, "history", 0, "also list the N most recent sync cycles")
	Cmd.AddCommand(statusCmd)
}

type statusOutput struct {
	application.Snapshot
	History []historyEntry `json:"history,omitempty"`
}

type historyEntry struct {
	StartedAt time.Time `json:"started_at"`
	Direction string    `json:"direction"`
	Outcome   string    `json:"outcome"`
	Manual    bool      `json:"manual"`
	Error     string    `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := ensureConfigured(); err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := ensureEngine(ctx); err != nil {
		return err
	}

	out := statusOutput{Snapshot: deps.Coordinator.State()}
	if statusHistory > 0 {
		cycles, err := deps.Coordinator.RecentCycles(ctx, statusHistory)
		if err != nil {
			return fmt.Errorf("failed to read sync history: %w", err)
		}
		for _, cycle := range cycles {
			out.History = append(out.History, historyEntry{
				StartedAt: cycle.StartedAt,
				Direction: string(cycle.Direction),
				Outcome:   string(cycle.Outcome),
				Manual:    cycle.Manual,
				Error:     cycle.Error,
			})
		}
	}

	if statusJSON {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	printSnapshot(cmd, out.Snapshot)
	if len(out.History) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintf(cmd.OutOrStdout(), "Recent cycles (%d):\n", len(out.History))
		for _, entry := range out.History {
			line := fmt.Sprintf("  %s  %-5s %s", entry.StartedAt.Format("Jan 2 15:04:05"), entry.Direction, entry.Outcome)
			if entry.Manual {
				line += " (manual)"
			}
			if entry.Error != "" {
				line += "  " + entry.Error
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
	}
	return nil
}

func printSnapshot(cmd *cobra.Command, snap application.Snapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status:    %s\n", describeStatus(snap))
	if snap.LastSyncAt.IsZero() {
		fmt.Fprintln(out, "Last sync: never")
	} else {
		fmt.Fprintf(out, "Last sync: %s\n", snap.LastSyncAt.Format("Jan 2, 2006 15:04:05 MST"))
	}
	if snap.RetryCount > 0 {
		fmt.Fprintf(out, "Retries:   %d\n", snap.RetryCount)
	}
	if snap.LastError != "" {
		fmt.Fprintf(out, "Error:     %s\n", snap.LastError)
	}
	if snap.NextAction.Kind != application.ActionNone {
		fmt.Fprintf(out, "Next:      %s at %s\n", snap.NextAction.Kind, snap.NextAction.At.Format("15:04:05"))
	}
}

func describeStatus(snap application.Snapshot) string {
	if !snap.Connected {
		return fmt.Sprintf("%s (offline)", snap.Status)
	}
	switch snap.Status {
	case domain.SyncStatusIdle:
		return "idle"
	case domain.SyncStatusPendingDebounce:
		return "sync pending"
	case domain.SyncStatusSyncing:
		return "syncing"
	case domain.SyncStatusSuccess:
		return "synced"
	case domain.SyncStatusError:
		return "error"
	default:
		return string(snap.Status)
	}
}
