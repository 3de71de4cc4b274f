package license

import (
	"encoding/json"
	"fmt"

	"github.com/felixgeelhaar/nekosync/internal/licensing/domain"
	"github.com/spf13/cobra"
)

var statusJSON bool

// statusCmd shows the current license status.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current license status",
	Long: `Display the current license status: key (masked), plan, expiry,
validation freshness and grace period, if any.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	Cmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if licenseService == nil {
		return fmt.Errorf("license service not available")
	}

	report, err := licenseService.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read license status: %w", err)
	}

	if statusJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	out := cmd.OutOrStdout()
	switch report.Status {
	case domain.StatusUnactivated:
		fmt.Fprintln(out, "License Status: Not activated")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Cloud sync is a Pro feature.")
		fmt.Fprintln(out, "To activate a key: nekosync license activate <key>")
		return nil

	case domain.StatusActive:
		fmt.Fprintf(out, "License: %s\n", report.LicenseKey)
		fmt.Fprintf(out, "Plan:    %s\n", report.Plan)
		fmt.Fprintln(out, "Status:  Active")
		if !report.ExpiresAt.IsZero() {
			fmt.Fprintf(out, "Expires: %s\n", report.ExpiresAt.Format("January 2, 2006"))
		}

	case domain.StatusGracePeriod:
		fmt.Fprintln(out, "*** OFFLINE - GRACE PERIOD ***")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "License: %s\n", report.LicenseKey)
		fmt.Fprintf(out, "Plan:    %s\n", report.Plan)
		if report.GracePeriodEndsAt != nil {
			fmt.Fprintf(out, "Grace period ends: %s\n", report.GracePeriodEndsAt.Format("January 2, 2006 15:04 MST"))
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "The license server could not be reached. Pro features stay")
		fmt.Fprintln(out, "available until the grace period ends; sync is paused.")

	case domain.StatusExpired:
		fmt.Fprintln(out, "*** LICENSE EXPIRED ***")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "License: %s\n", report.LicenseKey)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Pro features are disabled.")
		fmt.Fprintln(out, "To renew: https://nekonote.app/account")

	case domain.StatusRevoked:
		fmt.Fprintln(out, "*** LICENSE REVOKED ***")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "License: %s\n", report.LicenseKey)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "This key has been revoked and cannot be used.")
		fmt.Fprintln(out, "To activate a new key: nekosync license activate <key>")
		return nil
	}

	fmt.Fprintln(out)
	if !report.LastValidatedAt.IsZero() {
		fmt.Fprintf(out, "Last validated: %s\n", report.LastValidatedAt.Format("Jan 2, 2006 15:04 MST"))
	}
	if report.NeedsValidation {
		fmt.Fprintln(out, "A validation is due; it runs automatically on the next sync start.")
	}
	if report.TimeTamperDetected {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Warning: the system clock moved backwards since the last validation.")
		fmt.Fprintln(out, "An online validation will clear this flag.")
	}
	return nil
}
