package license

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/nekosync/internal/licensing/domain"
	"github.com/spf13/cobra"
)

// validateCmd forces an immediate validation against the license server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the license against the license server now",
	Long: `Contact the license server and refresh the local license state.

Validation normally runs in the background once a day; this command forces
one immediately. If the server cannot be reached the license enters its
offline grace period instead of failing.`,
	RunE: runValidate,
}

func init() {
	Cmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if licenseService == nil {
		return fmt.Errorf("license service not available")
	}

	result, err := licenseService.Validate(cmd.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotActivated) {
			fmt.Fprintln(cmd.OutOrStdout(), "No license is activated on this device.")
			fmt.Fprintln(cmd.OutOrStdout(), "To activate a key: nekosync license activate <key>")
			return nil
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	switch {
	case result.InGracePeriod:
		fmt.Fprintln(out, "License server unreachable; the license is in its grace period.")
		fmt.Fprintln(out, "Pro features stay available for now. Validation will be retried")
		fmt.Fprintln(out, "automatically once you are back online.")
	case result.Downgraded:
		fmt.Fprintf(out, "License is no longer valid (status: %s).\n", result.Status)
		fmt.Fprintln(out, "Pro features are disabled. See: nekosync license status")
	default:
		fmt.Fprintf(out, "License validated (status: %s).\n", result.Status)
	}
	if result.TamperSuspected {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Note: the system clock had moved backwards since the last validation.")
	}
	return nil
}
