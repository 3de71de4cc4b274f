package license

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/nekosync/internal/licensing/domain"
	"github.com/spf13/cobra"
)

// deactivateCmd releases the key so it can be activated elsewhere.
var deactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Deactivate the license on this device",
	Long: `Release the license key bound to this device.

The key stays valid and can be activated on another device afterwards.
Deactivation needs to reach the license server; the local record is only
cleared once the server confirms the release.`,
	RunE: runDeactivate,
}

func init() {
	Cmd.AddCommand(deactivateCmd)
}

func runDeactivate(cmd *cobra.Command, args []string) error {
	if licenseService == nil {
		return fmt.Errorf("license service not available")
	}

	err := licenseService.Deactivate(cmd.Context())
	switch {
	case err == nil:
		fmt.Fprintln(cmd.OutOrStdout(), "License deactivated.")
		fmt.Fprintln(cmd.OutOrStdout(), "The key can now be activated on another device.")
		return nil
	case errors.Is(err, domain.ErrNotActivated):
		fmt.Fprintln(cmd.OutOrStdout(), "No license is activated on this device.")
		return nil
	case errors.Is(err, domain.ErrNetworkUnavailable):
		return fmt.Errorf("could not reach the license server; the license is unchanged\nTry again when you are online: %w", err)
	default:
		return fmt.Errorf("deactivation failed: %w", err)
	}
}
