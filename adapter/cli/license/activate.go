package license

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/nekosync/internal/licensing/domain"
	"github.com/spf13/cobra"
)

// activateCmd binds a license key to this account and device.
var activateCmd = &cobra.Command{
	Use:   "activate <license-key>",
	Short: "Activate a license key to enable Pro features",
	Long: `Activate a license key to enable NekoNote Pro features.

You can obtain a license key by purchasing NekoNote Pro at
https://nekonote.app/pricing

Example:
  nekosync license activate NEKO-AB12-CD34-EF56`,
	Args: cobra.ExactArgs(1),
	RunE: runActivate,
}

func init() {
	Cmd.AddCommand(activateCmd)
}

func runActivate(cmd *cobra.Command, args []string) error {
	if licenseService == nil {
		return fmt.Errorf("license service not available")
	}

	key := domain.NormalizeKey(args[0])
	if !domain.ValidKeyFormat(key) {
		return fmt.Errorf("invalid license key format\nExpected format: NEKO-XXXX-XXXX-XXXX")
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Activating license...")

	license, err := licenseService.Activate(cmd.Context(), key)
	if err != nil {
		return activationError(err)
	}

	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "License activated successfully!")
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintf(cmd.OutOrStdout(), "Key:     %s\n", license.MaskedKey())
	fmt.Fprintf(cmd.OutOrStdout(), "Plan:    %s\n", license.Plan)
	if !license.ExpiresAt.IsZero() {
		fmt.Fprintf(cmd.OutOrStdout(), "Expires: %s\n", license.ExpiresAt.Format("January 2, 2006"))
	}
	return nil
}

// activationError turns authority failures into actionable messages.
func activationError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidKey):
		return fmt.Errorf("the license server does not recognize this key\nCheck for typos, or contact support@nekonote.app")
	case errors.Is(err, domain.ErrKeyRevoked):
		return fmt.Errorf("this license key has been revoked\nContact support@nekonote.app if you believe this is a mistake")
	case errors.Is(err, domain.ErrAlreadyBound):
		return fmt.Errorf("this key is already bound to a different account\nDeactivate it there first, or contact support@nekonote.app")
	case errors.Is(err, domain.ErrDeviceLimitReached):
		return fmt.Errorf("this key has reached its device limit\nRun 'nekosync license deactivate' on a device you no longer use")
	case errors.Is(err, domain.ErrNetworkUnavailable):
		return fmt.Errorf("could not reach the license server\nCheck your connection and try again: %w", err)
	default:
		return fmt.Errorf("activation failed: %w", err)
	}
}
