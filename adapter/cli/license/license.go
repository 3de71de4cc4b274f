// Package license holds the license command group.
package license

import (
	"github.com/felixgeelhaar/nekosync/internal/licensing/application"
	"github.com/spf13/cobra"
)

var licenseService *application.Service

// SetService sets the license service for CLI commands.
func SetService(s *application.Service) {
	licenseService = s
}

// Cmd is the parent command for license operations.
var Cmd = &cobra.Command{
	Use:   "license",
	Short: "Manage your NekoNote Pro license",
	Long: `Manage the Pro license bound to this install.

Use these commands to activate a key, check status, force a validation,
or release the key for use on another device.`,
}
