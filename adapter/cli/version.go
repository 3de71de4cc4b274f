package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version info, set at build time via ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nekosync %s\n", Version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit:     %s\n", Commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:      %s\n", BuildDate)
		fmt.Fprintf(cmd.OutOrStdout(), "  go version: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
