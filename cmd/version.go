package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openclaw/carapace/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print carapace version and build information",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Print(version.String())
	},
}
