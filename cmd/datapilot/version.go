package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/datapilot"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "datapilot %s (%s %s/%s)\n", datapilot.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
