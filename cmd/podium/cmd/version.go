package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/podium/internal/version"
	"github.com/spf13/cobra"
)

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "podium %s\n", version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
