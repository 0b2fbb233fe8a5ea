package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "jobboard",
	Short: "Job board ranking and sponsorship service",
	Long: `jobboard runs the job-board core: the listing API with sponsored and
organically ranked placements, and the sponsorship ledger that counts
impressions against prepaid employer balances.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
