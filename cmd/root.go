package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/stela/cmd/gen"
)

var rootCmd = &cobra.Command{
	Use:   "stela",
	Short: "Stela time series ingestion daemon",
}

func init() {
	rootCmd.AddCommand(StartCmd)
	rootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
