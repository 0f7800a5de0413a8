// Package cmd contains the CLI entrypoints.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "joy",
	Short: "Joy - conversational patient screening service",
	Long: `Joy runs the conversational screening agent: an HTTP server that
streams model output, executes document and suggestion tools mid-turn, and
persists conversations in PostgreSQL.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
