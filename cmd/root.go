package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "webhookd",
	Short: "GitHub webhook dispatcher for ADW workflows",
	Long: `webhookd receives GitHub issue and comment webhooks, classifies them
for ADW workflow tokens, and launches the matched workflow as a detached
background job. It manages its own port conflicts and an optional ngrok
tunnel for public exposure.`,
	SilenceUsage: true,
}

// Execute runs the CLI; main delegates here.
func Execute() error {
	return rootCmd.Execute()
}
