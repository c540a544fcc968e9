package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"webhookd/internal/signature"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a webhook secret",
	Long: `Generates a random secret suitable for GitHub webhook signature
validation. Export it as WEBHOOKD_WEBHOOK_SECRET (or GITHUB_WEBHOOK_SECRET)
and configure the same value on the repository webhook.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := signature.GenerateSecret()
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		fmt.Println(secret)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(secretCmd)
}
