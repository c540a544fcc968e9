package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"webhookd/internal/config"
	"webhookd/internal/signature"
)

var (
	sendURL   string
	sendEvent string
	sendIssue int
	sendBody  string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a test webhook to a running dispatcher",
	Long: `Builds a GitHub-style webhook payload, signs it with the configured
secret, and posts it to the dispatcher. Useful for verifying classification
and launch behavior without touching a real repository.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend()
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendURL, "url", "", "webhook endpoint (default derived from configured port)")
	sendCmd.Flags().StringVar(&sendEvent, "event", "issue_comment", "event type: issues or issue_comment")
	sendCmd.Flags().IntVar(&sendIssue, "issue", 1, "issue number to reference")
	sendCmd.Flags().StringVar(&sendBody, "body", "adw_plan", "issue or comment text to classify")
}

func runSend() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	url := sendURL
	if url == "" {
		url = fmt.Sprintf("http://%s:%d/gh-webhook", cfg.BindHost, cfg.Port)
	}

	payload, action, err := buildTestPayload(sendEvent, sendIssue, sendBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", sendEvent)
	if cfg.WebhookSecret != "" {
		req.Header.Set("X-Hub-Signature-256", signature.Sign(payload, cfg.WebhookSecret))
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	fmt.Printf("sent %s/%s for issue #%d\n", sendEvent, action, sendIssue)
	fmt.Printf("HTTP %d\n%s\n", resp.StatusCode, bytes.TrimSpace(body))
	return nil
}

// buildTestPayload shapes the minimal slice of a GitHub event the
// dispatcher reads.
func buildTestPayload(event string, issue int, text string) ([]byte, string, error) {
	var (
		payload map[string]any
		action  string
	)
	switch event {
	case "issues":
		action = "opened"
		payload = map[string]any{
			"action": action,
			"issue":  map[string]any{"number": issue, "title": "test issue", "body": text},
		}
	case "issue_comment":
		action = "created"
		payload = map[string]any{
			"action":  action,
			"issue":   map[string]any{"number": issue, "title": "test issue", "body": ""},
			"comment": map[string]any{"body": text},
		}
	default:
		return nil, "", fmt.Errorf("unsupported event %q (want issues or issue_comment)", event)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	return body, action, nil
}
