// Package notify posts issue comments via the gh CLI. The dispatch path
// treats posting as best effort: a failed comment is logged, never a
// reason to skip the launch.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Notifier is the issue/comment capability consumed by the dispatcher.
type Notifier interface {
	Comment(ctx context.Context, issueNumber int, body string) error
}

// GHNotifier shells out to `gh issue comment`.
type GHNotifier struct {
	// RepoPath is owner/repo; empty lets gh infer from the working tree.
	RepoPath string
	Timeout  time.Duration
}

func (n GHNotifier) Comment(ctx context.Context, issueNumber int, body string) error {
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"issue", "comment", strconv.Itoa(issueNumber), "--body", body}
	if n.RepoPath != "" {
		args = append(args, "--repo", n.RepoPath)
	}
	cmd := exec.CommandContext(ctx, "gh", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("gh issue comment: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// DetectionComment builds the bot's workflow-detected message. The marker
// prefix is what the classifier later recognizes to break feedback loops.
func DetectionComment(marker, workflow, jobID, reason, logDir string) string {
	return fmt.Sprintf(
		"%s 🤖 ADW Webhook: Detected `%s` workflow request\n\n"+
			"Starting workflow with ID: `%s`\n"+
			"Reason: %s\n\n"+
			"Logs will be available at: `%s/`",
		marker, workflow, jobID, reason, logDir,
	)
}
