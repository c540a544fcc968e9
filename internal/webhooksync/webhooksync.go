// Package webhooksync keeps the GitHub repository webhook pointed at the
// current tunnel URL. Every ngrok restart mints a fresh public URL, so
// the monitor loop calls Sync whenever the URL changes. All operations go
// through the gh CLI and are best effort.
package webhooksync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"
)

const ghTimeout = 20 * time.Second

type hookConfig struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	InsecureSSL string `json:"insecure_ssl"`
	Secret      string `json:"secret,omitempty"`
}

type hook struct {
	ID     int        `json:"id"`
	Name   string     `json:"name"`
	Active bool       `json:"active"`
	Events []string   `json:"events"`
	Config hookConfig `json:"config"`
}

// Syncer drives gh api calls against one repository.
type Syncer struct {
	RepoPath string // owner/repo
	// Secret, when set, is written into the hook config so GitHub signs
	// deliveries.
	Secret string
}

// Sync ensures a webhook for webhookURL exists: PATCH the existing ADW
// hook if one is found, otherwise create it.
func (s Syncer) Sync(ctx context.Context, webhookURL string) error {
	if s.RepoPath == "" {
		return fmt.Errorf("webhooksync: repo path not configured")
	}
	if webhookURL == "" {
		return fmt.Errorf("webhooksync: webhook URL is empty")
	}

	existing, err := s.findHook(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Config.URL == webhookURL {
			return nil
		}
		log.Printf("[webhook-sync] updating hook %d to %s", existing.ID, webhookURL)
		return s.updateHook(ctx, existing.ID, webhookURL)
	}
	log.Printf("[webhook-sync] creating hook for %s", webhookURL)
	return s.createHook(ctx, webhookURL)
}

func (s Syncer) listHooks(ctx context.Context) ([]hook, error) {
	out, err := s.ghAPI(ctx, nil, fmt.Sprintf("repos/%s/hooks", s.RepoPath))
	if err != nil {
		return nil, err
	}
	var hooks []hook
	if err := json.Unmarshal(out, &hooks); err != nil {
		return nil, fmt.Errorf("webhooksync: parse hook list: %w", err)
	}
	return hooks, nil
}

// findHook locates the dispatcher's hook by its endpoint pattern.
func (s Syncer) findHook(ctx context.Context) (*hook, error) {
	hooks, err := s.listHooks(ctx)
	if err != nil {
		return nil, err
	}
	return matchHook(hooks), nil
}

func matchHook(hooks []hook) *hook {
	for i := range hooks {
		url := hooks[i].Config.URL
		if strings.Contains(url, "/gh-webhook") || strings.Contains(url, "ngrok") {
			return &hooks[i]
		}
	}
	return nil
}

func (s Syncer) createHook(ctx context.Context, webhookURL string) error {
	payload := map[string]any{
		"name":   "web",
		"active": true,
		"events": []string{"issues", "issue_comment"},
		"config": hookConfig{URL: webhookURL, ContentType: "json", InsecureSSL: "1", Secret: s.Secret},
	}
	body, _ := json.Marshal(payload)
	_, err := s.ghAPI(ctx, body, fmt.Sprintf("repos/%s/hooks", s.RepoPath), "--method", "POST", "--input", "-")
	return err
}

func (s Syncer) updateHook(ctx context.Context, hookID int, webhookURL string) error {
	payload := map[string]any{
		"active": true,
		"config": hookConfig{URL: webhookURL, ContentType: "json", InsecureSSL: "1", Secret: s.Secret},
	}
	body, _ := json.Marshal(payload)
	_, err := s.ghAPI(ctx, body, fmt.Sprintf("repos/%s/hooks/%d", s.RepoPath, hookID), "--method", "PATCH", "--input", "-")
	return err
}

func (s Syncer) ghAPI(ctx context.Context, stdin []byte, endpoint string, extra ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ghTimeout)
	defer cancel()

	args := append([]string{"api", endpoint}, extra...)
	cmd := exec.CommandContext(ctx, "gh", args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("webhooksync: gh api %s: %v: %s", endpoint, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
