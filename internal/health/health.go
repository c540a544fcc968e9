// Package health probes the dispatcher's external collaborators: the uv
// launcher, the gh CLI, the workflow scripts, the job-state store, and the
// tunnel introspection API. Probes run concurrently under one bounded
// timeout so the /health endpoint can never hang.
package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"webhookd/internal/classify"
	"webhookd/internal/database"
)

type Check struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Target  string `json:"target,omitempty"`
	Error   string `json:"error,omitempty"`
	// Fatal marks probes whose failure makes the service unable to do
	// its job; non-fatal failures surface as warnings.
	Fatal bool `json:"-"`
}

type Report struct {
	Healthy  bool     `json:"success"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
	Checks   []Check  `json:"checks"`
}

// Checker holds everything the probes need. Zero Timeout means 30s.
type Checker struct {
	WorkflowDir   string
	TunnelEnabled bool
	TunnelAPIURL  string
	Timeout       time.Duration
}

const defaultTimeout = 30 * time.Second

// Check runs all probes concurrently and aggregates the verdict. The
// context (plus the checker's own timeout) bounds every probe; a timed-out
// probe reports unhealthy rather than blocking.
func (c Checker) Check(ctx context.Context) Report {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	probes := []func(context.Context) Check{
		c.probeUV,
		c.probeGH,
		c.probeWorkflows,
		c.probeDatabase,
	}
	if c.TunnelEnabled {
		probes = append(probes, c.probeTunnelAPI)
	}

	results := make([]Check, len(probes))
	var wg sync.WaitGroup
	wg.Add(len(probes))
	for i, probe := range probes {
		go func(i int, probe func(context.Context) Check) {
			defer wg.Done()
			results[i] = probe(ctx)
		}(i, probe)
	}
	wg.Wait()

	report := Report{Healthy: true, Warnings: []string{}, Errors: []string{}, Checks: results}
	for _, check := range results {
		if check.Healthy {
			continue
		}
		msg := fmt.Sprintf("%s: %s", check.Name, check.Error)
		if check.Fatal {
			report.Healthy = false
			report.Errors = append(report.Errors, msg)
		} else {
			report.Warnings = append(report.Warnings, msg)
		}
	}
	return report
}

func (c Checker) probeUV(ctx context.Context) Check {
	check := Check{Name: "uv", Target: "uv --version", Fatal: true}
	if err := exec.CommandContext(ctx, "uv", "--version").Run(); err != nil {
		check.Error = fmt.Sprintf("uv launcher not available: %v", err)
		return check
	}
	check.Healthy = true
	return check
}

func (c Checker) probeGH(ctx context.Context) Check {
	check := Check{Name: "gh", Target: "gh --version"}
	if err := exec.CommandContext(ctx, "gh", "--version").Run(); err != nil {
		check.Error = fmt.Sprintf("gh CLI not available, issue comments disabled: %v", err)
		return check
	}
	check.Healthy = true
	return check
}

func (c Checker) probeWorkflows(_ context.Context) Check {
	check := Check{Name: "workflows", Target: c.WorkflowDir, Fatal: true}
	if _, err := os.Stat(c.WorkflowDir); err != nil {
		check.Error = fmt.Sprintf("workflow directory missing: %v", err)
		return check
	}
	missing := []string{}
	for _, name := range classify.Names() {
		script := fmt.Sprintf("%s/%s.py", c.WorkflowDir, name)
		if _, err := os.Stat(script); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		check.Error = fmt.Sprintf("missing workflow scripts: %v", missing)
		return check
	}
	check.Healthy = true
	return check
}

func (c Checker) probeDatabase(_ context.Context) Check {
	check := Check{Name: "database", Target: "sqlite"}
	if database.GetDB() == nil {
		if err := database.InitDB(); err != nil {
			check.Error = fmt.Sprintf("job-state store unavailable: %v", err)
			return check
		}
	}
	check.Healthy = true
	return check
}

func (c Checker) probeTunnelAPI(ctx context.Context) Check {
	apiURL := c.TunnelAPIURL
	if apiURL == "" {
		apiURL = "http://127.0.0.1:4040/api"
	}
	check := Check{Name: "tunnel_api", Target: apiURL}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/tunnels", nil)
	if err != nil {
		check.Error = err.Error()
		return check
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		check.Error = fmt.Sprintf("ngrok introspection API unreachable: %v", err)
		return check
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		check.Error = fmt.Sprintf("non-2xx status: %d", resp.StatusCode)
		return check
	}
	check.Healthy = true
	return check
}
