// Package launcher spawns detached background processes for matched
// workflows. The request path only guarantees submission, never completion:
// once Start returns, the job belongs to the OS process table and its own
// logging.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// Handle identifies a launched job. The dispatcher does not track the
// process to completion.
type Handle struct {
	PID         int       `json:"pid"`
	Workflow    string    `json:"workflow"`
	JobID       string    `json:"job_id"`
	IssueNumber int       `json:"issue"`
	LaunchedAt  time.Time `json:"launched_at"`
}

// LaunchError means the job never started: the workflow script is missing
// or the spawn itself failed. A job that starts and later fails is not a
// launch error.
type LaunchError struct {
	Workflow string
	Err      error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Workflow, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Launcher resolves workflow names to scripts under WorkflowDir and runs
// them from RepoRoot with the parent environment plus Env overrides.
type Launcher struct {
	WorkflowDir string
	RepoRoot    string
	Env         []string
}

// ScriptPath returns where the workflow's entry script must live.
func (l Launcher) ScriptPath(workflow string) string {
	return filepath.Join(l.WorkflowDir, workflow+".py")
}

// Launch starts `uv run <script> <issue> <jobID>` in its own process group
// and returns immediately with a handle. The child is reaped by a
// background goroutine so it never zombies.
func (l Launcher) Launch(workflow, jobID string, issueNumber int) (Handle, error) {
	script := l.ScriptPath(workflow)
	if _, err := os.Stat(script); err != nil {
		return Handle{}, &LaunchError{Workflow: workflow, Err: fmt.Errorf("workflow script %s: %w", script, err)}
	}

	cmd := exec.Command("uv", "run", script, strconv.Itoa(issueNumber), jobID)
	cmd.Dir = l.RepoRoot
	cmd.Env = append(os.Environ(), l.Env...)
	// Own process group: the job survives server restarts and signals
	// aimed at the dispatcher.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return Handle{}, &LaunchError{Workflow: workflow, Err: err}
	}
	go func() { _ = cmd.Wait() }()

	return Handle{
		PID:         cmd.Process.Pid,
		Workflow:    workflow,
		JobID:       jobID,
		IssueNumber: issueNumber,
		LaunchedAt:  time.Now(),
	}, nil
}

// LogDir is where the launched workflow writes its execution log, surfaced
// in webhook responses and bot comments.
func LogDir(jobID, workflow string) string {
	return filepath.Join("agents", jobID, workflow)
}
