package database

import (
	"fmt"
	"strings"
)

// JobState mirrors the original ADW state file: the continuity record a
// resume-style workflow needs to pick up where a previous run stopped.
type JobState struct {
	AdwID       string `json:"adw_id"`
	IssueNumber int    `json:"issue_number"`
	Workflow    string `json:"workflow"`
	UpdatedBy   string `json:"updated_by"`
	CreatedAt   string `json:"created_at"`
	LastUpdated string `json:"last_updated"`
}

// UpsertJobState records that adwID is bound to issueNumber and was last
// touched by workflow. updatedBy names the writer (always
// "webhook_trigger" from the dispatch path).
func UpsertJobState(adwID string, issueNumber int, workflow, updatedBy string) (JobState, error) {
	handle := GetDB()
	if handle == nil {
		return JobState{}, fmt.Errorf("db not initialized")
	}
	adwID = strings.TrimSpace(adwID)
	if adwID == "" {
		return JobState{}, fmt.Errorf("adw_id is required")
	}
	if issueNumber <= 0 {
		return JobState{}, fmt.Errorf("issue_number is required")
	}

	_, err := handle.Exec(`
INSERT INTO job_states(adw_id, issue_number, workflow, updated_by, created_at, last_updated)
VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
ON CONFLICT(adw_id) DO UPDATE SET
	issue_number = excluded.issue_number,
	workflow = excluded.workflow,
	updated_by = excluded.updated_by,
	last_updated = CURRENT_TIMESTAMP
`, adwID, issueNumber, strings.TrimSpace(workflow), strings.TrimSpace(updatedBy))
	if err != nil {
		return JobState{}, err
	}

	return GetJobState(adwID)
}

// GetJobState loads the continuity record for adwID.
func GetJobState(adwID string) (JobState, error) {
	handle := GetDB()
	if handle == nil {
		return JobState{}, fmt.Errorf("db not initialized")
	}
	adwID = strings.TrimSpace(adwID)
	if adwID == "" {
		return JobState{}, fmt.Errorf("adw_id is required")
	}

	var out JobState
	err := handle.QueryRow(`
SELECT
	adw_id,
	issue_number,
	COALESCE(workflow, ''),
	COALESCE(updated_by, ''),
	COALESCE(created_at, CURRENT_TIMESTAMP),
	COALESCE(last_updated, CURRENT_TIMESTAMP)
FROM job_states
WHERE adw_id = ?
`, adwID).Scan(
		&out.AdwID,
		&out.IssueNumber,
		&out.Workflow,
		&out.UpdatedBy,
		&out.CreatedAt,
		&out.LastUpdated,
	)
	if err != nil {
		return JobState{}, err
	}
	return out, nil
}
