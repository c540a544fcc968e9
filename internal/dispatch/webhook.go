package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"webhookd/internal/classify"
	"webhookd/internal/database"
	"webhookd/internal/launcher"
	"webhookd/internal/notify"
	"webhookd/internal/signature"
	"webhookd/internal/tokencount"
)

// webhookPayload is the slice of the GitHub event body we act on.
type webhookPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"issue"`
	Comment struct {
		Body string `json:"body"`
	} `json:"comment"`
}

// handleWebhook always answers 200: a non-success transport status would
// make GitHub retry the delivery and duplicate job launches. The outcome
// taxonomy lives in the body's status field.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	// Counted on receipt, before any validation, regardless of outcome.
	s.state.IncProcessed()

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ignored",
			"reason": "unsupported method",
		})
		return
	}

	eventType := r.Header.Get(eventHeader)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respondError(w, eventType, "failed to read request body")
		return
	}

	if s.cfg.WebhookSecret != "" {
		if !signature.Validate(body, r.Header.Get(sigHeader), s.cfg.WebhookSecret) {
			log.Printf("[dispatch] rejected webhook with invalid signature (event=%s)", eventType)
			s.metrics.IncOutcome("unauthorized")
			s.state.RecordOutcome(eventType, "ignored", "invalid signature", "")
			writeJSON(w, http.StatusOK, map[string]string{
				"status": "ignored",
				"reason": "invalid signature",
			})
			return
		}
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("[dispatch] malformed payload (event=%s): %v", eventType, err)
		s.respondError(w, eventType, "payload is not valid JSON")
		return
	}

	ev := classify.Event{
		Type:        eventType,
		Action:      payload.Action,
		IssueNumber: payload.Issue.Number,
		Body:        payload.Issue.Body,
	}
	if eventType == "issue_comment" {
		ev.Body = payload.Comment.Body
	}

	log.Printf("[dispatch] received webhook: event=%s action=%s issue=%d", ev.Type, ev.Action, ev.IssueNumber)

	res := s.classifier.Classify(ev)
	if !res.Matched() {
		log.Printf("[dispatch] ignoring webhook: %s", res.Reason)
		s.metrics.IncOutcome("ignored")
		s.state.RecordOutcome(ev.Type, "ignored", res.Reason, "")
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ignored",
			"reason": res.Reason,
		})
		return
	}

	jobID := res.JobID
	if jobID == "" {
		jobID = s.newJobID()
	}

	tokens := tokencount.Estimate(ev.Body)
	s.metrics.AddTokenEstimate(tokens)
	log.Printf("[dispatch] matched %s (job=%s, ~%d prompt tokens): %s", res.Workflow, jobID, tokens, res.Reason)

	// Resume continuity: a caller-provided id gets its state recorded so
	// the launched workflow can pick up prior context.
	if res.JobID != "" {
		if err := s.persistState(res.JobID, ev.IssueNumber, res.Workflow); err != nil {
			log.Printf("[dispatch] failed to persist job state for %s: %v", res.JobID, err)
		}
	}

	logDir := launcher.LogDir(jobID, res.Workflow)

	// Best effort: a failed comment never blocks the launch.
	if s.notifier != nil {
		comment := notify.DetectionComment(s.cfg.BotMarker, res.Workflow, jobID, res.Reason, logDir)
		if err := s.notifier.Comment(r.Context(), ev.IssueNumber, comment); err != nil {
			log.Printf("[dispatch] failed to post issue comment: %v", err)
		}
	}

	handle, err := s.launcher.Launch(res.Workflow, jobID, ev.IssueNumber)
	if err != nil {
		log.Printf("[dispatch] launch failed: %v", err)
		s.metrics.IncOutcome("error")
		s.state.RecordOutcome(ev.Type, "error", res.Reason, res.Workflow)
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "error",
			"message": fmt.Sprintf("failed to launch %s workflow", res.Workflow),
		})
		return
	}

	log.Printf("[dispatch] launched %s for issue #%d (job=%s pid=%d)", res.Workflow, ev.IssueNumber, jobID, handle.PID)
	s.metrics.IncOutcome("accepted")
	s.metrics.IncLaunch(res.Workflow)
	s.state.RecordOutcome(ev.Type, "accepted", res.Reason, res.Workflow)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "accepted",
		"issue":    ev.IssueNumber,
		"job_id":   jobID,
		"workflow": res.Workflow,
		"message":  fmt.Sprintf("ADW %s workflow triggered for issue #%d", res.Workflow, ev.IssueNumber),
		"reason":   res.Reason,
		"logs":     logDir + "/",
	})
}

func (s *Server) respondError(w http.ResponseWriter, eventType, message string) {
	s.metrics.IncOutcome("error")
	s.state.RecordOutcome(eventType, "error", message, "")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "error",
		"message": message,
	})
}

// persistState defers to the injected hook when present (tests), else the
// sqlite store.
func (s *Server) persistState(adwID string, issueNumber int, workflow string) error {
	if s.persistJobState != nil {
		return s.persistJobState(adwID, issueNumber, workflow)
	}
	return defaultPersistJobState(adwID, issueNumber, workflow)
}

func defaultPersistJobState(adwID string, issueNumber int, workflow string) error {
	_, err := database.UpsertJobState(adwID, issueNumber, workflow, "webhook_trigger")
	return err
}
