package metrics

import (
	"strings"
	"testing"
)

func TestPrometheusIncludesDispatchCounters(t *testing.T) {
	store := NewStore()
	store.IncRequest("/gh-webhook", "POST", 200)
	store.IncRequest("/gh-webhook", "POST", 200)
	store.IncOutcome("accepted")
	store.IncOutcome("ignored")
	store.IncLaunch("adw_plan_build")
	store.AddTokenEstimate(120)

	out := store.Prometheus(true)

	required := []string{
		`webhookd_http_requests_total{path="/gh-webhook",method="POST",status="200"} 2`,
		`webhookd_webhook_outcomes_total{outcome="accepted"} 1`,
		`webhookd_webhook_outcomes_total{outcome="ignored"} 1`,
		`webhookd_workflow_launches_total{workflow="adw_plan_build"} 1`,
		"webhookd_token_estimate_total 120",
		"webhookd_token_estimate_events 1",
		"webhookd_tunnel_active 1",
	}
	for _, token := range required {
		if !strings.Contains(out, token) {
			t.Fatalf("expected metric output to contain %q\noutput:\n%s", token, out)
		}
	}
}

func TestTokenEstimateIgnoresNonPositive(t *testing.T) {
	store := NewStore()
	store.AddTokenEstimate(0)
	store.AddTokenEstimate(-5)

	total, events := store.TokenEstimateTotal()
	if total != 0 || events != 0 {
		t.Errorf("expected zero totals, got total=%d events=%d", total, events)
	}
}

func TestOutcomesReturnsCopy(t *testing.T) {
	store := NewStore()
	store.IncOutcome("error")

	snapshot := store.Outcomes()
	snapshot["error"] = 99

	if got := store.Outcomes()["error"]; got != 1 {
		t.Errorf("expected internal counter unchanged, got %d", got)
	}
}
