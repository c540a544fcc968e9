package cmd

import (
	"encoding/json"
	"testing"
)

func TestBuildTestPayload(t *testing.T) {
	tests := []struct {
		name       string
		event      string
		wantAction string
		wantErr    bool
	}{
		{name: "issues", event: "issues", wantAction: "opened"},
		{name: "issue comment", event: "issue_comment", wantAction: "created"},
		{name: "unsupported", event: "push", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, action, err := buildTestPayload(tt.event, 7, "adw_plan")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error for unsupported event")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildTestPayload() error: %v", err)
			}
			if action != tt.wantAction {
				t.Fatalf("action = %q, want %q", action, tt.wantAction)
			}

			var payload map[string]any
			if err := json.Unmarshal(body, &payload); err != nil {
				t.Fatalf("payload is not JSON: %v", err)
			}
			if payload["action"] != tt.wantAction {
				t.Fatalf("payload action = %v", payload["action"])
			}
			issue, ok := payload["issue"].(map[string]any)
			if !ok || issue["number"] != float64(7) {
				t.Fatalf("issue block = %v", payload["issue"])
			}
		})
	}
}
