package state

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestIncProcessedIsMonotonic(t *testing.T) {
	d := New(8001)
	var prev int64
	for i := 0; i < 10; i++ {
		got := d.IncProcessed()
		if got <= prev {
			t.Fatalf("counter went backwards: %d after %d", got, prev)
		}
		prev = got
	}
	if d.Get().Processed != 10 {
		t.Errorf("expected 10 processed, got %d", d.Get().Processed)
	}
}

func TestIncProcessedConcurrent(t *testing.T) {
	d := New(8001)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.IncProcessed()
		}()
	}
	wg.Wait()
	if got := d.Get().Processed; got != 50 {
		t.Errorf("expected 50 after concurrent increments, got %d", got)
	}
}

func TestRecordOutcomeAndJSON(t *testing.T) {
	d := New(8001)
	d.RecordOutcome("issue_comment", "accepted", "Comment with adw_build workflow", "adw_build")
	d.SetTunnelURL("https://example.ngrok.app")

	raw, err := d.JSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.LastWorkflow != "adw_build" || rec.TunnelURL != "https://example.ngrok.app" {
		t.Errorf("unexpected record %+v", rec)
	}
}
