package retry

import (
	"testing"
	"time"
)

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	ok := Policy{MaxAttempts: 5}.Do(func(attempt int) bool {
		calls++
		return attempt == 2
	})
	if !ok {
		t.Fatal("expected success within budget")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	ok := Policy{MaxAttempts: 3, Delay: time.Millisecond}.Do(func(int) bool {
		calls++
		return false
	})
	if ok {
		t.Fatal("expected exhausted budget to report failure")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	Policy{}.Do(func(int) bool {
		calls++
		return false
	})
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}
