package tokencount

import "testing"

func TestEstimateEmpty(t *testing.T) {
	if got := Estimate(""); got != 0 {
		t.Errorf("expected 0 tokens for empty content, got %d", got)
	}
}

func TestEstimateNonZero(t *testing.T) {
	if got := Estimate("Please run adw_plan_build on this issue"); got <= 0 {
		t.Errorf("expected a positive estimate, got %d", got)
	}
}

func TestEstimateMonotonicInLength(t *testing.T) {
	short := Estimate("adw_plan")
	long := Estimate("adw_plan adw_plan adw_plan adw_plan adw_plan adw_plan adw_plan adw_plan")
	if long <= short {
		t.Errorf("expected longer content to cost more tokens: short=%d long=%d", short, long)
	}
}

func TestApproximateFloor(t *testing.T) {
	if got := approximate("ab"); got != 1 {
		t.Errorf("expected approximation floor of 1 token, got %d", got)
	}
}
