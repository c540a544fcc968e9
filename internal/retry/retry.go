package retry

import "time"

// Policy bounds a polling loop: how many attempts, and how long to sleep
// between them. Shared by port reclaim, tunnel URL discovery, and the
// serve restart loop so retry budgets live in one place.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Do runs fn up to MaxAttempts times, sleeping Delay between attempts.
// fn returns done=true to stop early (success). Do returns true if fn
// reported done within the budget.
func (p Policy) Do(fn func(attempt int) bool) bool {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if fn(attempt) {
			return true
		}
		if attempt < attempts-1 && p.Delay > 0 {
			time.Sleep(p.Delay)
		}
	}
	return false
}
