package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Store aggregates process-lifetime counters for the dispatcher. All
// methods are safe for concurrent request handlers.
type Store struct {
	mu          sync.Mutex
	requests    map[string]int // "path|method|status"
	outcomes    map[string]int // accepted | ignored | error | unauthorized
	launches    map[string]int // per workflow
	tokenTotal  int
	tokenEvents int
}

func NewStore() *Store {
	return &Store{
		requests: make(map[string]int),
		outcomes: make(map[string]int),
		launches: make(map[string]int),
	}
}

func (s *Store) IncRequest(path, method string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[fmt.Sprintf("%s|%s|%d", path, method, status)]++
}

// IncOutcome records the body-level verdict of one webhook event.
func (s *Store) IncOutcome(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[outcome]++
}

func (s *Store) IncLaunch(workflow string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launches[workflow]++
}

// AddTokenEstimate accumulates the estimated prompt-token cost of
// triggering content.
func (s *Store) AddTokenEstimate(tokens int) {
	if tokens <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTotal += tokens
	s.tokenEvents++
}

// Outcomes returns a copy of the webhook outcome counters for /status.
func (s *Store) Outcomes() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.outcomes))
	for k, v := range s.outcomes {
		out[k] = v
	}
	return out
}

// TokenEstimateTotal returns the accumulated token estimate and the number
// of events it covers.
func (s *Store) TokenEstimateTotal() (total, events int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenTotal, s.tokenEvents
}

// Prometheus renders the counters in text exposition format.
func (s *Store) Prometheus(tunnelActive bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder

	b.WriteString("# HELP webhookd_http_requests_total HTTP requests served.\n")
	b.WriteString("# TYPE webhookd_http_requests_total counter\n")
	for _, key := range sortedKeys(s.requests) {
		parts := strings.SplitN(key, "|", 3)
		fmt.Fprintf(&b, "webhookd_http_requests_total{path=%q,method=%q,status=%q} %d\n",
			parts[0], parts[1], parts[2], s.requests[key])
	}

	b.WriteString("# HELP webhookd_webhook_outcomes_total Webhook events by body-level outcome.\n")
	b.WriteString("# TYPE webhookd_webhook_outcomes_total counter\n")
	for _, key := range sortedKeys(s.outcomes) {
		fmt.Fprintf(&b, "webhookd_webhook_outcomes_total{outcome=%q} %d\n", key, s.outcomes[key])
	}

	b.WriteString("# HELP webhookd_workflow_launches_total Background workflow launches.\n")
	b.WriteString("# TYPE webhookd_workflow_launches_total counter\n")
	for _, key := range sortedKeys(s.launches) {
		fmt.Fprintf(&b, "webhookd_workflow_launches_total{workflow=%q} %d\n", key, s.launches[key])
	}

	fmt.Fprintf(&b, "webhookd_token_estimate_total %d\n", s.tokenTotal)
	fmt.Fprintf(&b, "webhookd_token_estimate_events %d\n", s.tokenEvents)

	active := 0
	if tunnelActive {
		active = 1
	}
	fmt.Fprintf(&b, "webhookd_tunnel_active %d\n", active)

	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
