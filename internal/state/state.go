package state

import (
	"encoding/json"
	"sync"
	"time"
)

// Record is the dispatcher's process-wide state: uptime bookkeeping, the
// monotonically non-decreasing processed-event counter, and the last
// dispatch decision for the live stream.
type Record struct {
	StartTime    time.Time `json:"start_time"`
	Processed    int64     `json:"webhooks_processed"`
	LastEvent    string    `json:"last_event,omitempty"`
	LastOutcome  string    `json:"last_outcome,omitempty"`
	LastReason   string    `json:"last_reason,omitempty"`
	LastWorkflow string    `json:"last_workflow,omitempty"`
	TunnelURL    string    `json:"tunnel_url,omitempty"`
	Port         int       `json:"port"`
}

// Dispatch owns one Record behind a lock. Constructed once at startup and
// passed into every handler; tests build fresh instances.
type Dispatch struct {
	mu  sync.RWMutex
	rec Record
}

func New(port int) *Dispatch {
	return &Dispatch{rec: Record{StartTime: time.Now(), Port: port}}
}

// IncProcessed counts one received webhook, regardless of outcome, and
// returns the new total.
func (d *Dispatch) IncProcessed() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rec.Processed++
	return d.rec.Processed
}

// RecordOutcome stores the most recent dispatch decision.
func (d *Dispatch) RecordOutcome(event, outcome, reason, workflow string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rec.LastEvent = event
	d.rec.LastOutcome = outcome
	d.rec.LastReason = reason
	d.rec.LastWorkflow = workflow
}

// SetTunnelURL publishes the current public URL (empty when the tunnel is
// down).
func (d *Dispatch) SetTunnelURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rec.TunnelURL = url
}

// Get returns a copy of the current record.
func (d *Dispatch) Get() Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rec
}

// Uptime returns how long the dispatcher has been serving.
func (d *Dispatch) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return time.Since(d.rec.StartTime)
}

// JSON renders the record for the event stream endpoint.
func (d *Dispatch) JSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.Marshal(d.rec)
}
