package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"webhookd/internal/health"
)

// handleStatus reports the live dispatch record plus tunnel posture.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	rec := s.state.Get()
	uptime := s.state.Uptime()

	perMinute := 0.0
	if mins := uptime.Minutes(); mins > 0 {
		perMinute = float64(rec.Processed) / mins
	}

	resp := map[string]any{
		"status":  "running",
		"service": serviceName,
		"version": serviceVersion,
		"server": map[string]any{
			"port":           rec.Port,
			"uptime_seconds": int64(uptime.Seconds()),
			"uptime":         formatUptime(uptime),
			"start_time":     rec.StartTime.UTC().Format(time.RFC3339),
		},
		"metrics": map[string]any{
			"webhooks_processed":  rec.Processed,
			"webhooks_per_minute": perMinute,
		},
		"endpoints": map[string]string{
			"webhook": "/gh-webhook",
			"status":  "/status",
			"health":  "/health",
			"metrics": "/metrics",
			"stream":  "/stream",
		},
	}

	tun := map[string]any{"active": false}
	if s.tunnel != nil {
		st := s.tunnel.Status()
		tun["active"] = st.Active
		if st.Active {
			tun["url"] = st.URL
			tun["webhook_url"] = s.tunnel.WebhookURL()
			tun["metrics"] = st.Metrics
		}
	}
	resp["tunnel"] = tun

	writeJSON(w, http.StatusOK, resp)
}

// handleHealth runs the dependency probes, bounded so a stuck probe can
// never wedge the endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "checks": []string{}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.healthTimeout)
	defer cancel()

	done := make(chan health.Report, 1)
	go func() { done <- s.checker.Check(ctx) }()

	select {
	case report := <-done:
		status := http.StatusOK
		if !report.Healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	case <-ctx.Done():
		writeJSON(w, http.StatusServiceUnavailable, health.Report{
			Healthy: false,
			Errors:  []string{"health check timed out"},
		})
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	tunnelActive := false
	if s.tunnel != nil {
		tunnelActive = s.tunnel.Status().Active
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprint(w, s.metrics.Prometheus(tunnelActive))
}

// handleStream pushes the dispatch record as server-sent events until the
// client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			data, err := s.state.JSON()
			if err == nil {
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}

// formatUptime renders a duration the way operators read it, e.g.
// "1h 3m 12s".
func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
