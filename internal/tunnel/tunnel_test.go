package tunnel

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"webhookd/internal/retry"
)

func TestStartWithoutAuthtoken(t *testing.T) {
	m := NewManager(8001, "", "")
	if m.Configured() {
		t.Fatal("manager without token must not report configured")
	}

	_, err := m.Start()
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if st := m.Status(); st.Active {
		t.Error("status must report inactive when start never succeeded")
	}
	if m.URL() != "" {
		t.Errorf("expected no URL, got %q", m.URL())
	}
}

func TestDiscoverURLPrefersHTTPS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tunnels" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"tunnels":[
			{"proto":"http","public_url":"http://abc.ngrok.app"},
			{"proto":"https","public_url":"https://abc.ngrok.app"},
			{"proto":"tcp","public_url":"tcp://1.tcp.ngrok.io:1234"}
		]}`)
	}))
	defer srv.Close()

	m := NewManager(8001, "tok", "")
	m.apiURL = srv.URL + "/api"
	m.discovery = retry.Policy{MaxAttempts: 2}

	if got := m.discoverURL(); got != "https://abc.ngrok.app" {
		t.Errorf("expected https URL preferred, got %q", got)
	}
}

func TestDiscoverURLFallsBackToHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tunnels":[{"proto":"http","public_url":"http://only.ngrok.app"}]}`)
	}))
	defer srv.Close()

	m := NewManager(8001, "tok", "")
	m.apiURL = srv.URL + "/api"
	m.discovery = retry.Policy{MaxAttempts: 2}

	if got := m.discoverURL(); got != "http://only.ngrok.app" {
		t.Errorf("expected http fallback, got %q", got)
	}
}

func TestDiscoverURLExhaustsBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tunnels":[]}`)
	}))
	defer srv.Close()

	m := NewManager(8001, "tok", "")
	m.apiURL = srv.URL + "/api"
	m.discovery = retry.Policy{MaxAttempts: 3}

	if got := m.discoverURL(); got != "" {
		t.Errorf("expected no URL from empty tunnel list, got %q", got)
	}
}

func TestFetchMetricsToleratesFailure(t *testing.T) {
	m := NewManager(8001, "tok", "")
	m.apiURL = "http://127.0.0.1:1/api" // nothing listening

	if got := m.fetchMetrics(); got != (Metrics{}) {
		t.Errorf("expected empty metrics on fetch failure, got %+v", got)
	}
}

func TestFetchMetricsParsesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"connections":3,"http":{"count":17}}`)
	}))
	defer srv.Close()

	m := NewManager(8001, "tok", "")
	m.apiURL = srv.URL + "/api"

	got := m.fetchMetrics()
	if got.Connections != 3 || got.HTTPRequests != 17 {
		t.Errorf("unexpected metrics %+v", got)
	}
}

func TestWebhookURL(t *testing.T) {
	m := NewManager(8001, "tok", "")
	if m.WebhookURL() != "" {
		t.Error("expected empty webhook URL before start")
	}
	m.url = "https://abc.ngrok.app"
	if got := m.WebhookURL(); got != "https://abc.ngrok.app/gh-webhook" {
		t.Errorf("unexpected webhook URL %q", got)
	}
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	m := NewManager(8001, "tok", "")
	m.Stop() // must not panic or block
	if st := m.Status(); st.Active {
		t.Error("expected inactive after stop")
	}
}

func TestClosedManagerRefusesStart(t *testing.T) {
	m := NewManager(8001, "tok", "")
	m.Close()
	if _, err := m.Start(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable after Close, got %v", err)
	}
}

func TestMonitorReturnsWhenRestartImpossible(t *testing.T) {
	m := NewManager(8001, "", "") // no token, restart can never succeed

	var sawInactive bool
	done := make(chan struct{})
	go func() {
		m.Monitor(10*time.Millisecond, func(st State) {
			if !st.Active {
				sawInactive = true
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor must return when the tunnel cannot be restarted")
	}
	if !sawInactive {
		t.Error("monitor never reported the outage")
	}
}

// installFakeNgrok puts an ngrok stand-in on PATH: answers the version
// check and otherwise stays alive until killed.
func installFakeNgrok(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	script := "#!/bin/sh\nif [ \"$1\" = \"version\" ]; then exit 0; fi\nexec sleep 60\n"
	if err := os.WriteFile(filepath.Join(dir, "ngrok"), []byte(script), 0o755); err != nil {
		t.Fatalf("write stand-in binary: %v", err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestMonitorRestartsAfterOutageThenGivesUp(t *testing.T) {
	installFakeNgrok(t)

	var urlAvailable atomic.Bool
	urlAvailable.Store(true)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if urlAvailable.Load() {
			fmt.Fprint(w, `{"tunnels":[{"proto":"https","public_url":"https://mon.ngrok.app"}]}`)
			return
		}
		fmt.Fprint(w, `{"tunnels":[]}`)
	}))
	defer api.Close()

	m := NewManager(8001, "tok", "")
	m.apiURL = api.URL + "/api"
	m.discovery = retry.Policy{MaxAttempts: 1}
	m.cleanupStale = func() {}
	defer m.Close()

	if _, err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	killTunnelProcess := func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			m.mu.Lock()
			var proc *os.Process
			if m.cmd != nil {
				proc = m.cmd.Process
			}
			m.mu.Unlock()
			if proc != nil {
				_ = proc.Kill()
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatal("no tunnel process to kill")
	}

	var wasDown atomic.Bool
	recovered := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		m.Monitor(20*time.Millisecond, func(st State) {
			if !st.Active {
				wasDown.Store(true)
				return
			}
			if wasDown.Load() {
				select {
				case recovered <- struct{}{}:
				default:
				}
			}
		})
		close(done)
	}()

	killTunnelProcess()
	select {
	case <-recovered:
	case <-time.After(10 * time.Second):
		t.Fatal("monitor did not restart the tunnel after the outage")
	}

	// Second outage with URL discovery broken: one failed restart attempt,
	// then the monitor gives up.
	urlAvailable.Store(false)
	killTunnelProcess()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("monitor did not give up after a failed restart")
	}
}
