// Package tunnel manages an ngrok process that exposes the local webhook
// port publicly. ngrok is an unreliable external dependency: every
// operation here degrades to local-only mode instead of propagating
// failure into the serving path.
package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"webhookd/internal/retry"
)

// ErrUnavailable means no tunnel could be established: binary missing,
// unauthenticated, or URL discovery timed out. Never fatal to the server.
var ErrUnavailable = errors.New("tunnel unavailable")

const (
	defaultAPIURL  = "http://127.0.0.1:4040/api"
	stopGraceWait  = 5 * time.Second
	versionTimeout = 5 * time.Second
)

// urlDiscovery bounds polling of the ngrok introspection API after spawn.
var urlDiscovery = retry.Policy{MaxAttempts: 10, Delay: time.Second}

// Metrics is the slice of ngrok's introspection metrics we surface.
type Metrics struct {
	Connections  int `json:"connections"`
	HTTPRequests int `json:"http_requests"`
}

// State is a point-in-time view of the tunnel.
type State struct {
	Active  bool    `json:"active"`
	URL     string  `json:"url,omitempty"`
	Port    int     `json:"port"`
	Metrics Metrics `json:"metrics"`
}

// Manager owns the tunnel process. All start/stop/restart sequences are
// mutually exclusive; at most one is in flight at a time.
type Manager struct {
	mu        sync.Mutex
	port      int
	authtoken string
	domain    string
	apiURL    string
	client    *http.Client

	cmd    *exec.Cmd
	url    string
	waitCh chan struct{}
	closed bool

	discovery    retry.Policy
	cleanupStale func()
}

func NewManager(port int, authtoken, domain string) *Manager {
	return &Manager{
		port:         port,
		authtoken:    authtoken,
		domain:       domain,
		apiURL:       defaultAPIURL,
		client:       &http.Client{Timeout: 2 * time.Second},
		discovery:    urlDiscovery,
		cleanupStale: cleanupStaleProcesses,
	}
}

// Installed reports whether the ngrok binary is present and responsive.
func (m *Manager) Installed() bool {
	ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
	defer cancel()
	return exec.CommandContext(ctx, "ngrok", "version").Run() == nil
}

// Configured reports whether an auth token is available.
func (m *Manager) Configured() bool {
	return strings.TrimSpace(m.authtoken) != ""
}

// Start launches ngrok and returns the discovered public URL. When the
// binary or token is missing it returns ErrUnavailable without side
// effects; the caller degrades to local-only mode. A spawned process that
// never yields a URL is torn down before returning.
func (m *Manager) Start() (string, error) {
	if !m.Installed() {
		return "", fmt.Errorf("%w: ngrok is not installed", ErrUnavailable)
	}
	if !m.Configured() {
		return "", fmt.Errorf("%w: NGROK_AUTHTOKEN is not set", ErrUnavailable)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", fmt.Errorf("%w: manager closed", ErrUnavailable)
	}
	if m.cmd != nil {
		return m.url, nil
	}

	// Stale ngrok processes hold the 4040 introspection port and confuse
	// URL discovery.
	m.cleanupStale()

	args := []string{"http", strconv.Itoa(m.port), "--authtoken", m.authtoken}
	if m.domain != "" {
		args = append(args, "--domain", m.domain)
	}
	args = append(args, "--log", "stdout", "--log-format", "json", "--log-level", "info")

	cmd := exec.Command("ngrok", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: start ngrok: %v", ErrUnavailable, err)
	}

	waitCh := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waitCh)
	}()
	m.cmd = cmd
	m.waitCh = waitCh

	url := m.discoverURL()
	if url == "" {
		log.Printf("[tunnel] no public URL discovered within retry budget, tearing down")
		m.stopLocked()
		return "", fmt.Errorf("%w: URL discovery timed out", ErrUnavailable)
	}

	m.url = url
	log.Printf("[tunnel] established: %s", url)
	return url, nil
}

// discoverURL polls the local introspection API until a public URL shows
// up, preferring https over http when both are offered.
func (m *Manager) discoverURL() string {
	var httpsURL, httpURL string
	m.discovery.Do(func(int) bool {
		resp, err := m.client.Get(m.apiURL + "/tunnels")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}

		var payload struct {
			Tunnels []struct {
				Proto     string `json:"proto"`
				PublicURL string `json:"public_url"`
			} `json:"tunnels"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return false
		}
		for _, t := range payload.Tunnels {
			if t.Proto != "http" && t.Proto != "https" {
				continue
			}
			if strings.HasPrefix(t.PublicURL, "https://") {
				httpsURL = t.PublicURL
			} else if httpURL == "" {
				httpURL = t.PublicURL
			}
		}
		return httpsURL != ""
	})
	if httpsURL != "" {
		return httpsURL
	}
	return httpURL
}

// Status reports whether the process is alive and, when it is, the
// current metrics. A metrics fetch failure leaves Metrics empty rather
// than erroring.
func (m *Manager) Status() State {
	m.mu.Lock()
	alive := m.aliveLocked()
	url := m.url
	m.mu.Unlock()

	st := State{Port: m.port}
	if !alive {
		return st
	}
	st.Active = true
	st.URL = url
	st.Metrics = m.fetchMetrics()
	return st
}

func (m *Manager) fetchMetrics() Metrics {
	resp, err := m.client.Get(m.apiURL + "/metrics")
	if err != nil {
		return Metrics{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Metrics{}
	}

	var payload struct {
		Connections int `json:"connections"`
		HTTP        struct {
			Count int `json:"count"`
		} `json:"http"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Metrics{}
	}
	return Metrics{Connections: payload.Connections, HTTPRequests: payload.HTTP.Count}
}

// URL returns the current public URL, empty when the tunnel is down.
func (m *Manager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// WebhookURL returns the full public webhook endpoint.
func (m *Manager) WebhookURL() string {
	if url := m.URL(); url != "" {
		return url + "/gh-webhook"
	}
	return ""
}

// Monitor periodically reports tunnel status via onUpdate and restarts
// the tunnel once per detected outage. It returns when the tunnel is gone
// and could not be restarted. Run it on its own goroutine; it never
// touches the request path.
func (m *Manager) Monitor(interval time.Duration, onUpdate func(State)) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	for {
		st := m.Status()
		if onUpdate != nil {
			onUpdate(st)
		}
		if !st.Active {
			log.Printf("[tunnel] disconnected, attempting to reconnect")
			m.Stop()
			if _, err := m.Start(); err != nil {
				log.Printf("[tunnel] reconnect failed: %v", err)
				return
			}
			if onUpdate != nil {
				onUpdate(m.Status())
			}
		}
		time.Sleep(interval)
	}
}

// Stop terminates the tunnel process: graceful first, forceful when it
// does not exit within the grace window. State is always cleared, even
// on error.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Close stops the tunnel and retires the manager: any later Start (its
// own or a monitor's restart attempt) fails with ErrUnavailable, so a
// retired monitor winds down instead of fighting a replacement manager.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if m.cmd == nil {
		return
	}
	proc := m.cmd.Process
	waitCh := m.waitCh
	defer func() {
		m.cmd = nil
		m.waitCh = nil
		m.url = ""
	}()

	if proc == nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)
	select {
	case <-waitCh:
	case <-time.After(stopGraceWait):
		_ = proc.Kill()
		<-waitCh
	}
	log.Printf("[tunnel] stopped")
}

func (m *Manager) aliveLocked() bool {
	if m.cmd == nil || m.cmd.Process == nil {
		return false
	}
	select {
	case <-m.waitCh:
		return false
	default:
		return true
	}
}

// cleanupStaleProcesses terminates stray ngrok processes left over from
// earlier runs.
func cleanupStaleProcesses() {
	procs, err := process.Processes()
	if err != nil {
		return
	}
	cleaned := 0
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name != "ngrok" {
			continue
		}
		if err := p.Terminate(); err == nil {
			cleaned++
		}
	}
	if cleaned > 0 {
		log.Printf("[tunnel] cleaned up %d stale ngrok process(es)", cleaned)
		time.Sleep(time.Second)
	}
}
