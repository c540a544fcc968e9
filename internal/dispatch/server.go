// Package dispatch is the HTTP front door: it validates, classifies, and
// launches for each inbound webhook, and serves status introspection. Per
// request: Received → Validated → Classified → (Launched | Ignored) →
// Responded, with the transport status always 200 toward the provider.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"webhookd/internal/classify"
	"webhookd/internal/config"
	"webhookd/internal/health"
	"webhookd/internal/launcher"
	"webhookd/internal/metrics"
	"webhookd/internal/state"
	"webhookd/internal/tunnel"
)

const (
	serviceName    = "adw-webhook-trigger"
	serviceVersion = "2.0.0"

	requestIDHeader = "X-Request-Id"
	eventHeader     = "X-GitHub-Event"
	sigHeader       = "X-Hub-Signature-256"

	maxBodyBytes = 1 << 20

	defaultHealthTimeout = 30 * time.Second
)

// JobLauncher is the background-launch capability the server consumes.
type JobLauncher interface {
	Launch(workflow, jobID string, issueNumber int) (launcher.Handle, error)
}

// Notifier posts the detection comment before a launch; best effort.
type Notifier interface {
	Comment(ctx context.Context, issueNumber int, body string) error
}

// HealthChecker backs the /health endpoint.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// TunnelInfo is the read-only slice of the tunnel manager the handlers
// need for /status and /health.
type TunnelInfo interface {
	Status() tunnel.State
	WebhookURL() string
}

// Server carries everything a request handler touches. Constructed once
// at startup and shared by reference; tests build fresh instances.
type Server struct {
	cfg        config.Config
	port       int
	state      *state.Dispatch
	metrics    *metrics.Store
	classifier classify.Classifier
	launcher   JobLauncher
	notifier   Notifier
	checker    HealthChecker
	tunnel     TunnelInfo
	limiter    *rateLimiter

	// healthTimeout bounds a single /health probe run.
	healthTimeout time.Duration

	// tunnelFactory defers tunnel construction until the port is known.
	tunnelFactory func(port int) TunnelInfo

	// newJobID mints an 8-char ADW id; replaceable in tests.
	newJobID func() string
	// persistJobState records resume continuity for provided ids.
	persistJobState func(adwID string, issueNumber int, workflow string) error
}

// Option tailors a Server at construction.
type Option func(*Server)

func WithLauncher(l JobLauncher) Option      { return func(s *Server) { s.launcher = l } }
func WithNotifier(n Notifier) Option         { return func(s *Server) { s.notifier = n } }
func WithHealthChecker(c HealthChecker) Option { return func(s *Server) { s.checker = c } }
func WithTunnel(t TunnelInfo) Option         { return func(s *Server) { s.tunnel = t } }

// WithTunnelFactory builds the tunnel against the port the server actually
// binds, which may differ from the configured one.
func WithTunnelFactory(fn func(port int) TunnelInfo) Option {
	return func(s *Server) { s.tunnelFactory = fn }
}
func WithJobIDSource(fn func() string) Option { return func(s *Server) { s.newJobID = fn } }

// WithHealthTimeout caps how long /health waits on the checker.
func WithHealthTimeout(d time.Duration) Option {
	return func(s *Server) { s.healthTimeout = d }
}
func WithJobStatePersist(fn func(string, int, string) error) Option {
	return func(s *Server) { s.persistJobState = fn }
}

// NewServer builds the service context for one resolved port.
func NewServer(cfg config.Config, port int, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		port:       port,
		state:      state.New(port),
		metrics:    metrics.NewStore(),
		classifier: classify.Classifier{BotMarker: cfg.BotMarker},
		launcher: launcher.Launcher{
			WorkflowDir: cfg.WorkflowDir,
			RepoRoot:    cfg.RepoRoot,
		},
		limiter:       newRateLimiter(120),
		healthTimeout: defaultHealthTimeout,
		newJobID:      NewJobID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tunnel == nil && s.tunnelFactory != nil {
		s.tunnel = s.tunnelFactory(port)
	}
	return s
}

// NewJobID mints an 8-char job id, matching the original ADW id format.
func NewJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// State exposes the dispatch record for the serve loop and tests.
func (s *Server) State() *state.Dispatch { return s.state }

// Port returns the resolved listening port.
func (s *Server) Port() int { return s.port }

// Handler returns the full router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gh-webhook", s.withRequestID(s.handleWebhook))
	mux.HandleFunc("/status", s.withIntrospection(s.handleStatus))
	mux.HandleFunc("/health", s.withIntrospection(s.handleHealth))
	mux.HandleFunc("/metrics", s.withIntrospection(s.handleMetrics))
	mux.HandleFunc("/stream", s.withIntrospection(s.handleStream))
	return mux
}

// Start launches the HTTP server. It returns a stop function for graceful
// shutdown and a channel delivering the listener's terminal error: nil after
// Shutdown, non-nil when the listener dies on its own.
func (s *Server) Start() (func(), <-chan error, error) {
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.BindHost, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		log.Printf("[dispatch] listening on %s", server.Addr)
		err := server.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		done <- err
	}()

	// Catch immediate bind failures before reporting success.
	select {
	case err := <-done:
		if err == nil {
			err = fmt.Errorf("listener closed before serving")
		}
		return nil, nil, err
	case <-time.After(100 * time.Millisecond):
	}

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("[dispatch] shutdown failed: %v", err)
		}
	}
	return stop, done, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID tags the request and counts it in the HTTP metrics. The
// webhook path gets no rate limiting: the provider must always be
// answered with success.
func (s *Server) withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		rid := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if rid == "" {
			rid = "req_" + uuid.NewString()
		}
		rec.Header().Set(requestIDHeader, rid)

		next(rec, r)
		s.metrics.IncRequest(r.URL.Path, r.Method, rec.status)
	}
}

// withIntrospection adds rate limiting on top of request tagging for the
// human/operator endpoints.
func (s *Server) withIntrospection(next http.HandlerFunc) http.HandlerFunc {
	return s.withRequestID(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r.RemoteAddr)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[dispatch] encode response: %v", err)
	}
}
