package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"webhookd/internal/config"
	"webhookd/internal/portalloc"
	"webhookd/internal/retry"
)

// serveRestart bounds how many times the serve loop rebuilds after a
// failed bind or a dead listener before giving up.
var serveRestart = retry.Policy{MaxAttempts: 3, Delay: 5 * time.Second}

// startServer indirection lets tests stand in for the real listener.
var startServer = (*Server).Start

// RunWithRetry owns the serve loop for the process lifetime: resolve a
// port, build a Server, start it, then watch the listener. A bind failure
// or a listener that dies mid-flight consumes one attempt from the
// restart budget, re-resolving the port each time since the conflicting
// owner may have appeared in between. onStart runs after every
// successful start. Returns nil once ctx is canceled, an error when the
// budget is exhausted.
func RunWithRetry(ctx context.Context, cfg config.Config, onStart func(*Server), opts ...Option) error {
	var lastErr error

	for attempt := 1; attempt <= serveRestart.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(serveRestart.Delay):
			}
		}

		port, err := portalloc.Resolve(cfg.Port)
		if err != nil {
			lastErr = err
			log.Printf("[dispatch] port resolution failed (attempt %d/%d): %v", attempt, serveRestart.MaxAttempts, err)
			continue
		}
		if port != cfg.Port {
			log.Printf("[dispatch] port %d unavailable, using %d", cfg.Port, port)
		}

		srv := NewServer(cfg, port, opts...)
		stop, done, err := startServer(srv)
		if err != nil {
			lastErr = err
			log.Printf("[dispatch] server start failed (attempt %d/%d): %v", attempt, serveRestart.MaxAttempts, err)
			continue
		}
		if onStart != nil {
			onStart(srv)
		}

		select {
		case <-ctx.Done():
			stop()
			return nil
		case err := <-done:
			if err == nil {
				err = fmt.Errorf("listener closed unexpectedly")
			}
			lastErr = err
			log.Printf("[dispatch] server died (attempt %d/%d): %v", attempt, serveRestart.MaxAttempts, err)
		}
	}
	return fmt.Errorf("server failed after %d attempts: %w", serveRestart.MaxAttempts, lastErr)
}
