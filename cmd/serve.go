package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"webhookd/internal/config"
	"webhookd/internal/database"
	"webhookd/internal/dispatch"
	"webhookd/internal/health"
	"webhookd/internal/notify"
	"webhookd/internal/tunnel"
	"webhookd/internal/webhooksync"
)

const tunnelMonitorInterval = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook dispatch server",
	Long: `Resolves the listening port (reclaiming or reassigning on conflict),
starts the HTTP dispatcher, and, when ngrok is installed and authenticated,
exposes it publicly and keeps the repository webhook pointed at the
current tunnel URL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The job-state store is continuity metadata, not a serving
	// dependency; a broken database degrades, never blocks.
	if err := database.InitDBAt(cfg.DBPath); err != nil {
		log.Printf("[serve] job-state store unavailable: %v", err)
	} else {
		defer database.CloseDB()
	}

	opts := []dispatch.Option{
		dispatch.WithNotifier(notify.GHNotifier{RepoPath: cfg.RepoPath}),
	}

	var mgr *tunnel.Manager
	tunnelWanted := false
	if cfg.TunnelEnabled || cfg.NgrokToken != "" {
		probe := tunnel.NewManager(0, cfg.NgrokToken, cfg.NgrokDomain)
		switch {
		case !probe.Installed():
			log.Printf("[serve] ngrok not installed; serving local-only")
		case !probe.Configured():
			log.Printf("[serve] ngrok authtoken not configured; serving local-only")
		default:
			tunnelWanted = true
			opts = append(opts, dispatch.WithTunnelFactory(func(port int) dispatch.TunnelInfo {
				// A server rebuild means a fresh tunnel; retire the old
				// one so its monitor cannot fight the replacement.
				if mgr != nil {
					mgr.Close()
				}
				mgr = tunnel.NewManager(port, cfg.NgrokToken, cfg.NgrokDomain)
				return mgr
			}))
		}
	}

	opts = append(opts, dispatch.WithHealthChecker(health.Checker{
		WorkflowDir:   cfg.WorkflowDir,
		TunnelEnabled: tunnelWanted,
	}))

	defer func() {
		if mgr != nil {
			mgr.Close()
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	onStart := func(srv *dispatch.Server) {
		log.Printf("[serve] webhook endpoint: http://%s:%d/gh-webhook", cfg.BindHost, srv.Port())
		log.Printf("[serve] status endpoint:  http://%s:%d/status", cfg.BindHost, srv.Port())
		if mgr != nil {
			go runTunnel(cfg, srv, mgr)
		}
	}

	if err := dispatch.RunWithRetry(ctx, cfg, onStart, opts...); err != nil {
		return err
	}

	log.Printf("[serve] shutting down")
	return nil
}

// runTunnel establishes the tunnel and keeps it healthy. Tunnel failures
// leave the server in local-only mode.
func runTunnel(cfg config.Config, srv *dispatch.Server, mgr *tunnel.Manager) {
	url, err := mgr.Start()
	if err != nil {
		log.Printf("[serve] tunnel unavailable, continuing local-only: %v", err)
		return
	}
	srv.State().SetTunnelURL(url)
	log.Printf("[serve] public webhook URL: %s", mgr.WebhookURL())
	syncHook(cfg, mgr.WebhookURL())

	mgr.Monitor(tunnelMonitorInterval, newTunnelSyncCallback(srv, mgr.WebhookURL(), func(u string) {
		syncHook(cfg, u)
	}))
	srv.State().SetTunnelURL("")
	log.Printf("[serve] tunnel lost and not recoverable; serving local-only")
}

// newTunnelSyncCallback publishes the monitored tunnel state and re-syncs
// the repository webhook only when the public URL actually changes;
// steady-state monitor ticks must not shell out to gh.
func newTunnelSyncCallback(srv *dispatch.Server, syncedURL string, sync func(webhookURL string)) func(tunnel.State) {
	return func(st tunnel.State) {
		srv.State().SetTunnelURL(st.URL)
		if !st.Active || st.URL == "" {
			return
		}
		webhookURL := st.URL + "/gh-webhook"
		if webhookURL == syncedURL {
			return
		}
		syncedURL = webhookURL
		sync(webhookURL)
	}
}

// syncHook points the repository webhook at the current public URL.
func syncHook(cfg config.Config, webhookURL string) {
	if cfg.RepoPath == "" {
		return
	}
	syncer := webhooksync.Syncer{RepoPath: cfg.RepoPath, Secret: cfg.WebhookSecret}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := syncer.Sync(ctx, webhookURL); err != nil {
		log.Printf("[serve] webhook sync failed: %v", err)
	}
}
