package cmd

import (
	"testing"

	"webhookd/internal/config"
	"webhookd/internal/dispatch"
	"webhookd/internal/tunnel"
)

func TestTunnelSyncCallbackSyncsOnlyOnURLChange(t *testing.T) {
	srv := dispatch.NewServer(config.Config{BotMarker: "[ADW-BOT]"}, 8001)

	var synced []string
	cb := newTunnelSyncCallback(srv, "https://a.ngrok.app/gh-webhook", func(u string) {
		synced = append(synced, u)
	})

	// Steady-state ticks with the URL the hook already points at.
	for i := 0; i < 5; i++ {
		cb(tunnel.State{Active: true, URL: "https://a.ngrok.app"})
	}
	if len(synced) != 0 {
		t.Fatalf("unchanged URL must not re-sync, got %v", synced)
	}

	// Outage: state cleared, no sync.
	cb(tunnel.State{Active: false})
	if got := srv.State().Get().TunnelURL; got != "" {
		t.Errorf("tunnel URL not cleared on outage, got %q", got)
	}
	if len(synced) != 0 {
		t.Fatalf("inactive tick must not sync, got %v", synced)
	}

	// Restart came back on a fresh URL: exactly one sync.
	cb(tunnel.State{Active: true, URL: "https://b.ngrok.app"})
	if len(synced) != 1 || synced[0] != "https://b.ngrok.app/gh-webhook" {
		t.Fatalf("expected one sync to the new URL, got %v", synced)
	}
	if got := srv.State().Get().TunnelURL; got != "https://b.ngrok.app" {
		t.Errorf("tunnel URL not published, got %q", got)
	}

	// Later ticks on the same URL stay quiet.
	cb(tunnel.State{Active: true, URL: "https://b.ngrok.app"})
	if len(synced) != 1 {
		t.Fatalf("resynced URL must not sync again, got %v", synced)
	}
}
