package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("expected default port %d, got %d", DefaultPort, cfg.Port)
	}
	if cfg.BotMarker != DefaultBotMarker {
		t.Errorf("expected default bot marker %q, got %q", DefaultBotMarker, cfg.BotMarker)
	}
	if cfg.WorkflowDir != filepath.Join(cfg.RepoRoot, "adws") {
		t.Errorf("unexpected workflow dir %q", cfg.WorkflowDir)
	}
}

func TestLoadPortAlias(t *testing.T) {
	t.Setenv("PORT", "9100")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("expected PORT alias to apply, got %d", cfg.Port)
	}
}

func TestLoadPrefixedWinsOverAlias(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("WEBHOOKD_PORT", "9200")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9200 {
		t.Errorf("expected WEBHOOKD_PORT to win, got %d", cfg.Port)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("WEBHOOKD_PORT", "70000")
	if _, err := Load(); err == nil {
		t.Fatal("expected out-of-range port to be rejected")
	}
}

func TestAuthtokenImpliesTunnel(t *testing.T) {
	t.Setenv("NGROK_AUTHTOKEN", "tok_abc")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TunnelEnabled {
		t.Error("expected tunnel to be enabled when NGROK_AUTHTOKEN is present")
	}
}
