package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Defaults recognized when neither flags nor environment provide a value.
const (
	DefaultPort      = 8001
	DefaultBotMarker = "[ADW-BOT]"
	DefaultBindHost  = "127.0.0.1"
)

// Config is read once at startup and passed into every component; nothing
// reads the environment after this point.
type Config struct {
	Port          int    `mapstructure:"port"`
	BindHost      string `mapstructure:"bind_host"`
	TunnelEnabled bool   `mapstructure:"tunnel"`
	NgrokToken    string `mapstructure:"ngrok_authtoken"`
	NgrokDomain   string `mapstructure:"ngrok_domain"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	BotMarker     string `mapstructure:"bot_marker"`
	WorkflowDir   string `mapstructure:"workflow_dir"`
	RepoRoot      string `mapstructure:"repo_root"`
	DBPath        string `mapstructure:"db_path"`
	RepoPath      string `mapstructure:"repo_path"` // owner/repo for webhook sync
}

// Load builds the runtime configuration from the environment via viper.
// WEBHOOKD_* variables win; the original service's bare names (PORT,
// NGROK_AUTHTOKEN, NGROK_DOMAIN, GITHUB_WEBHOOK_SECRET) are honored as
// aliases so existing deployments keep working.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBHOOKD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Unmarshal only sees keys viper knows about, so bind every field.
	for _, key := range []string{
		"port", "bind_host", "tunnel", "ngrok_authtoken", "ngrok_domain",
		"webhook_secret", "bot_marker", "workflow_dir", "repo_root",
		"db_path", "repo_path",
	} {
		_ = v.BindEnv(key)
	}

	// Aliases apply only when the prefixed variable is absent. This runs
	// before SetDefault: IsSet treats a registered default as set.
	for key, alias := range map[string]string{
		"port":            "PORT",
		"ngrok_authtoken": "NGROK_AUTHTOKEN",
		"ngrok_domain":    "NGROK_DOMAIN",
		"webhook_secret":  "GITHUB_WEBHOOK_SECRET",
	} {
		if raw := strings.TrimSpace(os.Getenv(alias)); raw != "" && !v.IsSet(key) {
			v.Set(key, raw)
		}
	}

	v.SetDefault("port", DefaultPort)
	v.SetDefault("bind_host", DefaultBindHost)
	v.SetDefault("tunnel", false)
	v.SetDefault("bot_marker", DefaultBotMarker)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse configuration: %w", err)
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d: must be in 1-65535", cfg.Port)
	}
	if cfg.RepoRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("resolve repo root: %w", err)
		}
		cfg.RepoRoot = wd
	}
	if cfg.WorkflowDir == "" {
		cfg.WorkflowDir = filepath.Join(cfg.RepoRoot, "adws")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.RepoRoot, "agents", "webhookd.db")
	}
	if cfg.BotMarker == "" {
		cfg.BotMarker = DefaultBotMarker
	}

	// NGROK_AUTHTOKEN in the environment implies the tunnel is wanted,
	// matching the original trigger's behavior.
	if cfg.NgrokToken != "" {
		cfg.TunnelEnabled = true
	}

	return cfg, nil
}
