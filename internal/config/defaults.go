package config

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultStoreDir = "/home/root/.local/share/remarkable/xochitl"
	DefaultStateDir = "/home/root/.local/share/booklocker"

	DefaultSystemdService      = "xochitl"
	DefaultSystemdPollInterval = 50 * time.Millisecond
	DefaultSystemdAttempts     = 20

	DefaultResolveTimeout = 30 * time.Second
	DefaultJournalRetain  = 90 * 24 * time.Hour
)

// DefaultSyncHosts are the vendor cloud endpoints blocked while anything is
// hidden.
var DefaultSyncHosts = []string{
	"hwr-production-dot-remarkable-production.appspot.com",
	"service-manager-production-dot-remarkable-production.appspot.com",
	"local.appspot.com",
	"my.remarkable.com",
	"ping.remarkable.com",
	"internal.cloud.remarkable.com",
	"ams15s41-in-f20.1e100.net",
	"ams15s48-in-f20.1e100.net",
	"206.137.117.34.bc.googleusercontent.com",
}

// registerKeys tells viper about every scalar key so that environment
// variables are seen by Unmarshal even without a config file.
func registerKeys(v interface{ SetDefault(string, any) }) {
	v.SetDefault("store_dir", DefaultStoreDir)
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("hidden_dir", "")
	v.SetDefault("targets", []string{})
	v.SetDefault("window.start", "")
	v.SetDefault("window.end", "")
	v.SetDefault("window.timezone", "Local")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("ui.type", "systemd")
	v.SetDefault("network.type", "none")
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.retention", DefaultJournalRetain)
	v.SetDefault("metrics.textfile", "")
}

// ApplyDefaults fills zero values. Keys that viper already defaults are
// repeated here so a Config built by hand behaves the same as a loaded one.
func ApplyDefaults(cfg *Config) {
	if cfg.StoreDir == "" {
		cfg.StoreDir = DefaultStoreDir
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.HiddenDir == "" {
		cfg.HiddenDir = filepath.Join(cfg.StateDir, "hidden")
	}
	cfg.Targets = trimTargets(cfg.Targets)

	if cfg.Window.Timezone == "" {
		cfg.Window.Timezone = "Local"
	}
	cfg.Window.Start = strings.TrimSpace(cfg.Window.Start)
	cfg.Window.End = strings.TrimSpace(cfg.Window.End)

	applyLoggingDefaults(&cfg.Logging)

	if cfg.UI.Type == "" {
		cfg.UI.Type = "systemd"
	}
	if cfg.Network.Type == "" {
		cfg.Network.Type = "none"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	cfg.Level = strings.ToLower(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "console"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func trimTargets(targets []string) []string {
	out := targets[:0:0]
	for _, t := range targets {
		out = append(out, strings.TrimSpace(t))
	}
	return out
}

func applySystemdDefaults(opts *SystemdOptions) {
	if opts.Service == "" {
		opts.Service = DefaultSystemdService
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultSystemdPollInterval
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultSystemdAttempts
	}
}

func applyRouteDefaults(opts *RouteOptions, stateDir string) {
	if len(opts.Hosts) == 0 {
		opts.Hosts = append([]string(nil), DefaultSyncHosts...)
	}
	if opts.CacheFile == "" {
		opts.CacheFile = filepath.Join(stateDir, "routes.json")
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = DefaultResolveTimeout
	}
}
