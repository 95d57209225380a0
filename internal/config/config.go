// Package config loads booklocker settings from flags, BOOKLOCKER_*
// environment variables, a config file and defaults, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentic-research/booklocker/internal/engine"
	"github.com/agentic-research/booklocker/internal/journal"
	"github.com/agentic-research/booklocker/internal/schedule"
)

// EnvPrefix prefixes every environment override, e.g.
// BOOKLOCKER_WINDOW_START=22:30.
const EnvPrefix = "BOOKLOCKER"

// Config is the complete booklocker configuration.
//
// The ui and network sections select a driver by type and carry a
// free-form map per driver, decoded on demand by SystemdOptions and
// RouteOptions.
type Config struct {
	StoreDir  string   `mapstructure:"store_dir" validate:"required"`
	StateDir  string   `mapstructure:"state_dir" validate:"required"`
	HiddenDir string   `mapstructure:"hidden_dir" validate:"required"`
	Targets   []string `mapstructure:"targets" validate:"required,min=1,dive,required"`

	Window  WindowConfig  `mapstructure:"window"`
	Logging LoggingConfig `mapstructure:"logging"`
	UI      UIConfig      `mapstructure:"ui"`
	Network NetworkConfig `mapstructure:"network"`
	Journal JournalConfig `mapstructure:"journal"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// WindowConfig is the daily lock window in wall-clock HH:MM.
type WindowConfig struct {
	Start    string `mapstructure:"start" validate:"required,clock"`
	End      string `mapstructure:"end" validate:"required,clock"`
	Timezone string `mapstructure:"timezone" validate:"required"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
	Output string `mapstructure:"output" validate:"required"`
}

// UIConfig selects how the reading application is paused during a run.
type UIConfig struct {
	Type    string         `mapstructure:"type" validate:"required,oneof=systemd none"`
	Systemd map[string]any `mapstructure:"systemd"`
}

// NetworkConfig selects how cloud sync is cut off while anything is hidden.
type NetworkConfig struct {
	Type  string         `mapstructure:"type" validate:"required,oneof=route none"`
	Route map[string]any `mapstructure:"route"`
}

// JournalConfig controls the SQLite event journal in the state dir.
type JournalConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Retention time.Duration `mapstructure:"retention" validate:"gte=0"`
}

// MetricsConfig controls the node_exporter textfile. An empty path
// disables it.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Load reads configuration from configPath, or from the default search path
// when configPath is empty. A missing file is not an error; defaults and
// environment variables still apply.
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.New(), configPath)
}

// LoadWith is Load on a caller-prepared viper instance, typically one with
// command-line flags already bound.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Env-only settings are invisible to Unmarshal unless viper knows the key.
	registerKeys(v)

	if configPath != "" {
		if !isHCL(configPath) {
			v.SetConfigFile(configPath)
		}
		return
	}
	for _, dir := range SearchDirs() {
		v.AddConfigPath(dir)
	}
	v.SetConfigName("config")
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if configPath == "" {
		configPath = findHCL()
	}
	if isHCL(configPath) {
		settings, err := readHCL(configPath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return v.MergeConfigMap(settings)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func findHCL() string {
	for _, dir := range SearchDirs() {
		path := filepath.Join(dir, "config.hcl")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func isHCL(path string) bool {
	return filepath.Ext(path) == ".hcl"
}

// SearchDirs lists the directories searched for config.{yaml,toml,json,hcl}
// when no path is given, most specific first.
func SearchDirs() []string {
	return []string{getConfigDir(), "/etc/booklocker"}
}

// getConfigDir uses XDG_CONFIG_HOME if set, otherwise ~/.config, or the
// current directory when the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "booklocker")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "booklocker")
}

// DefaultConfigPath is where `booklocker install` expects the config.
func DefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// Schedule converts the window section into a schedule.Window.
func (c *Config) Schedule() (schedule.Window, error) {
	return schedule.ParseWindow(c.Window.Start, c.Window.End, c.Window.Timezone)
}

// Engine builds the reconciliation settings.
func (c *Config) Engine() (engine.Config, error) {
	w, err := c.Schedule()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		StoreDir:  c.StoreDir,
		HiddenDir: c.HiddenDir,
		Targets:   c.Targets,
		Window:    w,
	}, nil
}

// JournalPath is the SQLite journal location inside the state dir.
func (c *Config) JournalPath() string {
	return filepath.Join(c.StateDir, journal.FileName)
}
