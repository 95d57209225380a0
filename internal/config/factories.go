package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/agentic-research/booklocker/internal/hostui"
	"github.com/agentic-research/booklocker/internal/netblock"
)

// NewController creates the UI controller selected by ui.type.
func NewController(cfg *Config, logger *zap.Logger) (hostui.Controller, error) {
	switch cfg.UI.Type {
	case "none":
		return hostui.None{}, nil
	case "systemd":
		opts, err := DecodeSystemd(cfg.UI.Systemd)
		if err != nil {
			return nil, err
		}
		return hostui.NewSystemd(opts, hostui.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown ui type: %q", cfg.UI.Type)
	}
}

// NewBlocker creates the network blocker selected by network.type.
func NewBlocker(cfg *Config, logger *zap.Logger) (netblock.Blocker, error) {
	switch cfg.Network.Type {
	case "none":
		return netblock.None{}, nil
	case "route":
		opts, err := DecodeRoute(cfg.Network.Route, cfg.StateDir)
		if err != nil {
			return nil, err
		}
		return netblock.NewRoute(opts, netblock.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown network type: %q", cfg.Network.Type)
	}
}

// SystemdOptions is the ui.systemd section.
type SystemdOptions struct {
	Service      string        `mapstructure:"service"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Attempts     int           `mapstructure:"attempts"`
}

// RouteOptions is the network.route section.
type RouteOptions struct {
	Hosts          []string      `mapstructure:"hosts"`
	CacheFile      string        `mapstructure:"cache_file"`
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
}

// DecodeSystemd decodes and defaults the ui.systemd options.
func DecodeSystemd(options map[string]any) (hostui.SystemdConfig, error) {
	var opts SystemdOptions
	if err := decode(options, &opts); err != nil {
		return hostui.SystemdConfig{}, fmt.Errorf("failed to decode ui.systemd config: %w", err)
	}
	applySystemdDefaults(&opts)
	return hostui.SystemdConfig{
		Service:      opts.Service,
		PollInterval: opts.PollInterval,
		Attempts:     opts.Attempts,
	}, nil
}

// DecodeRoute decodes and defaults the network.route options. The route
// cache defaults to routes.json in stateDir.
func DecodeRoute(options map[string]any, stateDir string) (netblock.RouteConfig, error) {
	var opts RouteOptions
	if err := decode(options, &opts); err != nil {
		return netblock.RouteConfig{}, fmt.Errorf("failed to decode network.route config: %w", err)
	}
	applyRouteDefaults(&opts, stateDir)
	return netblock.RouteConfig{
		Hosts:          opts.Hosts,
		CacheFile:      opts.CacheFile,
		ResolveTimeout: opts.ResolveTimeout,
	}, nil
}

func decode(input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
