// Package hostui pauses and resumes the reading application while documents
// are moved, and installs the systemd units that run booklocker on the
// window edges.
package hostui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-research/booklocker/internal/command"
	"github.com/agentic-research/booklocker/internal/logging"
	"github.com/agentic-research/booklocker/internal/retry"
)

// ErrTimeout is returned when a unit does not reach the wanted state in
// time.
var ErrTimeout = errors.New("timed out waiting for unit")

// Controller stops the UI before a reconciliation and starts it after.
type Controller interface {
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
}

// None leaves the UI alone.
type None struct{}

func (None) Stop(context.Context) error  { return nil }
func (None) Start(context.Context) error { return nil }

// SystemdConfig configures the Systemd controller.
type SystemdConfig struct {
	Service      string
	PollInterval time.Duration
	Attempts     int
}

// Option configures a Systemd controller.
type Option func(*Systemd)

// WithRunner replaces the command runner.
func WithRunner(r command.Runner) Option { return func(s *Systemd) { s.run = r } }

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(l *zap.Logger) Option {
	return func(s *Systemd) {
		if l != nil {
			s.logger = l
		}
	}
}

// Systemd controls the UI through systemctl.
type Systemd struct {
	cfg    SystemdConfig
	run    command.Runner
	logger *zap.Logger
}

// NewSystemd returns a controller for cfg.Service.
func NewSystemd(cfg SystemdConfig, opts ...Option) *Systemd {
	s := &Systemd{cfg: cfg, run: command.Exec, logger: logging.L()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stop stops the service and waits until systemd reports it inactive.
func (s *Systemd) Stop(ctx context.Context) error {
	s.logger.Info("stopping ui", zap.String("service", s.cfg.Service))
	if _, err := s.run(ctx, "systemctl", "stop", s.cfg.Service); err != nil {
		return fmt.Errorf("stop %s: %w", s.cfg.Service, err)
	}
	return s.waitFor(ctx, s.cfg.Service, false)
}

// Start clears a failed state left by earlier restarts, starts the service
// and waits until it is active.
func (s *Systemd) Start(ctx context.Context) error {
	s.logger.Info("starting ui", zap.String("service", s.cfg.Service))
	if _, err := s.run(ctx, "systemctl", "reset-failed", s.cfg.Service); err != nil {
		s.logger.Debug("reset-failed", zap.Error(err))
	}
	if _, err := s.run(ctx, "systemctl", "start", s.cfg.Service); err != nil {
		return fmt.Errorf("start %s: %w", s.cfg.Service, err)
	}
	return s.waitFor(ctx, s.cfg.Service, true)
}

// isActive reports `systemctl is-active`, which exits non-zero for any state
// other than active.
func (s *Systemd) isActive(ctx context.Context, unit string) (bool, error) {
	_, err := s.run(ctx, "systemctl", "is-active", unit)
	if err == nil {
		return true, nil
	}
	if command.ExitCode(err) > 0 {
		return false, nil
	}
	return false, err
}

func (s *Systemd) waitFor(ctx context.Context, unit string, active bool) error {
	err := retry.Do(ctx, retry.Fixed(s.cfg.Attempts, s.cfg.PollInterval), func() error {
		got, err := s.isActive(ctx, unit)
		if err != nil {
			return err
		}
		if got != active {
			return retry.Retryable(ErrTimeout)
		}
		return nil
	})
	if errors.Is(err, ErrTimeout) {
		want := "deactivation"
		if active {
			want = "activation"
		}
		return fmt.Errorf("%s: %w (%s)", unit, ErrTimeout, want)
	}
	return err
}
