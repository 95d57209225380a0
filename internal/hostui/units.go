package hostui

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-research/booklocker/internal/schedule"
)

// UnitName is the base name of the installed service and timer.
const UnitName = "booklocker"

// DefaultUnitDir is where Install writes units.
const DefaultUnitDir = "/etc/systemd/system"

// The timer fires one minute and ten seconds after each window edge, so
// that with AccuracySec=60 it never fires before the edge.
const (
	edgeDelayMinutes = 1
	edgeDelaySeconds = 10
)

// RenderService returns the oneshot service running exe with args.
func RenderService(exe string, args []string, workdir string) string {
	cmdline := make([]string, 0, len(args)+1)
	for _, a := range append([]string{exe}, args...) {
		cmdline = append(cmdline, quoteArg(a))
	}
	return fmt.Sprintf(`[Unit]
Description=Hide locked folders from the reading UI during the lock window

[Service]
Type=oneshot
WorkingDirectory=%s
ExecStart=%s

[Install]
WantedBy=multi-user.target
`, escapePercent(workdir), strings.Join(cmdline, " "))
}

// RenderTimer returns the timer that triggers the service shortly after
// both edges of w.
func RenderTimer(w schedule.Window) string {
	return fmt.Sprintf(`[Unit]
Description=Run booklocker at the lock window edges

[Timer]
OnCalendar=%s
OnCalendar=%s
AccuracySec=60

[Install]
WantedBy=timers.target
`, onCalendar(w.Start, w.Location), onCalendar(w.End, w.Location))
}

func onCalendar(c schedule.Clock, loc *time.Location) string {
	c = c.Add(edgeDelayMinutes)
	spec := fmt.Sprintf("*-*-* %02d:%02d:%02d", c.Hour(), c.Minute(), edgeDelaySeconds)
	if loc != nil && loc != time.Local && loc.String() != "Local" {
		spec += " " + loc.String()
	}
	return spec
}

func quoteArg(s string) string {
	s = escapePercent(s)
	if s != "" && !strings.ContainsAny(s, " \t\"'\\;") {
		return s
	}
	return strconv.Quote(s)
}

func escapePercent(s string) string { return strings.ReplaceAll(s, "%", "%%") }

func unitPath(dir, ext string) string {
	return filepath.Join(dir, UnitName+"."+ext)
}

// Install writes the service and timer into dir, then enables the timer
// and waits for it to become active.
func (s *Systemd) Install(ctx context.Context, dir, service, timer string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}
	if err := os.WriteFile(unitPath(dir, "service"), []byte(service), 0o644); err != nil {
		return fmt.Errorf("write service: %w", err)
	}
	if err := os.WriteFile(unitPath(dir, "timer"), []byte(timer), 0o644); err != nil {
		return fmt.Errorf("write timer: %w", err)
	}

	if _, err := s.run(ctx, "systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	timerUnit := UnitName + ".timer"
	if _, err := s.run(ctx, "systemctl", "enable", "--now", timerUnit); err != nil {
		return fmt.Errorf("enable %s: %w", timerUnit, err)
	}
	return s.waitFor(ctx, timerUnit, true)
}

// Uninstall disables the timer and removes both units from dir. Units that
// are already gone are not an error.
func (s *Systemd) Uninstall(ctx context.Context, dir string) error {
	timerUnit := UnitName + ".timer"
	if _, err := s.run(ctx, "systemctl", "disable", "--now", timerUnit); err != nil {
		s.logger.Warn("disable timer", zap.String("unit", timerUnit), zap.Error(err))
	} else if err := s.waitFor(ctx, timerUnit, false); err != nil {
		return err
	}

	for _, ext := range []string{"timer", "service"} {
		if err := os.Remove(unitPath(dir, ext)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", ext, err)
		}
	}
	if _, err := s.run(ctx, "systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	return nil
}
