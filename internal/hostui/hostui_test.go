package hostui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/booklocker/internal/command"
	"github.com/agentic-research/booklocker/internal/schedule"
)

// fakeSystemctl simulates units that change state after a number of
// is-active polls.
type fakeSystemctl struct {
	mu       sync.Mutex
	calls    []string
	active   map[string]bool
	lag      int // polls before a start/stop takes effect
	pending  map[string]int
	failVerb string
}

func newFake() *fakeSystemctl {
	return &fakeSystemctl{active: map[string]bool{}, pending: map[string]int{}}
}

func (f *fakeSystemctl) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(append([]string{name}, args...), " "))

	verb := args[0]
	if verb == f.failVerb {
		return nil, &command.Error{Command: name + " " + verb, ExitCode: 1, Err: errors.New("exit status 1")}
	}
	unit := args[len(args)-1]
	switch verb {
	case "start", "enable":
		f.active[unit] = true
		f.pending[unit] = f.lag
	case "stop", "disable":
		f.active[unit] = false
		f.pending[unit] = f.lag
	case "is-active":
		if f.pending[unit] > 0 {
			f.pending[unit]--
			// still in the previous state
			if !f.active[unit] {
				return []byte("active\n"), nil
			}
			return []byte("inactive\n"), &command.Error{Command: "systemctl is-active", ExitCode: 3, Err: errors.New("exit status 3")}
		}
		if f.active[unit] {
			return []byte("active\n"), nil
		}
		return []byte("inactive\n"), &command.Error{Command: "systemctl is-active", ExitCode: 3, Err: errors.New("exit status 3")}
	}
	return nil, nil
}

func (f *fakeSystemctl) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newController(f *fakeSystemctl, attempts int) *Systemd {
	return NewSystemd(SystemdConfig{
		Service:      "xochitl",
		PollInterval: time.Millisecond,
		Attempts:     attempts,
	}, WithRunner(f.run))
}

func TestSystemd_StopStart(t *testing.T) {
	f := newFake()
	f.active["xochitl"] = true
	f.lag = 2
	s := newController(f, 20)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, f.active["xochitl"])

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, f.active["xochitl"])

	assert.Equal(t, []string{
		"systemctl stop xochitl",
		"systemctl is-active xochitl",
		"systemctl is-active xochitl",
		"systemctl is-active xochitl",
		"systemctl reset-failed xochitl",
		"systemctl start xochitl",
		"systemctl is-active xochitl",
		"systemctl is-active xochitl",
		"systemctl is-active xochitl",
	}, f.history())
}

func TestSystemd_WaitTimeout(t *testing.T) {
	f := newFake()
	f.lag = 100
	s := newController(f, 5)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "activation")

	polls := 0
	for _, c := range f.history() {
		if c == "systemctl is-active xochitl" {
			polls++
		}
	}
	assert.Equal(t, 5, polls)
}

func TestSystemd_StopFails(t *testing.T) {
	f := newFake()
	f.failVerb = "stop"
	s := newController(f, 3)

	err := s.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop xochitl")
}

func TestSystemd_ResetFailedIsBestEffort(t *testing.T) {
	f := newFake()
	f.failVerb = "reset-failed"
	s := newController(f, 3)

	require.NoError(t, s.Start(context.Background()))
}

func TestSystemd_RunnerCannotStart(t *testing.T) {
	s := NewSystemd(SystemdConfig{Service: "xochitl", PollInterval: time.Millisecond, Attempts: 3},
		WithRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
			if args[0] == "is-active" {
				return nil, &command.Error{Command: name, ExitCode: -1, Err: errors.New("executable file not found")}
			}
			return nil, nil
		}))

	err := s.Stop(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestNone(t *testing.T) {
	var c Controller = None{}
	assert.NoError(t, c.Stop(context.Background()))
	assert.NoError(t, c.Start(context.Background()))
}

func window(t *testing.T, start, end, zone string) schedule.Window {
	t.Helper()
	w, err := schedule.ParseWindow(start, end, zone)
	require.NoError(t, err)
	return w
}

func TestRenderTimer(t *testing.T) {
	got := RenderTimer(window(t, "23:00", "08:00", ""))
	assert.Equal(t, `[Unit]
Description=Run booklocker at the lock window edges

[Timer]
OnCalendar=*-*-* 23:01:10
OnCalendar=*-*-* 08:01:10
AccuracySec=60

[Install]
WantedBy=timers.target
`, got)
}

func TestRenderTimer_Wraps(t *testing.T) {
	got := RenderTimer(window(t, "22:59", "23:59", ""))
	assert.Contains(t, got, "OnCalendar=*-*-* 23:00:10\n")
	assert.Contains(t, got, "OnCalendar=*-*-* 00:00:10\n")
}

func TestRenderTimer_Zone(t *testing.T) {
	got := RenderTimer(window(t, "21:30", "06:00", "Europe/Amsterdam"))
	assert.Contains(t, got, "OnCalendar=*-*-* 21:31:10 Europe/Amsterdam\n")
	assert.Contains(t, got, "OnCalendar=*-*-* 06:01:10 Europe/Amsterdam\n")
}

func TestRenderService(t *testing.T) {
	got := RenderService("/home/root/bin/booklocker",
		[]string{"run", "--config", "/home/root/my config.yaml", "--log-level", "50%"},
		"/home/root/bin")

	assert.Contains(t, got, "Type=oneshot\n")
	assert.Contains(t, got, "WorkingDirectory=/home/root/bin\n")
	assert.Contains(t, got,
		`ExecStart=/home/root/bin/booklocker run --config "/home/root/my config.yaml" --log-level 50%%`+"\n")
	assert.Contains(t, got, "WantedBy=multi-user.target\n")
}

func TestInstallUninstall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "system")
	f := newFake()
	s := newController(f, 5)

	require.NoError(t, s.Install(context.Background(), dir, "SERVICE", "TIMER"))

	data, err := os.ReadFile(filepath.Join(dir, "booklocker.service"))
	require.NoError(t, err)
	assert.Equal(t, "SERVICE", string(data))
	data, err = os.ReadFile(filepath.Join(dir, "booklocker.timer"))
	require.NoError(t, err)
	assert.Equal(t, "TIMER", string(data))
	assert.True(t, f.active["booklocker.timer"])
	assert.Contains(t, f.history(), "systemctl enable --now booklocker.timer")

	require.NoError(t, s.Uninstall(context.Background(), dir))
	assert.NoFileExists(t, filepath.Join(dir, "booklocker.service"))
	assert.NoFileExists(t, filepath.Join(dir, "booklocker.timer"))
	assert.False(t, f.active["booklocker.timer"])

	// Second uninstall finds nothing to remove.
	require.NoError(t, s.Uninstall(context.Background(), dir))
}

func TestInstall_EnableFails(t *testing.T) {
	f := newFake()
	f.failVerb = "enable"
	s := newController(f, 5)

	err := s.Install(context.Background(), t.TempDir(), "S", "T")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enable booklocker.timer")
}
