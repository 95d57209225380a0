package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/booklocker/internal/config"
	"github.com/agentic-research/booklocker/internal/engine"
	"github.com/agentic-research/booklocker/internal/metadata"
)

// device is a throwaway document store with a config file pointing at it.
type device struct {
	t      *testing.T
	store  string
	state  string
	config string
}

func newDevice(t *testing.T) *device {
	t.Helper()
	root := t.TempDir()
	d := &device{
		t:      t,
		store:  filepath.Join(root, "xochitl"),
		state:  filepath.Join(root, "state"),
		config: filepath.Join(root, "config.yaml"),
	}
	require.NoError(t, os.MkdirAll(d.store, 0o755))
	d.node("books", "", "Books", "CollectionType")
	d.node("dune", "books", "Dune", "DocumentType")
	d.node("emma", "books", "Emma", "DocumentType")
	d.node("notes", "", "Notes", "CollectionType")

	cfg := `store_dir: ` + d.store + `
state_dir: ` + d.state + `
targets:
  - Books
window:
  start: "22:00"
  end: "06:00"
  timezone: UTC
ui:
  type: none
network:
  type: none
metrics:
  textfile: ` + filepath.Join(root, "booklocker.prom") + `
`
	require.NoError(t, os.WriteFile(d.config, []byte(cfg), 0o644))
	return d
}

func (d *device) node(id, parent, name, kind string) {
	d.t.Helper()
	body := `{"visibleName": "` + name + `", "type": "` + kind + `", "parent": "` + parent + `"}`
	require.NoError(d.t, os.WriteFile(filepath.Join(d.store, id+metadata.RecordExt), []byte(body), 0o644))
	require.NoError(d.t, os.MkdirAll(filepath.Join(d.store, id), 0o755))
}

// exec runs the CLI at the given time and returns its stdout.
func (d *device) exec(at time.Time, args ...string) (string, error) {
	d.t.Helper()
	now = func() time.Time { return at }
	d.t.Cleanup(func() { now = time.Now })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config", d.config))
	err := rootCmd.Execute()
	return out.String(), err
}

func at(hour int) time.Time { return time.Date(2024, 3, 14, hour, 0, 0, 0, time.UTC) }

func TestRun_LockThenUnlock(t *testing.T) {
	d := newDevice(t)

	out, err := d.exec(at(23), "run", "-o", "json")
	require.NoError(t, err)
	var res engine.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "locked", res.State)
	assert.Equal(t, 1, res.Locked)
	assert.Equal(t, 1, res.Hidden)
	assert.NoDirExists(t, filepath.Join(d.store, "books"))
	assert.DirExists(t, filepath.Join(d.state, "hidden", "books"))
	assert.Contains(t, out, `"next_transition": "2024-03-15T06:00:00Z"`)

	prom, err := os.ReadFile(filepath.Join(filepath.Dir(d.config), "booklocker.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), "booklocker_hidden_documents 2")

	out, err = d.exec(at(7), "run", "-o", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "unlocked", res.State)
	assert.Equal(t, 1, res.Unlocked)
	assert.DirExists(t, filepath.Join(d.store, "books"))
}

func TestStatus(t *testing.T) {
	d := newDevice(t)
	_, err := d.exec(at(23), "run", "-o", "text")
	require.NoError(t, err)

	out, err := d.exec(at(23), "status", "-o", "yaml")
	require.NoError(t, err)
	var report statusReport
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.Equal(t, "locked", report.Desired)
	assert.Equal(t, "unlocked", report.NextState)
	require.Len(t, report.Hidden, 1)
	assert.Equal(t, "Books", report.Hidden[0].Path)
	assert.Equal(t, 2, report.Hidden[0].Documents)
	assert.Equal(t, 2, report.HiddenDocuments)

	out, err = d.exec(at(23), "status", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "22:00-06:00 UTC")
	assert.Contains(t, out, "Books (2 documents)")
}

func TestCheck(t *testing.T) {
	d := newDevice(t)

	out, err := d.exec(at(12), "check", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, `ok      "Books" -> Books [books] (2 documents)`)

	out, err = d.exec(at(12), "check", "-o", "json", "Boxes", "Notes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 target(s)")
	var report checkReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Targets, 2)
	assert.Equal(t, []string{"Books", "Notes"}, report.Targets[0].Suggestions)
	assert.Equal(t, metadata.NodeID("notes"), report.Targets[1].NodeID)

	// Nothing moved.
	assert.DirExists(t, filepath.Join(d.store, "books"))
}

func TestHistory(t *testing.T) {
	d := newDevice(t)

	out, err := d.exec(at(12), "history", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "no journal yet")

	_, err = d.exec(at(23), "run", "-o", "text")
	require.NoError(t, err)

	out, err = d.exec(at(23), "history", "-o", "json", "--limit", "10")
	require.NoError(t, err)
	assert.Contains(t, out, `"action": "lock"`)
	assert.Contains(t, out, `"action": "summary"`)
}

func TestInstallDryRun(t *testing.T) {
	d := newDevice(t)
	out, err := d.exec(at(12), "install", "--dry-run", "--unit-dir", "/tmp/units")
	require.NoError(t, err)
	assert.Contains(t, out, "# /tmp/units/booklocker.service")
	assert.Contains(t, out, "ExecStart=")
	assert.Contains(t, out, " run --config "+d.config)
	assert.Contains(t, out, "OnCalendar=*-*-* 22:01:10 UTC")
	assert.Contains(t, out, "OnCalendar=*-*-* 06:01:10 UTC")
}

func TestWriteReport(t *testing.T) {
	report := &checkReport{Targets: []checkEntry{{Target: "Books", Path: "Books", NodeID: "books", Documents: 3}}}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, report, FormatText))
	assert.Equal(t, "ok      \"Books\" -> Books [books] (3 documents)\n", buf.String())

	buf.Reset()
	require.NoError(t, writeReport(&buf, report, FormatJSON))
	assert.True(t, strings.HasPrefix(buf.String(), "{\n  \"targets\""))

	buf.Reset()
	require.NoError(t, writeReport(&buf, report, FormatYAML))
	assert.Contains(t, buf.String(), "targets:\n  - target: Books\n")

	buf.Reset()
	require.NoError(t, writeReport(&buf, map[string]int{"n": 1}, FormatText))
	assert.JSONEq(t, `{"n": 1}`, buf.String())

	assert.ErrorContains(t, writeReport(&buf, report, "xml"), `unsupported output format: "xml"`)
}

// recorder is a UI controller and network blocker that logs its calls.
type recorder struct {
	calls   []string
	stopErr error
}

func (r *recorder) Stop(context.Context) error  { r.calls = append(r.calls, "stop"); return r.stopErr }
func (r *recorder) Start(context.Context) error { r.calls = append(r.calls, "start"); return nil }
func (r *recorder) Block(context.Context) error {
	r.calls = append(r.calls, "block")
	return errors.New("route: permission denied")
}
func (r *recorder) Unblock(context.Context) error { r.calls = append(r.calls, "unblock"); return nil }

func loadDevice(t *testing.T, d *device) *config.Config {
	t.Helper()
	cfg, err := config.Load(d.config)
	require.NoError(t, err)
	return cfg
}

func TestRunner_Order(t *testing.T) {
	d := newDevice(t)
	rec := &recorder{}
	r := &runner{cfg: loadDevice(t, d), logger: zap.NewNop(), ui: rec, blocker: rec}
	now = func() time.Time { return at(23) }
	t.Cleanup(func() { now = time.Now })

	var out bytes.Buffer
	require.NoError(t, r.run(context.Background(), &out, FormatText), "block failures are not fatal")
	assert.Equal(t, []string{"stop", "start", "block"}, rec.calls)
	assert.Contains(t, out.String(), "desired=locked locked=1")
}

func TestRunner_ResumesUIAfterFatalError(t *testing.T) {
	d := newDevice(t)
	cfg := loadDevice(t, d)
	cfg.StoreDir = filepath.Join(t.TempDir(), "missing")
	rec := &recorder{}
	r := &runner{cfg: cfg, logger: zap.NewNop(), ui: rec, blocker: rec}

	err := r.run(context.Background(), &bytes.Buffer{}, FormatText)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read document store")
	assert.Equal(t, []string{"stop", "start", "unblock"}, rec.calls)
}

func TestRunner_StopFailureAborts(t *testing.T) {
	d := newDevice(t)
	rec := &recorder{stopErr: errors.New("unit not found")}
	r := &runner{cfg: loadDevice(t, d), logger: zap.NewNop(), ui: rec, blocker: rec}

	err := r.run(context.Background(), &bytes.Buffer{}, FormatText)
	require.ErrorContains(t, err, "stop ui")
	assert.Equal(t, []string{"stop", "start"}, rec.calls)
	assert.DirExists(t, filepath.Join(d.store, "books"))
}
