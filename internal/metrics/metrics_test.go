package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/booklocker/internal/engine"
	"github.com/agentic-research/booklocker/internal/resolve"
	"github.com/agentic-research/booklocker/internal/schedule"
)

func sampleResult() *engine.Result {
	return &engine.Result{
		Desired:   schedule.Locked,
		State:     "locked",
		Locked:    2,
		Unchanged: 1,
		Failed:    1,
		Hidden:    3,
		Failures: []engine.Failure{{
			Target: "Magazines",
			Kind:   engine.KindOf(&resolve.PathError{Path: "Magazines"}),
			Err:    errors.New("no match"),
		}},
	}
}

func TestObserveRun(t *testing.T) {
	m := New()
	started := time.Date(2024, 3, 14, 23, 5, 0, 0, time.UTC)
	m.ObserveRun(sampleResult(), started, 150*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("locked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("path_not_found")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.failures.WithLabelValues("io_error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.hidden))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.locked))
	assert.Equal(t, float64(started.Unix()), testutil.ToFloat64(m.lastRun))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveRun(sampleResult(), time.Now(), time.Second)
	m.ObserveStore(120, 2, 37)
	m.ObserveNextTransition(time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "textfile", "booklocker.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `booklocker_transitions{outcome="locked"} 2`)
	assert.Contains(t, text, "booklocker_hidden_documents 37")
	assert.Contains(t, text, "booklocker_corrupt_records 2")
	assert.Contains(t, text, "booklocker_next_transition_timestamp_seconds 1.7e+09")
}
