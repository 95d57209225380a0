// Package metrics exports reconciliation results as Prometheus metrics. The
// tool is a one-shot process, so metrics go to a node_exporter textfile
// instead of an HTTP endpoint.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentic-research/booklocker/internal/engine"
	"github.com/agentic-research/booklocker/internal/schedule"
)

// Metrics holds one run's gauges in a private registry.
type Metrics struct {
	registry *prometheus.Registry

	transitions  *prometheus.GaugeVec
	failures     *prometheus.GaugeVec
	hidden       prometheus.Gauge
	locked       prometheus.Gauge
	lastRun      prometheus.Gauge
	duration     prometheus.Gauge
	corrupt      prometheus.Gauge
	treeSize     prometheus.Gauge
	hiddenDocs   prometheus.Gauge
	nextChangeAt prometheus.Gauge
}

// New registers the booklocker metrics in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "booklocker_transitions",
			Help: "Targets per outcome in the last reconciliation",
		}, []string{"outcome"}),
		failures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "booklocker_failures",
			Help: "Failed targets per kind in the last reconciliation",
		}, []string{"kind"}),
		hidden: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "booklocker_hidden_nodes",
			Help: "Lock records after the last reconciliation",
		}),
		locked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "booklocker_desired_locked",
			Help: "1 when the window wanted targets hidden",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "booklocker_last_run_timestamp_seconds",
			Help: "Unix time of the last reconciliation",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "booklocker_last_run_duration_seconds",
			Help: "Wall time of the last reconciliation",
		}),
		corrupt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "booklocker_corrupt_records",
			Help: "Metadata records skipped as unreadable",
		}),
		treeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "booklocker_tree_nodes",
			Help: "Documents and folders in the store",
		}),
		hiddenDocs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "booklocker_hidden_documents",
			Help: "Documents under the hidden targets",
		}),
		nextChangeAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "booklocker_next_transition_timestamp_seconds",
			Help: "Unix time at which the desired state next flips",
		}),
	}
	m.registry.MustRegister(
		m.transitions, m.failures, m.hidden, m.locked, m.lastRun,
		m.duration, m.corrupt, m.treeSize, m.hiddenDocs, m.nextChangeAt,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRun records a reconciliation result.
func (m *Metrics) ObserveRun(res *engine.Result, started time.Time, took time.Duration) {
	m.transitions.WithLabelValues("locked").Set(float64(res.Locked))
	m.transitions.WithLabelValues("unlocked").Set(float64(res.Unlocked))
	m.transitions.WithLabelValues("unchanged").Set(float64(res.Unchanged))
	m.transitions.WithLabelValues("failed").Set(float64(res.Failed))
	m.transitions.WithLabelValues("recovered").Set(float64(res.Recovered))

	for _, kind := range []engine.FailureKind{engine.KindPathNotFound, engine.KindDestinationExists, engine.KindIO} {
		m.failures.WithLabelValues(string(kind)).Set(0)
	}
	for _, f := range res.Failures {
		m.failures.WithLabelValues(string(f.Kind)).Inc()
	}

	m.hidden.Set(float64(res.Hidden))
	if res.Desired == schedule.Locked {
		m.locked.Set(1)
	} else {
		m.locked.Set(0)
	}
	m.lastRun.Set(float64(started.Unix()))
	m.duration.Set(took.Seconds())
}

// ObserveStore records the size of the scanned store.
func (m *Metrics) ObserveStore(nodes, corrupt, hiddenDocuments int) {
	m.treeSize.Set(float64(nodes))
	m.corrupt.Set(float64(corrupt))
	m.hiddenDocs.Set(float64(hiddenDocuments))
}

// ObserveNextTransition records when the window next flips.
func (m *Metrics) ObserveNextTransition(at time.Time) {
	m.nextChangeAt.Set(float64(at.Unix()))
}

// WriteTextfile writes every metric in text exposition format to path,
// atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
