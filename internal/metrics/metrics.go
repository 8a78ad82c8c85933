// Package metrics records acquisition session metrics in Prometheus form.
// Sessions are short-lived processes, so metrics are written to a textfile
// for the node exporter's textfile collector instead of being served.
package metrics

import (
	"fmt"
	"time"

	"github.com/harrison/ultrasession/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns the session collectors and their registry.
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	runDuration   prometheus.Histogram
	syncPulses    prometheus.Histogram
	lastFrameRate prometheus.Gauge
	lastRunUnix   prometheus.Gauge
	sessions      *prometheus.CounterVec
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace sets the metric name prefix.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithStageBuckets sets the stage duration histogram buckets in seconds.
func WithStageBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}

// WithRegistry registers collectors on registry instead of a fresh one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// NewManager creates a Manager with its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "ultrasession",
		buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)
	m.runs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "runs_total",
		Help:      "Acquisition runs by final status",
	}, []string{"status"})
	m.stageDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each acquisition and post-processing stage",
		Buckets:   m.buckets,
	}, []string{"stage"})
	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of a run from FREEZE to the sync table",
		Buckets:   m.buckets,
	})
	m.syncPulses = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "sync_pulses",
		Help:      "Synchronization pulses detected per processed run",
		Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
	})
	m.lastFrameRate = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "last_frame_rate_hz",
		Help:      "Frame rate of the most recent processed run",
	})
	m.lastRunUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Start time of the most recent run",
	})
	m.sessions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "sessions_total",
		Help:      "Sessions by outcome",
	}, []string{"outcome"})
	return m
}

// Registry returns the registry the collectors live in.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records the time spent in stage.
func (m *Manager) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRun counts a finished or failed run.
func (m *Manager) RecordRun(run models.Run, pulses int) {
	m.runs.WithLabelValues(run.Status).Inc()
	m.runDuration.Observe(run.Duration.Seconds())
	if !run.StartedAt.IsZero() {
		m.lastRunUnix.Set(float64(run.StartedAt.Unix()))
	}
	if run.Status == models.RunProcessed {
		m.syncPulses.Observe(float64(pulses))
	}
}

// SetFrameRate records the frame rate derived from a run's sync table.
func (m *Manager) SetFrameRate(hz float64) {
	m.lastFrameRate.Set(hz)
}

// RecordSession counts a session outcome.
func (m *Manager) RecordSession(result models.SessionResult) {
	outcome := "completed"
	if result.Err != nil {
		outcome = "failed"
	}
	m.sessions.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes all metrics in the text exposition format. The file
// is replaced atomically.
func (m *Manager) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
