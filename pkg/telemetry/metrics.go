package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides the Prometheus instrumentation shared by pkg/downloader
// and pkg/executor: job outcome counters, in-flight throughput gauges, and
// per-phase execution duration histograms.
type Metrics struct {
	enabled bool

	// DownloadJobs counts completed download jobs by outcome
	// ("success"/"failure").
	DownloadJobs *prometheus.CounterVec

	// DownloadThroughput tracks the current speed, in bytes/sec, of each
	// in-flight download job, labeled by display name.
	DownloadThroughput *prometheus.GaugeVec

	// TransactionPhaseDuration records how long each executor phase took,
	// labeled by phase name.
	TransactionPhaseDuration *prometheus.HistogramVec

	// RepoSyncResult counts repository sync attempts by outcome.
	RepoSyncResult *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. When cfg.Enabled is false, the
// returned Metrics is a safe no-op: every Record*/Observe* call is a no-op
// because the underlying vectors are nil-guarded by the helper methods.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{enabled: false}
	}

	ns := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		enabled:  true,
		registry: registry,
		DownloadJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "download_jobs_total",
			Help:      "Total number of download jobs by outcome.",
		}, []string{"outcome"}),
		DownloadThroughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "download_throughput_bytes_per_second",
			Help:      "Current throughput of an in-flight download job.",
		}, []string{"job"}),
		TransactionPhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "transaction_phase_duration_seconds",
			Help:      "Duration of each executor transaction phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		RepoSyncResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "repo_sync_result_total",
			Help:      "Total number of repository sync attempts by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.DownloadJobs,
		m.DownloadThroughput,
		m.TransactionPhaseDuration,
		m.RepoSyncResult,
	)

	return m
}

// Registry returns the underlying Prometheus registry, or nil when metrics
// are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDownloadOutcome increments the job-outcome counter.
func (m *Metrics) RecordDownloadOutcome(success bool) {
	if !m.enabled {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.DownloadJobs.WithLabelValues(outcome).Inc()
}

// SetDownloadThroughput updates the current speed gauge for a job.
func (m *Metrics) SetDownloadThroughput(job string, bytesPerSecond float64) {
	if !m.enabled {
		return
	}
	m.DownloadThroughput.WithLabelValues(job).Set(bytesPerSecond)
}

// ObservePhaseDuration records how long an executor phase took, in seconds.
func (m *Metrics) ObservePhaseDuration(phase string, seconds float64) {
	if !m.enabled {
		return
	}
	m.TransactionPhaseDuration.WithLabelValues(phase).Observe(seconds)
}

// RecordRepoSyncOutcome increments the repo sync outcome counter.
func (m *Metrics) RecordRepoSyncOutcome(success bool) {
	if !m.enabled {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.RepoSyncResult.WithLabelValues(outcome).Inc()
}
