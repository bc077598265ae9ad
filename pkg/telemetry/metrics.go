package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for bootforge workflow runs.
//
// A provisioning run is a one-shot process, so the primary export path is
// a textfile snapshot written when the run finishes (WriteTextfile), in the
// format node_exporter's textfile collector scrapes. The HTTP listener is
// optional and only useful for watching a long install live.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepRetries   *prometheus.CounterVec

	// Backup metrics
	backupEntries *prometheus.CounterVec

	// Verification metrics
	verificationIssues *prometheus.GaugeVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of workflow runs started",
			},
			[]string{"workflow", "mode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of workflow runs completed",
			},
			[]string{"workflow", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of workflow runs in seconds",
				Buckets:   buckets,
			},
			[]string{"workflow", "status"},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of workflow steps executed",
			},
			[]string{"workflow", "outcome"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of workflow step execution in seconds",
				Buckets:   buckets,
			},
			[]string{"workflow", "step"},
		),
		stepRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_retries_total",
				Help:      "Total number of step retry attempts",
			},
			[]string{"workflow", "step"},
		),

		backupEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backup_entries_total",
				Help:      "Total number of artifacts copied into backup snapshots",
			},
			[]string{"workflow", "status"},
		),

		verificationIssues: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "verification_issues",
				Help:      "Issue count from the most recent verification",
			},
			[]string{"workflow"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.stepsExecuted,
		m.stepDuration,
		m.stepRetries,
		m.backupEntries,
		m.verificationIssues,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs. Mode is "real"
// or "dry-run".
func (m *Metrics) RecordRunStarted(workflow, mode string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(workflow, mode).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(workflow, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(workflow, status).Inc()
	m.runDuration.WithLabelValues(workflow, status).Observe(duration.Seconds())
}

// Step Metrics

// RecordStepExecution records the execution of a workflow step.
func (m *Metrics) RecordStepExecution(workflow, step, outcome string, duration time.Duration) {
	if m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(workflow, outcome).Inc()
	m.stepDuration.WithLabelValues(workflow, step).Observe(duration.Seconds())
}

// RecordStepRetry records one retry attempt for a step.
func (m *Metrics) RecordStepRetry(workflow, step string) {
	if m.stepRetries == nil {
		return
	}
	m.stepRetries.WithLabelValues(workflow, step).Inc()
}

// Backup Metrics

// RecordBackupEntry records one artifact copied (or failed to copy) into a
// backup snapshot. Status is "copied", "skipped" or "failed".
func (m *Metrics) RecordBackupEntry(workflow, status string) {
	if m.backupEntries == nil {
		return
	}
	m.backupEntries.WithLabelValues(workflow, status).Inc()
}

// Verification Metrics

// SetVerificationIssues sets the issue count from the latest verification.
func (m *Metrics) SetVerificationIssues(workflow string, issues int) {
	if m.verificationIssues == nil {
		return
	}
	m.verificationIssues.WithLabelValues(workflow).Set(float64(issues))
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// WriteTextfile writes a snapshot of all registered metrics to path in the
// Prometheus text exposition format. Callers skip this in dry-run mode.
func (m *Metrics) WriteTextfile(path string) error {
	if m.registry == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer exposes the metrics endpoint over HTTP when a listen
// address is configured, and is a no-op otherwise. Listener failures are
// logged, never fatal.
func (m *Metrics) StartMetricsServer(log *Logger) {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("Metrics listener on %s failed: %v", m.config.ListenAddress, err)
		}
	}()
}
