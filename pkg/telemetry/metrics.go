package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/skyrun/pkg/sequencer"
)

// Metrics provides Prometheus metrics for runs and the sequencer. It implements
// sequencer.Metrics. A Metrics built from a disabled config records nothing.
type Metrics struct {
	config MetricsConfig

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	instructions        *prometheus.CounterVec
	instructionDuration *prometheus.HistogramVec
	retries             *prometheus.CounterVec
	runningInstructions prometheus.Gauge

	triggersFired *prometheus.CounterVec
	interrupts    *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ sequencer.Metrics = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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
				Help:      "Total number of sequence runs started",
			},
			[]string{"sequence"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of sequence runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of sequence runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),

		instructions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instructions_total",
				Help:      "Total number of instructions settled, by type and final status",
			},
			[]string{"type", "status"},
		),
		instructionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "instruction_duration_seconds",
				Help:      "Duration of instruction execution in seconds, retries included",
				Buckets:   buckets,
			},
			[]string{"type"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instruction_retries_total",
				Help:      "Total number of instruction retry attempts",
			},
			[]string{"type"},
		),
		runningInstructions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "running_instructions",
				Help:      "Current number of running instructions",
			},
		),

		triggersFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "triggers_fired_total",
				Help:      "Total number of trigger sub-sequences run",
			},
			[]string{"type", "status"},
		),
		interrupts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "container_interrupts_total",
				Help:      "Total number of containers interrupted by a watchdog condition",
			},
			[]string{"container"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of run errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of run errors by error code",
			},
			[]string{"code"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy findings on submitted sequences",
			},
			[]string{"policy", "severity"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.instructions,
		m.instructionDuration,
		m.retries,
		m.runningInstructions,
		m.triggersFired,
		m.interrupts,
		m.errorsByClass,
		m.errorsByCode,
		m.policyViolations,
	)

	return m, nil
}

// Registry returns the registry holding the collectors, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRunStarted counts a started run of the named sequence.
func (m *Metrics) RecordRunStarted(sequence string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(sequence).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// InstructionCompleted implements sequencer.Metrics.
func (m *Metrics) InstructionCompleted(kind string, status sequencer.Status, d time.Duration) {
	if m.instructions == nil {
		return
	}
	m.instructions.WithLabelValues(kind, string(status)).Inc()
	if status != sequencer.StatusSkipped || d > 0 {
		m.instructionDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// InstructionRetried implements sequencer.Metrics.
func (m *Metrics) InstructionRetried(kind string) {
	if m.retries == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

// TriggerFired implements sequencer.Metrics.
func (m *Metrics) TriggerFired(kind string, status sequencer.Status) {
	if m.triggersFired == nil {
		return
	}
	m.triggersFired.WithLabelValues(kind, string(status)).Inc()
}

// ContainerInterrupted implements sequencer.Metrics.
func (m *Metrics) ContainerInterrupted(name string) {
	if m.interrupts == nil {
		return
	}
	m.interrupts.WithLabelValues(name).Inc()
}

// SetRunningInstructions implements sequencer.Metrics.
func (m *Metrics) SetRunningInstructions(n int) {
	if m.runningInstructions == nil {
		return
	}
	m.runningInstructions.Set(float64(n))
}

// RecordError counts err by class and code. Errors that are not engine errors count
// as unhandled.
func (m *Metrics) RecordError(err error) {
	if m.errorsByClass == nil || err == nil {
		return
	}
	var ee *sequencer.EngineError
	if !errors.As(err, &ee) {
		m.errorsByClass.WithLabelValues(string(sequencer.ErrorClassUnhandled)).Inc()
		return
	}
	m.errorsByClass.WithLabelValues(string(ee.Class)).Inc()
	if ee.Code != "" {
		m.errorsByCode.WithLabelValues(ee.Code).Inc()
	}
}

// RecordPolicyViolation counts one policy finding.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
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

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics path on its own listener. It returns the
// server so callers can shut it down.
func (m *Metrics) StartMetricsServer() *http.Server {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", server.Addr).Msg("Metrics server stopped")
		}
	}()

	return server
}
