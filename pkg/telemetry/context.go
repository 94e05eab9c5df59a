package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry creates a telemetry instance from configuration.
func NewTelemetry(cfg *Config, opts ...LoggerOption) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging, opts...)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext returns the telemetry instance in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown stops the event publisher, then the tracer, then closes the log file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}
	return t.Logger.Close()
}

// Flush forces pending spans to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// RunScope carries the span, logger and timer of one run.
type RunScope struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	tel   *Telemetry
	runID string
	timer *Timer
}

// StartRun opens a run span, counts the run and publishes run.started. The returned
// scope's context carries the run logger, so zerolog.Ctx inside instructions logs the
// run_id.
func (t *Telemetry) StartRun(ctx context.Context, runID, sequence string) *RunScope {
	ctx, span := t.Tracer.StartRunSpan(ctx, runID, sequence)
	logger := t.Logger.WithRunID(runID)
	if id := TraceID(ctx); id != "" {
		logger = logger.WithField("trace_id", id)
	}
	ctx = logger.WithContext(ctx)
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)

	t.Metrics.RecordRunStarted(sequence)
	_ = t.Events.PublishRunStarted(runID, sequence)

	return &RunScope{
		Ctx:    ctx,
		Span:   span,
		Logger: logger,
		tel:    t,
		runID:  runID,
		timer:  NewTimer(),
	}
}

// End closes the run span and records the outcome. Status is the final run status;
// canceled runs publish run.canceled, failed runs run.failed.
func (s *RunScope) End(status string, err error) {
	duration := s.timer.Duration()
	s.Span.SetAttributes(AttrRunStatus.String(status))
	if err != nil {
		RecordError(s.Span, err)
		s.tel.Metrics.RecordError(err)
	} else {
		RecordSuccess(s.Span)
	}
	s.Span.End()

	s.tel.Metrics.RecordRunCompleted(status, duration)
	switch {
	case status == "canceled":
		_ = s.tel.Events.PublishRunCanceled(s.runID)
	case err != nil:
		_ = s.tel.Events.PublishRunFailed(s.runID, err.Error())
	default:
		_ = s.tel.Events.PublishRunCompleted(s.runID, status, duration)
	}
}
