package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/skyrun/pkg/sequencer"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }, wantErr: true},
		{name: "sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *Config) { *c = *ProductionConfig() }, wantErr: true},
		{name: "metrics without address", mutate: func(c *Config) { c.Metrics.ListenAddress = "" }, wantErr: true},
		{name: "metrics disabled without address", mutate: func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.ListenAddress = ""
		}},
		{name: "zero event buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}, WithWriter(&buf))
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.NewComponentLogger("engine").
		WithRunID("run-1").
		WithEntity("lights", "e-1", "take_exposure").
		Info("Instruction started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, buf.String())
	}
	want := map[string]string{
		"component":   "engine",
		"run_id":      "run-1",
		"entity":      "lights",
		"entity_id":   "e-1",
		"entity_type": "take_exposure",
		"message":     "Instruction started",
		"level":       "info",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("field %s = %v, want %s", k, entry[k], v)
		}
	}
}

func TestLoggerTimeFormat(t *testing.T) {
	defer func() { zerolog.TimeFieldFormat = time.RFC3339 }()

	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: "stdout", TimeFormat: "unix"}, WithWriter(&buf))
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if zerolog.TimeFieldFormat != zerolog.TimeFormatUnix {
		t.Errorf("TimeFieldFormat = %q, want unix", zerolog.TimeFieldFormat)
	}
	logger.Info("tick")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if _, ok := entry["time"].(float64); !ok {
		t.Errorf("time = %v, want a unix timestamp", entry["time"])
	}

	if _, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, WithWriter(&buf)); err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if zerolog.TimeFieldFormat != time.RFC3339 {
		t.Errorf("TimeFieldFormat = %q, want RFC3339", zerolog.TimeFieldFormat)
	}
}

func TestLoggerLevelAndContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, WithWriter(&buf))
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}

	ctx := logger.WithRunID("run-2").WithContext(context.Background())
	if FromContext(ctx) == nil {
		t.Fatal("FromContext() = nil")
	}
	zerolog.Ctx(ctx).Warn().Msg("from instruction")
	if !strings.Contains(buf.String(), `"run_id":"run-2"`) {
		t.Errorf("zerolog.Ctx logger lost run_id: %s", buf.String())
	}

	if got := ParseLevel("nonsense"); got != zerolog.InfoLevel {
		t.Errorf("ParseLevel(nonsense) = %v, want info", got)
	}
}

func TestMetricsImplementSequencerMetrics(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.InstructionCompleted("take_exposure", sequencer.StatusFinished, 2*time.Second)
	m.InstructionCompleted("take_exposure", sequencer.StatusFinished, time.Second)
	m.InstructionCompleted("dither", sequencer.StatusFailed, time.Second)
	m.InstructionRetried("dither")
	m.TriggerFired("after_exposures", sequencer.StatusFinished)
	m.ContainerInterrupted("M42")
	m.SetRunningInstructions(3)

	if got := testutil.ToFloat64(m.instructions.WithLabelValues("take_exposure", "finished")); got != 2 {
		t.Errorf("finished exposures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.retries.WithLabelValues("dither")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.triggersFired.WithLabelValues("after_exposures", "finished")); got != 1 {
		t.Errorf("triggers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.interrupts.WithLabelValues("M42")); got != 1 {
		t.Errorf("interrupts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runningInstructions); got != 3 {
		t.Errorf("running = %v, want 3", got)
	}
}

func TestMetricsRuns(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordRunStarted("M42")
	if got := testutil.ToFloat64(m.activeRuns); got != 1 {
		t.Errorf("active runs = %v, want 1", got)
	}
	m.RecordRunCompleted("failed", time.Minute)
	m.RecordError(sequencer.NewFailedError("camera fault", nil).WithCode("exposure"))
	m.RecordError(errors.New("plain"))
	m.RecordPolicyViolation("nesting-depth", "error")

	if got := testutil.ToFloat64(m.activeRuns); got != 0 {
		t.Errorf("active runs = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("unhandled")); got != 1 {
		t.Errorf("unhandled errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByCode.WithLabelValues("exposure")); got != 1 {
		t.Errorf("errors by code = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.policyViolations); n != 1 {
		t.Errorf("policy violation series = %d, want 1", n)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.InstructionCompleted("x", sequencer.StatusFinished, time.Second)
	m.RecordRunStarted("x")
	m.RecordError(errors.New("x"))
	if m.Registry() != nil {
		t.Error("disabled metrics have a registry")
	}
	if m.StartMetricsServer() != nil {
		t.Error("disabled metrics started a server")
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var all, failures eventRecorder
	ep.Subscribe(all.record, nil)
	ep.Subscribe(failures.record, FilterByLevel(EventLevelError))
	ep.AddFilter(FilterByRunID("run-1"))

	_ = ep.PublishRunStarted("run-1", "M42")
	_ = ep.PublishStatusChanged("run-1", "e-1", "/M42/L", "running", "failed")
	_ = ep.PublishRunStarted("run-2", "M31")
	_ = ep.PublishRunFailed("run-1", "camera fault")

	want := []string{EventTypeRunStarted, EventTypeEntityStatusChanged, EventTypeRunFailed}
	if got := all.types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
	if got := failures.types(); len(got) != 2 {
		t.Errorf("error events = %v, want 2", got)
	}
	if all.events[0].ID == "" || all.events[0].Timestamp.IsZero() {
		t.Error("ID and Timestamp not filled")
	}

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := ep.PublishRunCanceled("run-1"); !errors.Is(err, ErrPublisherStopped) {
		t.Errorf("Publish after Shutdown error = %v, want ErrPublisherStopped", err)
	}
}

func TestEventPublisherAsyncKeepsOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		EnableAsync:   true,
		BufferSize:    100,
		MaxBatchSize:  10,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var rec eventRecorder
	ep.Subscribe(rec.record, FilterByType(EventTypeEntityStatusChanged))
	for i := 0; i < 50; i++ {
		if err := ep.PublishStatusChanged("run", "e", "/p", "created", strings.Repeat("x", i)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	_ = ep.PublishRunStarted("run", "seq")

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if len(rec.events) != 50 {
		t.Fatalf("delivered %d events, want 50", len(rec.events))
	}
	for i, e := range rec.events {
		if got := e.Data["new_status"]; got != strings.Repeat("x", i) {
			t.Fatalf("event %d out of order: %v", i, got)
		}
	}
}

func TestTracerExportsRunSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewTracer(TracingConfig{SamplingRate: 1}, "skyrun", "test", "test", WithSpanExporter(exporter))
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	ctx, span := tracer.StartRunSpan(context.Background(), "run-1", "M42")
	_, child := tracer.Tracer().Start(ctx, "sequencer.instruction")
	child.End()
	RecordError(span, errors.New("boom"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}
	run := spans[1]
	if run.Name != "run.execute" {
		t.Errorf("span name = %s", run.Name)
	}
	if spans[0].Parent.SpanID() != run.SpanContext.SpanID() {
		t.Error("instruction span is not a child of the run span")
	}
	if run.Status.Description != "boom" {
		t.Errorf("status = %+v", run.Status)
	}
}

func TestTracerDisabledIsNoop(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{}, "skyrun", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	ctx, span := tracer.StartRunSpan(context.Background(), "run", "seq")
	span.End()
	if TraceID(ctx) != "" {
		t.Error("no-op tracer produced a valid trace id")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestRunScopeWithRunner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	cfg.Events.EnableAsync = false
	var logs bytes.Buffer
	tel, err := NewTelemetry(cfg, WithWriter(&logs))
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	exporter := tracetest.NewInMemoryExporter()
	tel.Tracer, err = NewTracer(TracingConfig{SamplingRate: 1}, "skyrun", "test", "test", WithSpanExporter(exporter))
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}

	var rec eventRecorder
	tel.Events.Subscribe(rec.record, nil)

	root := sequencer.NewRootContainer(sequencer.Metadata{Name: "night"})
	runner := sequencer.NewRunner(
		sequencer.WithLogger(tel.Logger.Zerolog()),
		sequencer.WithMetrics(tel.Metrics),
		sequencer.WithTracer(tel.Tracer.Tracer()),
	)

	scope := tel.StartRun(context.Background(), "run-9", "night")
	if FromTelemetryContext(scope.Ctx) != tel {
		t.Error("scope context lost telemetry")
	}
	runErr := root.Run(scope.Ctx, runner, nil)
	scope.End("succeeded", runErr)

	if runErr != nil {
		t.Fatalf("Run() error = %v", runErr)
	}
	if got := rec.types(); strings.Join(got, ",") != EventTypeRunStarted+","+EventTypeRunCompleted {
		t.Errorf("events = %v", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.runsCompleted.WithLabelValues("succeeded")); got != 1 {
		t.Errorf("completed runs = %v, want 1", got)
	}
	var sawRun bool
	for _, s := range exporter.GetSpans() {
		if s.Name == "run.execute" {
			sawRun = true
		}
	}
	if !sawRun {
		t.Error("run span not exported")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
