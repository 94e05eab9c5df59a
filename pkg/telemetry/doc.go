// Package telemetry provides observability for skyrun.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and an event publisher behind a single Telemetry value:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Sequencer wiring
//
// Metrics implements sequencer.Metrics and Tracer.Tracer returns the trace.Tracer the
// runner starts its container and instruction spans with:
//
//	runner := sequencer.NewRunner(
//	    sequencer.WithLogger(tel.Logger.Zerolog()),
//	    sequencer.WithMetrics(tel.Metrics),
//	    sequencer.WithTracer(tel.Tracer.Tracer()),
//	)
//
// # Runs
//
// StartRun opens the run span, counts the run and publishes run.started. The scope's
// context carries a logger with the run_id field, which instructions reach through
// zerolog.Ctx. End records the final status:
//
//	scope := tel.StartRun(ctx, runID, "M42")
//	err := root.Run(scope.Ctx, runner, nil)
//	scope.End("succeeded", err)
//
// # Events
//
// Events are delivered to subscribers in publish order. With EnableAsync they pass
// through a buffer and Publish returns ErrBufferFull when it overflows; Shutdown
// delivers what is still buffered.
//
// # Metrics
//
// All collectors live on a private registry exposed by Metrics.Handler, mounted by the
// API server at /metrics. Namespaced names include runs_started_total,
// instructions_total, instruction_retries_total, triggers_fired_total,
// container_interrupts_total and running_instructions.
package telemetry
