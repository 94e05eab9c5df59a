// Package engine runs sequences on behalf of the CLI and the control API.
//
// # Overview
//
// A Scheduler owns at most one active sequence. Start accepts a decoded root container,
// optionally passes its document through a PolicyGate, records the run in a RunStore and
// executes the root on a background goroutine with a sequencer.Runner wired to the
// telemetry stack:
//
//	tel, _ := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	sched := engine.NewScheduler(tel,
//		engine.WithRunStore(sqliteStore),
//		engine.WithSnapshotStore(redisSnapshots),
//		engine.WithPolicyGate(policyEngine),
//	)
//	runID, err := sched.Start(ctx, root, engine.StartOptions{PlanPath: "night.yaml"})
//	info, err := sched.Wait(ctx, runID)
//
// Every entity status transition of the running tree is published as an
// entity.status_changed event, appended to the run store and mirrored into the snapshot
// store.
//
// # Control
//
//   - Cancel stops the run; in-flight entities revert to created.
//   - Interrupt stops the run without executing the end area.
//   - SkipCurrent skips the instructions that are executing right now.
//
// Control requests are written to the audit log with the actor taken from WithActor.
//
// # Run status
//
// A run moves from pending to running and ends as succeeded, failed or canceled. A run
// whose instructions failed under continue_on_error still succeeds; its deepest failure
// is kept in RunInfo.FailureMessage.
package engine
