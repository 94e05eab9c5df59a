// Package sequencer is the execution core of skyrun.
//
// A plan is a tree of entities. Items are units of work; containers are items that own
// ordered child items together with conditions that gate their loop and triggers that
// run private sub-plans around leaf items. A RootContainer sits at the top, tracks the
// items that are currently running and owns an end area that runs after the body.
//
// Every entity carries a status driven by a small state machine:
//
//	created -> running -> finished | failed | skipped
//	any settled status -> created (reset)
//	created <-> disabled
//
// The Runner walks the tree. For each container it checks the conditions, asks the
// Strategy for the next batch, fires triggers, executes the batch with retries and
// applies each item's ErrorBehavior when attempts are exhausted. Cancellation comes in
// three flavours, all carried by context: cancelling the run reverts running entities
// to created, SkipCurrentRunningItems marks running items skipped, and
// Container.Interrupt stops a container without advancing its loop.
//
// Example usage:
//
//	root := sequencer.NewRootContainer(sequencer.Metadata{Name: "Night"})
//	_ = root.Add(myItem)
//
//	runner := sequencer.NewRunner(sequencer.WithLogger(logger))
//	if err := root.Run(ctx, runner, sequencer.NopSink{}); err != nil {
//		log.Error().Err(err).Msg("sequence failed")
//	}
package sequencer
