package sequencer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// Metrics receives runner measurements. telemetry.Metrics implements it.
type Metrics interface {
	InstructionCompleted(kind string, status Status, duration time.Duration)
	InstructionRetried(kind string)
	TriggerFired(kind string, status Status)
	ContainerInterrupted(name string)
	SetRunningInstructions(n int)
}

type nopMetrics struct{}

func (nopMetrics) InstructionCompleted(string, Status, time.Duration) {}
func (nopMetrics) InstructionRetried(string)                          {}
func (nopMetrics) TriggerFired(string, Status)                        {}
func (nopMetrics) ContainerInterrupted(string)                        {}
func (nopMetrics) SetRunningInstructions(int)                         {}

// Runner drives containers: it checks conditions, asks the strategy for the next
// items, fires triggers around them, runs them with retries and settles statuses.
type Runner struct {
	logger     zerolog.Logger
	metrics    Metrics
	tracer     trace.Tracer
	newBackOff func() backoff.BackOff
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) RunnerOption {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithTracer sets the tracer used for container and instruction spans.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithRetryDelay waits between attempts with exponential backoff starting at initial
// and capped at max. A zero initial delay retries immediately.
func WithRetryDelay(initial, max time.Duration) RunnerOption {
	return func(r *Runner) {
		if initial <= 0 {
			r.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
			return
		}
		r.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			if max > 0 {
				b.MaxInterval = max
			}
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		}
	}
}

// NewRunner creates a runner. Without options it logs nothing, records nothing and
// retries immediately.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		logger:     zerolog.Nop(),
		metrics:    nopMetrics{},
		tracer:     noop.NewTracerProvider().Tracer("skyrun/sequencer"),
		newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "sequencer").Logger()
	return r
}

type ctxKey int

const (
	runnerKey ctxKey = iota
	triggerScopeKey
)

func runnerFrom(ctx context.Context) *Runner {
	if r, ok := ctx.Value(runnerKey).(*Runner); ok {
		return r
	}
	return NewRunner()
}

func (r *Runner) bind(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, runnerKey, r)
	return r.logger.WithContext(ctx)
}

func inTriggerScope(ctx context.Context) bool {
	v, _ := ctx.Value(triggerScopeKey).(bool)
	return v
}

// Run drives a single container to completion. A container in a terminal status is
// reset first. Cancelling ctx reverts running entities to created and returns the
// cancellation error.
func (r *Runner) Run(ctx context.Context, c *Container, progress ProgressSink) error {
	if progress == nil {
		progress = NopSink{}
	}
	if c.Status().IsTerminal() {
		resetStatus(c)
		c.ResetProgress()
	}
	return r.runContainer(r.bind(ctx), c, progress)
}

// RunRoot runs the root body and then its end area. The end area is skipped when the
// run is cancelled or the root is interrupted during the body. The root reaches its
// terminal status only once the end area has settled: cancelling inside the end area
// reverts the root to created, and the next run resumes the end area.
func (r *Runner) RunRoot(ctx context.Context, root *RootContainer, progress ProgressSink) error {
	if progress == nil {
		progress = NopSink{}
	}
	ctx = r.bind(ctx)
	logger := r.logger.With().Str("root", root.Name()).Logger()

	var (
		err    error
		failed bool
	)
	if p := root.takePendingEnd(); p != nil && root.Status() == StatusCreated {
		logger.Info().Msg("Resuming end of sequence instructions")
		if terr := r.transition(root.Container, eventStart); terr != nil {
			return terr
		}
		err, failed = p.bodyErr, p.bodyFailed
	} else {
		if root.Status().IsTerminal() {
			resetStatus(root)
			root.ResetProgress()
		}
		root.clearFailure()
		logger.Info().Msg("Sequence started")

		err = r.runContainer(ctx, root.Container, progress)
		if ctx.Err() != nil {
			logger.Info().Msg("Sequence canceled")
			return err
		}
		if errors.Is(err, ErrInterrupted) {
			logger.Info().Msg("Sequence interrupted")
			return err
		}
		if IsSkipToSequenceEnd(err) {
			logger.Warn().Msg("Skipping to end of sequence instructions")
		}
		failed = root.Status() == StatusFailed
	}

	end := root.EndArea()
	if len(end.Items()) > 0 && end.Status() != StatusDisabled {
		if end.Status().IsTerminal() {
			resetStatus(end)
			end.ResetProgress()
		}
		endErr := r.runContainer(ctx, end, progress)
		if ctx.Err() != nil {
			root.setPendingEnd(&pendingEnd{bodyErr: err, bodyFailed: failed})
			r.transition(root.Container, eventReset)
			logger.Info().Msg("Sequence canceled during end of sequence instructions")
			return context.Cause(ctx)
		}
		if endErr != nil && !errors.Is(endErr, ErrInterrupted) {
			failed = true
			if err == nil {
				err = endErr
			}
		}
	}
	r.settleRoot(root, failed)

	if err != nil {
		logger.Error().Err(err).Str("failure", root.FailureMessage()).Msg("Sequence failed")
		return err
	}
	logger.Info().Msg("Sequence finished")
	return nil
}

// settleRoot moves the root to its final status once the end area is done. A body
// that finished is failed by a failing end area.
func (r *Runner) settleRoot(root *RootContainer, failed bool) {
	switch root.Status() {
	case StatusRunning:
		if failed {
			r.transition(root.Container, eventFail)
		} else {
			r.transition(root.Container, eventFinish)
		}
	case StatusFinished:
		if failed {
			r.transition(root.Container, eventReset)
			r.transition(root.Container, eventFail)
		}
	}
}

// runContainer runs one container through the loop and settles its status.
func (r *Runner) runContainer(ctx context.Context, c *Container, progress ProgressSink) (err error) {
	if c.Status() == StatusDisabled {
		return nil
	}
	logger := r.logger.With().Str("container", c.Name()).Str("container_id", c.ID()).Logger()

	ctx, span := r.tracer.Start(ctx, "sequencer.container", trace.WithAttributes(
		attribute.String("entity.name", c.Name()),
		attribute.String("entity.type", TypeOf(c)),
		attribute.String("strategy", c.Strategy().Name()),
	))
	defer func() { endSpan(span, c.Status(), err) }()

	for _, it := range c.Items() {
		if it.Status() == StatusRunning {
			r.transition(it, eventReset)
		}
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	c.setRunCancel(cancel)
	defer c.setRunCancel(nil)

	if err := r.transition(c, eventStart); err != nil {
		return err
	}
	Report(progress, c, "started", 0, len(c.Items()))
	logger.Debug().Int("items", len(c.Items())).Msg("Instruction set started")

	if issues := r.invalidConditions(c); len(issues) > 0 {
		verr := NewValidationError("conditions are not valid", issues).WithEntity(c.Name())
		logger.Error().Strs("issues", issues).Msg("Instruction set cannot run")
		r.skipUnsettled(c)
		r.transition(c, eventFail)
		Report(progress, c, verr.Error(), 0, 0)
		return NewFailedError(fmt.Sprintf("instruction set %q failed", c.Name()), verr).WithEntity(c.Name())
	}

	r.initializeConditions(runCtx, c)
	loopErr := r.loop(runCtx, c, progress)
	r.teardownConditions(c)

	return r.settle(ctx, runCtx, c, loopErr, progress, logger)
}

// loop implements the per-container algorithm: select, check conditions, fire
// before-triggers, run, fire after-triggers, repeat.
func (r *Runner) loop(ctx context.Context, c *Container, progress ProgressSink) error {
	var previous Item
	ranInPass := false

	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		items := c.Items()
		if !hasRunnable(items) {
			return nil
		}

		batch := c.Strategy().Next(items)
		if len(batch) == 0 {
			notifyIterationFinished(c)
			if !loops(c) || !r.checkConditions(c, previous, nil) {
				return nil
			}
			if !ranInPass {
				r.logger.Warn().Str("container", c.Name()).Msg("No instruction ran in the last pass, leaving loop")
				return nil
			}
			r.resetChildren(c)
			ranInPass = false
			continue
		}

		if !r.checkConditions(c, previous, batch[0]) {
			return nil
		}

		if err := r.runTriggers(ctx, c, previous, firstLeaf(batch), false, progress); err != nil {
			return err
		}

		if err := r.runBatch(ctx, batch, progress); err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return err
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		for _, it := range batch {
			if s := it.Status(); s == StatusFinished || s == StatusFailed {
				ranInPass = true
			}
		}

		last := lastLeaf(batch)
		previous = batch[len(batch)-1]
		if last != nil {
			var next Item
			if upcoming := c.Strategy().Next(c.Items()); len(upcoming) > 0 {
				next = upcoming[0]
			}
			if err := r.runTriggers(ctx, c, last, next, true, progress); err != nil {
				return err
			}
		}
	}
}

// runBatch runs one strategy batch. An interrupted child container does not stop its
// siblings; it stays created and is selected again.
func (r *Runner) runBatch(ctx context.Context, batch []Item, progress ProgressSink) error {
	if len(batch) == 1 {
		if err := r.runChild(ctx, batch[0], progress); err != nil && !errors.Is(err, ErrInterrupted) {
			return err
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, it := range batch {
		g.Go(func() error {
			if err := r.runChild(gctx, it, progress); err != nil && !errors.Is(err, ErrInterrupted) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// runChild runs a nested container or a leaf and applies its error behavior.
func (r *Runner) runChild(ctx context.Context, item Item, progress ProgressSink) error {
	child, ok := item.(*Container)
	if !ok {
		return r.runLeaf(ctx, item, progress)
	}

	err := r.runContainer(ctx, child, progress)
	if err == nil || ctx.Err() != nil || errors.Is(err, ErrInterrupted) {
		return err
	}
	if IsAborted(err) || IsSkipToSequenceEnd(err) {
		return err
	}
	return r.applyErrorBehavior(child, err)
}

// runLeaf validates, registers and executes a leaf item with retries.
func (r *Runner) runLeaf(ctx context.Context, item Item, progress ProgressSink) (err error) {
	kind := TypeOf(item)
	attempts := max(item.Attempts(), 1)
	logger := r.logger.With().
		Str("entity", item.Name()).
		Str("entity_id", item.ID()).
		Str("type", kind).
		Logger()

	if v, ok := item.(Validatable); ok {
		if issues := v.Validate(); len(issues) > 0 {
			r.transition(item, eventSkip)
			Report(progress, item, strings.Join(issues, "; "), 0, 0)
			logger.Warn().Strs("issues", issues).Msg("Instruction skipped, validation failed")
			r.metrics.InstructionCompleted(kind, StatusSkipped, 0)
			return nil
		}
	}

	ctx, span := r.tracer.Start(ctx, "sequencer.instruction", trace.WithAttributes(
		attribute.String("entity.name", item.Name()),
		attribute.String("entity.type", kind),
		attribute.Int("attempts", attempts),
	))
	defer func() { endSpan(span, item.Status(), err) }()

	itemCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	itemCtx = logger.WithContext(itemCtx)

	if err := r.transition(item, eventStart); err != nil {
		return err
	}

	root := RootOf(item)
	if root != nil {
		root.AddRunningItem(item, cancel)
		r.metrics.SetRunningInstructions(len(root.RunningItems()))
		defer func() {
			root.RemoveRunningItem(item)
			r.metrics.SetRunningInstructions(len(root.RunningItems()))
		}()
	}

	Report(progress, item, "started", 0, 0)
	logger.Info().Msg("Instruction started")

	start := time.Now()
	attempt := 0
	operation := func() error {
		attempt++
		execErr := r.execute(itemCtx, item, progress)
		if execErr == nil {
			return nil
		}
		if itemCtx.Err() != nil || IsPermanent(execErr) {
			return backoff.Permanent(execErr)
		}
		return execErr
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("attempts", attempts).
			Dur("retry_in", wait).
			Msg("Instruction failed, retrying")
		r.metrics.InstructionRetried(kind)
		Report(progress, item, fmt.Sprintf("attempt %d failed: %v", attempt, err), attempt, attempts)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(attempts-1)), itemCtx)
	runErr := backoff.RetryNotify(operation, policy, notify)
	duration := time.Since(start)

	switch {
	case runErr == nil:
		r.transition(item, eventFinish)
		Report(progress, item, "finished", attempt, attempts)
		logger.Info().Dur("duration", duration).Int("attempt", attempt).Msg("Instruction finished")
		r.metrics.InstructionCompleted(kind, StatusFinished, duration)
		return nil

	case ctx.Err() != nil:
		r.transition(item, eventReset)
		Report(progress, item, "canceled", 0, 0)
		logger.Info().Dur("duration", duration).Msg("Instruction canceled")
		return context.Cause(ctx)

	case errors.Is(context.Cause(itemCtx), ErrSkipped):
		r.transition(item, eventSkip)
		Report(progress, item, "skipped on request", 0, 0)
		logger.Info().Msg("Instruction skipped on request")
		r.metrics.InstructionCompleted(kind, StatusSkipped, duration)
		return nil

	case IsValidation(runErr):
		r.transition(item, eventSkip)
		Report(progress, item, runErr.Error(), 0, 0)
		logger.Warn().Err(runErr).Msg("Instruction skipped, precondition not met")
		r.metrics.InstructionCompleted(kind, StatusSkipped, duration)
		return nil

	default:
		r.transition(item, eventFail)
		Report(progress, item, runErr.Error(), attempt, attempts)
		logger.Error().Err(runErr).
			Int("attempts", attempt).
			Str("error_behavior", string(item.ErrorBehavior())).
			Msg("Instruction failed")
		r.metrics.InstructionCompleted(kind, StatusFailed, duration)
		if root != nil {
			root.recordFailure(item, runErr)
		}
		return r.applyErrorBehavior(item, runErr)
	}
}

// execute calls Item.Execute and turns a panic into an unhandled error.
func (r *Runner) execute(ctx context.Context, item Item, progress ProgressSink) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("entity", item.Name()).
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("Unhandled error in instruction")
			err = NewUnhandledError(fmt.Sprintf("instruction %q panicked", item.Name()), fmt.Errorf("%v", rec)).
				WithEntity(item.Name())
		}
	}()
	return item.Execute(ctx, progress)
}

// applyErrorBehavior decides what a failed item means for its container.
func (r *Runner) applyErrorBehavior(item Item, err error) error {
	failure := NewFailedError(fmt.Sprintf("%q failed", item.Name()), err).WithEntity(item.Name())
	switch item.ErrorBehavior() {
	case AbortOnError:
		return failure.WithCode(ErrCodeAborted)
	case SkipInstructionSetOnError:
		return failure.WithCode(ErrCodeSkipInstructionSet)
	case SkipToSequenceEndOnError:
		return failure.WithCode(ErrCodeSkipToSequenceEnd)
	default:
		return nil
	}
}

// settle moves a container to its final status for this run.
func (r *Runner) settle(parentCtx, runCtx context.Context, c *Container, loopErr error, progress ProgressSink, logger zerolog.Logger) error {
	switch {
	case loopErr == nil:
		r.skipUnsettled(c)
		r.transition(c, eventFinish)
		Report(progress, c, "finished", 0, 0)
		logger.Debug().Msg("Instruction set finished")
		return nil

	case parentCtx.Err() != nil:
		r.transition(c, eventReset)
		Report(progress, c, "canceled", 0, 0)
		logger.Debug().Msg("Instruction set canceled")
		return context.Cause(parentCtx)

	case errors.Is(context.Cause(runCtx), ErrInterrupted):
		r.transition(c, eventReset)
		r.metrics.ContainerInterrupted(c.Name())
		Report(progress, c, "interrupted", 0, 0)
		logger.Info().Msg("Instruction set interrupted")
		return ErrInterrupted

	default:
		r.skipUnsettled(c)
		r.transition(c, eventFail)
		Report(progress, c, loopErr.Error(), 0, 0)
		logger.Warn().Err(loopErr).Msg("Instruction set failed")
		if IsAborted(loopErr) || IsSkipToSequenceEnd(loopErr) {
			return loopErr
		}
		return NewFailedError(fmt.Sprintf("instruction set %q failed", c.Name()), loopErr).WithEntity(c.Name())
	}
}

// runTriggers fires the triggers of c and of every ancestor, nearest first. Steps run
// by a trigger never fire triggers themselves.
func (r *Runner) runTriggers(ctx context.Context, c *Container, previous, next Item, after bool, progress ProgressSink) error {
	if inTriggerScope(ctx) {
		return nil
	}
	guarded := next
	if after {
		guarded = previous
	}
	if guarded == nil {
		return nil
	}

	for owner := c; owner != nil; owner = owner.Parent() {
		for _, t := range owner.Triggers() {
			if t.Status() == StatusDisabled {
				continue
			}
			var should bool
			if after {
				should = t.ShouldTriggerAfter(previous, next)
			} else {
				should = t.ShouldTrigger(previous, next)
			}
			if !should {
				continue
			}

			err := r.runTrigger(ctx, t, progress)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			r.logger.Warn().Err(err).
				Str("trigger", t.Name()).
				Str("container", owner.Name()).
				Msg("Trigger failed")
			if owner.TriggerFailureFatal() {
				return NewFailedError(fmt.Sprintf("trigger %q failed", t.Name()), err).
					WithEntity(t.Name()).
					WithCode(ErrCodeTriggerFailed)
			}
		}
	}
	return nil
}

// runTrigger validates the trigger and runs its sub-plan.
func (r *Runner) runTrigger(ctx context.Context, t Trigger, progress ProgressSink) error {
	kind := TypeOf(t)
	logger := r.logger.With().Str("trigger", t.Name()).Str("type", kind).Logger()

	resetStatus(t)
	if v, ok := t.(Validatable); ok {
		if issues := v.Validate(); len(issues) > 0 {
			r.transition(t, eventFail)
			r.metrics.TriggerFired(kind, StatusFailed)
			logger.Warn().Strs("issues", issues).Msg("Trigger is not valid")
			return NewValidationError(fmt.Sprintf("trigger %q is not valid", t.Name()), issues).WithEntity(t.Name())
		}
	}

	if err := r.transition(t, eventStart); err != nil {
		return err
	}
	logger.Info().Msg("Trigger fired")

	runner := t.TriggerRunner()
	resetStatus(runner)
	runner.ResetProgress()

	err := r.runContainer(context.WithValue(ctx, triggerScopeKey, true), runner, progress)
	switch {
	case ctx.Err() != nil:
		r.transition(t, eventReset)
		return context.Cause(ctx)
	case errors.Is(err, ErrInterrupted):
		r.transition(t, eventReset)
		logger.Info().Msg("Trigger interrupted")
		return nil
	case err != nil || hasFailures(runner):
		if err == nil {
			err = errors.New("a step of the trigger failed")
		}
		r.transition(t, eventFail)
		r.metrics.TriggerFired(kind, StatusFailed)
		return NewFailedError(fmt.Sprintf("trigger %q failed", t.Name()), err).WithEntity(t.Name())
	default:
		r.transition(t, eventFinish)
		r.metrics.TriggerFired(kind, StatusFinished)
		logger.Debug().Msg("Trigger finished")
		return nil
	}
}

func (r *Runner) checkConditions(c *Container, previous, next Item) (ok bool) {
	for _, cond := range c.Conditions() {
		if cond.Status() == StatusDisabled {
			continue
		}
		if !r.check(cond, previous, next) {
			r.logger.Debug().
				Str("container", c.Name()).
				Str("condition", cond.Name()).
				Msg("Condition no longer holds")
			return false
		}
	}
	return true
}

func (r *Runner) check(cond Condition, previous, next Item) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("condition", cond.Name()).Interface("panic", rec).Msg("Unhandled error in condition")
			ok = false
		}
	}()
	return cond.Check(previous, next)
}

func (r *Runner) invalidConditions(c *Container) []string {
	var issues []string
	for _, cond := range c.Conditions() {
		if cond.Status() == StatusDisabled {
			continue
		}
		v, ok := cond.(Validatable)
		if !ok {
			continue
		}
		for _, issue := range v.Validate() {
			issues = append(issues, fmt.Sprintf("%s: %s", cond.Name(), issue))
		}
	}
	return issues
}

func (r *Runner) initializeConditions(ctx context.Context, c *Container) {
	for _, cond := range c.Conditions() {
		if cond.Status() == StatusDisabled {
			continue
		}
		if lc, ok := cond.(BlockLifecycle); ok {
			lc.SequenceBlockInitialize(ctx)
		}
	}
}

func (r *Runner) teardownConditions(c *Container) {
	for _, cond := range c.Conditions() {
		if lc, ok := cond.(BlockLifecycle); ok {
			lc.SequenceBlockTeardown()
		}
	}
}

// resetChildren prepares the next pass of a looping container.
func (r *Runner) resetChildren(c *Container) {
	for _, it := range c.Items() {
		if it.Status() == StatusDisabled {
			continue
		}
		resetStatus(it)
		it.ResetProgress()
	}
}

// skipUnsettled marks every child that did not run as skipped, recursively, so a
// container never settles before its children.
func (r *Runner) skipUnsettled(c *Container) {
	for _, it := range c.Items() {
		if it.Status().IsSettled() {
			continue
		}
		if child, ok := it.(*Container); ok {
			r.skipUnsettled(child)
		}
		r.transition(it, eventSkip)
	}
}

func (r *Runner) transition(e Entity, event string) error {
	if err := fire(e, event); err != nil {
		r.logger.Warn().Err(err).Str("entity", e.Name()).Msg("Illegal status transition")
		return err
	}
	return nil
}

func hasRunnable(items []Item) bool {
	for _, it := range items {
		if it.Status() != StatusDisabled {
			return true
		}
	}
	return false
}

func loops(c *Container) bool {
	for _, cond := range c.Conditions() {
		if cond.Status() == StatusDisabled {
			continue
		}
		if l, ok := cond.(Looping); ok && l.Loops() {
			return true
		}
	}
	return false
}

func notifyIterationFinished(c *Container) {
	for _, cond := range c.Conditions() {
		if cond.Status() == StatusDisabled {
			continue
		}
		if o, ok := cond.(IterationObserver); ok {
			o.IterationFinished()
		}
	}
}

func hasFailures(c *Container) bool {
	for _, it := range c.Items() {
		if it.Status() == StatusFailed {
			return true
		}
		if child, ok := it.(*Container); ok && hasFailures(child) {
			return true
		}
	}
	return false
}

func firstLeaf(batch []Item) Item {
	for _, it := range batch {
		if _, ok := it.(*Container); !ok {
			return it
		}
	}
	return nil
}

func lastLeaf(batch []Item) Item {
	for i := len(batch) - 1; i >= 0; i-- {
		if _, ok := batch[i].(*Container); !ok {
			return batch[i]
		}
	}
	return nil
}

func endSpan(span trace.Span, status Status, err error) {
	span.SetAttributes(attribute.String("entity.status", string(status)))
	if err != nil && !IsCanceled(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
