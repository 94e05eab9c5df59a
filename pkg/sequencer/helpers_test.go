package sequencer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// recorder collects execution order across items and triggers.
type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

type testItem struct {
	*ItemBase

	runs   atomic.Int32
	fn     func(ctx context.Context, attempt int) error
	issues []string
	rec    *recorder
}

func newTestItem(name string, rec *recorder, fn func(ctx context.Context, attempt int) error) *testItem {
	return &testItem{ItemBase: NewItemBase(Metadata{Name: name}), fn: fn, rec: rec}
}

func (t *testItem) TypeID() string { return "test.item" }

func (t *testItem) Execute(ctx context.Context, _ ProgressSink) error {
	n := int(t.runs.Add(1))
	if t.rec != nil {
		t.rec.add(t.Name())
	}
	if t.fn == nil {
		return nil
	}
	return t.fn(ctx, n)
}

func (t *testItem) Validate() []string { return t.issues }

func (t *testItem) Clone() Item {
	return &testItem{
		ItemBase: t.CloneItemBase(),
		fn:       t.fn,
		issues:   CloneValue(t.issues),
		rec:      t.rec,
	}
}

func (t *testItem) count() int { return int(t.runs.Load()) }

// blockUntilDone returns an item body that signals started and waits for cancellation.
func blockUntilDone(started chan<- struct{}) func(ctx context.Context, attempt int) error {
	return func(ctx context.Context, _ int) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

func failWith(err error) func(context.Context, int) error {
	return func(context.Context, int) error { return err }
}

// iterationCondition loops its container until max passes have completed.
type iterationCondition struct {
	*ConditionBase
	max  int
	done atomic.Int32
}

func newIterationCondition(max int) *iterationCondition {
	return &iterationCondition{ConditionBase: NewConditionBase(Metadata{Name: "iterations"}), max: max}
}

func (c *iterationCondition) Check(_, _ Item) bool { return int(c.done.Load()) < c.max }
func (c *iterationCondition) Loops() bool          { return true }
func (c *iterationCondition) IterationFinished()   { c.done.Add(1) }
func (c *iterationCondition) ResetProgress()       { c.done.Store(0) }

func (c *iterationCondition) Clone() Condition {
	return &iterationCondition{ConditionBase: c.CloneConditionBase(), max: c.max}
}

// funcCondition is a non-looping predicate.
type funcCondition struct {
	*ConditionBase
	check  func(previous, next Item) bool
	issues []string
	calls  atomic.Int32
}

func newFuncCondition(name string, check func(previous, next Item) bool) *funcCondition {
	return &funcCondition{ConditionBase: NewConditionBase(Metadata{Name: name}), check: check}
}

func (c *funcCondition) Check(previous, next Item) bool {
	c.calls.Add(1)
	return c.check(previous, next)
}

func (c *funcCondition) Validate() []string { return c.issues }

func (c *funcCondition) Clone() Condition {
	return &funcCondition{ConditionBase: c.CloneConditionBase(), check: c.check}
}

// flagWatchdog holds while ok is true, both on Check and from its watchdog.
type flagWatchdog struct {
	*WatchdogConditionBase
	ok *atomic.Bool
}

func newFlagWatchdog(ok *atomic.Bool, interval time.Duration) *flagWatchdog {
	return &flagWatchdog{
		WatchdogConditionBase: NewWatchdogConditionBase(Metadata{Name: "watch"}, interval, flagCheck(ok)),
		ok:                    ok,
	}
}

func flagCheck(ok *atomic.Bool) WatchdogCheck {
	return func(context.Context) (bool, error) { return ok.Load(), nil }
}

func (w *flagWatchdog) Check(_, _ Item) bool { return w.ok.Load() }

func (w *flagWatchdog) Clone() Condition {
	return &flagWatchdog{WatchdogConditionBase: w.CloneWatchdogConditionBase(flagCheck(w.ok)), ok: w.ok}
}

// testTrigger fires before and/or after every leaf.
type testTrigger struct {
	*TriggerBase
	before bool
	after  bool
	kind   string
}

func newTestTrigger(name string, before, after bool, steps ...Item) *testTrigger {
	t := &testTrigger{TriggerBase: NewTriggerBase(Metadata{Name: name}), before: before, after: after, kind: "test.trigger"}
	for _, s := range steps {
		_ = t.TriggerRunner().Add(s)
	}
	return t
}

func (t *testTrigger) TypeID() string                       { return t.kind }
func (t *testTrigger) ShouldTrigger(_, next Item) bool      { return t.before && next != nil }
func (t *testTrigger) ShouldTriggerAfter(prev, _ Item) bool { return t.after && prev != nil }

func (t *testTrigger) Clone() Trigger {
	return &testTrigger{TriggerBase: t.CloneTriggerBase(), before: t.before, after: t.after, kind: t.kind}
}

func waitStarted(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}
