package sequencer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RunningEntry describes an item registered as running in a root container.
type RunningEntry struct {
	Item  Item
	Since time.Time

	cancel context.CancelCauseFunc
}

// RootContainer is the top-level container. It tracks the items currently running
// anywhere in the tree and exposes interrupt and skip-all to the outside world.
type RootContainer struct {
	*Container

	end *Container

	runningMu sync.Mutex
	running   map[Item]*RunningEntry

	failureMu sync.RWMutex
	failure   string

	endMu sync.Mutex
	// pending is set when a run was cancelled inside the end area. The next run
	// resumes the end area instead of replaying the body.
	pending *pendingEnd
}

type pendingEnd struct {
	bodyErr    error
	bodyFailed bool
}

// NewRootContainer creates an empty root with an empty end area.
func NewRootContainer(meta Metadata) *RootContainer {
	return newRoot(NewContainer(meta, Sequential{}), NewContainer(Metadata{Name: "End of sequence"}, Sequential{}))
}

func newRoot(body, end *Container) *RootContainer {
	r := &RootContainer{
		Container: body,
		end:       end,
		running:   make(map[Item]*RunningEntry),
	}
	body.mu.Lock()
	body.root = r
	body.mu.Unlock()
	end.AttachNewParent(body)
	return r
}

// EndArea returns the container that runs after the body, even when the body failed.
func (r *RootContainer) EndArea() *Container {
	return r.end
}

// Clone implements Item.
func (r *RootContainer) Clone() Item {
	return r.CloneRoot()
}

// CloneRoot returns a deep copy of the root, its body and its end area.
func (r *RootContainer) CloneRoot() *RootContainer {
	return newRoot(r.Container.CloneContainer(), r.end.CloneContainer())
}

// ResetProgress resets the body and the end area.
func (r *RootContainer) ResetProgress() {
	r.setPendingEnd(nil)
	r.Container.ResetProgress()
	resetStatus(r.end)
	r.end.ResetProgress()
}

// Run executes the plan with the given runner. A root that already reached a terminal
// status is reset first; a root reverted by cancellation resumes where it stopped.
func (r *RootContainer) Run(ctx context.Context, runner *Runner, progress ProgressSink) error {
	if runner == nil {
		runner = runnerFrom(ctx)
	}
	return runner.RunRoot(ctx, r, progress)
}

// AddRunningItem registers an item with the function that cancels it.
func (r *RootContainer) AddRunningItem(item Item, cancel context.CancelCauseFunc) {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	r.running[item] = &RunningEntry{Item: item, Since: time.Now(), cancel: cancel}
}

// RemoveRunningItem unregisters an item.
func (r *RootContainer) RemoveRunningItem(item Item) {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	delete(r.running, item)
}

// RunningItems returns the registered items ordered by start time.
func (r *RootContainer) RunningItems() []RunningEntry {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	out := make([]RunningEntry, 0, len(r.running))
	for _, e := range r.running {
		out = append(out, RunningEntry{Item: e.Item, Since: e.Since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// SkipCurrentRunningItems cancels every registered item with ErrSkipped. The runner
// marks each of them skipped and moves on. It returns how many items were signalled.
func (r *RootContainer) SkipCurrentRunningItems() int {
	r.runningMu.Lock()
	entries := make([]*RunningEntry, 0, len(r.running))
	for _, e := range r.running {
		entries = append(entries, e)
	}
	r.runningMu.Unlock()

	for _, e := range entries {
		if e.cancel != nil {
			e.cancel(ErrSkipped)
		}
	}
	return len(entries)
}

// FailureMessage returns the deepest failure recorded during the last run.
func (r *RootContainer) FailureMessage() string {
	r.failureMu.RLock()
	defer r.failureMu.RUnlock()
	return r.failure
}

func (r *RootContainer) recordFailure(item Item, err error) {
	r.failureMu.Lock()
	r.failure = fmt.Sprintf("%s: %v", item.Name(), RootCause(err))
	r.failureMu.Unlock()
}

func (r *RootContainer) clearFailure() {
	r.failureMu.Lock()
	r.failure = ""
	r.failureMu.Unlock()
}

func (r *RootContainer) setPendingEnd(p *pendingEnd) {
	r.endMu.Lock()
	r.pending = p
	r.endMu.Unlock()
}

func (r *RootContainer) takePendingEnd() *pendingEnd {
	r.endMu.Lock()
	defer r.endMu.Unlock()
	p := r.pending
	r.pending = nil
	return p
}
