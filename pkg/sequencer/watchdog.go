package sequencer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultWatchdogInterval is used when a watchdog is created with a non-positive interval.
const DefaultWatchdogInterval = 5 * time.Second

// WatchdogCheck is polled by a Watchdog. Returning false means the guarded state no
// longer holds. Errors are logged and polling continues.
type WatchdogCheck func(ctx context.Context) (bool, error)

// Watchdog polls a check on a fixed interval, independent of the step loop, and fires
// once when the check fails.
type Watchdog struct {
	interval time.Duration
	check    WatchdogCheck

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatchdog creates a stopped watchdog.
func NewWatchdog(interval time.Duration, check WatchdogCheck) *Watchdog {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	return &Watchdog{interval: interval, check: check}
}

// Interval returns the polling interval.
func (w *Watchdog) Interval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interval
}

// SetInterval changes the polling interval. It applies from the next Start.
func (w *Watchdog) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultWatchdogInterval
	}
	w.mu.Lock()
	w.interval = d
	w.mu.Unlock()
}

// Running reports whether the polling loop is active.
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Start launches the polling loop bound to ctx. Starting a running watchdog is a no-op.
func (w *Watchdog) Start(ctx context.Context, onFail func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done

	go w.loop(ctx, w.interval, done, onFail)
}

func (w *Watchdog) loop(ctx context.Context, interval time.Duration, done chan struct{}, onFail func()) {
	defer close(done)
	logger := zerolog.Ctx(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := w.check(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn().Err(err).Msg("Watchdog check failed")
				continue
			}
			if !ok {
				logger.Info().Msg("Watchdog condition no longer holds, interrupting")
				onFail()
				return
			}
		}
	}
}

// Stop cancels the polling loop and waits for it to exit.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// WatchdogConditionBase is a ConditionBase that owns a Watchdog. The watchdog runs only
// while the owning container runs inside a root container, and stops when the condition
// is detached or moved.
type WatchdogConditionBase struct {
	*ConditionBase
	watchdog *Watchdog
}

// NewWatchdogConditionBase creates the base with a watchdog polling check.
func NewWatchdogConditionBase(meta Metadata, interval time.Duration, check WatchdogCheck) *WatchdogConditionBase {
	return &WatchdogConditionBase{
		ConditionBase: NewConditionBase(meta),
		watchdog:      NewWatchdog(interval, check),
	}
}

// CloneWatchdogConditionBase copies metadata and interval; check binds the new watchdog
// to the clone.
func (w *WatchdogConditionBase) CloneWatchdogConditionBase(check WatchdogCheck) *WatchdogConditionBase {
	return &WatchdogConditionBase{
		ConditionBase: w.CloneConditionBase(),
		watchdog:      NewWatchdog(w.watchdog.Interval(), check),
	}
}

// Watchdog returns the owned watchdog.
func (w *WatchdogConditionBase) Watchdog() *Watchdog {
	return w.watchdog
}

// SequenceBlockInitialize starts the watchdog when the condition sits under a root container.
func (w *WatchdogConditionBase) SequenceBlockInitialize(ctx context.Context) {
	if RootOf(w) == nil {
		return
	}
	w.watchdog.Start(ctx, w.interruptNearestRunning)
}

// SequenceBlockTeardown stops the watchdog.
func (w *WatchdogConditionBase) SequenceBlockTeardown() {
	w.watchdog.Stop()
}

// AttachNewParent stops the watchdog whenever the condition leaves its current parent.
func (w *WatchdogConditionBase) AttachNewParent(parent *Container) {
	if parent != w.Parent() {
		w.watchdog.Stop()
	}
	w.ConditionBase.AttachNewParent(parent)
}

func (w *WatchdogConditionBase) interruptNearestRunning() {
	for c := w.Parent(); c != nil; c = c.Parent() {
		if c.Status() == StatusRunning {
			c.Interrupt()
			return
		}
	}
}
