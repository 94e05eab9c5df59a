package sequencer

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// Status machine events. Only the runner and Disable/Enable fire them.
const (
	eventStart   = "start"
	eventFinish  = "finish"
	eventFail    = "fail"
	eventSkip    = "skip"
	eventReset   = "reset"
	eventDisable = "disable"
	eventEnable  = "enable"
)

var statusEvents = fsm.Events{
	{Name: eventStart, Src: []string{string(StatusCreated)}, Dst: string(StatusRunning)},
	{Name: eventFinish, Src: []string{string(StatusRunning)}, Dst: string(StatusFinished)},
	{Name: eventFail, Src: []string{string(StatusCreated), string(StatusRunning)}, Dst: string(StatusFailed)},
	{Name: eventSkip, Src: []string{string(StatusCreated), string(StatusRunning)}, Dst: string(StatusSkipped)},
	{
		Name: eventReset,
		Src:  []string{string(StatusRunning), string(StatusFinished), string(StatusFailed), string(StatusSkipped)},
		Dst:  string(StatusCreated),
	},
	{
		Name: eventDisable,
		Src:  []string{string(StatusCreated), string(StatusFinished), string(StatusFailed), string(StatusSkipped)},
		Dst:  string(StatusDisabled),
	},
	{Name: eventEnable, Src: []string{string(StatusDisabled)}, Dst: string(StatusCreated)},
}

// newStatusMachine builds the per-entity state machine. The entity is passed as the
// first event argument so enter_state can publish it to observers.
func newStatusMachine(b *Base) *fsm.FSM {
	return fsm.NewFSM(
		string(StatusCreated),
		statusEvents,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				var entity Entity
				if len(e.Args) > 0 {
					entity, _ = e.Args[0].(Entity)
				}
				b.emit(entity, Status(e.Src), Status(e.Dst))
			},
		},
	)
}

// fire moves an entity through its state machine. Transitions run on a background
// context: a cancelled entity must still be able to revert to created.
func fire(e Entity, event string) error {
	b := e.core()
	if err := b.machine.Event(context.Background(), event, e); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return nil
		}
		return fmt.Errorf("failed to %s %q in status %s: %w", event, e.Name(), e.Status(), err)
	}
	return nil
}

// Disable excludes an entity from execution. Running entities cannot be disabled.
func Disable(e Entity) error {
	if e.Status() == StatusRunning {
		return fmt.Errorf("cannot disable %q while it is running", e.Name())
	}
	if e.Status() == StatusDisabled {
		return nil
	}
	return fire(e, eventDisable)
}

// Enable brings a disabled entity back to created.
func Enable(e Entity) error {
	if e.Status() != StatusDisabled {
		return nil
	}
	return fire(e, eventEnable)
}
