// Package items holds the built-in instructions. Every instruction talks to equipment
// only through the mediators it was created with and reports a disconnected device as
// a precondition failure.
package items

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/skyrun/pkg/equipment"
	"github.com/openfroyo/skyrun/pkg/sequencer"
	"github.com/openfroyo/skyrun/pkg/sequencer/props"
)

// Instruction type identifiers.
const (
	TypeWaitForTimeSpan = "wait_for_time_span"
	TypeWaitUntil       = "wait_until"
	TypeAnnotation      = "annotation"
	TypeTakeExposure    = "take_exposure"
	TypeSlewToTarget    = "slew_to_target"
	TypeSwitchFilter    = "switch_filter"
	TypeMoveFocuser     = "move_focuser"
	TypeOpenDome        = "open_dome"
	TypeCloseDome       = "close_dome"
	TypeParkTelescope   = "park_telescope"
	TypeStartGuiding    = "start_guiding"
	TypeStopGuiding     = "stop_guiding"
	TypeDither          = "dither"
	TypeToggleFlatLight = "toggle_flat_light"
	TypeFailInstruction = "fail_instruction"
)

const categoryUtility = "Utility"

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// WaitForTimeSpanProps configures WaitForTimeSpan.
type WaitForTimeSpanProps struct {
	Seconds float64 `json:"seconds" validate:"gte=0"`
}

// WaitForTimeSpan pauses the plan for a fixed duration.
type WaitForTimeSpan struct {
	*sequencer.ItemBase
	props props.Value[WaitForTimeSpanProps]
}

// NewWaitForTimeSpan creates the instruction.
func NewWaitForTimeSpan(meta sequencer.Metadata, p WaitForTimeSpanProps) *WaitForTimeSpan {
	if meta.Category == "" {
		meta.Category = categoryUtility
	}
	w := &WaitForTimeSpan{ItemBase: sequencer.NewItemBase(meta)}
	w.props.Set(p)
	return w
}

func (w *WaitForTimeSpan) TypeID() string  { return TypeWaitForTimeSpan }
func (w *WaitForTimeSpan) Properties() any { return w.props.Ptr() }

// EstimatedDuration is the configured wait.
func (w *WaitForTimeSpan) EstimatedDuration() time.Duration { return seconds(w.props.Get().Seconds) }

// Validate implements sequencer.Validatable.
func (w *WaitForTimeSpan) Validate() []string { return props.Validate(w.props.Get()) }

// Execute implements sequencer.Item.
func (w *WaitForTimeSpan) Execute(ctx context.Context, progress sequencer.ProgressSink) error {
	d := seconds(w.props.Get().Seconds)
	sequencer.Report(progress, w, fmt.Sprintf("waiting %s", d), 0, 0)
	return sleep(ctx, d)
}

// Clone implements sequencer.Item.
func (w *WaitForTimeSpan) Clone() sequencer.Item {
	c := &WaitForTimeSpan{ItemBase: w.CloneItemBase()}
	c.props.Set(w.props.Clone())
	return c
}

// WaitUntilProps configures WaitUntil. At is RFC3339 or a wall clock time "15:04"
// meaning its next occurrence.
type WaitUntilProps struct {
	At string `json:"at" validate:"required"`
}

// WaitUntil pauses the plan until a point in time.
type WaitUntil struct {
	*sequencer.ItemBase
	props props.Value[WaitUntilProps]
	mediators *equipment.Mediators
}

// NewWaitUntil creates the instruction. The mediators provide the clock.
func NewWaitUntil(meta sequencer.Metadata, p WaitUntilProps, m *equipment.Mediators) *WaitUntil {
	if meta.Category == "" {
		meta.Category = categoryUtility
	}
	w := &WaitUntil{ItemBase: sequencer.NewItemBase(meta), mediators: m}
	w.props.Set(p)
	return w
}

func (w *WaitUntil) TypeID() string  { return TypeWaitUntil }
func (w *WaitUntil) Properties() any { return w.props.Ptr() }

// Validate implements sequencer.Validatable.
func (w *WaitUntil) Validate() []string {
	p := w.props.Get()
	if issues := props.Validate(p); len(issues) > 0 {
		return issues
	}
	if _, err := ResolveTime(p.At, w.mediators.Now()); err != nil {
		return []string{err.Error()}
	}
	return nil
}

// Execute implements sequencer.Item.
func (w *WaitUntil) Execute(ctx context.Context, progress sequencer.ProgressSink) error {
	now := w.mediators.Now()
	until, err := ResolveTime(w.props.Get().At, now)
	if err != nil {
		return sequencer.NewValidationError("invalid time", []string{err.Error()})
	}
	sequencer.Report(progress, w, fmt.Sprintf("waiting until %s", until.Format(time.RFC3339)), 0, 0)
	return sleep(ctx, until.Sub(now))
}

// Clone implements sequencer.Item.
func (w *WaitUntil) Clone() sequencer.Item {
	c := &WaitUntil{ItemBase: w.CloneItemBase(), mediators: w.mediators}
	c.props.Set(w.props.Clone())
	return c
}

// ResolveTime parses an RFC3339 timestamp or a "15:04" wall clock time. Wall clock times
// resolve to their next occurrence after now, in now's location.
func ResolveTime(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	clock, err := time.ParseInLocation("15:04", s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: expected RFC3339 or HH:MM", s)
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

// AnnotationProps configures Annotation.
type AnnotationProps struct {
	Text string `json:"text"`
}

// Annotation writes a note to the run log.
type Annotation struct {
	*sequencer.ItemBase
	props props.Value[AnnotationProps]
}

// NewAnnotation creates the instruction.
func NewAnnotation(meta sequencer.Metadata, p AnnotationProps) *Annotation {
	if meta.Category == "" {
		meta.Category = categoryUtility
	}
	a := &Annotation{ItemBase: sequencer.NewItemBase(meta)}
	a.props.Set(p)
	return a
}

func (a *Annotation) TypeID() string  { return TypeAnnotation }
func (a *Annotation) Properties() any { return a.props.Ptr() }

// Execute implements sequencer.Item.
func (a *Annotation) Execute(ctx context.Context, progress sequencer.ProgressSink) error {
	text := a.props.Get().Text
	zerolog.Ctx(ctx).Info().Str("annotation", text).Msg("Annotation")
	sequencer.Report(progress, a, text, 0, 0)
	return ctx.Err()
}

// Clone implements sequencer.Item.
func (a *Annotation) Clone() sequencer.Item {
	c := &Annotation{ItemBase: a.CloneItemBase()}
	c.props.Set(a.props.Clone())
	return c
}

// FailInstructionProps configures FailInstruction.
type FailInstructionProps struct {
	Message   string `json:"message"`
	Permanent bool   `json:"permanent,omitempty"`
}

// FailInstruction always fails. It exists to exercise error behaviors in plans.
type FailInstruction struct {
	*sequencer.ItemBase
	props props.Value[FailInstructionProps]
}

// NewFailInstruction creates the instruction.
func NewFailInstruction(meta sequencer.Metadata, p FailInstructionProps) *FailInstruction {
	if meta.Category == "" {
		meta.Category = categoryUtility
	}
	f := &FailInstruction{ItemBase: sequencer.NewItemBase(meta)}
	f.props.Set(p)
	return f
}

func (f *FailInstruction) TypeID() string  { return TypeFailInstruction }
func (f *FailInstruction) Properties() any { return f.props.Ptr() }

// Execute implements sequencer.Item.
func (f *FailInstruction) Execute(context.Context, sequencer.ProgressSink) error {
	p := f.props.Get()
	msg := p.Message
	if msg == "" {
		msg = "instruction failed on purpose"
	}
	err := errors.New(msg)
	if p.Permanent {
		return sequencer.Permanent(err)
	}
	return err
}

// Clone implements sequencer.Item.
func (f *FailInstruction) Clone() sequencer.Item {
	c := &FailInstruction{ItemBase: f.CloneItemBase()}
	c.props.Set(f.props.Clone())
	return c
}
