package items

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/skyrun/pkg/equipment"
	"github.com/openfroyo/skyrun/pkg/sequencer"
	"github.com/openfroyo/skyrun/pkg/sequencer/props"
)

const categoryCamera = "Camera"

// TakeExposureProps configures TakeExposure.
type TakeExposureProps struct {
	ExposureTime float64             `json:"exposure_time" validate:"gt=0"`
	Count        int                 `json:"count" validate:"gte=1"`
	Gain         int                 `json:"gain,omitempty" validate:"gte=0"`
	Binning      int                 `json:"binning,omitempty" validate:"gte=0,lte=4"`
	ImageType    equipment.ImageType `json:"image_type,omitempty" validate:"omitempty,oneof=light dark flat bias"`
	Filter       string              `json:"filter,omitempty"`
}

// FilterUser is implemented by instructions that need a specific filter.
type FilterUser interface {
	RequiredFilter() string
}

// ExposureCounter is implemented by instructions that take frames. CompletedExposures
// counts frames since the last ResetProgress.
type ExposureCounter interface {
	CompletedExposures() int
}

// TakeExposure takes Count frames, switching the filter first when one is set.
type TakeExposure struct {
	*sequencer.ItemBase
	props props.Value[TakeExposureProps]
	mediators *equipment.Mediators
	completed atomic.Int32
}

// NewTakeExposure creates the instruction.
func NewTakeExposure(meta sequencer.Metadata, p TakeExposureProps, m *equipment.Mediators) *TakeExposure {
	if meta.Category == "" {
		meta.Category = categoryCamera
	}
	if p.Count == 0 {
		p.Count = 1
	}
	t := &TakeExposure{ItemBase: sequencer.NewItemBase(meta), mediators: m}
	t.props.Set(p)
	return t
}

func (t *TakeExposure) TypeID() string  { return TypeTakeExposure }
func (t *TakeExposure) Properties() any { return t.props.Ptr() }

// RequiredFilter implements FilterUser.
func (t *TakeExposure) RequiredFilter() string { return t.props.Get().Filter }

// CompletedExposures implements ExposureCounter.
func (t *TakeExposure) CompletedExposures() int { return int(t.completed.Load()) }

// EstimatedDuration covers every frame of the instruction.
func (t *TakeExposure) EstimatedDuration() time.Duration {
	p := t.props.Get()
	return seconds(p.ExposureTime) * time.Duration(max(p.Count, 1))
}

// ResetProgress clears the frame counter.
func (t *TakeExposure) ResetProgress() {
	t.completed.Store(0)
}

// Validate implements sequencer.Validatable.
func (t *TakeExposure) Validate() []string {
	p := t.props.Get()
	issues := props.Validate(p)
	issues = append(issues, t.mediators.Require(equipment.RoleCamera)...)
	if p.Filter != "" {
		issues = append(issues, requireFilter(t.mediators, p.Filter)...)
	}
	return issues
}

// Execute implements sequencer.Item. Frames already taken in an interrupted run count
// towards Count.
func (t *TakeExposure) Execute(ctx context.Context, progress sequencer.ProgressSink) error {
	p := t.props.Get()
	if len(t.mediators.Require(equipment.RoleCamera)) > 0 {
		return sequencer.Disconnected("camera")
	}
	if p.Filter != "" {
		if err := t.mediators.FilterWheel.ChangeFilter(ctx, p.Filter); err != nil {
			return fmt.Errorf("failed to switch to filter %s: %w", p.Filter, err)
		}
	}

	imageType := p.ImageType
	if imageType == "" {
		imageType = equipment.ImageLight
	}
	target := ""
	if tgt, ok := sequencer.NearestTarget(t); ok {
		target = tgt.Name
	}

	logger := zerolog.Ctx(ctx)
	for n := t.CompletedExposures(); n < p.Count; n = t.CompletedExposures() {
		frame, err := t.mediators.Camera.Expose(ctx, equipment.ExposureRequest{
			Duration:  seconds(p.ExposureTime),
			Gain:      p.Gain,
			Binning:   p.Binning,
			ImageType: imageType,
			Target:    target,
		})
		if err != nil {
			return fmt.Errorf("exposure %d/%d failed: %w", n+1, p.Count, err)
		}
		done := int(t.completed.Add(1))
		logger.Debug().
			Str("frame", frame.ID).
			Str("filter", frame.Filter).
			Int("exposure", done).
			Int("count", p.Count).
			Msg("Exposure saved")
		sequencer.Report(progress, t, fmt.Sprintf("exposure %d/%d", done, p.Count), done, p.Count)
	}
	return nil
}

// Clone implements sequencer.Item.
func (t *TakeExposure) Clone() sequencer.Item {
	c := &TakeExposure{ItemBase: t.CloneItemBase(), mediators: t.mediators}
	c.props.Set(t.props.Clone())
	return c
}

func requireFilter(m *equipment.Mediators, filter string) []string {
	if issues := m.Require(equipment.RoleFilterWheel); len(issues) > 0 {
		return issues
	}
	for _, f := range m.FilterWheel.Filters() {
		if f == filter {
			return nil
		}
	}
	return []string{fmt.Sprintf("filter %q is not in the filter wheel", filter)}
}
