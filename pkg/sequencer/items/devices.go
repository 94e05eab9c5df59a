package items

import (
	"context"
	"fmt"

	"github.com/openfroyo/skyrun/pkg/astro"
	"github.com/openfroyo/skyrun/pkg/equipment"
	"github.com/openfroyo/skyrun/pkg/sequencer"
	"github.com/openfroyo/skyrun/pkg/sequencer/props"
)

const (
	categoryTelescope = "Telescope"
	categoryFilter    = "Filter Wheel"
	categoryFocuser   = "Focuser"
	categoryDome      = "Dome"
	categoryGuider    = "Guider"
	categoryFlat      = "Flat Device"
)

// DeviceAction is a parameterless instruction that performs one mediator call, such as
// opening the dome or parking the mount.
type DeviceAction struct {
	*sequencer.ItemBase
	typeID    string
	role      string
	action    func(ctx context.Context, m *equipment.Mediators) error
	mediators *equipment.Mediators
}

func newDeviceAction(meta sequencer.Metadata, category, typeID, role string, m *equipment.Mediators,
	action func(ctx context.Context, m *equipment.Mediators) error,
) *DeviceAction {
	if meta.Category == "" {
		meta.Category = category
	}
	return &DeviceAction{
		ItemBase:  sequencer.NewItemBase(meta),
		typeID:    typeID,
		role:      role,
		action:    action,
		mediators: m,
	}
}

// NewOpenDome opens the dome shutter.
func NewOpenDome(meta sequencer.Metadata, m *equipment.Mediators) *DeviceAction {
	return newDeviceAction(meta, categoryDome, TypeOpenDome, equipment.RoleDome, m, func(ctx context.Context, m *equipment.Mediators) error {
		return m.Dome.OpenShutter(ctx)
	})
}

// NewCloseDome closes the dome shutter.
func NewCloseDome(meta sequencer.Metadata, m *equipment.Mediators) *DeviceAction {
	return newDeviceAction(meta, categoryDome, TypeCloseDome, equipment.RoleDome, m, func(ctx context.Context, m *equipment.Mediators) error {
		return m.Dome.CloseShutter(ctx)
	})
}

// NewParkTelescope parks the mount.
func NewParkTelescope(meta sequencer.Metadata, m *equipment.Mediators) *DeviceAction {
	return newDeviceAction(meta, categoryTelescope, TypeParkTelescope, equipment.RoleTelescope, m, func(ctx context.Context, m *equipment.Mediators) error {
		return m.Telescope.Park(ctx)
	})
}

// NewStartGuiding starts guiding.
func NewStartGuiding(meta sequencer.Metadata, m *equipment.Mediators) *DeviceAction {
	return newDeviceAction(meta, categoryGuider, TypeStartGuiding, equipment.RoleGuider, m, func(ctx context.Context, m *equipment.Mediators) error {
		return m.Guider.StartGuiding(ctx)
	})
}

// NewStopGuiding stops guiding.
func NewStopGuiding(meta sequencer.Metadata, m *equipment.Mediators) *DeviceAction {
	return newDeviceAction(meta, categoryGuider, TypeStopGuiding, equipment.RoleGuider, m, func(ctx context.Context, m *equipment.Mediators) error {
		return m.Guider.StopGuiding(ctx)
	})
}

// NewDither moves the guide star by a small random offset.
func NewDither(meta sequencer.Metadata, m *equipment.Mediators) *DeviceAction {
	return newDeviceAction(meta, categoryGuider, TypeDither, equipment.RoleGuider, m, func(ctx context.Context, m *equipment.Mediators) error {
		return m.Guider.Dither(ctx)
	})
}

func (d *DeviceAction) TypeID() string { return d.typeID }

// Validate implements sequencer.Validatable.
func (d *DeviceAction) Validate() []string {
	return d.mediators.Require(d.role)
}

// Execute implements sequencer.Item.
func (d *DeviceAction) Execute(ctx context.Context, progress sequencer.ProgressSink) error {
	if len(d.mediators.Require(d.role)) > 0 {
		return sequencer.Disconnected(d.role)
	}
	sequencer.Report(progress, d, d.Name(), 0, 0)
	return d.action(ctx, d.mediators)
}

// Clone implements sequencer.Item.
func (d *DeviceAction) Clone() sequencer.Item {
	return &DeviceAction{
		ItemBase:  d.CloneItemBase(),
		typeID:    d.typeID,
		role:      d.role,
		action:    d.action,
		mediators: d.mediators,
	}
}

// SlewToTargetProps configures SlewToTarget. Without coordinates the nearest container
// target is used.
type SlewToTargetProps struct {
	Coordinates *astro.Coordinates `json:"coordinates,omitempty" validate:"omitempty"`
}

// SlewToTarget points the mount at a target.
type SlewToTarget struct {
	*sequencer.ItemBase
	props props.Value[SlewToTargetProps]
	mediators *equipment.Mediators
}

// NewSlewToTarget creates the instruction.
func NewSlewToTarget(meta sequencer.Metadata, p SlewToTargetProps, m *equipment.Mediators) *SlewToTarget {
	if meta.Category == "" {
		meta.Category = categoryTelescope
	}
	s := &SlewToTarget{ItemBase: sequencer.NewItemBase(meta), mediators: m}
	s.props.Set(p)
	return s
}

func (s *SlewToTarget) TypeID() string  { return TypeSlewToTarget }
func (s *SlewToTarget) Properties() any { return s.props.Ptr() }

// Coordinates resolves where the mount should point.
func (s *SlewToTarget) Coordinates() (astro.Coordinates, bool) {
	if c := s.props.Get().Coordinates; c != nil {
		return *c, true
	}
	if t, ok := sequencer.NearestTarget(s); ok {
		return t.Coordinates, true
	}
	return astro.Coordinates{}, false
}

// Validate implements sequencer.Validatable.
func (s *SlewToTarget) Validate() []string {
	issues := props.Validate(s.props.Get())
	issues = append(issues, s.mediators.Require(equipment.RoleTelescope)...)
	if _, ok := s.Coordinates(); !ok {
		issues = append(issues, "no coordinates and no target on any parent container")
	}
	return issues
}

// Execute implements sequencer.Item.
func (s *SlewToTarget) Execute(ctx context.Context, progress sequencer.ProgressSink) error {
	coords, ok := s.Coordinates()
	if !ok {
		return sequencer.NewValidationError("nothing to slew to", []string{"no coordinates"})
	}
	if len(s.mediators.Require(equipment.RoleTelescope)) > 0 {
		return sequencer.Disconnected("telescope")
	}
	sequencer.Report(progress, s, "slewing to "+coords.String(), 0, 0)
	if s.mediators.Telescope.Parked() {
		if err := s.mediators.Telescope.Unpark(ctx); err != nil {
			return fmt.Errorf("failed to unpark: %w", err)
		}
	}
	return s.mediators.Telescope.SlewTo(ctx, coords)
}

// Clone implements sequencer.Item.
func (s *SlewToTarget) Clone() sequencer.Item {
	c := &SlewToTarget{ItemBase: s.CloneItemBase(), mediators: s.mediators}
	c.props.Set(s.props.Clone())
	return c
}

// SwitchFilterProps configures SwitchFilter.
type SwitchFilterProps struct {
	Filter string `json:"filter" validate:"required"`
}

// SwitchFilter changes the active filter.
type SwitchFilter struct {
	*sequencer.ItemBase
	props props.Value[SwitchFilterProps]
	mediators *equipment.Mediators
}

// NewSwitchFilter creates the instruction.
func NewSwitchFilter(meta sequencer.Metadata, p SwitchFilterProps, m *equipment.Mediators) *SwitchFilter {
	if meta.Category == "" {
		meta.Category = categoryFilter
	}
	s := &SwitchFilter{ItemBase: sequencer.NewItemBase(meta), mediators: m}
	s.props.Set(p)
	return s
}

func (s *SwitchFilter) TypeID() string  { return TypeSwitchFilter }
func (s *SwitchFilter) Properties() any { return s.props.Ptr() }

// RequiredFilter implements FilterUser.
func (s *SwitchFilter) RequiredFilter() string { return s.props.Get().Filter }

// Validate implements sequencer.Validatable.
func (s *SwitchFilter) Validate() []string {
	p := s.props.Get()
	if issues := props.Validate(p); len(issues) > 0 {
		return issues
	}
	return requireFilter(s.mediators, p.Filter)
}

// Execute implements sequencer.Item.
func (s *SwitchFilter) Execute(ctx context.Context, progress sequencer.ProgressSink) error {
	if len(s.mediators.Require(equipment.RoleFilterWheel)) > 0 {
		return sequencer.Disconnected("filter_wheel")
	}
	filter := s.props.Get().Filter
	sequencer.Report(progress, s, "switching to "+filter, 0, 0)
	return s.mediators.FilterWheel.ChangeFilter(ctx, filter)
}

// Clone implements sequencer.Item.
func (s *SwitchFilter) Clone() sequencer.Item {
	c := &SwitchFilter{ItemBase: s.CloneItemBase(), mediators: s.mediators}
	c.props.Set(s.props.Clone())
	return c
}

// MoveFocuserProps configures MoveFocuser.
type MoveFocuserProps struct {
	Position int `json:"position" validate:"gte=0"`
}

// MoveFocuser moves the focuser to an absolute position.
type MoveFocuser struct {
	*sequencer.ItemBase
	props props.Value[MoveFocuserProps]
	mediators *equipment.Mediators
}

// NewMoveFocuser creates the instruction.
func NewMoveFocuser(meta sequencer.Metadata, p MoveFocuserProps, m *equipment.Mediators) *MoveFocuser {
	if meta.Category == "" {
		meta.Category = categoryFocuser
	}
	f := &MoveFocuser{ItemBase: sequencer.NewItemBase(meta), mediators: m}
	f.props.Set(p)
	return f
}

func (f *MoveFocuser) TypeID() string  { return TypeMoveFocuser }
func (f *MoveFocuser) Properties() any { return f.props.Ptr() }

// Validate implements sequencer.Validatable.
func (f *MoveFocuser) Validate() []string {
	return append(props.Validate(f.props.Get()), f.mediators.Require(equipment.RoleFocuser)...)
}

// Execute implements sequencer.Item.
func (f *MoveFocuser) Execute(ctx context.Context, progress sequencer.ProgressSink) error {
	if len(f.mediators.Require(equipment.RoleFocuser)) > 0 {
		return sequencer.Disconnected("focuser")
	}
	pos := f.props.Get().Position
	sequencer.Report(progress, f, fmt.Sprintf("moving focuser to %d", pos), 0, 0)
	return f.mediators.Focuser.MoveTo(ctx, pos)
}

// Clone implements sequencer.Item.
func (f *MoveFocuser) Clone() sequencer.Item {
	c := &MoveFocuser{ItemBase: f.CloneItemBase(), mediators: f.mediators}
	c.props.Set(f.props.Clone())
	return c
}

// ToggleFlatLightProps configures ToggleFlatLight.
type ToggleFlatLightProps struct {
	On         bool `json:"on"`
	Brightness int  `json:"brightness,omitempty" validate:"gte=0,lte=100"`
}

// ToggleFlatLight switches the flat panel light.
type ToggleFlatLight struct {
	*sequencer.ItemBase
	props props.Value[ToggleFlatLightProps]
	mediators *equipment.Mediators
}

// NewToggleFlatLight creates the instruction.
func NewToggleFlatLight(meta sequencer.Metadata, p ToggleFlatLightProps, m *equipment.Mediators) *ToggleFlatLight {
	if meta.Category == "" {
		meta.Category = categoryFlat
	}
	t := &ToggleFlatLight{ItemBase: sequencer.NewItemBase(meta), mediators: m}
	t.props.Set(p)
	return t
}

func (t *ToggleFlatLight) TypeID() string  { return TypeToggleFlatLight }
func (t *ToggleFlatLight) Properties() any { return t.props.Ptr() }

// Validate implements sequencer.Validatable.
func (t *ToggleFlatLight) Validate() []string {
	return append(props.Validate(t.props.Get()), t.mediators.Require(equipment.RoleFlatDevice)...)
}

// Execute implements sequencer.Item.
func (t *ToggleFlatLight) Execute(ctx context.Context, _ sequencer.ProgressSink) error {
	if len(t.mediators.Require(equipment.RoleFlatDevice)) > 0 {
		return sequencer.Disconnected("flat_device")
	}
	p := t.props.Get()
	return t.mediators.FlatDevice.SetLight(ctx, p.On, p.Brightness)
}

// Clone implements sequencer.Item.
func (t *ToggleFlatLight) Clone() sequencer.Item {
	c := &ToggleFlatLight{ItemBase: t.CloneItemBase(), mediators: t.mediators}
	c.props.Set(t.props.Clone())
	return c
}
