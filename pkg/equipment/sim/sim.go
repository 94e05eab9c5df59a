// Package sim provides in-process simulators for every equipment mediator. They honour
// context cancellation, keep counters for tests and can be told to fail.
package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/skyrun/pkg/astro"
	"github.com/openfroyo/skyrun/pkg/equipment"
)

// ErrNotConnected is returned by actions on a disconnected simulator.
var ErrNotConnected = errors.New("device is not connected")

// Timings controls how long simulated actions take.
type Timings struct {
	// ExposureScale multiplies requested exposure durations; 0 makes exposures instant.
	ExposureScale float64 `yaml:"exposure_scale" json:"exposure_scale" mapstructure:"exposure_scale" validate:"gte=0"`

	Slew         time.Duration `yaml:"slew" json:"slew" mapstructure:"slew" validate:"gte=0"`
	FocuserStep  time.Duration `yaml:"focuser_step" json:"focuser_step" mapstructure:"focuser_step" validate:"gte=0"`
	FilterChange time.Duration `yaml:"filter_change" json:"filter_change" mapstructure:"filter_change" validate:"gte=0"`
	Shutter      time.Duration `yaml:"shutter" json:"shutter" mapstructure:"shutter" validate:"gte=0"`
	GuideSettle  time.Duration `yaml:"guide_settle" json:"guide_settle" mapstructure:"guide_settle" validate:"gte=0"`
}

// InstantTimings makes every simulated action complete immediately.
func InstantTimings() Timings {
	return Timings{}
}

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

// device is the connection and fault state shared by every simulator.
type device struct {
	mu        sync.Mutex
	name      string
	connected bool
	failNext  error
	caps      map[string]bool
}

func newDevice(name string, caps ...string) device {
	m := make(map[string]bool, len(caps))
	for _, c := range caps {
		m[c] = true
	}
	return device{name: name, caps: m}
}

// Connect implements equipment.Device.
func (d *device) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	zerolog.Ctx(ctx).Debug().Str("device", d.name).Msg("Simulator connected")
	return nil
}

// Disconnect implements equipment.Device.
func (d *device) Disconnect(context.Context) error {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return nil
}

// Info implements equipment.Device.
func (d *device) Info() equipment.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	caps := make(map[string]bool, len(d.caps))
	for k, v := range d.caps {
		caps[k] = v
	}
	return equipment.DeviceInfo{
		Name:         d.name,
		Description:  "simulator",
		Connected:    d.connected,
		Capabilities: caps,
	}
}

// FailNext makes the next action return err.
func (d *device) FailNext(err error) {
	d.mu.Lock()
	d.failNext = err
	d.mu.Unlock()
}

// begin checks the connection and consumes a pending failure.
func (d *device) begin() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("%s: %w", d.name, ErrNotConnected)
	}
	if err := d.failNext; err != nil {
		d.failNext = nil
		return err
	}
	return nil
}

// Camera simulates a camera.
type Camera struct {
	device
	timings Timings
	wheel   equipment.FilterWheel
	frames  []equipment.Frame
}

// NewCamera creates a disconnected camera. wheel, when set, stamps frames with the
// current filter.
func NewCamera(timings Timings, wheel equipment.FilterWheel) *Camera {
	return &Camera{device: newDevice("Camera Simulator", "gain", "binning"), timings: timings, wheel: wheel}
}

// Expose implements equipment.Camera.
func (c *Camera) Expose(ctx context.Context, req equipment.ExposureRequest) (equipment.Frame, error) {
	if err := c.begin(); err != nil {
		return equipment.Frame{}, err
	}
	frame := equipment.Frame{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		Duration:  req.Duration,
		Gain:      req.Gain,
		Binning:   max(req.Binning, 1),
		ImageType: req.ImageType,
		Target:    req.Target,
	}
	if c.wheel != nil {
		frame.Filter = c.wheel.CurrentFilter()
	}
	if err := sleep(ctx, time.Duration(float64(req.Duration)*c.timings.ExposureScale)); err != nil {
		return equipment.Frame{}, err
	}

	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
	return frame, nil
}

// Frames returns every frame taken so far.
func (c *Camera) Frames() []equipment.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.frames)
}

// Telescope simulates a mount.
type Telescope struct {
	device
	timings Timings
	coords  astro.Coordinates
	parked  bool
	slews   int
}

// NewTelescope creates a disconnected, parked mount.
func NewTelescope(timings Timings) *Telescope {
	return &Telescope{device: newDevice("Telescope Simulator", "park", "slew"), timings: timings, parked: true}
}

// SlewTo implements equipment.Telescope.
func (t *Telescope) SlewTo(ctx context.Context, c astro.Coordinates) error {
	if err := t.begin(); err != nil {
		return err
	}
	t.mu.Lock()
	parked := t.parked
	t.mu.Unlock()
	if parked {
		return errors.New("telescope is parked")
	}
	if err := sleep(ctx, t.timings.Slew); err != nil {
		return err
	}
	t.mu.Lock()
	t.coords = c
	t.slews++
	t.mu.Unlock()
	return nil
}

// Park implements equipment.Telescope.
func (t *Telescope) Park(ctx context.Context) error {
	if err := t.begin(); err != nil {
		return err
	}
	if err := sleep(ctx, t.timings.Slew); err != nil {
		return err
	}
	t.mu.Lock()
	t.parked = true
	t.mu.Unlock()
	return nil
}

// Unpark implements equipment.Telescope.
func (t *Telescope) Unpark(context.Context) error {
	if err := t.begin(); err != nil {
		return err
	}
	t.mu.Lock()
	t.parked = false
	t.mu.Unlock()
	return nil
}

// Coordinates implements equipment.Telescope.
func (t *Telescope) Coordinates() astro.Coordinates {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.coords
}

// Parked implements equipment.Telescope.
func (t *Telescope) Parked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parked
}

// Slews returns how many slews completed.
func (t *Telescope) Slews() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slews
}

// Focuser simulates a focuser.
type Focuser struct {
	device
	timings  Timings
	position int
}

// NewFocuser creates a disconnected focuser at position.
func NewFocuser(timings Timings, position int) *Focuser {
	return &Focuser{device: newDevice("Focuser Simulator", "absolute"), timings: timings, position: position}
}

// MoveTo implements equipment.Focuser.
func (f *Focuser) MoveTo(ctx context.Context, position int) error {
	if err := f.begin(); err != nil {
		return err
	}
	f.mu.Lock()
	steps := position - f.position
	f.mu.Unlock()
	if steps < 0 {
		steps = -steps
	}
	if err := sleep(ctx, time.Duration(steps)*f.timings.FocuserStep); err != nil {
		return err
	}
	f.mu.Lock()
	f.position = position
	f.mu.Unlock()
	return nil
}

// Position implements equipment.Focuser.
func (f *Focuser) Position() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

// FilterWheel simulates a filter wheel.
type FilterWheel struct {
	device
	timings Timings
	filters []string
	current string
	changes int
}

// NewFilterWheel creates a disconnected wheel positioned on the first filter.
func NewFilterWheel(timings Timings, filters ...string) *FilterWheel {
	w := &FilterWheel{device: newDevice("Filter Wheel Simulator"), timings: timings, filters: filters}
	if len(filters) > 0 {
		w.current = filters[0]
	}
	return w
}

// ChangeFilter implements equipment.FilterWheel.
func (w *FilterWheel) ChangeFilter(ctx context.Context, name string) error {
	if err := w.begin(); err != nil {
		return err
	}
	if !slices.Contains(w.filters, name) {
		return fmt.Errorf("unknown filter %q", name)
	}
	if w.CurrentFilter() == name {
		return nil
	}
	if err := sleep(ctx, w.timings.FilterChange); err != nil {
		return err
	}
	w.mu.Lock()
	w.current = name
	w.changes++
	w.mu.Unlock()
	return nil
}

// CurrentFilter implements equipment.FilterWheel.
func (w *FilterWheel) CurrentFilter() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Filters implements equipment.FilterWheel.
func (w *FilterWheel) Filters() []string {
	return slices.Clone(w.filters)
}

// Changes returns how many filter changes happened.
func (w *FilterWheel) Changes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changes
}

// Dome simulates a dome shutter.
type Dome struct {
	device
	timings Timings
	open    bool
}

// NewDome creates a disconnected dome with the shutter closed.
func NewDome(timings Timings) *Dome {
	return &Dome{device: newDevice("Dome Simulator", "shutter"), timings: timings}
}

// OpenShutter implements equipment.Dome.
func (d *Dome) OpenShutter(ctx context.Context) error {
	return d.setShutter(ctx, true)
}

// CloseShutter implements equipment.Dome.
func (d *Dome) CloseShutter(ctx context.Context) error {
	return d.setShutter(ctx, false)
}

func (d *Dome) setShutter(ctx context.Context, open bool) error {
	if err := d.begin(); err != nil {
		return err
	}
	if d.ShutterOpen() == open {
		return nil
	}
	if err := sleep(ctx, d.timings.Shutter); err != nil {
		return err
	}
	d.mu.Lock()
	d.open = open
	d.mu.Unlock()
	return nil
}

// ShutterOpen implements equipment.Dome.
func (d *Dome) ShutterOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// FlatPanel simulates a flat device.
type FlatPanel struct {
	device
	on         bool
	brightness int
}

// NewFlatPanel creates a disconnected panel with the light off.
func NewFlatPanel() *FlatPanel {
	return &FlatPanel{device: newDevice("Flat Panel Simulator", "brightness")}
}

// SetLight implements equipment.FlatDevice.
func (f *FlatPanel) SetLight(ctx context.Context, on bool, brightness int) error {
	if err := f.begin(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.on = on
	f.brightness = brightness
	f.mu.Unlock()
	return nil
}

// LightOn implements equipment.FlatDevice.
func (f *FlatPanel) LightOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// Brightness returns the last brightness set.
func (f *FlatPanel) Brightness() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.brightness
}

// Guider simulates a guiding application.
type Guider struct {
	device
	timings Timings
	guiding bool
	dithers int
}

// NewGuider creates a disconnected guider.
func NewGuider(timings Timings) *Guider {
	return &Guider{device: newDevice("Guider Simulator", "dither"), timings: timings}
}

// StartGuiding implements equipment.Guider.
func (g *Guider) StartGuiding(ctx context.Context) error {
	if err := g.begin(); err != nil {
		return err
	}
	if err := sleep(ctx, g.timings.GuideSettle); err != nil {
		return err
	}
	g.mu.Lock()
	g.guiding = true
	g.mu.Unlock()
	return nil
}

// StopGuiding implements equipment.Guider.
func (g *Guider) StopGuiding(context.Context) error {
	if err := g.begin(); err != nil {
		return err
	}
	g.mu.Lock()
	g.guiding = false
	g.mu.Unlock()
	return nil
}

// Dither implements equipment.Guider.
func (g *Guider) Dither(ctx context.Context) error {
	if err := g.begin(); err != nil {
		return err
	}
	if !g.Guiding() {
		return errors.New("guider is not guiding")
	}
	if err := sleep(ctx, g.timings.GuideSettle); err != nil {
		return err
	}
	g.mu.Lock()
	g.dithers++
	g.mu.Unlock()
	return nil
}

// Guiding implements equipment.Guider.
func (g *Guider) Guiding() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.guiding
}

// Dithers returns how many dithers completed.
func (g *Guider) Dithers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dithers
}

// SafetyMonitor simulates a weather safety monitor.
type SafetyMonitor struct {
	device
	safe bool
}

// NewSafetyMonitor creates a disconnected monitor reporting safe.
func NewSafetyMonitor() *SafetyMonitor {
	return &SafetyMonitor{device: newDevice("Safety Monitor Simulator"), safe: true}
}

// IsSafe implements equipment.SafetyMonitor.
func (s *SafetyMonitor) IsSafe(ctx context.Context) (bool, error) {
	if err := s.begin(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.safe, nil
}

// SetSafe changes the reported state.
func (s *SafetyMonitor) SetSafe(safe bool) {
	s.mu.Lock()
	s.safe = safe
	s.mu.Unlock()
}

// Observatory bundles one simulator of each kind.
type Observatory struct {
	Camera        *Camera
	Telescope     *Telescope
	Focuser       *Focuser
	FilterWheel   *FilterWheel
	Dome          *Dome
	FlatPanel     *FlatPanel
	Guider        *Guider
	SafetyMonitor *SafetyMonitor
	Ephemeris     *astro.FixedEphemeris
}

// NewObservatory creates disconnected simulators. The ephemeris starts with the target
// at 60° and the moon below the horizon.
func NewObservatory(timings Timings, filters ...string) *Observatory {
	if len(filters) == 0 {
		filters = []string{"L", "R", "G", "B", "Ha", "OIII", "SII"}
	}
	wheel := NewFilterWheel(timings, filters...)
	return &Observatory{
		Camera:        NewCamera(timings, wheel),
		Telescope:     NewTelescope(timings),
		Focuser:       NewFocuser(timings, 10000),
		FilterWheel:   wheel,
		Dome:          NewDome(timings),
		FlatPanel:     NewFlatPanel(),
		Guider:        NewGuider(timings),
		SafetyMonitor: NewSafetyMonitor(),
		Ephemeris:     astro.NewFixedEphemeris(60, -20),
	}
}

// Mediators exposes the simulators through the mediator interfaces.
func (o *Observatory) Mediators() *equipment.Mediators {
	return &equipment.Mediators{
		Camera:        o.Camera,
		Telescope:     o.Telescope,
		Focuser:       o.Focuser,
		FilterWheel:   o.FilterWheel,
		Dome:          o.Dome,
		FlatDevice:    o.FlatPanel,
		Guider:        o.Guider,
		SafetyMonitor: o.SafetyMonitor,
		Ephemeris:     o.Ephemeris,
	}
}

// Connected creates an observatory with every simulator connected and the mount unparked.
func Connected(ctx context.Context, timings Timings, filters ...string) (*Observatory, error) {
	o := NewObservatory(timings, filters...)
	if err := o.Mediators().ConnectAll(ctx); err != nil {
		return nil, err
	}
	if err := o.Telescope.Unpark(ctx); err != nil {
		return nil, err
	}
	return o, nil
}
