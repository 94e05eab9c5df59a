// Package equipment defines the device mediators instructions talk to.
//
// Every mediator is cancellation aware: blocking actions take a context and must return
// promptly once it is done. Info returns a synchronous snapshot; a device that reports
// Connected == false is a precondition failure for the instructions that need it, not a
// runtime error.
package equipment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/skyrun/pkg/astro"
)

// DeviceInfo is a snapshot of a device.
type DeviceInfo struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Connected    bool            `json:"connected"`
	Capabilities map[string]bool `json:"capabilities,omitempty"`
}

// Can reports whether the device advertises a capability.
func (i DeviceInfo) Can(capability string) bool {
	return i.Capabilities[capability]
}

// Device is the part shared by every mediator.
type Device interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Info() DeviceInfo
}

// ImageType classifies a frame.
type ImageType string

const (
	ImageLight ImageType = "light"
	ImageDark  ImageType = "dark"
	ImageFlat  ImageType = "flat"
	ImageBias  ImageType = "bias"
)

// ExposureRequest describes a single exposure.
type ExposureRequest struct {
	Duration  time.Duration
	Gain      int
	Binning   int
	ImageType ImageType
	Target    string
}

// Frame is the result of an exposure.
type Frame struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Gain      int           `json:"gain"`
	Binning   int           `json:"binning"`
	ImageType ImageType     `json:"image_type"`
	Filter    string        `json:"filter,omitempty"`
	Target    string        `json:"target,omitempty"`
}

// Camera takes exposures.
type Camera interface {
	Device
	Expose(ctx context.Context, req ExposureRequest) (Frame, error)
}

// Telescope is the mount.
type Telescope interface {
	Device
	SlewTo(ctx context.Context, c astro.Coordinates) error
	Park(ctx context.Context) error
	Unpark(ctx context.Context) error
	Coordinates() astro.Coordinates
	Parked() bool
}

// Focuser moves the focus position in steps.
type Focuser interface {
	Device
	MoveTo(ctx context.Context, position int) error
	Position() int
}

// FilterWheel selects filters by name.
type FilterWheel interface {
	Device
	ChangeFilter(ctx context.Context, name string) error
	CurrentFilter() string
	Filters() []string
}

// Dome controls the shutter.
type Dome interface {
	Device
	OpenShutter(ctx context.Context) error
	CloseShutter(ctx context.Context) error
	ShutterOpen() bool
}

// FlatDevice is a flat panel with a light.
type FlatDevice interface {
	Device
	SetLight(ctx context.Context, on bool, brightness int) error
	LightOn() bool
}

// Guider keeps the mount on target.
type Guider interface {
	Device
	StartGuiding(ctx context.Context) error
	StopGuiding(ctx context.Context) error
	Dither(ctx context.Context) error
	Guiding() bool
}

// SafetyMonitor reports whether conditions allow the observatory to stay open.
type SafetyMonitor interface {
	Device
	IsSafe(ctx context.Context) (bool, error)
}

// Device roles as used in issues and the Devices map.
const (
	RoleCamera        = "camera"
	RoleTelescope     = "telescope"
	RoleFocuser       = "focuser"
	RoleFilterWheel   = "filter_wheel"
	RoleDome          = "dome"
	RoleFlatDevice    = "flat_device"
	RoleGuider        = "guider"
	RoleSafetyMonitor = "safety_monitor"
)

// Mediators groups the devices available to a plan. Any field may be nil when the
// observatory has no such device.
type Mediators struct {
	Camera        Camera
	Telescope     Telescope
	Focuser       Focuser
	FilterWheel   FilterWheel
	Dome          Dome
	FlatDevice    FlatDevice
	Guider        Guider
	SafetyMonitor SafetyMonitor
	Ephemeris     astro.Ephemeris
	Clock         func() time.Time
}

// Now returns the mediator clock, defaulting to time.Now.
func (m *Mediators) Now() time.Time {
	if m == nil || m.Clock == nil {
		return time.Now()
	}
	return m.Clock()
}

// Devices returns every configured device keyed by role.
func (m *Mediators) Devices() map[string]Device {
	out := make(map[string]Device)
	add := func(role string, d Device, present bool) {
		if present {
			out[role] = d
		}
	}
	add(RoleCamera, m.Camera, m.Camera != nil)
	add(RoleTelescope, m.Telescope, m.Telescope != nil)
	add(RoleFocuser, m.Focuser, m.Focuser != nil)
	add(RoleFilterWheel, m.FilterWheel, m.FilterWheel != nil)
	add(RoleDome, m.Dome, m.Dome != nil)
	add(RoleFlatDevice, m.FlatDevice, m.FlatDevice != nil)
	add(RoleGuider, m.Guider, m.Guider != nil)
	add(RoleSafetyMonitor, m.SafetyMonitor, m.SafetyMonitor != nil)
	return out
}

// Require returns an issue when the device for role is missing or disconnected.
// A nil Mediators has no devices.
func (m *Mediators) Require(role string) []string {
	if m == nil {
		return []string{fmt.Sprintf("no %s is configured", role)}
	}
	d, ok := m.Devices()[role]
	return RequireConnected(role, d, ok)
}

// ConnectAll connects every configured device.
func (m *Mediators) ConnectAll(ctx context.Context) error {
	for role, d := range m.Devices() {
		if err := d.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect %s: %w", role, err)
		}
	}
	return nil
}

// DisconnectAll disconnects every configured device and reports every failure.
func (m *Mediators) DisconnectAll(ctx context.Context) error {
	var errs []error
	for role, d := range m.Devices() {
		if err := d.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to disconnect %s: %w", role, err))
		}
	}
	return errors.Join(errs...)
}

// RequireConnected returns an issue when the device is missing or disconnected.
// present guards against typed nil interfaces.
func RequireConnected(role string, d Device, present bool) []string {
	if !present {
		return []string{fmt.Sprintf("no %s is configured", role)}
	}
	if !d.Info().Connected {
		return []string{fmt.Sprintf("%s is not connected", role)}
	}
	return nil
}
