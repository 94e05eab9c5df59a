// Package astro holds the small set of astronomical types the sequencer needs:
// target coordinates, observing site and an ephemeris contract for altitude lookups.
package astro

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Coordinates are J2000 equatorial coordinates.
type Coordinates struct {
	// RA is the right ascension in hours.
	RA float64 `json:"ra" yaml:"ra" mapstructure:"ra" validate:"gte=0,lt=24"`

	// Dec is the declination in degrees.
	Dec float64 `json:"dec" yaml:"dec" mapstructure:"dec" validate:"gte=-90,lte=90"`
}

// String formats the coordinates as "RA 5.588h Dec -5.391°".
func (c Coordinates) String() string {
	return fmt.Sprintf("RA %.3fh Dec %.3f°", c.RA, c.Dec)
}

// Target is a named sky position used as domain context by containers.
type Target struct {
	// Name is the catalogue or user name of the target.
	Name string `json:"name" yaml:"name" mapstructure:"name" validate:"required"`

	// Coordinates is where the target is.
	Coordinates Coordinates `json:"coordinates" yaml:"coordinates" mapstructure:"coordinates"`

	// PositionAngle is the requested camera rotation in degrees.
	PositionAngle float64 `json:"position_angle,omitempty" yaml:"position_angle,omitempty" mapstructure:"position_angle" validate:"gte=0,lt=360"`
}

// Location is an observing site.
type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" yaml:"longitude" validate:"gte=-180,lte=180"`
	Elevation float64 `json:"elevation" yaml:"elevation"`
}

// Ephemeris answers altitude questions for conditions and watchdogs.
type Ephemeris interface {
	// Altitude returns the altitude in degrees of the coordinates at the given time.
	Altitude(ctx context.Context, c Coordinates, at time.Time) (float64, error)

	// MoonAltitude returns the moon's altitude in degrees at the given time.
	MoonAltitude(ctx context.Context, at time.Time) (float64, error)
}

// FixedEphemeris returns configured altitudes regardless of time or position.
// Tests and simulators move the values with SetTargetAltitude and SetMoonAltitude.
type FixedEphemeris struct {
	mu     sync.RWMutex
	target float64
	moon   float64
}

// NewFixedEphemeris creates an ephemeris with the given target and moon altitudes.
func NewFixedEphemeris(target, moon float64) *FixedEphemeris {
	return &FixedEphemeris{target: target, moon: moon}
}

// SetTargetAltitude changes the altitude reported for every target.
func (f *FixedEphemeris) SetTargetAltitude(alt float64) {
	f.mu.Lock()
	f.target = alt
	f.mu.Unlock()
}

// SetMoonAltitude changes the reported moon altitude.
func (f *FixedEphemeris) SetMoonAltitude(alt float64) {
	f.mu.Lock()
	f.moon = alt
	f.mu.Unlock()
}

// Altitude implements Ephemeris.
func (f *FixedEphemeris) Altitude(ctx context.Context, _ Coordinates, _ time.Time) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.target, nil
}

// MoonAltitude implements Ephemeris.
func (f *FixedEphemeris) MoonAltitude(ctx context.Context, _ time.Time) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.moon, nil
}

// Observer computes low precision altitudes for a site. Accuracy is around a degree,
// enough for horizon and moon gating.
type Observer struct {
	Location Location
}

// NewObserver creates an Observer for a site.
func NewObserver(loc Location) *Observer {
	return &Observer{Location: loc}
}

// Altitude implements Ephemeris.
func (o *Observer) Altitude(ctx context.Context, c Coordinates, at time.Time) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return altitude(o.Location, c, at), nil
}

// MoonAltitude implements Ephemeris.
func (o *Observer) MoonAltitude(ctx context.Context, at time.Time) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return altitude(o.Location, MoonPosition(at), at), nil
}

const (
	deg = math.Pi / 180
	// obliquity of the ecliptic at J2000
	obliquity = 23.439 * deg
)

// daysSinceJ2000 returns fractional days since 2000-01-01T12:00:00Z.
func daysSinceJ2000(t time.Time) float64 {
	j2000 := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	return t.UTC().Sub(j2000).Hours() / 24
}

// LocalSiderealTime returns the local sidereal time in hours.
func LocalSiderealTime(longitude float64, t time.Time) float64 {
	d := daysSinceJ2000(t)
	gmst := 18.697374558 + 24.06570982441908*d
	return normalize(gmst+longitude/15, 24)
}

// MoonPosition returns approximate geocentric moon coordinates.
func MoonPosition(t time.Time) Coordinates {
	d := daysSinceJ2000(t)
	l := (218.316 + 13.176396*d) * deg
	m := (134.963 + 13.064993*d) * deg
	f := (93.272 + 13.229350*d) * deg

	lon := l + 6.289*deg*math.Sin(m)
	lat := 5.128 * deg * math.Sin(f)

	ra := math.Atan2(math.Sin(lon)*math.Cos(obliquity)-math.Tan(lat)*math.Sin(obliquity), math.Cos(lon))
	dec := math.Asin(math.Sin(lat)*math.Cos(obliquity) + math.Cos(lat)*math.Sin(obliquity)*math.Sin(lon))

	return Coordinates{
		RA:  normalize(ra/deg/15, 24),
		Dec: dec / deg,
	}
}

func altitude(loc Location, c Coordinates, t time.Time) float64 {
	lst := LocalSiderealTime(loc.Longitude, t)
	ha := (lst - c.RA) * 15 * deg
	lat := loc.Latitude * deg
	dec := c.Dec * deg
	sinAlt := math.Sin(lat)*math.Sin(dec) + math.Cos(lat)*math.Cos(dec)*math.Cos(ha)
	return math.Asin(sinAlt) / deg
}

func normalize(v, period float64) float64 {
	v = math.Mod(v, period)
	if v < 0 {
		v += period
	}
	return v
}
