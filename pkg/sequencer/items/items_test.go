package items

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/skyrun/pkg/astro"
	"github.com/openfroyo/skyrun/pkg/equipment/sim"
	"github.com/openfroyo/skyrun/pkg/sequencer"
)

func connected(t *testing.T) *sim.Observatory {
	t.Helper()
	obs, err := sim.Connected(context.Background(), sim.InstantTimings())
	require.NoError(t, err)
	return obs
}

func run(t *testing.T, items ...sequencer.Item) *sequencer.Container {
	t.Helper()
	c := sequencer.NewContainer(sequencer.Metadata{Name: "test"}, nil)
	for _, it := range items {
		require.NoError(t, c.Add(it))
	}
	require.NoError(t, sequencer.NewRunner().Run(context.Background(), c, nil))
	return c
}

func TestTakeExposure(t *testing.T) {
	obs := connected(t)
	exp := NewTakeExposure(sequencer.Metadata{Name: "Ha"}, TakeExposureProps{ExposureTime: 300, Count: 3, Gain: 139, Filter: "Ha"}, obs.Mediators())

	run(t, exp)

	assert.Equal(t, sequencer.StatusFinished, exp.Status())
	assert.Equal(t, 3, exp.CompletedExposures())
	frames := obs.Camera.Frames()
	require.Len(t, frames, 3)
	assert.Equal(t, "Ha", frames[0].Filter)
	assert.Equal(t, 139, frames[0].Gain)
	assert.Equal(t, 15*time.Minute, exp.EstimatedDuration())
	assert.Equal(t, "Camera", exp.Category())
}

func TestTakeExposure_StampsNearestTarget(t *testing.T) {
	obs := connected(t)
	c := sequencer.NewContainer(sequencer.Metadata{Name: "M42"}, nil)
	c.SetTarget(&astro.Target{Name: "Orion Nebula"})
	exp := NewTakeExposure(sequencer.Metadata{Name: "lights"}, TakeExposureProps{ExposureTime: 1, Count: 1}, obs.Mediators())
	require.NoError(t, c.Add(exp))

	require.NoError(t, sequencer.NewRunner().Run(context.Background(), c, nil))
	require.Len(t, obs.Camera.Frames(), 1)
	assert.Equal(t, "Orion Nebula", obs.Camera.Frames()[0].Target)
}

func TestTakeExposure_KeepsFramesAcrossRetries(t *testing.T) {
	obs := connected(t)
	exp := NewTakeExposure(sequencer.Metadata{Name: "L"}, TakeExposureProps{ExposureTime: 1, Count: 2}, obs.Mediators())
	exp.SetAttempts(2)

	first := true
	sink := sequencer.FuncSink(func(p sequencer.Progress) {
		if p.EntityID == exp.ID() && p.Current == 1 && first {
			first = false
			obs.Camera.FailNext(errors.New("download timeout"))
		}
	})
	c := sequencer.NewContainer(sequencer.Metadata{Name: "test"}, nil)
	require.NoError(t, c.Add(exp))

	require.NoError(t, sequencer.NewRunner().Run(context.Background(), c, sink))
	assert.Equal(t, sequencer.StatusFinished, exp.Status())
	assert.Equal(t, 2, exp.CompletedExposures())
	assert.Len(t, obs.Camera.Frames(), 2)
}

func TestTakeExposure_DisconnectedCameraIsSkipped(t *testing.T) {
	obs := sim.NewObservatory(sim.InstantTimings())
	exp := NewTakeExposure(sequencer.Metadata{Name: "L"}, TakeExposureProps{ExposureTime: 1, Count: 1}, obs.Mediators())
	assert.Contains(t, exp.Validate(), "camera is not connected")

	run(t, exp)
	assert.Equal(t, sequencer.StatusSkipped, exp.Status())
}

func TestTakeExposure_InvalidProps(t *testing.T) {
	obs := connected(t)
	exp := NewTakeExposure(sequencer.Metadata{Name: "L"}, TakeExposureProps{ExposureTime: 0, Count: 1, Filter: "Y"}, obs.Mediators())
	issues := exp.Validate()
	assert.Contains(t, issues, "ExposureTime must satisfy gt=0")
	assert.Contains(t, issues, `filter "Y" is not in the filter wheel`)
}

func TestSlewToTarget(t *testing.T) {
	obs := connected(t)
	require.NoError(t, obs.Telescope.Park(context.Background()))

	c := sequencer.NewContainer(sequencer.Metadata{Name: "M31"}, nil)
	andromeda := astro.Coordinates{RA: 0.712, Dec: 41.27}
	c.SetTarget(&astro.Target{Name: "M31", Coordinates: andromeda})
	slew := NewSlewToTarget(sequencer.Metadata{Name: "slew"}, SlewToTargetProps{}, obs.Mediators())
	require.NoError(t, c.Add(slew))

	require.NoError(t, sequencer.NewRunner().Run(context.Background(), c, nil))
	assert.Equal(t, sequencer.StatusFinished, slew.Status())
	assert.Equal(t, andromeda, obs.Telescope.Coordinates())
	assert.False(t, obs.Telescope.Parked())

	loose := NewSlewToTarget(sequencer.Metadata{Name: "loose"}, SlewToTargetProps{}, obs.Mediators())
	assert.Contains(t, loose.Validate(), "no coordinates and no target on any parent container")
}

func TestDeviceActions(t *testing.T) {
	obs := connected(t)
	m := obs.Mediators()

	run(t,
		NewOpenDome(sequencer.Metadata{Name: "open"}, m),
		NewStartGuiding(sequencer.Metadata{Name: "guide"}, m),
		NewDither(sequencer.Metadata{Name: "dither"}, m),
		NewSwitchFilter(sequencer.Metadata{Name: "filter"}, SwitchFilterProps{Filter: "OIII"}, m),
		NewMoveFocuser(sequencer.Metadata{Name: "focus"}, MoveFocuserProps{Position: 12000}, m),
		NewToggleFlatLight(sequencer.Metadata{Name: "flat"}, ToggleFlatLightProps{On: true, Brightness: 40}, m),
	)
	assert.True(t, obs.Dome.ShutterOpen())
	assert.True(t, obs.Guider.Guiding())
	assert.Equal(t, 1, obs.Guider.Dithers())
	assert.Equal(t, "OIII", obs.FilterWheel.CurrentFilter())
	assert.Equal(t, 12000, obs.Focuser.Position())
	assert.True(t, obs.FlatPanel.LightOn())
	assert.Equal(t, 40, obs.FlatPanel.Brightness())

	run(t,
		NewStopGuiding(sequencer.Metadata{Name: "stop"}, m),
		NewCloseDome(sequencer.Metadata{Name: "close"}, m),
		NewParkTelescope(sequencer.Metadata{Name: "park"}, m),
	)
	assert.False(t, obs.Guider.Guiding())
	assert.False(t, obs.Dome.ShutterOpen())
	assert.True(t, obs.Telescope.Parked())
}

func TestDeviceAction_MissingDevice(t *testing.T) {
	park := NewParkTelescope(sequencer.Metadata{Name: "park"}, nil)
	assert.Equal(t, []string{"no telescope is configured"}, park.Validate())
	clone, ok := park.Clone().(*DeviceAction)
	require.True(t, ok)
	assert.Equal(t, TypeParkTelescope, clone.TypeID())
}

func TestWaitForTimeSpan_Cancel(t *testing.T) {
	wait := NewWaitForTimeSpan(sequencer.Metadata{Name: "wait"}, WaitForTimeSpanProps{Seconds: 3600})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := wait.Execute(ctx, sequencer.NopSink{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, time.Hour, wait.EstimatedDuration())
}

func TestResolveTime(t *testing.T) {
	now := time.Date(2024, 3, 10, 22, 30, 0, 0, time.UTC)

	got, err := ResolveTime("23:15", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 23, 15, 0, 0, time.UTC), got)

	got, err = ResolveTime("04:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC), got)

	got, err = ResolveTime("2024-03-11T05:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 5, 0, 0, 0, time.UTC), got)

	_, err = ResolveTime("dawn", now)
	assert.Error(t, err)
}

func TestWaitUntil_UsesClock(t *testing.T) {
	obs := connected(t)
	m := obs.Mediators()
	m.Clock = func() time.Time { return time.Date(2024, 3, 10, 22, 30, 0, 0, time.UTC) }

	wait := NewWaitUntil(sequencer.Metadata{Name: "until"}, WaitUntilProps{At: "2024-03-10T22:00:00Z"}, m)
	assert.Empty(t, wait.Validate())
	run(t, wait)
	assert.Equal(t, sequencer.StatusFinished, wait.Status())

	bad := NewWaitUntil(sequencer.Metadata{Name: "bad"}, WaitUntilProps{At: "later"}, m)
	assert.NotEmpty(t, bad.Validate())
}

func TestFailInstruction(t *testing.T) {
	fail := NewFailInstruction(sequencer.Metadata{Name: "fail"}, FailInstructionProps{Message: "boom", Permanent: true})
	fail.SetAttempts(3)
	annotation := NewAnnotation(sequencer.Metadata{Name: "note"}, AnnotationProps{Text: "after failure"})

	root := sequencer.NewRootContainer(sequencer.Metadata{Name: "root"})
	require.NoError(t, root.Add(fail))
	require.NoError(t, root.Add(annotation))
	require.NoError(t, root.Run(context.Background(), sequencer.NewRunner(), nil))

	assert.Equal(t, sequencer.StatusFailed, fail.Status())
	assert.Equal(t, sequencer.StatusFinished, annotation.Status())
	assert.Equal(t, "fail: boom", root.FailureMessage())
}

func TestClone_PropsAreIndependent(t *testing.T) {
	coords := astro.Coordinates{RA: 1, Dec: 2}
	slew := NewSlewToTarget(sequencer.Metadata{Name: "slew"}, SlewToTargetProps{Coordinates: &coords}, nil)
	clone, ok := slew.Clone().(*SlewToTarget)
	require.True(t, ok)

	clone.Properties().(*SlewToTargetProps).Coordinates.RA = 10
	got, _ := slew.Coordinates()
	assert.Equal(t, 1.0, got.RA)
	assert.NotEqual(t, slew.ID(), clone.ID())
}
