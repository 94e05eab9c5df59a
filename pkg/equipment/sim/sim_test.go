package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/skyrun/pkg/astro"
	"github.com/openfroyo/skyrun/pkg/equipment"
)

func TestObservatory_Connected(t *testing.T) {
	ctx := context.Background()
	obs, err := Connected(ctx, InstantTimings())
	require.NoError(t, err)

	m := obs.Mediators()
	assert.Len(t, m.Devices(), 8)
	for role, d := range m.Devices() {
		assert.True(t, d.Info().Connected, role)
	}
	assert.False(t, obs.Telescope.Parked())
}

func TestCamera_ExposeStampsFilter(t *testing.T) {
	ctx := context.Background()
	obs, err := Connected(ctx, InstantTimings(), "L", "Ha")
	require.NoError(t, err)

	require.NoError(t, obs.FilterWheel.ChangeFilter(ctx, "Ha"))
	frame, err := obs.Camera.Expose(ctx, equipment.ExposureRequest{Duration: time.Minute, Gain: 100, ImageType: equipment.ImageLight})
	require.NoError(t, err)

	assert.Equal(t, "Ha", frame.Filter)
	assert.Equal(t, 1, frame.Binning)
	assert.Len(t, obs.Camera.Frames(), 1)
	assert.Error(t, obs.FilterWheel.ChangeFilter(ctx, "Y"))
}

func TestCamera_ExposeHonoursCancellation(t *testing.T) {
	ctx := context.Background()
	obs, err := Connected(ctx, Timings{ExposureScale: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = obs.Camera.Expose(ctx, equipment.ExposureRequest{Duration: time.Hour})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, obs.Camera.Frames())
}

func TestDevice_DisconnectedAndFailNext(t *testing.T) {
	ctx := context.Background()
	obs := NewObservatory(InstantTimings())

	err := obs.Dome.OpenShutter(ctx)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, []string{"dome is not connected"}, equipment.RequireConnected("dome", obs.Dome, true))

	require.NoError(t, obs.Dome.Connect(ctx))
	boom := errors.New("motor stalled")
	obs.Dome.FailNext(boom)
	require.ErrorIs(t, obs.Dome.OpenShutter(ctx), boom)
	require.NoError(t, obs.Dome.OpenShutter(ctx))
	assert.True(t, obs.Dome.ShutterOpen())
}

func TestTelescope_SlewRequiresUnpark(t *testing.T) {
	ctx := context.Background()
	obs := NewObservatory(InstantTimings())
	require.NoError(t, obs.Telescope.Connect(ctx))

	target := astro.Coordinates{RA: 5.58, Dec: -5.39}
	assert.Error(t, obs.Telescope.SlewTo(ctx, target))
	require.NoError(t, obs.Telescope.Unpark(ctx))
	require.NoError(t, obs.Telescope.SlewTo(ctx, target))
	assert.Equal(t, target, obs.Telescope.Coordinates())
	assert.Equal(t, 1, obs.Telescope.Slews())
}

func TestGuider_DitherRequiresGuiding(t *testing.T) {
	ctx := context.Background()
	obs, err := Connected(ctx, InstantTimings())
	require.NoError(t, err)

	assert.Error(t, obs.Guider.Dither(ctx))
	require.NoError(t, obs.Guider.StartGuiding(ctx))
	require.NoError(t, obs.Guider.Dither(ctx))
	assert.Equal(t, 1, obs.Guider.Dithers())
}
