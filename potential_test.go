package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// roof returns a horizontal square of two triangles centered on the origin
func roof(t SurroundingType, half, z float64) []TaggedTriangle {
	a := r3.Vec{X: -half, Y: -half, Z: z}
	b := r3.Vec{X: half, Y: -half, Z: z}
	c := r3.Vec{X: half, Y: half, Z: z}
	d := r3.Vec{X: -half, Y: half, Z: z}
	return []TaggedTriangle{{Type: t, Triangle: Triangle{a, b, c}}, {Type: t, Triangle: Triangle{a, c, d}}}
}

func TestHemisphereDirections(t *testing.T) {
	directions := HemisphereDirections(500)
	require.Len(t, directions, 500)

	var sum r3.Vec
	for _, d := range directions {
		assert.InDelta(t, 1.0, r3.Norm(d), 1e-9)
		assert.Greater(t, d.Z, 0.0)
		sum = r3.Add(sum, d)
	}
	assert.InDelta(t, 0.0, sum.X/500, 0.02)
	assert.InDelta(t, 0.0, sum.Y/500, 0.02)
	assert.InDelta(t, 0.5, sum.Z/500, 0.01)
}

func TestSolarPosition(t *testing.T) {
	const latitude, longitude = 47.3769, 8.5417 // Zurich

	elevation, azimuth := SolarPosition(time.Date(2018, 6, 21, 11, 28, 0, 0, time.UTC), latitude, longitude)
	assert.InDelta(t, 66.05, elevation, 1.0)
	assert.InDelta(t, 180.0, azimuth, 5.0)

	elevation, _ = SolarPosition(time.Date(2018, 12, 21, 11, 28, 0, 0, time.UTC), latitude, longitude)
	assert.InDelta(t, 19.2, elevation, 1.0)

	elevation, azimuth = SolarPosition(time.Date(2018, 3, 21, 7, 0, 0, 0, time.UTC), latitude, longitude)
	assert.Greater(t, elevation, 0.0)
	assert.Greater(t, azimuth, 90.0)
	assert.Less(t, azimuth, 180.0)

	elevation, _ = SolarPosition(time.Date(2018, 6, 21, 23, 30, 0, 0, time.UTC), latitude, longitude)
	assert.Less(t, elevation, 0.0)
}

func TestSunDirection(t *testing.T) {
	south := sunDirection(0, 180)
	assert.InDelta(t, 0.0, south.X, 1e-12)
	assert.InDelta(t, -1.0, south.Y, 1e-12)
	zenith := sunDirection(90, 0)
	assert.InDelta(t, 1.0, zenith.Z, 1e-12)
}

func TestPotentialView(t *testing.T) {
	ctx := context.Background()
	points := []r3.Vec{{X: 0, Y: 0, Z: 1.5}}

	t.Run("open sky", func(t *testing.T) {
		index, err := NewTriangleIndex(roof(Grounds, 100, 0))
		require.NoError(t, err)
		dims, err := PotentialSimulator{Index: index, ViewRays: 64}.View(ctx, points)
		require.NoError(t, err)
		assert.Equal(t, []float64{1}, dims["view_sky"])
		assert.Equal(t, []float64{0}, dims["view_grounds"])
		assert.Len(t, dims, len(allSurroundingTypes)+1)
	})

	t.Run("covered", func(t *testing.T) {
		index, err := NewTriangleIndex(roof(Buildings, 100000, 10))
		require.NoError(t, err)
		dims, err := PotentialSimulator{Index: index, ViewRays: 64}.View(ctx, points)
		require.NoError(t, err)
		assert.Equal(t, []float64{1}, dims["view_buildings"])
		assert.Equal(t, []float64{0}, dims["view_sky"])
	})

	t.Run("shares sum to one", func(t *testing.T) {
		triangles := append(roof(Buildings, 20, 30), roof(Grounds, 200, 0)...)
		index, err := NewTriangleIndex(triangles)
		require.NoError(t, err)
		dims, err := PotentialSimulator{Index: index, ViewRays: 128}.View(ctx, points)
		require.NoError(t, err)
		total := 0.0
		for _, values := range dims {
			require.Len(t, values, 1)
			total += values[0]
		}
		assert.InDelta(t, 1.0, total, 1e-9)
		assert.Greater(t, dims["view_buildings"][0], 0.0)
		assert.Greater(t, dims["view_sky"][0], 0.0)
	})
}

func TestPotentialSun(t *testing.T) {
	ctx := context.Background()
	points := []r3.Vec{{X: 0, Y: 0, Z: 1.5}}
	noon := time.Date(2018, 6, 21, 11, 28, 0, 0, time.UTC)
	night := time.Date(2018, 6, 21, 23, 30, 0, 0, time.UTC)

	index, err := NewTriangleIndex(roof(Grounds, 100, 0))
	require.NoError(t, err)
	dims, err := PotentialSimulator{Index: index}.Sun(ctx, points, 47.3769, 8.5417, []time.Time{noon, night})
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, dims["sun_2018-06-21T11:28Z"])
	assert.Equal(t, []float64{0}, dims["sun_2018-06-21T23:30Z"])

	covered, err := NewTriangleIndex(roof(Buildings, 1000, 10))
	require.NoError(t, err)
	dims, err = PotentialSimulator{Index: covered}.Sun(ctx, points, 47.3769, 8.5417, []time.Time{noon})
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, dims["sun_2018-06-21T11:28Z"])
}

func TestPotentialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	index, err := NewTriangleIndex(nil)
	require.NoError(t, err)

	_, err = PotentialSimulator{Index: index}.View(ctx, []r3.Vec{{}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0.0, index.Reach(r3.Vec{}), "empty mesh has no reach")
}
