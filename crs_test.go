package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReprojectorRoundTrip(t *testing.T) {
	r := NewReprojector()
	defer r.Close()

	footprint := Polygon3D{
		Exterior: square(2683000, 1247000, 25, 410),
		Holes:    []Ring{square(2683005, 1247005, 5, 410).Reversed()},
	}
	geographic, err := r.TransformPolygon(footprint, EPSGLV95, EPSGWGS84)
	require.NoError(t, err)
	for _, v := range geographic.Exterior {
		assert.InDelta(t, 8.5, v.X, 0.2, "longitude")
		assert.InDelta(t, 47.4, v.Y, 0.2, "latitude")
		assert.Equal(t, 410.0, v.Z)
	}

	back, err := r.TransformPolygon(geographic, EPSGWGS84, EPSGLV95)
	require.NoError(t, err)
	require.Len(t, back.Holes, 1)
	for i, v := range back.Exterior {
		assert.InDelta(t, footprint.Exterior[i].X, v.X, 0.01)
		assert.InDelta(t, footprint.Exterior[i].Y, v.Y, 0.01)
	}
	for i, v := range back.Holes[0] {
		assert.InDelta(t, footprint.Holes[0][i].X, v.X, 0.01)
		assert.InDelta(t, footprint.Holes[0][i].Y, v.Y, 0.01)
	}
}

func TestReprojectorBounds(t *testing.T) {
	r := NewReprojector()
	defer r.Close()

	x, y, err := r.TransformPoint(EPSGWGS84, EPSGLV95, 8.54, 47.37)
	require.NoError(t, err)
	location, err := DefaultTileGrid.Locate(x, y)
	require.NoError(t, err)
	assert.Less(t, location.Index, DefaultTileGrid.Count())

	box := NewBoundingBox(x, y, 500, EPSGLV95)
	same, err := r.TransformBounds(box, EPSGLV95)
	require.NoError(t, err)
	assert.Equal(t, box, same)

	geographic, err := r.TransformBounds(box, EPSGWGS84)
	require.NoError(t, err)
	assert.Equal(t, EPSGWGS84, geographic.EPSG)
	assert.True(t, geographic.Contains(8.54, 47.37))
	assert.Less(t, geographic.MaxX-geographic.MinX, 0.05)
}
