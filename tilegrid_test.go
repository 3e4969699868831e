package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTileGridDimensions(t *testing.T) {
	g := DefaultTileGrid
	assert.Equal(t, 73, g.Columns())
	assert.Equal(t, 47, g.Rows())
	assert.Equal(t, 3431, g.Count())
}

func TestTileGridRoundTrip(t *testing.T) {
	g := DefaultTileGrid
	half := g.TileSize / float64(g.SubDivisions) / 2

	visited := 0
	for location := range g.Tiles(0, g.Count()-1) {
		x, y, err := g.SubCorner(location)
		require.NoError(t, err)
		got, err := g.Locate(x+half, y+half)
		require.NoError(t, err)
		require.Equal(t, location, got)

		// the lower left corner belongs to the sub-tile itself
		got, err = g.Locate(x, y)
		require.NoError(t, err)
		require.Equal(t, location, got)
		visited++
	}
	assert.Equal(t, 3431*25, visited)
}

func TestTileGridLocate(t *testing.T) {
	g := DefaultTileGrid

	location, err := g.Locate(2480000, 1070000)
	require.NoError(t, err)
	assert.Equal(t, TileLocation{Index: 0, SubIndex: 0}, location)

	location, err = g.Locate(2486500, 1073500)
	require.NoError(t, err)
	assert.Equal(t, TileLocation{Index: 1, SubIndex: 3*5 + 1}, location)

	for _, p := range [][2]float64{{2479999.9, 1100000}, {2845000, 1100000}, {2600000, 1305000}, {2600000, 1069999}} {
		_, err := g.Locate(p[0], p[1])
		assert.ErrorIs(t, err, ErrOutsideGrid, "x: %.1f, y: %.1f", p[0], p[1])
	}
}

func TestTileGridBounds(t *testing.T) {
	g := DefaultTileGrid

	b, err := g.SubTileBounds(TileLocation{Index: 74, SubIndex: 24})
	require.NoError(t, err)
	assert.Equal(t, BoundingBox{MinX: 2489000, MinY: 1079000, MaxX: 2490000, MaxY: 1080000, EPSG: EPSGLV95}, b)

	_, _, err = g.Corner(3431)
	assert.ErrorIs(t, err, ErrOutsideGrid)
	_, err = g.SubTileBounds(TileLocation{Index: 0, SubIndex: 25})
	assert.ErrorIs(t, err, ErrOutsideGrid)
}

func TestTileGridTilesRange(t *testing.T) {
	g := DefaultTileGrid
	count := func(first, last int) int {
		n := 0
		for range g.Tiles(first, last) {
			n++
		}
		return n
	}
	assert.Equal(t, 50, count(0, 1))
	assert.Equal(t, 25, count(-5, 0))
	assert.Equal(t, 25, count(3430, 9999))
	assert.Equal(t, 0, count(5, 4))

	// early break
	for location := range g.Tiles(10, 20) {
		assert.Equal(t, TileLocation{Index: 10}, location)
		break
	}
}

func TestObservationPoints(t *testing.T) {
	generator := ObservationGenerator{Resolution: 1, Height: 1.5}
	area := Polygon3D{Exterior: Ring{{X: 0.1, Y: 0.1}, {X: 10.1, Y: 0.1}, {X: 10.1, Y: 10.1}, {X: 0.1, Y: 10.1}}}

	points, err := generator.Points(area, 400)
	require.NoError(t, err)
	assert.Len(t, points, 110)
	for _, p := range points {
		assert.True(t, area.Contains(p.X, p.Y))
		assert.Equal(t, 401.5, p.Z)
	}

	again, err := generator.Points(area, 400)
	require.NoError(t, err)
	assert.Equal(t, points, again)
}

func TestObservationPointsBuffered(t *testing.T) {
	generator := ObservationGenerator{Resolution: 1, Buffer: 1, Height: 1.5}
	area := Polygon3D{Exterior: Ring{{X: 0.1, Y: 0.1}, {X: 10.1, Y: 0.1}, {X: 10.1, Y: 10.1}, {X: 0.1, Y: 10.1}}}

	points, err := generator.Points(area, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, points)
	assert.Less(t, len(points), 110)
	for _, p := range points {
		assert.GreaterOrEqual(t, p.X, 1.1)
		assert.LessOrEqual(t, p.X, 9.1)
	}

	tiny := Polygon3D{Exterior: Ring{{X: 0.1, Y: 0.1}, {X: 1.1, Y: 0.1}, {X: 1.1, Y: 1.1}, {X: 0.1, Y: 1.1}}}
	_, err = generator.Points(tiny, 0)
	assert.ErrorIs(t, err, ErrNoObservationPoints)

	_, err = ObservationGenerator{}.Points(area, 0)
	assert.Error(t, err)
}
