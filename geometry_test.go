package main

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"gonum.org/v1/gonum/spatial/r3"
)

func square(minX, minY, size, z float64) Ring {
	return Ring{
		{X: minX, Y: minY, Z: z},
		{X: minX + size, Y: minY, Z: z},
		{X: minX + size, Y: minY + size, Z: z},
		{X: minX, Y: minY + size, Z: z},
	}
}

func triangleArea3D(t Triangle) float64 {
	return r3.Norm(t.Normal()) / 2
}

func TestPolygonAreaAndContains(t *testing.T) {
	p := Polygon3D{Exterior: square(0, 0, 10, 0), Holes: []Ring{square(4, 4, 2, 0)}}

	assert.InDelta(t, 96.0, p.Area(), 1e-9)
	assert.True(t, p.Contains(1, 1))
	assert.False(t, p.Contains(5, 5), "point in hole")
	assert.False(t, p.Contains(11, 5))

	b := p.Bounds()
	assert.Equal(t, [2]float64{0, 0}, [2]float64(b.Min))
	assert.Equal(t, [2]float64{10, 10}, [2]float64(b.Max))
}

func TestTriangleHelpers(t *testing.T) {
	tri := Triangle{{X: 0, Y: 0, Z: 0}, {X: 0, Y: 3, Z: 0}, {X: 3, Y: 0, Z: 0}}

	assert.Less(t, tri.SignedArea2D(), 0.0)
	ccw := tri.CounterClockwise()
	assert.InDelta(t, 4.5, ccw.SignedArea2D(), 1e-12)
	assert.Equal(t, r3.Vec{X: 1, Y: 1, Z: 0}, tri.Centroid())

	sloped := Triangle{{X: 0, Y: 0, Z: 0}, {X: 10, Y: 0, Z: 10}, {X: 0, Y: 10, Z: 0}}
	z, ok := sloped.PlaneZ(5, 2)
	require.True(t, ok)
	assert.InDelta(t, 5.0, z, 1e-9)

	wall := Triangle{{X: 0, Y: 0, Z: 0}, {X: 10, Y: 0, Z: 0}, {X: 0, Y: 0, Z: 10}}
	_, ok = wall.PlaneZ(1, 0)
	assert.False(t, ok)
}

func TestPropertiesConversion(t *testing.T) {
	props := Properties{"name": " Bahnhofstrasse ", "lanes": 2.0, "height": "12.5", "bridge": true, "empty": nil}

	assert.Equal(t, "Bahnhofstrasse", props.String("name"))
	assert.Equal(t, "2", props.String("lanes"))
	assert.Equal(t, "true", props.String("bridge"))
	assert.Equal(t, "", props.String("empty"))
	assert.Equal(t, "", props.String("missing"))

	h, ok := props.Float("height")
	require.True(t, ok)
	assert.InDelta(t, 12.5, h, 1e-12)
	_, ok = props.Float("name")
	assert.False(t, ok)
}

func TestBoundingBox(t *testing.T) {
	b := NewBoundingBox(2600000, 1200000, 500, EPSGLV95)

	assert.True(t, b.Contains(2600500, 1199500), "border is inside")
	assert.False(t, b.Contains(2600500.1, 1200000))
	x, y := b.Center()
	assert.Equal(t, 2600000.0, x)
	assert.Equal(t, 1200000.0, y)
	assert.InDelta(t, 1e6, b.Polygon().Area(), 1e-6)
	assert.Greater(t, b.Polygon().Exterior.SignedArea(), 0.0)
}

func TestSourceFromGeom(t *testing.T) {
	tests := []struct {
		name  string
		input geom.T
		want  SourceGeometry
	}{
		{
			name: "polygon with z and hole",
			input: geom.NewPolygon(geom.XYZ).MustSetCoords([][]geom.Coord{
				{{0, 0, 1}, {10, 0, 1}, {10, 10, 1}, {0, 10, 1}, {0, 0, 1}},
				{{4, 4, 1}, {6, 4, 1}, {6, 6, 1}, {4, 4, 1}},
			}),
			want: SourceGeometry{HasZ: true, Polygons: []Polygon3D{{
				Exterior: Ring{{X: 0, Y: 0, Z: 1}, {X: 10, Y: 0, Z: 1}, {X: 10, Y: 10, Z: 1}, {X: 0, Y: 10, Z: 1}},
				Holes:    []Ring{{{X: 4, Y: 4, Z: 1}, {X: 6, Y: 4, Z: 1}, {X: 6, Y: 6, Z: 1}}},
			}}},
		},
		{
			name:  "measured coordinates are flat",
			input: geom.NewLineString(geom.XYM).MustSetCoords([]geom.Coord{{1, 2, 7}, {4, 5, 8}}),
			want:  SourceGeometry{Lines: []Path{{{X: 1, Y: 2}, {X: 4, Y: 5}}}},
		},
		{
			name:  "zm keeps z",
			input: geom.NewPoint(geom.XYZM).MustSetCoords(geom.Coord{1, 2, 3, 4}),
			want:  SourceGeometry{HasZ: true, Points: []r3.Vec{{X: 1, Y: 2, Z: 3}}},
		},
		{
			name:  "multipoint",
			input: geom.NewMultiPoint(geom.XY).MustSetCoords([]geom.Coord{{1, 2}, {3, 4}}),
			want:  SourceGeometry{Points: []r3.Vec{{X: 1, Y: 2}, {X: 3, Y: 4}}},
		},
		{
			name: "collection",
			input: geom.NewGeometryCollection().MustPush(
				geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{1, 2}),
				geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{{0, 0}, {1, 1}}),
			),
			want: SourceGeometry{
				Points: []r3.Vec{{X: 1, Y: 2}},
				Lines:  []Path{{{X: 0, Y: 0}, {X: 1, Y: 1}}},
			},
		},
		{
			name:  "empty",
			input: geom.NewPolygon(geom.XYZ),
			want:  SourceGeometry{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sourceFromGeom(tt.input)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("sourceFromGeom() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSourceFromWKBInvalid(t *testing.T) {
	for _, input := range [][]byte{nil, {0x01}, {0x01, 0x63, 0x00, 0x00, 0x00}} {
		_, err := sourceFromWKB(input)
		assert.ErrorIs(t, err, ErrInvalidGeometry, "%x", input)
	}
}

func TestSourceGeometryWKBRoundTrip(t *testing.T) {
	tests := []SourceGeometry{
		{HasZ: true, Polygons: []Polygon3D{{Exterior: square(0, 0, 10, 450), Holes: []Ring{square(2, 2, 2, 450).Reversed()}}}},
		{Lines: []Path{{{X: 0, Y: 0}, {X: 5, Y: 5}}}, Points: []r3.Vec{{X: 1, Y: 1}}},
		{HasZ: true, Polygons: []Polygon3D{{Exterior: square(0, 0, 1, 3)}, {Exterior: square(5, 5, 1, 4)}}},
	}
	for _, want := range tests {
		data, err := ewkb.Marshal(geomFromSource(want), ewkb.NDR)
		require.NoError(t, err)
		got, err := sourceFromWKB(data)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestExpandLine(t *testing.T) {
	line := Path{{X: 0, Y: 0, Z: 400}, {X: 100, Y: 0, Z: 410}}

	t.Run("symmetric", func(t *testing.T) {
		p, err := ExpandLine(line, 10, ExtensionSymmetric)
		require.NoError(t, err)
		assert.InDelta(t, 1000.0, p.Area(), 1e-6)
		assert.Greater(t, p.Exterior.SignedArea(), 0.0)
		assert.True(t, p.Contains(50, 4.9))
		assert.True(t, p.Contains(50, -4.9))
		for _, v := range p.Exterior {
			if v.X == 0 {
				assert.Equal(t, 400.0, v.Z)
			} else {
				assert.Equal(t, 410.0, v.Z)
			}
		}
	})

	t.Run("left only", func(t *testing.T) {
		p, err := ExpandLine(line, 10, ExtensionLeft)
		require.NoError(t, err)
		assert.InDelta(t, 1000.0, p.Area(), 1e-6)
		assert.True(t, p.Contains(50, 9))
		assert.False(t, p.Contains(50, -1))
	})

	t.Run("right angle keeps full width", func(t *testing.T) {
		bend := Path{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}}
		p, err := ExpandLine(bend, 4, ExtensionSymmetric)
		require.NoError(t, err)
		// two 100 m legs of 4 m width; the miter corner adds the outer square and removes the inner one
		assert.InDelta(t, 800.0, p.Area(), 1e-6)
	})

	t.Run("unit segment", func(t *testing.T) {
		p, err := ExpandLine(Path{{X: 0, Y: 0}, {X: 2, Y: 0}}, 2, ExtensionSymmetric)
		require.NoError(t, err)
		assert.InDelta(t, 4.0, p.Area(), 1e-9)
		b := p.Bounds()
		assert.InDelta(t, 0.0, b.Min[0], 1e-9)
		assert.InDelta(t, -1.0, b.Min[1], 1e-9)
		assert.InDelta(t, 2.0, b.Max[0], 1e-9)
		assert.InDelta(t, 1.0, b.Max[1], 1e-9)
	})

	t.Run("degenerate", func(t *testing.T) {
		_, err := ExpandLine(Path{{X: 1, Y: 1}, {X: 1, Y: 1}}, 5, ExtensionSymmetric)
		assert.ErrorIs(t, err, ErrInvalidGeometry)
		_, err = ExpandLine(line, 0, ExtensionSymmetric)
		assert.ErrorIs(t, err, ErrInvalidGeometry)
	})
}

func TestTriangulatePolygon(t *testing.T) {
	t.Run("square with hole", func(t *testing.T) {
		p := Polygon3D{Exterior: square(0, 0, 10, 5), Holes: []Ring{square(4, 4, 2, 5)}}
		tris := TriangulatePolygon(p)
		require.NotEmpty(t, tris)
		area := 0.0
		for _, tri := range tris {
			assert.Greater(t, tri.SignedArea2D(), 0.0)
			c := tri.Centroid()
			assert.True(t, p.Contains(c.X, c.Y), "centroid %v outside polygon", c)
			area += tri.SignedArea2D()
		}
		assert.InDelta(t, 96.0, area, 1e-9)
	})

	t.Run("concave clockwise", func(t *testing.T) {
		l := Ring{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 5, Y: 10}, {X: 5, Y: 5}, {X: 10, Y: 5}, {X: 10, Y: 0}}
		tris := TriangulatePolygon(Polygon3D{Exterior: l})
		require.Len(t, tris, 4)
		area := 0.0
		for _, tri := range tris {
			assert.Greater(t, tri.SignedArea2D(), 0.0)
			area += tri.SignedArea2D()
		}
		assert.InDelta(t, 75.0, area, 1e-9)
	})

	t.Run("vertical wall", func(t *testing.T) {
		wall := Ring{{X: 0, Y: 0, Z: 0}, {X: 10, Y: 0, Z: 0}, {X: 10, Y: 0, Z: 3}, {X: 0, Y: 0, Z: 3}}
		tris := TriangulatePolygon(Polygon3D{Exterior: wall})
		require.Len(t, tris, 2)
		area := 0.0
		for _, tri := range tris {
			area += triangleArea3D(tri)
		}
		assert.InDelta(t, 30.0, area, 1e-9)
	})

	t.Run("too few vertices", func(t *testing.T) {
		assert.Empty(t, TriangulatePolygon(Polygon3D{Exterior: Ring{{X: 0}, {X: 1}}}))
	})
}

func TestSignedAreaOrientation(t *testing.T) {
	r := square(0, 0, 2, 0)
	assert.InDelta(t, 4.0, r.SignedArea(), 1e-12)
	assert.InDelta(t, -4.0, r.Reversed().SignedArea(), 1e-12)
	assert.False(t, math.IsNaN(Ring{}.SignedArea()))
}
