package main

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testWindow is a 4x3 window of 10 m cells on the plane z = x + 2y
func testWindow(t *testing.T) *RasterWindow {
	t.Helper()
	gt := [6]float64{0, 10, 0, 30, 0, -10}
	heights := make([]float64, 0, 12)
	for row := range 3 {
		for col := range 4 {
			x, y := 5+10*float64(col), 25-10*float64(row)
			heights = append(heights, x+2*y)
		}
	}
	w, err := NewRasterWindow(gt, 4, 3, heights, NoDataElevation)
	require.NoError(t, err)
	return w
}

func collectTriangles(seq iter.Seq[Triangle]) []Triangle {
	var out []Triangle
	for t := range seq {
		out = append(out, t)
	}
	return out
}

func xyArea(triangles []Triangle) float64 {
	area := 0.0
	for _, t := range triangles {
		area += t.SignedArea2D()
	}
	return area
}

func TestRasterWindowHeight(t *testing.T) {
	w := testWindow(t)

	z, err := w.Height(20, 10)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, z, 1e-9)
	z, err = w.Height(5, 25)
	require.NoError(t, err)
	assert.InDelta(t, 55.0, z, 1e-9)

	_, err = w.Height(-1, 10)
	assert.ErrorIs(t, err, ErrOutOfCoverage)
	_, err = w.Height(20, 31)
	assert.ErrorIs(t, err, ErrOutOfCoverage)

	assert.Equal(t, BoundingBox{MinX: 0, MinY: 0, MaxX: 40, MaxY: 30, EPSG: EPSGLV95}, w.Bounds(EPSGLV95))
}

func TestRasterWindowNoData(t *testing.T) {
	gt := [6]float64{0, 1, 0, 3, 0, -1}
	heights := []float64{
		10, 10, 10,
		10, NoDataElevation, 10,
		10, 10, 10,
	}
	w, err := NewRasterWindow(gt, 3, 3, heights, NoDataElevation)
	require.NoError(t, err)
	assert.Equal(t, 10.0, w.At(1, 1))

	_, err = NewRasterWindow(gt, 1, 2, []float64{NoDataElevation, NoDataElevation}, NoDataElevation)
	assert.ErrorIs(t, err, ErrOutOfCoverage)
	_, err = NewRasterWindow(gt, 3, 3, heights[:4], NoDataElevation)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestRasterWindowTriangulator(t *testing.T) {
	w := testWindow(t)

	triangles := collectTriangles(RasterWindowTriangulator{Window: w}.Triangles())
	require.Len(t, triangles, 2*(3-1)*(4-1))
	for _, tri := range triangles {
		assert.Greater(t, tri.SignedArea2D(), 0.0)
		for _, v := range tri {
			assert.InDelta(t, v.X+2*v.Y, v.Z, 1e-9)
		}
	}
	assert.InDelta(t, 600.0, xyArea(triangles), 1e-9)

	// centroids lie a third and two thirds into each cell
	exclude := BoundingBox{MinX: 0, MinY: 0, MaxX: 20, MaxY: 30}
	kept := collectTriangles(RasterWindowTriangulator{Window: w, Exclude: &exclude}.Triangles())
	assert.Len(t, kept, 6)
	for _, tri := range kept {
		assert.Greater(t, tri.Centroid().X, 20.0)
	}
}

func TestGroundExcavator(t *testing.T) {
	w := testWindow(t)
	footprint := Polygon3D{Exterior: square(12, 8, 10, 0)}
	excavator, err := NewGroundExcavator([]Polygon3D{footprint})
	require.NoError(t, err)
	defer excavator.Close()

	t.Run("excavate", func(t *testing.T) {
		triangles := collectTriangles(excavator.Excavate(RasterWindowTriangulator{Window: w}.Triangles()))
		assert.InDelta(t, 500.0, xyArea(triangles), 1e-6)
		for _, tri := range triangles {
			c := tri.Centroid()
			assert.False(t, footprint.Contains(c.X, c.Y), "centroid %v inside footprint", c)
			for _, v := range tri {
				assert.InDelta(t, v.X+2*v.Y, v.Z, 1e-6)
			}
		}
	})

	t.Run("lower", func(t *testing.T) {
		triangles := collectTriangles(excavator.Lower(RasterWindowTriangulator{Window: w}.Triangles(), 3))
		assert.InDelta(t, 600.0, xyArea(triangles), 1e-6)
		lowered := 0.0
		for _, tri := range triangles {
			c := tri.Centroid()
			if footprint.Contains(c.X, c.Y) {
				lowered += tri.SignedArea2D()
				assert.InDelta(t, c.X+2*c.Y-3, c.Z, 1e-6)
			} else {
				assert.InDelta(t, c.X+2*c.Y, c.Z, 1e-6)
			}
		}
		assert.InDelta(t, 100.0, lowered, 1e-6)
	})

	t.Run("invalid footprints are skipped", func(t *testing.T) {
		e, err := NewGroundExcavator([]Polygon3D{{Exterior: Ring{{X: 1}, {X: 2}}}})
		require.NoError(t, err)
		defer e.Close()
		triangles := collectTriangles(e.Excavate(RasterWindowTriangulator{Window: w}.Triangles()))
		assert.Len(t, triangles, 12)
	})
}

// fixedSource yields the given triangles, then err (if any)
type fixedSource struct {
	triangles []TaggedTriangle
	err       error
}

func (s fixedSource) Triangles(_ context.Context) iter.Seq2[TaggedTriangle, error] {
	return func(yield func(TaggedTriangle, error) bool) {
		for _, t := range s.triangles {
			if !yield(t, nil) {
				return
			}
		}
		if s.err != nil {
			yield(TaggedTriangle{}, s.err)
		}
	}
}

func TestSurroundingsAggregate(t *testing.T) {
	ctx := context.Background()
	building := TaggedTriangle{Type: Buildings, Triangle: Triangle{{X: 0}, {X: 1}, {Y: 1}}}
	lake := TaggedTriangle{Type: Lakes, Triangle: Triangle{{X: 5}, {X: 6}, {Y: 6}}}

	aggregate := &SurroundingsAggregate{Name: "test", Sources: []TriangleSource{
		fixedSource{triangles: []TaggedTriangle{building, building}},
		fixedSource{},
		fixedSource{triangles: []TaggedTriangle{lake}},
	}}
	triangles, err := CollectTriangles(aggregate.Triangles(ctx))
	require.NoError(t, err)
	assert.Equal(t, []TaggedTriangle{building, building, lake}, triangles)

	failing := &SurroundingsAggregate{Name: "failing", Sources: []TriangleSource{
		fixedSource{triangles: []TaggedTriangle{building}, err: ErrUpstreamUnavailable},
		fixedSource{triangles: []TaggedTriangle{lake}},
	}}
	_, err = CollectTriangles(failing.Triangles(ctx))
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestTerrainHandler(t *testing.T) {
	ctx := context.Background()
	w := testWindow(t)

	handler := &TerrainHandler{Type: Grounds, Window: func() (*RasterWindow, error) { return w, nil }}
	triangles, err := CollectTriangles(handler.Triangles(ctx))
	require.NoError(t, err)
	assert.Len(t, triangles, 12)
	assert.Equal(t, Grounds, triangles[0].Type)

	uncovered := &TerrainHandler{Type: Mountains, Window: func() (*RasterWindow, error) {
		return nil, ErrOutOfCoverage
	}}
	triangles, err = CollectTriangles(uncovered.Triangles(ctx))
	require.NoError(t, err)
	assert.Empty(t, triangles)

	broken := &TerrainHandler{Type: Grounds, Window: func() (*RasterWindow, error) {
		return nil, errors.New("gdal warp failed")
	}}
	_, err = CollectTriangles(broken.Triangles(ctx))
	assert.Error(t, err)
}
