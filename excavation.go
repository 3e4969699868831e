package main

import (
	"fmt"
	"iter"
	"log/slog"
	"math"

	"github.com/airbusgeo/godal"
	"github.com/dhconnelly/rtreego"
)

// triangles below this xy area (m²) are dropped after clipping
const sliverArea = 1e-6

/*
footprint is one building footprint in the spatial index.
*/
type footprint struct {
	polygon  Polygon3D
	geometry *godal.Geometry
	rect     rtreego.Rect
}

func (f *footprint) Bounds() rtreego.Rect {
	return f.rect
}

/*
GroundExcavator removes (or lowers) the terrain below building footprints.
Not safe for concurrent use; create one per unit.
*/
type GroundExcavator struct {
	footprints []*footprint
	index      *rtreego.Rtree
}

/*
rectFromBounds builds an index rectangle; degenerate sides are padded.
*/
func rectFromBounds(lo, hi []float64) (rtreego.Rect, error) {
	lengths := make([]float64, len(lo))
	for i := range lo {
		lengths[i] = math.Max(hi[i]-lo[i], 1e-9)
	}
	return rtreego.NewRect(rtreego.Point(lo), lengths)
}

/*
NewGroundExcavator indexes the footprints; invalid footprints are skipped.
*/
func NewGroundExcavator(footprints []Polygon3D) (*GroundExcavator, error) {
	e := &GroundExcavator{}
	objects := make([]rtreego.Spatial, 0, len(footprints))
	for _, p := range footprints {
		if len(p.Exterior) < 3 {
			continue
		}
		geometry, err := newGDALPolygon(p)
		if err != nil {
			slog.Debug("skipping invalid footprint", "error", err)
			continue
		}
		b := p.Bounds()
		rect, err := rectFromBounds([]float64{b.Min[0], b.Min[1]}, []float64{b.Max[0], b.Max[1]})
		if err != nil {
			geometry.Close()
			return nil, fmt.Errorf("error [%w] at rtreego.NewRect()", err)
		}
		f := &footprint{polygon: p, geometry: geometry, rect: rect}
		e.footprints = append(e.footprints, f)
		objects = append(objects, f)
	}
	e.index = rtreego.NewTree(2, 25, 50, objects...)
	return e, nil
}

/*
Close releases the footprint geometries.
*/
func (e *GroundExcavator) Close() {
	for _, f := range e.footprints {
		f.geometry.Close()
	}
	e.footprints = nil
}

/*
Excavate yields the terrain triangles with the footprint areas cut out.
Fully covered triangles are dropped.
*/
func (e *GroundExcavator) Excavate(triangles iter.Seq[Triangle]) iter.Seq[Triangle] {
	return e.process(triangles, 0, false)
}

/*
Lower yields the terrain triangles with the footprint areas lowered by depth.
*/
func (e *GroundExcavator) Lower(triangles iter.Seq[Triangle], depth float64) iter.Seq[Triangle] {
	return e.process(triangles, depth, true)
}

func (e *GroundExcavator) process(triangles iter.Seq[Triangle], depth float64, keepCovered bool) iter.Seq[Triangle] {
	return func(yield func(Triangle) bool) {
		for t := range triangles {
			candidates := e.candidates(t)
			if len(candidates) == 0 {
				if !yield(t) {
					return
				}
				continue
			}
			outside, covered, err := e.split(t, candidates, keepCovered)
			if err != nil {
				// keep the triangle only if it is clearly outside every footprint
				slog.Debug("excavation of triangle failed", "error", err)
				c := t.Centroid()
				inside := false
				for _, f := range candidates {
					if f.polygon.Contains(c.X, c.Y) {
						inside = true
						break
					}
				}
				if !inside || keepCovered {
					if keepCovered && inside {
						t = t.shifted(-depth)
					}
					if !yield(t) {
						return
					}
				}
				continue
			}
			for _, part := range outside {
				if !yield(part) {
					return
				}
			}
			for _, part := range covered {
				if !yield(part.shifted(-depth)) {
					return
				}
			}
		}
	}
}

/*
candidates returns the footprints whose bounds intersect the triangle's bounds.
*/
func (e *GroundExcavator) candidates(t Triangle) []*footprint {
	if e.index == nil || len(e.footprints) == 0 {
		return nil
	}
	lo, hi := t.Bounds()
	rect, err := rectFromBounds([]float64{lo.X, lo.Y}, []float64{hi.X, hi.Y})
	if err != nil {
		return nil
	}
	found := e.index.SearchIntersect(rect)
	out := make([]*footprint, 0, len(found))
	for _, s := range found {
		out = append(out, s.(*footprint))
	}
	return out
}

/*
split cuts the triangle by the union of the candidate footprints.
*/
func (e *GroundExcavator) split(t Triangle, candidates []*footprint, withCovered bool) ([]Triangle, []Triangle, error) {
	triangle, err := newGDALPolygon(Polygon3D{Exterior: Ring{t[0], t[1], t[2]}})
	if err != nil {
		return nil, nil, err
	}
	defer triangle.Close()

	union := candidates[0].geometry
	for _, f := range candidates[1:] {
		merged, err := union.Union(f.geometry)
		if err != nil {
			return nil, nil, fmt.Errorf("error [%w] at geometry.Union()", err)
		}
		if union != candidates[0].geometry {
			union.Close()
		}
		union = merged
	}
	if union != candidates[0].geometry {
		defer union.Close()
	}

	if !triangle.Intersects(union) {
		return []Triangle{t}, nil, nil
	}

	difference, err := triangle.Difference(union)
	if err != nil {
		return nil, nil, fmt.Errorf("error [%w] at geometry.Difference()", err)
	}
	defer difference.Close()
	outside, err := retriangulate(difference, t)
	if err != nil {
		return nil, nil, err
	}
	if !withCovered {
		return outside, nil, nil
	}

	intersection, err := triangle.Intersection(union)
	if err != nil {
		return nil, nil, fmt.Errorf("error [%w] at geometry.Intersection()", err)
	}
	defer intersection.Close()
	covered, err := retriangulate(intersection, t)
	if err != nil {
		return nil, nil, err
	}
	return outside, covered, nil
}

/*
retriangulate converts a clipped part of a terrain triangle back into triangles lying on
the plane of the source triangle.
*/
func retriangulate(part *godal.Geometry, source Triangle) ([]Triangle, error) {
	if part.Empty() {
		return nil, nil
	}
	g, err := sourceFromGDAL(part)
	if err != nil {
		return nil, err
	}
	var out []Triangle
	for _, p := range g.Polygons {
		for _, t := range TriangulatePolygon(p) {
			for i := range t {
				if z, ok := source.PlaneZ(t[i].X, t[i].Y); ok {
					t[i].Z = z
				}
			}
			if math.Abs(t.SignedArea2D()) < sliverArea {
				continue
			}
			out = append(out, t.CounterClockwise())
		}
	}
	return out, nil
}

/*
shifted returns the triangle moved vertically by dz.
*/
func (t Triangle) shifted(dz float64) Triangle {
	for i := range t {
		t[i].Z += dz
	}
	return t
}
