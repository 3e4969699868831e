package main

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/spatial/r3"
)

// Triangle represents an immutable triangle in the working CRS (meters).
type Triangle [3]r3.Vec

// TaggedTriangle represents a triangle together with its surrounding type.
type TaggedTriangle struct {
	Type     SurroundingType
	Triangle Triangle
}

// Path represents a line string (2D or 3D).
type Path []r3.Vec

// Ring represents a polygon ring without closing vertex.
type Ring []r3.Vec

// Polygon3D represents a polygon with exterior ring and optional holes.
type Polygon3D struct {
	Exterior Ring
	Holes    []Ring
}

// Properties represents the attribute table entries of a source geometry.
type Properties map[string]any

// SourceGeometry represents a raw vector geometry as delivered by a provider.
type SourceGeometry struct {
	Points     []r3.Vec
	Lines      []Path
	Polygons   []Polygon3D
	HasZ       bool
	Properties Properties
	EPSG       int
}

// BoundingBox represents an axis-aligned box in a projected or geographic CRS.
type BoundingBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
	EPSG int
}

// LatLonBounds represents a geographic bounding box (WGS84).
type LatLonBounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

/*
Centroid returns the centroid of the triangle.
*/
func (t Triangle) Centroid() r3.Vec {
	return r3.Scale(1.0/3.0, r3.Add(r3.Add(t[0], t[1]), t[2]))
}

/*
Normal returns the (not normalized) normal vector of the triangle.
*/
func (t Triangle) Normal() r3.Vec {
	return r3.Cross(r3.Sub(t[1], t[0]), r3.Sub(t[2], t[0]))
}

/*
SignedArea2D returns the signed area of the triangle's xy projection (positive = counter-clockwise).
*/
func (t Triangle) SignedArea2D() float64 {
	return 0.5 * ((t[1].X-t[0].X)*(t[2].Y-t[0].Y) - (t[2].X-t[0].X)*(t[1].Y-t[0].Y))
}

/*
CounterClockwise returns the triangle with counter-clockwise winding seen from above.
*/
func (t Triangle) CounterClockwise() Triangle {
	if t.SignedArea2D() < 0 {
		return Triangle{t[0], t[2], t[1]}
	}
	return t
}

/*
Bounds returns the 3D axis-aligned bounds of the triangle.
*/
func (t Triangle) Bounds() (r3.Vec, r3.Vec) {
	lo := r3.Vec{X: math.Min(t[0].X, math.Min(t[1].X, t[2].X)), Y: math.Min(t[0].Y, math.Min(t[1].Y, t[2].Y)), Z: math.Min(t[0].Z, math.Min(t[1].Z, t[2].Z))}
	hi := r3.Vec{X: math.Max(t[0].X, math.Max(t[1].X, t[2].X)), Y: math.Max(t[0].Y, math.Max(t[1].Y, t[2].Y)), Z: math.Max(t[0].Z, math.Max(t[1].Z, t[2].Z))}
	return lo, hi
}

/*
PlaneZ returns the z value of the triangle's plane at (x, y).
Second return is false for triangles that are vertical or degenerate in xy.
*/
func (t Triangle) PlaneZ(x, y float64) (float64, bool) {
	n := t.Normal()
	if math.Abs(n.Z) < 1e-12 {
		return 0, false
	}
	return t[0].Z - (n.X*(x-t[0].X)+n.Y*(y-t[0].Y))/n.Z, true
}

/*
SignedArea returns the signed area of the ring's xy projection.
*/
func (r Ring) SignedArea() float64 {
	area := 0.0
	n := len(r)
	for i := range n {
		j := (i + 1) % n
		area += r[i].X*r[j].Y - r[j].X*r[i].Y
	}
	return area / 2
}

/*
Reversed returns a copy of the ring in opposite order.
*/
func (r Ring) Reversed() Ring {
	out := make(Ring, len(r))
	for i, v := range r {
		out[len(r)-1-i] = v
	}
	return out
}

/*
ToOrb converts the ring into a closed orb ring (xy only).
*/
func (r Ring) ToOrb() orb.Ring {
	out := make(orb.Ring, 0, len(r)+1)
	for _, v := range r {
		out = append(out, orb.Point{v.X, v.Y})
	}
	if len(out) > 0 {
		out = append(out, out[0])
	}
	return out
}

/*
ToOrb converts the polygon into an orb polygon (xy only).
*/
func (p Polygon3D) ToOrb() orb.Polygon {
	out := make(orb.Polygon, 0, 1+len(p.Holes))
	out = append(out, p.Exterior.ToOrb())
	for _, h := range p.Holes {
		out = append(out, h.ToOrb())
	}
	return out
}

/*
polygonFromOrb converts an orb polygon into a flat polygon at height z.
*/
func polygonFromOrb(p orb.Polygon, z float64) Polygon3D {
	var out Polygon3D
	for i, ring := range p {
		r := ringFromOrb(ring, z)
		if i == 0 {
			out.Exterior = r
		} else {
			out.Holes = append(out.Holes, r)
		}
	}
	return out
}

func ringFromOrb(ring orb.Ring, z float64) Ring {
	n := len(ring)
	if n > 1 && ring[0].Equal(ring[n-1]) {
		n--
	}
	out := make(Ring, 0, n)
	for _, pt := range ring[:n] {
		out = append(out, r3.Vec{X: pt[0], Y: pt[1], Z: z})
	}
	return out
}

/*
Area returns the xy area of the polygon (holes subtracted).
*/
func (p Polygon3D) Area() float64 {
	return planar.Area(p.ToOrb())
}

/*
Contains checks whether the xy point lies inside the polygon.
*/
func (p Polygon3D) Contains(x, y float64) bool {
	return planar.PolygonContains(p.ToOrb(), orb.Point{x, y})
}

/*
Bounds returns the xy bounds of the polygon.
*/
func (p Polygon3D) Bounds() orb.Bound {
	return p.Exterior.ToOrb().Bound()
}

/*
Vertices iterates over all vertices of the polygon.
*/
func (p Polygon3D) Vertices() []r3.Vec {
	out := append([]r3.Vec{}, p.Exterior...)
	for _, h := range p.Holes {
		out = append(out, h...)
	}
	return out
}

/*
String returns the attribute value as string.
*/
func (p Properties) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

/*
Float returns the attribute value as float (strings are parsed).
*/
func (p Properties) Float(key string) (float64, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

/*
Bound returns the xy bounds of all parts of the geometry.
*/
func (g SourceGeometry) Bound() orb.Bound {
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	extend := func(v r3.Vec) {
		b = b.Extend(orb.Point{v.X, v.Y})
	}
	for _, v := range g.Points {
		extend(v)
	}
	for _, l := range g.Lines {
		for _, v := range l {
			extend(v)
		}
	}
	for _, p := range g.Polygons {
		for _, v := range p.Exterior {
			extend(v)
		}
	}
	return b
}

/*
Empty checks whether the geometry has no parts.
*/
func (g SourceGeometry) Empty() bool {
	return len(g.Points) == 0 && len(g.Lines) == 0 && len(g.Polygons) == 0
}

/*
NewBoundingBox builds a box centered on (x, y) extended by margin in each direction.
*/
func NewBoundingBox(x, y, margin float64, epsg int) BoundingBox {
	return BoundingBox{MinX: x - margin, MinY: y - margin, MaxX: x + margin, MaxY: y + margin, EPSG: epsg}
}

/*
Contains checks whether (x, y) lies inside the box (borders included).
*/
func (b BoundingBox) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

/*
Intersects checks whether the box intersects the given bound.
*/
func (b BoundingBox) Intersects(o orb.Bound) bool {
	return !(o.Max[0] < b.MinX || o.Min[0] > b.MaxX || o.Max[1] < b.MinY || o.Min[1] > b.MaxY)
}

/*
Bound returns the box as orb bound.
*/
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

/*
Polygon returns the box as a flat polygon (counter-clockwise).
*/
func (b BoundingBox) Polygon() Polygon3D {
	return Polygon3D{Exterior: Ring{
		{X: b.MinX, Y: b.MinY},
		{X: b.MaxX, Y: b.MinY},
		{X: b.MaxX, Y: b.MaxY},
		{X: b.MinX, Y: b.MaxY},
	}}
}

/*
Center returns the center of the box.
*/
func (b BoundingBox) Center() (float64, float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}
