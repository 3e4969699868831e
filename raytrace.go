package main

import (
	"fmt"
	"math"

	"github.com/dhconnelly/rtreego"
	"gonum.org/v1/gonum/spatial/r3"
)

// rays start this far from their origin to avoid self hits
const rayEpsilon = 1e-3

type indexedTriangle struct {
	TaggedTriangle
	rect rtreego.Rect
}

func (t *indexedTriangle) Bounds() rtreego.Rect {
	return t.rect
}

/*
TriangleIndex answers ray queries against a triangle mesh (3D rtree).
Rays are marched in steps; only triangles intersecting the current step box are tested.
*/
type TriangleIndex struct {
	tree  *rtreego.Rtree
	count int
	min   r3.Vec
	max   r3.Vec
	Step  float64 // march step length (m)
}

/*
NewTriangleIndex builds the index over the given triangles.
*/
func NewTriangleIndex(triangles []TaggedTriangle) (*TriangleIndex, error) {
	index := &TriangleIndex{
		Step: 25,
		min:  r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)},
		max:  r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)},
	}
	objects := make([]rtreego.Spatial, 0, len(triangles))
	for _, t := range triangles {
		lo, hi := t.Triangle.Bounds()
		rect, err := rectFromBounds([]float64{lo.X, lo.Y, lo.Z}, []float64{hi.X, hi.Y, hi.Z})
		if err != nil {
			return nil, fmt.Errorf("error [%w] at rtreego.NewRect()", err)
		}
		objects = append(objects, &indexedTriangle{TaggedTriangle: t, rect: rect})
		index.min = r3.Vec{X: math.Min(index.min.X, lo.X), Y: math.Min(index.min.Y, lo.Y), Z: math.Min(index.min.Z, lo.Z)}
		index.max = r3.Vec{X: math.Max(index.max.X, hi.X), Y: math.Max(index.max.Y, hi.Y), Z: math.Max(index.max.Z, hi.Z)}
	}
	index.tree = rtreego.NewTree(3, 25, 50, objects...)
	index.count = len(objects)
	return index, nil
}

/*
Len returns the number of indexed triangles.
*/
func (x *TriangleIndex) Len() int {
	return x.count
}

/*
Reach returns the distance from p to the farthest corner of the mesh bounds.
*/
func (x *TriangleIndex) Reach(p r3.Vec) float64 {
	if x.count == 0 {
		return 0
	}
	dx := math.Max(math.Abs(p.X-x.min.X), math.Abs(p.X-x.max.X))
	dy := math.Max(math.Abs(p.Y-x.min.Y), math.Abs(p.Y-x.max.Y))
	dz := math.Max(math.Abs(p.Z-x.min.Z), math.Abs(p.Z-x.max.Z))
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

/*
FirstHit returns the nearest triangle hit by the ray within maxDistance and the hit distance.
dir must be normalized.
*/
func (x *TriangleIndex) FirstHit(origin, dir r3.Vec, maxDistance float64) (TaggedTriangle, float64, bool) {
	if x.count == 0 || maxDistance <= rayEpsilon {
		return TaggedTriangle{}, 0, false
	}
	step := x.Step
	if step <= 0 {
		step = 25
	}
	for start := 0.0; start < maxDistance; start += step {
		end := math.Min(start+step, maxDistance)
		a := r3.Add(origin, r3.Scale(start, dir))
		b := r3.Add(origin, r3.Scale(end, dir))
		rect, err := rectFromBounds(
			[]float64{math.Min(a.X, b.X), math.Min(a.Y, b.Y), math.Min(a.Z, b.Z)},
			[]float64{math.Max(a.X, b.X), math.Max(a.Y, b.Y), math.Max(a.Z, b.Z)},
		)
		if err != nil {
			return TaggedTriangle{}, 0, false
		}

		best := math.Inf(1)
		var hit TaggedTriangle
		for _, s := range x.tree.SearchIntersect(rect) {
			t := s.(*indexedTriangle)
			d, ok := intersectRay(origin, dir, t.Triangle)
			if ok && d > rayEpsilon && d <= maxDistance && d < best {
				best = d
				hit = t.TaggedTriangle
			}
		}
		// hits beyond this step are found again (nearer ones, possibly) in a later step
		if best <= end {
			return hit, best, true
		}
	}
	return TaggedTriangle{}, 0, false
}

/*
Occluded checks whether any triangle blocks the segment between from and to.
*/
func (x *TriangleIndex) Occluded(from, to r3.Vec) bool {
	d := r3.Sub(to, from)
	length := r3.Norm(d)
	if length <= rayEpsilon {
		return false
	}
	_, _, hit := x.FirstHit(from, r3.Scale(1/length, d), length-rayEpsilon)
	return hit
}

/*
intersectRay returns the distance along the ray to the triangle (Möller–Trumbore).
*/
func intersectRay(origin, dir r3.Vec, t Triangle) (float64, bool) {
	const eps = 1e-12
	e1 := r3.Sub(t[1], t[0])
	e2 := r3.Sub(t[2], t[0])
	p := r3.Cross(dir, e2)
	det := r3.Dot(e1, p)
	if math.Abs(det) < eps {
		return 0, false
	}
	inv := 1 / det
	s := r3.Sub(origin, t[0])
	u := r3.Dot(s, p) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	q := r3.Cross(s, e1)
	v := r3.Dot(dir, q) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	return r3.Dot(e2, q) * inv, true
}
