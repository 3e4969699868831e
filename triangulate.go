package main

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// earVertex is a polygon vertex projected onto its dominant plane.
type earVertex struct {
	u, v float64
	p    r3.Vec
}

/*
TriangulatePolygon triangulates a planar polygon with holes by ear clipping.
The polygon is projected onto the plane its normal is most aligned with, so walls work
as well as roofs and ground polygons. Triangles of horizontal polygons are counter-clockwise.
*/
func TriangulatePolygon(p Polygon3D) []Triangle {
	if len(p.Exterior) < 3 {
		return nil
	}
	if len(p.Exterior) == 3 && len(p.Holes) == 0 {
		return []Triangle{orientLike(Triangle{p.Exterior[0], p.Exterior[1], p.Exterior[2]}, upward(newellNormal(p.Exterior)))}
	}

	normal := upward(newellNormal(p.Exterior))
	if r3.Norm(normal) < 1e-12 {
		return nil
	}
	project := projector(normal)

	outer := projectRing(p.Exterior, project)
	if signedArea(outer) < 0 {
		reverse(outer)
	}
	var holes [][]earVertex
	for _, h := range p.Holes {
		if len(h) < 3 {
			continue
		}
		ring := projectRing(h, project)
		if signedArea(ring) > 0 {
			reverse(ring)
		}
		holes = append(holes, ring)
	}

	merged := eliminateHoles(outer, holes)
	tris := earClip(merged)
	for i := range tris {
		tris[i] = orientLike(tris[i], normal)
	}
	return tris
}

/*
newellNormal computes the polygon normal robust against collinear vertices.
*/
func newellNormal(r Ring) r3.Vec {
	var n r3.Vec
	for i := range r {
		a := r[i]
		b := r[(i+1)%len(r)]
		n.X += (a.Y - b.Y) * (a.Z + b.Z)
		n.Y += (a.Z - b.Z) * (a.X + b.X)
		n.Z += (a.X - b.X) * (a.Y + b.Y)
	}
	return n
}

/*
upward flips normals pointing down, walls keep their ring orientation.
*/
func upward(n r3.Vec) r3.Vec {
	if n.Z < 0 {
		return r3.Scale(-1, n)
	}
	return n
}

/*
projector returns the 2D projection dropping the dominant normal axis.
*/
func projector(n r3.Vec) func(r3.Vec) (float64, float64) {
	ax, ay, az := math.Abs(n.X), math.Abs(n.Y), math.Abs(n.Z)
	switch {
	case az >= ax && az >= ay:
		return func(p r3.Vec) (float64, float64) { return p.X, p.Y }
	case ax >= ay:
		return func(p r3.Vec) (float64, float64) { return p.Y, p.Z }
	default:
		return func(p r3.Vec) (float64, float64) { return p.Z, p.X }
	}
}

/*
orientLike flips the triangle if its normal opposes the reference normal.
*/
func orientLike(t Triangle, normal r3.Vec) Triangle {
	if r3.Dot(t.Normal(), normal) < 0 {
		return Triangle{t[0], t[2], t[1]}
	}
	return t
}

func projectRing(r Ring, project func(r3.Vec) (float64, float64)) []earVertex {
	out := make([]earVertex, 0, len(r))
	for i, p := range r {
		// drop consecutive duplicates
		if i > 0 && p == r[i-1] {
			continue
		}
		u, v := project(p)
		out = append(out, earVertex{u: u, v: v, p: p})
	}
	if len(out) > 1 && out[0].p == out[len(out)-1].p {
		out = out[:len(out)-1]
	}
	return out
}

func signedArea(vs []earVertex) float64 {
	a := 0.0
	for i := range vs {
		j := (i + 1) % len(vs)
		a += vs[i].u*vs[j].v - vs[j].u*vs[i].v
	}
	return a / 2
}

func reverse(vs []earVertex) {
	for i, j := 0, len(vs)-1; i < j; i, j = i+1, j-1 {
		vs[i], vs[j] = vs[j], vs[i]
	}
}

func cross2(o, a, b earVertex) float64 {
	return (a.u-o.u)*(b.v-o.v) - (a.v-o.v)*(b.u-o.u)
}

func pointInTriangle(p, a, b, c earVertex) bool {
	d1 := cross2(a, b, p)
	d2 := cross2(b, c, p)
	d3 := cross2(c, a, p)
	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}

/*
eliminateHoles bridges every hole into the outer ring (holes sorted by rightmost vertex).
*/
func eliminateHoles(outer []earVertex, holes [][]earVertex) []earVertex {
	type hole struct {
		ring  []earVertex
		right int
	}
	hs := make([]hole, 0, len(holes))
	for _, h := range holes {
		right := 0
		for i := range h {
			if h[i].u > h[right].u {
				right = i
			}
		}
		hs = append(hs, hole{ring: h, right: right})
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].ring[hs[i].right].u > hs[j].ring[hs[j].right].u })

	poly := outer
	for _, h := range hs {
		poly = bridgeHole(poly, h.ring, h.right)
	}
	return poly
}

/*
bridgeHole connects hole vertex m with a visible vertex of the polygon.
*/
func bridgeHole(poly, ring []earVertex, mi int) []earVertex {
	m := ring[mi]

	// cast ray from m to +u and find the nearest edge crossing
	best := -1
	bestU := math.Inf(1)
	for i := range poly {
		a := poly[i]
		b := poly[(i+1)%len(poly)]
		if (a.v > m.v) == (b.v > m.v) {
			if a.v == m.v && a.u >= m.u && a.u < bestU {
				bestU = a.u
				best = i
			}
			continue
		}
		u := a.u + (m.v-a.v)*(b.u-a.u)/(b.v-a.v)
		if u >= m.u && u < bestU {
			bestU = u
			if a.u > b.u {
				best = i
			} else {
				best = (i + 1) % len(poly)
			}
		}
	}
	if best < 0 {
		// hole outside polygon, ignore it
		return poly
	}

	// a reflex vertex inside triangle (m, intersection, candidate) blocks the view, take the one with smallest angle
	intersection := earVertex{u: bestU, v: m.v}
	candidate := poly[best]
	bestAngle := math.Inf(1)
	for i := range poly {
		p := poly[i]
		if i == best || p.u < m.u {
			continue
		}
		prev := poly[(i-1+len(poly))%len(poly)]
		next := poly[(i+1)%len(poly)]
		if cross2(prev, p, next) >= 0 {
			continue // convex
		}
		if !pointInTriangle(p, m, intersection, candidate) {
			continue
		}
		angle := math.Abs(math.Atan2(p.v-m.v, p.u-m.u))
		if angle < bestAngle {
			bestAngle = angle
			best = i
		}
	}

	out := make([]earVertex, 0, len(poly)+len(ring)+2)
	out = append(out, poly[:best+1]...)
	for k := 0; k <= len(ring); k++ {
		out = append(out, ring[(mi+k)%len(ring)])
	}
	out = append(out, poly[best])
	out = append(out, poly[best+1:]...)
	return out
}

/*
earClip triangulates a simple counter-clockwise polygon (bridged holes allowed).
*/
func earClip(vs []earVertex) []Triangle {
	n := len(vs)
	if n < 3 {
		return nil
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	tris := make([]Triangle, 0, n-2)

	guard := 0
	for len(idx) > 3 && guard < 2*n*n {
		guard++
		found := false
		for k := range idx {
			i0 := idx[(k-1+len(idx))%len(idx)]
			i1 := idx[k]
			i2 := idx[(k+1)%len(idx)]
			a, b, c := vs[i0], vs[i1], vs[i2]
			area := cross2(a, b, c)
			if area == 0 {
				// collinear corner, the middle vertex carries no area
				idx = append(idx[:k], idx[k+1:]...)
				found = true
				break
			}
			if area < 0 {
				continue
			}
			if earBlocked(vs, idx, i0, i1, i2) {
				continue
			}
			tris = append(tris, Triangle{a.p, b.p, c.p})
			idx = append(idx[:k], idx[k+1:]...)
			found = true
			break
		}
		if !found {
			// self intersecting remainder, clip the first corner anyway
			tris = append(tris, Triangle{vs[idx[len(idx)-1]].p, vs[idx[0]].p, vs[idx[1]].p})
			idx = idx[1:]
		}
	}
	if len(idx) == 3 && cross2(vs[idx[0]], vs[idx[1]], vs[idx[2]]) != 0 {
		tris = append(tris, Triangle{vs[idx[0]].p, vs[idx[1]].p, vs[idx[2]].p})
	}
	return tris
}

/*
earBlocked checks whether another vertex lies inside the candidate ear.
Vertices coinciding with the ear corners (bridge duplicates) are ignored.
*/
func earBlocked(vs []earVertex, idx []int, i0, i1, i2 int) bool {
	a, b, c := vs[i0], vs[i1], vs[i2]
	for _, j := range idx {
		if j == i0 || j == i1 || j == i2 {
			continue
		}
		p := vs[j]
		if (p.u == a.u && p.v == a.v) || (p.u == b.u && p.v == b.v) || (p.u == c.u && p.v == c.v) {
			continue
		}
		if pointInTriangle(p, a, b, c) {
			return true
		}
	}
	return false
}
