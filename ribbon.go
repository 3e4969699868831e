package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Extension defines on which side of a line a ribbon is built.
type Extension int

const (
	ExtensionSymmetric Extension = iota
	ExtensionLeft
	ExtensionRight
)

func (e Extension) String() string {
	switch e {
	case ExtensionSymmetric:
		return "SYMMETRIC"
	case ExtensionLeft:
		return "LEFT"
	case ExtensionRight:
		return "RIGHT"
	default:
		return fmt.Sprintf("Extension(%d)", int(e))
	}
}

// miter joins longer than this multiple of the half width become bevels
const miterLimit = 4.0

/*
ExpandLine expands a line into a ribbon polygon of the given width with flat caps.
Left is the side to the left of the direction of travel.
Vertex z values are taken from the originating line vertex.
*/
func ExpandLine(line Path, width float64, extension Extension) (Polygon3D, error) {
	line = dedupe(line)
	if len(line) < 2 {
		return Polygon3D{}, fmt.Errorf("%w: line with %d distinct vertices", ErrInvalidGeometry, len(line))
	}
	if width <= 0 {
		return Polygon3D{}, fmt.Errorf("%w: ribbon width %.3f", ErrInvalidGeometry, width)
	}

	var leftWidth, rightWidth float64
	switch extension {
	case ExtensionSymmetric:
		leftWidth, rightWidth = width/2, width/2
	case ExtensionLeft:
		leftWidth = width
	case ExtensionRight:
		rightWidth = width
	default:
		return Polygon3D{}, fmt.Errorf("unknown extension %v", extension)
	}

	left := offsetLine(line, leftWidth)
	right := offsetLine(line, -rightWidth)

	ring := make(Ring, 0, len(left)+len(right))
	ring = append(ring, right...)
	for i := len(left) - 1; i >= 0; i-- {
		ring = append(ring, left[i])
	}
	ring = dedupeRing(ring)
	if len(ring) < 3 {
		return Polygon3D{}, fmt.Errorf("%w: degenerate ribbon", ErrInvalidGeometry)
	}
	if ring.SignedArea() < 0 {
		ring = ring.Reversed()
	}
	return Polygon3D{Exterior: ring}, nil
}

/*
offsetLine offsets a line by d to the left (negative d = right) with miter joins.
*/
func offsetLine(line Path, d float64) []r3.Vec {
	if d == 0 {
		return append([]r3.Vec(nil), line...)
	}
	normals := make([]r3.Vec, len(line)-1)
	for i := range normals {
		dx := line[i+1].X - line[i].X
		dy := line[i+1].Y - line[i].Y
		l := math.Hypot(dx, dy)
		normals[i] = r3.Vec{X: -dy / l, Y: dx / l}
	}

	out := make([]r3.Vec, 0, len(line)+4)
	shift := func(p r3.Vec, n r3.Vec, f float64) r3.Vec {
		return r3.Vec{X: p.X + n.X*f, Y: p.Y + n.Y*f, Z: p.Z}
	}
	out = append(out, shift(line[0], normals[0], d))
	for i := 1; i < len(line)-1; i++ {
		n0, n1 := normals[i-1], normals[i]
		bisector := r3.Vec{X: n0.X + n1.X, Y: n0.Y + n1.Y}
		bl := math.Hypot(bisector.X, bisector.Y)
		cosHalf := bl / 2
		if bl < 1e-9 || 1/cosHalf > miterLimit {
			// sharp turn: bevel
			out = append(out, shift(line[i], n0, d), shift(line[i], n1, d))
			continue
		}
		bisector = r3.Vec{X: bisector.X / bl, Y: bisector.Y / bl}
		out = append(out, shift(line[i], bisector, d/cosHalf))
	}
	out = append(out, shift(line[len(line)-1], normals[len(normals)-1], d))
	return out
}

func dedupe(line Path) Path {
	out := make(Path, 0, len(line))
	for _, p := range line {
		if len(out) > 0 && math.Abs(out[len(out)-1].X-p.X) < 1e-9 && math.Abs(out[len(out)-1].Y-p.Y) < 1e-9 {
			continue
		}
		out = append(out, p)
	}
	return out
}

func dedupeRing(r Ring) Ring {
	out := Ring(dedupe(Path(r)))
	if n := len(out); n > 1 && math.Abs(out[0].X-out[n-1].X) < 1e-9 && math.Abs(out[0].Y-out[n-1].Y) < 1e-9 {
		out = out[:n-1]
	}
	return out
}
