package main

import (
	"iter"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/spatial/r3"
)

/*
GeometryTransformer converts a raw source geometry into 3D polygons.
*/
type GeometryTransformer interface {
	Transform(g SourceGeometry) iter.Seq[Polygon3D]
}

/*
DrapeTransformer drapes polygons on the elevation surface (plus offset) and expands lines
into ribbons first. Bridges with z values in the source keep their z values.
*/
type DrapeTransformer struct {
	Elevation ElevationHandler
	Offset    float64
	Width     func(Properties) float64 // ribbon width for lines, nil: lines are ignored
	Extension Extension
	IsBridge  func(Properties) bool
}

/*
Transform yields the draped polygons of a geometry; parts without elevation coverage are skipped.
*/
func (d DrapeTransformer) Transform(g SourceGeometry) iter.Seq[Polygon3D] {
	return func(yield func(Polygon3D) bool) {
		bridge := g.HasZ && d.IsBridge != nil && d.IsBridge(g.Properties)

		emit := func(p Polygon3D) bool {
			if bridge {
				return yield(p)
			}
			draped, ok := d.drape(p)
			if !ok {
				return true
			}
			return yield(draped)
		}

		for _, p := range g.Polygons {
			if !emit(p) {
				return
			}
		}
		if d.Width == nil {
			return
		}
		width := d.Width(g.Properties)
		if width <= 0 {
			return
		}
		for _, line := range g.Lines {
			ribbon, err := ExpandLine(line, width, d.Extension)
			if err != nil {
				slog.Debug("skipping line", "error", err, "vertices", len(line))
				continue
			}
			if !emit(ribbon) {
				return
			}
		}
	}
}

/*
drape sets each vertex z to terrain height plus offset.
*/
func (d DrapeTransformer) drape(p Polygon3D) (Polygon3D, bool) {
	ring := func(r Ring) (Ring, bool) {
		out := make(Ring, len(r))
		for i, v := range r {
			z, err := d.Elevation.Elevation(v.X, v.Y)
			if err != nil {
				slog.Debug("skipping polygon outside elevation coverage", "error", err)
				return nil, false
			}
			out[i] = r3.Vec{X: v.X, Y: v.Y, Z: z + d.Offset}
		}
		return out, true
	}
	var out Polygon3D
	var ok bool
	out.Exterior, ok = ring(p.Exterior)
	if !ok {
		return out, false
	}
	for _, h := range p.Holes {
		hole, ok := ring(h)
		if !ok {
			return out, false
		}
		out.Holes = append(out.Holes, hole)
	}
	return out, true
}

/*
BuildingTransformer extrudes footprints into prisms (roof and walls) standing on the
lowest terrain point of the footprint.
*/
type BuildingTransformer struct {
	Elevation        ElevationHandler
	DefaultHeight    float64
	HeightAttributes []string
}

/*
height returns the building height from the first usable attribute.
*/
func (b BuildingTransformer) height(props Properties) float64 {
	for _, attribute := range b.HeightAttributes {
		if h, ok := props.Float(attribute); ok && h > 0 {
			return h
		}
	}
	return b.DefaultHeight
}

/*
Transform yields roof and wall polygons of every footprint.
*/
func (b BuildingTransformer) Transform(g SourceGeometry) iter.Seq[Polygon3D] {
	return func(yield func(Polygon3D) bool) {
		height := b.height(g.Properties)
		for _, footprint := range g.Polygons {
			base := math.Inf(1)
			covered := true
			for _, v := range footprint.Exterior {
				z, err := b.Elevation.Elevation(v.X, v.Y)
				if err != nil {
					covered = false
					break
				}
				base = math.Min(base, z)
			}
			if !covered || len(footprint.Exterior) < 3 {
				continue
			}
			top := base + height

			lift := func(r Ring, z float64) Ring {
				out := make(Ring, len(r))
				for i, v := range r {
					out[i] = r3.Vec{X: v.X, Y: v.Y, Z: z}
				}
				return out
			}
			roof := Polygon3D{Exterior: lift(footprint.Exterior, top)}
			for _, h := range footprint.Holes {
				roof.Holes = append(roof.Holes, lift(h, top))
			}
			if !yield(roof) {
				return
			}

			for _, r := range append([]Ring{footprint.Exterior}, footprint.Holes...) {
				for i := range r {
					a, c := r[i], r[(i+1)%len(r)]
					wall := Polygon3D{Exterior: Ring{
						{X: a.X, Y: a.Y, Z: base},
						{X: c.X, Y: c.Y, Z: base},
						{X: c.X, Y: c.Y, Z: top},
						{X: a.X, Y: a.Y, Z: top},
					}}
					if !yield(wall) {
						return
					}
				}
			}
		}
	}
}

/*
ForestTransformer delegates footprints and single trees to the generator of their forest kind.
*/
type ForestTransformer struct {
	Elevation ElevationHandler
	Kind      func(Properties) ForestKind
}

/*
Transform yields the canopy volumes of forest footprints and tree points.
*/
func (f ForestTransformer) Transform(g SourceGeometry) iter.Seq[Polygon3D] {
	return func(yield func(Polygon3D) bool) {
		kind := ForestStandard
		if f.Kind != nil {
			kind = f.Kind(g.Properties)
		}
		generator, err := forestGenerator(kind)
		if err != nil {
			slog.Warn("skipping forest geometry", "error", err)
			return
		}

		for _, footprint := range g.Polygons {
			for face := range generator.Canopy(footprint.ToOrb(), f.Elevation) {
				if !yield(face) {
					return
				}
			}
		}
		for _, p := range g.Points {
			z, err := f.Elevation.Elevation(p.X, p.Y)
			if err != nil {
				continue
			}
			for _, face := range generator.Tree(orb.Point{p.X, p.Y}, z) {
				if !yield(face) {
					return
				}
			}
		}
	}
}
