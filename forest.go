package main

import (
	"fmt"
	"iter"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/spatial/r3"
)

// ForestKind selects the canopy generator for a forest or tree source.
type ForestKind int

const (
	ForestStandard ForestKind = iota // standard and dense forest
	ForestOpen                       // open forest, e.g. national parks
	ForestBush                       // bush vegetation, e.g. vineyards, orchards
)

// allForestKinds lists every forest kind, used for the generator table check
var allForestKinds = []ForestKind{ForestStandard, ForestOpen, ForestBush}

func (k ForestKind) String() string {
	switch k {
	case ForestStandard:
		return "STANDARD"
	case ForestOpen:
		return "OPEN"
	case ForestBush:
		return "BUSH"
	default:
		return fmt.Sprintf("ForestKind(%d)", int(k))
	}
}

/*
ForestGenerator places tree-like volumes on a grid inside a footprint.
Jitter and sizes are derived from the position (sin hash) so generation is deterministic.
*/
type ForestGenerator struct {
	Spacing      float64 // grid spacing (m)
	MinHeight    float64 // tree height range (m)
	MaxHeight    float64
	MinCrown     float64 // crown diameter range (m)
	MaxCrown     float64
	TrunkShare   float64 // share of the height below the crown
	Jitter       float64 // max position jitter as share of spacing
	CoverageSkip float64 // share of grid positions left empty (clearings)
}

// forestGenerators maps every forest kind to its generator
var forestGenerators = map[ForestKind]ForestGenerator{
	ForestStandard: {Spacing: 6, MinHeight: 18, MaxHeight: 30, MinCrown: 5, MaxCrown: 8, TrunkShare: 0.35, Jitter: 0.3},
	ForestOpen:     {Spacing: 12, MinHeight: 12, MaxHeight: 25, MinCrown: 5, MaxCrown: 9, TrunkShare: 0.4, Jitter: 0.4, CoverageSkip: 0.3},
	ForestBush:     {Spacing: 3, MinHeight: 1.5, MaxHeight: 3, MinCrown: 1.5, MaxCrown: 2.5, TrunkShare: 0.2, Jitter: 0.1},
}

/*
validateForestGenerators checks that every forest kind has a usable generator.
*/
func validateForestGenerators() error {
	for _, kind := range allForestKinds {
		g, found := forestGenerators[kind]
		if !found {
			return fmt.Errorf("no forest generator for kind %s", kind)
		}
		if g.Spacing <= 0 || g.MinHeight <= 0 || g.MaxHeight < g.MinHeight || g.MinCrown <= 0 || g.MaxCrown < g.MinCrown {
			return fmt.Errorf("invalid forest generator for kind %s: %+v", kind, g)
		}
	}
	if len(forestGenerators) != len(allForestKinds) {
		return fmt.Errorf("forest generator table has %d entries, expected %d", len(forestGenerators), len(allForestKinds))
	}
	return nil
}

/*
forestGenerator returns the generator of a kind.
*/
func forestGenerator(kind ForestKind) (ForestGenerator, error) {
	g, found := forestGenerators[kind]
	if !found {
		return ForestGenerator{}, fmt.Errorf("no forest generator for kind %s", kind)
	}
	return g, nil
}

// hash01 maps a position to [0,1) deterministically
func hash01(x, y, a, b float64) float64 {
	v := math.Abs(math.Sin(x*a+y*b) * 43758.5453)
	return v - math.Floor(v)
}

/*
Positions returns the tree positions inside the footprint.
*/
func (g ForestGenerator) Positions(footprint orb.Polygon) []orb.Point {
	bound := footprint.Bound()
	var out []orb.Point
	// anchor the grid at multiples of the spacing so neighbouring footprints line up
	x0 := math.Floor(bound.Min[0]/g.Spacing) * g.Spacing
	y0 := math.Floor(bound.Min[1]/g.Spacing) * g.Spacing
	for x := x0; x <= bound.Max[0]; x += g.Spacing {
		for y := y0; y <= bound.Max[1]; y += g.Spacing {
			if g.CoverageSkip > 0 && hash01(x, y, 0.113, 0.271) < g.CoverageSkip {
				continue
			}
			jx := (hash01(x, y, 0.31, 0.47) - 0.5) * 2 * g.Jitter * g.Spacing
			jy := (hash01(x, y, 0.53, 0.29) - 0.5) * 2 * g.Jitter * g.Spacing
			p := orb.Point{x + jx, y + jy}
			if planar.PolygonContains(footprint, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

/*
Tree returns the faces of one tree volume (octahedral crown) standing on ground z.
*/
func (g ForestGenerator) Tree(p orb.Point, ground float64) []Polygon3D {
	h := g.MinHeight + (g.MaxHeight-g.MinHeight)*hash01(p[0], p[1], 0.37, 0.41)
	c := g.MinCrown + (g.MaxCrown-g.MinCrown)*hash01(p[0], p[1], 0.59, 0.31)
	r := c / 2

	bottom := r3.Vec{X: p[0], Y: p[1], Z: ground + h*g.TrunkShare}
	top := r3.Vec{X: p[0], Y: p[1], Z: ground + h}
	midZ := (bottom.Z + top.Z) / 2
	ring := [4]r3.Vec{
		{X: p[0] + r, Y: p[1], Z: midZ},
		{X: p[0], Y: p[1] + r, Z: midZ},
		{X: p[0] - r, Y: p[1], Z: midZ},
		{X: p[0], Y: p[1] - r, Z: midZ},
	}
	faces := make([]Polygon3D, 0, 8)
	for i := range ring {
		a, b := ring[i], ring[(i+1)%4]
		faces = append(faces,
			Polygon3D{Exterior: Ring{a, b, top}},
			Polygon3D{Exterior: Ring{b, a, bottom}},
		)
	}
	return faces
}

/*
Canopy yields all tree faces inside the footprint, draped on the elevation surface.
Trees without elevation coverage are skipped.
*/
func (g ForestGenerator) Canopy(footprint orb.Polygon, elevation ElevationHandler) iter.Seq[Polygon3D] {
	return func(yield func(Polygon3D) bool) {
		for _, p := range g.Positions(footprint) {
			z, err := elevation.Elevation(p[0], p[1])
			if err != nil {
				continue
			}
			for _, face := range g.Tree(p, z) {
				if !yield(face) {
					return
				}
			}
		}
	}
}
