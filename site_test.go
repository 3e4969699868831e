package main

import (
	"context"
	"iter"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSiteWithoutOwnBuildings(t *testing.T) {
	factory := &SurroundingsFactory{WorkingEPSG: EPSGLV95}
	own := Polygon3D{Exterior: square(0, 0, 10, 0)}
	site := factory.NewSite(5, 5, nil, []Polygon3D{own})

	roof := TaggedTriangle{Type: Buildings, Triangle: Triangle{{X: 1, Y: 1, Z: 10}, {X: 9, Y: 1, Z: 10}, {X: 9, Y: 9, Z: 10}}}
	// wall triangle: centroid on the footprint edge
	wall := TaggedTriangle{Type: Buildings, Triangle: Triangle{{X: 0, Y: 2}, {X: 0, Y: 8}, {X: 0, Y: 8, Z: 10}}}
	// neighbour wall 2 m away
	neighbour := TaggedTriangle{Type: Buildings, Triangle: Triangle{{X: 12, Y: 2}, {X: 12, Y: 8}, {X: 12, Y: 8, Z: 10}}}
	tree := TaggedTriangle{Type: Trees, Triangle: Triangle{{X: 20, Y: 20}, {X: 21, Y: 20}, {X: 21, Y: 21}}}

	kept := site.WithoutOwnBuildings([]TaggedTriangle{roof, neighbour, wall, tree})
	assert.Equal(t, []TaggedTriangle{neighbour, tree}, kept)

	bare := factory.NewSite(5, 5, nil, nil)
	assert.Len(t, bare.WithoutOwnBuildings([]TaggedTriangle{roof, wall}), 2)
}

func TestSurroundingsFactoryRegion(t *testing.T) {
	factory := &SurroundingsFactory{WorkingEPSG: EPSGLV95, Margins: map[SurroundingType]float64{Buildings: 100}}

	assert.Equal(t, BoundingBox{MinX: 2599900, MinY: 1199900, MaxX: 2600100, MaxY: 1200100, EPSG: EPSGLV95},
		factory.Region(Buildings, 2600000, 1200000))
	lakes := factory.Region(Lakes, 2600000, 1200000)
	assert.Equal(t, 2*defaultMargins[Lakes], lakes.MaxX-lakes.MinX)
}

func TestSiteWithoutElevationTiles(t *testing.T) {
	site := (&SurroundingsFactory{WorkingEPSG: EPSGLV95}).NewSite(2600000, 1200000, nil, nil)
	_, err := site.window()
	assert.ErrorIs(t, err, ErrOutOfCoverage)
}

func TestLowestGround(t *testing.T) {
	footprint := Polygon3D{Exterior: square(10, 0, 20, 0)}
	z, err := lowestGround(planeElevation{base: 400, slope: 0.1}, footprint)
	require.NoError(t, err)
	assert.InDelta(t, 401.0, z, 1e-9)

	_, err = lowestGround(planeElevation{base: 400}, Polygon3D{Exterior: square(-5, 0, 10, 0)})
	assert.ErrorIs(t, err, ErrOutOfCoverage)
}

// listProvider yields fixed geometries and records the queried regions
type listProvider struct {
	geometries []SourceGeometry
	err        error
	regions    []BoundingBox
}

func (p *listProvider) Geometries(_ context.Context, region BoundingBox) iter.Seq2[SourceGeometry, error] {
	p.regions = append(p.regions, region)
	return func(yield func(SourceGeometry, error) bool) {
		if p.err != nil {
			yield(SourceGeometry{}, p.err)
			return
		}
		for _, g := range p.geometries {
			if !yield(g, nil) {
				return
			}
		}
	}
}

func classified(class string, ring Ring) SourceGeometry {
	return SourceGeometry{Polygons: []Polygon3D{{Exterior: ring}}, Properties: Properties{"class": class}, EPSG: EPSGLV95}
}

func TestSurroundingsHandlerClassifiesInOnePass(t *testing.T) {
	provider := &listProvider{geometries: []SourceGeometry{
		classified("park", square(10, 10, 10, 0)),
		classified("lake", square(150, 10, 10, 0)),
		classified("park", square(150, 50, 10, 0)), // outside the park region
		classified("parking", square(20, 20, 10, 0)),
		classified("park", square(90, 60, 20, 0)), // crosses the park region border
	}}
	created := map[SurroundingType]int{}
	h := &SurroundingsHandler{
		Layer:    "landuse",
		Types:    []SurroundingType{Parks, Lakes},
		Classify: byAttribute("class", map[string]SurroundingType{"park": Parks, "lake": Lakes}),
		Provider: provider,
		Regions: map[SurroundingType]BoundingBox{
			Parks: {MinX: 0, MinY: 0, MaxX: 100, MaxY: 100, EPSG: EPSGLV95},
			Lakes: {MinX: 0, MinY: 0, MaxX: 200, MaxY: 200, EPSG: EPSGLV95},
		},
		newTransformer: func(st SurroundingType) (GeometryTransformer, error) {
			created[st]++
			return DrapeTransformer{Elevation: planeElevation{base: 400}, Offset: surfaceOffset(st)}, nil
		},
	}

	triangles, err := CollectTriangles(h.Triangles(context.Background()))
	require.NoError(t, err)

	require.Len(t, provider.regions, 1, "layer is read once")
	assert.Equal(t, BoundingBox{MinX: 0, MinY: 0, MaxX: 200, MaxY: 200, EPSG: EPSGLV95}, provider.regions[0])
	assert.Equal(t, map[SurroundingType]int{Parks: 1, Lakes: 1}, created)

	parkArea, lakeArea := 0.0, 0.0
	for _, tri := range triangles {
		c := tri.Triangle.Centroid()
		switch tri.Type {
		case Parks:
			assert.LessOrEqual(t, c.X, 100.0)
			assert.InDelta(t, 400.2, c.Z, 1e-9)
			parkArea += tri.Triangle.SignedArea2D()
		case Lakes:
			assert.InDelta(t, 400.1, c.Z, 1e-9)
			lakeArea += tri.Triangle.SignedArea2D()
		default:
			t.Errorf("unexpected type %s", tri.Type)
		}
	}
	assert.InDelta(t, 100.0+200.0, parkArea, 1e-6, "second park is clipped to 10 x 20 m")
	assert.InDelta(t, 100.0, lakeArea, 1e-6)
}

func TestSurroundingsHandlerWithoutData(t *testing.T) {
	h := &SurroundingsHandler{
		Types:    []SurroundingType{Buildings},
		Classify: fixed(Buildings),
		Provider: &listProvider{err: ErrNoEntities},
		Regions:  map[SurroundingType]BoundingBox{Buildings: NewBoundingBox(0, 0, 10, EPSGLV95)},
	}
	triangles, err := CollectTriangles(h.Triangles(context.Background()))
	require.NoError(t, err)
	assert.Empty(t, triangles)
}

func TestSiteHandlersOnePerLayer(t *testing.T) {
	family := &SourceFamily{
		Name: "TEST",
		EPSG: EPSGLV95,
		Layers: []LayerSpec{
			{Layer: "buildings", Types: []SurroundingType{Buildings}, Classify: fixed(Buildings)},
			{Layer: "cover", Types: []SurroundingType{Lakes, Rivers, Forest}, Classify: fixed(Forest)},
			{Layer: "sea", Format: "geojson", Types: []SurroundingType{Sea}, Classify: fixed(Sea)},
		},
	}
	factory := &SurroundingsFactory{WorkingEPSG: EPSGLV95}
	site := factory.NewSite(2600000, 1200000, family, nil)

	handlers, err := site.Handlers(smallSurroundingTypes...)
	require.NoError(t, err)
	require.Len(t, handlers, 2)

	buildings := handlers[0].(*SurroundingsHandler)
	assert.Equal(t, []SurroundingType{Buildings}, buildings.Types)
	cover := handlers[1].(*SurroundingsHandler)
	assert.Equal(t, []SurroundingType{Rivers, Forest}, cover.Types)
	assert.Equal(t, factory.Region(Forest, site.X, site.Y), cover.Envelope())
	assert.False(t, cover.Provider.(*OGRProvider).Clip, "rivers are not clipped")

	large, err := site.Handlers(largeSurroundingTypes...)
	require.NoError(t, err)
	require.Len(t, large, 2)
	assert.True(t, large[0].(*SurroundingsHandler).Provider.(*OGRProvider).Clip)
	assert.IsType(t, &GeoJSONProvider{}, large[1].(*SurroundingsHandler).Provider)

	terrain, err := site.Handlers(Grounds, Mountains)
	require.NoError(t, err)
	require.Len(t, terrain, 2)
	assert.True(t, slices.ContainsFunc(terrain, func(s TriangleSource) bool {
		h, ok := s.(*TerrainHandler)
		return ok && h.Type == Mountains
	}))

	_, err = site.Handlers(SurroundingType("WIND"))
	assert.Error(t, err)
}
