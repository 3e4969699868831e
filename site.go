package main

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// building triangles this close to an own footprint (m) belong to the site itself
const ownBuildingTolerance = 0.5

/*
SurroundingsFactory assembles the handlers of a site from the process-wide resources.
*/
type SurroundingsFactory struct {
	Cache              *SourceCache
	Reprojector        *Reprojector
	Repository         *TileRepository
	Metrics            *EngineMetrics
	WorkingEPSG        int
	Margins            map[SurroundingType]float64
	GroundResolution   float64 // raster window resolution of the ground (m)
	MountainResolution float64 // raster window resolution of the mountains (m)
	ExcavationDepth    float64 // 0: remove terrain below footprints, >0: lower it
	BuildingHeight     float64 // default building height (m)
}

/*
Site is one location with its source family and own building footprints (working CRS).
The elevation window is read once per site.
*/
type Site struct {
	X          float64
	Y          float64
	Family     *SourceFamily
	Footprints []Polygon3D

	factory   *SurroundingsFactory
	window    func() (*RasterWindow, error)
	elevation func() ElevationHandler
	excavator *GroundExcavator
}

/*
NewSite creates a site at (x, y) in the working CRS.
*/
func (f *SurroundingsFactory) NewSite(x, y float64, family *SourceFamily, footprints []Polygon3D) *Site {
	s := &Site{X: x, Y: y, Family: family, Footprints: footprints, factory: f}
	s.window = sync.OnceValues(func() (*RasterWindow, error) {
		if f.Repository == nil {
			return nil, fmt.Errorf("%w: no elevation tiles configured", ErrOutOfCoverage)
		}
		return ReadRasterWindow(f.Repository, f.Reprojector, f.Region(Grounds, x, y), f.GroundResolution)
	})
	s.elevation = sync.OnceValue(func() ElevationHandler {
		window, err := s.window()
		if err != nil {
			slog.Warn("no elevation window for site, using point lookups", "x", x, "y", y, "error", err)
		}
		return &RasterElevation{Window: window, Repository: f.Repository, Reprojector: f.Reprojector, WorkingEPSG: f.WorkingEPSG}
	})
	return s
}

/*
Region returns the bounding box of a category around (x, y).
*/
func (f *SurroundingsFactory) Region(t SurroundingType, x, y float64) BoundingBox {
	margin, ok := f.Margins[t]
	if !ok {
		margin = defaultMargins[t]
	}
	return NewBoundingBox(x, y, margin, f.WorkingEPSG)
}

/*
Close releases the GDAL geometries held by the site.
*/
func (s *Site) Close() {
	if s.excavator != nil {
		s.excavator.Close()
		s.excavator = nil
	}
}

/*
Elevation returns the site's elevation handler.
*/
func (s *Site) Elevation() ElevationHandler {
	return s.elevation()
}

/*
provider creates the geometry provider of one layer for the given categories.
The provider clips only when every category of the layer is clipped.
*/
func (s *Site) provider(layer LayerSpec, types []SurroundingType) (GeometryProvider, error) {
	f := s.factory
	filter := func(g SourceGeometry) bool {
		return slices.Contains(types, layer.Classify(g.Properties))
	}
	clip := !slices.ContainsFunc(types, func(t SurroundingType) bool { return !clipped(t) })
	switch layer.Format {
	case "", "shp":
		return &OGRProvider{Cache: f.Cache, Layer: layer.Layer, EPSG: s.Family.EPSG, Reprojector: f.Reprojector, Clip: clip, Filter: filter}, nil
	case "geojson":
		return &GeoJSONProvider{Cache: f.Cache, File: layer.Layer + ".geojson", EPSG: s.Family.EPSG, Reprojector: f.Reprojector, Clip: clip, Filter: filter}, nil
	case "gpx":
		return &GPXProvider{Cache: f.Cache, File: layer.Layer + ".gpx", Reprojector: f.Reprojector, Properties: Properties{"layer": layer.Layer}}, nil
	default:
		return nil, fmt.Errorf("unknown layer format [%s] of layer %s", layer.Format, layer.Layer)
	}
}

/*
NoiseSources chains the noise layers of the family and the custom lines; street and
rail layers with generic levels fill in the source types they leave out.
*/
func (s *Site) NoiseSources(custom []NoiseLayerSpec) (NoiseSourceChain, error) {
	chain := NoiseSourceChain{}
	var layers []NoiseLayerSpec
	if s.Family != nil {
		chain.Fallback = GenericNoiseSources{Site: s}
		layers = s.Family.NoiseLayers
	}
	for _, layer := range slices.Concat(layers, custom) {
		provider, err := s.noiseProvider(layer)
		if err != nil {
			return chain, err
		}
		chain.Layers = append(chain.Layers, RegionNoiseSources{
			Name:           layer.Layer,
			Provider:       provider,
			Type:           layer.Type,
			DayAttribute:   layer.DayAttribute,
			NightAttribute: layer.NightAttribute,
			Elevation:      s.Elevation(),
		})
	}
	return chain, nil
}

func (s *Site) noiseProvider(layer NoiseLayerSpec) (GeometryProvider, error) {
	f := s.factory
	if s.Family == nil && layer.Format != "gpx" {
		return nil, fmt.Errorf("noise layer %s needs a source family", layer.Layer)
	}
	switch layer.Format {
	case "", "shp":
		return &OGRProvider{Cache: f.Cache, Layer: layer.Layer, EPSG: s.Family.EPSG, Reprojector: f.Reprojector}, nil
	case "geojson":
		return &GeoJSONProvider{Cache: f.Cache, File: layer.Layer + ".geojson", EPSG: s.Family.EPSG, Reprojector: f.Reprojector}, nil
	case "gpx":
		return &GPXProvider{Cache: f.Cache, File: layer.Layer + ".gpx", Reprojector: f.Reprojector, Properties: layer.Properties}, nil
	default:
		return nil, fmt.Errorf("unknown layer format [%s] of noise layer %s", layer.Format, layer.Layer)
	}
}

/*
transformer creates the geometry transformer of a category.
*/
func (s *Site) transformer(t SurroundingType) (GeometryTransformer, error) {
	kind, err := transformKind(t)
	if err != nil {
		return nil, err
	}
	family := s.Family
	switch kind {
	case TransformBuilding:
		return BuildingTransformer{Elevation: s.Elevation(), DefaultHeight: s.factory.BuildingHeight, HeightAttributes: family.HeightAttributes}, nil
	case TransformForest:
		if t == Trees {
			return ForestTransformer{Elevation: s.Elevation()}, nil
		}
		return ForestTransformer{Elevation: s.Elevation(), Kind: family.ForestKind}, nil
	case TransformDrape:
		return DrapeTransformer{Elevation: s.Elevation(), Offset: surfaceOffset(t)}, nil
	case TransformRibbon:
		return DrapeTransformer{
			Elevation: s.Elevation(),
			Offset:    surfaceOffset(t),
			Width:     func(props Properties) float64 { return family.Width(t, props) },
			Extension: ExtensionSymmetric,
			IsBridge:  family.IsBridge,
		}, nil
	case TransformSeaLevel:
		return DrapeTransformer{Elevation: ZeroElevation{}}, nil
	case TransformTerrain:
		return nil, fmt.Errorf("terrain category [%s] has no geometry transformer", t)
	default:
		return nil, fmt.Errorf("unknown transform kind %d", kind)
	}
}

/*
Handlers returns the handlers of the given categories: one per terrain category and
one per layer delivering any of the others.
*/
func (s *Site) Handlers(types ...SurroundingType) ([]TriangleSource, error) {
	var handlers []TriangleSource
	for _, t := range types {
		if !t.Valid() {
			return nil, fmt.Errorf("invalid surrounding type [%s]", t)
		}
		switch t {
		case Grounds:
			handlers = append(handlers, s.ground())
		case Mountains:
			handlers = append(handlers, s.mountains())
		}
	}
	if s.Family == nil {
		return handlers, nil
	}

	for _, layer := range s.Family.Layers {
		wanted := slices.DeleteFunc(slices.Clone(layer.Types), func(t SurroundingType) bool {
			return !slices.Contains(types, t)
		})
		if len(wanted) == 0 {
			continue
		}
		provider, err := s.provider(layer, wanted)
		if err != nil {
			return nil, err
		}
		regions := make(map[SurroundingType]BoundingBox, len(wanted))
		for _, t := range wanted {
			regions[t] = s.factory.Region(t, s.X, s.Y)
		}
		handlers = append(handlers, &SurroundingsHandler{
			Layer:          layer.Layer,
			Types:          wanted,
			Classify:       layer.Classify,
			Provider:       provider,
			Regions:        regions,
			Metrics:        s.factory.Metrics,
			newTransformer: s.transformer,
		})
	}
	return handlers, nil
}

func (s *Site) ground() *TerrainHandler {
	h := &TerrainHandler{Type: Grounds, Window: s.window, Depth: s.factory.ExcavationDepth, Metrics: s.factory.Metrics}
	if s.excavator != nil {
		h.Excavator = s.excavator
	} else if len(s.Footprints) > 0 {
		excavator, err := NewGroundExcavator(s.Footprints)
		if err != nil {
			slog.Warn("ground excavation disabled", "error", err)
		} else {
			s.excavator = excavator
			h.Excavator = excavator
		}
	}
	return h
}

func (s *Site) mountains() *TerrainHandler {
	f := s.factory
	exclude := f.Region(Grounds, s.X, s.Y)
	return &TerrainHandler{
		Type: Mountains,
		Window: sync.OnceValues(func() (*RasterWindow, error) {
			if f.Repository == nil {
				return nil, fmt.Errorf("%w: no elevation tiles configured", ErrOutOfCoverage)
			}
			return ReadRasterWindow(f.Repository, f.Reprojector, f.Region(Mountains, s.X, s.Y), f.MountainResolution)
		}),
		Exclude: &exclude,
		Metrics: f.Metrics,
	}
}

/*
aggregate combines the handlers of several categories (each layer read once).
*/
func (s *Site) aggregate(name string, types []SurroundingType) (*SurroundingsAggregate, error) {
	handlers, err := s.Handlers(types...)
	if err != nil {
		return nil, err
	}
	return &SurroundingsAggregate{Name: name, Sources: handlers}, nil
}

/*
SmallSurroundings returns the aggregate of streets, railways, parks, rivers, trees, forest and buildings.
*/
func (s *Site) SmallSurroundings() (*SurroundingsAggregate, error) {
	return s.aggregate("small", smallSurroundingTypes)
}

/*
LargeSurroundings returns the aggregate of lakes and sea.
*/
func (s *Site) LargeSurroundings() (*SurroundingsAggregate, error) {
	return s.aggregate("large", largeSurroundingTypes)
}

/*
Terrain returns the aggregate of grounds and mountains.
*/
func (s *Site) Terrain() (*SurroundingsAggregate, error) {
	return s.aggregate("terrain", []SurroundingType{Grounds, Mountains})
}

/*
Surroundings streams terrain, small and large surroundings of the site.
*/
func (s *Site) Surroundings(ctx context.Context) iter.Seq2[TaggedTriangle, error] {
	return func(yield func(TaggedTriangle, error) bool) {
		for _, build := range []func() (*SurroundingsAggregate, error){s.Terrain, s.SmallSurroundings, s.LargeSurroundings} {
			aggregate, err := build()
			if err != nil {
				yield(TaggedTriangle{}, err)
				return
			}
			for t, err := range aggregate.Triangles(ctx) {
				if !yield(t, err) || err != nil {
					return
				}
			}
		}
	}
}

/*
Buildings collects the building triangles of the site (obstacles for noise and sun).
*/
func (s *Site) Buildings(ctx context.Context) ([]TaggedTriangle, error) {
	handlers, err := s.Handlers(Buildings)
	if err != nil {
		return nil, err
	}
	aggregate := &SurroundingsAggregate{Name: "buildings", Sources: handlers}
	triangles, err := CollectTriangles(aggregate.Triangles(ctx))
	if errors.Is(err, ErrNoEntities) {
		return nil, nil
	}
	return triangles, err
}

/*
WithoutOwnBuildings drops the triangles of the site's own buildings.
*/
func (s *Site) WithoutOwnBuildings(triangles []TaggedTriangle) []TaggedTriangle {
	if len(s.Footprints) == 0 {
		return triangles
	}
	kept := triangles[:0]
	for _, t := range triangles {
		c := t.Triangle.Centroid()
		if !s.ownBuilding(c.X, c.Y) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (s *Site) ownBuilding(x, y float64) bool {
	p := orb.Point{x, y}
	for _, footprint := range s.Footprints {
		if footprint.Contains(x, y) {
			return true
		}
		if planar.DistanceFrom(orb.LineString(footprint.Exterior.ToOrb()), p) <= ownBuildingTolerance {
			return true
		}
	}
	return false
}
