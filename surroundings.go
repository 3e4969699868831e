package main

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

// SurroundingType tags triangles with the category they belong to.
type SurroundingType string

const (
	Buildings       SurroundingType = "BUILDINGS"
	Trees           SurroundingType = "TREES"
	Forest          SurroundingType = "FOREST"
	Parks           SurroundingType = "PARKS"
	Rivers          SurroundingType = "RIVERS"
	Lakes           SurroundingType = "LAKES"
	Sea             SurroundingType = "SEA"
	Highway         SurroundingType = "HIGHWAY"
	PrimaryStreet   SurroundingType = "PRIMARY_STREET"
	SecondaryStreet SurroundingType = "SECONDARY_STREET"
	TertiaryStreet  SurroundingType = "TERTIARY_STREET"
	Pedestrian      SurroundingType = "PEDESTRIAN"
	Railways        SurroundingType = "RAILWAYS"
	Grounds         SurroundingType = "GROUNDS"
	Mountains       SurroundingType = "MOUNTAINS"
)

var allSurroundingTypes = []SurroundingType{
	Buildings, Trees, Forest, Parks, Rivers, Lakes, Sea,
	Highway, PrimaryStreet, SecondaryStreet, TertiaryStreet, Pedestrian,
	Railways, Grounds, Mountains,
}

// categories of the small and large surroundings aggregates
var (
	smallSurroundingTypes = []SurroundingType{Highway, PrimaryStreet, SecondaryStreet, TertiaryStreet, Pedestrian, Railways, Parks, Rivers, Trees, Forest, Buildings}
	largeSurroundingTypes = []SurroundingType{Lakes, Sea}
)

// defaultMargins defines the extent (m) around the site loaded per category
var defaultMargins = map[SurroundingType]float64{
	Buildings:       500,
	Trees:           300,
	Forest:          1000,
	Parks:           500,
	Rivers:          1000,
	Lakes:           5000,
	Sea:             20000,
	Highway:         1000,
	PrimaryStreet:   500,
	SecondaryStreet: 500,
	TertiaryStreet:  300,
	Pedestrian:      200,
	Railways:        1000,
	Grounds:         1000,
	Mountains:       20000,
}

/*
Valid checks whether the type is one of the known categories.
*/
func (t SurroundingType) Valid() bool {
	switch t {
	case Buildings, Trees, Forest, Parks, Rivers, Lakes, Sea,
		Highway, PrimaryStreet, SecondaryStreet, TertiaryStreet, Pedestrian,
		Railways, Grounds, Mountains:
		return true
	default:
		return false
	}
}

// TransformKind selects the geometry transformer of a category.
type TransformKind int

const (
	TransformDrape TransformKind = iota
	TransformRibbon
	TransformForest
	TransformBuilding
	TransformSeaLevel
	TransformTerrain
)

/*
transformKind returns how the geometries of a category become 3D polygons.
*/
func transformKind(t SurroundingType) (TransformKind, error) {
	switch t {
	case Buildings:
		return TransformBuilding, nil
	case Trees, Forest:
		return TransformForest, nil
	case Parks, Lakes:
		return TransformDrape, nil
	case Rivers, Highway, PrimaryStreet, SecondaryStreet, TertiaryStreet, Pedestrian, Railways:
		return TransformRibbon, nil
	case Sea:
		return TransformSeaLevel, nil
	case Grounds, Mountains:
		return TransformTerrain, nil
	default:
		return 0, fmt.Errorf("unknown surrounding type [%s]", t)
	}
}

/*
surfaceOffset returns the vertical offset (m) of draped categories above the terrain.
Distinct offsets keep overlapping surfaces apart.
*/
func surfaceOffset(t SurroundingType) float64 {
	switch t {
	case Lakes, Rivers:
		return 0.1
	case Parks:
		return 0.2
	case Highway, PrimaryStreet, SecondaryStreet, TertiaryStreet, Pedestrian:
		return 0.3
	case Railways:
		return 0.4
	default:
		return 0
	}
}

/*
clipped tells whether the geometries of a category are clipped to the region.
Ribbons and bridges are not clipped (their z values are kept).
*/
func clipped(t SurroundingType) bool {
	switch t {
	case Parks, Lakes, Sea, Forest:
		return true
	default:
		return false
	}
}

/*
TriangleSource is anything that streams tagged triangles for a site.
*/
type TriangleSource interface {
	Triangles(ctx context.Context) iter.Seq2[TaggedTriangle, error]
}

/*
SurroundingsHandler produces the triangles of one layer. The layer is read once for all
of its categories; each geometry is classified and kept when it touches the region of
its category. Transformers are created on first use per category.
*/
type SurroundingsHandler struct {
	Layer    string
	Types    []SurroundingType
	Classify func(Properties) SurroundingType
	Provider GeometryProvider
	Regions  map[SurroundingType]BoundingBox
	Metrics  *EngineMetrics

	newTransformer func(SurroundingType) (GeometryTransformer, error)
	mu             sync.Mutex
	transformers   map[SurroundingType]GeometryTransformer
}

/*
Transformer returns the handler's transformer of a category, creating it once.
*/
func (h *SurroundingsHandler) Transformer(t SurroundingType) (GeometryTransformer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if transformer, ok := h.transformers[t]; ok {
		return transformer, nil
	}
	transformer, err := h.newTransformer(t)
	if err != nil {
		return nil, err
	}
	if h.transformers == nil {
		h.transformers = make(map[SurroundingType]GeometryTransformer)
	}
	h.transformers[t] = transformer
	return transformer, nil
}

/*
Envelope returns the box covering the regions of all categories of the handler.
*/
func (h *SurroundingsHandler) Envelope() BoundingBox {
	var envelope BoundingBox
	for i, t := range h.Types {
		region := h.Regions[t]
		if i == 0 {
			envelope = region
			continue
		}
		envelope.MinX = min(envelope.MinX, region.MinX)
		envelope.MinY = min(envelope.MinY, region.MinY)
		envelope.MaxX = max(envelope.MaxX, region.MaxX)
		envelope.MaxY = max(envelope.MaxY, region.MaxY)
	}
	return envelope
}

/*
Triangles streams the triangulated geometries of the layer tagged with their category.
A missing data source or elevation coverage results in an empty stream.
*/
func (h *SurroundingsHandler) Triangles(ctx context.Context) iter.Seq2[TaggedTriangle, error] {
	return func(yield func(TaggedTriangle, error) bool) {
		counts := make(map[SurroundingType]int, len(h.Types))
		defer func() {
			for t, n := range counts {
				h.Metrics.ObserveTriangles(string(t), n)
			}
		}()

		for g, err := range h.Provider.Geometries(ctx, h.Envelope()) {
			if err != nil {
				if errors.Is(err, ErrNoEntities) || errors.Is(err, ErrOutOfCoverage) {
					slog.Info("surroundings layer without data", "layer", h.Layer, "types", h.Types, "reason", err)
					return
				}
				yield(TaggedTriangle{}, err)
				return
			}
			t := h.Classify(g.Properties)
			region, ok := h.Regions[t]
			if !ok || !region.Intersects(g.Bound()) {
				continue
			}
			if clipped(t) {
				if g, ok = clipToBound(g, region); !ok {
					continue
				}
			}
			transformer, err := h.Transformer(t)
			if err != nil {
				yield(TaggedTriangle{}, err)
				return
			}
			for polygon := range transformer.Transform(g) {
				for _, triangle := range TriangulatePolygon(polygon) {
					counts[t]++
					if !yield(TaggedTriangle{Type: t, Triangle: triangle}, nil) {
						return
					}
				}
			}
		}
	}
}

/*
TerrainHandler produces ground or mountain triangles from a raster window.
Ground triangles below the site's footprints are excavated (or lowered by Depth).
*/
type TerrainHandler struct {
	Type      SurroundingType
	Window    func() (*RasterWindow, error)
	Exclude   *BoundingBox
	Excavator *GroundExcavator
	Depth     float64
	Metrics   *EngineMetrics
}

/*
Triangles streams the terrain triangles.
*/
func (h *TerrainHandler) Triangles(ctx context.Context) iter.Seq2[TaggedTriangle, error] {
	return func(yield func(TaggedTriangle, error) bool) {
		window, err := h.Window()
		if err != nil {
			if errors.Is(err, ErrOutOfCoverage) {
				slog.Info("terrain without elevation coverage", "type", h.Type, "reason", err)
				return
			}
			yield(TaggedTriangle{}, err)
			return
		}
		count := 0
		defer func() { h.Metrics.ObserveTriangles(string(h.Type), count) }()

		triangles := RasterWindowTriangulator{Window: window, Exclude: h.Exclude}.Triangles()
		if h.Excavator != nil {
			if h.Depth > 0 {
				triangles = h.Excavator.Lower(triangles, h.Depth)
			} else {
				triangles = h.Excavator.Excavate(triangles)
			}
		}
		for t := range triangles {
			if count%4096 == 0 && ctx.Err() != nil {
				yield(TaggedTriangle{}, ctx.Err())
				return
			}
			count++
			if !yield(TaggedTriangle{Type: h.Type, Triangle: t}, nil) {
				return
			}
		}
	}
}

/*
SurroundingsAggregate chains the triangle streams of several handlers.
*/
type SurroundingsAggregate struct {
	Name    string
	Sources []TriangleSource
}

/*
Triangles streams the triangles of all sources in order.
*/
func (a *SurroundingsAggregate) Triangles(ctx context.Context) iter.Seq2[TaggedTriangle, error] {
	return func(yield func(TaggedTriangle, error) bool) {
		ctx, span := tracer.Start(ctx, "surroundings."+a.Name)
		defer span.End()
		span.SetAttributes(attribute.Int("sources", len(a.Sources)))

		for _, source := range a.Sources {
			for t, err := range source.Triangles(ctx) {
				if !yield(t, err) {
					return
				}
				if err != nil {
					span.RecordError(err)
					return
				}
			}
		}
	}
}

/*
CollectTriangles drains a triangle stream.
*/
func CollectTriangles(seq iter.Seq2[TaggedTriangle, error]) ([]TaggedTriangle, error) {
	var out []TaggedTriangle
	for t, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}
