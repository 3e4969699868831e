package main

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
)

/*
GeometryProvider streams the raw geometries of one data source for a region.
The sequence is single-use; geometries are expressed in the region's CRS.
A missing source file set is reported as ErrNoEntities.
*/
type GeometryProvider interface {
	Geometries(ctx context.Context, region BoundingBox) iter.Seq2[SourceGeometry, error]
}

// shapefile sidecar files required to open a layer
var shapefileExtensions = []string{".shp", ".shx", ".dbf", ".prj"}

/*
OGRProvider reads one layer of an OGR vector dataset (shapefile family).
*/
type OGRProvider struct {
	Cache       *SourceCache
	Layer       string   // base file name, e.g. gis_osm_roads_free_1
	Extensions  []string // nil: shapefile set
	EPSG        int      // CRS of the dataset
	Reprojector *Reprojector
	Clip        bool
	Filter      func(SourceGeometry) bool
}

/*
Geometries yields all features of the layer intersecting the region.
*/
func (p *OGRProvider) Geometries(ctx context.Context, region BoundingBox) iter.Seq2[SourceGeometry, error] {
	return func(yield func(SourceGeometry, error) bool) {
		extensions := p.Extensions
		if extensions == nil {
			extensions = shapefileExtensions
		}
		names := make([]string, 0, len(extensions))
		for _, ext := range extensions {
			names = append(names, p.Layer+ext)
		}
		paths, err := p.Cache.Ensure(ctx, names)
		if err != nil {
			yield(SourceGeometry{}, err)
			return
		}

		nativeBounds, err := p.Reprojector.TransformBounds(region, p.EPSG)
		if err != nil {
			yield(SourceGeometry{}, err)
			return
		}

		dataset, err := godal.Open(paths[0], godal.VectorOnly())
		if err != nil {
			yield(SourceGeometry{}, fmt.Errorf("error [%w] at godal.Open(), file %s", err, paths[0]))
			return
		}
		defer dataset.Close()

		var clipGeometry *godal.Geometry
		if p.Clip {
			clipGeometry, err = newGDALPolygon(region.Polygon())
			if err != nil {
				yield(SourceGeometry{}, err)
				return
			}
			defer clipGeometry.Close()
		}

		total, matched := 0, 0
		for _, layer := range dataset.Layers() {
			layer.ResetReading()
			for {
				if ctx.Err() != nil {
					yield(SourceGeometry{}, ctx.Err())
					return
				}
				feature := layer.NextFeature()
				if feature == nil {
					break
				}
				total++
				g, ok, err := p.convert(feature, nativeBounds, region, clipGeometry)
				feature.Close()
				if err != nil {
					slog.Debug("skipping invalid feature", "layer", p.Layer, "error", err)
					continue
				}
				if !ok {
					continue
				}
				matched++
				if !yield(g, nil) {
					return
				}
			}
		}
		slog.Debug("layer read", "layer", p.Layer, "features", total, "matched", matched)
	}
}

/*
convert turns one feature into a source geometry in the region's CRS.
Second return is false for features outside the region or rejected by the filter.
*/
func (p *OGRProvider) convert(feature *godal.Feature, nativeBounds, region BoundingBox, clipGeometry *godal.Geometry) (SourceGeometry, bool, error) {
	geometry := feature.Geometry()
	if geometry == nil || geometry.Empty() {
		return SourceGeometry{}, false, nil
	}
	bounds, err := geometry.Bounds()
	if err != nil {
		return SourceGeometry{}, false, fmt.Errorf("error [%w] at geometry.Bounds()", err)
	}
	if !nativeBounds.Intersects(orb.Bound{Min: orb.Point{bounds[0], bounds[1]}, Max: orb.Point{bounds[2], bounds[3]}}) {
		return SourceGeometry{}, false, nil
	}

	g, err := sourceFromGDAL(geometry)
	if err != nil {
		return SourceGeometry{}, false, err
	}
	g.EPSG = p.EPSG
	g.Properties = make(Properties)
	for name, field := range feature.Fields() {
		g.Properties[name] = field.String()
	}

	g, err = p.Reprojector.TransformGeometry(g, region.EPSG)
	if err != nil {
		return SourceGeometry{}, false, err
	}
	if !region.Intersects(g.Bound()) {
		return SourceGeometry{}, false, nil
	}
	if clipGeometry != nil {
		g, err = clipToRegion(g, clipGeometry)
		if err != nil {
			return SourceGeometry{}, false, err
		}
		if g.Empty() {
			return SourceGeometry{}, false, nil
		}
	}
	if p.Filter != nil && !p.Filter(g) {
		return SourceGeometry{}, false, nil
	}
	return g, true, nil
}

/*
clipToRegion intersects a geometry with the region polygon (GEOS).
*/
func clipToRegion(g SourceGeometry, region *godal.Geometry) (SourceGeometry, error) {
	geometry, err := newGDALGeometry(g)
	if err != nil {
		return g, err
	}
	defer geometry.Close()

	clipped, err := geometry.Intersection(region)
	if err != nil {
		return g, fmt.Errorf("%w: error [%w] at geometry.Intersection()", ErrInvalidGeometry, err)
	}
	defer clipped.Close()

	out, err := sourceFromGDAL(clipped)
	if err != nil {
		return g, err
	}
	out.Properties = g.Properties
	out.EPSG = g.EPSG
	out.HasZ = out.HasZ && g.HasZ
	return out, nil
}
