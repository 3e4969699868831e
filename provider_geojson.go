package main

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/geojson"
	"gonum.org/v1/gonum/spatial/r3"
)

/*
GeoJSONProvider reads a GeoJSON feature collection (2D, usually EPSG:4326).
*/
type GeoJSONProvider struct {
	Cache       *SourceCache
	File        string
	EPSG        int
	Reprojector *Reprojector
	Clip        bool
	Filter      func(SourceGeometry) bool
}

/*
Geometries yields all features intersecting the region.
*/
func (p *GeoJSONProvider) Geometries(ctx context.Context, region BoundingBox) iter.Seq2[SourceGeometry, error] {
	return func(yield func(SourceGeometry, error) bool) {
		paths, err := p.Cache.Ensure(ctx, []string{p.File})
		if err != nil {
			yield(SourceGeometry{}, err)
			return
		}
		data, err := os.ReadFile(paths[0])
		if err != nil {
			yield(SourceGeometry{}, fmt.Errorf("error [%w] at os.ReadFile(), file %s", err, paths[0]))
			return
		}
		collection, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			yield(SourceGeometry{}, fmt.Errorf("error [%w] at geojson.UnmarshalFeatureCollection(), file %s", err, paths[0]))
			return
		}
		nativeBounds, err := p.Reprojector.TransformBounds(region, p.EPSG)
		if err != nil {
			yield(SourceGeometry{}, err)
			return
		}

		for _, feature := range collection.Features {
			if ctx.Err() != nil {
				yield(SourceGeometry{}, ctx.Err())
				return
			}
			if feature.Geometry == nil || !nativeBounds.Intersects(feature.Geometry.Bound()) {
				continue
			}
			g := sourceFromOrb(feature.Geometry)
			if g.Empty() {
				continue
			}
			g.EPSG = p.EPSG
			g.Properties = Properties(feature.Properties)

			g, err = p.Reprojector.TransformGeometry(g, region.EPSG)
			if err != nil {
				slog.Debug("skipping feature", "file", p.File, "error", err)
				continue
			}
			if !region.Intersects(g.Bound()) {
				continue
			}
			if p.Clip {
				var ok bool
				if g, ok = clipToBound(g, region); !ok {
					continue
				}
			}
			if p.Filter != nil && !p.Filter(g) {
				continue
			}
			if !yield(g, nil) {
				return
			}
		}
	}
}

/*
clipToBound cuts a geometry at the region's box (2D). Second return is false
when nothing is left.
*/
func clipToBound(g SourceGeometry, region BoundingBox) (SourceGeometry, bool) {
	clipped := clip.Geometry(region.Bound(), orbFromSource(g))
	if clipped == nil {
		return SourceGeometry{}, false
	}
	out := sourceFromOrb(clipped)
	if out.Empty() {
		return SourceGeometry{}, false
	}
	out.EPSG = region.EPSG
	out.Properties = g.Properties
	return out, true
}

/*
sourceFromOrb converts an orb geometry into a 2D source geometry.
*/
func sourceFromOrb(geometry orb.Geometry) SourceGeometry {
	var g SourceGeometry
	line := func(ls orb.LineString) Path {
		out := make(Path, 0, len(ls))
		for _, pt := range ls {
			out = append(out, r3.Vec{X: pt[0], Y: pt[1]})
		}
		return out
	}

	var add func(orb.Geometry)
	add = func(geometry orb.Geometry) {
		switch t := geometry.(type) {
		case orb.Point:
			g.Points = append(g.Points, r3.Vec{X: t[0], Y: t[1]})
		case orb.MultiPoint:
			for _, pt := range t {
				add(pt)
			}
		case orb.LineString:
			if len(t) > 1 {
				g.Lines = append(g.Lines, line(t))
			}
		case orb.MultiLineString:
			for _, ls := range t {
				add(ls)
			}
		case orb.Ring:
			add(orb.Polygon{t})
		case orb.Polygon:
			if len(t) > 0 && len(t[0]) > 3 {
				g.Polygons = append(g.Polygons, polygonFromOrb(t, 0))
			}
		case orb.MultiPolygon:
			for _, p := range t {
				add(p)
			}
		case orb.Collection:
			for _, part := range t {
				add(part)
			}
		case orb.Bound:
			add(t.ToPolygon())
		}
	}
	add(geometry)
	return g
}

/*
orbFromSource converts a source geometry into an orb collection (xy only).
*/
func orbFromSource(g SourceGeometry) orb.Collection {
	var out orb.Collection
	for _, v := range g.Points {
		out = append(out, orb.Point{v.X, v.Y})
	}
	for _, l := range g.Lines {
		ls := make(orb.LineString, 0, len(l))
		for _, v := range l {
			ls = append(ls, orb.Point{v.X, v.Y})
		}
		out = append(out, ls)
	}
	for _, p := range g.Polygons {
		out = append(out, p.ToOrb())
	}
	return out
}
