package main

import (
	"context"
	"fmt"
	"iter"
	"maps"

	"github.com/tkrajina/gpxgo/gpx"
	"gonum.org/v1/gonum/spatial/r3"
)

/*
GPXProvider reads tracks, routes and waypoints of a GPX file as custom line sources
(e.g. a planned street or rail line). GPX coordinates are always WGS84.
Track and route names are exposed as property "name", types as "type".
*/
type GPXProvider struct {
	Cache       *SourceCache
	File        string
	Reprojector *Reprojector
	Properties  Properties // merged into every geometry, e.g. noise levels
}

/*
Geometries yields one geometry per track segment, route and waypoint intersecting the region.
*/
func (p *GPXProvider) Geometries(ctx context.Context, region BoundingBox) iter.Seq2[SourceGeometry, error] {
	return func(yield func(SourceGeometry, error) bool) {
		paths, err := p.Cache.Ensure(ctx, []string{p.File})
		if err != nil {
			yield(SourceGeometry{}, err)
			return
		}
		gpxData, err := gpx.ParseFile(paths[0])
		if err != nil {
			yield(SourceGeometry{}, fmt.Errorf("%w: error [%w] at gpx.ParseFile(), file %s", ErrInvalidGeometry, err, paths[0]))
			return
		}

		for g := range p.lines(gpxData) {
			if ctx.Err() != nil {
				yield(SourceGeometry{}, ctx.Err())
				return
			}
			g, err = p.Reprojector.TransformGeometry(g, region.EPSG)
			if err != nil {
				yield(SourceGeometry{}, err)
				return
			}
			if !region.Intersects(g.Bound()) {
				continue
			}
			if !yield(g, nil) {
				return
			}
		}
	}
}

/*
lines converts the GPX content into WGS84 source geometries.
*/
func (p *GPXProvider) lines(gpxData *gpx.GPX) iter.Seq[SourceGeometry] {
	return func(yield func(SourceGeometry) bool) {
		newGeometry := func(name, kind string) SourceGeometry {
			props := make(Properties, len(p.Properties)+2)
			maps.Copy(props, p.Properties)
			if name != "" {
				props["name"] = name
			}
			if kind != "" {
				props["type"] = kind
			}
			return SourceGeometry{Properties: props, EPSG: EPSGWGS84, HasZ: true}
		}
		convert := func(g *SourceGeometry, points []gpx.GPXPoint) Path {
			path := make(Path, 0, len(points))
			for _, point := range points {
				v := r3.Vec{X: point.Longitude, Y: point.Latitude}
				if point.Elevation.NotNull() {
					v.Z = point.Elevation.Value()
				} else {
					g.HasZ = false
				}
				path = append(path, v)
			}
			return path
		}

		for _, track := range gpxData.Tracks {
			for _, segment := range track.Segments {
				if len(segment.Points) < 2 {
					continue
				}
				g := newGeometry(track.Name, track.Type)
				g.Lines = append(g.Lines, convert(&g, segment.Points))
				if !yield(g) {
					return
				}
			}
		}
		for _, route := range gpxData.Routes {
			if len(route.Points) < 2 {
				continue
			}
			g := newGeometry(route.Name, route.Type)
			g.Lines = append(g.Lines, convert(&g, route.Points))
			if !yield(g) {
				return
			}
		}
		for _, waypoint := range gpxData.Waypoints {
			g := newGeometry(waypoint.Name, waypoint.Type)
			g.Points = append(g.Points, convert(&g, []gpx.GPXPoint{waypoint})...)
			if !yield(g) {
				return
			}
		}
	}
}
