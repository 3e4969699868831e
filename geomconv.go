package main

import (
	"fmt"

	"github.com/airbusgeo/godal"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"gonum.org/v1/gonum/spatial/r3"
)

/*
newGDALGeometry converts a source geometry into a GDAL geometry (WKB bridge).
OGR reads the extended Z flag of EWKB, so 2.5D geometries keep their z values.
*/
func newGDALGeometry(g SourceGeometry) (*godal.Geometry, error) {
	data, err := ewkb.Marshal(geomFromSource(g), ewkb.NDR)
	if err != nil {
		return nil, fmt.Errorf("%w: error [%w] at ewkb.Marshal()", ErrInvalidGeometry, err)
	}
	geometry, err := godal.NewGeometryFromWKB(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: error [%w] at godal.NewGeometryFromWKB()", ErrInvalidGeometry, err)
	}
	return geometry, nil
}

/*
newGDALPolygon converts a flat polygon into a GDAL geometry.
*/
func newGDALPolygon(p Polygon3D) (*godal.Geometry, error) {
	return newGDALGeometry(SourceGeometry{Polygons: []Polygon3D{p}})
}

/*
sourceFromGDAL reads the parts of a GDAL geometry. OGR exports 2.5D types with the
old-style Z flag, which is the EWKB flag as well.
*/
func sourceFromGDAL(geometry *godal.Geometry) (SourceGeometry, error) {
	data, err := geometry.WKB()
	if err != nil {
		return SourceGeometry{}, fmt.Errorf("error [%w] at geometry.WKB()", err)
	}
	return sourceFromWKB(data)
}

/*
sourceFromWKB decodes (E)WKB into the parts of a source geometry.
*/
func sourceFromWKB(data []byte) (SourceGeometry, error) {
	t, err := ewkb.Unmarshal(data)
	if err != nil {
		return SourceGeometry{}, fmt.Errorf("%w: error [%w] at ewkb.Unmarshal()", ErrInvalidGeometry, err)
	}
	return sourceFromGeom(t)
}

/*
sourceFromGeom flattens a go-geom geometry into points, lines and polygons.
Measured coordinates are dropped; z is kept when the layout carries it.
Closing vertices of rings are removed.
*/
func sourceFromGeom(t geom.T) (SourceGeometry, error) {
	var g SourceGeometry
	err := appendGeom(&g, t)
	return g, err
}

func appendGeom(g *SourceGeometry, t geom.T) error {
	if t == nil {
		return nil
	}
	switch t.(type) {
	case *geom.Point, *geom.LineString, *geom.Polygon:
		if len(t.FlatCoords()) == 0 {
			return nil
		}
		if t.Layout().ZIndex() >= 0 {
			g.HasZ = true
		}
	}
	switch v := t.(type) {
	case *geom.Point:
		g.Points = append(g.Points, vecFromCoord(v.Coords(), v.Layout()))
	case *geom.LineString:
		g.Lines = append(g.Lines, Path(vecsFromCoords(v.Coords(), v.Layout())))
	case *geom.Polygon:
		if p, ok := polygonFromGeom(v); ok {
			g.Polygons = append(g.Polygons, p)
		}
	case *geom.MultiPoint:
		for i := range v.NumPoints() {
			if err := appendGeom(g, v.Point(i)); err != nil {
				return err
			}
		}
	case *geom.MultiLineString:
		for i := range v.NumLineStrings() {
			if err := appendGeom(g, v.LineString(i)); err != nil {
				return err
			}
		}
	case *geom.MultiPolygon:
		for i := range v.NumPolygons() {
			if err := appendGeom(g, v.Polygon(i)); err != nil {
				return err
			}
		}
	case *geom.GeometryCollection:
		for i := range v.NumGeoms() {
			if err := appendGeom(g, v.Geom(i)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unsupported geometry type [%T]", ErrInvalidGeometry, t)
	}
	return nil
}

func polygonFromGeom(v *geom.Polygon) (Polygon3D, bool) {
	var p Polygon3D
	if v.NumLinearRings() == 0 {
		return p, false
	}
	for i := range v.NumLinearRings() {
		ring := Ring(vecsFromCoords(v.LinearRing(i).Coords(), v.Layout()))
		if n := len(ring); n > 1 && ring[0] == ring[n-1] {
			ring = ring[:n-1]
		}
		if i == 0 {
			p.Exterior = ring
		} else {
			p.Holes = append(p.Holes, ring)
		}
	}
	return p, len(p.Exterior) > 0
}

func vecFromCoord(c geom.Coord, layout geom.Layout) r3.Vec {
	v := r3.Vec{X: c.X(), Y: c.Y()}
	if z := layout.ZIndex(); z >= 0 {
		v.Z = c[z]
	}
	return v
}

func vecsFromCoords(coords []geom.Coord, layout geom.Layout) []r3.Vec {
	out := make([]r3.Vec, len(coords))
	for i, c := range coords {
		out[i] = vecFromCoord(c, layout)
	}
	return out
}

/*
geomFromSource builds a go-geom geometry: a single part stays a simple type,
several parts become a collection. Rings are closed.
*/
func geomFromSource(g SourceGeometry) geom.T {
	layout := geom.XY
	if g.HasZ {
		layout = geom.XYZ
	}
	coord := func(v r3.Vec) geom.Coord {
		if g.HasZ {
			return geom.Coord{v.X, v.Y, v.Z}
		}
		return geom.Coord{v.X, v.Y}
	}
	sequence := func(vs []r3.Vec, closed bool) []geom.Coord {
		out := make([]geom.Coord, 0, len(vs)+1)
		for _, v := range vs {
			out = append(out, coord(v))
		}
		if closed && len(vs) > 0 && vs[0] != vs[len(vs)-1] {
			out = append(out, coord(vs[0]))
		}
		return out
	}

	var parts []geom.T
	for _, v := range g.Points {
		parts = append(parts, geom.NewPoint(layout).MustSetCoords(coord(v)))
	}
	for _, l := range g.Lines {
		parts = append(parts, geom.NewLineString(layout).MustSetCoords(sequence(l, false)))
	}
	for _, p := range g.Polygons {
		rings := [][]geom.Coord{sequence(p.Exterior, true)}
		for _, h := range p.Holes {
			rings = append(rings, sequence(h, true))
		}
		parts = append(parts, geom.NewPolygon(layout).MustSetCoords(rings))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	collection := geom.NewGeometryCollection()
	if len(parts) > 0 {
		collection.MustPush(parts...)
	}
	return collection
}
