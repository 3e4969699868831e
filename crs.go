package main

import (
	"fmt"
	"math"
	"sync"

	"github.com/airbusgeo/godal"
	"gonum.org/v1/gonum/spatial/r3"
)

// EPSG codes used throughout the engine
const (
	EPSGWGS84 = 4326
	EPSGLV95  = 2056
)

/*
Reprojector caches GDAL spatial references and coordinate transformations per EPSG pair.
GDAL transformations are not safe for concurrent use, calls are serialized.
*/
type Reprojector struct {
	mu         sync.Mutex
	spatialRef map[int]*godal.SpatialRef
	transforms map[[2]int]*godal.Transform
}

/*
NewReprojector creates an empty reprojector.
*/
func NewReprojector() *Reprojector {
	return &Reprojector{
		spatialRef: make(map[int]*godal.SpatialRef),
		transforms: make(map[[2]int]*godal.Transform),
	}
}

/*
Close releases all cached GDAL objects.
*/
func (r *Reprojector) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, trn := range r.transforms {
		trn.Close()
		delete(r.transforms, key)
	}
	for key, srs := range r.spatialRef {
		srs.Close()
		delete(r.spatialRef, key)
	}
}

/*
spatialRefLocked returns the cached spatial reference for an EPSG code (caller holds lock).
*/
func (r *Reprojector) spatialRefLocked(epsg int) (*godal.SpatialRef, error) {
	if srs, ok := r.spatialRef[epsg]; ok {
		return srs, nil
	}
	srs, err := godal.NewSpatialRefFromEPSG(epsg)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at godal.NewSpatialRefFromEPSG(%d)", err, epsg)
	}
	r.spatialRef[epsg] = srs
	return srs, nil
}

/*
SpatialRef returns the cached spatial reference for an EPSG code.
The reference stays owned by the reprojector.
*/
func (r *Reprojector) SpatialRef(epsg int) (*godal.SpatialRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spatialRefLocked(epsg)
}

func (r *Reprojector) transformLocked(from, to int) (*godal.Transform, error) {
	key := [2]int{from, to}
	if trn, ok := r.transforms[key]; ok {
		return trn, nil
	}
	sourceSRS, err := r.spatialRefLocked(from)
	if err != nil {
		return nil, err
	}
	targetSRS, err := r.spatialRefLocked(to)
	if err != nil {
		return nil, err
	}
	trn, err := godal.NewTransform(sourceSRS, targetSRS)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at godal.NewTransform(), EPSG:%d to EPSG:%d", err, from, to)
	}
	r.transforms[key] = trn
	return trn, nil
}

/*
TransformPoints transforms coordinate slices in place from one EPSG code to another.
z may be nil.
*/
func (r *Reprojector) TransformPoints(from, to int, x, y, z []float64) error {
	if from == to || len(x) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	trn, err := r.transformLocked(from, to)
	if err != nil {
		return err
	}

	successFlags := make([]bool, len(x))
	err = trn.TransformEx(x, y, z, successFlags)
	if err != nil {
		return fmt.Errorf("error [%w] at transform.TransformEx(), EPSG:%d to EPSG:%d", err, from, to)
	}
	for i, ok := range successFlags {
		if !ok {
			return fmt.Errorf("transformation from EPSG:%d to EPSG:%d failed for coordinates (%.8f, %.8f)", from, to, x[i], y[i])
		}
	}
	return nil
}

/*
TransformPoint transforms a single coordinate.
*/
func (r *Reprojector) TransformPoint(from, to int, x, y float64) (float64, float64, error) {
	xs := []float64{x}
	ys := []float64{y}
	err := r.TransformPoints(from, to, xs, ys, nil)
	if err != nil {
		return 0, 0, err
	}
	return xs[0], ys[0], nil
}

/*
transformVecs transforms vertices (xy only, z unchanged).
*/
func (r *Reprojector) transformVecs(from, to int, vs []r3.Vec) ([]r3.Vec, error) {
	xs := make([]float64, len(vs))
	ys := make([]float64, len(vs))
	for i, v := range vs {
		xs[i] = v.X
		ys[i] = v.Y
	}
	err := r.TransformPoints(from, to, xs, ys, nil)
	if err != nil {
		return nil, err
	}
	out := make([]r3.Vec, len(vs))
	for i, v := range vs {
		out[i] = r3.Vec{X: xs[i], Y: ys[i], Z: v.Z}
	}
	return out, nil
}

/*
TransformGeometry reprojects all parts of a geometry into the target EPSG code.
Heights are kept as they are (all supported CRS share metric ellipsoidal-free heights).
*/
func (r *Reprojector) TransformGeometry(g SourceGeometry, to int) (SourceGeometry, error) {
	if g.EPSG == to {
		return g, nil
	}
	out := SourceGeometry{HasZ: g.HasZ, Properties: g.Properties, EPSG: to}

	var err error
	if len(g.Points) > 0 {
		out.Points, err = r.transformVecs(g.EPSG, to, g.Points)
		if err != nil {
			return out, err
		}
	}
	for _, l := range g.Lines {
		vs, err := r.transformVecs(g.EPSG, to, l)
		if err != nil {
			return out, err
		}
		out.Lines = append(out.Lines, Path(vs))
	}
	for _, p := range g.Polygons {
		poly, err := r.TransformPolygon(p, g.EPSG, to)
		if err != nil {
			return out, err
		}
		out.Polygons = append(out.Polygons, poly)
	}
	return out, nil
}

/*
TransformPolygon reprojects a polygon.
*/
func (r *Reprojector) TransformPolygon(p Polygon3D, from, to int) (Polygon3D, error) {
	var out Polygon3D
	ext, err := r.transformVecs(from, to, p.Exterior)
	if err != nil {
		return out, err
	}
	out.Exterior = Ring(ext)
	for _, h := range p.Holes {
		vs, err := r.transformVecs(from, to, h)
		if err != nil {
			return out, err
		}
		out.Holes = append(out.Holes, Ring(vs))
	}
	return out, nil
}

/*
TransformBounds transforms a bounding box into the target EPSG code.
Corners and edge midpoints are transformed, the result is their envelope.
*/
func (r *Reprojector) TransformBounds(b BoundingBox, to int) (BoundingBox, error) {
	if b.EPSG == to {
		return b, nil
	}
	cx, cy := b.Center()
	xs := []float64{b.MinX, b.MaxX, b.MinX, b.MaxX, cx, cx, b.MinX, b.MaxX}
	ys := []float64{b.MinY, b.MinY, b.MaxY, b.MaxY, b.MinY, b.MaxY, cy, cy}
	err := r.TransformPoints(b.EPSG, to, xs, ys, nil)
	if err != nil {
		return BoundingBox{}, err
	}

	out := BoundingBox{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1), EPSG: to}
	for i := range xs {
		out.MinX = math.Min(out.MinX, xs[i])
		out.MaxX = math.Max(out.MaxX, xs[i])
		out.MinY = math.Min(out.MinY, ys[i])
		out.MaxY = math.Max(out.MaxY, ys[i])
	}
	return out, nil
}

/*
LatLonBounds returns the WGS84 bounds of a bounding box.
*/
func (r *Reprojector) LatLonBounds(b BoundingBox) (LatLonBounds, error) {
	geo, err := r.TransformBounds(b, EPSGWGS84)
	if err != nil {
		return LatLonBounds{}, err
	}
	// traditional GIS order: x = longitude, y = latitude
	return LatLonBounds{MinLat: geo.MinY, MinLon: geo.MinX, MaxLat: geo.MaxY, MaxLon: geo.MaxX}, nil
}

/*
BoundsFromLatLon converts WGS84 bounds into a bounding box of the target EPSG code.
*/
func (r *Reprojector) BoundsFromLatLon(ll LatLonBounds, to int) (BoundingBox, error) {
	return r.TransformBounds(BoundingBox{MinX: ll.MinLon, MinY: ll.MinLat, MaxX: ll.MaxLon, MaxY: ll.MaxLat, EPSG: EPSGWGS84}, to)
}
