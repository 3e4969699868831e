package main

import (
	"context"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// SunInstantLayout formats instants in sun dimension names
const SunInstantLayout = "2006-01-02T15:04Z"

// goldenAngle is the Fibonacci lattice increment (rad)
var goldenAngle = math.Pi * (3 - math.Sqrt(5))

/*
PotentialSimulator computes view and sun exposure at observation points against a mesh.
*/
type PotentialSimulator struct {
	Index       *TriangleIndex
	ViewRays    int     // hemisphere rays per observation point
	MaxDistance float64 // view ray length (m), 0: mesh extent
}

/*
HemisphereDirections returns n unit vectors evenly spread over the upper hemisphere
(Fibonacci lattice, equal area in z).
*/
func HemisphereDirections(n int) []r3.Vec {
	out := make([]r3.Vec, n)
	for i := range n {
		z := (float64(i) + 0.5) / float64(n)
		r := math.Sqrt(1 - z*z)
		phi := float64(i) * goldenAngle
		out[i] = r3.Vec{X: r * math.Cos(phi), Y: r * math.Sin(phi), Z: z}
	}
	return out
}

/*
viewDimension returns the dimension name of a view category, e.g. view_buildings.
*/
func viewDimension(category string) string {
	return "view_" + strings.ToLower(category)
}

/*
View returns per category the share of hemisphere rays hitting it first (sky: no hit),
one value per observation point.
*/
func (s PotentialSimulator) View(ctx context.Context, points []r3.Vec) (map[string][]float64, error) {
	_, span := tracer.Start(ctx, "potential.view")
	defer span.End()

	rays := s.ViewRays
	if rays <= 0 {
		rays = 256
	}
	directions := HemisphereDirections(rays)

	out := make(map[string][]float64, len(allSurroundingTypes)+1)
	for _, t := range allSurroundingTypes {
		out[viewDimension(string(t))] = make([]float64, 0, len(points))
	}
	out[viewDimension("sky")] = make([]float64, 0, len(points))

	for _, p := range points {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		counts := make(map[string]int)
		reach := s.MaxDistance
		if reach <= 0 {
			reach = s.Index.Reach(p)
		}
		for _, dir := range directions {
			hit, _, ok := s.Index.FirstHit(p, dir, reach)
			if ok {
				counts[viewDimension(string(hit.Type))]++
			} else {
				counts[viewDimension("sky")]++
			}
		}
		for dim := range out {
			out[dim] = append(out[dim], float64(counts[dim])/float64(rays))
		}
	}
	return out, nil
}

/*
Sun returns per instant 1 if the sun is above the horizon and unobstructed, else 0,
one value per observation point.
*/
func (s PotentialSimulator) Sun(ctx context.Context, points []r3.Vec, latitude, longitude float64, instants []time.Time) (map[string][]float64, error) {
	_, span := tracer.Start(ctx, "potential.sun")
	defer span.End()

	out := make(map[string][]float64, len(instants))
	for _, instant := range instants {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		dim := "sun_" + instant.UTC().Format(SunInstantLayout)
		values := make([]float64, 0, len(points))
		elevation, azimuth := SolarPosition(instant, latitude, longitude)
		dir := sunDirection(elevation, azimuth)
		for _, p := range points {
			if elevation <= 0 {
				values = append(values, 0)
				continue
			}
			if _, _, hit := s.Index.FirstHit(p, dir, s.Index.Reach(p)); hit {
				values = append(values, 0)
			} else {
				values = append(values, 1)
			}
		}
		out[dim] = values
	}
	return out, nil
}

/*
sunDirection converts elevation and azimuth (degrees, azimuth clockwise from north)
into a unit vector (x east, y north, z up).
*/
func sunDirection(elevation, azimuth float64) r3.Vec {
	el := elevation * math.Pi / 180
	az := azimuth * math.Pi / 180
	return r3.Vec{X: math.Sin(az) * math.Cos(el), Y: math.Cos(az) * math.Cos(el), Z: math.Sin(el)}
}

/*
SolarPosition returns solar elevation and azimuth (degrees) for an instant and a location
(low precision almanac algorithm, about 0.5° accuracy).
*/
func SolarPosition(t time.Time, latitude, longitude float64) (float64, float64) {
	const rad = math.Pi / 180
	mod := func(v, m float64) float64 {
		v = math.Mod(v, m)
		if v < 0 {
			v += m
		}
		return v
	}

	jd := float64(t.UTC().UnixNano())/86400e9 + 2440587.5
	n := jd - 2451545.0

	meanLongitude := mod(280.460+0.9856474*n, 360)
	meanAnomaly := mod(357.528+0.9856003*n, 360) * rad
	eclipticLongitude := (meanLongitude + 1.915*math.Sin(meanAnomaly) + 0.020*math.Sin(2*meanAnomaly)) * rad
	obliquity := (23.439 - 0.0000004*n) * rad

	rightAscension := math.Atan2(math.Cos(obliquity)*math.Sin(eclipticLongitude), math.Cos(eclipticLongitude))
	declination := math.Asin(math.Sin(obliquity) * math.Sin(eclipticLongitude))

	gmst := mod(18.697374558+24.06570982441908*n, 24)
	hourAngle := (gmst*15+longitude)*rad - rightAscension

	lat := latitude * rad
	elevation := math.Asin(math.Sin(lat)*math.Sin(declination) + math.Cos(lat)*math.Cos(declination)*math.Cos(hourAngle))
	azimuth := math.Atan2(-math.Sin(hourAngle), math.Tan(declination)*math.Cos(lat)-math.Sin(lat)*math.Cos(hourAngle))
	return elevation / rad, mod(azimuth/rad, 360)
}
