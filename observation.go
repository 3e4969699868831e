package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

/*
ObservationGenerator samples observation points inside area footprints.
The footprint is shrunk by Buffer and covered with hexagonal cells of size Resolution
(center distance); every cell center inside the shrunk footprint becomes a point at
Height above the floor baseline. Cell centers are anchored to multiples of the resolution,
so the result depends only on the footprint.
*/
type ObservationGenerator struct {
	Resolution float64 // hex center spacing (m)
	Buffer     float64 // inward buffer (m)
	Height     float64 // observation height above floor (m)
}

/*
Points returns the observation points of one footprint (working CRS) at floor height floorZ.
An empty result is reported as ErrNoObservationPoints.
*/
func (o ObservationGenerator) Points(area Polygon3D, floorZ float64) ([]r3.Vec, error) {
	if o.Resolution <= 0 {
		return nil, fmt.Errorf("invalid observation resolution %.3f", o.Resolution)
	}
	shrunk, err := shrinkPolygon(area, o.Buffer)
	if err != nil {
		return nil, err
	}

	dy := o.Resolution * math.Sqrt(3) / 2
	var points []r3.Vec
	for _, p := range shrunk {
		b := p.Bounds()
		row0 := int(math.Floor(b.Min[1] / dy))
		row1 := int(math.Ceil(b.Max[1] / dy))
		for row := row0; row <= row1; row++ {
			y := float64(row) * dy
			offset := 0.0
			if row%2 != 0 {
				offset = o.Resolution / 2
			}
			col0 := int(math.Floor((b.Min[0] - offset) / o.Resolution))
			col1 := int(math.Ceil((b.Max[0] - offset) / o.Resolution))
			for col := col0; col <= col1; col++ {
				x := float64(col)*o.Resolution + offset
				if p.Contains(x, y) {
					points = append(points, r3.Vec{X: x, Y: y, Z: floorZ + o.Height})
				}
			}
		}
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: area %.2f m², buffer %.2f m, resolution %.2f m", ErrNoObservationPoints, area.Area(), o.Buffer, o.Resolution)
	}
	return points, nil
}

/*
shrinkPolygon buffers the polygon inward (GEOS); the result may split into several parts.
*/
func shrinkPolygon(p Polygon3D, buffer float64) ([]Polygon3D, error) {
	if buffer <= 0 {
		return []Polygon3D{p}, nil
	}
	geometry, err := newGDALPolygon(p)
	if err != nil {
		return nil, err
	}
	defer geometry.Close()

	shrunk, err := geometry.Buffer(-buffer, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: error [%w] at geometry.Buffer()", ErrInvalidGeometry, err)
	}
	defer shrunk.Close()
	if shrunk.Empty() {
		return nil, fmt.Errorf("%w: footprint vanishes at buffer %.2f m", ErrNoObservationPoints, buffer)
	}

	g, err := sourceFromGDAL(shrunk)
	if err != nil {
		return nil, err
	}
	return g.Polygons, nil
}
