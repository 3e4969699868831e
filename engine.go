package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
)

/*
Engine runs surroundings, noise and potential simulations on the shared resources.
*/
type Engine struct {
	Factory              *SurroundingsFactory
	Reprojector          *Reprojector
	Results              *ResultStore
	Grid                 TileGrid
	Observation          ObservationGenerator
	PotentialObservation ObservationGenerator
	FloorHeight          float64
	NoiseSampleSpacing   float64
	NoiseLayers          []NoiseLayerSpec // custom noise lines, added to the family's layers
	ViewRays             int
	SunInstants          []time.Time
}

/*
siteFromRequest converts location and building footprints (WGS84) into a site of the working CRS.
*/
func (e *Engine) siteFromRequest(longitude, latitude float64, familyName string, buildings [][][2]float64) (*Site, error) {
	family, err := sourceFamily(familyName)
	if err != nil {
		return nil, err
	}
	epsg := e.Factory.WorkingEPSG
	x, y, err := e.Reprojector.TransformPoint(EPSGWGS84, epsg, longitude, latitude)
	if err != nil {
		return nil, err
	}
	footprints := make([]Polygon3D, 0, len(buildings))
	for i, ring := range buildings {
		p, err := e.workingPolygon(ring)
		if err != nil {
			return nil, fmt.Errorf("building %d: %w", i, err)
		}
		footprints = append(footprints, p)
	}
	return e.Factory.NewSite(x, y, family, footprints), nil
}

/*
workingPolygon converts a lon/lat ring into a polygon of the working CRS.
*/
func (e *Engine) workingPolygon(ring [][2]float64) (Polygon3D, error) {
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	if len(ring) < 3 {
		return Polygon3D{}, fmt.Errorf("%w: ring with %d vertices", ErrInvalidGeometry, len(ring))
	}
	p := Polygon3D{Exterior: make(Ring, len(ring))}
	for i, v := range ring {
		p.Exterior[i] = r3.Vec{X: v[0], Y: v[1]}
	}
	return e.Reprojector.TransformPolygon(p, EPSGWGS84, e.Factory.WorkingEPSG)
}

/*
Surroundings builds and stores the surroundings mesh of a location.
It returns the run id and the number of triangles.
*/
func (e *Engine) Surroundings(ctx context.Context, request SimulationRequest) (string, int, error) {
	attributes := request.Attributes
	site, err := e.siteFromRequest(attributes.Longitude, attributes.Latitude, attributes.SourceFamily, attributes.Buildings)
	if err != nil {
		return "", 0, err
	}
	defer site.Close()

	triangles, err := CollectTriangles(site.Surroundings(ctx))
	if err != nil {
		return "", 0, err
	}
	runID := uuid.NewString()
	err = e.Results.PutMesh(ctx, runID, triangles)
	if err != nil {
		return "", 0, err
	}
	slog.Info("surroundings stored", "run", runID, "triangles", len(triangles))
	return runID, len(triangles), nil
}

/*
Noise computes and stores the noise exposure of the requested areas.
Areas without observation points are left out of the result.
*/
func (e *Engine) Noise(ctx context.Context, request SimulationRequest) (string, SimulationResult, error) {
	attributes := request.Attributes
	site, err := e.siteFromRequest(attributes.Longitude, attributes.Latitude, attributes.SourceFamily, attributes.Buildings)
	if err != nil {
		return "", nil, err
	}
	defer site.Close()

	var areas []NoiseArea
	var areaErrs []error
	for _, area := range attributes.Areas {
		footprint, err := e.workingPolygon(area.Footprint)
		if err != nil {
			areaErrs = append(areaErrs, fmt.Errorf("area %s: %w", area.ID, err))
			continue
		}
		points, err := e.areaPoints(site, footprint, area.FloorElevation)
		if err != nil {
			slog.Warn("area without observation points", "area", area.ID, "error", err)
			areaErrs = append(areaErrs, fmt.Errorf("area %s: %w", area.ID, err))
			continue
		}
		areas = append(areas, NoiseArea{ID: area.ID, Points: points, SpaceSurface: area.SpaceSurface, OpeningsSurface: area.OpeningsSurface})
	}
	if len(areas) == 0 && len(areaErrs) > 0 {
		return "", nil, errors.Join(areaErrs...)
	}

	obstacles, err := site.Buildings(ctx)
	if err != nil {
		return "", nil, err
	}
	index, err := NewTriangleIndex(site.WithoutOwnBuildings(obstacles))
	if err != nil {
		return "", nil, err
	}

	sources, err := site.NoiseSources(e.NoiseLayers)
	if err != nil {
		return "", nil, err
	}
	handler := NoiseSimulationHandler{
		Sources: sources,
		Region:  e.Factory.Region(Highway, site.X, site.Y),
		Tracer:  NoiseRayTracer{Obstacles: index, SampleSpacing: e.NoiseSampleSpacing},
		Areas:   areas,
	}
	result, err := handler.NoiseForSite(ctx)
	if err != nil {
		return "", nil, err
	}
	runID := uuid.NewString()
	err = e.Results.PutResults(ctx, runID, result)
	if err != nil {
		return "", nil, err
	}
	return runID, result, nil
}

/*
areaPoints samples the observation points of an area; the floor baseline is the
lowest terrain point of the footprint plus the floor elevation.
*/
func (e *Engine) areaPoints(site *Site, footprint Polygon3D, floorElevation float64) ([]r3.Vec, error) {
	ground, err := lowestGround(site.Elevation(), footprint)
	if err != nil {
		return nil, err
	}
	return e.Observation.Points(footprint, ground+floorElevation)
}

func lowestGround(elevation ElevationHandler, footprint Polygon3D) (float64, error) {
	ground := 0.0
	for i, v := range footprint.Exterior {
		z, err := elevation.Elevation(v.X, v.Y)
		if err != nil {
			return 0, err
		}
		if i == 0 || z < ground {
			ground = z
		}
	}
	return ground, nil
}

/*
RunUnit computes one potential unit (sub-tile, simulation, floor) and stores its result.
*/
func (e *Engine) RunUnit(ctx context.Context, job PotentialJob) error {
	bounds, err := e.Grid.SubTileBounds(TileLocation{Index: job.Unit.TileIndex, SubIndex: job.Unit.SubIndex})
	if err != nil {
		return err
	}
	family, err := sourceFamily(job.SourceFamily)
	if err != nil {
		return err
	}
	cx, cy := bounds.Center()
	if bounds.EPSG != e.Factory.WorkingEPSG {
		cx, cy, err = e.Reprojector.TransformPoint(bounds.EPSG, e.Factory.WorkingEPSG, cx, cy)
		if err != nil {
			return err
		}
		bounds, err = e.Reprojector.TransformBounds(bounds, e.Factory.WorkingEPSG)
		if err != nil {
			return err
		}
	}
	site := e.Factory.NewSite(cx, cy, family, nil)
	defer site.Close()

	// observation points on the sub-tile, lifted above the terrain per point
	flat, err := e.PotentialObservation.Points(bounds.Polygon(), 0)
	if err != nil {
		return err
	}
	points := make([]r3.Vec, 0, len(flat))
	for _, p := range flat {
		z, err := site.Elevation().Elevation(p.X, p.Y)
		if err != nil {
			continue
		}
		points = append(points, r3.Vec{X: p.X, Y: p.Y, Z: z + float64(job.Unit.Floor)*e.FloorHeight + p.Z})
	}
	if len(points) == 0 {
		return fmt.Errorf("%w: sub-tile %s without elevation coverage", ErrNoObservationPoints, job.Unit)
	}

	triangles, err := CollectTriangles(site.Surroundings(ctx))
	if err != nil {
		return err
	}
	index, err := NewTriangleIndex(triangles)
	if err != nil {
		return err
	}
	simulator := PotentialSimulator{Index: index, ViewRays: e.ViewRays}

	var dims map[string][]float64
	switch job.Unit.Simulation {
	case SimulationView:
		dims, err = simulator.View(ctx, points)
	case SimulationSun:
		var lon, lat float64
		lon, lat, err = e.Reprojector.TransformPoint(e.Factory.WorkingEPSG, EPSGWGS84, cx, cy)
		if err != nil {
			return err
		}
		dims, err = simulator.Sun(ctx, points, lat, lon, e.SunInstants)
	default:
		return fmt.Errorf("unknown potential simulation [%s]", job.Unit.Simulation)
	}
	if err != nil {
		return err
	}
	return e.Results.PutResults(ctx, job.RunID+"/"+job.Unit.String(), SimulationResult{job.Unit.String(): dims})
}
