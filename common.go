package main

import (
	"errors"
	"fmt"
	"os"
)

// --------------------------------------------------------------------------------
// Constants.
// --------------------------------------------------------------------------------

// HTTP Accept headers
const (
	JSONAPIMediaType   = "application/json; charset=utf-8"
	TextPlainMediaType = "text/html; charset=utf-8"
)

// JSON API types
const (
	TypePointRequest       = "PointRequest"
	TypePointResponse      = "PointResponse"
	TypeSimulationRequest  = "SimulationRequest"
	TypeSimulationResponse = "SimulationResponse"
)

// request body limits (in bytes, for security reasons)
const (
	MaxPointRequestBodySize      = 4 * 1024
	MaxSimulationRequestBodySize = 2 * 1024 * 1024
)

// no data marker of elevation tiles
const NoDataElevation = -9999.0

// data availability errors (recovered as empty contribution)
var (
	ErrNoEntities     = errors.New("no entities")
	ErrOutOfCoverage  = errors.New("out of elevation coverage")
	ErrBlobNotFound   = errors.New("blob not found")
	ErrTileNotFound   = errors.New("tile not found")
	ErrNoNoiseSources = errors.New("no noise sources")
)

// geometry validity errors (offending sub-geometry skipped, observation point failure fatal per area)
var (
	ErrInvalidGeometry     = errors.New("invalid geometry")
	ErrNoObservationPoints = errors.New("no observation points")
)

// coordinate range errors (fatal)
var ErrOutsideGrid = errors.New("coordinate outside national tile grid")

// upstream service errors (retried, then failed unit)
var ErrUpstreamUnavailable = errors.New("upstream service unavailable")

// ErrorObject represents error details.
type ErrorObject struct {
	Code   string
	Title  string
	Detail string
}

// ElevationSource represents elevation source of a tile set.
type ElevationSource struct {
	Code        string // e.g. CH-SA3D
	Name        string // e.g. swissALTI3D
	Attribution string // e.g. © swisstopo
}

var elevationSources = []ElevationSource{
	{Code: "CH-SA3D", Name: "swissALTI3D", Attribution: "© swisstopo, swissALTI3D"},
	{Code: "CH-DHM25", Name: "DHM25", Attribution: "© swisstopo, DHM25"},
	{Code: "SRTM", Name: "SRTM 1 Arc-Second Global", Attribution: "NASA Shuttle Radar Topography Mission (SRTM), public domain"},
	{Code: "DE-NW", Name: "Nordrhein-Westfalen", Attribution: "© GeoBasis-DE / NRW (2025), dl-de/zero-2-0"},
	{Code: "DE-BW", Name: "Baden-Württemberg", Attribution: "© GeoBasis-DE / LGL-BW (2025), dl-de/by-2-0"},
	{Code: "DE-BY", Name: "Bayern", Attribution: "Datenquelle: Bayerische Vermessungsverwaltung – geodaten.bayern.de, cc-by/4.0"},
}

// --------------------------------------------------------------------------------
// Request  : Client -> PointRequest  -> Service
// Response : Client <- PointResponse <- Service
// --------------------------------------------------------------------------------

// PointRequest represents lon/lat coordinates for point request.
type PointRequest struct {
	Type       string
	ID         string
	Attributes struct {
		Longitude float64
		Latitude  float64
	}
}

// PointResponse represents elevation for point response.
type PointResponse struct {
	Type       string
	ID         string
	Attributes struct {
		Longitude   float64
		Latitude    float64
		Easting     float64
		Northing    float64
		Elevation   float64
		Actuality   string
		Origin      string
		Attribution string
		TileIndex   string
		IsError     bool
		Error       ErrorObject
	}
}

// --------------------------------------------------------------------------------
// Request  : Client -> SimulationRequest  -> Service
// Response : Client <- SimulationResponse <- Service
// --------------------------------------------------------------------------------

// AreaRequest represents one area (room, apartment) of a site.
type AreaRequest struct {
	ID              string
	Footprint       [][2]float64 // lon/lat ring
	FloorElevation  float64      // height of floor above ground (m)
	SpaceSurface    float64      // enclosing facade surface (m²)
	OpeningsSurface float64      // window surface (m²)
}

// SimulationRequest represents a simulation request for a location.
type SimulationRequest struct {
	Type       string
	ID         string
	Attributes struct {
		Longitude    float64
		Latitude     float64
		Simulation   string // SURROUNDINGS, NOISE, POTENTIAL
		SourceFamily string // OSM, SWISSTOPO
		Floors       []int
		Areas        []AreaRequest
		Buildings    [][][2]float64 // lon/lat footprints of the site's own buildings
	}
}

// SimulationResponse represents the outcome of a simulation request.
type SimulationResponse struct {
	Type       string
	ID         string
	Attributes struct {
		RunID      string
		Simulation string
		Triangles  int
		Jobs       int
		Results    SimulationResult
		IsError    bool
		Error      ErrorObject
	}
}

/*
FileExists checks if a file already exists.
It returns true if the file exists, and false otherwise.
*/
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	if err != nil {
		return false
	}
	// check if it's actually a file and not a directory
	return !info.IsDir()
}

/*
getElevationResource gets elevation source for given source code.
*/
func getElevationResource(code string) (ElevationSource, error) {
	for _, resource := range elevationSources {
		if resource.Code == code {
			return resource, nil
		}
	}
	return ElevationSource{}, fmt.Errorf("elevation source [%s] not found", code)
}
