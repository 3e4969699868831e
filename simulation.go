package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// simulation request types
const (
	RequestSurroundings = "SURROUNDINGS"
	RequestNoise        = "NOISE"
	RequestPotential    = "POTENTIAL"
)

//go:embed schemas/simulation-request.json
var simulationRequestSchema []byte

/*
SimulationRunner runs the synchronous simulations of a request.
*/
type SimulationRunner interface {
	Surroundings(ctx context.Context, request SimulationRequest) (string, int, error)
	Noise(ctx context.Context, request SimulationRequest) (string, SimulationResult, error)
}

/*
PotentialScheduler enqueues the potential units of a location (grid CRS).
*/
type PotentialScheduler interface {
	PotentialSimulate(ctx context.Context, x, y float64, simulations []string, floors []int, family string) (string, int, error)
}

/*
RequestValidator validates request bodies against a JSON schema.
*/
type RequestValidator struct {
	schema *gojsonschema.Schema
}

/*
NewRequestValidator compiles the schema.
*/
func NewRequestValidator(schema []byte) (*RequestValidator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("error [%w] at gojsonschema.NewSchema()", err)
	}
	return &RequestValidator{schema: compiled}, nil
}

/*
Validate checks a raw JSON document; all violations are reported in one error.
*/
func (v *RequestValidator) Validate(body []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("error [%w] at schema.Validate()", err)
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return fmt.Errorf("request does not match schema: %s", strings.Join(violations, "; "))
}

/*
simulationRequest handles 'simulation request' from client.
SURROUNDINGS and NOISE run synchronously, POTENTIAL enqueues units for the workers.
*/
func (s *Service) simulationRequest(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	var simulationResponse = SimulationResponse{Type: TypeSimulationResponse, ID: "unknown"}
	simulationResponse.Attributes.IsError = true

	// statistics
	atomic.AddUint64(&SimulationRequests, 1)

	respond := func(status int) {
		s.Metrics.ObserveRequest("simulation", status, time.Since(start))
		writeJSONResponse(writer, status, simulationResponse)
	}

	// limit overall request body size
	request.Body = http.MaxBytesReader(writer, request.Body, MaxSimulationRequestBodySize)

	bodyData, err := io.ReadAll(request.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			slog.Warn("simulation request: request body too large", "limit", maxBytesErr.Limit, "ID", "unknown")
			simulationResponse.Attributes.Error = ErrorObject{Code: "2000", Title: "request body too large",
				Detail: fmt.Sprintf("request body exceeds limit of %d bytes", maxBytesErr.Limit)}
			respond(http.StatusRequestEntityTooLarge)
		} else {
			slog.Warn("simulation request: error reading request body", "error", err, "ID", "unknown")
			simulationResponse.Attributes.Error = ErrorObject{Code: "2020", Title: "error reading request body", Detail: err.Error()}
			respond(http.StatusBadRequest)
		}
		return
	}

	simulationRequest := SimulationRequest{}
	err = json.Unmarshal(bodyData, &simulationRequest)
	if err != nil {
		slog.Warn("simulation request: error unmarshaling request body", "error", err, "ID", "unknown")
		simulationResponse.Attributes.Error = ErrorObject{Code: "2040", Title: "error unmarshaling request body", Detail: err.Error()}
		respond(http.StatusBadRequest)
		return
	}
	simulationResponse.ID = simulationRequest.ID
	simulationResponse.Attributes.Simulation = simulationRequest.Attributes.Simulation

	err = verifyJSONHeaders(request)
	if err == nil {
		err = s.Validator.Validate(bodyData)
	}
	if err != nil {
		slog.Warn("simulation request: error verifying request data", "error", err, "ID", simulationRequest.ID)
		simulationResponse.Attributes.Error = ErrorObject{Code: "2060", Title: "error verifying request data", Detail: err.Error()}
		respond(http.StatusBadRequest)
		return
	}

	ctx, span := tracer.Start(request.Context(), "simulation."+strings.ToLower(simulationRequest.Attributes.Simulation))
	defer span.End()

	attributes := &simulationResponse.Attributes
	switch simulationRequest.Attributes.Simulation {
	case RequestSurroundings:
		attributes.RunID, attributes.Triangles, err = s.Engine.Surroundings(ctx, simulationRequest)
		if err == nil {
			atomic.AddUint64(&SimulationTriangles, uint64(attributes.Triangles))
		}
	case RequestNoise:
		attributes.RunID, attributes.Results, err = s.Engine.Noise(ctx, simulationRequest)
	case RequestPotential:
		attributes.RunID, attributes.Jobs, err = s.potential(ctx, simulationRequest)
		if err == nil {
			atomic.AddUint64(&PotentialJobs, uint64(attributes.Jobs))
		}
	}
	if err != nil {
		span.RecordError(err)
		status, code := simulationErrorStatus(err)
		slog.Warn("simulation request: error running simulation", "error", err, "ID", simulationRequest.ID, "simulation", simulationRequest.Attributes.Simulation)
		attributes.Error = ErrorObject{Code: code, Title: "error running simulation", Detail: err.Error()}
		respond(status)
		return
	}

	attributes.IsError = false
	respond(http.StatusOK)
}

/*
potential enqueues view and sun units for the requested floors (ground floor by default).
*/
func (s *Service) potential(ctx context.Context, request SimulationRequest) (string, int, error) {
	if s.Scheduler == nil {
		return "", 0, fmt.Errorf("%w: potential simulations not available", ErrUpstreamUnavailable)
	}
	floors := request.Attributes.Floors
	if len(floors) == 0 {
		floors = []int{0}
	}
	x, y, err := s.Reprojector.TransformPoint(EPSGWGS84, s.Grid.EPSG, request.Attributes.Longitude, request.Attributes.Latitude)
	if err != nil {
		return "", 0, err
	}
	return s.Scheduler.PotentialSimulate(ctx, x, y, []string{SimulationView, SimulationSun}, floors, request.Attributes.SourceFamily)
}

/*
simulationErrorStatus maps engine errors to HTTP status and error code.
*/
func simulationErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrOutsideGrid), errors.Is(err, ErrInvalidGeometry), errors.Is(err, ErrNoObservationPoints):
		return http.StatusBadRequest, "2080"
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "2090"
	default:
		return http.StatusInternalServerError, "2100"
	}
}
