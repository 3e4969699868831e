package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

/*
pointRequest handles 'point request' from client.
*/
func (s *Service) pointRequest(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	var pointResponse = PointResponse{Type: TypePointResponse, ID: "unknown"}
	pointResponse.Attributes.Elevation = -8888.0
	pointResponse.Attributes.IsError = true

	// statistics
	atomic.AddUint64(&PointRequests, 1)

	respond := func(status int) {
		s.Metrics.ObserveRequest("point", status, time.Since(start))
		writeJSONResponse(writer, status, pointResponse)
	}

	// limit overall request body size
	request.Body = http.MaxBytesReader(writer, request.Body, MaxPointRequestBodySize)

	bodyData, err := io.ReadAll(request.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			slog.Warn("point request: request body too large", "limit", maxBytesErr.Limit, "ID", "unknown")
			pointResponse.Attributes.Error = ErrorObject{Code: "1000", Title: "request body too large",
				Detail: fmt.Sprintf("request body exceeds limit of %d bytes", maxBytesErr.Limit)}
			respond(http.StatusRequestEntityTooLarge)
		} else {
			slog.Warn("point request: error reading request body", "error", err, "ID", "unknown")
			pointResponse.Attributes.Error = ErrorObject{Code: "1020", Title: "error reading request body", Detail: err.Error()}
			respond(http.StatusBadRequest)
		}
		return
	}

	pointRequest := PointRequest{}
	err = json.Unmarshal(bodyData, &pointRequest)
	if err != nil {
		slog.Warn("point request: error unmarshaling request body", "error", err, "ID", "unknown")
		pointResponse.Attributes.Error = ErrorObject{Code: "1040", Title: "error unmarshaling request body", Detail: err.Error()}
		respond(http.StatusBadRequest)
		return
	}

	// copy request parameters into response
	pointResponse.ID = pointRequest.ID
	pointResponse.Attributes.Latitude = pointRequest.Attributes.Latitude
	pointResponse.Attributes.Longitude = pointRequest.Attributes.Longitude

	err = verifyPointRequestData(request, pointRequest)
	if err != nil {
		slog.Warn("point request: error verifying request data", "error", err, "ID", pointRequest.ID)
		pointResponse.Attributes.Error = ErrorObject{Code: "1060", Title: "error verifying request data", Detail: err.Error()}
		respond(http.StatusBadRequest)
		return
	}

	x, y, err := s.Reprojector.TransformPoint(EPSGWGS84, s.Config.WorkingEPSG, pointRequest.Attributes.Longitude, pointRequest.Attributes.Latitude)
	if err != nil {
		slog.Error("point request: error transforming coordinates", "error", err, "ID", pointRequest.ID)
		pointResponse.Attributes.Error = ErrorObject{Code: "1070", Title: "error transforming coordinates", Detail: err.Error()}
		respond(http.StatusInternalServerError)
		return
	}
	pointResponse.Attributes.Easting = x
	pointResponse.Attributes.Northing = y

	elevation, tile, err := s.elevationForPoint(pointRequest.Attributes.Longitude, pointRequest.Attributes.Latitude)
	if err != nil {
		slog.Debug("point request: error getting elevation for point", "error", err, "ID", pointRequest.ID)
		pointResponse.Attributes.Error = ErrorObject{Code: "1080", Title: "error getting elevation", Detail: err.Error()}
		respond(http.StatusBadRequest)
		return
	}

	// get attribution for resource
	attribution := "unknown"
	origin := "unknown"
	resource, err := getElevationResource(tile.Source)
	if err != nil {
		slog.Error("point request: error getting elevation resource", "error", err, "source", tile.Source, "ID", pointRequest.ID)
	} else {
		attribution = resource.Attribution
		origin = resource.Code
	}

	pointResponse.Attributes.Elevation = elevation
	pointResponse.Attributes.Actuality = tile.Actuality
	pointResponse.Attributes.Origin = origin
	pointResponse.Attributes.Attribution = attribution
	pointResponse.Attributes.TileIndex = tile.Index
	pointResponse.Attributes.IsError = false
	respond(http.StatusOK)
}

/*
elevationForPoint looks up a lon/lat position in every tile set of the repository,
national grids before global ones.
*/
func (s *Service) elevationForPoint(longitude, latitude float64) (float64, TileMetadata, error) {
	if s.Repository == nil {
		return 0, TileMetadata{}, fmt.Errorf("%w: no elevation tiles configured", ErrOutOfCoverage)
	}
	var lastErr error
	for _, epsg := range s.Repository.EPSGCodes() {
		x, y := longitude, latitude
		if epsg != EPSGWGS84 {
			var err error
			x, y, err = s.Reprojector.TransformPoint(EPSGWGS84, epsg, longitude, latitude)
			if err != nil {
				lastErr = err
				continue
			}
		}
		elevation, tile, err := s.Repository.Elevation(x, y, epsg)
		if err == nil {
			return elevation, tile, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: lon: %.6f, lat: %.6f", ErrOutOfCoverage, longitude, latitude)
	}
	return 0, TileMetadata{}, lastErr
}

/*
verifyJSONHeaders checks the Content-Type and Accept headers of an API request.
*/
func verifyJSONHeaders(request *http.Request) error {
	contentType := request.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "application/json") {
		return fmt.Errorf("unexpected or missing HTTP header field Content-Type, value = [%s], expected 'application/json'", contentType)
	}
	accept := request.Header.Get("Accept")
	if !strings.HasPrefix(strings.ToLower(accept), "application/json") {
		return fmt.Errorf("unexpected or missing HTTP header field Accept, value = [%s], expected 'application/json'", accept)
	}
	return nil
}

/*
verifyPointRequestData verifies 'point' request data.
*/
func verifyPointRequestData(request *http.Request, pointRequest PointRequest) error {
	err := verifyJSONHeaders(request)
	if err != nil {
		return err
	}
	if pointRequest.Type != TypePointRequest {
		return fmt.Errorf("unexpected request Type [%v]", pointRequest.Type)
	}
	if len(pointRequest.ID) > 1024 {
		return errors.New("ID must be 0-1024 characters long")
	}
	if pointRequest.Attributes.Latitude > 90 || pointRequest.Attributes.Latitude < -90 {
		return errors.New("invalid latitude")
	}
	if pointRequest.Attributes.Longitude > 180 || pointRequest.Attributes.Longitude < -180 {
		return errors.New("invalid longitude")
	}
	return nil
}
