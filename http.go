package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

/*
Service bundles the process-wide resources used by the HTTP handlers.
*/
type Service struct {
	Config      ProgConfig
	Repository  *TileRepository
	Reprojector *Reprojector
	Grid        TileGrid
	Engine      SimulationRunner
	Scheduler   PotentialScheduler
	Validator   *RequestValidator
	Metrics     *EngineMetrics
}

/*
routes defines the API routes of the service.
*/
func (s *Service) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/point", s.pointRequest)
	mux.HandleFunc("OPTIONS /v1/point", corsOptionsHandler)

	mux.HandleFunc("POST /v1/simulation", s.simulationRequest)
	mux.HandleFunc("OPTIONS /v1/simulation", corsOptionsHandler)

	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}

	// handle unsupported routes or methods
	mux.HandleFunc("/", unsupportedRequest)
	return mux
}

/*
corsOptionsHandler handles CORS preflight (OPTIONS) requests.
*/
func corsOptionsHandler(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Access-Control-Allow-Origin", "*")
	writer.Header().Set("Access-Control-Allow-Methods", "POST")
	writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	// caching time for results of preflight request in seconds (24 hours)
	writer.Header().Set("Access-Control-Max-Age", "86400")
	writer.WriteHeader(http.StatusOK)
}

/*
unsupportedRequest answers unexpected routes or methods with "400 Bad Request".
*/
func unsupportedRequest(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", TextPlainMediaType)
	writer.WriteHeader(http.StatusBadRequest)
	errorMessage := "unsupported http request (e.g. route or method)"
	slog.Warn(errorMessage, "method", request.Method, "path", request.URL.Path)
	fmt.Fprint(writer, errorMessage)
}

/*
writeJSONResponse writes an API response with CORS headers.
*/
func writeJSONResponse(writer http.ResponseWriter, httpStatus int, response any) {
	// log limit length of body
	maxBodyLength := 1024

	writer.Header().Set("Access-Control-Allow-Origin", "*")
	writer.Header().Set("Access-Control-Allow-Methods", "POST")
	writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	body, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		slog.Error("error marshaling response", "error", err)
		http.Error(writer, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writer.Header().Set("Content-Type", JSONAPIMediaType)
	writer.WriteHeader(httpStatus)
	_, err = writer.Write(body)
	if err != nil {
		slog.Error("error writing HTTP response body", "error", err, "body length", len(body),
			fmt.Sprintf("body (limited to first %d bytes)", maxBodyLength), body[:min(len(body), maxBodyLength)])
	}
}
