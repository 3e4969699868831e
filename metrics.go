package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/*
EngineMetrics bundles the Prometheus metrics of the engine.
All methods accept a nil receiver (metrics disabled).
*/
type EngineMetrics struct {
	gatherer prometheus.Gatherer

	Requests         *prometheus.CounterVec
	RequestDurations *prometheus.HistogramVec
	Triangles        *prometheus.CounterVec
	Units            *prometheus.CounterVec
	UnitDurations    *prometheus.HistogramVec
	DownloadBytes    prometheus.Counter
	DownloadDuration prometheus.Histogram
}

/*
NewEngineMetrics registers the metrics against reg (global registry when nil).
*/
func NewEngineMetrics(reg prometheus.Registerer) (*EngineMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	m := &EngineMetrics{gatherer: gatherer}

	var err error
	m.Requests, err = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "surroundings_requests_total",
		Help: "Handled HTTP requests by endpoint and status code.",
	}, []string{"endpoint", "code"}), "surroundings_requests_total")
	if err != nil {
		return nil, err
	}
	m.RequestDurations, err = registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "surroundings_request_duration_seconds",
		Help:    "HTTP request latency by endpoint.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 180},
	}, []string{"endpoint"}), "surroundings_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	m.Triangles, err = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "surroundings_triangles_total",
		Help: "Generated triangles by surrounding type.",
	}, []string{"type"}), "surroundings_triangles_total")
	if err != nil {
		return nil, err
	}
	m.Units, err = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "surroundings_units_total",
		Help: "Processed potential units by simulation and final state.",
	}, []string{"simulation", "state"}), "surroundings_units_total")
	if err != nil {
		return nil, err
	}
	m.UnitDurations, err = registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "surroundings_unit_duration_seconds",
		Help:    "Processing time of potential units.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"simulation"}), "surroundings_unit_duration_seconds")
	if err != nil {
		return nil, err
	}
	m.DownloadBytes, err = registerCollector(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "surroundings_source_download_bytes_total",
		Help: "Bytes of source files downloaded into the local cache.",
	}), "surroundings_source_download_bytes_total")
	if err != nil {
		return nil, err
	}
	m.DownloadDuration, err = registerCollector(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "surroundings_source_download_duration_seconds",
		Help:    "Duration of source file downloads.",
		Buckets: prometheus.DefBuckets,
	}), "surroundings_source_download_duration_seconds")
	if err != nil {
		return nil, err
	}
	return m, nil
}

/*
registerCollector registers c or returns the compatible collector registered before.
*/
func registerCollector[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
		var zero T
		return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	var zero T
	return zero, fmt.Errorf("error [%w] at reg.Register(), collector %s", err, name)
}

/*
Handler exposes the /metrics endpoint.
*/
func (m *EngineMetrics) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if m != nil && m.gatherer != nil {
		gatherer = m.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *EngineMetrics) ObserveRequest(endpoint string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	m.RequestDurations.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *EngineMetrics) ObserveTriangles(surroundingType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Triangles.WithLabelValues(surroundingType).Add(float64(n))
}

func (m *EngineMetrics) ObserveUnit(simulation string, state UnitState, d time.Duration) {
	if m == nil {
		return
	}
	m.Units.WithLabelValues(simulation, string(state)).Inc()
	m.UnitDurations.WithLabelValues(simulation).Observe(d.Seconds())
}

func (m *EngineMetrics) ObserveDownload(bytes int, d time.Duration) {
	if m == nil {
		return
	}
	m.DownloadBytes.Add(float64(bytes))
	m.DownloadDuration.Observe(d.Seconds())
}
