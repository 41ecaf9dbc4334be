package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

var (
	// Counters

	MergesPerformedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merges_performed_total",
			Help: "Three-way merges completed per section worker",
		},
		[]string{},
	)

	MergesTimedOutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merges_timed_out_total",
			Help: "Section merge attempts that exceeded the merge deadline",
		},
		[]string{},
	)

	SectionsAbandonedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sections_abandoned_total",
			Help: "Section workers abandoned after consecutive merge timeouts",
		},
		[]string{},
	)

	SizeGateSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "size_gate_skips_total",
			Help: "Candidate pairs skipped by the size-gate before a merge was attempted",
		},
		[]string{},
	)

	CandidatePairsConsideredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candidate_pairs_considered_total",
			Help: "Revert-pair candidates considered across all requests",
		},
		[]string{},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconstitution_requests_total",
			Help: "Completed /wiki/{title} requests",
		},
		[]string{"outcome"},
	)

	ShellSubstitutionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shell_substitution_failures_total",
			Help: "Requests that fell back to the original article HTML because shell substitution failed",
		},
		[]string{},
	)

	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache lookups that returned a value",
		},
		[]string{"backend"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Cache lookups that found nothing",
		},
		[]string{"backend"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Reconstitution events published to Kafka",
		},
		[]string{},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Reconstitution events dropped because the publish buffer was full or the Kafka write failed",
		},
		[]string{},
	)

	AnalyticsIndexErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_index_errors_total",
			Help: "Elasticsearch indexing errors for reconstitution run summaries",
		},
		[]string{},
	)

	WarmerRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmer_refreshes_total",
			Help: "Proactive cache refreshes triggered by the recentchanges-driven warmer",
		},
		[]string{},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"endpoint", "method"},
	)

	WebSocketConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Progress-hub WebSocket connections established",
		},
		[]string{},
	)

	APIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "HTTP responses with a 4xx/5xx status, by error code",
		},
		[]string{"code"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_hits_total",
			Help: "Requests rejected by a rate limiter",
		},
		[]string{},
	)

	// Gauges

	HotTitlesTracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hot_titles_tracked",
			Help: "Titles currently tracked as frequently-requested by the cache warmer",
		},
		[]string{},
	)

	WebSocketConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Currently active progress-hub WebSocket connections",
		},
		[]string{},
	)

	APIRequestsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "api_requests_in_flight",
			Help: "Concurrent HTTP requests",
		},
		[]string{},
	)

	// Histograms

	ReconstitutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconstitution_duration_seconds",
			Help:    "End-to-end reconstitution duration per request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{},
	)

	SectionMergeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "section_merge_duration_seconds",
			Help:    "Per-section three-way merge attempt duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{},
	)

	WikipediaAPIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wikipedia_api_request_duration_seconds",
			Help:    "Outbound MediaWiki action API call duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIResponseSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_response_size_bytes",
			Help:    "HTTP response body size",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		},
		[]string{"endpoint"},
	)

	// Registry for all metrics, keyed by metric name, so callers can look
	// metrics up dynamically (IncrementCounter/SetGauge/ObserveHistogram)
	// instead of importing every package-level var.
	metricsRegistry = make(map[string]prometheus.Collector)
	registryMu      sync.RWMutex
	initOnce        sync.Once
)

// InitMetrics registers all metrics with Prometheus's default registry.
// Safe to call more than once; only the first call registers anything.
func InitMetrics() {
	initOnce.Do(registerAllMetrics)
}

func registerAllMetrics() {
	registryMu.Lock()
	defer registryMu.Unlock()

	counters := map[string]*prometheus.CounterVec{
		"merges_performed_total":            MergesPerformedTotal,
		"merges_timed_out_total":            MergesTimedOutTotal,
		"sections_abandoned_total":          SectionsAbandonedTotal,
		"size_gate_skips_total":             SizeGateSkipsTotal,
		"candidate_pairs_considered_total":  CandidatePairsConsideredTotal,
		"reconstitution_requests_total":     RequestsTotal,
		"shell_substitution_failures_total": ShellSubstitutionFailuresTotal,
		"cache_hits_total":                  CacheHitsTotal,
		"cache_misses_total":                CacheMissesTotal,
		"events_published_total":            EventsPublishedTotal,
		"events_dropped_total":              EventsDroppedTotal,
		"analytics_index_errors_total":      AnalyticsIndexErrorsTotal,
		"warmer_refreshes_total":            WarmerRefreshesTotal,
		"api_requests_total":                APIRequestsTotal,
		"websocket_connections_total":       WebSocketConnectionsTotal,
		"api_errors_total":                  APIErrorsTotal,
		"rate_limit_hits_total":             RateLimitHitsTotal,
	}
	for name, c := range counters {
		prometheus.MustRegister(c)
		metricsRegistry[name] = c
	}

	gauges := map[string]*prometheus.GaugeVec{
		"hot_titles_tracked":           HotTitlesTracked,
		"websocket_connections_active": WebSocketConnectionsActive,
		"api_requests_in_flight":       APIRequestsInFlight,
	}
	for name, g := range gauges {
		prometheus.MustRegister(g)
		metricsRegistry[name] = g
	}

	histograms := map[string]*prometheus.HistogramVec{
		"reconstitution_duration_seconds":        ReconstitutionDuration,
		"section_merge_duration_seconds":         SectionMergeDuration,
		"wikipedia_api_request_duration_seconds": WikipediaAPIRequestDuration,
		"api_request_duration_seconds":           APIRequestDuration,
		"api_response_size_bytes":                APIResponseSizeBytes,
	}
	for name, h := range histograms {
		prometheus.MustRegister(h)
		metricsRegistry[name] = h
	}
}

// Helper functions for easy metric operations.

// IncrementCounter increments a counter metric with labels.
func IncrementCounter(name string, labels map[string]string) {
	registryMu.RLock()
	metric, exists := metricsRegistry[name]
	registryMu.RUnlock()

	if !exists {
		return
	}

	if counterVec, ok := metric.(*prometheus.CounterVec); ok {
		counterVec.With(labels).Inc()
	}
}

// SetGauge sets a gauge metric value with labels.
func SetGauge(name string, value float64, labels map[string]string) {
	registryMu.RLock()
	metric, exists := metricsRegistry[name]
	registryMu.RUnlock()

	if !exists {
		return
	}

	if gaugeVec, ok := metric.(*prometheus.GaugeVec); ok {
		gaugeVec.With(labels).Set(value)
	}
}

// ObserveHistogram observes a histogram metric with labels.
func ObserveHistogram(name string, value float64, labels map[string]string) {
	registryMu.RLock()
	metric, exists := metricsRegistry[name]
	registryMu.RUnlock()

	if !exists {
		return
	}

	if histogramVec, ok := metric.(*prometheus.HistogramVec); ok {
		histogramVec.With(labels).Observe(value)
	}
}

// GetMetric retrieves a metric by name for external use.
func GetMetric(name string) prometheus.Collector {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return metricsRegistry[name]
}

// Snapshot returns the current value of the top-level reconstitution
// counters, keyed by metric name. It gives an operator a one-request view
// of pipeline health (merges/timeouts/abandons/size-gate skips) without
// standing up a Prometheus scrape, via the /metrics/summary endpoint.
func Snapshot() map[string]float64 {
	return map[string]float64{
		"merges_performed_total":           testutil.ToFloat64(MergesPerformedTotal.WithLabelValues()),
		"merges_timed_out_total":           testutil.ToFloat64(MergesTimedOutTotal.WithLabelValues()),
		"sections_abandoned_total":         testutil.ToFloat64(SectionsAbandonedTotal.WithLabelValues()),
		"size_gate_skips_total":            testutil.ToFloat64(SizeGateSkipsTotal.WithLabelValues()),
		"candidate_pairs_considered_total": testutil.ToFloat64(CandidatePairsConsideredTotal.WithLabelValues()),
	}
}

// ---------------------------------------------------------------------------
// Metrics HTTP server
// ---------------------------------------------------------------------------

// Server exposes /metrics for Prometheus scraping and /metrics/summary for
// a quick human-readable JSON snapshot of the reconstitution counters.
type Server struct {
	server *http.Server
	port   int
	logger zerolog.Logger
}

// NewServer creates a metrics server listening on port (defaulting to
// 2112, Prometheus's conventional port).
func NewServer(port int, logger zerolog.Logger) *Server {
	if port == 0 {
		port = 2112
	}

	log := logger.With().Str("component", "metrics-server").Logger()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/metrics/summary", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(Snapshot()); err != nil {
			log.Error().Err(err).Msg("encoding metrics summary")
		}
	})

	return &Server{
		server: &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux},
		port:   port,
		logger: log,
	}
}

// Start starts the metrics server in a goroutine.
func (s *Server) Start() error {
	s.logger.Info().Int("port", s.port).Msg("starting metrics server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	time.Sleep(100 * time.Millisecond)
	return nil
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down metrics server")
	return s.server.Shutdown(ctx)
}

// IsHealthy checks if the metrics server is responding.
func (s *Server) IsHealthy() bool {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/metrics", s.port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
