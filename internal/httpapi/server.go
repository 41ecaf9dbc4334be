// Package api is the HTTP front-end for the reconstitution service: it
// serves the spliced article page, the per-request progress WebSocket,
// the per-title history lookup, and the aggregate health endpoint.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sjpalmer/wikivandal/internal/analytics"
	"github.com/sjpalmer/wikivandal/internal/cache"
	"github.com/sjpalmer/wikivandal/internal/config"
	"github.com/sjpalmer/wikivandal/internal/events"
	"github.com/sjpalmer/wikivandal/internal/history"
	"github.com/sjpalmer/wikivandal/internal/metrics"
	"github.com/sjpalmer/wikivandal/internal/models"
	"github.com/sjpalmer/wikivandal/internal/reconstitute"
	"github.com/sjpalmer/wikivandal/internal/resilience"
	"github.com/sjpalmer/wikivandal/internal/shell"
	"github.com/sjpalmer/wikivandal/internal/warmer"
	"github.com/sjpalmer/wikivandal/internal/wikipedia"
)

// APIServer is the HTTP front-end for the reconstitution service.
type APIServer struct {
	router *http.ServeMux

	wikipedia    *wikipedia.Client
	cache        cache.Cache
	history      *history.Store
	analytics    *analytics.Client
	events       *events.Publisher
	hotTitles    *warmer.HotTitleTracker
	degradation  *resilience.DegradationManager
	progressHub  *ProgressHub
	rateLimiter  *RateLimiter

	config    *config.Config
	logger    zerolog.Logger
	startTime time.Time
	version   string
}

// Dependencies bundles the collaborators NewAPIServer wires into routes.
// Optional collaborators (History, Analytics, Events, HotTitles) may be
// nil — every handler that uses them checks first.
type Dependencies struct {
	Wikipedia   *wikipedia.Client
	Cache       cache.Cache
	History     *history.Store
	Analytics   *analytics.Client
	Events      *events.Publisher
	HotTitles   *warmer.HotTitleTracker
	Degradation *resilience.DegradationManager
	// Redis backs the sliding-window rate limiter. May be nil, in which
	// case rate limiting falls back to the in-process token bucket.
	Redis *redis.Client
}

// NewAPIServer creates and configures a new API server with all middleware
// and routes registered.
func NewAPIServer(deps Dependencies, cfg *config.Config, logger zerolog.Logger) *APIServer {
	s := &APIServer{
		router:      http.NewServeMux(),
		wikipedia:   deps.Wikipedia,
		cache:       deps.Cache,
		history:     deps.History,
		analytics:   deps.Analytics,
		events:      deps.Events,
		hotTitles:   deps.HotTitles,
		degradation: deps.Degradation,
		config:      cfg,
		logger:      logger.With().Str("component", "api").Logger(),
		startTime:   time.Now(),
		version:     "1.0.0",
	}

	if cfg.API.RateLimiting.Enabled && deps.Redis != nil {
		s.rateLimiter = NewRateLimiter(deps.Redis, cfg.API.RateLimiting, s.logger)
	}

	s.progressHub = NewProgressHub(s.logger)
	go s.progressHub.Run()

	s.setupRoutes()
	return s
}

func (s *APIServer) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /health/live", s.handleLiveness)
	s.router.HandleFunc("GET /health/ready", s.handleReadiness)

	s.router.HandleFunc("GET /wiki/{title...}", s.handleReconstitute)
	s.router.HandleFunc("GET /api/history/{title...}", s.handleHistory)

	s.router.HandleFunc("/ws/progress/{requestID...}", s.ServeProgress)
}

// Handler returns the full middleware-wrapped HTTP handler.
func (s *APIServer) Handler() http.Handler {
	var h http.Handler = s.router

	h = MetricsMiddleware(h)

	if s.rateLimiter != nil {
		h = s.rateLimiter.Middleware(h)
	} else {
		h = RateLimitMiddleware(s.config.API.RateLimiting.RequestsPerMinute/60, h)
	}

	h = RequestValidationMiddleware(h)
	h = SecurityHeadersMiddleware(h)
	h = CORSMiddleware(h)
	h = ETagMiddleware(h)
	h = GzipMiddleware(h)
	h = RecoveryMiddleware(s.logger, h)
	h = RequestIDMiddleware(s.logger, h)
	h = LoggerMiddleware(s.logger, h)

	return h
}

// ListenAndServe builds the *http.Server bound to addr (or the configured
// API port if addr is empty).
func (s *APIServer) ListenAndServe(addr string) *http.Server {
	if addr == "" {
		addr = fmt.Sprintf(":%d", s.config.API.Port)
	}

	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Shutdown performs graceful shutdown of API-specific resources.
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("API server shutting down")
	if s.progressHub != nil {
		s.progressHub.Stop()
	}
	return nil
}

// handleReconstitute serves GET /wiki/{title}: the reconstituted article
// page, spliced into the live page shell.
func (s *APIServer) handleReconstitute(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")
	if title == "" {
		writeValidationError(w, r, ErrMissingTitle)
		return
	}

	ctx := r.Context()
	requestID := uuid.New().String()
	w.Header().Set("X-Request-ID", requestID)

	start := time.Now()

	canonical, err := s.wikipedia.ResolveTitle(ctx, title)
	if err != nil {
		s.degradeWikipedia(err)
		writeAPIError(w, r, http.StatusNotFound, "article not found", ErrCodeNotFound, err.Error())
		return
	}
	s.recoverWikipedia()

	revisions, err := s.wikipedia.RevisionLog(ctx, canonical)
	if err != nil {
		s.degradeWikipedia(err)
		writeAPIError(w, r, http.StatusBadGateway, "failed to fetch revision history", ErrCodeServiceUnavailable, err.Error())
		return
	}
	if len(revisions) == 0 {
		writeAPIError(w, r, http.StatusNotFound, "article has no revisions", ErrCodeNotFound, "")
		return
	}

	currentRevID := revisions[0].RevID
	bypassCache := parseBoolQuery(r, "no_cache", false)
	if s.cache != nil && !bypassCache {
		key := cache.Key(canonical, currentRevID)
		if data, ok := s.cache.Get(ctx, key); ok {
			metrics.IncrementCounter("cache_hits_total", map[string]string{"backend": "configured"})
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write(data)
			return
		}
		metrics.IncrementCounter("cache_misses_total", map[string]string{"backend": "configured"})
	}

	currentWikitext, err := s.wikipedia.RevisionContent(ctx, currentRevID)
	if err != nil {
		s.degradeWikipedia(err)
		writeAPIError(w, r, http.StatusBadGateway, "failed to fetch current wikitext", ErrCodeServiceUnavailable, err.Error())
		return
	}

	fetcher := reconstitute.NewSectionFetcher(s.wikipedia)
	onProgress := func(sr models.SectionResult) {
		s.progressHub.Publish(models.ProgressEvent{
			RequestID:    requestID,
			Title:        canonical,
			SectionIndex: sr.Index,
			State:        sr.State,
			Timestamp:    time.Now(),
		})
	}

	rcfg := reconstitute.Config{
		SizeGateBytes:          s.config.Reconstitute.SizeGateBytes,
		MaxConsecutiveTimeouts: s.config.Reconstitute.MaxConsecutiveTimeouts,
		MergeDeadline:          s.config.Reconstitute.MergeDeadline,
		MaxSectionConcurrency:  s.config.Reconstitute.MaxSectionConcurrency,
	}
	result := reconstitute.Reconstitute(ctx, currentWikitext, revisions, fetcher, rcfg, onProgress, s.logger)
	result.Title = canonical
	result.Duration = time.Since(start)
	result.CompletedAt = time.Now()

	finalHTML := s.renderAndSplice(ctx, canonical, &result)

	metrics.IncrementCounter("reconstitution_requests_total", map[string]string{"outcome": "success"})
	metrics.ObserveHistogram("reconstitution_duration_seconds", result.Duration.Seconds(), map[string]string{})
	metrics.MergesPerformedTotal.WithLabelValues().Add(float64(result.VandalismsMerged))
	metrics.MergesTimedOutTotal.WithLabelValues().Add(float64(result.MergesTimedOut))
	metrics.SectionsAbandonedTotal.WithLabelValues().Add(float64(result.SectionsAbandoned))
	metrics.SizeGateSkipsTotal.WithLabelValues().Add(float64(result.SizeGateSkips))
	metrics.CandidatePairsConsideredTotal.WithLabelValues().Add(float64(result.CandidatesFound))

	if s.cache != nil {
		key := cache.Key(canonical, currentRevID)
		if err := s.cache.Set(ctx, key, []byte(finalHTML), s.config.Cache.TTL); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache rendered page")
		}
	}

	s.recordSideEffects(ctx, canonical, result)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(finalHTML))
}

// renderAndSplice renders the merged wikitext and splices it into the live
// page shell. On any rendering or splicing failure it falls back to the
// unmodified live page and marks result.RenderFellBack.
func (s *APIServer) renderAndSplice(ctx context.Context, title string, result *models.ReconstitutionResult) string {
	pageHTML, err := s.wikipedia.FetchArticleHTML(ctx, title)
	if err != nil {
		s.degradeWikipedia(err)
		result.RenderFellBack = true
		metrics.IncrementCounter("reconstitution_requests_total", map[string]string{"outcome": "fallback"})
		return "<p>Unable to load this article right now.</p>"
	}

	renderedBody, err := s.wikipedia.RenderWikitext(ctx, title, result.Body)
	if err != nil {
		s.logger.Warn().Err(err).Str("title", title).Msg("render failed, serving live page unmodified")
		result.RenderFellBack = true
		metrics.IncrementCounter("reconstitution_requests_total", map[string]string{"outcome": "fallback"})
		return pageHTML
	}

	// Rendering pushes merged-in sentinels into places they must not
	// survive (inside tag delimiters); scrub those before splicing so the
	// UI layer only ever sees sentinels in text content.
	renderedBody = reconstitute.Scrub(renderedBody)

	spliced, err := shell.Substitute(pageHTML, renderedBody)
	if err != nil {
		s.logger.Warn().Err(err).Str("title", title).Msg("shell substitution failed, serving live page unmodified")
		result.RenderFellBack = true
		metrics.IncrementCounter("shell_substitution_failures_total", map[string]string{})
		return pageHTML
	}

	return spliced
}

// recordSideEffects feeds the completed result into every configured
// optional sink. Each is independently nil-safe.
func (s *APIServer) recordSideEffects(ctx context.Context, title string, result models.ReconstitutionResult) {
	if s.history != nil {
		if err := s.history.RecordRun(title, result); err != nil {
			s.logger.Warn().Err(err).Msg("failed to record history")
		}
	}
	if s.events != nil {
		s.events.Publish(events.FromResult(title, result))
	}
	if s.analytics != nil {
		if err := s.analytics.IndexRun(analytics.DocumentFromResult(title, result)); err != nil {
			s.degradation.HandleAnalyticsUnavailable(err.Error())
		}
	}
	if s.hotTitles != nil {
		if err := s.hotTitles.RecordRequest(ctx, title); err != nil {
			s.logger.Warn().Err(err).Msg("failed to record hot-title request")
		}
	}
}

func (s *APIServer) degradeWikipedia(err error) {
	if s.degradation != nil {
		s.degradation.HandleWikipediaAPIUnavailable(err.Error())
	}
}

func (s *APIServer) recoverWikipedia() {
	if s.degradation != nil && s.degradation.Level() != resilience.DegradationNone {
		s.degradation.HandleWikipediaAPIRecovered()
	}
}

// handleHistory serves GET /api/history/{title}.
func (s *APIServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeAPIError(w, r, http.StatusServiceUnavailable, "history store not configured", ErrCodeServiceUnavailable, "")
		return
	}

	title := r.PathValue("title")
	if title == "" {
		writeValidationError(w, r, ErrMissingTitle)
		return
	}

	h, err := s.history.GetHistory(title)
	if err != nil {
		writeAPIError(w, r, http.StatusInternalServerError, "failed to read history", ErrCodeInternalError, err.Error())
		return
	}
	if h == nil {
		writeAPIError(w, r, http.StatusNotFound, "no history for this title", ErrCodeNotFound, "")
		return
	}

	respondJSON(w, http.StatusOK, h)
}

// healthResponse is the body returned by GET /health.
type healthResponse struct {
	Status        string                             `json:"status"`
	Version       string                              `json:"version"`
	UptimeSeconds float64                             `json:"uptime_seconds"`
	Degradation   *resilience.HealthCheckResponse      `json:"degradation,omitempty"`
	RecentTitles  []string                             `json:"recent_titles,omitempty"`
	HotTitles     int                                  `json:"hot_titles_tracked,omitempty"`
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "healthy",
		Version:       s.version,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
	}

	if s.degradation != nil {
		hc := s.degradation.HealthCheck()
		resp.Degradation = &hc
		resp.Status = hc.Status
	}
	if s.history != nil {
		if titles, err := s.history.RecentTitles(10); err == nil {
			resp.RecentTitles = titles
		}
	}
	if s.hotTitles != nil {
		if count, err := s.hotTitles.HotTitlesCount(r.Context()); err == nil {
			resp.HotTitles = count
		}
	}

	status := http.StatusOK
	if resp.Status == "critical" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

func (s *APIServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *APIServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.degradation != nil && s.degradation.Level() == resilience.DegradationSevere {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
