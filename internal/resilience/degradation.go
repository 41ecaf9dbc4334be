package resilience

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sjpalmer/wikivandal/internal/config"
)

// DegradationLevel represents how degraded the system currently is.
type DegradationLevel int

const (
	// DegradationNone — everything is operational.
	DegradationNone DegradationLevel = iota
	// DegradationPartial — some non-critical sinks disabled.
	DegradationPartial
	// DegradationSevere — most optional sinks disabled; only the core
	// reconstitution pipeline and Wikipedia API calls remain in use.
	DegradationSevere
)

func (d DegradationLevel) String() string {
	switch d {
	case DegradationNone:
		return "none"
	case DegradationPartial:
		return "partial"
	case DegradationSevere:
		return "severe"
	default:
		return "unknown"
	}
}

// DegradationManager coordinates graceful degradation of the service's
// optional collaborators (cache, analytics, events). Reconstitution
// itself never degrades; the worst observable outcome of merge trouble is
// a page with no vandalism merged. The ambient sinks around it do degrade,
// and this manager is what flips their feature flags off when their
// backing store is unhealthy.
type DegradationManager struct {
	mu         sync.RWMutex
	features   *config.FeatureFlags
	logger     zerolog.Logger
	level      DegradationLevel
	components map[string]ComponentState
	actions    []DegradationAction
	metrics    *degradationMetrics
}

// ComponentState tracks the health of an infrastructure component.
type ComponentState struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message"`
	LastCheck time.Time `json:"last_check"`
}

// DegradationAction records an automatic degradation action taken.
type DegradationAction struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason"`
}

type degradationMetrics struct {
	level        prometheus.Gauge
	actionsTotal prometheus.Counter
}

// NewDegradationManager creates a degradation manager bound to features.
func NewDegradationManager(features *config.FeatureFlags, logger zerolog.Logger) *DegradationManager {
	dm := &DegradationManager{
		features:   features,
		logger:     logger.With().Str("component", "degradation-manager").Logger(),
		level:      DegradationNone,
		components: make(map[string]ComponentState),
	}

	dm.metrics = &degradationMetrics{
		level: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "system_degradation_level",
			Help: "Current degradation level (0=none, 1=partial, 2=severe)",
		}),
		actionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "degradation_actions_total",
			Help: "Total automatic degradation actions taken",
		}),
	}
	prometheus.Register(dm.metrics.level)
	prometheus.Register(dm.metrics.actionsTotal)

	return dm
}

// Level returns the current degradation level.
func (dm *DegradationManager) Level() DegradationLevel {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.level
}

// ComponentHealth returns the current health summary.
func (dm *DegradationManager) ComponentHealth() map[string]ComponentState {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	out := make(map[string]ComponentState, len(dm.components))
	for k, v := range dm.components {
		out[k] = v
	}
	return out
}

// RecentActions returns the recorded degradation actions, newest last.
func (dm *DegradationManager) RecentActions() []DegradationAction {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	out := make([]DegradationAction, len(dm.actions))
	copy(out, dm.actions)
	return out
}

// HealthCheckResponse is the /health response shape.
type HealthCheckResponse struct {
	Status     string                    `json:"status"`
	Level      string                    `json:"degradation_level"`
	Components map[string]ComponentState `json:"components"`
	Actions    []DegradationAction       `json:"recent_actions,omitempty"`
}

// HealthCheck summarises the recorded component states and actions; it
// runs no probes of its own.
func (dm *DegradationManager) HealthCheck() HealthCheckResponse {
	dm.mu.RLock()
	level := dm.level
	components := make(map[string]ComponentState, len(dm.components))
	for k, v := range dm.components {
		components[k] = v
	}
	actions := make([]DegradationAction, len(dm.actions))
	copy(actions, dm.actions)
	dm.mu.RUnlock()

	status := "healthy"
	switch level {
	case DegradationPartial:
		status = "degraded"
	case DegradationSevere:
		status = "critical"
	}

	return HealthCheckResponse{
		Status:     status,
		Level:      level.String(),
		Components: components,
		Actions:    actions,
	}
}

// -----------------------------------------------------------------------
// Scenario handlers
// -----------------------------------------------------------------------

// HandleCacheUnavailable applies: the Redis-backed API cache is down. It
// marks the cache unhealthy and disables the redis_cache feature flag; the
// cache backend chosen at startup stays in place.
func (dm *DegradationManager) HandleCacheUnavailable(reason string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.components["cache"] = ComponentState{Name: "cache", Healthy: false, Message: reason, LastCheck: time.Now()}
	dm.features.DisableFeature(config.FeatureRedisCache, reason)
	dm.recordAction("cache", "disabled redis cache feature", reason)
	dm.recalcLevel()
	dm.logger.Warn().Str("reason", reason).Msg("cache unavailable — redis cache feature disabled")
}

// HandleCacheRecovered reverts HandleCacheUnavailable.
func (dm *DegradationManager) HandleCacheRecovered() {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.components["cache"] = ComponentState{Name: "cache", Healthy: true, Message: "recovered", LastCheck: time.Now()}
	dm.features.EnableFeature(config.FeatureRedisCache)
	dm.recordAction("cache", "re-enabled redis cache", "recovered")
	dm.recalcLevel()
	dm.logger.Info().Msg("cache recovered")
}

// HandleAnalyticsUnavailable applies: Elasticsearch is down. Reconstitution
// run summaries stop being indexed; the request path is unaffected.
func (dm *DegradationManager) HandleAnalyticsUnavailable(reason string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.components["analytics"] = ComponentState{Name: "analytics", Healthy: false, Message: reason, LastCheck: time.Now()}
	dm.features.DisableFeature(config.FeatureAnalyticsIndexing, reason)
	dm.recordAction("analytics", "disabled run indexing", reason)
	dm.recalcLevel()
	dm.logger.Warn().Str("reason", reason).Msg("analytics sink unavailable — indexing disabled")
}

// HandleAnalyticsRecovered reverts HandleAnalyticsUnavailable.
func (dm *DegradationManager) HandleAnalyticsRecovered() {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.components["analytics"] = ComponentState{Name: "analytics", Healthy: true, Message: "recovered", LastCheck: time.Now()}
	dm.features.EnableFeature(config.FeatureAnalyticsIndexing)
	dm.recordAction("analytics", "re-enabled run indexing", "recovered")
	dm.recalcLevel()
	dm.logger.Info().Msg("analytics sink recovered")
}

// HandleEventsUnavailable applies: Kafka is unreachable. Reconstitution
// events stop being published; they are dropped, not buffered unbounded.
func (dm *DegradationManager) HandleEventsUnavailable(reason string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.components["events"] = ComponentState{Name: "events", Healthy: false, Message: reason, LastCheck: time.Now()}
	dm.features.DisableFeature(config.FeatureEventPublishing, reason)
	dm.recordAction("events", "disabled event publishing", reason)
	dm.recalcLevel()
	dm.logger.Warn().Str("reason", reason).Msg("event publisher unavailable — publishing disabled")
}

// HandleEventsRecovered reverts HandleEventsUnavailable.
func (dm *DegradationManager) HandleEventsRecovered() {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.components["events"] = ComponentState{Name: "events", Healthy: true, Message: "recovered", LastCheck: time.Now()}
	dm.features.EnableFeature(config.FeatureEventPublishing)
	dm.recordAction("events", "re-enabled event publishing", "recovered")
	dm.recalcLevel()
	dm.logger.Info().Msg("event publisher recovered")
}

// HandleWikipediaAPIUnavailable records the Wikipedia API collaborator as
// unhealthy. There is no feature flag to flip off — the API is load-bearing
// for every request — but the state surfaces in /health.
func (dm *DegradationManager) HandleWikipediaAPIUnavailable(reason string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.components["wikipedia"] = ComponentState{Name: "wikipedia", Healthy: false, Message: reason, LastCheck: time.Now()}
	dm.recordAction("wikipedia", "no action (load-bearing)", reason)
	dm.recalcLevel()
	dm.logger.Error().Str("reason", reason).Msg("wikipedia API unavailable")
}

// HandleWikipediaAPIRecovered reverts HandleWikipediaAPIUnavailable.
func (dm *DegradationManager) HandleWikipediaAPIRecovered() {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.components["wikipedia"] = ComponentState{Name: "wikipedia", Healthy: true, Message: "recovered", LastCheck: time.Now()}
	dm.recordAction("wikipedia", "recovered", "recovered")
	dm.recalcLevel()
	dm.logger.Info().Msg("wikipedia API recovered")
}

// -----------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------

func (dm *DegradationManager) recordAction(component, action, reason string) {
	a := DegradationAction{Timestamp: time.Now(), Component: component, Action: action, Reason: reason}
	dm.actions = append(dm.actions, a)
	if len(dm.actions) > 50 {
		dm.actions = dm.actions[len(dm.actions)-50:]
	}
	dm.metrics.actionsTotal.Inc()
}

// recalcLevel recomputes the degradation level based on component states.
// Must be called with dm.mu held.
func (dm *DegradationManager) recalcLevel() {
	unhealthy := 0
	for _, cs := range dm.components {
		if !cs.Healthy {
			unhealthy++
		}
	}

	old := dm.level
	switch {
	case unhealthy == 0:
		dm.level = DegradationNone
	case unhealthy == 1:
		dm.level = DegradationPartial
	default:
		dm.level = DegradationSevere
	}

	if dm.level != old {
		dm.metrics.level.Set(float64(dm.level))
		dm.logger.Info().
			Str("from", old.String()).
			Str("to", dm.level.String()).
			Int("unhealthy_components", unhealthy).
			Msg("degradation level changed")
	}
}
