package config

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// FeatureFlags provides runtime feature toggles for the optional domain
// sinks (analytics, events, cache warming) that internal/resilience's
// DegradationManager flips off when their backing store misbehaves. All
// operations are goroutine-safe.
type FeatureFlags struct {
	mu      sync.RWMutex
	flags   map[string]bool
	reasons map[string]string
	logger  zerolog.Logger
	metrics *featureFlagMetrics
}

type featureFlagMetrics struct {
	disableEvents *prometheus.CounterVec
	featureState  *prometheus.GaugeVec
}

// Well-known feature names.
const (
	FeatureAnalyticsIndexing = "analytics_indexing"
	FeatureEventPublishing   = "event_publishing"
	FeatureCacheWarming      = "cache_warming"
	FeatureRedisCache        = "redis_cache"
)

// AllFeatures returns the list of known feature names.
func AllFeatures() []string {
	return []string{
		FeatureAnalyticsIndexing,
		FeatureEventPublishing,
		FeatureCacheWarming,
		FeatureRedisCache,
	}
}

// NewFeatureFlags creates a FeatureFlags instance with all features enabled
// by default and registers Prometheus metrics.
func NewFeatureFlags(logger zerolog.Logger) *FeatureFlags {
	ff := &FeatureFlags{
		flags:   make(map[string]bool),
		reasons: make(map[string]string),
		logger:  logger.With().Str("component", "feature-flags").Logger(),
	}

	for _, f := range AllFeatures() {
		ff.flags[f] = true
	}

	ff.metrics = &featureFlagMetrics{
		disableEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feature_flag_disable_total",
			Help: "Number of times a feature flag was disabled",
		}, []string{"feature"}),
		featureState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feature_flag_enabled",
			Help: "Current state of feature flags (1=enabled, 0=disabled)",
		}, []string{"feature"}),
	}
	prometheus.Register(ff.metrics.disableEvents)
	prometheus.Register(ff.metrics.featureState)

	for _, f := range AllFeatures() {
		ff.metrics.featureState.WithLabelValues(f).Set(1)
	}

	return ff
}

// IsEnabled returns whether a feature is currently enabled.
func (ff *FeatureFlags) IsEnabled(feature string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	enabled, ok := ff.flags[feature]
	if !ok {
		return false
	}
	return enabled
}

// EnableFeature enables a feature at runtime.
func (ff *FeatureFlags) EnableFeature(feature string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	ff.flags[feature] = true
	delete(ff.reasons, feature)

	ff.logger.Info().Str("feature", feature).Msg("feature enabled")
	ff.metrics.featureState.WithLabelValues(feature).Set(1)
}

// DisableFeature disables a feature and records the reason.
func (ff *FeatureFlags) DisableFeature(feature, reason string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	ff.flags[feature] = false
	ff.reasons[feature] = reason

	ff.logger.Warn().Str("feature", feature).Str("reason", reason).Msg("feature disabled")
	ff.metrics.disableEvents.WithLabelValues(feature).Inc()
	ff.metrics.featureState.WithLabelValues(feature).Set(0)
}

// DisableReason returns the most recent reason a feature was disabled.
func (ff *FeatureFlags) DisableReason(feature string) string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	return ff.reasons[feature]
}

// SafeExecute runs fn only when feature is enabled; panics inside fn are
// recovered and returned as errors rather than crashing the caller.
func (ff *FeatureFlags) SafeExecute(feature string, fn func() error) error {
	if !ff.IsEnabled(feature) {
		return nil
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in feature %s: %v", feature, r)
				ff.logger.Error().Str("feature", feature).Interface("panic", r).Msg("panic recovered in SafeExecute")
			}
		}()
		err = fn()
	}()
	return err
}

// Snapshot returns a point-in-time copy of all feature states.
func (ff *FeatureFlags) Snapshot() map[string]bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make(map[string]bool, len(ff.flags))
	for k, v := range ff.flags {
		out[k] = v
	}
	return out
}
