package resilience

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjpalmer/wikivandal/internal/config"
)

func newTestDegradationManager(t *testing.T) *DegradationManager {
	t.Helper()
	return NewDegradationManager(config.NewFeatureFlags(zerolog.Nop()), zerolog.Nop())
}

func TestDegradationManagerStartsHealthy(t *testing.T) {
	dm := newTestDegradationManager(t)
	assert.Equal(t, DegradationNone, dm.Level())
	hc := dm.HealthCheck()
	assert.Equal(t, "healthy", hc.Status)
}

func TestHandleCacheUnavailableDisablesRedisFeature(t *testing.T) {
	features := config.NewFeatureFlags(zerolog.Nop())
	dm := NewDegradationManager(features, zerolog.Nop())

	dm.HandleCacheUnavailable("connection refused")

	assert.False(t, features.IsEnabled(config.FeatureRedisCache))
	assert.Equal(t, DegradationPartial, dm.Level())

	health := dm.ComponentHealth()
	require.Contains(t, health, "cache")
	assert.False(t, health["cache"].Healthy)
}

func TestHandleCacheRecoveredReenablesFeature(t *testing.T) {
	features := config.NewFeatureFlags(zerolog.Nop())
	dm := NewDegradationManager(features, zerolog.Nop())

	dm.HandleCacheUnavailable("down")
	dm.HandleCacheRecovered()

	assert.True(t, features.IsEnabled(config.FeatureRedisCache))
	assert.Equal(t, DegradationNone, dm.Level())
}

func TestMultipleUnhealthyComponentsEscalateToSevere(t *testing.T) {
	dm := newTestDegradationManager(t)

	dm.HandleCacheUnavailable("down")
	dm.HandleAnalyticsUnavailable("down")

	assert.Equal(t, DegradationSevere, dm.Level())
	assert.Equal(t, "critical", dm.HealthCheck().Status)
}

func TestHandleEventsUnavailableDisablesPublishing(t *testing.T) {
	features := config.NewFeatureFlags(zerolog.Nop())
	dm := NewDegradationManager(features, zerolog.Nop())

	dm.HandleEventsUnavailable("broker unreachable")
	assert.False(t, features.IsEnabled(config.FeatureEventPublishing))

	dm.HandleEventsRecovered()
	assert.True(t, features.IsEnabled(config.FeatureEventPublishing))
}

func TestHandleWikipediaAPIUnavailableHasNoFeatureToDisable(t *testing.T) {
	dm := newTestDegradationManager(t)

	dm.HandleWikipediaAPIUnavailable("5xx from upstream")

	health := dm.ComponentHealth()
	require.Contains(t, health, "wikipedia")
	assert.False(t, health["wikipedia"].Healthy)
	assert.Equal(t, DegradationPartial, dm.Level())
}

func TestRecentActionsIsBounded(t *testing.T) {
	dm := newTestDegradationManager(t)

	for i := 0; i < 60; i++ {
		dm.HandleCacheUnavailable("flapping")
		dm.HandleCacheRecovered()
	}

	assert.LessOrEqual(t, len(dm.RecentActions()), 50)
}
