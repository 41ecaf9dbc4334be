package config

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestFeatureFlagsAllEnabledByDefault(t *testing.T) {
	ff := NewFeatureFlags(zerolog.Nop())

	for _, f := range AllFeatures() {
		assert.True(t, ff.IsEnabled(f), "feature %s should be enabled by default", f)
	}
}

func TestFeatureFlagsDisableAndEnable(t *testing.T) {
	ff := NewFeatureFlags(zerolog.Nop())

	ff.DisableFeature(FeatureAnalyticsIndexing, "testing")
	assert.False(t, ff.IsEnabled(FeatureAnalyticsIndexing))
	assert.Equal(t, "testing", ff.DisableReason(FeatureAnalyticsIndexing))

	ff.EnableFeature(FeatureAnalyticsIndexing)
	assert.True(t, ff.IsEnabled(FeatureAnalyticsIndexing))
	assert.Empty(t, ff.DisableReason(FeatureAnalyticsIndexing))
}

func TestFeatureFlagsUnknownFeatureDisabled(t *testing.T) {
	ff := NewFeatureFlags(zerolog.Nop())
	assert.False(t, ff.IsEnabled("nonexistent"))
}

func TestFeatureFlagsSafeExecuteEnabled(t *testing.T) {
	ff := NewFeatureFlags(zerolog.Nop())
	executed := false

	err := ff.SafeExecute(FeatureEventPublishing, func() error {
		executed = true
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, executed)
}

func TestFeatureFlagsSafeExecuteDisabled(t *testing.T) {
	ff := NewFeatureFlags(zerolog.Nop())
	ff.DisableFeature(FeatureEventPublishing, "test")
	executed := false

	err := ff.SafeExecute(FeatureEventPublishing, func() error {
		executed = true
		return nil
	})

	assert.NoError(t, err)
	assert.False(t, executed, "function should not have been called")
}

func TestFeatureFlagsSafeExecutePanicRecovery(t *testing.T) {
	ff := NewFeatureFlags(zerolog.Nop())

	err := ff.SafeExecute(FeatureCacheWarming, func() error {
		panic("kaboom")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestFeatureFlagsSnapshot(t *testing.T) {
	ff := NewFeatureFlags(zerolog.Nop())
	ff.DisableFeature(FeatureRedisCache, "test")

	snap := ff.Snapshot()
	assert.True(t, snap[FeatureAnalyticsIndexing])
	assert.False(t, snap[FeatureRedisCache])
}
