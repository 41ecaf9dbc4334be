package metrics

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestIncrementCounterUnknownNameIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		IncrementCounter("nonexistent_metric", map[string]string{})
	})
}

func TestSetGaugeUnknownNameIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		SetGauge("nonexistent_metric", 1, map[string]string{})
	})
}

func TestObserveHistogramUnknownNameIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		ObserveHistogram("nonexistent_metric", 1, map[string]string{})
	})
}

func TestInitMetricsRegistersKnownMetrics(t *testing.T) {
	InitMetrics()

	assert.NotNil(t, GetMetric("merges_performed_total"))
	assert.NotNil(t, GetMetric("reconstitution_duration_seconds"))
	assert.NotNil(t, GetMetric("hot_titles_tracked"))
	assert.Nil(t, GetMetric("nonexistent_metric"))
}

func TestIncrementCounterWithLabels(t *testing.T) {
	InitMetrics()
	assert.NotPanics(t, func() {
		IncrementCounter("reconstitution_requests_total", map[string]string{"outcome": "ok"})
	})
}

func TestSnapshot_ReflectsIncrementedCounter(t *testing.T) {
	before := Snapshot()["merges_performed_total"]
	MergesPerformedTotal.WithLabelValues().Inc()
	after := Snapshot()["merges_performed_total"]
	assert.Equal(t, before+1, after)
}

func TestNewServer_DefaultsPortAndStartsStops(t *testing.T) {
	srv := NewServer(0, zerolog.Nop())
	require := assert.New(t)
	require.NotNil(srv)
	require.NoError(srv.Start())
	require.True(srv.IsHealthy())
	require.NoError(srv.Stop(t.Context()))
}
