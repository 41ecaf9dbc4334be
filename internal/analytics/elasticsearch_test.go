package analytics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjpalmer/wikivandal/internal/models"
)

func TestGetIndexNameIsDateBased(t *testing.T) {
	c := &Client{}
	got := c.getIndexName(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, "reconstitution-runs-2026-01-15", got)
}

func TestDocumentFromResultMapsFields(t *testing.T) {
	completedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	result := models.ReconstitutionResult{
		SectionsTotal:     8,
		SectionsAbandoned: 1,
		VandalismsMerged:  4,
		MergesTimedOut:    2,
		RenderFellBack:    false,
		Duration:          1500 * time.Millisecond,
		CompletedAt:       completedAt,
	}

	doc := DocumentFromResult("Go (programming language)", result)

	assert.Equal(t, "Go (programming language)", doc.Title)
	assert.Equal(t, 8, doc.SectionsTotal)
	assert.Equal(t, 1, doc.SectionsAbandoned)
	assert.Equal(t, 4, doc.VandalismsMerged)
	assert.Equal(t, 2, doc.MergesTimedOut)
	assert.False(t, doc.RenderFellBack)
	assert.Equal(t, int64(1500), doc.DurationMS)
	assert.Equal(t, completedAt, doc.CompletedAt)
}

func TestRunDocumentSerializesExpectedFields(t *testing.T) {
	doc := DocumentFromResult("Test Article", models.ReconstitutionResult{
		SectionsTotal:     3,
		SectionsAbandoned: 0,
		VandalismsMerged:  1,
		Duration:          100 * time.Millisecond,
		CompletedAt:       time.Now(),
	})

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))

	for _, field := range []string{
		"title", "vandalisms_merged", "sections_total", "sections_abandoned",
		"merges_timed_out", "render_fell_back", "duration_ms", "completed_at",
	} {
		assert.Contains(t, parsed, field)
	}
}

func TestBulkOperationSerialization(t *testing.T) {
	meta := bulkOperation{Index: &bulkIndex{Index: "reconstitution-runs-2026-01-15"}}

	data, err := json.Marshal(meta)
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))

	indexOp, ok := parsed["index"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "reconstitution-runs-2026-01-15", indexOp["_index"])
}

func BenchmarkDocumentFromResult(b *testing.B) {
	result := models.ReconstitutionResult{
		SectionsTotal:    5,
		VandalismsMerged: 2,
		Duration:         200 * time.Millisecond,
		CompletedAt:      time.Now(),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = DocumentFromResult("Benchmark Article", result)
	}
}
