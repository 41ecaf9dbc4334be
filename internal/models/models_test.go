package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSectionState_String(t *testing.T) {
	assert.Equal(t, "active", SectionActive.String())
	assert.Equal(t, "abandoned", SectionAbandoned.String())
	assert.Equal(t, "done", SectionDone.String())
	assert.Equal(t, "unknown", SectionState(99).String())
}

func TestProgressEvent_StateString(t *testing.T) {
	ev := ProgressEvent{State: SectionAbandoned}
	assert.Equal(t, "abandoned", ev.StateString())
}

func TestReconstitutionResult_JSONOmitsBody(t *testing.T) {
	result := ReconstitutionResult{
		Title:            "Test Article",
		Body:             "internal merged wikitext, never serialized",
		SectionsTotal:    3,
		VandalismsMerged: 1,
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	_, hasBody := decoded["body"]
	assert.False(t, hasBody, "Body must never be exposed in the JSON response")
	assert.Equal(t, "Test Article", decoded["title"])
}
