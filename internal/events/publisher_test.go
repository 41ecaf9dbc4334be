package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjpalmer/wikivandal/internal/models"
)

func TestNewPublisherNoBrokersReturnsNil(t *testing.T) {
	p, err := NewPublisher(nil, "reconstitution.events", zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestNewPublisherEmptyTopicErrors(t *testing.T) {
	_, err := NewPublisher([]string{"localhost:9092"}, "", zerolog.Nop())
	assert.Error(t, err)
}

func TestNilPublisherMethodsAreNoops(t *testing.T) {
	var p *Publisher

	assert.NoError(t, p.Start())
	assert.NotPanics(t, func() {
		p.Publish(ReconstitutionEvent{Title: "Go (programming language)"})
	})
	assert.NoError(t, p.Close())
}

func TestFromResultMapsFields(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	result := models.ReconstitutionResult{
		SectionsTotal:     10,
		SectionsAbandoned: 2,
		VandalismsMerged:  5,
		MergesTimedOut:    1,
		RenderFellBack:    true,
		Duration:          250 * time.Millisecond,
		CompletedAt:       now,
	}

	event := FromResult("Go (programming language)", result)

	assert.Equal(t, "Go (programming language)", event.Title)
	assert.Equal(t, 10, event.SectionsTotal)
	assert.Equal(t, 2, event.SectionsAbandoned)
	assert.Equal(t, 5, event.VandalismsMerged)
	assert.Equal(t, 1, event.MergesTimedOut)
	assert.True(t, event.RenderFellBack)
	assert.Equal(t, 250*time.Millisecond, event.Duration)
	assert.Equal(t, now, event.CompletedAt)
}

func TestEventToKafkaMessageUsesTitleAsKey(t *testing.T) {
	event := ReconstitutionEvent{Title: "Go (programming language)", CompletedAt: time.Now()}

	msg, err := eventToKafkaMessage(event)
	require.NoError(t, err)
	assert.Equal(t, []byte("Go (programming language)"), msg.Key)
	assert.NotEmpty(t, msg.Value)
}
