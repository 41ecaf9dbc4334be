// Package events publishes one Kafka message per completed
// reconstitution request, for downstream analytics pipelines. It is
// entirely optional: when no brokers are configured, NewPublisher returns
// a no-op Publisher whose Publish calls return immediately.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/sjpalmer/wikivandal/internal/metrics"
	"github.com/sjpalmer/wikivandal/internal/models"
)

const (
	DefaultBufferSize    = 1000
	DefaultBatchSize     = 100
	DefaultFlushInterval = 100 * time.Millisecond
	DefaultWriteTimeout  = 10 * time.Second
	DefaultReadTimeout   = 10 * time.Second
)

// ReconstitutionEvent is the message body published for every completed
// /wiki/{title} request.
type ReconstitutionEvent struct {
	Title             string        `json:"title"`
	VandalismsMerged  int           `json:"vandalisms_merged"`
	SectionsTotal     int           `json:"sections_total"`
	SectionsAbandoned int           `json:"sections_abandoned"`
	MergesTimedOut    int           `json:"merges_timed_out"`
	RenderFellBack    bool          `json:"render_fell_back"`
	Duration          time.Duration `json:"duration_ns"`
	CompletedAt       time.Time     `json:"completed_at"`
}

// Publisher publishes ReconstitutionEvents asynchronously. Its buffer
// drops events under backpressure rather than blocking the request path.
type Publisher struct {
	writer        *kafka.Writer
	logger        zerolog.Logger
	buffer        chan ReconstitutionEvent
	batchSize     int
	flushInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
	mu            sync.RWMutex
	isRunning     bool
	droppedCount  int64
}

// NewPublisher creates a publisher writing to topic on brokers. If
// brokers is empty, it returns a nil *Publisher; Publish and Close on a
// nil receiver are safe no-ops, so callers need no nil checks when Kafka
// is not configured.
func NewPublisher(brokers []string, topic string, logger zerolog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	if topic == "" {
		return nil, fmt.Errorf("events: topic must not be empty when brokers are configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Compression:  compress.Snappy,
		BatchSize:    DefaultBatchSize,
		BatchTimeout: DefaultFlushInterval,
		WriteTimeout: DefaultWriteTimeout,
		ReadTimeout:  DefaultReadTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Logger:       kafka.LoggerFunc(logger.Debug().Msgf),
		ErrorLogger:  kafka.LoggerFunc(logger.Error().Msgf),
	}

	p := &Publisher{
		writer:        writer,
		logger:        logger.With().Str("component", "event-publisher").Logger(),
		buffer:        make(chan ReconstitutionEvent, DefaultBufferSize),
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		stopChan:      make(chan struct{}),
	}

	p.logger.Info().
		Strs("brokers", brokers).
		Str("topic", topic).
		Msg("event publisher created")

	return p, nil
}

// Start begins the background batching goroutine. No-op on a nil Publisher.
func (p *Publisher) Start() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return fmt.Errorf("events: publisher is already running")
	}

	p.isRunning = true
	p.wg.Add(1)
	go p.batchingLoop()

	p.logger.Info().Msg("event publisher started")
	return nil
}

func (p *Publisher) batchingLoop() {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.isRunning = false
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Message, 0, p.batchSize)

	for {
		select {
		case <-p.stopChan:
			if len(batch) > 0 {
				if err := p.writeBatch(batch); err != nil {
					p.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("failed to flush remaining batch during shutdown")
				}
			}
			return

		case event := <-p.buffer:
			message, err := eventToKafkaMessage(event)
			if err != nil {
				p.logger.Error().Err(err).Str("title", event.Title).Msg("failed to serialize reconstitution event")
				continue
			}

			batch = append(batch, message)
			if len(batch) >= p.batchSize {
				if err := p.writeBatch(batch); err != nil {
					p.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("failed to write batch")
				}
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				if err := p.writeBatch(batch); err != nil {
					p.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("failed to write timed batch")
				}
				batch = batch[:0]
			}
		}
	}
}

// Publish enqueues an event for asynchronous delivery. It never blocks:
// under backpressure the event is dropped and counted. No-op on a nil
// Publisher.
func (p *Publisher) Publish(event ReconstitutionEvent) {
	if p == nil {
		return
	}

	select {
	case p.buffer <- event:
	default:
		p.mu.Lock()
		p.droppedCount++
		dropped := p.droppedCount
		p.mu.Unlock()

		metrics.IncrementCounter("events_dropped_total", map[string]string{})
		if dropped%100 == 0 {
			p.logger.Warn().Int64("total_dropped", dropped).Msg("event buffer full: dropping events")
		}
	}
}

// FromResult builds a ReconstitutionEvent from a completed reconstitution.
func FromResult(title string, result models.ReconstitutionResult) ReconstitutionEvent {
	return ReconstitutionEvent{
		Title:             title,
		VandalismsMerged:  result.VandalismsMerged,
		SectionsTotal:     result.SectionsTotal,
		SectionsAbandoned: result.SectionsAbandoned,
		MergesTimedOut:    result.MergesTimedOut,
		RenderFellBack:    result.RenderFellBack,
		Duration:          result.Duration,
		CompletedAt:       result.CompletedAt,
	}
}

func eventToKafkaMessage(event ReconstitutionEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("events: marshal: %w", err)
	}

	return kafka.Message{
		Key:   []byte(event.Title),
		Value: value,
		Headers: []kafka.Header{
			{Key: "completed_at", Value: []byte(event.CompletedAt.Format(time.RFC3339))},
		},
	}, nil
}

func (p *Publisher) writeBatch(batch []kafka.Message) error {
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultWriteTimeout)
	defer cancel()

	err := p.writer.WriteMessages(ctx, batch...)
	if err != nil {
		metrics.EventsDroppedTotal.WithLabelValues().Add(float64(len(batch)))
		p.logger.Error().Err(err).Int("batch_size", len(batch)).Dur("latency", time.Since(start)).Msg("failed to write batch to Kafka")
		return fmt.Errorf("events: write batch to Kafka: %w", err)
	}

	metrics.EventsPublishedTotal.WithLabelValues().Add(float64(len(batch)))
	p.logger.Debug().Int("batch_size", len(batch)).Dur("latency", time.Since(start)).Msg("batch written to Kafka")
	return nil
}

// Close gracefully drains and shuts down the publisher. No-op on a nil
// Publisher.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}

	p.logger.Info().Msg("shutting down event publisher")
	close(p.stopChan)
	p.wg.Wait()
	close(p.buffer)

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("events: close Kafka writer: %w", err)
	}

	p.logger.Info().Int64("total_dropped", p.droppedCount).Msg("event publisher shutdown complete")
	return nil
}
