package warmer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sjpalmer/wikivandal/internal/config"
	"github.com/sjpalmer/wikivandal/internal/metrics"
)

const (
	wikipediaSSEURL   = "https://stream.wikimedia.org/v2/stream/recentchange"
	userAgent         = "wikivandal/1.0"
	connectionTimeout = 30 * time.Second
)

// recentChangeEvent is the subset of Wikimedia's recentchange SSE payload
// this watcher cares about.
type recentChangeEvent struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Wiki   string `json:"wiki"`
	Bot    bool   `json:"bot"`
}

// RefreshFunc is called when a tracked hot title receives a live edit.
type RefreshFunc func(ctx context.Context, title string)

// RecentChangeWatcher subscribes to Wikipedia's public recentchange
// EventStream and triggers a cache refresh for any title the tracker
// considers hot.
type RecentChangeWatcher struct {
	sseClient      *sse.Client
	tracker        *HotTitleTracker
	onHotChange    RefreshFunc
	cfg            config.Warmer
	logger         zerolog.Logger
	rateLimiter    *rate.Limiter
	stopChan       chan struct{}
	reconnectDelay time.Duration
	wg             sync.WaitGroup
	mu             sync.RWMutex
	isRunning      bool
}

// NewRecentChangeWatcher creates a watcher that calls onHotChange whenever
// a tracked hot title is edited live.
func NewRecentChangeWatcher(cfg config.Warmer, tracker *HotTitleTracker, onHotChange RefreshFunc, logger zerolog.Logger) *RecentChangeWatcher {
	client := sse.NewClient(wikipediaSSEURL)
	client.Connection.Transport = &http.Transport{
		ResponseHeaderTimeout: connectionTimeout,
	}
	client.Headers = map[string]string{
		"Accept":     "text/event-stream",
		"User-Agent": userAgent,
	}

	return &RecentChangeWatcher{
		sseClient:      client,
		tracker:        tracker,
		onHotChange:    onHotChange,
		cfg:            cfg,
		logger:         logger.With().Str("component", "recentchange-watcher").Logger(),
		rateLimiter:    rate.NewLimiter(rate.Limit(50), 10),
		stopChan:       make(chan struct{}),
		reconnectDelay: 2 * time.Second,
	}
}

// Start begins the event loop in a background goroutine.
func (w *RecentChangeWatcher) Start() error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("warmer: watcher already running")
	}
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info().Msg("starting recentchange watcher")
	w.wg.Add(1)
	go w.eventLoop()
	return nil
}

func (w *RecentChangeWatcher) eventLoop() {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		w.isRunning = false
		w.mu.Unlock()
	}()

	const maxReconnectDelay = 2 * time.Minute

	for {
		select {
		case <-w.stopChan:
			return
		default:
			if err := w.processStream(); err != nil {
				w.logger.Error().Err(err).Msg("stream processing failed, reconnecting")

				select {
				case <-w.stopChan:
					return
				case <-time.After(w.reconnectDelay):
					w.reconnectDelay *= 2
					if w.reconnectDelay > maxReconnectDelay {
						w.reconnectDelay = maxReconnectDelay
					}
				}
			} else {
				w.reconnectDelay = 2 * time.Second
			}
		}
	}
}

func (w *RecentChangeWatcher) processStream() error {
	eventChan := make(chan *sse.Event)

	go func() {
		if err := w.sseClient.SubscribeChanWithContext(context.Background(), "message", eventChan); err != nil {
			w.logger.Error().Err(err).Msg("failed to subscribe to recentchange stream")
		}
	}()

	for {
		select {
		case <-w.stopChan:
			return nil
		case event, ok := <-eventChan:
			if !ok {
				return fmt.Errorf("recentchange event channel closed")
			}
			w.processEvent(event)
		}
	}
}

func (w *RecentChangeWatcher) processEvent(event *sse.Event) {
	if event == nil || event.Data == nil {
		return
	}

	if err := w.rateLimiter.Wait(context.Background()); err != nil {
		return
	}

	var change recentChangeEvent
	if err := json.Unmarshal(event.Data, &change); err != nil {
		return
	}

	if change.Type != "edit" && change.Type != "new" {
		return
	}
	if change.Wiki != "" && change.Wiki != "enwiki" {
		return
	}
	if change.Title == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hot, err := w.tracker.IsHot(ctx, change.Title)
	if err != nil {
		w.logger.Warn().Err(err).Str("title", change.Title).Msg("failed to check hot status")
		return
	}
	if !hot {
		return
	}

	w.logger.Info().Str("title", change.Title).Msg("live edit on hot title, triggering refresh")
	metrics.IncrementCounter("warmer_refreshes_total", map[string]string{})
	if w.onHotChange != nil {
		w.onHotChange(ctx, change.Title)
	}
}

// Stop gracefully shuts down the watcher.
func (w *RecentChangeWatcher) Stop() {
	close(w.stopChan)
	if w.sseClient != nil {
		if transport, ok := w.sseClient.Connection.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}
	w.wg.Wait()
}
