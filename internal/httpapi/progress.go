package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sjpalmer/wikivandal/internal/metrics"
	"github.com/sjpalmer/wikivandal/internal/models"
)

const (
	progressWriteWait  = 10 * time.Second
	progressPongWait   = 60 * time.Second
	progressPingPeriod = 30 * time.Second
	progressSendBuffer = 32
)

var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// progressClient is a single WebSocket connection watching one in-flight
// reconstitution request.
type progressClient struct {
	hub       *ProgressHub
	requestID string
	conn      *websocket.Conn
	send      chan []byte
}

func (c *progressClient) writePump() {
	ticker := time.NewTicker(progressPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(progressWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(progressWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages; it exists only to detect disconnects
// via read errors and to respond to pings.
func (c *progressClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(progressPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(progressPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

type registration struct {
	requestID string
	client    *progressClient
}

// ProgressHub fans out per-section progress events to WebSocket clients
// watching a specific in-flight reconstitution request. Subscriptions are
// scoped per request ID rather than globally broadcast: a client
// connecting to /ws/progress/{requestID} only ever sees events for that
// request.
type ProgressHub struct {
	mu       sync.RWMutex
	watchers map[string]map[*progressClient]bool

	register   chan registration
	unregister chan *progressClient
	publish    chan models.ProgressEvent
	stop       chan struct{}
	logger     zerolog.Logger
}

// NewProgressHub creates a hub. Call Run in a goroutine to start it.
func NewProgressHub(logger zerolog.Logger) *ProgressHub {
	return &ProgressHub{
		watchers:   make(map[string]map[*progressClient]bool),
		register:   make(chan registration),
		unregister: make(chan *progressClient),
		publish:    make(chan models.ProgressEvent, 256),
		stop:       make(chan struct{}),
		logger:     logger.With().Str("component", "progress-hub").Logger(),
	}
}

// Run is the hub's event loop.
func (h *ProgressHub) Run() {
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			if h.watchers[reg.requestID] == nil {
				h.watchers[reg.requestID] = make(map[*progressClient]bool)
			}
			h.watchers[reg.requestID][reg.client] = true
			count := h.totalWatchersLocked()
			h.mu.Unlock()
			metrics.IncrementCounter("websocket_connections_total", map[string]string{})
			metrics.SetGauge("websocket_connections_active", float64(count), map[string]string{})

		case client := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.watchers[client.requestID]; ok {
				if _, present := set[client]; present {
					delete(set, client)
					close(client.send)
					if len(set) == 0 {
						delete(h.watchers, client.requestID)
					}
				}
			}
			count := h.totalWatchersLocked()
			h.mu.Unlock()
			metrics.SetGauge("websocket_connections_active", float64(count), map[string]string{})

		case event := <-h.publish:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error().Err(err).Msg("failed to marshal progress event")
				continue
			}
			h.mu.RLock()
			for client := range h.watchers[event.RequestID] {
				select {
				case client.send <- data:
				default:
					h.logger.Warn().Str("request_id", event.RequestID).Msg("dropping progress event for slow client")
				}
			}
			h.mu.RUnlock()

		case <-h.stop:
			h.mu.Lock()
			for _, set := range h.watchers {
				for client := range set {
					close(client.send)
					client.conn.Close()
				}
			}
			h.watchers = make(map[string]map[*progressClient]bool)
			h.mu.Unlock()
			return
		}
	}
}

// Publish broadcasts event to every client watching event.RequestID.
// Non-blocking, safe to call from reconstitution worker goroutines.
func (h *ProgressHub) Publish(event models.ProgressEvent) {
	select {
	case h.publish <- event:
	default:
		h.logger.Warn().Str("request_id", event.RequestID).Msg("progress publish channel full, dropping event")
	}
}

// Stop shuts down the hub and closes all client connections.
func (h *ProgressHub) Stop() {
	close(h.stop)
}

// WatcherCount returns how many clients are watching requestID.
func (h *ProgressHub) WatcherCount(requestID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[requestID])
}

func (h *ProgressHub) totalWatchersLocked() int {
	total := 0
	for _, set := range h.watchers {
		total += len(set)
	}
	return total
}

// ServeProgress upgrades the connection and registers it as a watcher for
// the requestID embedded in the URL path.
func (s *APIServer) ServeProgress(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestID")
	if requestID == "" {
		writeAPIError(w, r, http.StatusBadRequest, "request id is required", ErrCodeInvalidParameter, "")
		return
	}

	conn, err := progressUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("progress websocket upgrade failed")
		return
	}

	client := &progressClient{
		hub:       s.progressHub,
		requestID: requestID,
		conn:      conn,
		send:      make(chan []byte, progressSendBuffer),
	}

	s.progressHub.register <- registration{requestID: requestID, client: client}

	go client.writePump()
	go client.readPump()
}
