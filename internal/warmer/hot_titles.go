// Package warmer tracks frequently-*requested* article titles (as
// opposed to frequently-*edited* ones) and, when enabled, proactively
// refreshes their cache entry when Wikipedia's recentchanges stream
// reports a live edit to one of them.
package warmer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sjpalmer/wikivandal/internal/config"
	"github.com/sjpalmer/wikivandal/internal/metrics"
)

// HotTitleTracker uses a two-stage Redis idiom — a lightweight activity
// counter gating promotion into a bounded sorted-set window — to track
// which article titles are being requested often enough to be worth
// proactively warming.
type HotTitleTracker struct {
	redis          *redis.Client
	logger         zerolog.Logger
	hotThreshold   int
	windowDuration time.Duration
	maxHotTitles   int
	cleanupInterval time.Duration

	shutdown       chan struct{}
	cleanupRunning bool
	mu             sync.RWMutex
	hotTitlesCache map[string]bool
	cacheExpiry    time.Time
}

// NewHotTitleTracker creates a tracker and starts its background cleanup
// goroutine.
func NewHotTitleTracker(client *redis.Client, cfg config.Warmer, logger zerolog.Logger) *HotTitleTracker {
	t := &HotTitleTracker{
		redis:           client,
		logger:          logger.With().Str("component", "hot-title-tracker").Logger(),
		hotThreshold:    cfg.HotThreshold,
		windowDuration:  cfg.WindowDuration,
		maxHotTitles:    cfg.MaxTrackedTitles,
		cleanupInterval: cfg.CleanupInterval,
		shutdown:        make(chan struct{}),
		hotTitlesCache:  make(map[string]bool),
	}

	go t.StartCleanup()
	return t
}

// RecordRequest increments the activity counter for title and promotes it
// to hot tracking once the counter reaches hotThreshold.
func (t *HotTitleTracker) RecordRequest(ctx context.Context, title string) error {
	activityKey := fmt.Sprintf("activity:%s", title)

	count, err := t.redis.Incr(ctx, activityKey).Result()
	if err != nil {
		return fmt.Errorf("warmer: increment activity counter: %w", err)
	}

	if count == 1 {
		if err := t.redis.Expire(ctx, activityKey, 10*time.Minute).Err(); err != nil {
			t.logger.Warn().Err(err).Str("key", activityKey).Msg("failed to set TTL on activity key")
		}
	}

	if count >= int64(t.hotThreshold) {
		return t.promoteToHot(ctx, title)
	}
	return nil
}

func (t *HotTitleTracker) promoteToHot(ctx context.Context, title string) error {
	currentCount, err := t.HotTitlesCount(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to get hot titles count during promotion")
	}

	if currentCount >= t.maxHotTitles {
		t.logger.Warn().
			Str("title", title).
			Int("current", currentCount).
			Int("max", t.maxHotTitles).
			Msg("rejecting promotion: hot title budget exhausted")
		return nil
	}

	windowKey := fmt.Sprintf("hot:window:%s", title)
	timestamp := time.Now().Unix()

	pipe := t.redis.Pipeline()
	pipe.ZAdd(ctx, windowKey, redis.Z{Score: float64(timestamp), Member: timestamp})
	cutoff := timestamp - int64(t.windowDuration.Seconds())
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf", fmt.Sprintf("%.0f", float64(cutoff)))

	bufferDuration := t.windowDuration + 10*time.Minute
	pipe.Expire(ctx, windowKey, bufferDuration)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("warmer: promote %q to hot tracking: %w", title, err)
	}

	t.mu.Lock()
	t.hotTitlesCache[title] = true
	t.mu.Unlock()

	t.logger.Info().Str("title", title).Msg("title promoted to hot tracking")
	return nil
}

// IsHot reports whether title is currently tracked as hot.
func (t *HotTitleTracker) IsHot(ctx context.Context, title string) (bool, error) {
	windowKey := fmt.Sprintf("hot:window:%s", title)
	exists, err := t.redis.Exists(ctx, windowKey).Result()
	if err != nil {
		return false, fmt.Errorf("warmer: check hot title %q: %w", title, err)
	}
	return exists > 0, nil
}

// HotTitlesCount returns the current number of tracked hot titles,
// cached for 10 seconds to bound SCAN pressure on Redis.
func (t *HotTitleTracker) HotTitlesCount(ctx context.Context) (int, error) {
	t.mu.RLock()
	if time.Now().Before(t.cacheExpiry) {
		count := len(t.hotTitlesCache)
		t.mu.RUnlock()
		return count, nil
	}
	t.mu.RUnlock()

	hotTitles, err := t.scanHotTitles(ctx)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	t.hotTitlesCache = hotTitles
	t.cacheExpiry = time.Now().Add(10 * time.Second)
	count := len(hotTitles)
	t.mu.Unlock()

	metrics.SetGauge("hot_titles_tracked", float64(count), map[string]string{})
	return count, nil
}

// HotTitlesList returns every currently tracked hot title.
func (t *HotTitleTracker) HotTitlesList(ctx context.Context) ([]string, error) {
	hotTitles, err := t.scanHotTitles(ctx)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(hotTitles))
	for title := range hotTitles {
		titles = append(titles, title)
	}
	return titles, nil
}

func (t *HotTitleTracker) scanHotTitles(ctx context.Context) (map[string]bool, error) {
	var cursor uint64
	hotTitles := make(map[string]bool)

	for {
		keys, nextCursor, err := t.redis.Scan(ctx, cursor, "hot:window:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("warmer: scan hot titles: %w", err)
		}
		for _, key := range keys {
			hotTitles[strings.TrimPrefix(key, "hot:window:")] = true
		}
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return hotTitles, nil
}

// StartCleanup runs the background goroutine that evicts stale hot-title
// windows. Safe to call once; a second call is a no-op.
func (t *HotTitleTracker) StartCleanup() {
	t.mu.Lock()
	if t.cleanupRunning {
		t.mu.Unlock()
		return
	}
	t.cleanupRunning = true
	t.mu.Unlock()

	ticker := time.NewTicker(t.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			cleaned, err := t.cleanupStaleHotTitles(ctx)
			cancel()
			if err != nil {
				t.logger.Warn().Err(err).Msg("hot-title cleanup failed")
			} else if cleaned > 0 {
				t.logger.Info().Int("removed", cleaned).Msg("hot-title cleanup completed")
			}

		case <-t.shutdown:
			return
		}
	}
}

func (t *HotTitleTracker) cleanupStaleHotTitles(ctx context.Context) (int, error) {
	var cursor uint64
	cleaned := 0
	scanned := 0

	for {
		keys, nextCursor, err := t.redis.Scan(ctx, cursor, "hot:window:*", 100).Result()
		if err != nil {
			return cleaned, fmt.Errorf("warmer: scan for cleanup: %w", err)
		}

		for _, key := range keys {
			scanned++

			count, err := t.redis.ZCard(ctx, key).Result()
			if err != nil {
				continue
			}
			ttl, err := t.redis.TTL(ctx, key).Result()
			if err != nil {
				continue
			}

			if count == 0 || ttl < 0 {
				if err := t.redis.Del(ctx, key).Err(); err == nil {
					cleaned++
				}
			}
		}

		cursor = nextCursor
		if cursor == 0 || scanned >= 1000 {
			break
		}
	}
	return cleaned, nil
}

// Shutdown stops the cleanup goroutine.
func (t *HotTitleTracker) Shutdown() {
	close(t.shutdown)
}
