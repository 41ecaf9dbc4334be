package warmer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sjpalmer/wikivandal/internal/config"
)

func newTestTracker(t *testing.T) (*HotTitleTracker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := config.Warmer{
		HotThreshold:     2,
		WindowDuration:   time.Minute,
		MaxTrackedTitles: 10,
		CleanupInterval:  time.Hour,
	}

	tracker := NewHotTitleTracker(client, cfg, zerolog.Nop())
	t.Cleanup(tracker.Shutdown)
	return tracker, mr
}

func TestRecordRequestPromotesAfterThreshold(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RecordRequest(ctx, "Go (programming language)"))
	hot, err := tracker.IsHot(ctx, "Go (programming language)")
	require.NoError(t, err)
	require.False(t, hot, "should not be hot after a single request")

	require.NoError(t, tracker.RecordRequest(ctx, "Go (programming language)"))
	hot, err = tracker.IsHot(ctx, "Go (programming language)")
	require.NoError(t, err)
	require.True(t, hot, "should be hot after reaching threshold")
}

func TestIsHotFalseForUntrackedTitle(t *testing.T) {
	tracker, _ := newTestTracker(t)
	hot, err := tracker.IsHot(context.Background(), "Never Requested")
	require.NoError(t, err)
	require.False(t, hot)
}

func TestHotTitlesCountReflectsPromotions(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	for _, title := range []string{"A", "B"} {
		require.NoError(t, tracker.RecordRequest(ctx, title))
		require.NoError(t, tracker.RecordRequest(ctx, title))
	}

	count, err := tracker.HotTitlesCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestPromotionRejectedWhenBudgetExhausted(t *testing.T) {
	tracker, _ := newTestTracker(t)
	tracker.maxHotTitles = 1
	ctx := context.Background()

	require.NoError(t, tracker.RecordRequest(ctx, "First"))
	require.NoError(t, tracker.RecordRequest(ctx, "First"))
	hot, err := tracker.IsHot(ctx, "First")
	require.NoError(t, err)
	require.True(t, hot)

	require.NoError(t, tracker.RecordRequest(ctx, "Second"))
	require.NoError(t, tracker.RecordRequest(ctx, "Second"))
	hot, err = tracker.IsHot(ctx, "Second")
	require.NoError(t, err)
	require.False(t, hot, "promotion should be rejected once budget is exhausted")
}

func TestCleanupRemovesWindowsMissingTTL(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RecordRequest(ctx, "Stale"))
	require.NoError(t, tracker.RecordRequest(ctx, "Stale"))

	// Simulate a window key that lost its expiry (TTL<0 is treated as stale).
	require.NoError(t, tracker.redis.Persist(ctx, "hot:window:Stale").Err())

	cleaned, err := tracker.cleanupStaleHotTitles(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, cleaned)

	hot, err := tracker.IsHot(ctx, "Stale")
	require.NoError(t, err)
	require.False(t, hot)
}
