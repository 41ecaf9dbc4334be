// Package cache provides the API-response cache collaborator used in
// front of Wikipedia API calls: a fingerprinted key made from
// title plus the revision id it was rendered against, backed by either an
// in-process TTL map or Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"
)

// Cache stores rendered-article bytes keyed by a fingerprint.
type Cache interface {
	// Get returns the cached bytes and true on hit, or nil and false on miss
	// or error. A cache that is down should behave as an always-miss cache
	// rather than propagate an error to the caller.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores data under key with the given TTL.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Close releases any held resources.
	Close() error
}

// Key produces a deterministic cache key from the article title and the
// revision id the reconstitution was computed against, so an edit to the
// live article invalidates the cache entry implicitly.
func Key(title string, revisionID int64) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte("|"))
	fmt.Fprintf(h, "%d", revisionID)
	return fmt.Sprintf("%x", h.Sum(nil))
}
