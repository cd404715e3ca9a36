// Package cache memoizes retrieval results behind a bounded, time-limited
// store keyed by normalized query and depth.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Store is a key/value cache with per-entry expiry. Get reports a hit
// explicitly; expired entries are misses.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V, ttl time.Duration)
	Stats() Stats
}

// Stats counts lookups since the store was created.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// HitRate is the share of lookups that hit, or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// keyPrefix namespaces retrieval entries in shared backends.
const keyPrefix = "ctx_"

// Key derives the cache key for a query at a retrieval depth. Queries that
// differ only in case or whitespace share a key; different depths never do.
func Key(query string, depth int) string {
	sum := sha256.Sum256([]byte(Normalize(query) + "\x00" + strconv.Itoa(depth)))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Normalize trims, lowercases and collapses internal whitespace.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
