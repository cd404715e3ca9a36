package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/tutorcore/internal/cache"
)

// DefaultCacheTTL is how long a retrieval result is reused.
const DefaultCacheTTL = 5 * time.Minute

// Searcher runs a retrieval for a query at a given depth.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) []Result
}

// Cached puts a cache in front of a Searcher. Empty results are never
// cached so content added later is found on the next request.
type Cached struct {
	next   Searcher
	store  cache.Store[[]Result]
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps next with store. ttl <= 0 means DefaultCacheTTL.
func NewCached(next Searcher, store cache.Store[[]Result], ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{next: next, store: store, ttl: ttl, logger: slog.Default()}
}

// Search returns the cached result for (query, depth) or runs the retrieval
// and stores a non-empty result.
func (c *Cached) Search(ctx context.Context, query string, depth int) []Result {
	key := cache.Key(query, depth)
	if results, ok := c.store.Get(ctx, key); ok {
		c.logger.Debug("retrieval cache hit", "key", key, "results", len(results))
		return results
	}

	results := c.next.Search(ctx, query, depth)
	if len(results) > 0 {
		c.store.Set(ctx, key, results, c.ttl)
	}
	return results
}

// Stats reports the underlying store's lookup counters.
func (c *Cached) Stats() cache.Stats {
	return c.store.Stats()
}
