// Package api exposes retrieval, extraction, scheduling and ingestion over
// HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tutorcore/internal/backfill"
	"github.com/kalambet/tutorcore/internal/cache"
	"github.com/kalambet/tutorcore/internal/ingest"
	"github.com/kalambet/tutorcore/internal/provider"
	"github.com/kalambet/tutorcore/internal/retrieval"
	"github.com/kalambet/tutorcore/internal/review"
	"github.com/kalambet/tutorcore/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ContentStats reports on stored fragments.
type ContentStats interface {
	Get(ctx context.Context, id string) (retrieval.Fragment, error)
	Coverage(ctx context.Context) (retrieval.Coverage, error)
	Preview(ctx context.Context, term string, limit int) ([]retrieval.PreviewMatch, error)
}

// Reviewer records ratings and lists due cards.
type Reviewer interface {
	Submit(ctx context.Context, flashcardID, userID string, q review.Quality) (storage.ReviewRecord, error)
	Due(ctx context.Context, userID string, now time.Time, limit int) ([]storage.ReviewRecord, error)
}

// Backfiller controls the background embedding backfill.
type Backfiller interface {
	Start(parent context.Context) bool
	Stop() bool
	Running() bool
	Last() (backfill.Run, bool)
}

// CacheStats reports retrieval cache counters.
type CacheStats interface {
	Stats() cache.Stats
}

// DocumentIngester stores a document as fragments.
type DocumentIngester interface {
	Ingest(ctx context.Context, doc ingest.Document) ([]retrieval.Fragment, error)
}

// Deps holds the components served by the HTTP and MCP layers.
type Deps struct {
	Searcher retrieval.Searcher
	Content  ContentStats
	Reviews  Reviewer
	Backfill Backfiller
	Ingester DocumentIngester
	// Generator backs /generate. Nil makes that route report 503.
	Generator provider.Generator
	// Cache backs /debug/cache. Nil reports the cache as disabled.
	Cache CacheStats

	// Token guards every route except /health. Empty disables auth.
	Token string
	// DefaultDepth is used by /search when neither depth nor style is given.
	DefaultDepth int
	// BaseContext bounds background work started from a request, such as the
	// backfill. Defaults to context.Background().
	BaseContext context.Context
	HTTPClient  *http.Client
	Now         func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.DefaultDepth <= 0 {
		d.DefaultDepth = retrieval.DefaultDepth
	}
	if d.BaseContext == nil {
		d.BaseContext = context.Background()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	deps = deps.withDefaults()

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/search", handleSearch(deps))
		r.Post("/extract", handleExtract)
		r.Post("/ingest", handleIngest(deps))
		r.Post("/generate", handleGenerate(deps))
		r.Get("/fragments/{id}", handleGetFragment(deps))
		r.Post("/reviews", handleSubmitReview(deps))
		r.Get("/reviews/due", handleDueReviews(deps))

		r.Get("/debug/embeddings", handleEmbeddingCoverage(deps))
		r.Get("/debug/search", handleDebugSearch(deps))
		r.Get("/debug/cache", handleCacheStats(deps))
		r.Post("/debug/backfill", handleStartBackfill(deps))
		r.Post("/debug/stop-backfill", handleStopBackfill(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
