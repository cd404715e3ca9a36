package api

import (
	"math"
	"net/http"

	"github.com/kalambet/tutorcore/internal/backfill"
	"github.com/kalambet/tutorcore/internal/cache"
	"github.com/kalambet/tutorcore/internal/retrieval"
)

const debugSearchLimit = 10

type CoverageResponse struct {
	Total           int     `json:"total"`
	WithEmbeddings  int     `json:"with_embeddings"`
	CoveragePercent float64 `json:"coverage_percent"`
	BackfillRunning bool    `json:"backfill_running"`
	// LastBackfill is the most recently finished run, if any.
	LastBackfill *backfill.Run `json:"last_backfill,omitempty"`
}

type CacheResponse struct {
	Enabled bool `json:"enabled"`
	cache.Stats
	HitRate float64 `json:"hit_rate"`
}

func handleEmbeddingCoverage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cov, err := deps.Content.Coverage(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count fragments: %v", err)
			return
		}
		resp := CoverageResponse{
			Total:           cov.Total,
			WithEmbeddings:  cov.WithEmbeddings,
			CoveragePercent: math.Round(cov.Percent()*100) / 100,
			BackfillRunning: deps.Backfill.Running(),
		}
		if run, ok := deps.Backfill.Last(); ok {
			resp.LastBackfill = &run
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleCacheStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Cache == nil {
			writeJSON(w, http.StatusOK, CacheResponse{})
			return
		}
		stats := deps.Cache.Stats()
		writeJSON(w, http.StatusOK, CacheResponse{
			Enabled: true,
			Stats:   stats,
			HitRate: math.Round(stats.HitRate()*10000) / 10000,
		})
	}
}

func handleDebugSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		term := r.URL.Query().Get("term")
		if term == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "term is required")
			return
		}
		matches, err := deps.Content.Preview(r.Context(), term, debugSearchLimit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		if matches == nil {
			matches = []retrieval.PreviewMatch{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"term":    term,
			"count":   len(matches),
			"matches": matches,
		})
	}
}

func handleStartBackfill(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Backfill.Start(deps.BaseContext) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "already in progress"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func handleStopBackfill(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Backfill.Stop() {
			writeJSON(w, http.StatusOK, map[string]string{"status": "not running"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
	}
}
