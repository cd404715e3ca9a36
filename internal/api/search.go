package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tutorcore/internal/extract"
	"github.com/kalambet/tutorcore/internal/retrieval"
	"github.com/kalambet/tutorcore/internal/storage"
)

// maxDepth bounds the number of results a caller can ask for.
const maxDepth = 100

type SearchRequest struct {
	Query string `json:"query"`
	Style string `json:"style"`
	Depth int    `json:"depth"`
}

type SearchResponse struct {
	Query   string             `json:"query"`
	Depth   int                `json:"depth"`
	Results []retrieval.Result `json:"results"`
}

// resolveDepth picks an explicit depth, then the style's depth, then def.
func resolveDepth(depth int, style string, def int) int {
	switch {
	case depth > 0:
		return min(depth, maxDepth)
	case style != "":
		return retrieval.DepthForStyle(style)
	default:
		return def
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		depth := resolveDepth(req.Depth, req.Style, deps.DefaultDepth)
		results := deps.Searcher.Search(r.Context(), req.Query, depth)
		if results == nil {
			results = []retrieval.Result{}
		}
		writeJSON(w, http.StatusOK, SearchResponse{Query: req.Query, Depth: depth, Results: results})
	}
}

type ExtractRequest struct {
	Text string `json:"text"`
}

type ExtractResponse struct {
	Outcome string `json:"outcome"`
	Value   any    `json:"value"`
}

func handleExtract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if !decodeBody(w, r, maxRequestBodySize, &req) {
		return
	}

	value, err := extract.Parse(req.Text)
	var pe *extract.ParseError
	if errors.As(err, &pe) {
		httpError(w, http.StatusUnprocessableEntity, "parse_error", "%s", pe.Error())
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "extracting: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, ExtractResponse{
		Outcome: extract.Scan(req.Text).Outcome.String(),
		Value:   value,
	})
}

// FragmentResponse is a stored fragment with its embedding summarized.
type FragmentResponse struct {
	retrieval.Fragment
	Embedded   bool `json:"embedded"`
	Dimensions int  `json:"dimensions,omitempty"`
}

func handleGetFragment(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		frag, err := deps.Content.Get(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "fragment %q not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading fragment: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, FragmentResponse{
			Fragment:   frag,
			Embedded:   frag.Embedding != nil,
			Dimensions: len(frag.Embedding),
		})
	}
}
