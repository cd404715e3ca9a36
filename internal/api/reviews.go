package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/kalambet/tutorcore/internal/review"
	"github.com/kalambet/tutorcore/internal/storage"
)

type ReviewRequest struct {
	FlashcardID string `json:"flashcard_id"`
	UserID      string `json:"user_id"`
	Quality     *int   `json:"quality"`
}

func handleSubmitReview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReviewRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		if req.Quality == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "quality is required")
			return
		}

		rec, err := deps.Reviews.Submit(r.Context(), req.FlashcardID, req.UserID, review.Quality(*req.Quality))
		if errors.Is(err, review.ErrInvalidQuality) || errors.Is(err, review.ErrMissingID) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record review: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func handleDueReviews(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		limit := review.DefaultDueLimit
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, 500)
		}

		records, err := deps.Reviews.Due(r.Context(), userID, deps.Now(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list due reviews: %v", err)
			return
		}
		if records == nil {
			records = []storage.ReviewRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "due": records})
	}
}
