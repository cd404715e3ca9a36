package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/kalambet/tutorcore/internal/extract"
	"github.com/kalambet/tutorcore/internal/generate"
)

// Artifact kinds accepted by /generate.
const (
	KindFlashcards = "flashcards"
	KindQuestions  = "questions"
	KindPlan       = "plan"
)

type GenerateRequest struct {
	Kind   string `json:"kind"`
	Prompt string `json:"prompt"`
}

type GenerateResponse struct {
	Kind     string `json:"kind"`
	Artifact any    `json:"artifact"`
}

var errUnknownKind = errors.New("kind must be flashcards, questions or plan")

// generateArtifact runs the typed generator for kind.
func generateArtifact(ctx context.Context, deps Deps, kind, prompt string) (any, error) {
	switch kind {
	case KindFlashcards:
		return generate.Flashcards(ctx, deps.Generator, prompt)
	case KindQuestions:
		return generate.Questions(ctx, deps.Generator, prompt)
	case KindPlan:
		return generate.Plan(ctx, deps.Generator, prompt)
	}
	return nil, errUnknownKind
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Generator == nil {
			httpError(w, http.StatusServiceUnavailable, "provider_unavailable", "no generation provider configured")
			return
		}

		var req GenerateRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		if req.Prompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}

		artifact, err := generateArtifact(r.Context(), deps, req.Kind, req.Prompt)
		var pe *extract.ParseError
		switch {
		case errors.Is(err, errUnknownKind):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		case errors.As(err, &pe):
			httpError(w, http.StatusUnprocessableEntity, "parse_error", "%v", err)
		case errors.Is(err, generate.ErrInvalidArtifact):
			httpError(w, http.StatusUnprocessableEntity, "invalid_artifact", "%v", err)
		case err != nil:
			httpError(w, http.StatusBadGateway, "provider_error", "%v", err)
		default:
			writeJSON(w, http.StatusOK, GenerateResponse{Kind: req.Kind, Artifact: artifact})
		}
	}
}
