package retrieval

import (
	"context"
	"time"
)

// Fragment is a unit of study content. Embedding is nil until the backfill
// worker has computed it.
type Fragment struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Topic     string    `json:"topic"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Provenance records which search branch produced a result.
type Provenance string

const (
	ProvenanceVector   Provenance = "vector"
	ProvenanceKeyword  Provenance = "keyword"
	ProvenanceFallback Provenance = "fallback"
)

// Result is a fragment returned by a search together with the branch that
// found it. Score is cosine similarity for vector results, a bm25-derived
// rank for keyword results and 0 for fallback results.
type Result struct {
	Fragment
	Provenance Provenance `json:"provenance"`
	Score      float32    `json:"score"`
}

// ContentStore exposes the primitive search operations the Retriever fuses.
type ContentStore interface {
	// VectorSearch returns up to limit fragments ordered by ascending cosine
	// distance to vec.
	VectorSearch(ctx context.Context, vec []float32, limit int) ([]Result, error)

	// LexicalSearch runs a full-text query and returns up to limit fragments
	// ordered by descending rank.
	LexicalSearch(ctx context.Context, expr string, limit int) ([]Result, error)

	// SubstringSearch matches term against subject, topic and text.
	SubstringSearch(ctx context.Context, term string, limit int) ([]Result, error)
}

// Embedder converts text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
