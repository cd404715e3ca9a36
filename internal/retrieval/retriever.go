package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Retriever fuses vector and lexical search over a ContentStore into one
// deduplicated, provenance-tagged result list.
type Retriever struct {
	embedder     Embedder
	store        ContentStore
	fallbackTerm string
	logger       *slog.Logger
}

// NewRetriever creates a Retriever. fallbackTerm is searched lexically when a
// query has no usable tokens; empty means DefaultFallbackTerm.
func NewRetriever(embedder Embedder, store ContentStore, fallbackTerm string) *Retriever {
	if fallbackTerm == "" {
		fallbackTerm = DefaultFallbackTerm
	}
	return &Retriever{
		embedder:     embedder,
		store:        store,
		fallbackTerm: fallbackTerm,
		logger:       slog.Default(),
	}
}

// Search returns up to limit vector matches followed by up to ceil(limit/2)
// lexical matches, deduplicated by fragment ID with the first occurrence
// kept. It never fails: an unavailable embedder or a failing branch only
// shrinks the result.
func (r *Retriever) Search(ctx context.Context, query string, limit int) []Result {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, using lexical search only", "error", err)
		vec = nil
	}

	var vectorResults, lexicalResults []Result
	g, gCtx := errgroup.WithContext(ctx)

	if vec != nil {
		g.Go(func() error {
			vectorResults = r.vectorBranch(gCtx, vec, limit)
			return nil
		})
	}
	g.Go(func() error {
		lexicalResults = r.lexicalBranch(gCtx, query, (limit+1)/2)
		return nil
	})
	// Branches swallow their own errors.
	_ = g.Wait()

	merged := dedupe(vectorResults, lexicalResults)
	r.logger.Debug("hybrid search complete",
		"vector", len(vectorResults),
		"lexical", len(lexicalResults),
		"unique", len(merged),
	)
	return merged
}

func (r *Retriever) vectorBranch(ctx context.Context, vec []float32, limit int) []Result {
	results, err := r.store.VectorSearch(ctx, vec, limit)
	if err != nil {
		r.logger.Warn("vector search failed", "error", err)
		return nil
	}
	r.logger.Debug("vector search", "results", len(results))
	return results
}

func (r *Retriever) lexicalBranch(ctx context.Context, query string, limit int) []Result {
	expr := lexicalExpression(query, r.fallbackTerm)
	results, err := r.store.LexicalSearch(ctx, expr, limit)
	if err == nil {
		r.logger.Debug("lexical search", "expr", expr, "results", len(results))
		return results
	}
	r.logger.Warn("lexical search failed, trying substring match", "expr", expr, "error", err)

	results, err = r.store.SubstringSearch(ctx, strings.ToLower(strings.TrimSpace(query)), limit)
	if err != nil {
		r.logger.Warn("substring search failed", "error", err)
		return nil
	}
	return results
}

// dedupe concatenates the lists and drops every result whose ID was already
// seen, so earlier lists win ties.
func dedupe(lists ...[]Result) []Result {
	seen := make(map[string]bool)
	var out []Result
	for _, list := range lists {
		for _, res := range list {
			if seen[res.ID] {
				continue
			}
			seen[res.ID] = true
			out = append(out, res)
		}
	}
	return out
}
