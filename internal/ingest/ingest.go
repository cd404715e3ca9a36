package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tutorcore/internal/provider"
	"github.com/kalambet/tutorcore/internal/retrieval"
)

// ErrEmptyDocument is returned when a document yields no text.
var ErrEmptyDocument = errors.New("document has no text")

// FragmentInserter stores new fragments.
type FragmentInserter interface {
	Insert(ctx context.Context, frags []retrieval.Fragment) error
}

// Document is extracted text plus the labels every fragment inherits.
type Document struct {
	Subject string
	Topic   string
	Text    string
}

// Ingester chunks documents and stores them as fragments.
type Ingester struct {
	store     FragmentInserter
	embedder  provider.Embedder
	chunkSize int
	now       func() time.Time
	logger    *slog.Logger
}

// NewIngester creates an Ingester. embedder may be nil, in which case
// fragments are stored without embeddings for the backfill to fill.
func NewIngester(store FragmentInserter, embedder provider.Embedder, chunkSize int) *Ingester {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Ingester{
		store:     store,
		embedder:  embedder,
		chunkSize: chunkSize,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// Ingest splits doc into fragments and inserts them in one transaction.
// When an embedder is configured, embeddings are computed first; an
// embedding failure is logged and the fragments are stored without them.
func (in *Ingester) Ingest(ctx context.Context, doc Document) ([]retrieval.Fragment, error) {
	chunks := Chunk(doc.Text, in.chunkSize)
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}

	created := in.now().UTC()
	frags := make([]retrieval.Fragment, len(chunks))
	for i, c := range chunks {
		frags[i] = retrieval.Fragment{
			ID:        uuid.New().String(),
			Subject:   strings.TrimSpace(doc.Subject),
			Topic:     strings.TrimSpace(doc.Topic),
			Text:      c,
			CreatedAt: created,
		}
	}

	if in.embedder != nil {
		vecs, err := provider.EmbedBatch(ctx, in.embedder, chunks)
		if err != nil {
			in.logger.Warn("embedding ingested fragments failed, leaving for backfill", "fragments", len(chunks), "error", err)
		} else {
			for i := range frags {
				frags[i].Embedding = vecs[i]
			}
		}
	}

	if err := in.store.Insert(ctx, frags); err != nil {
		return nil, fmt.Errorf("storing fragments: %w", err)
	}
	in.logger.Info("document ingested", "subject", doc.Subject, "topic", doc.Topic, "fragments", len(frags))
	return frags, nil
}
