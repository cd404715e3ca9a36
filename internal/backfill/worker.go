// Package backfill computes embeddings for stored fragments that lack one.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/tutorcore/internal/provider"
	"github.com/kalambet/tutorcore/internal/retrieval"
)

// Defaults for Options fields left at zero.
const (
	DefaultBatchSize    = 20
	DefaultDelay        = 200 * time.Millisecond
	DefaultEmbedTimeout = 30 * time.Second
)

// Store is the part of the content store the worker needs.
type Store interface {
	PendingEmbeddings(ctx context.Context, afterID string, limit int) ([]retrieval.Fragment, error)
	SetEmbedding(ctx context.Context, id string, vec []float32) error
}

// Options tunes a Worker. Delay is the pause after each embedding request
// and may be negative to disable it. EmbedTimeout bounds one request, batched
// or single.
type Options struct {
	BatchSize    int
	Delay        time.Duration
	EmbedTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Delay == 0 {
		o.Delay = DefaultDelay
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = DefaultEmbedTimeout
	}
	return o
}

// Stats summarizes one run.
type Stats struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Worker walks pending fragments in insertion order and fills their
// embeddings, one provider request per batch. When a batch request fails its
// fragments are retried singly, and a fragment that fails again is skipped
// for the rest of the run.
type Worker struct {
	store    Store
	embedder provider.Embedder
	opts     Options
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
func NewWorker(store Store, embedder provider.Embedder, opts Options) *Worker {
	return &Worker{
		store:    store,
		embedder: embedder,
		opts:     opts.withDefaults(),
		logger:   slog.Default(),
	}
}

// Run processes batches until no pending fragment remains after the cursor
// or ctx is cancelled. It returns ctx.Err() on cancellation together with the
// stats gathered so far.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	cursor := ""
	w.logger.Info("backfill started", "batch_size", w.opts.BatchSize)

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("backfill stopped", "processed", stats.Processed, "failed", stats.Failed)
			return stats, err
		}

		batch, err := w.store.PendingEmbeddings(ctx, cursor, w.opts.BatchSize)
		if err != nil {
			return stats, err
		}
		if len(batch) == 0 {
			w.logger.Info("backfill complete", "processed", stats.Processed, "failed", stats.Failed)
			return stats, nil
		}
		cursor = batch[len(batch)-1].ID

		vecs, err := w.embedBatch(ctx, batch)
		switch {
		case err == nil:
			w.saveBatch(ctx, batch, vecs, &stats)
			w.pause(ctx)
		case ctx.Err() != nil:
			// Cancelled mid-request; the loop head reports it.
		default:
			w.logger.Debug("batch embed failed, retrying one by one", "size", len(batch), "error", err)
			w.processEach(ctx, batch, &stats)
		}
		w.logger.Debug("backfill batch done", "processed", stats.Processed, "failed", stats.Failed)
	}
}

func (w *Worker) embedBatch(ctx context.Context, batch []retrieval.Fragment) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, frag := range batch {
		texts[i] = frag.Text
	}

	embedCtx, cancel := context.WithTimeout(ctx, w.opts.EmbedTimeout)
	defer cancel()

	vecs, err := provider.EmbedBatch(embedCtx, w.embedder, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("embedding batch: got %d vectors for %d texts", len(vecs), len(batch))
	}
	return vecs, nil
}

// saveBatch stores vecs even if the run is being cancelled.
func (w *Worker) saveBatch(ctx context.Context, batch []retrieval.Fragment, vecs [][]float32, stats *Stats) {
	for i, frag := range batch {
		if err := w.store.SetEmbedding(context.WithoutCancel(ctx), frag.ID, vecs[i]); err != nil {
			stats.Failed++
			w.logger.Warn("storing embedding failed", "fragment_id", frag.ID, "error", err)
			continue
		}
		stats.Processed++
	}
}

// processEach embeds the fragments of a failed batch one at a time so a
// single bad fragment does not fail its neighbours.
func (w *Worker) processEach(ctx context.Context, batch []retrieval.Fragment, stats *Stats) {
	for _, frag := range batch {
		if ctx.Err() != nil {
			return
		}
		if err := w.processFragment(ctx, frag); err != nil {
			if ctx.Err() != nil {
				return
			}
			stats.Failed++
			w.logger.Warn("embedding fragment failed", "fragment_id", frag.ID, "error", err)
		} else {
			stats.Processed++
		}
		w.pause(ctx)
	}
}

func (w *Worker) processFragment(ctx context.Context, frag retrieval.Fragment) error {
	embedCtx, cancel := context.WithTimeout(ctx, w.opts.EmbedTimeout)
	defer cancel()

	vec, err := w.embedder.Embed(embedCtx, frag.Text)
	if err != nil {
		return err
	}
	// A computed embedding is kept even if the run is being cancelled.
	return w.store.SetEmbedding(context.WithoutCancel(ctx), frag.ID, vec)
}

func (w *Worker) pause(ctx context.Context) {
	if w.opts.Delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(w.opts.Delay):
	}
}
