package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kalambet/tutorcore/internal/backfill"
	"github.com/kalambet/tutorcore/internal/cache"
	"github.com/kalambet/tutorcore/internal/config"
	"github.com/kalambet/tutorcore/internal/ingest"
	"github.com/kalambet/tutorcore/internal/provider"
	"github.com/kalambet/tutorcore/internal/retrieval"
	"github.com/kalambet/tutorcore/internal/review"
	"github.com/kalambet/tutorcore/internal/storage"
)

// app holds the components shared by serve and the local commands.
type app struct {
	cfg      config.Config
	store    *storage.Store
	content  *retrieval.SQLiteStore
	provider provider.Provider
	searcher *retrieval.Cached
	reviews  *review.Service
	worker   *backfill.Worker
	ingester *ingest.Ingester

	closers []io.Closer
}

// setupLogging installs the default slog handler at the configured level.
func setupLogging(cfg config.Config) {
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		printWarning("%v, using info", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// newApp opens storage, connects the provider and the cache and builds the
// services on top of them. The caller must call close.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	st, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, st)

	prov, err := provider.New(ctx, provider.Options{
		Name:             cfg.Provider.Name,
		GeminiAPIKey:     cfg.Gemini.APIKey,
		GeminiChatModel:  cfg.Gemini.ChatModel,
		GeminiEmbedModel: cfg.Gemini.EmbedModel,
		OllamaBaseURL:    cfg.Ollama.BaseURL,
		OllamaChatModel:  cfg.Ollama.ChatModel,
		OllamaEmbedModel: cfg.Ollama.EmbedModel,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating %s provider: %w", cfg.Provider.Name, err)
	}
	a.provider = prov
	a.closers = append(a.closers, prov)

	a.content = retrieval.NewSQLiteStore(st.DB())
	retriever := retrieval.NewRetriever(prov, a.content, cfg.Retrieval.FallbackTerm)

	results, err := a.newCache(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.searcher = retrieval.NewCached(retriever, results, cfg.Cache.TTL)

	a.reviews = review.NewService(st)
	a.worker = backfill.NewWorker(a.content, prov, backfill.Options{
		BatchSize:    cfg.Backfill.BatchSize,
		Delay:        cfg.Backfill.Delay,
		EmbedTimeout: cfg.Backfill.EmbedTimeout,
	})
	// Fragments are stored without embeddings; the backfill fills them.
	a.ingester = ingest.NewIngester(a.content, nil, 0)

	return a, nil
}

func (a *app) newCache(ctx context.Context) (cache.Store[[]retrieval.Result], error) {
	switch a.cfg.Cache.Backend {
	case config.CacheRedis:
		client, err := cache.NewRedisClient(ctx, cache.RedisOptions{
			Address:  a.cfg.Redis.Address,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		slog.Info("query cache backed by redis", "address", a.cfg.Redis.Address)
		return cache.NewRedis[[]retrieval.Result](client), nil
	default:
		return cache.NewMemory[[]retrieval.Result](a.cfg.Cache.Capacity), nil
	}
}

// ensureProvider makes sure a local Ollama has the configured models.
// Remote providers need no preparation.
func (a *app) ensureProvider(ctx context.Context, w io.Writer) error {
	if o, ok := a.provider.(*provider.Ollama); ok {
		return o.EnsureReady(ctx, w)
	}
	return nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
