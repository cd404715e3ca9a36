// Package provider adapts external model services to the two calls the core
// needs: turning text into an embedding and turning a prompt into text.
package provider

import (
	"context"
	"fmt"
)

// Embedder converts text to a fixed-length vector. Callers must treat every
// error as transient and degrade instead of failing the request.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator returns the model's free-text answer to a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Provider is a model service that both embeds and generates.
type Provider interface {
	Embedder
	Generator
	Name() string
	Close() error
}

// Provider names accepted by New.
const (
	NameGemini = "gemini"
	NameOllama = "ollama"
)

// Options selects and configures a provider.
type Options struct {
	Name string

	GeminiAPIKey     string
	GeminiChatModel  string
	GeminiEmbedModel string

	OllamaBaseURL    string
	OllamaChatModel  string
	OllamaEmbedModel string
}

// New builds the provider named in opts.
func New(ctx context.Context, opts Options) (Provider, error) {
	switch opts.Name {
	case NameGemini, "":
		return NewGemini(ctx, opts.GeminiAPIKey, opts.GeminiChatModel, opts.GeminiEmbedModel)
	case NameOllama:
		return NewOllama(opts.OllamaBaseURL, opts.OllamaChatModel, opts.OllamaEmbedModel), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want %s or %s)", opts.Name, NameGemini, NameOllama)
	}
}
