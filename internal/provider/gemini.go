package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Default Gemini models.
const (
	DefaultGeminiChatModel  = "gemini-2.0-flash-exp"
	DefaultGeminiEmbedModel = "text-embedding-004"
)

// ErrMissingAPIKey is returned when the Gemini provider has no API key.
var ErrMissingAPIKey = errors.New("gemini api key is not set")

// Gemini talks to the Google Generative Language API.
type Gemini struct {
	client *genai.Client
	chat   *genai.GenerativeModel
	embed  *genai.EmbeddingModel
}

// NewGemini creates a Gemini provider. Empty model names use the defaults.
func NewGemini(ctx context.Context, apiKey, chatModel, embedModel string, opts ...option.ClientOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if chatModel == "" {
		chatModel = DefaultGeminiChatModel
	}
	if embedModel == "" {
		embedModel = DefaultGeminiEmbedModel
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{
		client: client,
		chat:   client.GenerativeModel(chatModel),
		embed:  client.EmbeddingModel(embedModel),
	}, nil
}

// Name returns "gemini".
func (g *Gemini) Name() string { return NameGemini }

// Close releases the underlying client.
func (g *Gemini) Close() error { return g.client.Close() }

// Embed returns the embedding for text.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := g.embed.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embed: empty embedding")
	}
	return res.Embedding.Values, nil
}

// EmbedBatch embeds texts in a single request.
func (g *Gemini) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batch := g.embed.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := g.embed.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini batch embed: got %d embeddings for %d texts", len(res.Embeddings), len(texts))
	}
	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Generate sends prompt as a single user turn and returns the concatenated
// text of the first candidate.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.chat.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini generate: empty response")
	}
	return text, nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
