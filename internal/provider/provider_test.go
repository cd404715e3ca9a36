package provider

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestNew_Ollama(t *testing.T) {
	p, err := New(context.Background(), Options{Name: NameOllama, OllamaBaseURL: "http://localhost:1/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()
	o, ok := p.(*Ollama)
	if !ok {
		t.Fatalf("provider = %T, want *Ollama", p)
	}
	if o.baseURL != "http://localhost:1" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", o.baseURL)
	}
	if o.Name() != NameOllama {
		t.Errorf("Name() = %q", o.Name())
	}
}

func TestNew_GeminiRequiresKey(t *testing.T) {
	_, err := New(context.Background(), Options{Name: NameGemini})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestNew_Unknown(t *testing.T) {
	_, err := New(context.Background(), Options{Name: "openai"})
	if err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Errorf("err = %v, want unknown provider", err)
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"a":`), genai.Text(`1}`)}},
		}},
	}
	if got := responseText(resp); got != `{"a":1}` {
		t.Errorf("responseText = %q", got)
	}
	if got := responseText(&genai.GenerateContentResponse{}); got != "" {
		t.Errorf("no candidates: got %q, want empty", got)
	}
	if got := responseText(nil); got != "" {
		t.Errorf("nil: got %q, want empty", got)
	}
}

type countingEmbedder struct {
	calls atomic.Int32
	fail  string
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if text == c.fail {
		return nil, errors.New("boom")
	}
	return []float32{float32(len(text))}, nil
}

func TestEmbedBatch_FansOut(t *testing.T) {
	e := &countingEmbedder{}
	vecs, err := EmbedBatch(context.Background(), e, []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if e.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", e.calls.Load())
	}
	for i, want := range []float32{1, 2, 3} {
		if vecs[i][0] != want {
			t.Errorf("vecs[%d] = %v, want [%v]", i, vecs[i], want)
		}
	}
}

func TestEmbedBatch_Error(t *testing.T) {
	e := &countingEmbedder{fail: "bb"}
	if _, err := EmbedBatch(context.Background(), e, []string{"a", "bb", "ccc"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	vecs, err := EmbedBatch(context.Background(), &countingEmbedder{}, nil)
	if err != nil || vecs != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", vecs, err)
	}
}
