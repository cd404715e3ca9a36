//go:build integration

package provider

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestGemini_Live(t *testing.T) {
	key := os.Getenv("TUTOR_GEMINI_API_KEY")
	if key == "" {
		t.Skip("TUTOR_GEMINI_API_KEY not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	g, err := NewGemini(ctx, key, "", "")
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}
	defer g.Close()

	vec, err := g.Embed(ctx, "The mitral valve separates the left atrium and ventricle.")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) == 0 {
		t.Fatal("empty embedding")
	}

	vecs, err := g.EmbedBatch(ctx, []string{"systole", "diastole"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != len(vec) {
		t.Errorf("batch dims = %d x %d, want 2 x %d", len(vecs), len(vecs[0]), len(vec))
	}

	out, err := g.Generate(ctx, `Reply with exactly {"ok":true}`)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out == "" {
		t.Error("empty generation")
	}
}
