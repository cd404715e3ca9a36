package generate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/kalambet/tutorcore/internal/extract"
)

type mockGenerator struct {
	generateFn func(ctx context.Context, prompt string) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return m.generateFn(ctx, prompt)
}

func replying(text string) *mockGenerator {
	return &mockGenerator{generateFn: func(context.Context, string) (string, error) { return text, nil }}
}

func TestFlashcards_RepairsOutput(t *testing.T) {
	gen := replying("Here you go:\n```json\n[{front: \"ATP\", \"back\": \"energy currency\",},]\n```")
	cards, err := Flashcards(context.Background(), gen, "make cards")
	if err != nil {
		t.Fatalf("Flashcards: %v", err)
	}
	if len(cards) != 1 || cards[0].Front != "ATP" || cards[0].Back != "energy currency" {
		t.Errorf("cards = %+v", cards)
	}
}

func TestStructured_PromptPassedThrough(t *testing.T) {
	var got string
	gen := &mockGenerator{generateFn: func(_ context.Context, p string) (string, error) {
		got = p
		return `{"suggestedTopics":["Renal"],"planDescription":"Focus","questionsCount":30,"estimatedTime":"45 mins"}`, nil
	}}
	plan, err := Plan(context.Background(), gen, "plan my day")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got != "plan my day" {
		t.Errorf("prompt = %q", got)
	}
	if plan.QuestionsCount != 30 || len(plan.SuggestedTopics) != 1 || plan.EstimatedTime != "45 mins" {
		t.Errorf("plan = %+v", plan)
	}
}

func TestStructured_GeneratorError(t *testing.T) {
	unavailable := errors.New("provider unavailable")
	gen := &mockGenerator{generateFn: func(context.Context, string) (string, error) { return "", unavailable }}

	_, err := Flashcards(context.Background(), gen, "x")
	if !errors.Is(err, unavailable) {
		t.Errorf("err = %v, want wrapped provider error", err)
	}
}

func TestStructured_ParseError(t *testing.T) {
	_, err := Flashcards(context.Background(), replying("I cannot help with that."), "x")
	var pe *extract.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *extract.ParseError", err)
	}
	if pe.Reason != extract.ReasonNoStructure {
		t.Errorf("reason = %q", pe.Reason)
	}
}

func TestStructured_LogsSpanOnDecodeFailure(t *testing.T) {
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(old) })

	if _, err := Flashcards(context.Background(), replying("Sorry, I cannot help with that."), "x"); err == nil {
		t.Fatal("expected decode error")
	}
	if !strings.Contains(buf.String(), extract.ReasonNoStructure) {
		t.Errorf("log = %q, want the scan summary", buf.String())
	}

	buf.Reset()
	Flashcards(context.Background(), replying(`cards: [{"front": "ATP"`), "x")
	if !strings.Contains(buf.String(), "truncated span at 7") {
		t.Errorf("log = %q, want truncated span offset", buf.String())
	}
}

func TestQuestions_Validates(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr bool
	}{
		{
			name:  "valid",
			reply: `[{"stem":"Which?","options":["a","b","c","d"],"correct_option":2,"explanation":"c"}]`,
		},
		{
			name:    "three options",
			reply:   `[{"stem":"Which?","options":["a","b","c"],"correct_option":0}]`,
			wantErr: true,
		},
		{
			name:    "correct option out of range",
			reply:   `[{"stem":"Which?","options":["a","b","c","d"],"correct_option":4}]`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := Questions(context.Background(), replying(tt.reply), "x")
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArtifact) {
					t.Errorf("err = %v, want ErrInvalidArtifact", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Questions: %v", err)
			}
			if len(qs) != 1 || qs[0].CorrectOption != 2 {
				t.Errorf("questions = %+v", qs)
			}
		})
	}
}
