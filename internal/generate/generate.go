// Package generate turns free-text model output into typed study artifacts.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/tutorcore/internal/extract"
	"github.com/kalambet/tutorcore/internal/provider"
)

// ErrInvalidArtifact is returned when decoded output does not satisfy the
// artifact's shape, such as a question without four options.
var ErrInvalidArtifact = errors.New("invalid generated artifact")

// Flashcard is a single question/answer card.
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// OptionCount is the number of answer options on a multiple-choice question.
const OptionCount = 4

// Question is a multiple-choice question.
type Question struct {
	Stem          string   `json:"stem"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correct_option"`
	Explanation   string   `json:"explanation"`
}

// Validate checks the option count and that CorrectOption indexes into Options.
func (q Question) Validate() error {
	if len(q.Options) != OptionCount {
		return fmt.Errorf("%w: question has %d options, want %d", ErrInvalidArtifact, len(q.Options), OptionCount)
	}
	if q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
		return fmt.Errorf("%w: correct_option %d out of range", ErrInvalidArtifact, q.CorrectOption)
	}
	return nil
}

// StudyPlan is a daily study recommendation.
type StudyPlan struct {
	SuggestedTopics []string `json:"suggestedTopics"`
	PlanDescription string   `json:"planDescription"`
	QuestionsCount  int      `json:"questionsCount"`
	EstimatedTime   string   `json:"estimatedTime"`
}

// Structured asks gen for prompt and decodes the answer into T using the
// repairing extractor. Nothing is persisted.
func Structured[T any](ctx context.Context, gen provider.Generator, prompt string) (T, error) {
	var out T
	raw, err := gen.Generate(ctx, prompt)
	if err != nil {
		return out, fmt.Errorf("generating: %w", err)
	}
	if err := extract.Unmarshal(raw, &out); err != nil {
		slog.Warn("generated output not decodable", "span", extract.Scan(raw).Describe(), "error", err)
		return out, fmt.Errorf("decoding generated output: %w", err)
	}
	return out, nil
}

// Flashcards generates a JSON array of flashcards.
func Flashcards(ctx context.Context, gen provider.Generator, prompt string) ([]Flashcard, error) {
	return Structured[[]Flashcard](ctx, gen, prompt)
}

// Questions generates a JSON array of questions and validates each one.
func Questions(ctx context.Context, gen provider.Generator, prompt string) ([]Question, error) {
	qs, err := Structured[[]Question](ctx, gen, prompt)
	if err != nil {
		return nil, err
	}
	for i, q := range qs {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
	}
	return qs, nil
}

// Plan generates a study plan object.
func Plan(ctx context.Context, gen provider.Generator, prompt string) (StudyPlan, error) {
	return Structured[StudyPlan](ctx, gen, prompt)
}
