package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/tutorcore/internal/storage"
)

// Store persists review history.
type Store interface {
	MostRecentReview(ctx context.Context, flashcardID, userID string) (storage.ReviewRecord, error)
	AppendReview(ctx context.Context, r storage.ReviewRecord) error
	DueReviews(ctx context.Context, userID string, now time.Time, limit int) ([]storage.ReviewRecord, error)
}

// DefaultDueLimit caps Due when no limit is given.
const DefaultDueLimit = 50

// Service validates ratings, schedules the next review and appends it to the
// history.
//
// Submit reads the latest record and then appends a new one without a
// transaction. Two concurrent ratings of the same card by the same user can
// both build on the same previous state; cards are rated by one user at a
// time, so this is accepted.
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a Service over store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now, logger: slog.Default()}
}

// Submit records a rating for a flashcard and returns the new record.
func (s *Service) Submit(ctx context.Context, flashcardID, userID string, q Quality) (storage.ReviewRecord, error) {
	if strings.TrimSpace(flashcardID) == "" || strings.TrimSpace(userID) == "" {
		return storage.ReviewRecord{}, ErrMissingID
	}
	if err := q.Validate(); err != nil {
		return storage.ReviewRecord{}, err
	}

	var prev *State
	last, err := s.store.MostRecentReview(ctx, flashcardID, userID)
	switch {
	case err == nil:
		prev = &State{Interval: last.Interval, EaseFactor: last.EaseFactor}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return storage.ReviewRecord{}, fmt.Errorf("loading previous review: %w", err)
	}

	now := s.now()
	next := Next(prev, q, now)
	rec := storage.ReviewRecord{
		ID:          uuid.New().String(),
		FlashcardID: flashcardID,
		UserID:      userID,
		Quality:     int(q),
		Interval:    next.Interval,
		EaseFactor:  next.EaseFactor,
		DueDate:     next.DueDate,
		ReviewedAt:  now,
	}
	if err := s.store.AppendReview(ctx, rec); err != nil {
		return storage.ReviewRecord{}, fmt.Errorf("saving review: %w", err)
	}

	s.logger.Debug("review recorded",
		"flashcard_id", flashcardID,
		"user_id", userID,
		"quality", int(q),
		"interval", next.Interval,
		"ease", next.EaseFactor,
	)
	return rec, nil
}

// Due lists the latest record of every card the user has reviewed whose due
// date is at or before now, oldest due first.
func (s *Service) Due(ctx context.Context, userID string, now time.Time, limit int) ([]storage.ReviewRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingID
	}
	if limit <= 0 {
		limit = DefaultDueLimit
	}
	records, err := s.store.DueReviews(ctx, userID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("listing due reviews: %w", err)
	}
	return records, nil
}
