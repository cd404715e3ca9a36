package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ReviewRecord is one rating of a flashcard by a user together with the
// schedule computed from it. Records are append-only; the latest record for a
// (FlashcardID, UserID) pair is the card's current state.
type ReviewRecord struct {
	ID          string    `json:"id"`
	FlashcardID string    `json:"flashcard_id"`
	UserID      string    `json:"user_id"`
	Quality     int       `json:"quality"`
	Interval    int       `json:"interval"` // days
	EaseFactor  float64   `json:"ease_factor"`
	DueDate     time.Time `json:"due_date"`
	ReviewedAt  time.Time `json:"reviewed_at"`
}
