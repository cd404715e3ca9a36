package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const reviewColumns = `id, flashcard_id, user_id, quality, interval, ease_factor, due_date, reviewed_at`

// AppendReview inserts a new review record. Existing records are never updated.
func (s *Store) AppendReview(ctx context.Context, r ReviewRecord) error {
	reviewedAt := r.ReviewedAt
	if reviewedAt.IsZero() {
		reviewedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flashcard_reviews (`+reviewColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FlashcardID, r.UserID, r.Quality, r.Interval, r.EaseFactor,
		formatTime(r.DueDate), formatTime(reviewedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting review %s: %w", r.ID, err)
	}
	return nil
}

// MostRecentReview returns the latest review of a flashcard by a user, or
// ErrNotFound if the card has never been reviewed by that user.
func (s *Store) MostRecentReview(ctx context.Context, flashcardID, userID string) (ReviewRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reviewColumns+`
		FROM flashcard_reviews
		WHERE flashcard_id = ? AND user_id = ?
		ORDER BY reviewed_at DESC, seq DESC
		LIMIT 1`, flashcardID, userID)

	r, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ReviewRecord{}, ErrNotFound
	}
	if err != nil {
		return ReviewRecord{}, err
	}
	return r, nil
}

// DueReviews returns, for each flashcard the user has reviewed, the latest
// record whose due date is at or before now. Ordered by due date ascending.
func (s *Store) DueReviews(ctx context.Context, userID string, now time.Time, limit int) ([]ReviewRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reviewColumns+` FROM (
			SELECT `+reviewColumns+`,
				ROW_NUMBER() OVER (PARTITION BY flashcard_id ORDER BY reviewed_at DESC, seq DESC) AS rn
			FROM flashcard_reviews
			WHERE user_id = ?
		)
		WHERE rn = 1 AND due_date <= ?
		ORDER BY due_date ASC
		LIMIT ?`, userID, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("querying due reviews: %w", err)
	}
	defer rows.Close()

	var records []ReviewRecord
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (ReviewRecord, error) {
	var r ReviewRecord
	var dueDate, reviewedAt string
	if err := row.Scan(&r.ID, &r.FlashcardID, &r.UserID, &r.Quality, &r.Interval, &r.EaseFactor, &dueDate, &reviewedAt); err != nil {
		return ReviewRecord{}, err
	}
	var err error
	if r.DueDate, err = time.Parse(time.RFC3339, dueDate); err != nil {
		return ReviewRecord{}, fmt.Errorf("parsing due_date for review %s: %w", r.ID, err)
	}
	if r.ReviewedAt, err = time.Parse(time.RFC3339, reviewedAt); err != nil {
		return ReviewRecord{}, fmt.Errorf("parsing reviewed_at for review %s: %w", r.ID, err)
	}
	return r, nil
}

// formatTime stores timestamps as UTC RFC3339 so string comparison in SQL
// matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
