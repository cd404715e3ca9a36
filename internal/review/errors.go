package review

import "errors"

// Sentinel errors for the review package. Both are validation failures the
// caller should report as bad input. Use errors.Is to check.
var (
	ErrInvalidQuality = errors.New("review: quality must be between 0 and 4")
	ErrMissingID      = errors.New("review: flashcard and user ids are required")
)
