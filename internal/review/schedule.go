// Package review computes spaced-repetition schedules for flashcards and
// records each rating as an append-only review history.
package review

import (
	"fmt"
	"math"
	"time"
)

// Quality is a recall rating from 0 (no recall) to 4 (effortless).
type Quality int

const (
	MinQuality Quality = 0
	MaxQuality Quality = 4

	// passQuality is the lowest rating that does not reset the interval.
	passQuality Quality = 3
)

// Valid reports whether q is within 0..4.
func (q Quality) Valid() bool {
	return q >= MinQuality && q <= MaxQuality
}

// Validate returns ErrInvalidQuality wrapped with the offending value.
func (q Quality) Validate() error {
	if !q.Valid() {
		return fmt.Errorf("%w: got %d", ErrInvalidQuality, int(q))
	}
	return nil
}

const (
	// InitialEase is the ease factor of a card's first review.
	InitialEase = 2.5
	// MinEase is the floor for the ease factor.
	MinEase = 1.3
	// easyBonus multiplies the interval growth for a rating of 4.
	easyBonus = 1.3
)

// State is the part of a card's latest review that the next schedule
// depends on.
type State struct {
	Interval   int     // days
	EaseFactor float64
}

// Schedule is the outcome of rating a card.
type Schedule struct {
	Interval   int       `json:"interval"`
	EaseFactor float64   `json:"ease_factor"`
	DueDate    time.Time `json:"due_date"`
}

// Next computes the schedule after rating a card with quality q at now.
// prev is nil for a card that has never been reviewed. q must be valid.
//
// A first review always starts at 1 day with ease 2.5. Afterwards the ease
// moves by 0.1 - (4-q)(0.08 + (4-q)0.02), floored at 1.3. A rating below 3
// resets the interval to 1 day; 3 multiplies it by the new ease; 4 also
// applies a 1.3 bonus. Intervals are rounded to whole days, never below 1,
// and the due date is that many calendar days after now.
func Next(prev *State, q Quality, now time.Time) Schedule {
	interval := 1.0
	ease := InitialEase

	if prev != nil {
		miss := float64(MaxQuality - q)
		ease = math.Max(MinEase, prev.EaseFactor+(0.1-miss*(0.08+miss*0.02)))

		switch {
		case q < passQuality:
			interval = 1
		case q == passQuality:
			interval = float64(prev.Interval) * ease
		default:
			interval = float64(prev.Interval) * ease * easyBonus
		}
	}

	days := int(math.Round(interval))
	if days < 1 {
		days = 1
	}
	return Schedule{
		Interval:   days,
		EaseFactor: ease,
		DueDate:    now.AddDate(0, 0, days),
	}
}
