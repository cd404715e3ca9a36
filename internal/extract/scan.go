// Package extract recovers a JSON array or object from free-form model
// output that may wrap it in prose or code fences, leave trailing commas,
// leave object keys unquoted or stop mid-structure.
package extract

import (
	"fmt"
	"strings"
)

// Outcome classifies what Scan found.
type Outcome int

const (
	// Malformed means the text has no opening bracket at all.
	Malformed Outcome = iota
	// Complete means a balanced array or object was found.
	Complete
	// Truncated means an opening bracket was found but never balanced. The
	// span is a best guess and parsing it is lower confidence.
	Truncated
)

func (o Outcome) String() string {
	switch o {
	case Complete:
		return "complete"
	case Truncated:
		return "truncated"
	default:
		return "malformed"
	}
}

// ReasonNoStructure is the Malformed reason for text with no brackets.
const ReasonNoStructure = "no structure found"

// Span is the result of scanning text for a JSON container.
type Span struct {
	Outcome Outcome
	// Text is the candidate JSON. Empty when Malformed.
	Text string
	// Start is the byte offset of the opening bracket, or -1.
	Start int
	// Reason explains a Malformed outcome.
	Reason string
}

// Scan locates the first JSON array or object in text. Whichever of '[' or
// '{' appears first fixes the container type; depth counts only that bracket
// pair. Brackets inside double-quoted strings are ignored and a backslash
// skips the character after it.
//
// When the container never closes, Scan falls back to the span from the
// opening bracket to the last closing bracket of the same type, or to the
// rest of the text if there is none.
func Scan(text string) Span {
	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return Span{Outcome: Malformed, Start: -1, Reason: ReasonNoStructure}
	}

	open, closing := byte('['), byte(']')
	if text[start] == '{' {
		open, closing = '{', '}'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return Span{Outcome: Complete, Text: text[start : i+1], Start: start}
			}
		}
	}

	rest := text[start:]
	if end := strings.LastIndexByte(rest, closing); end > 0 {
		rest = rest[:end+1]
	}
	return Span{Outcome: Truncated, Text: rest, Start: start}
}

// Describe is a short human-readable summary of a span, used in logs.
func (s Span) Describe() string {
	if s.Outcome == Malformed {
		return fmt.Sprintf("%s: %s", s.Outcome, s.Reason)
	}
	return fmt.Sprintf("%s span at %d (%d bytes)", s.Outcome, s.Start, len(s.Text))
}
