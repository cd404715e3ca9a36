package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParseError reports model output that could not be turned into JSON.
type ParseError struct {
	// Reason is the decode error of the first attempt, or ReasonNoStructure.
	Reason string
	// Snippet is the cleaned candidate text, for diagnostics.
	Snippet string
	// Truncated is set when the candidate came from an unbalanced container.
	Truncated bool
}

func (e *ParseError) Error() string {
	if e.Truncated {
		return "parsing structured output (truncated): " + e.Reason
	}
	return "parsing structured output: " + e.Reason
}

// Parse extracts the first JSON array or object from text and decodes it
// into generic values (map[string]any, []any, float64, string, bool, nil).
// Failures are returned as *ParseError.
func Parse(text string) (any, error) {
	var v any
	if err := Unmarshal(text, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Unmarshal extracts the first JSON array or object from text and decodes it
// into v. After code fences and trailing commas are removed, decoding is
// attempted as-is and then once more with bare object keys quoted.
func Unmarshal(text string, v any) error {
	span := Scan(text)
	if span.Outcome == Malformed {
		return &ParseError{Reason: span.Reason}
	}

	cleaned := clean(span.Text)
	firstErr := json.Unmarshal([]byte(cleaned), v)
	if firstErr == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(quoteBareKeys(cleaned)), v); err == nil {
		return nil
	}
	return &ParseError{
		Reason:    firstErr.Error(),
		Snippet:   cleaned,
		Truncated: span.Outcome == Truncated,
	}
}

// clean strips code-fence markers, trims whitespace and drops trailing
// commas before a closing bracket or brace.
func clean(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return removeTrailingCommas(strings.TrimSpace(s))
}

// removeTrailingCommas drops every comma outside a string literal whose next
// non-space character is ']' or '}'.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' && closesNext(s[i+1:]) {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func closesNext(s string) bool {
	t := strings.TrimLeft(s, " \t\r\n")
	return t != "" && (t[0] == ']' || t[0] == '}')
}

var bareKey = regexp.MustCompile(`([{,]\s*)([A-Za-z0-9_]+)\s*:`)

// quoteBareKeys rewrites {key: ...} and , key: ... as quoted keys.
func quoteBareKeys(s string) string {
	return bareKey.ReplaceAllString(s, `$1"$2":`)
}
