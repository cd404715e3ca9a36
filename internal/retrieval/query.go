package retrieval

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// maxLexicalTerms caps how many query tokens reach the full-text index.
	maxLexicalTerms = 5

	// minTermLength is the shortest token kept; shorter ones are mostly
	// stop words ("the", "and", "of").
	minTermLength = 4

	// DefaultFallbackTerm is searched when the query yields no usable tokens.
	DefaultFallbackTerm = "medical"

	// DefaultDepth is the retrieval depth used for unknown response styles.
	DefaultDepth = 15
)

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)

// lexicalTerms lowercases the query, replaces non-word characters with
// spaces and returns the first maxLexicalTerms tokens of at least
// minTermLength characters.
func lexicalTerms(query string) []string {
	clean := nonWord.ReplaceAllString(strings.ToLower(query), " ")

	var terms []string
	for _, tok := range strings.Fields(clean) {
		if utf8.RuneCountInString(tok) < minTermLength {
			continue
		}
		terms = append(terms, tok)
		if len(terms) == maxLexicalTerms {
			break
		}
	}
	return terms
}

// lexicalExpression builds an FTS5 MATCH expression requiring every term.
// Terms are double-quoted so FTS5 operators in user input are inert.
func lexicalExpression(query, fallback string) string {
	terms := lexicalTerms(query)
	if len(terms) == 0 {
		if fallback == "" {
			fallback = DefaultFallbackTerm
		}
		terms = []string{strings.ToLower(fallback)}
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " AND ")
}

var styleDepths = map[string]int{
	"brief":              5,
	"concise":            5,
	"standard":           15,
	"mnemonic":           15,
	"comprehensive":      25,
	"ultra":              40,
	"ultracomprehensive": 40,
}

// DepthForStyle maps a response style to the number of fragments retrieved
// for it. Unknown styles get DefaultDepth.
func DepthForStyle(style string) int {
	if d, ok := styleDepths[strings.ToLower(strings.TrimSpace(style))]; ok {
		return d
	}
	return DefaultDepth
}
