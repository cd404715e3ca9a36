package ingest

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the target fragment length in characters.
const DefaultChunkSize = 1200

// Chunk splits text into fragments of at most size characters. Paragraphs
// (separated by blank lines) are packed together while they fit; a paragraph
// longer than size is split at sentence ends, then at spaces. Whitespace
// inside a paragraph is collapsed.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, para := range paragraphs(text) {
		for _, piece := range splitLong(para, size) {
			n := utf8.RuneCountInString(piece)
			if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+2+n > size {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(piece)
		}
	}
	flush()
	return chunks
}

// paragraphs returns the non-empty blank-line-separated blocks of text with
// internal whitespace collapsed to single spaces.
func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	var lines []string
	emit := func() {
		if p := strings.Join(strings.Fields(strings.Join(lines, " ")), " "); p != "" {
			out = append(out, p)
		}
		lines = lines[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			emit()
			continue
		}
		lines = append(lines, line)
	}
	emit()
	return out
}

// splitLong breaks a paragraph into pieces of at most size characters.
func splitLong(para string, size int) []string {
	var out []string
	for utf8.RuneCountInString(para) > size {
		cut := cutPoint(para, size)
		out = append(out, strings.TrimSpace(para[:cut]))
		para = strings.TrimSpace(para[cut:])
	}
	if para != "" {
		out = append(out, para)
	}
	return out
}

// cutPoint returns a byte offset no further than size runes into s, preferring
// the end of a sentence, then a space, then a hard cut.
func cutPoint(s string, size int) int {
	limit := len(s)
	runes := 0
	for i := range s {
		if runes == size {
			limit = i
			break
		}
		runes++
	}
	window := s[:limit]

	if i := lastSentenceEnd(window); i > len(window)/2 {
		return i
	}
	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return i
	}
	return limit
}

func lastSentenceEnd(s string) int {
	best := -1
	for _, sep := range []string{". ", "? ", "! "} {
		if i := strings.LastIndex(s, sep); i >= 0 && i+1 > best {
			best = i + 1
		}
	}
	return best
}
