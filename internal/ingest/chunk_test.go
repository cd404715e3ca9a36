package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunk_PacksParagraphs(t *testing.T) {
	text := "First paragraph\nwraps here.\n\nSecond   paragraph.\n\n\n\nThird."
	got := Chunk(text, 1200)
	want := "First paragraph wraps here.\n\nSecond paragraph.\n\nThird."
	if len(got) != 1 || got[0] != want {
		t.Errorf("Chunk = %q, want [%q]", got, want)
	}
}

func TestChunk_SplitsAtParagraphBoundary(t *testing.T) {
	a := strings.Repeat("a", 30)
	b := strings.Repeat("b", 30)
	got := Chunk(a+"\n\n"+b, 50)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("Chunk = %q", got)
	}
}

func TestChunk_LongParagraphSplitsAtSentence(t *testing.T) {
	s1 := "The heart has four chambers and two of them are atria."
	s2 := "The ventricles pump blood into the great arteries."
	got := Chunk(s1+" "+s2, 70)
	if len(got) != 2 || got[0] != s1 || got[1] != s2 {
		t.Errorf("Chunk = %q", got)
	}
}

func TestChunk_NoChunkExceedsSize(t *testing.T) {
	word := "électrolyte "
	text := strings.Repeat(word, 500)
	for _, c := range Chunk(text, 100) {
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Fatalf("chunk has %d runes, want <= 100", n)
		}
		if strings.HasPrefix(c, " ") || strings.HasSuffix(c, " ") {
			t.Errorf("chunk not trimmed: %q", c)
		}
	}
}

func TestChunk_HardCutWithoutSpaces(t *testing.T) {
	got := Chunk(strings.Repeat("x", 250), 100)
	if len(got) != 3 || len(got[0]) != 100 || len(got[2]) != 50 {
		t.Errorf("lengths = %d chunks", len(got))
	}
}

func TestChunk_Empty(t *testing.T) {
	if got := Chunk(" \n\n \t\n", 100); len(got) != 0 {
		t.Errorf("Chunk(blank) = %q, want none", got)
	}
}
