package chunker

import (
	"strings"
	"testing"
)

func newWordSplitter(t *testing.T, max, overlap int) *Splitter {
	t.Helper()
	s, err := New(Options{MaxTokens: max, OverlapTokens: overlap})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Force the deterministic fallback codec so tests do not depend on
	// downloaded encoding data.
	s.codec = wordCodec{}
	return s
}

func TestSplitRejectsBadOverlap(t *testing.T) {
	if _, err := New(Options{MaxTokens: 10, OverlapTokens: 10}); err == nil {
		t.Fatalf("expected error for overlap == max")
	}
	if _, err := New(Options{MaxTokens: 10, OverlapTokens: -1}); err == nil {
		t.Fatalf("expected error for negative overlap")
	}
	if _, err := New(Options{MaxTokens: 0}); err == nil {
		t.Fatalf("expected error for zero max tokens")
	}
}

func TestSplitEmptyText(t *testing.T) {
	s := newWordSplitter(t, 10, 2)
	chunks, err := s.Split("   \n  ")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected zero chunks, got %d", len(chunks))
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	s := newWordSplitter(t, 50, 5)
	chunks, err := s.Split("Alice works at Acme. Bob works at Acme.")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	if chunks[0].Position != 1 {
		t.Fatalf("expected position 1, got %d", chunks[0].Position)
	}
	if chunks[0].CharStart != 0 {
		t.Fatalf("expected CharStart 0, got %d", chunks[0].CharStart)
	}
}

func TestSplitDeterministic(t *testing.T) {
	s := newWordSplitter(t, 8, 2)
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 40)
	a, err := s.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	b, err := s.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Text != b[i].Text || a[i].CharStart != b[i].CharStart {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitOverlapAndPositions(t *testing.T) {
	s := newWordSplitter(t, 4, 1)
	chunks, err := s.Split("one two three four five six seven eight nine ten")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for i, c := range chunks {
		if c.Position != i+1 {
			t.Fatalf("chunk %d has position %d", i, c.Position)
		}
		if c.Tokens > 4 {
			t.Fatalf("chunk %d exceeds max tokens: %d", i, c.Tokens)
		}
	}
	// Stride is 3 words, so chunk 2 must start on word 4 ("four").
	if !strings.HasPrefix(chunks[1].Text, "four") {
		t.Fatalf("unexpected second chunk start: %q", chunks[1].Text)
	}
	// Last window must reach the end of the text.
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(last.Text, "ten") {
		t.Fatalf("last chunk does not reach text end: %q", last.Text)
	}
}

func TestScrubRemovesQuotesAndNewlines(t *testing.T) {
	got := Scrub("say \"hi\"\nto 'them'")
	if strings.ContainsAny(got, "\"'\n") {
		t.Fatalf("scrub left forbidden characters: %q", got)
	}
}

func TestChunkIDsUniquePerPosition(t *testing.T) {
	s := newWordSplitter(t, 2, 0)
	chunks, err := s.Split("same same same same")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].ID == chunks[1].ID {
		t.Fatalf("identical text at different positions must not share chunk IDs")
	}
}
