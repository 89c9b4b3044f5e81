package mangarag

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkEmpty(t *testing.T) {
	wc := DefaultChunker()
	if got := wc.Chunk(""); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if got := wc.Chunk("   \n\t "); got != nil {
		t.Errorf("expected nil for whitespace, got %v", got)
	}
}

func TestChunkShort(t *testing.T) {
	wc := DefaultChunker()
	got := wc.Chunk("petit résumé")
	if len(got) != 1 || got[0] != "petit résumé" {
		t.Errorf("expected single chunk, got %v", got)
	}
}

func TestChunkTwoWindows(t *testing.T) {
	// 1300 chars with size 1200 / overlap 150: step is 1050, so exactly
	// two chunks: [0:1200] and [1050:1300].
	wc := WindowChunker{Size: 1200, Overlap: 150}
	text := strings.Repeat("a", 1300)
	got := wc.Chunk(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if len(got[0]) != 1200 {
		t.Errorf("first chunk length = %d, want 1200", len(got[0]))
	}
	if len(got[1]) != 250 {
		t.Errorf("final chunk length = %d, want 250", len(got[1]))
	}
}

func TestChunkOverlapExact(t *testing.T) {
	wc := WindowChunker{Size: 10, Overlap: 3}
	text := "abcdefghijklmnopqrstuvwxyz"
	chunks := wc.Chunk(text)
	for i := 0; i+1 < len(chunks); i++ {
		cur, next := chunks[i], chunks[i+1]
		overlap := 3
		if len(next) < overlap {
			overlap = len(next)
		}
		if cur[len(cur)-overlap:] != next[:overlap] {
			t.Errorf("chunks %d/%d do not overlap by %d: %q %q", i, i+1, overlap, cur, next)
		}
	}
}

func TestChunkCoversWholeText(t *testing.T) {
	wc := WindowChunker{Size: 7, Overlap: 2}
	text := "the quick brown fox jumps over the lazy dog"
	chunks := wc.Chunk(text)
	step := wc.Size - wc.Overlap

	var rebuilt strings.Builder
	for i, c := range chunks {
		if i == len(chunks)-1 {
			rebuilt.WriteString(c)
		} else {
			rebuilt.WriteString(c[:step])
		}
	}
	if rebuilt.String() != text {
		t.Errorf("chunks do not cover text: %q", rebuilt.String())
	}
	for _, c := range chunks {
		if c == "" {
			t.Error("empty chunk emitted")
		}
	}
}

func TestChunkDegenerateStep(t *testing.T) {
	// Overlap >= Size degrades to step 1 rather than looping forever.
	wc := WindowChunker{Size: 3, Overlap: 5}
	got := wc.Chunk("abcd")
	if len(got) != 4 {
		t.Fatalf("expected 4 chunks with step 1, got %d", len(got))
	}
}

func TestChunkRuneSafety(t *testing.T) {
	wc := WindowChunker{Size: 4, Overlap: 1}
	chunks := wc.Chunk("héroïnes élues")
	for _, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %q is not valid UTF-8", c)
		}
	}
}
