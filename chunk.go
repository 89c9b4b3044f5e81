package mangarag

import "strings"

// Chunker splits text into chunks suitable for embedding.
type Chunker interface {
	Chunk(text string) []string
}

// WindowChunker splits text into fixed-size windows of Size runes that
// overlap by Overlap runes. Windows are rune-based so a boundary never
// splits a UTF-8 sequence. The final chunk may be shorter than Size.
type WindowChunker struct {
	Size    int
	Overlap int
}

var _ Chunker = WindowChunker{}

// DefaultChunker matches the scraper's production window: 1200 runes per
// chunk with a 150-rune overlap.
func DefaultChunker() WindowChunker {
	return WindowChunker{Size: 1200, Overlap: 150}
}

// Chunk emits windows left to right: text[i:i+Size], advancing by
// max(1, Size-Overlap). Whitespace-only text yields nil; no emitted
// chunk is ever empty.
func (wc WindowChunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	step := wc.Size - wc.Overlap
	if step < 1 {
		step = 1
	}

	var out []string
	for i := 0; i < n; i += step {
		end := i + wc.Size
		if end > n {
			end = n
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}
