package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Chunk sizing targets. Blocks under ChunkSize are emitted unchanged;
// larger blocks are split on paragraph or sentence boundaries where
// possible, with ChunkOverlap characters of context carried between
// consecutive chunks.
const (
	ChunkSize    = 700
	ChunkOverlap = 120
)

// Chunk is one retrievable unit of text with its heading-path metadata.
type Chunk struct {
	Text     string
	Metadata map[string]string
}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// ChunkMarkdown splits refined Markdown into ordered chunks.
//
// Stage 1 splits on heading levels 1-6, keeping the heading lines in the
// emitted text and recording each ancestor heading under "Header <level>"
// keys. Stage 2 splits each heading-scoped block by size. Output order
// follows source order.
func ChunkMarkdown(text string) []Chunk {
	blocks := splitByHeadings(text)

	var chunks []Chunk
	for _, b := range blocks {
		for _, piece := range splitBySize(b.text, ChunkSize, ChunkOverlap) {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Text:     piece,
				Metadata: copyMetadata(b.metadata),
			})
		}
	}

	return chunks
}

type headingBlock struct {
	text     string
	metadata map[string]string
}

// splitByHeadings walks the text line by line, starting a new block at each
// heading and maintaining the ancestor heading path. A heading at level L
// clears all recorded headings deeper than L.
func splitByHeadings(text string) []headingBlock {
	lines := strings.Split(text, "\n")

	var blocks []headingBlock
	path := make(map[string]string)
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		blockText := strings.Join(current, "\n")
		if strings.TrimSpace(blockText) != "" {
			blocks = append(blocks, headingBlock{
				text:     blockText,
				metadata: copyMetadata(path),
			})
		}
		current = nil
	}

	for _, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()

			level := len(m[1])
			for l := level; l <= 6; l++ {
				delete(path, fmt.Sprintf("Header %d", l))
			}
			path[fmt.Sprintf("Header %d", level)] = strings.TrimSpace(m[2])
		}
		current = append(current, line)
	}
	flush()

	return blocks
}

// splitBySize cuts text into pieces of at most size characters, preferring
// paragraph breaks, then sentence ends, then single newlines, then spaces.
// Consecutive pieces share overlap characters; a block already within the
// target is returned unchanged. Sizes count runes, so multi-byte text is
// never cut mid-character.
func splitBySize(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var pieces []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			pieces = append(pieces, string(runes[start:]))
			break
		}

		cut := findSplitPoint(runes, start, end)
		pieces = append(pieces, string(runes[start:cut]))

		next := cut - overlap
		if next <= start {
			// Overlap would stall the scan; advance without it.
			next = cut
		}
		start = next
	}

	return pieces
}

// boundary patterns in preference order; each cut lands after the matched
// separator so no characters are lost between pieces.
var splitSeparators = []string{"\n\n", ". ", "! ", "? ", "\n", " "}

// findSplitPoint returns the best cut position in (start, end], measured
// in runes. The cut must keep at least half the target size to avoid
// degenerate slivers.
func findSplitPoint(runes []rune, start, end int) int {
	window := string(runes[start:end])
	minCut := (end - start) / 2

	for _, sep := range splitSeparators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		at := utf8.RuneCountInString(window[:idx])
		if at >= minCut {
			// Separators are ASCII: one byte per rune.
			return start + at + len(sep)
		}
	}

	return end
}

func copyMetadata(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
