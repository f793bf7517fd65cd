package chunk

import (
	"fmt"
	"strings"

	"litsearch/internal/models"
)

// Positions splits text into overlapping inclusive spans of at most maxChars
// runes, preferring to end each chunk at a paragraph break or sentence-ending
// punctuation. Spans are rune offsets into the original text.
func Positions(text string, maxChars, overlapChars int) ([]models.ChunkPosition, error) {
	return PositionsWithFloor(text, maxChars, overlapChars, maxChars/4)
}

// PositionsWithFloor is Positions with an explicit minimum chunk size. A
// boundary that would produce a chunk shorter than minChunk is ignored in
// favor of the raw maxChars cut.
func PositionsWithFloor(text string, maxChars, overlapChars, minChunk int) ([]models.ChunkPosition, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", maxChars)
	}
	if overlapChars <= 0 || overlapChars >= maxChars {
		return nil, fmt.Errorf("overlap must satisfy 0 < overlap < chunk size, got overlap=%d size=%d", overlapChars, maxChars)
	}
	if strings.TrimSpace(text) == "" {
		return []models.ChunkPosition{}, nil
	}
	// A chunk no longer than the overlap would let the next start slide
	// backwards, so the floor always exceeds the overlap.
	if minChunk <= overlapChars {
		minChunk = overlapChars + 1
	}

	runes := []rune(text)
	n := len(runes)
	if n <= maxChars {
		return []models.ChunkPosition{{ChunkNo: 0, StartPos: 0, EndPos: n - 1}}, nil
	}

	out := make([]models.ChunkPosition, 0, n/(maxChars-overlapChars)+1)
	start := 0
	for {
		end := start + maxChars - 1
		if end >= n-1 {
			out = append(out, models.ChunkPosition{ChunkNo: len(out), StartPos: start, EndPos: n - 1})
			return out, nil
		}
		if b, ok := boundaryBefore(runes, start, end, minChunk); ok {
			end = b
		}
		out = append(out, models.ChunkPosition{ChunkNo: len(out), StartPos: start, EndPos: end})

		next := end + 1 - overlapChars
		if next <= start {
			// The floor guarantees forward progress; reaching here means the
			// invariant broke on pathological input.
			return nil, fmt.Errorf("chunker made no progress at offset %d (end=%d overlap=%d)", start, end, overlapChars)
		}
		start = next
	}
}

// boundaryBefore looks backwards from end for a good cut point: a paragraph
// break first, then sentence-ending punctuation. Returns the inclusive end
// position of the chunk and whether one was found that keeps the chunk at
// least minChunk runes long.
func boundaryBefore(runes []rune, start, end, minChunk int) (int, bool) {
	floor := start + minChunk - 1

	// Paragraph break: chunk ends on the last rune before the blank line.
	for i := end; i > floor; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			if i-2 >= floor {
				return i - 2, true
			}
			break
		}
	}

	for i := end; i >= floor; i-- {
		switch runes[i] {
		case '.', '!', '?':
			return i, true
		}
	}
	return 0, false
}

// Extract returns the text of a span. The same text the positions were
// computed from must be supplied.
func Extract(text string, pos models.ChunkPosition) string {
	runes := []rune(text)
	if pos.StartPos < 0 || pos.EndPos >= len(runes) || pos.StartPos > pos.EndPos {
		return ""
	}
	return string(runes[pos.StartPos : pos.EndPos+1])
}
