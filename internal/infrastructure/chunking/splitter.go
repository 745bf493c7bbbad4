// Package chunking cuts extracted document text into overlapping passages
// small enough to rank and pack into a prompt.
package chunking

import (
	"strings"
	"unicode"
)

const (
	defaultPassageSize = 1200
	// Breaks are looked for in the trailing part of a window only, so that
	// passages stay close to the requested size.
	breakSearchDivisor = 4
)

type Splitter struct {
	PassageSize int
	Overlap     int
}

func NewSplitter(passageSize, overlap int) *Splitter {
	if passageSize <= 0 {
		passageSize = defaultPassageSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= passageSize {
		overlap = passageSize / 4
	}
	return &Splitter{
		PassageSize: passageSize,
		Overlap:     overlap,
	}
}

// Split returns passages of at most PassageSize runes in document order.
// A window ends at the last paragraph break or whitespace inside its tail
// when there is one; consecutive passages share up to Overlap runes.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	out := make([]string, 0, len(runes)/s.PassageSize+1)
	for start := 0; start < len(runes); {
		end := start + s.PassageSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakBefore(runes, start, end)
		}

		if passage := strings.TrimSpace(string(runes[start:end])); passage != "" {
			out = append(out, passage)
		}
		if end == len(runes) {
			break
		}

		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// breakBefore moves end back to a paragraph break, or failing that to a
// whitespace rune, found in the last quarter of runes[start:end].
func breakBefore(runes []rune, start, end int) int {
	floor := end - (end-start)/breakSearchDivisor
	if floor <= start {
		return end
	}
	for i := end - 1; i > floor; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i >= floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}
