package usecase

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/docdesk/internal/core/ports"
)

const (
	// promptContentBudget is the number of content bytes placed into one
	// chat or comparison prompt, below the engine's own input limit.
	promptContentBudget = 20000
	passageSeparator    = "\n[...]\n"
)

type scoredPassage struct {
	index int
	score float64
}

// fitContent returns content unchanged when it fits budget. Otherwise it keeps
// the passages sharing the most words with focus, restored to document order.
// With an empty focus the leading passages win.
func fitContent(content, focus string, budget int, chunker ports.TextChunker) string {
	if len(content) <= budget {
		return content
	}
	if chunker == nil {
		return truncateUTF8(content, budget)
	}
	passages := chunker.Split(content)
	if len(passages) == 0 {
		return truncateUTF8(content, budget)
	}

	focusTokens := toTokenSet(focus)
	ranked := make([]scoredPassage, 0, len(passages))
	for i, passage := range passages {
		ranked = append(ranked, scoredPassage{index: i, score: tokenOverlap(focusTokens, toTokenSet(passage))})
	}
	slices.SortStableFunc(ranked, func(a, b scoredPassage) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})

	picked := make([]int, 0, len(ranked))
	used := 0
	for _, candidate := range ranked {
		cost := len(passages[candidate.index])
		if len(picked) > 0 {
			cost += len(passageSeparator)
		}
		if used+cost > budget {
			continue
		}
		picked = append(picked, candidate.index)
		used += cost
	}
	if len(picked) == 0 {
		return truncateUTF8(passages[ranked[0].index], budget)
	}

	slices.Sort(picked)
	parts := make([]string, 0, len(picked))
	for _, i := range picked {
		parts = append(parts, passages[i])
	}
	return strings.Join(parts, passageSeparator)
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// tokenOverlap is the share of query tokens present in the passage.
func tokenOverlap(query, passage map[string]struct{}) float64 {
	if len(query) == 0 || len(passage) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := passage[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitWordsLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

// splitWordsLower splits on anything that is not a letter or digit. Single
// characters are dropped as noise.
func splitWordsLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	flush := func() {
		if utf8.RuneCountInString(b.String()) > 1 {
			tokens = append(tokens, b.String())
		}
		b.Reset()
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return tokens
}
