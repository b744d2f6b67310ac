package matcher

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/EchoCog/katocore/internal/types"
)

// alignment is the outcome of aligning one pattern's events against
// the STM (spec §4.4): the pattern partitioned into past/present/future
// around its best-matching contiguous span, plus that span's
// similarity to the STM.
type alignment struct {
	past       types.Sequence
	present    types.Sequence
	future     types.Sequence
	similarity float64
}

// align finds the best contiguous span of pattern that matches stm
// (spec §4.4 "find the best contiguous alignment... present must be
// non-empty; past and future may be empty"). Among all contiguous
// pattern spans, align picks the one with the highest similarity to
// the full STM under the configured mode, so "future" is whatever of
// the pattern remains after the span that best explains what's been
// observed — the prediction.
//
// O(n^2) candidate spans per pattern is acceptable for a reference
// implementation operating on already-filtered candidate sets.
func align(stm, pattern types.Sequence, useTokenMatching bool) alignment {
	n := len(pattern)
	if n == 0 {
		return alignment{}
	}

	stmJoined := joinSequence(stm)
	stmFlat := flatten(stm)

	best := alignment{present: pattern[:1], future: pattern[1:], similarity: -1}
	for start := 0; start < n; start++ {
		for end := start + 1; end <= n; end++ {
			window := pattern[start:end]
			var sim float64
			if useTokenMatching {
				sim = tokenSimilarity(stmFlat, flatten(window))
			} else {
				sim = charSimilarity(stmJoined, joinSequence(window))
			}
			if sim > best.similarity {
				best = alignment{
					past:       pattern[:start],
					present:    window,
					future:     pattern[end:],
					similarity: sim,
				}
			}
		}
	}
	return best
}

// joinSequence renders a sequence as one string for character-level
// comparison: each event's joined symbols, separated so events never
// bleed into each other (spec §4.4 "treat each event as the joined
// string of its symbols... across the concatenated aligned events").
func joinSequence(seq types.Sequence) string {
	parts := make([]string, len(seq))
	for i, ev := range seq {
		parts[i] = ev.Joined()
	}
	return strings.Join(parts, "\x1f")
}

// flatten collects every symbol occurrence across a sequence's events,
// preserving duplicates across events for multiset comparison.
func flatten(seq types.Sequence) []string {
	var out []string
	for _, ev := range seq {
		out = append(out, ev...)
	}
	return out
}

// charSimilarity is normalized Levenshtein similarity via
// github.com/agnivade/levenshtein, the default (fast) mode (spec §4.4).
func charSimilarity(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// tokenSimilarity is a multiset-ratio similarity over flattened symbol
// lists, equivalent to a standard sequence-matcher ratio over token
// lists (spec §4.4 token-level mode): 2*matches / (len(a)+len(b)).
func tokenSimilarity(a, b []string) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}
	counts := make(map[string]int, len(a))
	for _, s := range a {
		counts[s]++
	}
	matches := 0
	for _, s := range b {
		if counts[s] > 0 {
			counts[s]--
			matches++
		}
	}
	return 2 * float64(matches) / float64(total)
}
