// Package types holds the data model shared across the engine: events,
// patterns, STM, and prediction records (spec §3).
package types

import (
	"sort"
	"strings"
)

// Symbol is a short opaque string identifier: either a user-supplied
// token or a vector symbol of the form "VCTR|<hex-digest>".
type Symbol = string

// Event is a canonical set of symbols observed together at one time
// step, stored as a lexicographically sorted sequence of unique
// symbols so two events with the same members always compare equal.
type Event []Symbol

// CanonicalizeEvent dedups and lexically sorts raw symbols into the
// canonical event form (spec §3, §8: canonicalize(e) == sort(unique(e))).
func CanonicalizeEvent(raw []string) Event {
	seen := make(map[string]struct{}, len(raw))
	out := make(Event, 0, len(raw))
	for _, s := range raw {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether two canonical events have identical members.
func (e Event) Equal(other Event) bool {
	if len(e) != len(other) {
		return false
	}
	for i := range e {
		if e[i] != other[i] {
			return false
		}
	}
	return true
}

// Joined returns the event's symbols concatenated into one string, used
// by the character-level similarity mode (spec §4.4).
func (e Event) Joined() string {
	return strings.Join(e, "")
}

// Sequence is an ordered list of canonical events: the shape shared by
// STM contents and pattern contents (spec §3).
type Sequence []Event

// Equal reports whether two sequences contain the same events in the
// same order.
func (s Sequence) Equal(other Sequence) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if !s[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Symbols returns the distinct symbols present anywhere in the sequence.
func (s Sequence) Symbols() []Symbol {
	seen := make(map[Symbol]struct{})
	var out []Symbol
	for _, ev := range s {
		for _, sym := range ev {
			if _, ok := seen[sym]; !ok {
				seen[sym] = struct{}{}
				out = append(out, sym)
			}
		}
	}
	return out
}
