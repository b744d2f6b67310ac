package types

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/emirpasic/gods/v2/queues/circularbuffer"
)

// PatternIDPrefix is prepended to the hex SHA-1 digest of a pattern's
// canonical event sequence (spec §3, §8).
const PatternIDPrefix = "PTRN|"

// VectorSymbolPrefix is prepended to the hex digest of a named vector
// (spec §3).
const VectorSymbolPrefix = "VCTR|"

// CanonicalSerialize produces the stable byte serialization a pattern's
// content address is computed over: one line per event, symbols joined
// by a separator that cannot appear inside a symbol's own JSON
// encoding, so two distinct sequences never collide on serialization.
func CanonicalSerialize(seq Sequence) []byte {
	var b strings.Builder
	for _, ev := range seq {
		enc, _ := json.Marshal([]string(ev))
		b.Write(enc)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// PatternID computes the content address of a sequence: spec §3/§8
// "PTRN|" + hex(SHA-1(canonical-serialization-of-events)).
func PatternID(seq Sequence) string {
	sum := sha1.Sum(CanonicalSerialize(seq))
	return PatternIDPrefix + hex.EncodeToString(sum[:])
}

// EmotiveSet maps an emotive name to a scalar value (spec §3).
type EmotiveSet map[string]float64

// EmotiveHistory is the bounded ring of the N most recent values
// contributed for one emotive key across re-learns of a pattern
// (spec §3: bound N = persistence, default 5). Index 0 is oldest.
type EmotiveHistory []float64

// Pattern is a learned, immutable (as to identity) sequence of events
// (spec §3).
type Pattern struct {
	KBID             string
	ID               string
	Events           Sequence
	Length           int
	Frequency        int
	EmotiveHistories map[string]EmotiveHistory
}

// Latest returns the most recent value recorded for each emotive key.
func (p *Pattern) Latest() EmotiveSet {
	if len(p.EmotiveHistories) == 0 {
		return nil
	}
	out := make(EmotiveSet, len(p.EmotiveHistories))
	for k, hist := range p.EmotiveHistories {
		if len(hist) == 0 {
			continue
		}
		out[k] = hist[len(hist)-1]
	}
	return out
}

// NewPattern builds the immutable row for a freshly learned sequence.
func NewPattern(kbID string, seq Sequence, emotives EmotiveSet, persistence int) *Pattern {
	p := &Pattern{
		KBID:             kbID,
		ID:               PatternID(seq),
		Events:           seq,
		Length:           len(seq),
		Frequency:        1,
		EmotiveHistories: make(map[string]EmotiveHistory),
	}
	for k, v := range emotives {
		p.EmotiveHistories[k] = AppendRing(nil, v, persistence)
	}
	return p
}

// AppendRing appends v to hist, evicting the oldest entry once the ring
// would exceed capacity (spec §3: bounded ring of N most recent
// values). The eviction itself is delegated to
// github.com/emirpasic/gods/v2/queues/circularbuffer (a teacher
// dependency) rather than hand-rolled slice trimming: replaying hist
// through a fresh circular buffer of the target capacity produces
// exactly the bounded, oldest-first tail spec §3 requires. Exported so
// internal/pattern can apply the identical rule to rings it persists
// independently of a live Pattern value.
func AppendRing(hist EmotiveHistory, v float64, capacity int) EmotiveHistory {
	if capacity <= 0 {
		out := make(EmotiveHistory, 0, len(hist)+1)
		out = append(out, hist...)
		return append(out, v)
	}
	q := circularbuffer.New[float64](capacity)
	for _, x := range hist {
		q.Enqueue(x)
	}
	q.Enqueue(v)
	return EmotiveHistory(q.Values())
}

// Relearn increments frequency and appends each emotive value to its
// ring, evicting the oldest entry past persistence (spec §4.2).
func (p *Pattern) Relearn(emotives EmotiveSet, persistence int) {
	p.Frequency++
	if p.EmotiveHistories == nil {
		p.EmotiveHistories = make(map[string]EmotiveHistory)
	}
	for k, v := range emotives {
		p.EmotiveHistories[k] = AppendRing(p.EmotiveHistories[k], v, persistence)
	}
}
