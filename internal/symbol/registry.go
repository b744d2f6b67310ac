// Package symbol implements the symbol registry and vector namer
// (spec §4.1): canonicalizing tokens into events, naming dense vectors
// via content digest, and maintaining per-KB symbol statistics.
package symbol

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/EchoCog/katocore/internal/katoerr"
	"github.com/EchoCog/katocore/internal/katolog"
	"github.com/EchoCog/katocore/internal/storage"
	"github.com/EchoCog/katocore/internal/types"
)

var log = katolog.For("symbol")

// Registry interns tokens, names vectors, and tracks per-symbol
// frequency and pattern-member-frequency (spec §3, §4.1).
type Registry struct {
	kv      storage.KVStore
	vectors storage.VectorIndex
}

// New constructs a Registry backed by the given KV store and vector index.
func New(kv storage.KVStore, vectors storage.VectorIndex) *Registry {
	return &Registry{kv: kv, vectors: vectors}
}

func freqKey(kbID, symbol string) string {
	return fmt.Sprintf("%s:symbol:freq:%s", kbID, symbol)
}

func patternMemberKey(kbID, symbol string) string {
	return fmt.Sprintf("%s:symbol:patternfreq:%s", kbID, symbol)
}

// InternTokens dedups and sorts raw tokens into a canonical event,
// incrementing each unique token's observation frequency once per
// event (spec §4.1 intern_tokens).
func (r *Registry) InternTokens(ctx context.Context, kbID string, tokens []string) (types.Event, error) {
	ev := types.CanonicalizeEvent(tokens)
	for _, sym := range ev {
		if _, err := r.kv.Increment(ctx, freqKey(kbID, sym), 1); err != nil {
			return nil, katoerr.Wrap(katoerr.StorageUnavailable, sym, "failed to increment symbol frequency", err)
		}
	}
	return ev, nil
}

// nearDuplicateCosineDistance bounds how close an incoming vector must
// be to an already-stored one before name_vectors reuses that vector's
// symbol instead of minting a new digest (spec §4.1 responsibility:
// "translate incoming dense vectors to symbols via approximate
// nearest-neighbor lookup"). Kept tight enough that it only catches
// floating-point jitter from re-embedding the same input, not two
// genuinely distinct but similar vectors.
const nearDuplicateCosineDistance = 1e-6

// NameVectors assigns a stable "VCTR|<hex-digest>" symbol to each input
// vector and upserts it into the KB's vector collection, preserving
// input order. Bit-identical vectors always collapse onto the same
// digest-derived symbol; an approximate nearest-neighbor lookup against
// the KB's existing collection additionally collapses near-duplicates
// (within nearDuplicateCosineDistance) onto an existing symbol rather
// than minting a fresh one (spec §4.1 name_vectors).
func (r *Registry) NameVectors(ctx context.Context, kbID string, vectors [][]float64) ([]types.Symbol, error) {
	out := make([]types.Symbol, 0, len(vectors))
	for _, vec := range vectors {
		if len(vec) != storage.VectorDim {
			return nil, katoerr.New(katoerr.InvalidVectorDim, fmt.Sprintf("len=%d", len(vec)), "vector must have exactly 768 components")
		}
		sym, err := r.symbolFor(ctx, kbID, vec)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

// symbolFor resolves vec to the symbol name_vectors should return: an
// existing near-duplicate's symbol if the ANN lookup finds one close
// enough, otherwise a freshly minted digest symbol upserted into the
// index.
func (r *Registry) symbolFor(ctx context.Context, kbID string, vec []float64) (types.Symbol, error) {
	existing, dist, found, err := r.vectors.Nearest(ctx, kbID, vec)
	if err != nil {
		return "", katoerr.Wrap(katoerr.StorageUnavailable, kbID, "failed to query vector index", err)
	}
	if found && dist <= nearDuplicateCosineDistance {
		return types.Symbol(existing), nil
	}

	sym := types.VectorSymbolPrefix + digest(vec)
	if err := r.vectors.Upsert(ctx, kbID, sym, vec); err != nil {
		return "", katoerr.Wrap(katoerr.StorageUnavailable, sym, "failed to upsert vector", err)
	}
	return types.Symbol(sym), nil
}

// digest computes a stable SHA-1 hex digest over a vector's big-endian
// float64 byte representation, so the same vector always names the
// same symbol across process restarts (spec §4.1).
func digest(vec []float64) string {
	buf := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	sum := sha1.Sum(buf)
	return hex.EncodeToString(sum[:])
}

// IncrPatternMember increments pattern_member_frequency for each
// distinct symbol, called once per *new* pattern creation only — never
// re-incremented on a frequency bump of an existing pattern (spec §3,
// §4.1 incr_pattern_member).
func (r *Registry) IncrPatternMember(ctx context.Context, kbID string, symbols []types.Symbol) error {
	for _, sym := range symbols {
		if _, err := r.kv.Increment(ctx, patternMemberKey(kbID, sym), 1); err != nil {
			return katoerr.Wrap(katoerr.StorageUnavailable, sym, "failed to increment pattern-member frequency", err)
		}
	}
	return nil
}

// Frequency returns a symbol's observation count, or 0 if never seen
// (spec §4.4 "zero or missing statistics must propagate as failure in
// fail-fast mode" — callers that require a non-zero denominator check
// for zero themselves; Frequency never substitutes a default silently,
// it simply reports what InternTokens has counted so far).
func (r *Registry) Frequency(ctx context.Context, kbID, symbol string) (int64, error) {
	raw, ok, err := r.kv.Get(ctx, freqKey(kbID, symbol))
	if err != nil {
		return 0, katoerr.Wrap(katoerr.StorageUnavailable, symbol, "failed to read symbol frequency", err)
	}
	if !ok {
		return 0, nil
	}
	return parseInt64(raw), nil
}

// PatternMemberFrequency returns how many distinct patterns a symbol
// belongs to.
func (r *Registry) PatternMemberFrequency(ctx context.Context, kbID, symbol string) (int64, error) {
	raw, ok, err := r.kv.Get(ctx, patternMemberKey(kbID, symbol))
	if err != nil {
		return 0, katoerr.Wrap(katoerr.StorageUnavailable, symbol, "failed to read pattern-member frequency", err)
	}
	if !ok {
		return 0, nil
	}
	return parseInt64(raw), nil
}

// TotalSymbolOccurrences sums every known symbol's frequency in a KB,
// the denominator metrics in spec §4.4 (itfdf, global entropy) need.
func (r *Registry) TotalSymbolOccurrences(ctx context.Context, kbID string) (int64, error) {
	keys, err := r.kv.Keys(ctx, kbID+":symbol:freq:")
	if err != nil {
		return 0, katoerr.Wrap(katoerr.StorageUnavailable, kbID, "failed to list symbol frequencies", err)
	}
	var total int64
	for _, k := range keys {
		raw, ok, err := r.kv.Get(ctx, k)
		if err != nil {
			return 0, katoerr.Wrap(katoerr.StorageUnavailable, k, "failed to read symbol frequency", err)
		}
		if ok {
			total += parseInt64(raw)
		}
	}
	return total, nil
}

func parseInt64(raw []byte) int64 {
	var v int64
	var neg bool
	s := string(raw)
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		v = v*10 + int64(c-'0')
	}
	if neg {
		v = -v
	}
	return v
}

// Clear removes every symbol statistic and vector entry for a KB (spec
// §4.2 "clear(kb_id). Removes all patterns and symbol stats for that
// KB."). Pattern rows themselves are the pattern store's concern.
func (r *Registry) Clear(ctx context.Context, kbID string) error {
	if err := clearPrefix(ctx, r.kv, freqKey(kbID, "")); err != nil {
		return err
	}
	if err := clearPrefix(ctx, r.kv, patternMemberKey(kbID, "")); err != nil {
		return err
	}
	if err := r.vectors.Clear(ctx, kbID); err != nil {
		return katoerr.Wrap(katoerr.StorageUnavailable, kbID, "failed to clear vector collection", err)
	}
	return nil
}

func clearPrefix(ctx context.Context, kv storage.KVStore, prefix string) error {
	if mem, ok := kv.(*storage.MemKV); ok {
		if err := mem.DeletePrefix(ctx, prefix); err != nil {
			return katoerr.Wrap(katoerr.StorageUnavailable, prefix, "failed to clear symbol stats", err)
		}
		return nil
	}
	keys, err := kv.Keys(ctx, prefix)
	if err != nil {
		return katoerr.Wrap(katoerr.StorageUnavailable, prefix, "failed to list symbol stat keys", err)
	}
	for _, k := range keys {
		if err := kv.Delete(ctx, k); err != nil {
			return katoerr.Wrap(katoerr.StorageUnavailable, k, "failed to delete symbol stat", err)
		}
	}
	return nil
}

func init() {
	log.Debug("symbol registry package initialized")
}
