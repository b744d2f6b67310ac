// Package pattern implements the pattern store (spec §3, §4.2): learn,
// get, scan_candidates, and clear, split across a columnar store for
// pattern rows and a KV store for mutable metadata.
package pattern

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/EchoCog/katocore/internal/katoerr"
	"github.com/EchoCog/katocore/internal/katolog"
	"github.com/EchoCog/katocore/internal/storage"
	"github.com/EchoCog/katocore/internal/symbol"
	"github.com/EchoCog/katocore/internal/types"
)

var log = katolog.For("pattern")

// Store is the pattern store: content-addressed rows in a columnar
// backend, frequency and emotive-ring metadata in a KV backend (spec
// §4.2 "Write path").
type Store struct {
	columnar storage.ColumnarStore
	kv       storage.KVStore
	symbols  *symbol.Registry
}

// New constructs a pattern Store over the given collaborators.
func New(columnar storage.ColumnarStore, kv storage.KVStore, symbols *symbol.Registry) *Store {
	return &Store{columnar: columnar, kv: kv, symbols: symbols}
}

func freqKey(kbID, patternID string) string {
	return fmt.Sprintf("%s:pattern:freq:%s", kbID, patternID)
}

func emotivesKey(kbID, patternID string) string {
	return fmt.Sprintf("%s:pattern:emotives:%s", kbID, patternID)
}

// Learn canonicalizes events, computes the pattern_id, and either
// inserts a new row (frequency=1, per-symbol pattern-member counts
// incremented once) or re-learns an existing one (frequency++, each
// emotive value appended to its ring) (spec §3, §4.2 learn).
//
// A learn of an empty sequence is a no-op returning ("", nil); spec
// §6 requires manual learn on an empty STM to be a no-op, not an error.
func (s *Store) Learn(ctx context.Context, kbID string, events types.Sequence, emotives types.EmotiveSet, persistence int) (string, error) {
	if len(events) == 0 {
		return "", nil
	}

	patternID := types.PatternID(events)
	existing, ok, err := s.columnar.Get(ctx, kbID, patternID)
	if err != nil {
		return "", katoerr.Wrap(katoerr.StorageUnavailable, patternID, "failed to read pattern row", err)
	}

	if !ok {
		row := storage.PatternRow{KBID: kbID, PatternID: patternID, Events: events, Length: len(events)}
		if err := s.columnar.Append(ctx, row); err != nil {
			return "", katoerr.Wrap(katoerr.StorageUnavailable, patternID, "failed to append pattern row", err)
		}
		if _, err := s.kv.Increment(ctx, freqKey(kbID, patternID), 1); err != nil {
			return "", katoerr.Wrap(katoerr.StorageUnavailable, patternID, "failed to initialize pattern frequency", err)
		}
		if err := s.setEmotiveHistories(ctx, kbID, patternID, seedRings(emotives, persistence)); err != nil {
			return "", err
		}
		if s.symbols != nil {
			if err := s.symbols.IncrPatternMember(ctx, kbID, events.Symbols()); err != nil {
				return "", err
			}
		}
		log.Debug("pattern learned", "kb_id", kbID, "pattern_id", patternID, "new", true)
		return patternID, nil
	}
	_ = existing

	if _, err := s.kv.Increment(ctx, freqKey(kbID, patternID), 1); err != nil {
		return "", katoerr.Wrap(katoerr.StorageUnavailable, patternID, "failed to increment pattern frequency", err)
	}
	hist, err := s.loadEmotiveHistories(ctx, kbID, patternID)
	if err != nil {
		return "", err
	}
	for k, v := range emotives {
		hist[k] = types.AppendRing(hist[k], v, persistence)
	}
	if err := s.setEmotiveHistories(ctx, kbID, patternID, hist); err != nil {
		return "", err
	}
	log.Debug("pattern relearned", "kb_id", kbID, "pattern_id", patternID, "new", false)
	return patternID, nil
}

// Get reconstructs a full Pattern (row + metadata) by id. Returns
// ok=false if the pattern does not exist.
func (s *Store) Get(ctx context.Context, kbID, patternID string) (*types.Pattern, bool, error) {
	row, ok, err := s.columnar.Get(ctx, kbID, patternID)
	if err != nil {
		return nil, false, katoerr.Wrap(katoerr.StorageUnavailable, patternID, "failed to read pattern row", err)
	}
	if !ok {
		return nil, false, nil
	}

	freqRaw, ok, err := s.kv.Get(ctx, freqKey(kbID, patternID))
	if err != nil {
		return nil, false, katoerr.Wrap(katoerr.StorageUnavailable, patternID, "failed to read pattern frequency", err)
	}
	freq := 0
	if ok {
		freq = int(parseDecimal(freqRaw))
	}

	hist, err := s.loadEmotiveHistories(ctx, kbID, patternID)
	if err != nil {
		return nil, false, err
	}

	return &types.Pattern{
		KBID:             kbID,
		ID:               row.PatternID,
		Events:           row.Events,
		Length:           row.Length,
		Frequency:        freq,
		EmotiveHistories: hist,
	}, true, nil
}

// ScanCandidates runs the retrieval filter pipeline (spec §4.3: kb_id
// → symbol-overlap → length range) and returns the superset of
// candidate rows a full scan would have found.
func (s *Store) ScanCandidates(ctx context.Context, kbID string, filter storage.ScanFilter) ([]storage.PatternRow, error) {
	rows, err := s.columnar.Scan(ctx, kbID, filter)
	if err != nil {
		return nil, katoerr.Wrap(katoerr.StorageUnavailable, kbID, "failed to scan pattern candidates", err)
	}
	return rows, nil
}

// Clear removes every pattern row, its KV metadata, and (via the
// symbol registry) every symbol stat and vector entry for a KB (spec
// §4.2 "clear(kb_id). Removes all patterns and symbol stats for that
// KB." / spec §6 clear_all_memory).
func (s *Store) Clear(ctx context.Context, kbID string) error {
	if err := s.columnar.Clear(ctx, kbID); err != nil {
		return katoerr.Wrap(katoerr.StorageUnavailable, kbID, "failed to clear pattern rows", err)
	}
	if mem, ok := s.kv.(*storage.MemKV); ok {
		if err := mem.DeletePrefix(ctx, kbID+":pattern:"); err != nil {
			return katoerr.Wrap(katoerr.StorageUnavailable, kbID, "failed to clear pattern metadata", err)
		}
	} else {
		keys, err := s.kv.Keys(ctx, kbID+":pattern:")
		if err != nil {
			return katoerr.Wrap(katoerr.StorageUnavailable, kbID, "failed to list pattern metadata keys", err)
		}
		for _, k := range keys {
			if err := s.kv.Delete(ctx, k); err != nil {
				return katoerr.Wrap(katoerr.StorageUnavailable, k, "failed to delete pattern metadata", err)
			}
		}
	}
	if s.symbols != nil {
		if err := s.symbols.Clear(ctx, kbID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadEmotiveHistories(ctx context.Context, kbID, patternID string) (map[string]types.EmotiveHistory, error) {
	raw, ok, err := s.kv.Get(ctx, emotivesKey(kbID, patternID))
	if err != nil {
		return nil, katoerr.Wrap(katoerr.StorageUnavailable, patternID, "failed to read emotive histories", err)
	}
	if !ok {
		return make(map[string]types.EmotiveHistory), nil
	}
	var hist map[string]types.EmotiveHistory
	if err := json.Unmarshal(raw, &hist); err != nil {
		return nil, katoerr.Wrap(katoerr.StorageUnavailable, patternID, "failed to decode emotive histories", err)
	}
	return hist, nil
}

func (s *Store) setEmotiveHistories(ctx context.Context, kbID, patternID string, hist map[string]types.EmotiveHistory) error {
	enc, err := json.Marshal(hist)
	if err != nil {
		return katoerr.Wrap(katoerr.StorageUnavailable, patternID, "failed to encode emotive histories", err)
	}
	if err := s.kv.Set(ctx, emotivesKey(kbID, patternID), enc); err != nil {
		return katoerr.Wrap(katoerr.StorageUnavailable, patternID, "failed to persist emotive histories", err)
	}
	return nil
}

// seedRings builds the first ring entry (length 1, capped by
// persistence) for each emotive on a freshly learned pattern.
func seedRings(emotives types.EmotiveSet, persistence int) map[string]types.EmotiveHistory {
	out := make(map[string]types.EmotiveHistory, len(emotives))
	for k, v := range emotives {
		out[k] = types.AppendRing(nil, v, persistence)
	}
	return out
}

func parseDecimal(raw []byte) int64 {
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
