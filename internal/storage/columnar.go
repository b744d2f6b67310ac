package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/apache/arrow/go/arrow"
	"github.com/apache/arrow/go/arrow/array"
	"github.com/apache/arrow/go/arrow/memory"

	"github.com/EchoCog/katocore/internal/katoerr"
	"github.com/EchoCog/katocore/internal/types"
)

// patternSchema is the Arrow schema backing one pattern row: identity,
// a denormalized length for range filters, and the event sequence
// itself (spec §6 persisted-state layout).
var patternSchema = arrow.NewSchema([]arrow.Field{
	{Name: "pattern_id", Type: arrow.BinaryTypes.String},
	{Name: "length", Type: arrow.PrimitiveTypes.Int64},
	{Name: "events_json", Type: arrow.BinaryTypes.String},
}, nil)

// PatternRow is a lightweight candidate record read back out of the
// columnar store (spec §4.3 "Return patterns as lightweight candidate
// records (id, events, length)").
type PatternRow struct {
	KBID      string
	PatternID string
	Events    types.Sequence
	Length    int
}

// ScanFilter composes the retrieval pipeline's stages (spec §4.3):
// restrict to kb_id is implicit in the Scan call itself; MaxLength and
// Overlap are the remaining two stages, each an independent predicate.
type ScanFilter struct {
	// Symbols is the STM's distinct symbols; a candidate must share at
	// least MinOverlap of them to survive.
	Symbols    []types.Symbol
	MinOverlap int
	// MaxLength bounds candidate length for locality; 0 means unbounded.
	MaxLength int
}

// ColumnarStore is the pattern store's bulk, append-friendly,
// scannable backend (spec §4.2 write path). The underlying engine is
// out of scope (spec §1); this is the narrow interface the core talks
// through, plus the in-process reference implementation below.
type ColumnarStore interface {
	Append(ctx context.Context, row PatternRow) error
	Get(ctx context.Context, kbID, patternID string) (*PatternRow, bool, error)
	Scan(ctx context.Context, kbID string, filter ScanFilter) ([]PatternRow, error)
	Clear(ctx context.Context, kbID string) error
}

// ArrowColumnarStore stores one Arrow record batch per appended
// pattern row, partitioned by kb_id, using github.com/apache/arrow/go/arrow
// — a teacher dependency promoted here from indirect to direct (see
// DESIGN.md). A production deployment would flush these batches to a
// real columnar file format; in-process, the batches themselves are
// the scannable store spec §4.2 describes.
type ArrowColumnarStore struct {
	mem memory.Allocator

	mu      sync.RWMutex
	batches map[string][]arrow.Record    // kb_id -> append-ordered single-row batches
	index   map[string]map[string]int    // kb_id -> pattern_id -> batch slot
}

// NewArrowColumnarStore constructs an empty columnar store.
func NewArrowColumnarStore() *ArrowColumnarStore {
	return &ArrowColumnarStore{
		mem:     memory.NewGoAllocator(),
		batches: make(map[string][]arrow.Record),
		index:   make(map[string]map[string]int),
	}
}

// Append inserts a new pattern row. Re-appending the same pattern_id
// within a kb_id is a no-op: pattern identity is content-addressed, so
// a repeated learn of the same sequence converges on the same row
// (spec §4.2 "idempotent for the row insertion").
func (s *ArrowColumnarStore) Append(_ context.Context, row PatternRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if byPattern, ok := s.index[row.KBID]; ok {
		if _, exists := byPattern[row.PatternID]; exists {
			return nil
		}
	}

	encEvents, err := json.Marshal(row.Events)
	if err != nil {
		return katoerr.Wrap(katoerr.StorageUnavailable, row.PatternID, "failed to encode pattern events", err)
	}

	b := array.NewRecordBuilder(s.mem, patternSchema)
	defer b.Release()
	b.Field(0).(*array.StringBuilder).Append(row.PatternID)
	b.Field(1).(*array.Int64Builder).Append(int64(row.Length))
	b.Field(2).(*array.StringBuilder).Append(string(encEvents))
	rec := b.NewRecord()

	s.batches[row.KBID] = append(s.batches[row.KBID], rec)
	if s.index[row.KBID] == nil {
		s.index[row.KBID] = make(map[string]int)
	}
	s.index[row.KBID][row.PatternID] = len(s.batches[row.KBID]) - 1
	return nil
}

func decodeRow(kbID string, rec arrow.Record) (PatternRow, error) {
	patternID := rec.Column(0).(*array.String).Value(0)
	length := rec.Column(1).(*array.Int64).Value(0)
	eventsJSON := rec.Column(2).(*array.String).Value(0)

	var seq types.Sequence
	if err := json.Unmarshal([]byte(eventsJSON), &seq); err != nil {
		return PatternRow{}, katoerr.Wrap(katoerr.StorageUnavailable, patternID, "failed to decode pattern events", err)
	}
	return PatternRow{KBID: kbID, PatternID: patternID, Events: seq, Length: int(length)}, nil
}

// Get looks up a single pattern row by id.
func (s *ArrowColumnarStore) Get(_ context.Context, kbID, patternID string) (*PatternRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byPattern, ok := s.index[kbID]
	if !ok {
		return nil, false, nil
	}
	slot, ok := byPattern[patternID]
	if !ok {
		return nil, false, nil
	}
	row, err := decodeRow(kbID, s.batches[kbID][slot])
	if err != nil {
		return nil, false, err
	}
	return &row, true, nil
}

// Scan applies the filter pipeline in order: kb_id is the partition
// already selected by the call itself, then length range, then
// symbol-overlap (spec §4.3). The result is a superset candidate set;
// it is deliberately over-inclusive, as spec requires.
func (s *ArrowColumnarStore) Scan(_ context.Context, kbID string, filter ScanFilter) ([]PatternRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.batches[kbID]
	wanted := make(map[types.Symbol]struct{}, len(filter.Symbols))
	for _, sym := range filter.Symbols {
		wanted[sym] = struct{}{}
	}

	out := make([]PatternRow, 0, len(recs))
	for _, rec := range recs {
		row, err := decodeRow(kbID, rec)
		if err != nil {
			return nil, err
		}
		if filter.MaxLength > 0 && row.Length > filter.MaxLength {
			continue
		}
		if filter.MinOverlap > 0 {
			overlap := 0
			shared := make(map[types.Symbol]struct{})
			for _, ev := range row.Events {
				for _, sym := range ev {
					if _, ok := wanted[sym]; !ok {
						continue
					}
					if _, dup := shared[sym]; !dup {
						shared[sym] = struct{}{}
						overlap++
					}
				}
			}
			if overlap < filter.MinOverlap {
				continue
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// Clear removes every pattern row for a KB (spec §4.2 "clear").
func (s *ArrowColumnarStore) Clear(_ context.Context, kbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, kbID)
	delete(s.index, kbID)
	return nil
}
