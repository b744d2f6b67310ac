package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/x448/float16"
	"gonum.org/v1/gonum/floats"

	"github.com/EchoCog/katocore/internal/katoerr"
)

// VectorDim is the fixed dimensionality the engine accepts (spec §4.1).
const VectorDim = 768

// VectorIndex is one logical collection per kb_id performing 768-dim
// cosine-distance ANN lookup (spec §4.1, §6). The underlying ANN
// engine is out of scope (spec §1); this is the narrow interface plus
// an in-process reference implementation.
type VectorIndex interface {
	// Upsert inserts or replaces the vector stored under symbol.
	Upsert(ctx context.Context, kbID, symbol string, vec []float64) error
	// Nearest returns the symbol and cosine distance of the closest
	// stored vector, if the collection is non-empty.
	Nearest(ctx context.Context, kbID string, vec []float64) (symbol string, distance float64, found bool, err error)
	Clear(ctx context.Context, kbID string) error
}

// entry stores vectors in half precision via github.com/x448/float16
// (a teacher dependency) to halve the footprint of the 768-float
// collection kept in memory per KB.
type entry struct {
	symbol string
	vec    []float16.Float16
}

// GonumVectorIndex is a brute-force cosine-distance index over
// gonum.org/v1/gonum/floats, the pack's numerics library and a direct
// teacher dependency. Brute force is adequate for the reference
// implementation; a production ANN index (HNSW, IVF) is the external
// collaborator spec §1 carves out.
type GonumVectorIndex struct {
	mu         sync.RWMutex
	collections map[string][]entry // kb_id -> vectors
}

// NewGonumVectorIndex constructs an empty vector index.
func NewGonumVectorIndex() *GonumVectorIndex {
	return &GonumVectorIndex{collections: make(map[string][]entry)}
}

func toFloat16(vec []float64) []float16.Float16 {
	out := make([]float16.Float16, len(vec))
	for i, v := range vec {
		out[i] = float16.Fromfloat32(float32(v))
	}
	return out
}

func toFloat64(vec []float16.Float16) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v.Float32())
	}
	return out
}

// Upsert inserts or replaces the vector stored under symbol, failing
// fast on a dimension mismatch (spec §4.1 InvalidVectorDim).
func (idx *GonumVectorIndex) Upsert(_ context.Context, kbID, symbol string, vec []float64) error {
	if len(vec) != VectorDim {
		return katoerr.New(katoerr.InvalidVectorDim, symbol, "vector must have 768 components")
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	coll := idx.collections[kbID]
	for i, e := range coll {
		if e.symbol == symbol {
			coll[i].vec = toFloat16(vec)
			return nil
		}
	}
	idx.collections[kbID] = append(coll, entry{symbol: symbol, vec: toFloat16(vec)})
	return nil
}

// Nearest finds the closest stored vector by cosine distance.
func (idx *GonumVectorIndex) Nearest(_ context.Context, kbID string, vec []float64) (string, float64, bool, error) {
	if len(vec) != VectorDim {
		return "", 0, false, katoerr.New(katoerr.InvalidVectorDim, kbID, "vector must have 768 components")
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	coll := idx.collections[kbID]
	if len(coll) == 0 {
		return "", 0, false, nil
	}

	type scored struct {
		symbol string
		dist   float64
	}
	scores := make([]scored, len(coll))
	for i, e := range coll {
		scores[i] = scored{symbol: e.symbol, dist: cosineDistance(vec, toFloat64(e.vec))}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].dist < scores[j].dist })
	return scores[0].symbol, scores[0].dist, true, nil
}

// Clear removes a KB's entire vector collection (spec §4.2 "clear").
func (idx *GonumVectorIndex) Clear(_ context.Context, kbID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.collections, kbID)
	return nil
}

// cosineDistance is 1 - cosine-similarity, computed via gonum/floats'
// Dot and Norm rather than a hand-rolled loop.
func cosineDistance(a, b []float64) float64 {
	dot := floats.Dot(a, b)
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(na*nb)
}
