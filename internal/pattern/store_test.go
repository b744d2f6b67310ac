package pattern

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EchoCog/katocore/internal/storage"
	"github.com/EchoCog/katocore/internal/symbol"
	"github.com/EchoCog/katocore/internal/types"
)

func newTestStore() *Store {
	kv := storage.NewMemKV()
	col := storage.NewArrowColumnarStore()
	reg := symbol.New(kv, storage.NewGonumVectorIndex())
	return New(col, kv, reg)
}

func seq(events ...[]string) types.Sequence {
	out := make(types.Sequence, len(events))
	for i, e := range events {
		out[i] = types.CanonicalizeEvent(e)
	}
	return out
}

func TestLearnEmptySequenceIsNoOp(t *testing.T) {
	s := newTestStore()
	id, err := s.Learn(context.Background(), "kb1", nil, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, "", id)
}

func TestLearnCreatesPatternWithFrequencyOne(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	events := seq([]string{"a", "b"}, []string{"c"})

	id, err := s.Learn(ctx, "kb1", events, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, types.PatternID(events), id)

	p, ok, err := s.Get(ctx, "kb1", id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, p.Frequency)
	assert.True(t, p.Events.Equal(events))
}

func TestRelearnSameSequenceIncrementsFrequencyAndKeepsOneRow(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	events := seq([]string{"a", "b"}, []string{"c"})

	id1, err := s.Learn(ctx, "kb1", events, nil, 5)
	require.NoError(t, err)
	id2, err := s.Learn(ctx, "kb1", events, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	p, ok, err := s.Get(ctx, "kb1", id1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, p.Frequency)

	rows, err := s.ScanCandidates(ctx, "kb1", storage.ScanFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestLearnIncrementsPatternMemberFrequencyOnceAtFirstLearnOnly(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	events := seq([]string{"a", "b"}, []string{"c"})

	_, err := s.Learn(ctx, "kb1", events, nil, 5)
	require.NoError(t, err)
	_, err = s.Learn(ctx, "kb1", events, nil, 5)
	require.NoError(t, err)

	for _, sym := range []string{"a", "b", "c"} {
		cnt, err := s.symbols.PatternMemberFrequency(ctx, "kb1", sym)
		require.NoError(t, err)
		assert.Equal(t, int64(1), cnt, "symbol %s", sym)
	}
}

func TestEmotiveRingBoundedByPersistence(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	events := seq([]string{"a"})

	var id string
	var err error
	for i := 0; i < 7; i++ {
		id, err = s.Learn(ctx, "kb1", events, types.EmotiveSet{"joy": float64(i)}, 5)
		require.NoError(t, err)
	}

	p, ok, err := s.Get(ctx, "kb1", id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, p.Frequency)
	assert.Len(t, p.EmotiveHistories["joy"], 5)
	assert.Equal(t, types.EmotiveHistory{2, 3, 4, 5, 6}, p.EmotiveHistories["joy"])
}

func TestGetMissingPatternReturnsNotOK(t *testing.T) {
	s := newTestStore()
	_, ok, err := s.Get(context.Background(), "kb1", "PTRN|doesnotexist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanCandidatesFiltersByOverlapAndLength(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Learn(ctx, "kb1", seq([]string{"a"}, []string{"b"}), nil, 5)
	require.NoError(t, err)
	_, err = s.Learn(ctx, "kb1", seq([]string{"x"}, []string{"y"}, []string{"z"}), nil, 5)
	require.NoError(t, err)

	rows, err := s.ScanCandidates(ctx, "kb1", storage.ScanFilter{Symbols: []types.Symbol{"a"}, MinOverlap: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Events.Equal(seq([]string{"a"}, []string{"b"})))

	rows, err = s.ScanCandidates(ctx, "kb1", storage.ScanFilter{MaxLength: 2})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Length)
}

func TestClearRemovesPatternsAndMetadataForKB(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	id, err := s.Learn(ctx, "kb1", seq([]string{"a"}), types.EmotiveSet{"joy": 1}, 5)
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx, "kb1"))

	_, ok, err := s.Get(ctx, "kb1", id)
	require.NoError(t, err)
	assert.False(t, ok)

	rows, err := s.ScanCandidates(ctx, "kb1", storage.ScanFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestClearIsolatedPerKB(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	id1, err := s.Learn(ctx, "kb1", seq([]string{"a"}), nil, 5)
	require.NoError(t, err)
	id2, err := s.Learn(ctx, "kb2", seq([]string{"b"}), nil, 5)
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx, "kb1"))

	_, ok, err := s.Get(ctx, "kb1", id1)
	require.NoError(t, err)
	assert.False(t, ok)

	p, ok, err := s.Get(ctx, "kb2", id2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, p.Frequency)
}
