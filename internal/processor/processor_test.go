package processor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EchoCog/katocore/internal/config"
	"github.com/EchoCog/katocore/internal/kb"
	"github.com/EchoCog/katocore/internal/katoerr"
	"github.com/EchoCog/katocore/internal/pattern"
	"github.com/EchoCog/katocore/internal/session"
	"github.com/EchoCog/katocore/internal/storage"
	"github.com/EchoCog/katocore/internal/symbol"
	"github.com/EchoCog/katocore/internal/types"
)

func newProcessor(t *testing.T) *Processor {
	t.Helper()
	kvStore := storage.NewMemKV()
	columnar := storage.NewArrowColumnarStore()
	vectors := storage.NewGonumVectorIndex()

	symbols := symbol.New(kvStore, vectors)
	patterns := pattern.New(columnar, kvStore, symbols)
	sessions := session.New(kvStore)
	kbs := kb.New(kvStore)

	return New(sessions, patterns, symbols, kbs)
}

func patternIDOf(t *testing.T, events [][]string) string {
	t.Helper()
	seq := make(types.Sequence, len(events))
	for i, ev := range events {
		seq[i] = types.CanonicalizeEvent(ev)
	}
	return types.PatternID(seq)
}

func strEvents(t *testing.T, seq types.Sequence) [][]string {
	t.Helper()
	out := make([][]string, len(seq))
	for i, e := range seq {
		out[i] = append([]string{}, e...)
	}
	return out
}

func TestScenario1AutoLearnAtThreshold(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, p.CreateKB(ctx, "kb1"))

	maxLen := 3
	st, err := p.CreateSession(ctx, "kb1", config.Overlay{MaxPatternLength: &maxLen}, 0)
	require.NoError(t, err)

	r1, err := p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Empty(t, r1.AutoLearnedPattern)

	r2, err := p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"c"}})
	require.NoError(t, err)
	assert.Empty(t, r2.AutoLearnedPattern)

	r3, err := p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"d", "e"}})
	require.NoError(t, err)
	require.NotEmpty(t, r3.AutoLearnedPattern)

	expected := patternIDOf(t, [][]string{{"a", "b"}, {"c"}, {"d", "e"}})
	assert.Equal(t, expected, r3.AutoLearnedPattern)
	assert.Equal(t, 0, r3.STMLength)

	stm, err := p.GetSTM(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Empty(t, stm)
}

func TestScenario2RelearnIncrementsFrequency(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, p.CreateKB(ctx, "kb1"))

	maxLen := 3
	st, err := p.CreateSession(ctx, "kb1", config.Overlay{MaxPatternLength: &maxLen}, 0)
	require.NoError(t, err)

	runOnce := func() string {
		_, err := p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"a", "b"}})
		require.NoError(t, err)
		_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"c"}})
		require.NoError(t, err)
		r, err := p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"d", "e"}})
		require.NoError(t, err)
		return r.AutoLearnedPattern
	}

	pid1 := runOnce()
	pid2 := runOnce()
	require.Equal(t, pid1, pid2)

	got, ok, err := p.patterns.Get(ctx, "kb1", pid1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.Frequency)

	for _, sym := range []string{"a", "b", "c", "d", "e"} {
		f, err := p.symbols.PatternMemberFrequency(ctx, "kb1", sym)
		require.NoError(t, err)
		assert.Equal(t, int64(1), f, "symbol %s", sym)
	}
}

// TestScenario3PredictionWithPastPresentFuture exercises the literal
// scenario's past/present/future split and evidence formula, adapted
// to a 2-event STM: §4.3 and §8 both state that an STM with fewer
// than 2 events yields no candidates, which a literal single-event
// STM would violate (see DESIGN.md's resolved Open Question on this
// point).
func TestScenario3PredictionWithPastPresentFuture(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, p.CreateKB(ctx, "kb1"))

	st, err := p.CreateSession(ctx, "kb1", config.Overlay{}, 0)
	require.NoError(t, err)

	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"p"}})
	require.NoError(t, err)
	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"x"}})
	require.NoError(t, err)
	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"y"}})
	require.NoError(t, err)
	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"z"}})
	require.NoError(t, err)
	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"q"}})
	require.NoError(t, err)
	_, err = p.Learn(ctx, st.SessionID)
	require.NoError(t, err)

	require.NoError(t, p.ClearSTM(ctx, st.SessionID))
	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"x"}})
	require.NoError(t, err)
	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"y"}})
	require.NoError(t, err)

	preds, err := p.GetPredictions(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, preds, 1)

	pred := preds[0]
	assert.Equal(t, [][]string{{"p"}}, strEvents(t, pred.Past))
	assert.Equal(t, [][]string{{"x"}, {"y"}}, strEvents(t, pred.Present))
	assert.Equal(t, [][]string{{"z"}, {"q"}}, strEvents(t, pred.Future))
	assert.InDelta(t, 1.0, pred.Similarity, 1e-9)
	assert.InDelta(t, 2.0/5.0, pred.Evidence, 1e-9)
}

func TestScenario4TokenVsCharacterThresholds(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, p.CreateKB(ctx, "kb1"))

	useToken := false
	st, err := p.CreateSession(ctx, "kb1", config.Overlay{UseTokenMatching: &useToken}, 0)
	require.NoError(t, err)
	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"alpha"}})
	require.NoError(t, err)
	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"beta"}})
	require.NoError(t, err)
	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"gamma"}})
	require.NoError(t, err)
	_, err = p.Learn(ctx, st.SessionID)
	require.NoError(t, err)
	require.NoError(t, p.ClearSTM(ctx, st.SessionID))
	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"alpha"}})
	require.NoError(t, err)
	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"beta"}})
	require.NoError(t, err)

	charPreds, err := p.GetPredictions(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, charPreds, 1)

	useToken = true
	_, err = p.UpdateSessionConfig(ctx, st.SessionID, config.Overlay{UseTokenMatching: &useToken})
	require.NoError(t, err)

	tokenPreds, err := p.GetPredictions(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, tokenPreds, 1)

	assert.InDelta(t, charPreds[0].Similarity, tokenPreds[0].Similarity, 0.03)
}

func TestScenario5SessionIsolationUnderConcurrency(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, p.CreateKB(ctx, "kb1"))

	s1, err := p.CreateSession(ctx, "kb1", config.Overlay{}, 0)
	require.NoError(t, err)
	s2, err := p.CreateSession(ctx, "kb1", config.Overlay{}, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := p.Observe(ctx, s1.SessionID, RawEvent{Strings: []string{"hello"}})
		assert.NoError(t, err)
		_, err = p.Observe(ctx, s1.SessionID, RawEvent{Strings: []string{"world"}})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := p.Observe(ctx, s2.SessionID, RawEvent{Strings: []string{"foo"}})
		assert.NoError(t, err)
		_, err = p.Observe(ctx, s2.SessionID, RawEvent{Strings: []string{"bar"}})
		assert.NoError(t, err)
	}()
	wg.Wait()

	stm1, err := p.GetSTM(ctx, s1.SessionID)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"hello"}, {"world"}}, strEvents(t, stm1))

	stm2, err := p.GetSTM(ctx, s2.SessionID)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"foo"}, {"bar"}}, strEvents(t, stm2))
}

func TestScenario6ClearAllMemoryIsKBScoped(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, p.CreateKB(ctx, "kb1"))
	require.NoError(t, p.CreateKB(ctx, "kb2"))

	s1, err := p.CreateSession(ctx, "kb1", config.Overlay{}, 0)
	require.NoError(t, err)
	s2, err := p.CreateSession(ctx, "kb2", config.Overlay{}, 0)
	require.NoError(t, err)

	for _, sid := range []string{s1.SessionID, s2.SessionID} {
		_, err := p.Observe(ctx, sid, RawEvent{Strings: []string{"a"}})
		require.NoError(t, err)
		_, err = p.Observe(ctx, sid, RawEvent{Strings: []string{"b"}})
		require.NoError(t, err)
		_, err = p.Learn(ctx, sid)
		require.NoError(t, err)
	}

	require.NoError(t, p.ClearAllMemory(ctx, "kb1"))

	_, err = p.Observe(ctx, s1.SessionID, RawEvent{Strings: []string{"a"}})
	require.NoError(t, err)
	_, err = p.Observe(ctx, s1.SessionID, RawEvent{Strings: []string{"b"}})
	require.NoError(t, err)
	preds1, err := p.GetPredictions(ctx, s1.SessionID)
	require.NoError(t, err)
	assert.Empty(t, preds1)

	_, err = p.Observe(ctx, s2.SessionID, RawEvent{Strings: []string{"a"}})
	require.NoError(t, err)
	_, err = p.Observe(ctx, s2.SessionID, RawEvent{Strings: []string{"b"}})
	require.NoError(t, err)
	preds2, err := p.GetPredictions(ctx, s2.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, preds2)
}

func TestObserveNoOpEventDoesNotAdvanceSTM(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, p.CreateKB(ctx, "kb1"))
	st, err := p.CreateSession(ctx, "kb1", config.Overlay{}, 0)
	require.NoError(t, err)

	_, err = p.Observe(ctx, st.SessionID, RawEvent{})
	require.NoError(t, err)

	stm, err := p.GetSTM(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Empty(t, stm)
}

func TestObserveVectorOfWrongDimensionFailsInvalidVectorDim(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, p.CreateKB(ctx, "kb1"))
	st, err := p.CreateSession(ctx, "kb1", config.Overlay{}, 0)
	require.NoError(t, err)

	_, err = p.Observe(ctx, st.SessionID, RawEvent{Vectors: [][]float64{{1, 2, 3}}})
	require.Error(t, err)

	var kerr *katoerr.Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, katoerr.InvalidVectorDim, kerr.Kind)
}

func TestMaxPatternLengthOneWithRollingLeavesSTMEmptyAfterLearn(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, p.CreateKB(ctx, "kb1"))

	maxLen := 1
	mode := config.STMModeRolling
	st, err := p.CreateSession(ctx, "kb1", config.Overlay{MaxPatternLength: &maxLen, STMMode: &mode}, 0)
	require.NoError(t, err)

	r, err := p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"a"}})
	require.NoError(t, err)
	require.NotEmpty(t, r.AutoLearnedPattern)
	assert.Equal(t, 0, r.STMLength)
}

func TestClearSTMLeavesPatternsUntouched(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, p.CreateKB(ctx, "kb1"))
	st, err := p.CreateSession(ctx, "kb1", config.Overlay{}, 0)
	require.NoError(t, err)

	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"a"}})
	require.NoError(t, err)
	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"b"}})
	require.NoError(t, err)
	pid, err := p.Learn(ctx, st.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, pid)

	_, err = p.Observe(ctx, st.SessionID, RawEvent{Strings: []string{"c"}})
	require.NoError(t, err)
	require.NoError(t, p.ClearSTM(ctx, st.SessionID))

	stm, err := p.GetSTM(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Empty(t, stm)

	got, ok, err := p.patterns.Get(ctx, "kb1", pid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Frequency)
}

func TestCreateSessionRequiresExistingKB(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	_, err := p.CreateSession(ctx, "no-such-kb", config.Overlay{}, 0)
	require.Error(t, err)
}

func TestCreateSessionRejectsOutOfRangeOverlay(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, p.CreateKB(ctx, "kb1"))

	bad := 2.0
	_, err := p.CreateSession(ctx, "kb1", config.Overlay{RecallThreshold: &bad}, 0)
	require.Error(t, err)

	var kerr *katoerr.Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, katoerr.InvalidConfig, kerr.Kind)
}

func TestUpdateSessionConfigRejectsOutOfRangeOverlay(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, p.CreateKB(ctx, "kb1"))
	st, err := p.CreateSession(ctx, "kb1", config.Overlay{}, 0)
	require.NoError(t, err)

	bad := -3
	_, err = p.UpdateSessionConfig(ctx, st.SessionID, config.Overlay{Persistence: &bad})
	require.Error(t, err)

	var kerr *katoerr.Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, katoerr.InvalidConfig, kerr.Kind)

	got, err := p.GetSession(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Persistence, got.Config.Persistence)
}

func TestUpdateSessionConfigRejectsUnknownSTMMode(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, p.CreateKB(ctx, "kb1"))
	st, err := p.CreateSession(ctx, "kb1", config.Overlay{}, 0)
	require.NoError(t, err)

	bogus := config.STMMode("BOGUS")
	_, err = p.UpdateSessionConfig(ctx, st.SessionID, config.Overlay{STMMode: &bogus})
	require.Error(t, err)

	var kerr *katoerr.Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, katoerr.InvalidConfig, kerr.Kind)
}

func TestPatternIDFormula(t *testing.T) {
	seq := types.Sequence{types.CanonicalizeEvent([]string{"b", "a"})}
	// PatternID's exact canonical serialization is owned by the types
	// package; this only checks the "PTRN|" prefix of its result.
	assert.Equal(t, "PTRN|", types.PatternID(seq)[:5])
}
