package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EchoCog/katocore/internal/config"
	"github.com/EchoCog/katocore/internal/katoerr"
	"github.com/EchoCog/katocore/internal/storage"
	"github.com/EchoCog/katocore/internal/types"
)

func newManager() *Manager {
	return New(storage.NewMemKV())
}

func TestCreateThenGetRoundTrips(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	st, err := m.Create(ctx, "kb1", config.Overlay{}, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, st.SessionID)

	got, err := m.Get(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, st.SessionID, got.SessionID)
	assert.Equal(t, "kb1", got.KBID)
}

func TestGetUnknownSessionFailsNotFound(t *testing.T) {
	m := newManager()
	_, err := m.Get(context.Background(), "SESS|does-not-exist")
	require.Error(t, err)
	var kerr *katoerr.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, katoerr.SessionNotFound, kerr.Kind)
}

func TestGetExpiredSessionFailsNotFound(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	st, err := m.Create(ctx, "kb1", config.Overlay{}, time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	_, err = m.Get(ctx, st.SessionID)
	require.Error(t, err)
	var kerr *katoerr.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, katoerr.SessionNotFound, kerr.Kind)
}

func TestWithExclusiveMutatesAndPersists(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	st, err := m.Create(ctx, "kb1", config.Overlay{}, time.Hour)
	require.NoError(t, err)

	result, err := WithExclusive(ctx, m, st.SessionID, func(s *State) (*State, int, error) {
		s.STM = append(s.STM, types.CanonicalizeEvent([]string{"a"}))
		return s, len(s.STM), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result)

	got, err := m.Get(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Len(t, got.STM, 1)
}

func TestWithExclusiveDoesNotPersistOnError(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	st, err := m.Create(ctx, "kb1", config.Overlay{}, time.Hour)
	require.NoError(t, err)

	_, err = WithExclusive(ctx, m, st.SessionID, func(s *State) (*State, int, error) {
		s.STM = append(s.STM, types.CanonicalizeEvent([]string{"a"}))
		return s, 0, assert.AnError
	})
	require.Error(t, err)

	got, err := m.Get(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Empty(t, got.STM)
}

func TestConcurrentSameSessionOperationsAreLinearized(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	st, err := m.Create(ctx, "kb1", config.Overlay{}, time.Hour)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := WithExclusive(ctx, m, st.SessionID, func(s *State) (*State, struct{}, error) {
				s.STM = append(s.STM, types.CanonicalizeEvent([]string{"x"}))
				return s, struct{}{}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Len(t, got.STM, 20)
}

func TestConcurrentDifferentSessionsDoNotBlockEachOther(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	s1, err := m.Create(ctx, "kb1", config.Overlay{}, time.Hour)
	require.NoError(t, err)
	s2, err := m.Create(ctx, "kb1", config.Overlay{}, time.Hour)
	require.NoError(t, err)

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = WithExclusive(ctx, m, s1.SessionID, func(s *State) (*State, struct{}, error) {
			<-release
			return s, struct{}{}, nil
		})
		close(done)
	}()

	_, err = WithExclusive(ctx, m, s2.SessionID, func(s *State) (*State, struct{}, error) {
		return s, struct{}{}, nil
	})
	require.NoError(t, err)

	close(release)
	<-done
}

func TestDeleteRemovesSession(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	st, err := m.Create(ctx, "kb1", config.Overlay{}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, st.SessionID))

	_, err = m.Get(ctx, st.SessionID)
	require.Error(t, err)
}

func TestListAndCountReflectActiveSessions(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	_, err := m.Create(ctx, "kb1", config.Overlay{}, time.Hour)
	require.NoError(t, err)
	_, err = m.Create(ctx, "kb2", config.Overlay{}, time.Hour)
	require.NoError(t, err)

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	list, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
