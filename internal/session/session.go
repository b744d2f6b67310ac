// Package session implements the session manager (spec §4.6):
// lifecycle and safe concurrent access to per-session state.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/EchoCog/katocore/internal/config"
	"github.com/EchoCog/katocore/internal/katoerr"
	"github.com/EchoCog/katocore/internal/katolog"
	"github.com/EchoCog/katocore/internal/storage"
	"github.com/EchoCog/katocore/internal/types"
)

var log = katolog.For("session")

// lockTimeout bounds how long with_exclusive waits to acquire a
// session's lock before surfacing SessionBusy (spec §4.6 "Lock
// acquisition has a bounded timeout").
const lockTimeout = 5 * time.Second

const stateKeyPrefix = "session:state:"

func stateKey(id string) string { return stateKeyPrefix + id }

// State is the persisted per-session record (spec §4.6, §6).
type State struct {
	SessionID  string         `json:"session_id"`
	KBID       string         `json:"kb_id"`
	Config     config.Config  `json:"config"`
	STM        types.Sequence `json:"stm"`
	// PendingEmotives accumulates emotive values observed since the
	// last learn (latest value wins per key; see DESIGN.md's Open
	// Question decision on emotive accumulation).
	PendingEmotives types.EmotiveSet `json:"pending_emotives,omitempty"`
	TTL             time.Duration    `json:"ttl"`
	AutoExtend bool           `json:"auto_extend"`
	CreatedAt  time.Time      `json:"created_at"`
	LastAccess time.Time      `json:"last_access"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// Summary is the observability-facing view of a session (spec §4
// supplemented feature: get_session/list/count).
type Summary struct {
	SessionID  string    `json:"session_id"`
	KBID       string    `json:"kb_id"`
	STMLength  int       `json:"stm_length"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Manager owns session lifecycle and the per-session exclusive locks
// (spec §4.6). Session state itself lives in the KV store; Manager
// holds only the in-process lock table, which is process-local
// advisory state standing in for the KV-backed advisory lock the spec
// describes — acceptable because this reference implementation's KV
// store is itself in-process (see DESIGN.md).
type Manager struct {
	kv storage.KVStore

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// New constructs a session Manager over the given KV store.
func New(kv storage.KVStore) *Manager {
	return &Manager{kv: kv, locks: make(map[string]*semaphore.Weighted)}
}

func (m *Manager) lockFor(sessionID string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = semaphore.NewWeighted(1)
		m.locks[sessionID] = l
	}
	return l
}

// Create allocates a session_id, persists initial state, and returns
// it. Acquires no lock (spec §4.6 create).
func (m *Manager) Create(ctx context.Context, kbID string, overlay config.Overlay, ttl time.Duration) (*State, error) {
	if ttl <= 0 {
		ttl = time.Duration(config.Default().SessionTTL) * time.Second
	}
	now := time.Now()
	cfg := overlay.Apply(config.Default())

	st := &State{
		SessionID:  "SESS|" + uuid.NewString(),
		KBID:       kbID,
		Config:     cfg,
		STM:        types.Sequence{},
		TTL:        ttl,
		AutoExtend: cfg.SessionAutoExtend,
		CreatedAt:  now,
		LastAccess: now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := m.persist(ctx, st); err != nil {
		return nil, err
	}
	log.Info("session created", "session_id", st.SessionID, "kb_id", kbID)
	return st, nil
}

// Get reads session state, failing with SessionNotFound if absent or
// expired, and bumps expiry if auto-extend is set (spec §4.6 get).
func (m *Manager) Get(ctx context.Context, sessionID string) (*State, error) {
	st, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.AutoExtend {
		st.ExpiresAt = time.Now().Add(st.TTL)
		if err := m.persist(ctx, st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// WithExclusive acquires the session's lock with a bounded timeout,
// reads the latest state, invokes fn, writes the result back, and
// releases the lock — the wrapper every mutating operation goes
// through (spec §4.6 with_exclusive). If fn returns an error the state
// is not written back; the lock is always released.
func WithExclusive[T any](ctx context.Context, m *Manager, sessionID string, fn func(*State) (*State, T, error)) (T, error) {
	var zero T

	lock := m.lockFor(sessionID)
	acquireCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	if err := lock.Acquire(acquireCtx, 1); err != nil {
		return zero, katoerr.Wrap(katoerr.SessionBusy, sessionID, "session is busy", err)
	}
	defer lock.Release(1)

	st, err := m.load(ctx, sessionID)
	if err != nil {
		return zero, err
	}

	newState, result, err := fn(st)
	if err != nil {
		return zero, err
	}

	newState.LastAccess = time.Now()
	if newState.AutoExtend {
		newState.ExpiresAt = newState.LastAccess.Add(newState.TTL)
	}
	if err := m.persist(ctx, newState); err != nil {
		return zero, err
	}
	return result, nil
}

// Delete removes session state and its lock record (spec §4.6 delete).
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := m.kv.Delete(ctx, stateKey(sessionID)); err != nil {
		return katoerr.Wrap(katoerr.StorageUnavailable, sessionID, "failed to delete session", err)
	}
	m.mu.Lock()
	delete(m.locks, sessionID)
	m.mu.Unlock()
	return nil
}

// Count returns the number of non-expired sessions (spec §4.6 count).
func (m *Manager) Count(ctx context.Context) (int, error) {
	summaries, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(summaries), nil
}

// List returns a Summary for every non-expired session (spec §4.6
// list; surfaced shape decided in SPEC_FULL.md's supplemented
// features).
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	keys, err := m.kv.Keys(ctx, stateKeyPrefix)
	if err != nil {
		return nil, katoerr.Wrap(katoerr.StorageUnavailable, stateKeyPrefix, "failed to list sessions", err)
	}
	now := time.Now()
	out := make([]Summary, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := m.kv.Get(ctx, k)
		if err != nil {
			return nil, katoerr.Wrap(katoerr.StorageUnavailable, k, "failed to read session", err)
		}
		if !ok {
			continue
		}
		var st State
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, katoerr.Wrap(katoerr.StorageUnavailable, k, "failed to decode session", err)
		}
		if now.After(st.ExpiresAt) {
			continue
		}
		out = append(out, Summary{
			SessionID:  st.SessionID,
			KBID:       st.KBID,
			STMLength:  len(st.STM),
			CreatedAt:  st.CreatedAt,
			LastAccess: st.LastAccess,
			ExpiresAt:  st.ExpiresAt,
		})
	}
	return out, nil
}

func (m *Manager) load(ctx context.Context, sessionID string) (*State, error) {
	raw, ok, err := m.kv.Get(ctx, stateKey(sessionID))
	if err != nil {
		return nil, katoerr.Wrap(katoerr.StorageUnavailable, sessionID, "failed to read session", err)
	}
	if !ok {
		return nil, katoerr.New(katoerr.SessionNotFound, sessionID, "session not found")
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, katoerr.Wrap(katoerr.StorageUnavailable, sessionID, "failed to decode session", err)
	}
	if time.Now().After(st.ExpiresAt) {
		return nil, katoerr.New(katoerr.SessionNotFound, sessionID, "session expired")
	}
	return &st, nil
}

func (m *Manager) persist(ctx context.Context, st *State) error {
	enc, err := json.Marshal(st)
	if err != nil {
		return katoerr.Wrap(katoerr.StorageUnavailable, st.SessionID, "failed to encode session", err)
	}
	if err := m.kv.Set(ctx, stateKey(st.SessionID), enc); err != nil {
		return katoerr.Wrap(katoerr.StorageUnavailable, st.SessionID, "failed to persist session", err)
	}
	return nil
}
