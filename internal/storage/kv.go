// Package storage defines the narrow interfaces the core talks to
// underlying storage engines through (spec §1, §6): a columnar store
// for pattern rows, a KV store for mutable metadata and session state,
// and a vector index for ANN lookup. The engines themselves are out of
// scope; what lives here are the interfaces plus an in-process
// reference implementation of each, sufficient to exercise every
// invariant in spec §8 without an external process.
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/EchoCog/katocore/internal/katoerr"
)

// KVStore holds mutable metadata: session state, pattern frequency and
// emotive rings, symbol statistics (spec §6 persisted-state layout).
// Increment must be atomic across concurrent callers (spec §5).
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	Delete(ctx context.Context, key string) error
	// Keys lists all keys with the given prefix, used for count()/list()
	// style observability and for clear_all_memory's symbol-stat sweep.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// MemKV is the in-process reference KV store: a mutex-guarded map,
// grounded on the teacher's Engine.agents map+sync.RWMutex idiom
// (orchestration/engine.go) generalized to a byte-value store with an
// atomic increment primitive.
type MemKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemKV constructs an empty in-process KV store.
func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func (m *MemKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *MemKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *MemKV) Increment(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := decodeInt64(m.data[key])
	cur += delta
	m.data[key] = encodeInt64(cur)
	return cur, nil
}

func (m *MemKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemKV) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DeletePrefix removes every key under a prefix, used by clear_all_memory.
func (m *MemKV) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := m.Keys(ctx, prefix)
	if err != nil {
		return katoerr.Wrap(katoerr.StorageUnavailable, prefix, "failed to list keys for deletion", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func encodeInt64(v int64) []byte {
	// Decimal text encoding keeps the store byte-value-agnostic (a real
	// KV backend stores opaque bytes); parsing failures can't happen
	// since only Increment and decodeInt64 ever produce/consume this.
	return []byte(itoa(v))
}

func decodeInt64(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	var neg bool
	s := string(b)
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	var v int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		v = v*10 + int64(c-'0')
	}
	if neg {
		v = -v
	}
	return v
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
