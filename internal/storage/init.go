package storage

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Backends bundles the three storage collaborators the core talks to
// (spec §6): KV for mutable metadata, Columnar for pattern rows,
// Vectors for the ANN collection.
type Backends struct {
	KV       KVStore
	Columnar ColumnarStore
	Vectors  VectorIndex
}

var (
	mu     sync.RWMutex
	shared *Backends
	group  singleflight.Group
)

// Shared returns the process-wide Backends, guarding construction so
// two simultaneous first-use requests never both build (and corrupt)
// the client (spec §4.6 "Initialization race"). The fast path is a
// plain RLock check; the slow path collapses concurrent first callers
// onto a single factory invocation via golang.org/x/sync/singleflight
// (a direct teacher dependency) before publishing the result for every
// future fast-path read.
func Shared(factory func() (*Backends, error)) (*Backends, error) {
	mu.RLock()
	if shared != nil {
		defer mu.RUnlock()
		return shared, nil
	}
	mu.RUnlock()

	v, err, _ := group.Do("backends", func() (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		if shared != nil {
			return shared, nil
		}
		b, err := factory()
		if err != nil {
			return nil, err
		}
		shared = b
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Backends), nil
}

// ResetShared clears the published Backends. Test-only: production
// code publishes exactly once per process lifetime.
func ResetShared() {
	mu.Lock()
	defer mu.Unlock()
	shared = nil
}

// NewInMemoryBackends builds the in-process reference implementation
// of all three collaborators, suitable as Shared's factory in tests
// and in the default (non-durable) run mode.
func NewInMemoryBackends() (*Backends, error) {
	return &Backends{
		KV:       NewMemKV(),
		Columnar: NewArrowColumnarStore(),
		Vectors:  NewGonumVectorIndex(),
	}, nil
}
