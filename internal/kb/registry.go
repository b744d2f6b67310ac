// Package kb implements the minimal knowledge-base registry: a KB is
// never implicitly created (spec §3), so something must track which
// kb_ids have been explicitly created (SPEC_FULL.md supplemented
// feature).
package kb

import (
	"context"

	"github.com/EchoCog/katocore/internal/katoerr"
	"github.com/EchoCog/katocore/internal/storage"
)

const existsKeyPrefix = "kb:exists:"

func existsKey(kbID string) string { return existsKeyPrefix + kbID }

// Registry tracks which kb_ids have been explicitly created.
type Registry struct {
	kv storage.KVStore
}

// New constructs a KB Registry over the given KV store.
func New(kv storage.KVStore) *Registry {
	return &Registry{kv: kv}
}

// Create marks kb_id as existing. Idempotent: creating an already-
// existing KB is not an error.
func (r *Registry) Create(ctx context.Context, kbID string) error {
	if err := r.kv.Set(ctx, existsKey(kbID), []byte{1}); err != nil {
		return katoerr.Wrap(katoerr.StorageUnavailable, kbID, "failed to create KB", err)
	}
	return nil
}

// Exists reports whether kb_id has been created.
func (r *Registry) Exists(ctx context.Context, kbID string) (bool, error) {
	_, ok, err := r.kv.Get(ctx, existsKey(kbID))
	if err != nil {
		return false, katoerr.Wrap(katoerr.StorageUnavailable, kbID, "failed to check KB existence", err)
	}
	return ok, nil
}

// Require fails fast with KbNotFound if kb_id has not been created
// (spec §3: "A KB is never implicitly created; a session's kb_id must
// already exist or be created by an explicit operation").
func (r *Registry) Require(ctx context.Context, kbID string) error {
	ok, err := r.Exists(ctx, kbID)
	if err != nil {
		return err
	}
	if !ok {
		return katoerr.New(katoerr.KbNotFound, kbID, "knowledge base does not exist")
	}
	return nil
}
