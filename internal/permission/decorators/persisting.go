// Package decorators layers persistence and event notification around a
// permission request without the state machine knowing about storage or
// messaging. Behavior is added by wrapping the Requester interface, never
// by subclassing a concrete type; the caller chooses the composition order.
package decorators

import (
	"context"

	"gridgrant/internal/permission"
)

// PersistingRequest saves the new snapshot after every successful
// transition. When the save fails the transition is reported as failed even
// though the in-memory state already changed; the wrapped object is then
// unusable and the caller must reload from storage.
type PersistingRequest struct {
	inner permission.Requester
	store permission.Store
}

func NewPersisting(inner permission.Requester, store permission.Store) *PersistingRequest {
	return &PersistingRequest{inner: inner, store: store}
}

func (p *PersistingRequest) Snapshot() permission.Snapshot {
	return p.inner.Snapshot()
}

func (p *PersistingRequest) Apply(ctx context.Context, t permission.Transition) error {
	if err := p.inner.Apply(ctx, t); err != nil {
		return err
	}
	return p.store.Save(ctx, p.inner.Snapshot())
}
