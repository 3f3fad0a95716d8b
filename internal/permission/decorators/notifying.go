package decorators

import (
	"context"
	"time"

	"gridgrant/internal/events"
	"gridgrant/internal/outbox"
	"gridgrant/internal/permission"
)

// NotifyingRequest stages a StatusChanged event after every successful
// transition. Staged through the outbox inside the caller's transaction,
// the event commits atomically with the state change.
type NotifyingRequest struct {
	inner  permission.Requester
	stager outbox.Stager
	clock  func() time.Time
}

// NotifyingOption configures a NotifyingRequest.
type NotifyingOption func(*NotifyingRequest)

// WithClock injects the event timestamp source for tests.
func WithClock(clock func() time.Time) NotifyingOption {
	return func(n *NotifyingRequest) {
		if clock != nil {
			n.clock = clock
		}
	}
}

func NewNotifying(inner permission.Requester, stager outbox.Stager, opts ...NotifyingOption) *NotifyingRequest {
	n := &NotifyingRequest{inner: inner, stager: stager, clock: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *NotifyingRequest) Snapshot() permission.Snapshot {
	return n.inner.Snapshot()
}

func (n *NotifyingRequest) Apply(ctx context.Context, t permission.Transition) error {
	if err := n.inner.Apply(ctx, t); err != nil {
		return err
	}
	snap := n.inner.Snapshot()
	return n.stager.Stage(ctx, events.StatusChanged{
		PermissionID: snap.PermissionID,
		ConnectionID: snap.ConnectionID,
		DataNeedID:   snap.DataNeedID,
		Status:       snap.Status,
		DataSource:   snap.DataSource,
		At:           n.clock(),
	})
}
