// Package outbox is the durable staging area between "transition committed"
// and "event visible on the bus". An event is staged in the same atomic
// unit as the state change that produced it; a relay delivers staged
// entries to the bus and marks them delivered only after every subscriber
// processed them.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"gridgrant/internal/events"
	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
)

// Entry is one staged event. Seq is assigned by the store and defines
// delivery order; per-permission order follows from global order plus a
// single relay.
type Entry struct {
	Seq          int64
	EventKind    events.Kind
	PermissionID id.PermissionID
	Payload      []byte
	StagedAt     time.Time
	DeliveredAt  *time.Time
	Attempts     int
}

// Stager is the narrow interface transition decorators write through.
// Implementations join the ambient SQL transaction when one is present.
type Stager interface {
	Stage(ctx context.Context, event events.Event) error
}

// Store persists staged entries for the relay.
type Store interface {
	Stager
	// NextUndelivered returns undelivered entries in staging order.
	NextUndelivered(ctx context.Context, limit int) ([]Entry, error)
	// MarkDelivered records that every subscriber processed the entry.
	MarkDelivered(ctx context.Context, seq int64) error
	// RecordFailure bumps the attempt counter, keeping the entry
	// undelivered for redelivery.
	RecordFailure(ctx context.Context, seq int64) error
}

// Encode serializes an event for staging.
func Encode(event events.Event) (Entry, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Entry{}, dErrors.Wrap(dErrors.CodeInternal, "encode outbox event", err)
	}
	return Entry{
		EventKind:    event.Kind(),
		PermissionID: event.Permission(),
		Payload:      payload,
		StagedAt:     event.OccurredAt(),
	}, nil
}

// Decode rebuilds the typed event from a staged entry.
func Decode(e Entry) (events.Event, error) {
	switch e.EventKind {
	case events.KindStatusChanged:
		var ev events.StatusChanged
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "decode status event", err)
		}
		return ev, nil
	case events.KindMeteringDataReceived:
		var ev events.MeteringDataReceived
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "decode metering event", err)
		}
		return ev, nil
	case events.KindFetchRequested:
		var ev events.FetchRequested
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "decode fetch event", err)
		}
		return ev, nil
	default:
		return nil, dErrors.Newf(dErrors.CodeInternal, "unknown outbox event kind %q", e.EventKind)
	}
}
