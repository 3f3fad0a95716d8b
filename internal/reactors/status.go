// Package reactors holds the event-bus subscribers that turn committed
// lifecycle events into effects: status projection, data fetching,
// document assembly, and administrator timeouts. Reactors observe; they
// never call back into the originating transition.
package reactors

import (
	"context"
	"log/slog"
	"time"

	"gridgrant/internal/document"
	"gridgrant/internal/events"
	"gridgrant/internal/permission"
	"gridgrant/internal/stream"
	id "gridgrant/pkg/domain"
)

// ConnectionStatus is one externally-visible status update. Code carries
// the canonical document status code, never the internal status name alone.
type ConnectionStatus struct {
	PermissionID id.PermissionID                  `json:"permission_id"`
	ConnectionID id.ConnectionID                  `json:"connection_id"`
	DataNeedID   id.DataNeedID                    `json:"data_need_id"`
	DataSource   permission.DataSourceInformation `json:"data_source"`
	Status       permission.ProcessStatus         `json:"status"`
	Code         string                           `json:"code"`
	Message      string                           `json:"message,omitempty"`
	At           time.Time                        `json:"at"`
}

// ProjectionStore keeps the queryable per-permission status projection.
type ProjectionStore interface {
	UpsertStatus(ctx context.Context, status ConnectionStatus) error
}

// StatusReactor forwards StatusChanged events to the consumer-facing
// status stream and the status projection. Upserting by permission makes
// redelivery harmless.
type StatusReactor struct {
	out        *stream.Stream[ConnectionStatus]
	projection ProjectionStore
	logger     *slog.Logger
}

func NewStatusReactor(out *stream.Stream[ConnectionStatus], projection ProjectionStore, logger *slog.Logger) *StatusReactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusReactor{out: out, projection: projection, logger: logger}
}

// Register subscribes the reactor on the bus.
func (r *StatusReactor) Register(bus *events.Bus) {
	events.Subscribe(bus, "status-reactor", r.onStatusChanged)
}

func (r *StatusReactor) onStatusChanged(ctx context.Context, event events.StatusChanged) error {
	code, err := document.StatusCode(event.Status)
	if err != nil {
		return err
	}
	status := ConnectionStatus{
		PermissionID: event.PermissionID,
		ConnectionID: event.ConnectionID,
		DataNeedID:   event.DataNeedID,
		DataSource:   event.DataSource,
		Status:       event.Status,
		Code:         code,
		Message:      event.Message,
		At:           event.At,
	}
	if r.projection != nil {
		if err := r.projection.UpsertStatus(ctx, status); err != nil {
			return err
		}
	}
	if r.out != nil {
		return r.out.Publish(ctx, status)
	}
	return nil
}
