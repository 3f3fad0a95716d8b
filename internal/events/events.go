// Package events defines the domain events produced by permission
// transitions and the in-process bus that fans them out to reactors.
package events

import (
	"time"

	"gridgrant/internal/metering"
	"gridgrant/internal/permission"
	id "gridgrant/pkg/domain"
)

// Kind discriminates event payloads on the wire and in the bus's
// subscription table.
type Kind string

const (
	KindStatusChanged        Kind = "status_changed"
	KindMeteringDataReceived Kind = "metering_data_received"
	// KindFetchRequested is the internal trigger staged alongside an
	// acceptance. It starts the fulfillment fetch and never reaches
	// external subscribers.
	KindFetchRequested Kind = "fetch_requested"
)

// Event is an immutable fact produced by a committed transition or a data
// arrival. Internal events are delivered to reactors but filtered from
// externally-registered subscribers.
type Event interface {
	Kind() Kind
	Permission() id.PermissionID
	OccurredAt() time.Time
	Internal() bool
}

// StatusChanged records one successful lifecycle transition.
type StatusChanged struct {
	PermissionID id.PermissionID                  `json:"permission_id"`
	ConnectionID id.ConnectionID                  `json:"connection_id"`
	DataNeedID   id.DataNeedID                    `json:"data_need_id"`
	Status       permission.ProcessStatus         `json:"status"`
	DataSource   permission.DataSourceInformation `json:"data_source"`
	Message      string                           `json:"message,omitempty"`
	At           time.Time                        `json:"at"`
}

func (e StatusChanged) Kind() Kind                   { return KindStatusChanged }
func (e StatusChanged) Permission() id.PermissionID  { return e.PermissionID }
func (e StatusChanged) OccurredAt() time.Time        { return e.At }
func (e StatusChanged) Internal() bool               { return false }

// MeteringDataReceived carries a normalized batch of readings for one
// metering point under one permission.
type MeteringDataReceived struct {
	PermissionID   id.PermissionID    `json:"permission_id"`
	MeteringPoint  id.MeteringPointID `json:"metering_point"`
	Records        []metering.Record  `json:"records"`
	At             time.Time          `json:"at"`
	// BatchID makes redelivered batches recognizable to idempotent
	// consumers.
	BatchID string `json:"batch_id"`
}

func (e MeteringDataReceived) Kind() Kind                  { return KindMeteringDataReceived }
func (e MeteringDataReceived) Permission() id.PermissionID { return e.PermissionID }
func (e MeteringDataReceived) OccurredAt() time.Time       { return e.At }
func (e MeteringDataReceived) Internal() bool              { return false }

// FetchRequested asks the fulfillment machinery to pull metering data for an
// accepted permission. Staged in the same unit as the acceptance, so the
// fetch starts even when the process dies right after commit. Internal only.
type FetchRequested struct {
	PermissionID id.PermissionID `json:"permission_id"`
	At           time.Time       `json:"at"`
}

func (e FetchRequested) Kind() Kind                  { return KindFetchRequested }
func (e FetchRequested) Permission() id.PermissionID { return e.PermissionID }
func (e FetchRequested) OccurredAt() time.Time       { return e.At }
func (e FetchRequested) Internal() bool              { return true }
