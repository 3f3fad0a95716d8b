// Package metering defines the normalized reading shape adapters produce
// and the document assembler consumes. The assembler never talks to an
// adapter directly, only to this shape.
package metering

import (
	"time"

	id "gridgrant/pkg/domain"
)

// Direction classifies energy flow at the metering point.
type Direction string

const (
	DirectionConsumption Direction = "consumption"
	DirectionProduction  Direction = "production"
	// DirectionUnknown marks records whose source encoding has not been
	// resolved yet; a source-specific strategy resolves it at assembly time.
	DirectionUnknown Direction = "unknown"
)

// Record is one normalized reading. Quality and Unit keep the source's own
// encoding; mapping to canonical codes happens in the assembler via
// source-supplied strategies.
type Record struct {
	MeteringPoint  id.MeteringPointID `json:"metering_point"`
	Timestamp      time.Time          `json:"timestamp"`
	IntervalLength time.Duration      `json:"interval_length,omitempty"`
	Quantity       float64            `json:"quantity"`
	Quality        string             `json:"quality"`
	Direction      Direction          `json:"direction"`
	Unit           string             `json:"unit"`
}
