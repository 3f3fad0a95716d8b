// Package document assembles normalized metering records and permission
// metadata into the standardized market-document envelope consumed by
// egress collaborators. Envelopes are immutable after assembly.
package document

import (
	"fmt"
	"time"

	"gridgrant/internal/metering"
	id "gridgrant/pkg/domain"
)

// DocumentTypeValidatedHistoricalData is the fixed document type for
// validated historical metering data.
const DocumentTypeValidatedHistoricalData = "E66"

// QualityCode is one of the three canonical point-quality buckets.
type QualityCode string

const (
	QualityAsProvided   QualityCode = "A04"
	QualityAdjusted     QualityCode = "A03"
	QualityNotAvailable QualityCode = "A02"
)

// Party is a market participant reference. CodingScheme is empty when the
// permission's country has no registered scheme.
type Party struct {
	ID           string `json:"id"`
	CodingScheme string `json:"coding_scheme,omitempty"`
}

// Interval is a half-open [Start, End) period.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Point is one reading inside a series. Positions are 1-based and strictly
// ascending in chronological order.
type Point struct {
	Position int         `json:"position"`
	Quantity float64     `json:"quantity"`
	Quality  QualityCode `json:"quality"`
}

// TimeSeries carries the readings of one (metering point, direction) pair.
type TimeSeries struct {
	MRID          string             `json:"mrid"`
	MeteringPoint id.MeteringPointID `json:"metering_point"`
	Direction     metering.Direction `json:"direction"`
	// Resolution is the nominal sampling interval as an ISO 8601 duration,
	// declared by the data need, never inferred from gaps in the data.
	Resolution string     `json:"resolution"`
	Interval   Interval   `json:"interval"`
	Points     []Point    `json:"points"`
}

// Header identifies the envelope and the permission it was assembled for.
type Header struct {
	MRID            string           `json:"mrid"`
	CreatedAt       time.Time        `json:"created_at"`
	DocumentType    string           `json:"document_type"`
	PermissionID    id.PermissionID  `json:"permission_id"`
	ConnectionID    id.ConnectionID  `json:"connection_id"`
	DataNeedID      id.DataNeedID    `json:"data_need_id"`
	RegionConnector string           `json:"region_connector"`
	Country         id.CountryCode   `json:"country"`
	Sender          Party            `json:"sender"`
	Receiver        Party            `json:"receiver"`
}

// Envelope is one assembled market document. An empty Series list is a
// valid document for a window with no readings.
type Envelope struct {
	Header Header       `json:"header"`
	Series []TimeSeries `json:"series"`
}

// isoDuration renders a duration as an ISO 8601 period string, day-based
// when the duration is a whole number of days.
func isoDuration(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}
	if d%(24*time.Hour) == 0 {
		return fmt.Sprintf("P%dD", d/(24*time.Hour))
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("PT%dH", d/time.Hour)
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("PT%dM", d/time.Minute)
	}
	return fmt.Sprintf("PT%dS", d/time.Second)
}
