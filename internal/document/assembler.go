package document

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"gridgrant/internal/metering"
	"gridgrant/internal/permission"
	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
)

// AssemblyError is the hard failure of an assembly call: a required fixed
// identifier could not be resolved. Identifiable by permission so
// collaborators can react per permission instead of halting the pipeline.
type AssemblyError struct {
	PermissionID id.PermissionID
	Reason       string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembly failed for permission %s: %s", e.PermissionID, e.Reason)
}

func (e *AssemblyError) DomainCode() dErrors.Code {
	return dErrors.CodeAssembly
}

// DirectionResolver derives flow direction from a record using the
// source's own encoding rule, e.g. metering point or channel code ranges.
type DirectionResolver func(metering.Record) metering.Direction

// QualityMapper maps a source-encoded quality indicator to a canonical
// bucket. A false return means the indicator is unknown to the source.
type QualityMapper func(source string) (QualityCode, bool)

// UnitNormalizer converts a reported quantity to the canonical unit (kWh).
// A false return excludes the point from its series.
type UnitNormalizer func(quantity float64, unit string) (float64, bool)

// LocationResolver picks the civil time zone whose calendar days bound
// day-based intervals.
type LocationResolver func(country id.CountryCode) *time.Location

// Assembler renders permission metadata plus normalized records into one
// envelope per call. Source-specific behavior comes in as strategies; the
// assembler itself is the same for every region.
type Assembler struct {
	sender       string
	receiver     string
	documentType string
	direction    DirectionResolver
	quality      QualityMapper
	unit         UnitNormalizer
	location     LocationResolver
	logger       *slog.Logger
	clock        func() time.Time
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithDirectionResolver replaces the default resolver, which trusts the
// record's own direction and treats unknown as consumption.
func WithDirectionResolver(r DirectionResolver) AssemblerOption {
	return func(a *Assembler) {
		if r != nil {
			a.direction = r
		}
	}
}

// WithQualityMapper replaces the default mapper, which only recognizes the
// canonical codes themselves.
func WithQualityMapper(m QualityMapper) AssemblerOption {
	return func(a *Assembler) {
		if m != nil {
			a.quality = m
		}
	}
}

// WithUnitNormalizer replaces the default normalizer, which handles the
// Wh/kWh/MWh family.
func WithUnitNormalizer(n UnitNormalizer) AssemblerOption {
	return func(a *Assembler) {
		if n != nil {
			a.unit = n
		}
	}
}

// WithLocationResolver replaces the default resolver, which looks the zone
// up by the permission's country and falls back to UTC.
func WithLocationResolver(r LocationResolver) AssemblerOption {
	return func(a *Assembler) {
		if r != nil {
			a.location = r
		}
	}
}

func WithDocumentType(t string) AssemblerOption {
	return func(a *Assembler) { a.documentType = t }
}

func WithLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock injects the header timestamp source for tests.
func WithClock(clock func() time.Time) AssemblerOption {
	return func(a *Assembler) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewAssembler builds an assembler with the fixed sender and receiver
// party identifiers. Their absence is not checked here; Assemble reports
// it as a typed failure per call.
func NewAssembler(sender, receiver string, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		sender:       sender,
		receiver:     receiver,
		documentType: DocumentTypeValidatedHistoricalData,
		direction:    defaultDirection,
		quality:      defaultQuality,
		unit:         defaultUnit,
		location:     Location,
		logger:       slog.Default(),
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type seriesKey struct {
	meteringPoint id.MeteringPointID
	direction     metering.Direction
}

// Assemble produces exactly one envelope for the given permission snapshot
// and records. No readings yields an empty series list, not an error.
func (a *Assembler) Assemble(ctx context.Context, snap permission.Snapshot, records []metering.Record) (Envelope, error) {
	if a.sender == "" || a.receiver == "" {
		return Envelope{}, &AssemblyError{PermissionID: snap.PermissionID, Reason: "sender and receiver party identifiers are required"}
	}
	if a.documentType == "" {
		return Envelope{}, &AssemblyError{PermissionID: snap.PermissionID, Reason: "document type is required"}
	}

	interval := a.periodInterval(snap)
	groups := make(map[seriesKey][]metering.Record)
	for _, rec := range records {
		if rec.MeteringPoint == "" || rec.Timestamp.IsZero() {
			a.logger.WarnContext(ctx, "skipping malformed reading",
				"permission_id", snap.PermissionID,
				"metering_point", rec.MeteringPoint,
			)
			continue
		}
		key := seriesKey{meteringPoint: rec.MeteringPoint, direction: a.direction(rec)}
		groups[key] = append(groups[key], rec)
	}

	keys := make([]seriesKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	// Deterministic series order keeps redelivered assemblies structurally
	// identical.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].meteringPoint != keys[j].meteringPoint {
			return keys[i].meteringPoint < keys[j].meteringPoint
		}
		return keys[i].direction < keys[j].direction
	})

	series := make([]TimeSeries, 0, len(keys))
	for _, key := range keys {
		group := groups[key]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		points := make([]Point, 0, len(group))
		for _, rec := range group {
			quantity, ok := a.unit(rec.Quantity, rec.Unit)
			if !ok {
				a.logger.WarnContext(ctx, "excluding point with unmappable unit",
					"permission_id", snap.PermissionID,
					"metering_point", rec.MeteringPoint,
					"unit", rec.Unit,
				)
				continue
			}
			quality, ok := a.quality(rec.Quality)
			if !ok {
				a.logger.WarnContext(ctx, "unknown quality indicator, marking not available",
					"permission_id", snap.PermissionID,
					"metering_point", rec.MeteringPoint,
					"quality", rec.Quality,
				)
				quality = QualityNotAvailable
			}
			points = append(points, Point{
				Position: len(points) + 1,
				Quantity: quantity,
				Quality:  quality,
			})
		}
		if len(points) == 0 {
			continue
		}

		series = append(series, TimeSeries{
			MRID:          uuid.NewString(),
			MeteringPoint: key.meteringPoint,
			Direction:     key.direction,
			Resolution:    isoDuration(snap.Granularity),
			Interval:      interval,
			Points:        points,
		})
	}

	scheme := CodingScheme(snap.DataSource.Country)
	return Envelope{
		Header: Header{
			MRID:            uuid.NewString(),
			CreatedAt:       a.clock(),
			DocumentType:    a.documentType,
			PermissionID:    snap.PermissionID,
			ConnectionID:    snap.ConnectionID,
			DataNeedID:      snap.DataNeedID,
			RegionConnector: snap.DataSource.RegionConnector,
			Country:         snap.DataSource.Country,
			Sender:          Party{ID: a.sender, CodingScheme: scheme},
			Receiver:        Party{ID: a.receiver, CodingScheme: scheme},
		},
		Series: series,
	}, nil
}

// periodInterval is the requested window, clipped outward to calendar day
// boundaries when the data need is day-based. Days are the wall-clock days
// of the region's civil time zone, so an FR window clips on Paris
// midnights, not UTC ones.
func (a *Assembler) periodInterval(snap permission.Snapshot) Interval {
	start, end := snap.Window.Start, snap.Window.End
	if snap.Granularity >= 24*time.Hour && snap.Granularity%(24*time.Hour) == 0 {
		loc := a.location(snap.DataSource.Country)
		start = startOfDay(start.In(loc))
		if dayStart := startOfDay(end.In(loc)); dayStart.Before(end) {
			// AddDate keeps the result on a midnight across DST changes.
			end = dayStart.AddDate(0, 0, 1)
		}
	}
	return Interval{Start: start, End: end}
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func defaultDirection(rec metering.Record) metering.Direction {
	if rec.Direction == metering.DirectionProduction {
		return metering.DirectionProduction
	}
	return metering.DirectionConsumption
}

func defaultQuality(source string) (QualityCode, bool) {
	switch source {
	case string(QualityAsProvided), "as_provided":
		return QualityAsProvided, true
	case string(QualityAdjusted), "adjusted", "estimated":
		return QualityAdjusted, true
	case string(QualityNotAvailable), "not_available":
		return QualityNotAvailable, true
	}
	return "", false
}

func defaultUnit(quantity float64, unit string) (float64, bool) {
	switch unit {
	case "kWh", "":
		return quantity, true
	case "Wh":
		return quantity / 1000, true
	case "MWh":
		return quantity * 1000, true
	}
	return 0, false
}
