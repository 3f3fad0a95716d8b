// Package connector defines the contract between the lifecycle engine and
// the national data-source adapters, plus the static registry the engine
// resolves adapters from at startup.
package connector

import (
	"context"
	"fmt"
	"sort"

	"gridgrant/internal/metering"
	"gridgrant/internal/permission"
	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
)

// Metadata describes one region connector.
type Metadata struct {
	// Region is the registry key, e.g. "fr-region" or "simulation".
	Region string
	// Country the connector serves.
	Country id.CountryCode
	// PermissionAdministrator the connector talks to.
	PermissionAdministrator string
}

// RegionConnector is a thin, swappable protocol client for one national
// data source. Implementations perform their own retries with backoff;
// the engine only records the outcome.
type RegionConnector interface {
	Metadata() Metadata
	// FetchMeteringData pulls normalized readings for the permission's
	// window. Called off the dispatch goroutine; ctx is cancelled when the
	// permission is revoked.
	FetchMeteringData(ctx context.Context, snap permission.Snapshot) ([]metering.Record, error)
	// RequestTermination asks the administrator to end the permission on
	// its side.
	RequestTermination(ctx context.Context, snap permission.Snapshot) error
}

// Registry resolves connectors by region identifier. Populated once at
// startup, read-only afterwards.
type Registry struct {
	connectors map[string]RegionConnector
}

func NewRegistry(connectors ...RegionConnector) (*Registry, error) {
	r := &Registry{connectors: make(map[string]RegionConnector, len(connectors))}
	for _, c := range connectors {
		region := c.Metadata().Region
		if region == "" {
			return nil, dErrors.New(dErrors.CodeInternal, "connector has no region identifier")
		}
		if _, exists := r.connectors[region]; exists {
			return nil, dErrors.Newf(dErrors.CodeInternal, "duplicate connector for region %q", region)
		}
		r.connectors[region] = c
	}
	return r, nil
}

// Resolve returns the connector for a region.
func (r *Registry) Resolve(region string) (RegionConnector, error) {
	c, ok := r.connectors[region]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no connector registered for region %q", region)
	}
	return c, nil
}

// Regions lists the registered region identifiers, sorted.
func (r *Registry) Regions() []string {
	regions := make([]string, 0, len(r.connectors))
	for region := range r.connectors {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	return regions
}

// Simulation is the in-process connector used by tests and the demo
// profile. It generates one deterministic consumption reading per
// granularity step of the requested window.
type Simulation struct {
	meta Metadata
}

func NewSimulation() *Simulation {
	return &Simulation{meta: Metadata{
		Region:                  "simulation",
		Country:                 "FR",
		PermissionAdministrator: "SIM",
	}}
}

func (s *Simulation) Metadata() Metadata { return s.meta }

func (s *Simulation) FetchMeteringData(ctx context.Context, snap permission.Snapshot) ([]metering.Record, error) {
	if snap.Granularity <= 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "granularity must be positive")
	}
	mp := id.MeteringPointID(fmt.Sprintf("sim-%s", snap.PermissionID))

	var records []metering.Record
	for ts := snap.Window.Start; ts.Before(snap.Window.End); ts = ts.Add(snap.Granularity) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		records = append(records, metering.Record{
			MeteringPoint:  mp,
			Timestamp:      ts,
			IntervalLength: snap.Granularity,
			// Deterministic sawtooth so repeated fetches are comparable.
			Quantity:  1.0 + float64(ts.Hour()%4)/10,
			Quality:   "as_provided",
			Direction: metering.DirectionConsumption,
			Unit:      "kWh",
		})
	}
	return records, nil
}

func (s *Simulation) RequestTermination(_ context.Context, _ permission.Snapshot) error {
	return nil
}
