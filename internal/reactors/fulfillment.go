package reactors

import (
	"context"
	"log/slog"
	"sync"

	"gridgrant/internal/connector"
	"gridgrant/internal/events"
	"gridgrant/internal/metering"
	"gridgrant/internal/permission"
	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
)

// Lifecycle is the slice of the permission service the fulfillment
// reactor drives.
type Lifecycle interface {
	RecordMeteringData(ctx context.Context, pid id.PermissionID, mp id.MeteringPointID, records []metering.Record) error
	Unfulfillable(ctx context.Context, pid id.PermissionID) error
}

// FulfillmentReactor starts the data fetch when the fetch trigger staged
// with an acceptance is delivered. Fetches run off the dispatch goroutine
// so a slow source never starves delivery; revocation cancels outstanding
// fetches, and results arriving for a permission that no longer accepts
// them are discarded.
type FulfillmentReactor struct {
	store     permission.Store
	registry  *connector.Registry
	lifecycle Lifecycle
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[id.PermissionID]context.CancelFunc
	wg       sync.WaitGroup
}

func NewFulfillmentReactor(store permission.Store, registry *connector.Registry, lifecycle Lifecycle, logger *slog.Logger) *FulfillmentReactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FulfillmentReactor{
		store:     store,
		registry:  registry,
		lifecycle: lifecycle,
		logger:    logger,
		inflight:  make(map[id.PermissionID]context.CancelFunc),
	}
}

// Register subscribes the reactor on the bus: the internal fetch trigger
// starts work, status changes cancel it.
func (r *FulfillmentReactor) Register(bus *events.Bus) {
	events.SubscribeInternal(bus, "fulfillment-reactor", r.onFetchRequested)
	events.SubscribeInternal(bus, "fulfillment-reactor", r.onStatusChanged)
}

// Wait blocks until every in-flight fetch has finished. For shutdown and
// tests.
func (r *FulfillmentReactor) Wait() {
	r.wg.Wait()
}

func (r *FulfillmentReactor) onFetchRequested(ctx context.Context, event events.FetchRequested) error {
	r.startFetch(ctx, event.PermissionID)
	return nil
}

func (r *FulfillmentReactor) onStatusChanged(_ context.Context, event events.StatusChanged) error {
	switch event.Status {
	case permission.StatusRevoked,
		permission.StatusRequiresExternalTerm,
		permission.StatusTerminated,
		permission.StatusExternallyTerminated:
		r.cancelFetch(event.PermissionID)
	}
	return nil
}

func (r *FulfillmentReactor) startFetch(ctx context.Context, pid id.PermissionID) {
	// Detach from the dispatch context's cancellation but keep its values;
	// the fetch outlives delivery of the triggering event.
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	r.mu.Lock()
	if _, running := r.inflight[pid]; running {
		r.mu.Unlock()
		cancel()
		return
	}
	r.inflight[pid] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.cancelFetch(pid)
		r.fetch(fetchCtx, pid)
	}()
}

func (r *FulfillmentReactor) cancelFetch(pid id.PermissionID) {
	r.mu.Lock()
	cancel, ok := r.inflight[pid]
	if ok {
		delete(r.inflight, pid)
	}
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func (r *FulfillmentReactor) fetch(ctx context.Context, pid id.PermissionID) {
	snap, err := r.store.Find(ctx, pid)
	if err != nil {
		r.logger.ErrorContext(ctx, "fetch lost its permission", "permission_id", pid, "error", err)
		return
	}
	conn, err := r.registry.Resolve(snap.DataSource.RegionConnector)
	if err != nil {
		r.logger.ErrorContext(ctx, "no connector for accepted permission",
			"permission_id", pid,
			"region", snap.DataSource.RegionConnector,
			"error", err,
		)
		if err := r.lifecycle.Unfulfillable(ctx, pid); err != nil {
			r.logger.ErrorContext(ctx, "could not mark permission unfulfillable",
				"permission_id", pid, "error", err)
		}
		return
	}

	records, err := conn.FetchMeteringData(ctx, snap)
	if err != nil {
		if ctx.Err() != nil {
			r.logger.InfoContext(ctx, "fetch cancelled", "permission_id", pid)
			return
		}
		// The connector already retried with backoff; a surfaced error is
		// final for this data need.
		r.logger.WarnContext(ctx, "data fetch failed", "permission_id", pid, "error", err)
		if err := r.lifecycle.Unfulfillable(ctx, pid); err != nil {
			r.logger.ErrorContext(ctx, "could not mark permission unfulfillable",
				"permission_id", pid, "error", err)
		}
		return
	}

	for mp, group := range groupByMeteringPoint(records) {
		if err := r.lifecycle.RecordMeteringData(ctx, pid, mp, group); err != nil {
			if dErrors.Is(err, dErrors.CodeConflict) {
				r.logger.InfoContext(ctx, "discarding fetch result, permission moved on",
					"permission_id", pid, "metering_point", mp)
				continue
			}
			r.logger.ErrorContext(ctx, "could not record metering data",
				"permission_id", pid, "metering_point", mp, "error", err)
		}
	}
}

func groupByMeteringPoint(records []metering.Record) map[id.MeteringPointID][]metering.Record {
	groups := make(map[id.MeteringPointID][]metering.Record)
	for _, rec := range records {
		groups[rec.MeteringPoint] = append(groups[rec.MeteringPoint], rec)
	}
	return groups
}
