package reactors

import (
	"context"
	"log/slog"

	"gridgrant/internal/document"
	"gridgrant/internal/events"
	"gridgrant/internal/permission"
	"gridgrant/internal/platform/metrics"
	"gridgrant/internal/stream"
	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
)

// DocumentResult is one item on the document output stream: either an
// assembled envelope or a per-permission assembly failure. The pipeline
// never halts for one permission's failure.
type DocumentResult struct {
	PermissionID id.PermissionID
	Envelope     *document.Envelope
	Err          error
}

// DocumentReactor assembles a market document for every metering data
// batch. The event's batch identity is the dedup key, so a redelivered
// batch never emits a second envelope.
type DocumentReactor struct {
	store     permission.Store
	assembler *document.Assembler
	out       *stream.Stream[DocumentResult]
	dedup     Deduper
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// DocumentReactorOption configures a DocumentReactor.
type DocumentReactorOption func(*DocumentReactor)

func WithDocumentLogger(logger *slog.Logger) DocumentReactorOption {
	return func(r *DocumentReactor) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithDocumentMetrics(m *metrics.Metrics) DocumentReactorOption {
	return func(r *DocumentReactor) { r.metrics = m }
}

func NewDocumentReactor(
	store permission.Store,
	assembler *document.Assembler,
	out *stream.Stream[DocumentResult],
	dedup Deduper,
	opts ...DocumentReactorOption,
) *DocumentReactor {
	r := &DocumentReactor{
		store:     store,
		assembler: assembler,
		out:       out,
		dedup:     dedup,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register subscribes the reactor on the bus.
func (r *DocumentReactor) Register(bus *events.Bus) {
	events.Subscribe(bus, "document-reactor", r.onMeteringData)
}

func (r *DocumentReactor) onMeteringData(ctx context.Context, event events.MeteringDataReceived) error {
	if r.dedup != nil && event.BatchID != "" {
		seen, err := r.dedup.Seen(ctx, batchKey(event))
		if err != nil {
			return err
		}
		if seen {
			if r.metrics != nil {
				r.metrics.DuplicatesSuppressed.Inc()
			}
			r.logger.InfoContext(ctx, "suppressing duplicate metering batch",
				"permission_id", event.PermissionID,
				"batch_id", event.BatchID,
			)
			return nil
		}
	}

	snap, err := r.store.Find(ctx, event.PermissionID)
	if err != nil {
		return err
	}

	envelope, err := r.assembler.Assemble(ctx, snap, event.Records)
	if err != nil {
		if !dErrors.Is(err, dErrors.CodeAssembly) {
			return err
		}
		// A hard assembly failure is a per-permission error signal, not a
		// pipeline stall. The entry is consumed.
		if r.metrics != nil {
			r.metrics.AssemblyFailures.Inc()
		}
		r.logger.ErrorContext(ctx, "document assembly failed",
			"permission_id", event.PermissionID,
			"error", err,
		)
		if err := r.out.Publish(ctx, DocumentResult{PermissionID: event.PermissionID, Err: err}); err != nil {
			return err
		}
		r.markProcessed(ctx, event)
		return nil
	}

	if r.metrics != nil {
		r.metrics.DocumentsAssembled.Inc()
	}
	if err := r.out.Publish(ctx, DocumentResult{PermissionID: event.PermissionID, Envelope: &envelope}); err != nil {
		return err
	}
	r.markProcessed(ctx, event)
	return nil
}

// markProcessed records the batch key only after its result reached the
// stream. A failure anywhere before this point leaves the key open, so the
// outbox redelivery is processed instead of suppressed.
func (r *DocumentReactor) markProcessed(ctx context.Context, event events.MeteringDataReceived) {
	if r.dedup == nil || event.BatchID == "" {
		return
	}
	if err := r.dedup.Mark(ctx, batchKey(event)); err != nil {
		// The result is already on the stream; an unmarked key only risks a
		// duplicate envelope on redelivery.
		r.logger.WarnContext(ctx, "could not mark metering batch processed",
			"permission_id", event.PermissionID,
			"batch_id", event.BatchID,
			"error", err,
		)
	}
}

func batchKey(event events.MeteringDataReceived) string {
	return "batch:" + event.BatchID
}
