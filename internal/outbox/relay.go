package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"gridgrant/internal/events"
)

// RelayMetrics exposes delivery health for operators.
type RelayMetrics struct {
	Delivered  prometheus.Counter
	Redelivery prometheus.Counter
	Alerts     prometheus.Counter
}

func NewRelayMetrics() *RelayMetrics {
	return &RelayMetrics{
		Delivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridgrant_outbox_delivered_total",
			Help: "Outbox entries delivered to all subscribers.",
		}),
		Redelivery: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridgrant_outbox_redeliveries_total",
			Help: "Delivery attempts that failed and were retained for retry.",
		}),
		Alerts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridgrant_outbox_alerts_total",
			Help: "Entries whose attempt count crossed the alert threshold.",
		}),
	}
}

// Relay is the delivery loop: it reads staged entries in order, publishes
// them on the bus, and marks them delivered only when every subscriber
// succeeded. A failed entry stays undelivered and blocks later entries for
// the same permission, preserving per-permission order across redelivery.
type Relay struct {
	store          Store
	bus            *events.Bus
	logger         *slog.Logger
	metrics        *RelayMetrics
	pollInterval   time.Duration
	batchSize      int
	alertThreshold int
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

func WithLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *RelayMetrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

func WithPollInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithAlertThreshold sets the attempt count after which an entry is
// escalated to an operator-visible alert instead of retried silently.
func WithAlertThreshold(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.alertThreshold = n
		}
	}
}

func NewRelay(store Store, bus *events.Bus, opts ...RelayOption) *Relay {
	r := &Relay{
		store:          store,
		bus:            bus,
		logger:         slog.Default(),
		pollInterval:   200 * time.Millisecond,
		batchSize:      64,
		alertThreshold: 10,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled. Restart-safe: undelivered entries from
// a previous process are picked up before anything staged afterwards.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.DeliverPending(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox delivery pass failed", "error", err)
			}
		}
	}
}

// DeliverPending performs one delivery pass. Exported so tests and the
// simulation profile can drive delivery without the polling loop.
func (r *Relay) DeliverPending(ctx context.Context) error {
	tracer := otel.Tracer("gridgrant/outbox")
	entries, err := r.store.NextUndelivered(ctx, r.batchSize)
	if err != nil {
		return err
	}

	// A permission whose entry failed in this pass must not have later
	// entries delivered ahead of the failed one.
	blocked := make(map[string]bool)

	for _, entry := range entries {
		pid := entry.PermissionID.String()
		if blocked[pid] {
			continue
		}

		event, err := Decode(entry)
		if err != nil {
			// Undecodable entries cannot ever deliver; count the attempt
			// and keep them for operator inspection rather than dropping.
			// The alert fires at the threshold, not on every poll tick.
			blocked[pid] = true
			if markErr := r.store.RecordFailure(ctx, entry.Seq); markErr != nil {
				r.logger.ErrorContext(ctx, "could not record delivery failure",
					"seq", entry.Seq, "error", markErr)
			}
			if entry.Attempts+1 >= r.alertThreshold {
				r.alert(ctx, entry, err)
			} else {
				r.logger.WarnContext(ctx, "undecodable entry retained",
					"seq", entry.Seq,
					"event_kind", entry.EventKind,
					"permission_id", pid,
					"attempts", entry.Attempts+1,
					"error", err,
				)
			}
			continue
		}

		deliveryCtx, span := tracer.Start(ctx, "outbox.deliver")
		span.SetAttributes(
			attribute.String("event.kind", string(entry.EventKind)),
			attribute.Int64("outbox.seq", entry.Seq),
		)
		err = r.bus.Publish(deliveryCtx, event)
		span.End()

		if err != nil {
			blocked[pid] = true
			if r.metrics != nil {
				r.metrics.Redelivery.Inc()
			}
			if markErr := r.store.RecordFailure(ctx, entry.Seq); markErr != nil {
				r.logger.ErrorContext(ctx, "could not record delivery failure",
					"seq", entry.Seq, "error", markErr)
			}
			if entry.Attempts+1 >= r.alertThreshold {
				r.alert(ctx, entry, err)
			} else {
				r.logger.WarnContext(ctx, "delivery failed, entry retained",
					"seq", entry.Seq,
					"event_kind", entry.EventKind,
					"permission_id", pid,
					"attempts", entry.Attempts+1,
					"error", err,
				)
			}
			continue
		}

		if err := r.store.MarkDelivered(ctx, entry.Seq); err != nil {
			// The entry will be redelivered; subscribers are idempotent.
			r.logger.ErrorContext(ctx, "could not mark entry delivered",
				"seq", entry.Seq, "error", err)
			blocked[pid] = true
			continue
		}
		if r.metrics != nil {
			r.metrics.Delivered.Inc()
		}
	}
	return nil
}

func (r *Relay) alert(ctx context.Context, entry Entry, cause error) {
	if r.metrics != nil {
		r.metrics.Alerts.Inc()
	}
	r.logger.ErrorContext(ctx, "outbox entry requires operator attention",
		"seq", entry.Seq,
		"event_kind", entry.EventKind,
		"permission_id", entry.PermissionID,
		"attempts", entry.Attempts,
		"error", cause,
	)
}
