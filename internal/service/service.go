// Package service is the application façade over the permission lifecycle:
// it owns transaction boundaries, decorates requests with persistence and
// notification, and is the only entry point external collaborators use to
// drive transitions.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gridgrant/internal/connector"
	"gridgrant/internal/events"
	"gridgrant/internal/metering"
	"gridgrant/internal/outbox"
	"gridgrant/internal/permission"
	"gridgrant/internal/permission/decorators"
	"gridgrant/internal/platform/metrics"
	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
)

// TxRunner executes fn inside one atomic unit. The SQL-backed runner opens
// a transaction and places it in ctx so the permission store and outbox
// stager join it; the no-op runner is for the in-memory profile.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// NoTx runs fn without a surrounding transaction.
func NoTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Service exposes the lifecycle operations. All state changes go through
// decorated requests so every committed transition has its event staged in
// the same atomic unit.
type Service struct {
	store     permission.Store
	stager    outbox.Stager
	registry  *connector.Registry
	run       TxRunner
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     func() time.Time
	tracer    trace.Tracer
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithClock injects the timestamp source for tests.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(store permission.Store, stager outbox.Stager, registry *connector.Registry, run TxRunner, opts ...ServiceOption) *Service {
	if run == nil {
		run = NoTx
	}
	s := &Service{
		store:    store,
		stager:   stager,
		registry: registry,
		run:      run,
		logger:   slog.Default(),
		clock:    time.Now,
		tracer:   otel.Tracer("gridgrant/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParams carries everything needed to open a new permission request.
type CreateParams struct {
	ConnectionID id.ConnectionID
	DataNeedID   id.DataNeedID
	Window       permission.Window
	Granularity  time.Duration
	DataSource   permission.DataSourceInformation
}

// Create opens a permission request and drives it through validation and
// hand-off to the permission administrator. The stored request plus its
// staged events commit as one unit; a malformed request is persisted in
// MALFORMED rather than rejected outright so its status is observable.
func (s *Service) Create(ctx context.Context, params CreateParams) (permission.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "permission.create")
	defer span.End()

	req, err := permission.New(
		params.ConnectionID,
		params.DataNeedID,
		params.Window,
		params.Granularity,
		params.DataSource,
		permission.WithClock(s.clock),
	)
	if err != nil {
		return permission.Snapshot{}, err
	}
	span.SetAttributes(attribute.String("permission_id", req.Snapshot().PermissionID.String()))

	var snap permission.Snapshot
	err = s.run(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, req.Snapshot()); err != nil {
			return err
		}
		if err := s.stager.Stage(ctx, statusEvent(req.Snapshot(), s.clock())); err != nil {
			return err
		}
		decorated := s.decorate(req)

		if reason := malformedReason(req.Snapshot()); reason != "" {
			s.logger.WarnContext(ctx, "permission request is malformed",
				"permission_id", req.Snapshot().PermissionID,
				"reason", reason,
			)
			if err := decorated.Apply(ctx, permission.TransitionMarkMalformed); err != nil {
				return err
			}
			snap = decorated.Snapshot()
			return nil
		}
		if err := decorated.Apply(ctx, permission.TransitionValidate); err != nil {
			return err
		}
		if _, err := s.resolveConnector(req.Snapshot()); err != nil {
			if markErr := decorated.Apply(ctx, permission.TransitionMarkUnableToSend); markErr != nil {
				return markErr
			}
			snap = decorated.Snapshot()
			return nil
		}
		if err := decorated.Apply(ctx, permission.TransitionSendToAdministrator); err != nil {
			return err
		}
		snap = decorated.Snapshot()
		return nil
	})
	if err != nil {
		return permission.Snapshot{}, err
	}

	if s.metrics != nil {
		s.metrics.PermissionsCreated.Inc()
	}
	s.logger.InfoContext(ctx, "permission request created",
		"permission_id", snap.PermissionID,
		"connection_id", snap.ConnectionID,
		"status", snap.Status,
	)
	return snap, nil
}

// Accept records the administrator's (or consumer's) approval.
func (s *Service) Accept(ctx context.Context, pid id.PermissionID) error {
	return s.applyTransition(ctx, pid, permission.TransitionAccept)
}

// Reject records the administrator's refusal.
func (s *Service) Reject(ctx context.Context, pid id.PermissionID) error {
	return s.applyTransition(ctx, pid, permission.TransitionReject)
}

// Invalid marks a request the administrator deemed unprocessable.
func (s *Service) Invalid(ctx context.Context, pid id.PermissionID) error {
	return s.applyTransition(ctx, pid, permission.TransitionMarkInvalid)
}

// Timeout expires a request the administrator never answered.
func (s *Service) Timeout(ctx context.Context, pid id.PermissionID) error {
	return s.applyTransition(ctx, pid, permission.TransitionMarkTimedOut)
}

// Fulfill records that the permission's data need has been satisfied.
func (s *Service) Fulfill(ctx context.Context, pid id.PermissionID) error {
	return s.applyTransition(ctx, pid, permission.TransitionFulfill)
}

// Unfulfillable records that the data need can never be satisfied.
func (s *Service) Unfulfillable(ctx context.Context, pid id.PermissionID) error {
	return s.applyTransition(ctx, pid, permission.TransitionMarkUnfulfillable)
}

// Terminate withdraws consent. When the region's administrator must end
// the permission on its side too, the request parks in
// REQUIRES_EXTERNAL_TERMINATION and the administrator call runs off this
// goroutine, reporting its outcome as a further transition. Without such
// an administrator the revocation completes immediately.
func (s *Service) Terminate(ctx context.Context, pid id.PermissionID) error {
	snap, err := s.Get(ctx, pid)
	if err != nil {
		return err
	}
	conn, err := s.resolveConnector(snap)
	if err != nil {
		return s.applyTransition(ctx, pid, permission.TransitionRevoke)
	}

	if err := s.applyTransition(ctx, pid, permission.TransitionRequireExternalTerm); err != nil {
		return err
	}
	go s.terminateExternally(context.WithoutCancel(ctx), pid, conn)
	return nil
}

func (s *Service) terminateExternally(ctx context.Context, pid id.PermissionID, conn connector.RegionConnector) {
	snap, err := s.Get(ctx, pid)
	if err != nil {
		s.logger.ErrorContext(ctx, "external termination lost its permission",
			"permission_id", pid, "error", err)
		return
	}
	next := permission.TransitionMarkTerminated
	if err := conn.RequestTermination(ctx, snap); err != nil {
		s.logger.WarnContext(ctx, "administrator refused termination",
			"permission_id", pid, "error", err)
		next = permission.TransitionMarkFailedToTerm
	}
	if err := s.applyTransition(ctx, pid, next); err != nil {
		s.logger.ErrorContext(ctx, "could not record termination outcome",
			"permission_id", pid, "error", err)
	}
}

// ExternallyTerminated records a termination initiated by the
// administrator rather than the consumer.
func (s *Service) ExternallyTerminated(ctx context.Context, pid id.PermissionID) error {
	return s.applyTransition(ctx, pid, permission.TransitionMarkExternallyTerm)
}

// RecordMeteringData feeds a batch of normalized readings into the
// document pipeline. Results for a permission no longer in an accepting
// state are discarded with a conflict error; the batch event and the
// fulfillment transition commit as one unit.
func (s *Service) RecordMeteringData(ctx context.Context, pid id.PermissionID, mp id.MeteringPointID, records []metering.Record) error {
	ctx, span := s.tracer.Start(ctx, "permission.record_metering_data")
	defer span.End()
	span.SetAttributes(
		attribute.String("permission_id", pid.String()),
		attribute.Int("records", len(records)),
	)

	return s.run(ctx, func(ctx context.Context) error {
		snap, err := s.store.Find(ctx, pid)
		if err != nil {
			return err
		}
		if snap.Status != permission.StatusAccepted && snap.Status != permission.StatusFulfilled {
			return dErrors.Newf(dErrors.CodeConflict,
				"permission %s in status %s does not accept metering data", pid, snap.Status)
		}

		if err := s.stager.Stage(ctx, events.MeteringDataReceived{
			PermissionID:  pid,
			MeteringPoint: mp,
			Records:       records,
			At:            s.clock(),
			BatchID:       uuid.NewString(),
		}); err != nil {
			return err
		}

		// Later batches for other meters under the same permission arrive
		// after the first one already fulfilled it.
		if snap.Status != permission.StatusAccepted {
			return nil
		}
		decorated := s.decorate(permission.Restore(snap))
		return decorated.Apply(ctx, permission.TransitionFulfill)
	})
}

// Get returns the current snapshot.
func (s *Service) Get(ctx context.Context, pid id.PermissionID) (permission.Snapshot, error) {
	return s.store.Find(ctx, pid)
}

func (s *Service) applyTransition(ctx context.Context, pid id.PermissionID, t permission.Transition) error {
	ctx, span := s.tracer.Start(ctx, "permission.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("permission_id", pid.String()),
		attribute.String("transition", string(t)),
	)

	var status permission.ProcessStatus
	err := s.run(ctx, func(ctx context.Context) error {
		snap, err := s.store.Find(ctx, pid)
		if err != nil {
			return err
		}
		decorated := s.decorate(permission.Restore(snap))
		if err := decorated.Apply(ctx, t); err != nil {
			return err
		}
		// Acceptance also stages the internal fetch trigger, in the same
		// unit as the status change.
		if t == permission.TransitionAccept {
			if err := s.stager.Stage(ctx, events.FetchRequested{
				PermissionID: pid,
				At:           s.clock(),
			}); err != nil {
				return err
			}
		}
		status = decorated.Snapshot().Status
		return nil
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.TransitionFailures.WithLabelValues(failureKind(err)).Inc()
		}
		s.logger.WarnContext(ctx, "transition failed",
			"permission_id", pid,
			"transition", t,
			"error", err,
		)
		return err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(status)).Inc()
	}
	s.logger.InfoContext(ctx, "permission transitioned",
		"permission_id", pid,
		"transition", t,
		"status", status,
	)
	return nil
}

func (s *Service) decorate(req *permission.Request) permission.Requester {
	return decorators.NewNotifying(
		decorators.NewPersisting(req, s.store),
		s.stager,
		decorators.WithClock(s.clock),
	)
}

func (s *Service) resolveConnector(snap permission.Snapshot) (connector.RegionConnector, error) {
	if s.registry == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "no connector registry configured")
	}
	return s.registry.Resolve(snap.DataSource.RegionConnector)
}

// malformedReason checks the request content the validation step answers
// for, beyond the structural checks permission.New already enforces. An
// empty string means the request is well formed.
func malformedReason(snap permission.Snapshot) string {
	if !snap.Window.End.After(snap.Window.Start) {
		return "window is empty"
	}
	if snap.Granularity%(15*time.Minute) != 0 {
		return "granularity is not a multiple of fifteen minutes"
	}
	return ""
}

func statusEvent(snap permission.Snapshot, at time.Time) events.StatusChanged {
	return events.StatusChanged{
		PermissionID: snap.PermissionID,
		ConnectionID: snap.ConnectionID,
		DataNeedID:   snap.DataNeedID,
		Status:       snap.Status,
		DataSource:   snap.DataSource,
		At:           at,
	}
}

func failureKind(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodePastState:
		return "past_state"
	case dErrors.CodeFutureState:
		return "future_state"
	case dErrors.CodeNotFound:
		return "not_found"
	case dErrors.CodeConflict:
		return "conflict"
	}
	return "internal"
}
