package permission

import (
	"context"
	"time"

	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
)

// DataSourceInformation identifies where a permission's data comes from.
// Opaque to the lifecycle engine; the document assembler and the connector
// registry are its only readers.
type DataSourceInformation struct {
	Country                 id.CountryCode
	RegionConnector         string
	PermissionAdministrator string
}

// Window is the requested data window, half-open [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Validate enforces that the window is well-formed.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return dErrors.New(dErrors.CodeBadRequest, "window start and end are required")
	}
	if w.End.Before(w.Start) {
		return dErrors.New(dErrors.CodeBadRequest, "window end is before start")
	}
	return nil
}

// Snapshot is an immutable copy of a request's observable state. Reactors
// and the document assembler work from snapshots, never from the live
// request.
type Snapshot struct {
	PermissionID  id.PermissionID
	ConnectionID  id.ConnectionID
	DataNeedID    id.DataNeedID
	Window        Window
	Granularity   time.Duration
	Created       time.Time
	TerminateTime *time.Time
	Status        ProcessStatus
	DataSource    DataSourceInformation
	Version       int64
}

// Requester is the contract the decorating wrappers share with the base
// request: observe state, apply one lifecycle transition. Persistence and
// notification are layered on by wrapping, never baked in.
type Requester interface {
	Snapshot() Snapshot
	Apply(ctx context.Context, t Transition) error
}

// Request is the state-carrying entity. It performs no I/O; a transition
// either mutates status and returns nil, or returns a typed error leaving
// every field untouched.
type Request struct {
	snapshot Snapshot
	clock    func() time.Time
}

// Option configures a Request.
type Option func(*Request)

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Request) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New creates a permission request in status CREATED with a fresh
// permission ID.
func New(
	connectionID id.ConnectionID,
	dataNeedID id.DataNeedID,
	window Window,
	granularity time.Duration,
	source DataSourceInformation,
	opts ...Option,
) (*Request, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if granularity <= 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "granularity must be positive")
	}
	r := &Request{clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.snapshot = Snapshot{
		PermissionID: id.NewPermissionID(),
		ConnectionID: connectionID,
		DataNeedID:   dataNeedID,
		Window:       window,
		Granularity:  granularity,
		Created:      r.clock(),
		Status:       StatusCreated,
		DataSource:   source,
		Version:      1,
	}
	return r, nil
}

// Restore rebuilds a request from persisted state.
func Restore(s Snapshot, opts ...Option) *Request {
	r := &Request{snapshot: s, clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot returns a copy of the current state.
func (r *Request) Snapshot() Snapshot { return r.snapshot }

// Apply performs one lifecycle transition. Revocation transitions also stamp
// the terminate time exactly once.
func (r *Request) Apply(_ context.Context, t Transition) error {
	next, err := resolve(t, r.snapshot.Status)
	if err != nil {
		return err
	}
	if (t == TransitionRevoke || t == TransitionRequireExternalTerm) && r.snapshot.TerminateTime == nil {
		if err := r.SetTerminateTime(r.clock()); err != nil {
			return err
		}
	}
	r.snapshot.Status = next
	r.snapshot.Version++
	return nil
}

// SetTerminateTime enforces the terminate-time invariants: set once, never
// before creation. Used by the revocation transitions and by adapters that
// learn the termination time from the administrator.
func (r *Request) SetTerminateTime(t time.Time) error {
	if r.snapshot.TerminateTime != nil {
		return dErrors.New(dErrors.CodeConflict, "terminate time is already set")
	}
	if t.Before(r.snapshot.Created) {
		return dErrors.New(dErrors.CodeBadRequest, "terminate time is before creation time")
	}
	r.snapshot.TerminateTime = &t
	return nil
}
