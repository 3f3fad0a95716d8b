package reactors

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gridgrant/internal/events"
	"gridgrant/internal/permission"
	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
)

// Timeouter is the slice of the permission service the timeout reactor
// drives.
type Timeouter interface {
	Timeout(ctx context.Context, pid id.PermissionID) error
}

// StatusLister lists the permissions currently in a given status.
type StatusLister interface {
	FindByStatus(ctx context.Context, status permission.ProcessStatus) ([]permission.Snapshot, error)
}

// TimeoutReactor expires permissions the administrator never answered. A
// timer starts when the request reaches the administrator and is cancelled
// by any later status for the same permission.
type TimeoutReactor struct {
	timeout   time.Duration
	lifecycle Timeouter
	logger    *slog.Logger

	mu     sync.Mutex
	timers map[id.PermissionID]*time.Timer
}

func NewTimeoutReactor(timeout time.Duration, lifecycle Timeouter, logger *slog.Logger) *TimeoutReactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeoutReactor{
		timeout:   timeout,
		lifecycle: lifecycle,
		logger:    logger,
		timers:    make(map[id.PermissionID]*time.Timer),
	}
}

// Register subscribes the reactor on the bus.
func (r *TimeoutReactor) Register(bus *events.Bus) {
	events.SubscribeInternal(bus, "timeout-reactor", r.onStatusChanged)
}

// Rearm schedules timers for permissions already waiting on the
// administrator, so requests in flight across a restart still expire. The
// send time is not persisted; re-armed timers run the full window from now.
func (r *TimeoutReactor) Rearm(ctx context.Context, store StatusLister) error {
	snaps, err := store.FindByStatus(ctx, permission.StatusSentToAdministrator)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		r.schedule(snap.PermissionID)
	}
	if len(snaps) > 0 {
		r.logger.InfoContext(ctx, "re-armed administrator response timers",
			"count", len(snaps))
	}
	return nil
}

// Stop cancels every scheduled timer.
func (r *TimeoutReactor) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pid, timer := range r.timers {
		timer.Stop()
		delete(r.timers, pid)
	}
}

func (r *TimeoutReactor) onStatusChanged(_ context.Context, event events.StatusChanged) error {
	if event.Status == permission.StatusSentToAdministrator {
		r.schedule(event.PermissionID)
		return nil
	}
	r.cancel(event.PermissionID)
	return nil
}

func (r *TimeoutReactor) schedule(pid id.PermissionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.timers[pid]; exists {
		return
	}
	r.timers[pid] = time.AfterFunc(r.timeout, func() { r.fire(pid) })
}

func (r *TimeoutReactor) cancel(pid id.PermissionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, exists := r.timers[pid]; exists {
		timer.Stop()
		delete(r.timers, pid)
	}
}

func (r *TimeoutReactor) fire(pid id.PermissionID) {
	r.cancel(pid)
	ctx := context.Background()
	if err := r.lifecycle.Timeout(ctx, pid); err != nil {
		// The administrator answered in the window between firing and the
		// transition; nothing to expire.
		if dErrors.Is(err, dErrors.CodePastState) {
			return
		}
		r.logger.ErrorContext(ctx, "could not expire permission",
			"permission_id", pid, "error", err)
		return
	}
	r.logger.InfoContext(ctx, "permission timed out waiting for administrator",
		"permission_id", pid)
}
