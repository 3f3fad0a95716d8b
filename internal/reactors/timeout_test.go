package reactors

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridgrant/internal/events"
	"gridgrant/internal/permission"
	id "gridgrant/pkg/domain"
)

type fakeTimeouter struct {
	mu    sync.Mutex
	fired []id.PermissionID
}

func (f *fakeTimeouter) Timeout(_ context.Context, pid id.PermissionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, pid)
	return nil
}

func (f *fakeTimeouter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func sentEvent(pid id.PermissionID) events.StatusChanged {
	return events.StatusChanged{
		PermissionID: pid,
		Status:       permission.StatusSentToAdministrator,
		At:           time.Now(),
	}
}

func TestTimeoutReactor_FiresWhenAdministratorNeverAnswers(t *testing.T) {
	lifecycle := &fakeTimeouter{}
	reactor := NewTimeoutReactor(20*time.Millisecond, lifecycle, discardLogger())
	t.Cleanup(reactor.Stop)
	bus := events.NewBus(events.WithLogger(discardLogger()))
	reactor.Register(bus)

	pid := id.NewPermissionID()
	require.NoError(t, bus.Publish(context.Background(), sentEvent(pid)))

	require.Eventually(t, func() bool { return lifecycle.count() == 1 },
		2*time.Second, 5*time.Millisecond)
}

func TestTimeoutReactor_AnswerCancelsTimer(t *testing.T) {
	lifecycle := &fakeTimeouter{}
	reactor := NewTimeoutReactor(50*time.Millisecond, lifecycle, discardLogger())
	t.Cleanup(reactor.Stop)
	bus := events.NewBus(events.WithLogger(discardLogger()))
	reactor.Register(bus)

	pid := id.NewPermissionID()
	require.NoError(t, bus.Publish(context.Background(), sentEvent(pid)))

	accepted := sentEvent(pid)
	accepted.Status = permission.StatusAccepted
	require.NoError(t, bus.Publish(context.Background(), accepted))

	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, lifecycle.count(), "an answered request must not expire")
}

func TestTimeoutReactor_RedeliveredSentEventSchedulesOnce(t *testing.T) {
	lifecycle := &fakeTimeouter{}
	reactor := NewTimeoutReactor(20*time.Millisecond, lifecycle, discardLogger())
	t.Cleanup(reactor.Stop)
	bus := events.NewBus(events.WithLogger(discardLogger()))
	reactor.Register(bus)

	pid := id.NewPermissionID()
	require.NoError(t, bus.Publish(context.Background(), sentEvent(pid)))
	require.NoError(t, bus.Publish(context.Background(), sentEvent(pid)))

	require.Eventually(t, func() bool { return lifecycle.count() >= 1 },
		2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, lifecycle.count())
}

func sentSnapshot(t *testing.T, store *permission.MemoryStore) permission.Snapshot {
	t.Helper()
	req, err := permission.New("cid", "dnid",
		permission.Window{
			Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC),
		},
		24*time.Hour,
		permission.DataSourceInformation{Country: "FR", RegionConnector: "simulation"},
	)
	require.NoError(t, err)
	for _, tr := range []permission.Transition{
		permission.TransitionValidate,
		permission.TransitionSendToAdministrator,
	} {
		require.NoError(t, req.Apply(context.Background(), tr))
	}
	require.NoError(t, store.Create(context.Background(), req.Snapshot()))
	return req.Snapshot()
}

// Permissions waiting on the administrator when the process went down must
// still expire after a restart.
func TestTimeoutReactor_RearmExpiresPermissionsFromPreviousProcess(t *testing.T) {
	store := permission.NewMemoryStore()
	waiting := sentSnapshot(t, store)
	fresh, err := permission.New("cid", "dnid",
		permission.Window{
			Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC),
		},
		24*time.Hour,
		permission.DataSourceInformation{Country: "FR", RegionConnector: "simulation"},
	)
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), fresh.Snapshot()))

	lifecycle := &fakeTimeouter{}
	reactor := NewTimeoutReactor(20*time.Millisecond, lifecycle, discardLogger())
	t.Cleanup(reactor.Stop)

	require.NoError(t, reactor.Rearm(context.Background(), store))

	require.Eventually(t, func() bool { return lifecycle.count() == 1 },
		2*time.Second, 5*time.Millisecond)
	lifecycle.mu.Lock()
	fired := append([]id.PermissionID(nil), lifecycle.fired...)
	lifecycle.mu.Unlock()
	assert.Equal(t, []id.PermissionID{waiting.PermissionID}, fired,
		"only the permission parked with the administrator is re-armed")
}

func TestTimeoutReactor_StopCancelsAllTimers(t *testing.T) {
	lifecycle := &fakeTimeouter{}
	reactor := NewTimeoutReactor(30*time.Millisecond, lifecycle, discardLogger())
	bus := events.NewBus(events.WithLogger(discardLogger()))
	reactor.Register(bus)

	require.NoError(t, bus.Publish(context.Background(), sentEvent(id.NewPermissionID())))
	require.NoError(t, bus.Publish(context.Background(), sentEvent(id.NewPermissionID())))
	reactor.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, lifecycle.count())
}
