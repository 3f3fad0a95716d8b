package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridgrant/internal/connector"
	"gridgrant/internal/events"
	"gridgrant/internal/metering"
	"gridgrant/internal/outbox"
	"gridgrant/internal/permission"
	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
)

type fixture struct {
	svc    *Service
	store  *permission.MemoryStore
	outbox *outbox.MemoryStore
}

func newFixture(t *testing.T, connectors ...connector.RegionConnector) *fixture {
	t.Helper()
	store := permission.NewMemoryStore()
	ob := outbox.NewMemoryStore()
	registry, err := connector.NewRegistry(connectors...)
	require.NoError(t, err)
	svc := New(store, ob, registry, NoTx,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return &fixture{svc: svc, store: store, outbox: ob}
}

func createParams() CreateParams {
	return CreateParams{
		ConnectionID: "cid",
		DataNeedID:   "dnid",
		Window: permission.Window{
			Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC),
		},
		Granularity: 24 * time.Hour,
		DataSource: permission.DataSourceInformation{
			Country:         "FR",
			RegionConnector: "simulation",
		},
	}
}

func stagedStatuses(t *testing.T, ob *outbox.MemoryStore) []permission.ProcessStatus {
	t.Helper()
	entries, err := ob.NextUndelivered(context.Background(), 100)
	require.NoError(t, err)
	var statuses []permission.ProcessStatus
	for _, entry := range entries {
		if entry.EventKind != events.KindStatusChanged {
			continue
		}
		event, err := outbox.Decode(entry)
		require.NoError(t, err)
		statuses = append(statuses, event.(events.StatusChanged).Status)
	}
	return statuses
}

func TestCreate_DrivesRequestToAdministrator(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())

	snap, err := f.svc.Create(context.Background(), createParams())
	require.NoError(t, err)

	assert.Equal(t, permission.StatusSentToAdministrator, snap.Status)

	stored, err := f.store.Find(context.Background(), snap.PermissionID)
	require.NoError(t, err)
	assert.Equal(t, permission.StatusSentToAdministrator, stored.Status)

	assert.Equal(t, []permission.ProcessStatus{
		permission.StatusCreated,
		permission.StatusValidated,
		permission.StatusSentToAdministrator,
	}, stagedStatuses(t, f.outbox), "every hop is observable in staging order")
}

func TestCreate_UnknownRegionParksInUnableToSend(t *testing.T) {
	f := newFixture(t)

	snap, err := f.svc.Create(context.Background(), createParams())
	require.NoError(t, err)

	assert.Equal(t, permission.StatusUnableToSend, snap.Status)
	stored, err := f.store.Find(context.Background(), snap.PermissionID)
	require.NoError(t, err)
	assert.Equal(t, permission.StatusUnableToSend, stored.Status)
}

func TestCreate_InvalidWindowFailsBeforePersisting(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())
	params := createParams()
	params.Window.End = params.Window.Start.Add(-time.Hour)

	_, err := f.svc.Create(context.Background(), params)

	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeBadRequest))
}

func TestCreate_EmptyWindowPersistsMalformed(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())
	params := createParams()
	params.Window.End = params.Window.Start

	snap, err := f.svc.Create(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, permission.StatusMalformed, snap.Status)
	stored, err := f.store.Find(context.Background(), snap.PermissionID)
	require.NoError(t, err)
	assert.Equal(t, permission.StatusMalformed, stored.Status)
	assert.Equal(t, []permission.ProcessStatus{
		permission.StatusCreated,
		permission.StatusMalformed,
	}, stagedStatuses(t, f.outbox), "the malformed outcome is observable")
}

func TestCreate_UnsupportedGranularityPersistsMalformed(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())
	params := createParams()
	params.Granularity = 7 * time.Minute

	snap, err := f.svc.Create(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, permission.StatusMalformed, snap.Status)
}

// saveFailsStore simulates a storage outage after the initial insert.
type saveFailsStore struct {
	*permission.MemoryStore
}

func (s *saveFailsStore) Save(context.Context, permission.Snapshot) error {
	return errors.New("disk full")
}

func TestCreate_SaveFailureSurfacesStorageError(t *testing.T) {
	store := &saveFailsStore{MemoryStore: permission.NewMemoryStore()}
	registry, err := connector.NewRegistry(connector.NewSimulation())
	require.NoError(t, err)
	svc := New(store, outbox.NewMemoryStore(), registry, NoTx,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	_, err = svc.Create(context.Background(), createParams())

	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, dErrors.Is(err, dErrors.CodePastState),
		"the storage error must not be masked by a recovery transition")
}

func TestAccept_TransitionsAndStagesEvent(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())
	snap, err := f.svc.Create(context.Background(), createParams())
	require.NoError(t, err)

	require.NoError(t, f.svc.Accept(context.Background(), snap.PermissionID))

	stored, err := f.svc.Get(context.Background(), snap.PermissionID)
	require.NoError(t, err)
	assert.Equal(t, permission.StatusAccepted, stored.Status)
	statuses := stagedStatuses(t, f.outbox)
	assert.Equal(t, permission.StatusAccepted, statuses[len(statuses)-1])
}

func TestAccept_StagesInternalFetchTrigger(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())
	snap, err := f.svc.Create(context.Background(), createParams())
	require.NoError(t, err)

	require.NoError(t, f.svc.Accept(context.Background(), snap.PermissionID))

	entries, err := f.outbox.NextUndelivered(context.Background(), 100)
	require.NoError(t, err)
	var trigger *events.FetchRequested
	for _, entry := range entries {
		if entry.EventKind != events.KindFetchRequested {
			continue
		}
		decoded, err := outbox.Decode(entry)
		require.NoError(t, err)
		ev := decoded.(events.FetchRequested)
		trigger = &ev
	}
	require.NotNil(t, trigger, "acceptance stages the fetch trigger")
	assert.Equal(t, snap.PermissionID, trigger.PermissionID)
	assert.True(t, trigger.Internal(), "the trigger never reaches external subscribers")
}

func TestAccept_FromCreatedIsFutureStateAndLeavesStatus(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())
	req, err := permission.New("cid", "dnid", createParams().Window, 24*time.Hour, createParams().DataSource)
	require.NoError(t, err)
	require.NoError(t, f.store.Create(context.Background(), req.Snapshot()))

	err = f.svc.Accept(context.Background(), req.Snapshot().PermissionID)

	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeFutureState))
	stored, findErr := f.store.Find(context.Background(), req.Snapshot().PermissionID)
	require.NoError(t, findErr)
	assert.Equal(t, permission.StatusCreated, stored.Status)
}

func TestReject_FromAdministrator(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())
	snap, err := f.svc.Create(context.Background(), createParams())
	require.NoError(t, err)

	require.NoError(t, f.svc.Reject(context.Background(), snap.PermissionID))

	stored, err := f.svc.Get(context.Background(), snap.PermissionID)
	require.NoError(t, err)
	assert.Equal(t, permission.StatusRejected, stored.Status)
}

func TestTerminate_WithoutAdministratorRevokesImmediately(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())
	snap, err := f.svc.Create(context.Background(), createParams())
	require.NoError(t, err)
	require.NoError(t, f.svc.Accept(context.Background(), snap.PermissionID))

	// Drop the connector so termination has nobody to call.
	f.svc.registry = nil

	require.NoError(t, f.svc.Terminate(context.Background(), snap.PermissionID))

	stored, err := f.svc.Get(context.Background(), snap.PermissionID)
	require.NoError(t, err)
	assert.Equal(t, permission.StatusRevoked, stored.Status)
	require.NotNil(t, stored.TerminateTime)
	assert.False(t, stored.TerminateTime.Before(stored.Created))
}

func TestTerminate_WithAdministratorCompletesExternally(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())
	snap, err := f.svc.Create(context.Background(), createParams())
	require.NoError(t, err)
	require.NoError(t, f.svc.Accept(context.Background(), snap.PermissionID))

	require.NoError(t, f.svc.Terminate(context.Background(), snap.PermissionID))

	require.Eventually(t, func() bool {
		stored, err := f.svc.Get(context.Background(), snap.PermissionID)
		return err == nil && stored.Status == permission.StatusTerminated
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTerminate_OnTerminatedIsPastState(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())
	snap, err := f.svc.Create(context.Background(), createParams())
	require.NoError(t, err)
	require.NoError(t, f.svc.Accept(context.Background(), snap.PermissionID))
	require.NoError(t, f.svc.Terminate(context.Background(), snap.PermissionID))
	require.Eventually(t, func() bool {
		stored, err := f.svc.Get(context.Background(), snap.PermissionID)
		return err == nil && stored.Status == permission.StatusTerminated
	}, 2*time.Second, 10*time.Millisecond)

	err = f.svc.Terminate(context.Background(), snap.PermissionID)

	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodePastState))
}

func TestRecordMeteringData_StagesBatchAndFulfills(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())
	snap, err := f.svc.Create(context.Background(), createParams())
	require.NoError(t, err)
	require.NoError(t, f.svc.Accept(context.Background(), snap.PermissionID))

	records := []metering.Record{{
		MeteringPoint: "mp-1",
		Timestamp:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Quantity:      1.2,
		Quality:       "as_provided",
		Unit:          "kWh",
	}}
	require.NoError(t, f.svc.RecordMeteringData(context.Background(), snap.PermissionID, "mp-1", records))

	stored, err := f.svc.Get(context.Background(), snap.PermissionID)
	require.NoError(t, err)
	assert.Equal(t, permission.StatusFulfilled, stored.Status)

	entries, err := f.outbox.NextUndelivered(context.Background(), 100)
	require.NoError(t, err)
	var batch *events.MeteringDataReceived
	for _, entry := range entries {
		if entry.EventKind == events.KindMeteringDataReceived {
			decoded, err := outbox.Decode(entry)
			require.NoError(t, err)
			ev := decoded.(events.MeteringDataReceived)
			batch = &ev
		}
	}
	require.NotNil(t, batch, "batch event must be staged")
	assert.Equal(t, snap.PermissionID, batch.PermissionID)
	assert.NotEmpty(t, batch.BatchID)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, 1.2, batch.Records[0].Quantity)
}

func TestRecordMeteringData_DiscardedWhenNotAccepted(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())
	snap, err := f.svc.Create(context.Background(), createParams())
	require.NoError(t, err)

	err = f.svc.RecordMeteringData(context.Background(), snap.PermissionID, "mp-1", nil)

	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeConflict))
}

func TestGet_UnknownPermissionIsNotFound(t *testing.T) {
	f := newFixture(t, connector.NewSimulation())

	_, err := f.svc.Get(context.Background(), id.NewPermissionID())

	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
}
