package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridgrant/internal/permission"
	id "gridgrant/pkg/domain"
)

func quietBus() *Bus {
	return NewBus(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func statusEvent() StatusChanged {
	return StatusChanged{
		PermissionID: id.NewPermissionID(),
		ConnectionID: "cid",
		DataNeedID:   "dnid",
		Status:       permission.StatusValidated,
		At:           time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPublish_DeliversToMatchingKindOnly(t *testing.T) {
	bus := quietBus()
	var statuses, batches int
	Subscribe(bus, "status", func(_ context.Context, _ StatusChanged) error {
		statuses++
		return nil
	})
	Subscribe(bus, "metering", func(_ context.Context, _ MeteringDataReceived) error {
		batches++
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), statusEvent()))

	assert.Equal(t, 1, statuses)
	assert.Zero(t, batches)
}

func TestPublish_TypedPayloadReachesSubscriber(t *testing.T) {
	bus := quietBus()
	want := statusEvent()
	var got StatusChanged
	Subscribe(bus, "capture", func(_ context.Context, e StatusChanged) error {
		got = e
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), want))

	assert.Equal(t, want, got)
}

func TestPublish_OneFailureNeverBlocksOthers(t *testing.T) {
	bus := quietBus()
	boom := errors.New("reactor down")
	var delivered int
	Subscribe(bus, "failing", func(_ context.Context, _ StatusChanged) error {
		return boom
	})
	Subscribe(bus, "healthy", func(_ context.Context, _ StatusChanged) error {
		delivered++
		return nil
	})

	err := bus.Publish(context.Background(), statusEvent())

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, delivered, "healthy subscriber must still run")
}

func TestPublish_PanicBecomesError(t *testing.T) {
	bus := quietBus()
	Subscribe(bus, "panicky", func(_ context.Context, _ StatusChanged) error {
		panic("nil map write")
	})

	err := bus.Publish(context.Background(), statusEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestPublish_InternalEventsFilteredFromExternalSubscribers(t *testing.T) {
	bus := quietBus()
	var external, internal int
	Subscribe(bus, "external", func(_ context.Context, _ FetchRequested) error {
		external++
		return nil
	})
	SubscribeInternal(bus, "reactor", func(_ context.Context, _ FetchRequested) error {
		internal++
		return nil
	})

	event := FetchRequested{PermissionID: id.NewPermissionID(), At: time.Now()}
	require.NoError(t, bus.Publish(context.Background(), event))

	assert.Zero(t, external, "internal events stay inside the engine")
	assert.Equal(t, 1, internal)
}

func TestPublish_NoSubscribersIsANoOp(t *testing.T) {
	bus := quietBus()
	require.NoError(t, bus.Publish(context.Background(), statusEvent()))
}
