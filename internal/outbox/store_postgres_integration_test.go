//go:build integration

package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"gridgrant/internal/events"
	"gridgrant/internal/outbox"
	"gridgrant/internal/permission"
	"gridgrant/pkg/domain"
	"gridgrant/pkg/platform/tx"
	"gridgrant/pkg/testutil/containers"
)

type PostgresOutboxSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	pool     *pgxpool.Pool
	store    *outbox.PostgresStore
}

func TestPostgresOutboxSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresOutboxSuite))
}

func (s *PostgresOutboxSuite) SetupSuite() {
	ctx := context.Background()
	s.postgres = containers.NewPostgresContainer(s.T())

	pool, err := pgxpool.New(ctx, s.postgres.DSN)
	s.Require().NoError(err)
	s.pool = pool
	s.T().Cleanup(pool.Close)

	s.store = outbox.NewPostgresStore(s.postgres.DB, pool)
	s.Require().NoError(s.store.EnsureSchema(ctx))
}

func (s *PostgresOutboxSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "outbox_entries")
	s.Require().NoError(err)
}

func statusEvent(pid domain.PermissionID, status permission.ProcessStatus) events.StatusChanged {
	return events.StatusChanged{
		PermissionID: pid,
		ConnectionID: "conn-1",
		DataNeedID:   "need-1",
		Status:       status,
		At:           time.Now().UTC(),
	}
}

func (s *PostgresOutboxSuite) TestStagingOrderIsDeliveryOrder() {
	ctx := context.Background()
	pid := domain.NewPermissionID()

	s.Require().NoError(s.store.Stage(ctx, statusEvent(pid, permission.StatusCreated)))
	s.Require().NoError(s.store.Stage(ctx, statusEvent(pid, permission.StatusValidated)))

	entries, err := s.store.NextUndelivered(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Less(entries[0].Seq, entries[1].Seq)

	first, err := outbox.Decode(entries[0])
	s.Require().NoError(err)
	s.Equal(permission.StatusCreated, first.(events.StatusChanged).Status)
}

func (s *PostgresOutboxSuite) TestMarkDeliveredRemovesFromPending() {
	ctx := context.Background()
	pid := domain.NewPermissionID()
	s.Require().NoError(s.store.Stage(ctx, statusEvent(pid, permission.StatusCreated)))

	entries, err := s.store.NextUndelivered(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)

	s.Require().NoError(s.store.MarkDelivered(ctx, entries[0].Seq))

	entries, err = s.store.NextUndelivered(ctx, 10)
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *PostgresOutboxSuite) TestRecordFailureKeepsEntryAndCountsAttempts() {
	ctx := context.Background()
	pid := domain.NewPermissionID()
	s.Require().NoError(s.store.Stage(ctx, statusEvent(pid, permission.StatusCreated)))

	entries, err := s.store.NextUndelivered(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)

	s.Require().NoError(s.store.RecordFailure(ctx, entries[0].Seq))
	s.Require().NoError(s.store.RecordFailure(ctx, entries[0].Seq))

	entries, err = s.store.NextUndelivered(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(2, entries[0].Attempts)
}

func (s *PostgresOutboxSuite) TestStagingRollsBackWithAmbientTransaction() {
	ctx := context.Background()
	pid := domain.NewPermissionID()

	failed := context.Canceled
	err := tx.Run(ctx, s.postgres.DB, func(ctx context.Context) error {
		if err := s.store.Stage(ctx, statusEvent(pid, permission.StatusCreated)); err != nil {
			return err
		}
		return failed
	})
	s.Require().ErrorIs(err, failed)

	entries, err := s.store.NextUndelivered(ctx, 10)
	s.Require().NoError(err)
	s.Empty(entries, "a rolled back transaction must not leave staged entries behind")
}
