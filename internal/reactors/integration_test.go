//go:build integration

package reactors_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gridgrant/internal/platform/config"
	redisplat "gridgrant/internal/platform/redis"
	"gridgrant/internal/reactors"
	"gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
	"gridgrant/pkg/testutil/containers"
)

type PostgresProjectionSuite struct {
	suite.Suite
	postgres   *containers.PostgresContainer
	projection *reactors.PostgresProjection
}

func TestPostgresProjectionSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresProjectionSuite))
}

func (s *PostgresProjectionSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.projection = reactors.NewPostgresProjection(s.postgres.DB)
	s.Require().NoError(s.projection.EnsureSchema(context.Background()))
}

func (s *PostgresProjectionSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "permission_status_projection")
	s.Require().NoError(err)
}

func (s *PostgresProjectionSuite) TestUpsertInsertsThenOverwrites() {
	ctx := context.Background()
	pid := domain.NewPermissionID()

	first := reactors.ConnectionStatus{
		PermissionID: pid,
		ConnectionID: "conn-1",
		DataNeedID:   "need-1",
		Status:       "VALIDATED",
		Code:         "Z02",
		At:           time.Now().UTC(),
	}
	s.Require().NoError(s.projection.UpsertStatus(ctx, first))

	second := first
	second.Status = "ACCEPTED"
	second.Code = "A37"
	s.Require().NoError(s.projection.UpsertStatus(ctx, second))

	found, err := s.projection.Status(ctx, pid)
	s.Require().NoError(err)
	s.Equal(pid, found.PermissionID)
	s.Equal("A37", found.Code)
	s.EqualValues("ACCEPTED", found.Status)
}

func (s *PostgresProjectionSuite) TestStatusUnknownIsNotFound() {
	_, err := s.projection.Status(context.Background(), domain.NewPermissionID())
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}

type RedisDeduperSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	client *redisplat.Client
}

func TestRedisDeduperSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisDeduperSuite))
}

func (s *RedisDeduperSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())

	client, err := redisplat.New(config.RedisConfig{
		URL:          s.redis.Addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	s.Require().NoError(err)
	s.client = client
}

func (s *RedisDeduperSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisDeduperSuite) TestUnmarkedKeyIsNotSeen() {
	dedup := reactors.NewRedisDeduper(s.client, time.Hour)
	ctx := context.Background()

	seen, err := dedup.Seen(ctx, "batch-1")
	s.Require().NoError(err)
	s.False(seen)

	// Seen on its own records nothing.
	seen, err = dedup.Seen(ctx, "batch-1")
	s.Require().NoError(err)
	s.False(seen)
}

func (s *RedisDeduperSuite) TestMarkedKeyIsSeen() {
	dedup := reactors.NewRedisDeduper(s.client, time.Hour)
	ctx := context.Background()

	s.Require().NoError(dedup.Mark(ctx, "batch-1"))

	seen, err := dedup.Seen(ctx, "batch-1")
	s.Require().NoError(err)
	s.True(seen)
}

func (s *RedisDeduperSuite) TestKeyExpiryReopensTheKey() {
	dedup := reactors.NewRedisDeduper(s.client, 100*time.Millisecond)
	ctx := context.Background()

	s.Require().NoError(dedup.Mark(ctx, "batch-1"))
	time.Sleep(200 * time.Millisecond)

	seen, err := dedup.Seen(ctx, "batch-1")
	s.Require().NoError(err)
	s.False(seen, "an expired key behaves like a first sighting")
}

func (s *RedisDeduperSuite) TestDistinctKeysAreIndependent() {
	dedup := reactors.NewRedisDeduper(s.client, time.Hour)
	ctx := context.Background()

	s.Require().NoError(dedup.Mark(ctx, "batch-1"))

	seen, err := dedup.Seen(ctx, "batch-2")
	s.Require().NoError(err)
	s.False(seen)
}
