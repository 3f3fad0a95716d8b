//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"gridgrant/internal/outbound/kafka"
	"gridgrant/internal/reactors"
	"gridgrant/internal/stream"
	"gridgrant/pkg/domain"
	"gridgrant/pkg/testutil/containers"
)

type ConnectorSuite struct {
	suite.Suite
	redpanda  *containers.RedpandaContainer
	connector *kafka.Connector
	documents *stream.Stream[reactors.DocumentResult]
	statuses  *stream.Stream[reactors.ConnectionStatus]
	done      chan error
}

func TestConnectorSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ConnectorSuite))
}

func (s *ConnectorSuite) SetupSuite() {
	s.redpanda = containers.NewRedpandaContainer(s.T())
}

func (s *ConnectorSuite) SetupTest() {
	ctx := context.Background()

	connector, err := kafka.New(
		[]string{s.redpanda.Broker},
		"validated-historical-data",
		"status-messages",
	)
	s.Require().NoError(err)
	s.connector = connector
	s.Require().NoError(connector.EnsureTopics(ctx))

	s.documents = stream.New[reactors.DocumentResult](4)
	s.statuses = stream.New[reactors.ConnectionStatus](4)
	s.done = make(chan error, 1)
	go func() {
		s.done <- connector.Run(context.Background(), s.documents.Subscribe(), s.statuses.Subscribe())
	}()
}

func (s *ConnectorSuite) TearDownTest() {
	s.documents.Close(nil)
	s.statuses.Close(nil)
	select {
	case err := <-s.done:
		s.Require().NoError(err)
	case <-time.After(5 * time.Second):
		s.Fail("connector did not stop")
	}
	s.connector.Close()
}

func (s *ConnectorSuite) consumeOne(topic string) *kgo.Record {
	s.T().Helper()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	fetches := client.PollFetches(ctx)
	s.Require().NoError(fetches.Err())

	records := fetches.Records()
	s.Require().NotEmpty(records)
	return records[len(records)-1]
}

func (s *ConnectorSuite) TestEnsureTopicsIsIdempotent() {
	s.Require().NoError(s.connector.EnsureTopics(context.Background()))
}

func (s *ConnectorSuite) TestStatusReachesBroker() {
	pid := domain.NewPermissionID()
	status := reactors.ConnectionStatus{
		PermissionID: pid,
		ConnectionID: "conn-1",
		DataNeedID:   "need-1",
		Status:       "ACCEPTED",
		Code:         "A37",
		At:           time.Now().UTC(),
	}
	s.Require().NoError(s.statuses.Publish(context.Background(), status))

	record := s.consumeOne("status-messages")
	s.Equal(pid.String(), string(record.Key))

	var decoded reactors.ConnectionStatus
	s.Require().NoError(json.Unmarshal(record.Value, &decoded))
	s.Equal("A37", decoded.Code)
	s.Equal(pid, decoded.PermissionID)

	headers := map[string]string{}
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	s.Equal(pid.String(), headers["permission-id"])
	s.Equal("conn-1", headers["connection-id"])
}
