// Package kafka forwards assembled documents and status updates to the
// message broker for downstream eligible parties.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"gridgrant/internal/reactors"
	"gridgrant/internal/stream"
	dErrors "gridgrant/pkg/domain-errors"
)

// producer is the slice of *kgo.Client the connector uses.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Close()
}

// Connector bridges the in-process output streams onto Kafka topics.
// Records are keyed by permission id so one permission's messages stay in
// one partition, in order.
type Connector struct {
	client        producer
	admin         *kadm.Client
	documentTopic string
	statusTopic   string
	logger        *slog.Logger
}

// Option configures a Connector.
type Option func(*Connector)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New dials the brokers. Close releases the client.
func New(brokers []string, documentTopic, statusTopic string, opts ...Option) (*Connector, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "dial kafka", err)
	}
	c := &Connector{
		client:        client,
		admin:         kadm.NewClient(client),
		documentTopic: documentTopic,
		statusTopic:   statusTopic,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EnsureTopics creates the egress topics when missing.
func (c *Connector) EnsureTopics(ctx context.Context) error {
	responses, err := c.admin.CreateTopics(ctx, 1, 1, nil, c.documentTopic, c.statusTopic)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "create topics", err)
	}
	for _, response := range responses {
		if response.Err != nil && !errors.Is(response.Err, kerr.TopicAlreadyExists) {
			return dErrors.Wrap(dErrors.CodeInternal, "create topic "+response.Topic, response.Err)
		}
	}
	return nil
}

// Run consumes both output streams until ctx ends or both streams close.
func (c *Connector) Run(
	ctx context.Context,
	documents *stream.Subscription[reactors.DocumentResult],
	statuses *stream.Subscription[reactors.ConnectionStatus],
) error {
	docEvents, docDone := documents.Events(), documents.Done()
	statusEvents, statusDone := statuses.Events(), statuses.Done()

	for docDone != nil || statusDone != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-docDone:
			docDone, docEvents = nil, nil
		case <-statusDone:
			statusDone, statusEvents = nil, nil
		case result := <-docEvents:
			c.produceDocument(ctx, result)
		case status := <-statusEvents:
			c.produceStatus(ctx, status)
		}
	}
	return nil
}

func (c *Connector) produceDocument(ctx context.Context, result reactors.DocumentResult) {
	if result.Err != nil {
		// Assembly failures are observable on the stream for in-process
		// collaborators; the broker only carries whole documents.
		c.logger.WarnContext(ctx, "not forwarding failed assembly",
			"permission_id", result.PermissionID,
			"error", result.Err,
		)
		return
	}
	payload, err := json.Marshal(result.Envelope)
	if err != nil {
		c.logger.ErrorContext(ctx, "could not encode envelope",
			"permission_id", result.PermissionID,
			"error", err,
		)
		return
	}
	record := &kgo.Record{
		Topic: c.documentTopic,
		Key:   []byte(result.PermissionID.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "permission-id", Value: []byte(result.Envelope.Header.PermissionID.String())},
			{Key: "connection-id", Value: []byte(result.Envelope.Header.ConnectionID.String())},
			{Key: "data-need-id", Value: []byte(result.Envelope.Header.DataNeedID.String())},
		},
	}
	c.produce(ctx, record)
}

func (c *Connector) produceStatus(ctx context.Context, status reactors.ConnectionStatus) {
	payload, err := json.Marshal(status)
	if err != nil {
		c.logger.ErrorContext(ctx, "could not encode status",
			"permission_id", status.PermissionID,
			"error", err,
		)
		return
	}
	record := &kgo.Record{
		Topic: c.statusTopic,
		Key:   []byte(status.PermissionID.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "permission-id", Value: []byte(status.PermissionID.String())},
			{Key: "connection-id", Value: []byte(status.ConnectionID.String())},
			{Key: "data-need-id", Value: []byte(status.DataNeedID.String())},
		},
	}
	c.produce(ctx, record)
}

func (c *Connector) produce(ctx context.Context, record *kgo.Record) {
	c.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			c.logger.ErrorContext(ctx, "broker rejected record",
				"topic", r.Topic,
				"key", string(r.Key),
				"error", err,
			)
		}
	})
}

// Close flushes outstanding records and releases the client.
func (c *Connector) Close() {
	c.client.Close()
}
