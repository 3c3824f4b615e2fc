package kafkabus

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/alertenrich/internal/stream"
)

// reader is the subset of *kafka.Reader used by the consumer.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads raw alerts from a topic as part of a consumer group.
// Offsets are committed explicitly per message.
type Consumer struct {
	r      reader
	topic  string
	logger log.Logger
}

var _ stream.Source = (*Consumer)(nil)

// NewConsumer creates a group reader on topic that starts from the earliest
// offset when the group has none committed.
func NewConsumer(brokers []string, topic, groupID string, logger log.Logger) (*Consumer, error) {
	if err := validateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Nop()
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        maxPollWait,
		CommitInterval: commitInterval,
		StartOffset:    kafka.FirstOffset,
	})
	return &Consumer{r: r, topic: topic, logger: logger.With("topic", topic, "group_id", groupID)}, nil
}

// Fetch blocks for the next message.
func (c *Consumer) Fetch(ctx context.Context) (*stream.Message, error) {
	m, err := c.r.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("kafka fetch %s: %w", c.topic, err)
	}
	return &stream.Message{ID: messageID(m), Key: m.Key, Payload: m.Value, Ref: m}, nil
}

// messageID identifies m by its position, which is stable across redeliveries.
func messageID(m kafka.Message) string {
	return fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset)
}

// Commit commits the offset of msg.
func (c *Consumer) Commit(ctx context.Context, msg *stream.Message) error {
	m, ok := msg.Ref.(kafka.Message)
	if !ok {
		return fmt.Errorf("kafka commit: message was not fetched from kafka (%T)", msg.Ref)
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("kafka commit %s[%d]@%d: %w", m.Topic, m.Partition, m.Offset, err)
	}
	return nil
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	c.logger.Info(context.Background(), "closing kafka consumer")
	return c.r.Close()
}
