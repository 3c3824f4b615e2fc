package redisbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/alertenrich/internal/stream"
)

const (
	readCount = 16
	readBlock = 2 * time.Second
)

// Consumer reads raw alerts from a stream as a member of a consumer group.
// On start it first drains its own pending entries (delivered but never
// acknowledged) before reading new ones.
type Consumer struct {
	c        Client
	stream   string
	group    string
	consumer string
	logger   log.Logger

	pendingDone bool
	buf         []redis.XMessage
}

var _ stream.Source = (*Consumer)(nil)

// NewConsumer ensures the group exists (creating the stream if needed) and
// returns a consumer named consumer within it.
func NewConsumer(ctx context.Context, c Client, streamName, group, consumer string, logger log.Logger) (*Consumer, error) {
	if streamName == "" || group == "" || consumer == "" {
		return nil, errors.New("redis: stream, group and consumer name are required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	if err := c.XGroupCreateMkStream(ctx, streamName, group, "0").Err(); err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("redis create group %s/%s: %w", streamName, group, err)
	}
	return &Consumer{
		c:        c,
		stream:   streamName,
		group:    group,
		consumer: consumer,
		logger:   logger.With("stream", streamName, "group", group, "consumer", consumer),
	}, nil
}

// Fetch returns the next entry, blocking until one arrives or ctx is done.
func (c *Consumer) Fetch(ctx context.Context) (*stream.Message, error) {
	for len(c.buf) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.read(ctx); err != nil {
			return nil, err
		}
	}

	m := c.buf[0]
	c.buf = c.buf[1:]
	return toMessage(c.stream, m), nil
}

func (c *Consumer) read(ctx context.Context) error {
	start := ">"
	block := readBlock
	if !c.pendingDone {
		start = "0"
		block = -1 // no BLOCK: history reads return immediately
	}

	res, err := c.c.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, start},
		Count:    readCount,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		c.pendingDone = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis xreadgroup %s: %w", c.stream, err)
	}

	n := 0
	for _, s := range res {
		c.buf = append(c.buf, s.Messages...)
		n += len(s.Messages)
	}
	if !c.pendingDone && n == 0 {
		c.pendingDone = true
		c.logger.Info(ctx, "pending entries drained")
	}
	return nil
}

// toMessage keeps the entry id as Ref; the stream-qualified id is stable across redeliveries.
func toMessage(streamName string, m redis.XMessage) *stream.Message {
	msg := &stream.Message{ID: streamName + "-" + m.ID, Ref: m.ID}
	if v, ok := m.Values[FieldData].(string); ok {
		msg.Payload = []byte(v)
	}
	if v, ok := m.Values[FieldSubjectID].(string); ok {
		msg.Key = []byte(v)
	} else {
		msg.Key = []byte(m.ID)
	}
	return msg
}

// Commit acknowledges the entry.
func (c *Consumer) Commit(ctx context.Context, msg *stream.Message) error {
	id, ok := msg.Ref.(string)
	if !ok {
		return fmt.Errorf("redis ack: message was not read from redis (%T)", msg.Ref)
	}
	if err := c.c.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		return fmt.Errorf("redis xack %s %s: %w", c.stream, id, err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner.
func (c *Consumer) Close() error {
	c.logger.Info(context.Background(), "closing redis consumer")
	return nil
}
