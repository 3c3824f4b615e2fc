package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/alertenrich/internal/enrich"
	"github.com/linnemanlabs/alertenrich/internal/stream"
)

// Producer appends enriched alerts to a stream.
type Producer struct {
	c      Client
	stream string
	maxLen int64
	logger log.Logger
}

var _ stream.Sink = (*Producer)(nil)

// NewProducer returns a producer for streamName. A positive maxLen caps the
// stream length approximately (MAXLEN ~).
func NewProducer(c Client, streamName string, maxLen int64, logger log.Logger) (*Producer, error) {
	if streamName == "" {
		return nil, errors.New("redis: stream cannot be empty")
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Producer{c: c, stream: streamName, maxLen: maxLen, logger: logger.With("stream", streamName)}, nil
}

// Publish XADDs a as JSON alongside its id, subject and severity.
func (p *Producer) Publish(ctx context.Context, id string, a *enrich.EnrichedAlert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal enriched alert: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			FieldData:         string(payload),
			FieldEnrichmentID: id,
			FieldSubjectID:    a.SubjectID,
			FieldSeverity:     string(a.Severity),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.c.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd %s: %w", p.stream, err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner.
func (p *Producer) Close() error {
	return nil
}
