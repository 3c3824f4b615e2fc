package kafkabus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/alertenrich/internal/enrich"
	"github.com/linnemanlabs/alertenrich/internal/stream"
)

// writer is the subset of *kafka.Writer used by the producer.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes enriched alerts keyed by subject id, so all alerts for
// one subject land on the same partition in order.
type Producer struct {
	w      writer
	topic  string
	logger log.Logger
	now    func() time.Time
}

var _ stream.Sink = (*Producer)(nil)

// NewProducer creates a synchronous writer that waits for the leader ack.
func NewProducer(brokers []string, topic string, logger log.Logger) (*Producer, error) {
	if err := validateProducerParams(brokers, topic); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Nop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{w: w, topic: topic, logger: logger.With("topic", topic), now: time.Now}, nil
}

// Publish writes a as JSON with the enrichment id and severity as headers.
func (p *Producer) Publish(ctx context.Context, id string, a *enrich.EnrichedAlert) error {
	msg, err := buildMessage(id, a, p.now())
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", p.topic, err)
	}
	return nil
}

func buildMessage(id string, a *enrich.EnrichedAlert, now time.Time) (kafka.Message, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal enriched alert: %w", err)
	}
	return kafka.Message{
		Key:   []byte(a.SubjectID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: HeaderEnrichmentID, Value: []byte(id)},
			{Key: HeaderSeverity, Value: []byte(a.Severity)},
		},
		Time: now,
	}, nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	p.logger.Info(context.Background(), "closing kafka producer")
	return p.w.Close()
}
