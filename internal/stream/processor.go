package stream

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/alertenrich/internal/alert"
	"github.com/linnemanlabs/alertenrich/internal/postgres"
)

// Outcome labels how a single message was handled.
type Outcome string

const (
	OutcomePublished     Outcome = "published"
	OutcomeDropped       Outcome = "dropped"
	OutcomeEnrichFailed  Outcome = "enrich_failed"
	OutcomePublishFailed Outcome = "publish_failed"
)

const (
	defaultFetchBackoff = time.Second
	maxRetryBackoff     = 30 * time.Second
)

// Processor consumes raw alerts from a Source, enriches them and publishes the
// result to a Sink. A message is committed only after its enriched alert was
// published (at-least-once). Undecodable payloads are committed and dropped.
// A message that fails to enrich or publish is retried in place, with capped
// exponential backoff, before the next one is fetched: transports such as Kafka
// only move forward, and committing a later offset would skip it.
type Processor struct {
	name     string
	src      Source
	sink     Sink
	enricher Enricher
	logger   log.Logger
	metrics  *Metrics
	newID    func() string
	backoff  time.Duration
}

// NewProcessor wires a processor. name labels logs, metrics and DB query
// attribution (e.g. "kafka"). A nil metrics disables instrumentation.
func NewProcessor(name string, src Source, sink Sink, enricher Enricher, logger log.Logger, m *Metrics) *Processor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Processor{
		name:     name,
		src:      src,
		sink:     sink,
		enricher: enricher,
		logger:   logger.With("source", name),
		metrics:  m,
		newID:    func() string { return ulid.Make().String() },
		backoff:  defaultFetchBackoff,
	}
}

// Run processes messages until ctx is cancelled. It returns nil on cancellation.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info(ctx, "stream processor started")
	defer p.logger.Info(context.Background(), "stream processor stopped")

	for {
		msg, err := p.src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error(ctx, err, "fetch failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.backoff):
			}
			continue
		}

		if !p.handleUntilDone(ctx, msg) {
			// cancelled mid-retry; the message stays uncommitted for the next consumer
			return nil
		}

		if err := p.src.Commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error(ctx, err, "commit failed", "key", string(msg.Key))
			p.metrics.incCommitFailed(p.name)
		}
	}
}

// handleUntilDone retries msg until it is committable. It returns false only
// when ctx ends first.
func (p *Processor) handleUntilDone(ctx context.Context, msg *Message) bool {
	wait := p.backoff
	for attempt := 1; ; attempt++ {
		if p.handle(ctx, msg) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		p.logger.Warn(ctx, "retrying message",
			"key", string(msg.Key),
			"enrichment_id", msg.ID,
			"attempt", attempt,
			"backoff", wait.String(),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait = min(wait*2, maxRetryBackoff)
	}
}

// handle processes one message and reports whether it should be committed.
func (p *Processor) handle(ctx context.Context, msg *Message) bool {
	start := time.Now()
	L := p.logger.With("key", string(msg.Key))
	ctx = log.WithContext(ctx, L)
	ctx = postgres.WithSource(ctx, p.name)
	ctx, stats := postgres.WithQueryStats(ctx)

	outcome := p.process(ctx, L, msg)
	p.metrics.observe(p.name, outcome, time.Since(start))

	if outcome == OutcomePublished {
		n, dbTime, _ := stats.Snapshot()
		L.Info(ctx, "enriched alert published",
			"duration", time.Since(start).Seconds(),
			"db_queries", n,
			"db_duration", dbTime.Seconds(),
		)
	}
	return outcome == OutcomePublished || outcome == OutcomeDropped
}

func (p *Processor) process(ctx context.Context, L log.Logger, msg *Message) Outcome {
	raw, err := alert.Decode(msg.Payload)
	if err != nil {
		L.Warn(ctx, "dropping undecodable alert", "error", err, "payload_bytes", len(msg.Payload))
		return OutcomeDropped
	}

	enriched, err := p.enricher.Enrich(ctx, raw)
	if err != nil {
		L.Error(ctx, err, "enrichment failed", "subject_id", raw.SubjectID, "alert_code", raw.AlertCode)
		return OutcomeEnrichFailed
	}

	// the id stays fixed across retries so receivers can deduplicate
	if msg.ID == "" {
		msg.ID = p.newID()
	}
	id := msg.ID
	if err := p.sink.Publish(ctx, id, enriched); err != nil {
		L.Error(ctx, err, "publish failed", "enrichment_id", id, "subject_id", raw.SubjectID)
		return OutcomePublishFailed
	}
	return OutcomePublished
}
