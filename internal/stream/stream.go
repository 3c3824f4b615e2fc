// Package stream runs the consume, enrich, publish, commit loop that binds the
// enrichment pipeline to a message transport.
package stream

import (
	"context"

	"github.com/linnemanlabs/alertenrich/internal/alert"
	"github.com/linnemanlabs/alertenrich/internal/enrich"
)

// Message is one raw alert as delivered by a Source. Ref is owned by the
// transport and handed back on Commit. ID is derived from the transport
// position, so a redelivery carries the same value; when empty the processor
// mints one.
type Message struct {
	ID      string
	Key     []byte
	Payload []byte
	Ref     any
}

// Source delivers raw alert messages with explicit acknowledgement.
type Source interface {
	// Fetch blocks until a message is available or ctx is done.
	Fetch(ctx context.Context) (*Message, error)
	// Commit acknowledges msg so it is not redelivered.
	Commit(ctx context.Context, msg *Message) error
	Close() error
}

// Sink publishes enriched alerts to the delivery layer.
type Sink interface {
	Publish(ctx context.Context, id string, a *enrich.EnrichedAlert) error
	Close() error
}

// Enricher turns a raw event into an enriched alert.
type Enricher interface {
	Enrich(ctx context.Context, raw *alert.RawEvent) (*enrich.EnrichedAlert, error)
}
