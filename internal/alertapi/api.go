// Package alertapi exposes the enrichment pipeline over HTTP.
package alertapi

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/alertenrich/internal/alert"
	"github.com/linnemanlabs/alertenrich/internal/enrich"
)

// Enricher defines the enrichment operation alertapi needs.
type Enricher interface {
	Enrich(ctx context.Context, raw *alert.RawEvent) (*enrich.EnrichedAlert, error)
}

// Publisher hands enriched alerts to the delivery layer.
type Publisher interface {
	Publish(ctx context.Context, id string, a *enrich.EnrichedAlert) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	enricher Enricher
	pub      Publisher
	newID    func() string
}

// New creates a new API handler. pub may be nil, in which case the ingest
// endpoint answers 503.
func New(logger log.Logger, enricher Enricher, pub Publisher) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if enricher == nil {
		panic(xerrors.New("enricher is required"))
	}
	return &API{
		logger:   logger,
		enricher: enricher,
		pub:      pub,
		newID:    func() string { return ulid.Make().String() },
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/enrich", a.handleEnrich)
		r.Post("/alerts", a.handleIngest)
		r.Get("/classifications/{code}", a.handleClassification)
	})
}
