package enrich

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/alertenrich/internal/alert"
	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/alertenrich/internal/enrich")

// ErrNilEvent is returned when Enrich is called without an event.
var ErrNilEvent = errors.New("enrich: nil raw event")

// UnknownSubject is the display subject when the event carries no identifier.
const UnknownSubject = "Unknown patient"

// Hooks receives observability callbacks. Nil fields are skipped.
type Hooks struct {
	OnLookup func(outcome LookupOutcome)
	OnEnrich func(e *EnrichEvent)
}

// EnrichEvent summarises one completed enrichment for metrics.
type EnrichEvent struct {
	Severity     Severity
	PatientFound bool
	Recipients   []Recipient
	DurationSecs float64
}

// Pipeline composes classification, directory lookup and recipient resolution.
// It keeps no per-event state and is safe for concurrent use.
type Pipeline struct {
	dir      PatientDirectory
	resolver *Resolver
	logger   log.Logger
	hooks    Hooks
	now      func() time.Time
}

// NewPipeline creates a pipeline. A nil resolver uses no fallback addresses.
func NewPipeline(dir PatientDirectory, resolver *Resolver, logger log.Logger, hooks Hooks) *Pipeline {
	if logger == nil {
		logger = log.Nop()
	}
	if resolver == nil {
		resolver = NewResolver("", "")
	}
	return &Pipeline{
		dir:      dir,
		resolver: resolver,
		logger:   logger,
		hooks:    hooks,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enrich produces exactly one EnrichedAlert for raw. Directory problems degrade to
// fallback recipients; anything else is returned to the caller unchanged.
func (p *Pipeline) Enrich(ctx context.Context, raw *alert.RawEvent) (*EnrichedAlert, error) {
	if raw == nil {
		return nil, ErrNilEvent
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "enrich.Enrich", trace.WithAttributes(
		attribute.String("alert.subject_id", raw.SubjectID),
		attribute.String("alert.code", raw.AlertCode),
	))
	defer span.End()

	L := p.logger.With("subject_id", raw.SubjectID, "alert_code", raw.AlertCode)

	c := Classify(raw.AlertCode)

	var patient *Patient
	if p.dir != nil {
		if found, ok := p.dir.Lookup(ctx, raw.SubjectID); ok {
			patient = found
		}
	}

	subject := displaySubject(patient, raw.SubjectID)
	recipients := p.resolver.Resolve(patient)

	ts := p.now()
	if raw.Timestamp != nil {
		ts = raw.Timestamp.UTC()
	}

	out := &EnrichedAlert{
		Title:      c.Title,
		Message:    c.Message(subject),
		Severity:   c.Severity,
		Recipients: recipients,
		SubjectID:  raw.SubjectID,
		Timestamp:  ts,
		Metadata:   buildMetadata(raw),
	}

	span.SetAttributes(
		attribute.String("alert.severity", string(out.Severity)),
		attribute.Bool("alert.patient_found", patient != nil),
		attribute.Int("alert.recipients", len(recipients)),
	)

	L.Info(ctx, "alert enriched",
		"severity", out.Severity,
		"patient_found", patient != nil,
		"recipients", len(recipients),
		"recipient_role", recipients[0].Role,
	)

	if p.hooks.OnEnrich != nil {
		p.hooks.OnEnrich(&EnrichEvent{
			Severity:     out.Severity,
			PatientFound: patient != nil,
			Recipients:   recipients,
			DurationSecs: time.Since(start).Seconds(),
		})
	}

	return out, nil
}

func displaySubject(p *Patient, subjectID string) string {
	if p != nil {
		if name := strings.TrimSpace(p.FullName()); name != "" {
			return name
		}
	}
	if strings.TrimSpace(subjectID) != "" {
		return "House " + subjectID
	}
	return UnknownSubject
}

// buildMetadata copies the alert code and, when non-empty, the metrics.
func buildMetadata(raw *alert.RawEvent) map[string]any {
	meta := map[string]any{MetaAlertCode: raw.AlertCode}
	if len(raw.Metrics) > 0 {
		metrics := make(map[string]any, len(raw.Metrics))
		for k, v := range raw.Metrics {
			metrics[k] = v
		}
		meta[MetaMetrics] = metrics
	}
	return meta
}
