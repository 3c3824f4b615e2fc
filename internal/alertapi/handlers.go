package alertapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/alertenrich/internal/alert"
	"github.com/linnemanlabs/alertenrich/internal/enrich"
)

type enrichResponse struct {
	ID    string                `json:"id"`
	Alert *enrich.EnrichedAlert `json:"alert"`
}

type classificationResponse struct {
	Code     string          `json:"code"`
	Severity enrich.Severity `json:"severity"`
	Title    string          `json:"title"`
	Template string          `json:"template"`
}

// handleEnrich enriches synchronously and returns the result without publishing.
func (a *API) handleEnrich(w http.ResponseWriter, r *http.Request) {
	raw, ok := a.decode(w, r)
	if !ok {
		return
	}

	out, err := a.enricher.Enrich(r.Context(), raw)
	if err != nil {
		a.logger.Error(r.Context(), err, "enrichment failed", "subject_id", raw.SubjectID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	id := a.newID()
	annotate(r, id, out)
	writeJSON(w, http.StatusOK, enrichResponse{ID: id, Alert: out})
}

// handleIngest enriches and publishes to the configured sink.
func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	if a.pub == nil {
		writeError(w, http.StatusServiceUnavailable, "no sink configured")
		return
	}

	raw, ok := a.decode(w, r)
	if !ok {
		return
	}

	out, err := a.enricher.Enrich(r.Context(), raw)
	if err != nil {
		a.logger.Error(r.Context(), err, "enrichment failed", "subject_id", raw.SubjectID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	id := a.newID()
	annotate(r, id, out)
	if err := a.pub.Publish(r.Context(), id, out); err != nil {
		a.logger.Error(r.Context(), err, "publish failed", "enrichment_id", id, "subject_id", raw.SubjectID)
		writeError(w, http.StatusBadGateway, "publish failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (a *API) handleClassification(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	c := enrich.Classify(code)
	writeJSON(w, http.StatusOK, classificationResponse{
		Code:     code,
		Severity: c.Severity,
		Title:    c.Title,
		Template: c.Template,
	})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request) (*alert.RawEvent, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		// MaxBody rejects oversized bodies while reading
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return nil, false
	}
	raw, err := alert.Decode(body)
	if err != nil {
		a.logger.Warn(r.Context(), "rejecting invalid alert payload", "error", err)
		writeError(w, http.StatusBadRequest, "invalid payload")
		return nil, false
	}
	return raw, true
}

func annotate(r *http.Request, id string, out *enrich.EnrichedAlert) {
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("alertenrich.enrichment.id", id),
		attribute.String("alertenrich.severity", string(out.Severity)),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
