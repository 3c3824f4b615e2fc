// Package webhook publishes enriched alerts to an HTTP endpoint, either as the
// plain enriched alert JSON or as a Slack Block Kit message.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/alertenrich/internal/enrich"
	"github.com/linnemanlabs/alertenrich/internal/stream"
)

// Format selects the request body layout.
type Format string

const (
	FormatJSON  Format = "json"
	FormatSlack Format = "slack"
)

// HeaderEnrichmentID carries the enrichment id so receivers can deduplicate redeliveries.
const HeaderEnrichmentID = "X-Enrichment-Id"

const httpTimeout = 10 * time.Second

// Sink posts enriched alerts to a webhook URL.
type Sink struct {
	url    string
	format Format
	client *http.Client
}

var _ stream.Sink = (*Sink)(nil)

// New creates a webhook sink. An unknown format falls back to FormatJSON.
func New(url string, format Format) *Sink {
	if format != FormatSlack {
		format = FormatJSON
	}
	return &Sink{
		url:    url,
		format: format,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Publish posts a. Any non-2xx response is an error so the message is redelivered.
func (s *Sink) Publish(ctx context.Context, id string, a *enrich.EnrichedAlert) error {
	var msg any = a
	if s.format == FormatSlack {
		msg = buildSlackMessage(id, a)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEnrichmentID, id)

	resp, err := s.client.Do(req) //nolint:gosec // G704: url is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Close releases idle connections.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
