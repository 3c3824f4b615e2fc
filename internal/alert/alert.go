// Package alert defines the raw alert event produced by the device/ingest layer.
package alert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidTimestamp is returned when an event carries a timestamp in none of the accepted encodings.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// RawEvent is a single alert as emitted by the gateway, keyed by the subject (house) identifier.
type RawEvent struct {
	SubjectID string         `json:"subjectId"`
	AlertCode string         `json:"alertCode"`
	Metrics   map[string]any `json:"metrics,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

// wireEvent accepts both the current field names and the ones the gateway used
// originally (house_id, alert_message).
type wireEvent struct {
	SubjectID    json.RawMessage `json:"subjectId"`
	HouseID      json.RawMessage `json:"house_id"`
	AlertCode    *string         `json:"alertCode"`
	AlertMessage *string         `json:"alert_message"`
	Metrics      map[string]any  `json:"metrics"`
	Timestamp    json.RawMessage `json:"timestamp"`
}

// UnmarshalJSON decodes an event, tolerating the legacy field names and the
// timestamp encodings seen from producers: RFC 3339 string, a local date-time
// array [y,m,d,h,min,s,nanos] (read as UTC), or epoch milliseconds.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	id := w.SubjectID
	if isAbsent(id) {
		id = w.HouseID
	}
	subject, err := decodeID(id)
	if err != nil {
		return fmt.Errorf("subjectId: %w", err)
	}

	var code string
	switch {
	case w.AlertCode != nil:
		code = *w.AlertCode
	case w.AlertMessage != nil:
		code = *w.AlertMessage
	}

	ts, err := decodeTimestamp(w.Timestamp)
	if err != nil {
		return err
	}

	*e = RawEvent{
		SubjectID: subject,
		AlertCode: code,
		Metrics:   w.Metrics,
		Timestamp: ts,
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// decodeID accepts the identifier as a JSON string or number and returns it verbatim as text.
func decodeID(raw json.RawMessage) (string, error) {
	if isAbsent(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("must be a string or number, got %s", string(raw))
	}
	return n.String(), nil
}

func decodeTimestamp(raw json.RawMessage) (*time.Time, error) {
	if isAbsent(raw) {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
		}
		return &t, nil
	}

	var parts []int
	if err := json.Unmarshal(raw, &parts); err == nil {
		return fromDateTimeArray(parts)
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrInvalidTimestamp, string(raw))
}

// fromDateTimeArray converts [year, month, day, hour, minute, second, nanos];
// trailing components may be omitted.
func fromDateTimeArray(p []int) (*time.Time, error) {
	if len(p) < 3 || len(p) > 7 {
		return nil, fmt.Errorf("%w: date-time array has %d elements", ErrInvalidTimestamp, len(p))
	}
	v := make([]int, 7)
	copy(v, p)
	if v[1] < 1 || v[1] > 12 || v[2] < 1 || v[2] > 31 {
		return nil, fmt.Errorf("%w: date out of range %v", ErrInvalidTimestamp, p)
	}
	t := time.Date(v[0], time.Month(v[1]), v[2], v[3], v[4], v[5], v[6], time.UTC)
	return &t, nil
}

// Decode parses a single raw event from a transport payload.
func Decode(payload []byte) (*RawEvent, error) {
	var e RawEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode raw alert: %w", err)
	}
	return &e, nil
}

// String renders the fields relevant for log lines.
func (e *RawEvent) String() string {
	return "subject=" + strconv.Quote(e.SubjectID) + " code=" + strconv.Quote(e.AlertCode)
}
