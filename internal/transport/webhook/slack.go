package webhook

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/alertenrich/internal/enrich"
)

const maxMessageLen = 3000

func buildSlackMessage(id string, a *enrich.EnrichedAlert) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("%s: %s", a.Title, a.Message),
		"blocks": []map[string]any{
			headerBlock(a),
			messageBlock(a),
			fieldsBlock(a),
			{"type": "divider"},
			contextBlock(id, a),
		},
	}
}

func headerBlock(a *enrich.EnrichedAlert) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s", severityEmoji(a.Severity), a.Title),
		},
	}
}

func messageBlock(a *enrich.EnrichedAlert) map[string]any {
	text := truncate(a.Message, maxMessageLen)
	if text == "" {
		text = "_No message._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

func fieldsBlock(a *enrich.EnrichedAlert) map[string]any {
	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", a.Severity)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*House:* %s", a.SubjectID)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Notify:* %s", recipientList(a.Recipients))},
		},
	}
}

func contextBlock(id string, a *enrich.EnrichedAlert) map[string]any {
	code, _ := a.Metadata[enrich.MetaAlertCode].(string)
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{{
			"type": "mrkdwn",
			"text": fmt.Sprintf("alertenrich • %s • %s • %s", id, code, a.Timestamp.UTC().Format("2006-01-02 15:04 UTC")),
		}},
	}
}

func recipientList(rs []enrich.Recipient) string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		parts = append(parts, fmt.Sprintf("%s (%s)", r.Email, r.Role))
	}
	return strings.Join(parts, ", ")
}

func severityEmoji(s enrich.Severity) string {
	switch s {
	case enrich.SeverityCritical:
		return "\U0001f534" // red circle
	case enrich.SeverityWarning:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
