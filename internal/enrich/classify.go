package enrich

import "strings"

// subjectPlaceholder is replaced with the display subject once it is known.
const subjectPlaceholder = "{subject}"

// Classification is the static interpretation of an alert code.
type Classification struct {
	Severity Severity
	Title    string
	Template string
}

// Message renders the template for the given display subject.
func (c Classification) Message(subject string) string {
	return strings.ReplaceAll(c.Template, subjectPlaceholder, subject)
}

var defaultClassification = Classification{
	Severity: SeverityInfo,
	Title:    "Health Alert",
	Template: "Health alert detected for {subject}.",
}

// classifications is keyed by exact (case-sensitive) alert code.
var classifications = map[string]Classification{
	"bpm_very_high": {
		Severity: SeverityCritical,
		Title:    "Critical Heart Rate Alert",
		Template: "Patient {subject} has a very high heart rate.",
	},
	"bp_critical": {
		Severity: SeverityCritical,
		Title:    "Critical Blood Pressure Alert",
		Template: "Patient {subject} has a critical blood pressure reading.",
	},
	"bpm_high": {
		Severity: SeverityWarning,
		Title:    "High Heart Rate Alert",
		Template: "Patient {subject} has a high heart rate.",
	},
}

// Classify maps an alert code to its severity, title and message template.
// Unknown codes, including the empty string, classify as an info-level health alert.
func Classify(alertCode string) Classification {
	if c, ok := classifications[alertCode]; ok {
		return c
	}
	return defaultClassification
}
