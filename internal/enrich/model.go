package enrich

import "time"

// Severity is the urgency attached to an enriched alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Role tells the delivery layer why a recipient was selected.
type Role string

const (
	// RoleDoctor is the patient's assigned doctor
	RoleDoctor Role = "doctor"

	// RoleNurse is the patient's assigned nurse
	RoleNurse Role = "nurse"

	// RoleFallback is a statically configured address used when no care-team contact resolves
	RoleFallback Role = "fallback"

	// RoleDefault is the last-resort sink when no fallback is configured either
	RoleDefault Role = "default"
)

// CareProvider is a doctor or nurse as seen through the directory.
type CareProvider struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Patient is a fully resolved directory entry. The pipeline only reads it.
type Patient struct {
	ID        int64         `json:"id"`
	FirstName string        `json:"firstName"`
	LastName  string        `json:"lastName"`
	SubjectID string        `json:"subjectId"`
	Doctor    *CareProvider `json:"doctor,omitempty"`
	Nurse     *CareProvider `json:"nurse,omitempty"`
}

// FullName returns the display name used in notification messages.
func (p *Patient) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Recipient is a single notification target.
type Recipient struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// EnrichedAlert is the record handed to the notification-delivery layer.
type EnrichedAlert struct {
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Severity   Severity       `json:"severity"`
	Recipients []Recipient    `json:"recipients"`
	SubjectID  string         `json:"subjectId"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata"`
}

// Metadata keys carried over from the raw event.
const (
	MetaAlertCode = "alertCode"
	MetaMetrics   = "metrics"
)
