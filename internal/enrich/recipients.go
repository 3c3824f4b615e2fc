package enrich

import "strings"

// DefaultRecipientEmail is the sentinel sink used when neither the care team nor
// any fallback address is available.
const DefaultRecipientEmail = "default@example.com"

// Resolver builds recipient lists against a fixed fallback configuration.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	fallback    []Recipient
	defaultAddr string
}

// NewResolver parses the comma-separated fallback list once. An empty
// defaultAddr selects DefaultRecipientEmail.
func NewResolver(fallback, defaultAddr string) *Resolver {
	defaultAddr = strings.TrimSpace(defaultAddr)
	if defaultAddr == "" {
		defaultAddr = DefaultRecipientEmail
	}
	return &Resolver{
		fallback:    ParseFallback(fallback),
		defaultAddr: defaultAddr,
	}
}

// Fallback returns a copy of the parsed fallback recipients.
func (r *Resolver) Fallback() []Recipient {
	out := make([]Recipient, len(r.fallback))
	copy(out, r.fallback)
	return out
}

// Resolve returns the ordered, never empty recipient list for p (which may be nil):
// doctor, then nurse, else the fallback addresses, else the default sink.
func (r *Resolver) Resolve(p *Patient) []Recipient {
	out := careTeam(p)
	if len(out) > 0 {
		return out
	}
	if len(r.fallback) > 0 {
		return r.Fallback()
	}
	return []Recipient{{Email: r.defaultAddr, Role: RoleDefault}}
}

// ResolveRecipients is the one-shot form of Resolver.Resolve using the standard default sink.
func ResolveRecipients(p *Patient, fallback string) []Recipient {
	return NewResolver(fallback, "").Resolve(p)
}

// ParseFallback splits a comma-separated address list, trimming entries and dropping blanks.
func ParseFallback(s string) []Recipient {
	var out []Recipient
	for _, part := range strings.Split(s, ",") {
		email := strings.TrimSpace(part)
		if email == "" {
			continue
		}
		out = append(out, Recipient{Email: email, Role: RoleFallback})
	}
	return out
}

func careTeam(p *Patient) []Recipient {
	if p == nil {
		return nil
	}
	var out []Recipient
	if email, ok := contact(p.Doctor); ok {
		out = append(out, Recipient{Email: email, Role: RoleDoctor})
	}
	if email, ok := contact(p.Nurse); ok {
		out = append(out, Recipient{Email: email, Role: RoleNurse})
	}
	return out
}

func contact(cp *CareProvider) (string, bool) {
	if cp == nil {
		return "", false
	}
	email := strings.TrimSpace(cp.Email)
	return email, email != ""
}
