package enrich

import (
	"reflect"
	"testing"
)

func TestResolveRecipients(t *testing.T) {
	t.Parallel()

	doctor := &CareProvider{ID: 1, Name: "Dr House", Email: "d@x.com"}
	nurse := &CareProvider{ID: 2, Name: "Carla", Email: "n@x.com"}
	defaultOnly := []Recipient{{Email: DefaultRecipientEmail, Role: RoleDefault}}

	tests := []struct {
		name     string
		patient  *Patient
		fallback string
		want     []Recipient
	}{
		{
			name:    "doctor before nurse",
			patient: &Patient{ID: 1, Doctor: doctor, Nurse: nurse},
			want:    []Recipient{{"d@x.com", RoleDoctor}, {"n@x.com", RoleNurse}},
		},
		{
			name:     "care team suppresses fallback",
			patient:  &Patient{ID: 1, Doctor: doctor},
			fallback: "ops@x.com",
			want:     []Recipient{{"d@x.com", RoleDoctor}},
		},
		{
			name:    "nurse only",
			patient: &Patient{ID: 1, Nurse: nurse},
			want:    []Recipient{{"n@x.com", RoleNurse}},
		},
		{
			name:     "no patient uses fallback in order",
			fallback: "a@x.com, b@x.com",
			want:     []Recipient{{"a@x.com", RoleFallback}, {"b@x.com", RoleFallback}},
		},
		{
			name:     "blank fallback tokens dropped",
			fallback: " , a@x.com,,  ,b@x.com , ",
			want:     []Recipient{{"a@x.com", RoleFallback}, {"b@x.com", RoleFallback}},
		},
		{
			name: "no patient no fallback",
			want: defaultOnly,
		},
		{
			name:     "whitespace-only fallback",
			fallback: "  ,  , ",
			want:     defaultOnly,
		},
		{
			name:     "patient without care team falls back",
			patient:  &Patient{ID: 3},
			fallback: "a@x.com",
			want:     []Recipient{{"a@x.com", RoleFallback}},
		},
		{
			name: "blank and missing emails are not contactable",
			patient: &Patient{
				ID:     4,
				Doctor: &CareProvider{ID: 1, Name: "Dr Blank", Email: "   "},
				Nurse:  &CareProvider{ID: 2, Name: "No Mail"},
			},
			want: defaultOnly,
		},
		{
			name:    "emails are trimmed",
			patient: &Patient{ID: 5, Doctor: &CareProvider{Email: "  d@x.com "}},
			want:    []Recipient{{"d@x.com", RoleDoctor}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ResolveRecipients(tt.patient, tt.fallback)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveRecipients() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolver_CustomDefault(t *testing.T) {
	t.Parallel()

	r := NewResolver("", " oncall@x.com ")
	got := r.Resolve(nil)
	want := []Recipient{{Email: "oncall@x.com", Role: RoleDefault}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve(nil) = %+v, want %+v", got, want)
	}
}

func TestResolver_ResultIsNotShared(t *testing.T) {
	t.Parallel()

	r := NewResolver("a@x.com", "")
	first := r.Resolve(nil)
	first[0].Email = "mutated@x.com"

	second := r.Resolve(nil)
	if second[0].Email != "a@x.com" {
		t.Errorf("second Resolve = %q, want unaffected %q", second[0].Email, "a@x.com")
	}
}

func TestResolver_NeverEmpty(t *testing.T) {
	t.Parallel()

	patients := []*Patient{
		nil,
		{},
		{Doctor: &CareProvider{}},
		{Nurse: &CareProvider{Email: " "}},
	}
	fallbacks := []string{"", ",", " a@x.com ", "a@x.com,b@x.com"}

	for _, p := range patients {
		for _, fb := range fallbacks {
			got := ResolveRecipients(p, fb)
			if len(got) == 0 {
				t.Fatalf("ResolveRecipients(%+v, %q) returned no recipients", p, fb)
			}
			for _, r := range got {
				if r.Email == "" {
					t.Errorf("ResolveRecipients(%+v, %q) returned blank email", p, fb)
				}
			}
		}
	}
}

func TestParseFallback_Empty(t *testing.T) {
	t.Parallel()

	if got := ParseFallback(""); len(got) != 0 {
		t.Errorf("ParseFallback(\"\") = %+v, want empty", got)
	}
}
