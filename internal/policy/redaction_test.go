package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		markers []string
	}{
		{
			name:    "email phone and card",
			in:      "Écrivez à sam@example.com ou au +33 6 12 34 56 78, carte 4242 4242 4242 4242.",
			markers: []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"},
		},
		{
			name:    "french dotted phone",
			in:      "Mon numéro est 06.12.34.56.78 merci",
			markers: []string{"[REDACTED_PHONE]"},
		},
		{
			name:    "iban",
			in:      "Virement sur FR76 3000 6000 0112 3456 7890 189 demain",
			markers: []string{"[REDACTED_IBAN]"},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			out, changed := RedactPII(tc.in)
			if !changed {
				t.Fatalf("changed = false, want true")
			}
			for _, marker := range tc.markers {
				if !strings.Contains(out, marker) {
					t.Fatalf("output missing marker %q: %q", marker, out)
				}
			}
		})
	}
}

func TestRedactPIILeavesPlainSpeech(t *testing.T) {
	in := "Bonjour, je voudrais réserver une table pour 4 personnes à 20 heures."
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII() = (%q, %v), want unchanged", out, changed)
	}
}
