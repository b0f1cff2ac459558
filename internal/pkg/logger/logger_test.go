package logger

import "testing"

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestRedactEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"al@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
		{"a@b@c", "***@***"},
	}
	for _, c := range cases {
		if got := RedactEmail(c.in); got != c.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRedactPIIValueMasksEmbeddedEmails(t *testing.T) {
	got := redactPIIValue("detail", "bounced for carol.smith@corp.io after retry")
	want := "bounced for ca***@corp.io after retry"
	if got != want {
		t.Errorf("redactPIIValue = %q, want %q", got, want)
	}
	if got := redactPIIValue("lead_email", "bob@corp.io"); got != "bo***@corp.io" {
		t.Errorf("lead_email field = %q", got)
	}
}
