package render

import (
	"strings"
	"testing"

	"github.com/nimbusmail/outreach/internal/domain"
)

func tpl(subject, body string) *domain.Template {
	return &domain.Template{Subject: subject, Body: body, StepNumber: 1}
}

func TestRenderSubstitution(t *testing.T) {
	lead := &domain.Lead{FirstName: "Ana", Company: "Acme"}
	got := Render(tpl("Hi {{first_name}}", "<p>Does {{company}} need this?</p>"), lead, "")

	if got.Subject != "Hi Ana" {
		t.Errorf("subject = %q", got.Subject)
	}
	if got.BodyHTML != "<p>Does Acme need this?</p>" {
		t.Errorf("body = %q", got.BodyHTML)
	}
}

func TestRenderEmptyValuesRenderEmpty(t *testing.T) {
	lead := &domain.Lead{FirstName: "", Company: ""}
	got := Render(tpl("Hey {{first_name}}", "For {{company}}"), lead, "")

	if got.Subject != "Hey " {
		t.Errorf("subject = %q, want empty substitution", got.Subject)
	}
	if got.BodyHTML != "For " {
		t.Errorf("body = %q, want empty substitution", got.BodyHTML)
	}
}

func TestRenderUnknownTokensLeftLiteral(t *testing.T) {
	lead := &domain.Lead{FirstName: "Ana"}
	got := Render(tpl("{{last_name}}", "{{ first_name }} {{FIRST_NAME}}"), lead, "")

	if got.Subject != "{{last_name}}" {
		t.Errorf("unknown token rewritten: %q", got.Subject)
	}
	// Whitespace inside braces and wrong case are not tokens.
	if got.BodyHTML != "{{ first_name }} {{FIRST_NAME}}" {
		t.Errorf("near-miss tokens rewritten: %q", got.BodyHTML)
	}
}

func TestRenderEscapesBodyNotSubject(t *testing.T) {
	lead := &domain.Lead{FirstName: "A&B", Company: "<Corp>"}
	got := Render(tpl("{{first_name}}", "{{company}}"), lead, "")

	if got.Subject != "A&B" {
		t.Errorf("subject escaped: %q", got.Subject)
	}
	if got.BodyHTML != "&lt;Corp&gt;" {
		t.Errorf("body not escaped: %q", got.BodyHTML)
	}
}

func TestRenderSignatureAppended(t *testing.T) {
	lead := &domain.Lead{FirstName: "Ana"}
	got := Render(tpl("s", "<p>Hello</p>"), lead, "<p>Best,<br>Sam</p>")

	if !strings.HasSuffix(got.BodyHTML, "<br><br><p>Best,<br>Sam</p>") {
		t.Errorf("signature not appended after separator: %q", got.BodyHTML)
	}
	// Signature HTML is appended verbatim, never escaped.
	if strings.Contains(got.BodyHTML, "&lt;p&gt;") {
		t.Errorf("signature was escaped: %q", got.BodyHTML)
	}
}

func TestRenderNoSignatureNoSeparator(t *testing.T) {
	lead := &domain.Lead{}
	got := Render(tpl("s", "<p>Hello</p>"), lead, "")
	if strings.Contains(got.BodyHTML, "<br><br>") {
		t.Errorf("separator added without signature: %q", got.BodyHTML)
	}
}

func TestRenderBodyHTMLPreserved(t *testing.T) {
	lead := &domain.Lead{FirstName: "Ana"}
	body := `<div style="color:red"><a href="https://example.com">link</a></div>`
	got := Render(tpl("s", body), lead, "")
	if got.BodyHTML != body {
		t.Errorf("template HTML mangled: %q", got.BodyHTML)
	}
}
