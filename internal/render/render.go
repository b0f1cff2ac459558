// Package render turns a template plus a lead into a concrete subject
// and HTML body. Substitution is whole-token only over a fixed variable
// set; there is deliberately no expression language here.
package render

import (
	"html"
	"strings"

	"github.com/nimbusmail/outreach/internal/domain"
)

// Placeholder tokens recognized in subject and body. Case-sensitive,
// no whitespace inside the braces.
const (
	TokenFirstName = "{{first_name}}"
	TokenCompany   = "{{company}}"
)

// Email is a rendered message ready for the transport.
type Email struct {
	Subject  string
	BodyHTML string
}

// Render substitutes lead values into the template and appends the
// signature. Empty lead values render as the empty string; unknown
// tokens are left literal. Values are HTML-escaped in the body and
// left raw in the plain-text subject. The signature HTML is appended
// verbatim after a blank-line separator.
func Render(tpl *domain.Template, lead *domain.Lead, signatureHTML string) Email {
	subject := substitute(tpl.Subject, lead, false)
	body := substitute(tpl.Body, lead, true)
	if signatureHTML != "" {
		body += "<br><br>" + signatureHTML
	}
	return Email{Subject: subject, BodyHTML: body}
}

func substitute(s string, lead *domain.Lead, escape bool) string {
	first := lead.FirstName
	company := lead.Company
	if escape {
		first = html.EscapeString(first)
		company = html.EscapeString(company)
	}
	s = strings.ReplaceAll(s, TokenFirstName, first)
	s = strings.ReplaceAll(s, TokenCompany, company)
	return s
}
