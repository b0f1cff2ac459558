package logger

import "strings"

// RedactEmail masks an address for logs, keeping at most the first two
// characters of the local part: "john.doe@example.com" becomes
// "jo***@example.com".
func RedactEmail(email string) string {
	name, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(name) > 2 {
		return name[:2] + "***@" + domain
	}
	return "***@" + domain
}
