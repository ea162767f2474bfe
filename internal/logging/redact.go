package logging

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Inference errors can echo fragments of the classified message, which routinely
// carry addresses, links and one-time codes.
var (
	emailRe  = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	urlRe    = regexp.MustCompile(`https?://[^\s"'<>]+`)
	bearerRe = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-+/=]+)`)
	tokenRe  = regexp.MustCompile(`[A-Za-z0-9_\-]{32,}`)
	phoneRe  = regexp.MustCompile(`\+?\d[\d\s().\-]{8,}\d`)
)

// Redact removes personal data and secrets from free-form text.
func Redact(s string) string {
	if s == "" {
		return s
	}

	out := urlRe.ReplaceAllStringFunc(s, redactURL)
	out = emailRe.ReplaceAllString(out, "[REDACTED_EMAIL]")
	out = bearerRe.ReplaceAllString(out, "${1}[REDACTED]")
	out = tokenRe.ReplaceAllString(out, "[REDACTED_TOKEN]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}

// redactURL keeps scheme and host so operators can still tell which link broke something.
func redactURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[REDACTED_URL]"
	}
	return fmt.Sprintf("%s://%s/[REDACTED_PATH]", u.Scheme, u.Host)
}
