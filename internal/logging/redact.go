package logging

import (
	"regexp"
	"sort"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// Credentials that end up in error strings: DSNs, webhook URLs, bearer
// tokens and Slack tokens.
var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:postgres|postgresql|mysql|redis|amqp)://[^\s"']+`),
	regexp.MustCompile(`https://hooks\.slack\.com/[^\s"']+`),
	regexp.MustCompile(`(?i)xox[abpr]-[a-zA-Z0-9-]+`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)(bearer\s+)[^\s"']+`),
}

// Redactor scrubs credentials from text kept in the ring. The stderr
// handler is not redacted.
type Redactor struct {
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor returns a redactor with the built-in patterns plus the
// given literal secrets. Empty and very short literals are ignored.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{patterns: defaultPatterns}
	for _, s := range secrets {
		if len(s) >= 4 {
			r.literals = append(r.literals, s)
		}
	}
	// longest first so a secret containing another is replaced whole
	sort.Slice(r.literals, func(i, j int) bool { return len(r.literals[i]) > len(r.literals[j]) })
	return r
}

// Redact replaces every sensitive match in text with [REDACTED].
func (r *Redactor) Redact(text string) string {
	if r == nil {
		return text
	}
	for _, lit := range r.literals {
		text = strings.ReplaceAll(text, lit, redactedPlaceholder)
	}
	for _, p := range r.patterns {
		if p.NumSubexp() > 0 {
			text = p.ReplaceAllString(text, "${1}"+redactedPlaceholder)
			continue
		}
		text = p.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}
