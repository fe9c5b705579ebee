package generation

import (
	"regexp"

	"github.com/fyrsmithlabs/corpusd/internal/sanitize"
)

// piiPhrasings catch personal-data references that the redaction rules
// do not, since model output can describe sensitive data without quoting
// digits.
var piiPhrasings = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:ssn|social security number)\b`),
	regexp.MustCompile(`(?i)\bdate of birth\b`),
	regexp.MustCompile(`(?i)\bmother'?s maiden name\b`),
}

// Screen checks generated output for sensitive content before it is
// surfaced or persisted.
type Screen struct {
	sanitizer *sanitize.Sanitizer
}

// NewScreen creates an output screen backed by the sanitizer's redaction
// rules.
func NewScreen() *Screen {
	return &Screen{sanitizer: sanitize.MustNew()}
}

// Check reports whether the text violates output safety: card-number
// runs, account patterns, credential literals, or PII phrasing.
func (s *Screen) Check(text string) bool {
	if text == "" {
		return false
	}

	_, report := s.sanitizer.Sanitize(text)
	if report.RedactionCount > 0 {
		return true
	}

	for _, p := range piiPhrasings {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
