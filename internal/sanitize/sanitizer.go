// Package sanitize cleans retrieved corpus text before it reaches a
// language model prompt. Sanitization is pure string transformation: no
// I/O, no logging, safe for concurrent use.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// sensitiveSourceThreshold is the redaction count above which a source
// is flagged as likely holding bulk sensitive data.
const sensitiveSourceThreshold = 5

// oversizeThreshold flags contexts large enough to crowd out the query.
const oversizeThreshold = 50 * 1024

// Report is the advisory safety summary for one sanitization pass. It is
// meant for logging and metrics; nothing downstream enforces it.
type Report struct {
	// RedactionCount is the number of spans replaced across all stages.
	RedactionCount int

	// InjectionDetected reports that at least one instruction-like line
	// was dropped.
	InjectionDetected bool

	// DroppedLines is the number of instruction-like lines removed.
	DroppedLines int

	// SensitiveSource flags sources with enough redactions to suggest
	// they hold bulk sensitive data.
	SensitiveSource bool

	// Oversize flags cleaned text large enough to dilute model attention.
	Oversize bool
}

// Clean reports whether the pass found nothing to act on.
func (r Report) Clean() bool {
	return r.RedactionCount == 0 && !r.InjectionDetected && !r.Oversize
}

type compiledRule struct {
	id      string
	pattern *regexp.Regexp
}

// Sanitizer applies the staged redaction rules.
type Sanitizer struct {
	patternRules  []compiledRule
	semanticRules []compiledRule
	cues          []string
}

// New compiles the default rule sets.
func New() (*Sanitizer, error) {
	patternRules, err := compileRules(defaultPatternRules)
	if err != nil {
		return nil, err
	}
	semanticRules, err := compileRules(defaultSemanticRules)
	if err != nil {
		return nil, err
	}

	return &Sanitizer{
		patternRules:  patternRules,
		semanticRules: semanticRules,
		cues:          defaultInjectionCues,
	}, nil
}

// MustNew compiles the default rule sets, panicking on error. The
// defaults are fixed, so a panic here is a build defect.
func MustNew() *Sanitizer {
	s, err := New()
	if err != nil {
		panic(err)
	}
	return s
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		p, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling rule %s: %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{id: r.ID, pattern: p})
	}
	return compiled, nil
}

// Sanitize runs all stages over the raw text and returns the cleaned
// text with its safety report. Empty input returns empty output and an
// all-clear report.
func (s *Sanitizer) Sanitize(raw string) (string, Report) {
	var report Report
	if raw == "" {
		return "", report
	}

	cleaned, count := applyRules(s.patternRules, raw)
	report.RedactionCount += count

	cleaned, dropped := s.dropInjectionLines(cleaned)
	report.DroppedLines = dropped

	cleaned, count = applyRules(s.semanticRules, cleaned)
	report.RedactionCount += count

	report.InjectionDetected = dropped > 0
	report.SensitiveSource = report.RedactionCount > sensitiveSourceThreshold
	report.Oversize = len(cleaned) > oversizeThreshold

	return cleaned, report
}

// applyRules replaces every match of every rule, in order, and returns
// the total replacement count.
func applyRules(rules []compiledRule, text string) (string, int) {
	count := 0
	for _, r := range rules {
		matches := r.pattern.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		count += len(matches)
		text = r.pattern.ReplaceAllString(text, Marker)
	}
	return text, count
}

// dropInjectionLines removes lines whose lowercase form contains any
// injection cue.
func (s *Sanitizer) dropInjectionLines(text string) (string, int) {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	dropped := 0

	for _, line := range lines {
		if s.lineHasCue(line) {
			dropped++
			continue
		}
		kept = append(kept, line)
	}

	if dropped == 0 {
		return text, 0
	}
	return strings.Join(kept, "\n"), dropped
}

func (s *Sanitizer) lineHasCue(line string) bool {
	lower := strings.ToLower(line)
	for _, cue := range s.cues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}
