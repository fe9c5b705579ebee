package sanitize

// Rule is one redaction pattern. Rules are data: the default sets below
// are compiled at construction and each stage can be tested on its own.
type Rule struct {
	// ID names the rule in reports and logs.
	ID string

	// Pattern is an RE2 regular expression; matches are replaced with
	// the redaction marker.
	Pattern string
}

// Marker replaces every redacted span. Redaction is irreversible; the
// original text is never retained.
const Marker = "[REDACTED]"

// defaultPatternRules are the first-stage rules: rigid patterns for
// numeric identifiers and labeled credentials. Order matters: longer
// digit runs must be consumed before the shorter rule sees them.
var defaultPatternRules = []Rule{
	{ID: "card-number-run", Pattern: `\b[0-9]{12,16}\b`},
	{ID: "account-number-run", Pattern: `\b[0-9]{9,12}\b`},
	{ID: "account-number-label", Pattern: `(?i)\baccount\s*(?:number|no\.?|#)\s*[:\-]?\s*[A-Za-z0-9\-]+`},
	{ID: "ifsc-code", Pattern: `(?i)\bifsc\s*(?:code)?\s*[:\-]?\s*[A-Za-z]{4}0[A-Za-z0-9]{6}\b`},
	{ID: "credential-literal", Pattern: `(?i)\b(?:password|passwd|secret|token)\s*[:=]\s*\S+`},
}

// defaultSemanticRules are the third-stage rules: formatting-tolerant
// variants that catch identifiers broken up by spaces, dashes, or
// abbreviated labels.
var defaultSemanticRules = []Rule{
	{ID: "separated-digit-run", Pattern: `\b(?:[0-9][ \-]?){11,15}[0-9]\b`},
	{ID: "acct-abbrev", Pattern: `(?i)\bacct\.?\s*#?\s*[0-9][0-9\-\s]{5,}[0-9]`},
	{ID: "api-key-label", Pattern: `(?i)\bapi[\s_\-]?key\s*[:=]?\s*[A-Za-z0-9_\-]{8,}`},
}

// defaultInjectionCues mark lines to drop: substrings (lowercased) that
// indicate embedded instructions rather than corpus content. The
// trailing space on "ignore " keeps words like "ignored" intact.
var defaultInjectionCues = []string{
	"always say",
	"ignore ",
	"override",
	"new instructions",
	"disregard",
	"system prompt",
}
