package services

import (
	"regexp"
	"strings"
)

// InputClassifier flags probable injection or XSS payloads in arbitrary
// strings. It is a heuristic, not a security boundary; the interface exists
// so a stronger classifier can replace the pattern matcher without touching
// callers. Implementations must be safe for concurrent use.
type InputClassifier interface {
	// Classify reports whether the input looks malicious. Empty input is
	// never malicious.
	Classify(input string) bool

	// Sanitize strips matched patterns and HTML-escapes < > " '.
	// Sanitize(Sanitize(x)) == Sanitize(x).
	Sanitize(input string) string
}

// PatternClassifier matches input against SQL-injection and XSS indicator
// patterns, case-insensitively. It holds no mutable state.
type PatternClassifier struct {
	patterns []*regexp.Regexp
}

var sqlInjectionPatterns = []string{
	`(?i)\bselect\s`,
	`(?i)\bunion\s`,
	`(?i)\binsert\s`,
	`(?i)\bdelete\s`,
	`(?i)\bupdate\s+\w+\s+set\s`,
	`(?i)drop\s+table`,
	`(?i)\bexec\s`,
	`(?i)' *or *'1' *= *'1`,
	`--`,
	`/\*`,
	`(?i)\bxp_\w+`,
}

var xssPatterns = []string{
	`(?i)<script`,
	`(?i)<iframe`,
	`(?i)javascript:`,
	`(?i)\bonerror\s*=`,
	`(?i)\bonload\s*=`,
	`(?i)eval\(`,
	`(?i)document\.cookie`,
	`(?i)alert\(`,
}

var htmlEscaper = strings.NewReplacer(
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

// NewPatternClassifier compiles the stock pattern families.
func NewPatternClassifier() *PatternClassifier {
	raw := make([]string, 0, len(sqlInjectionPatterns)+len(xssPatterns))
	raw = append(raw, sqlInjectionPatterns...)
	raw = append(raw, xssPatterns...)

	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		patterns = append(patterns, regexp.MustCompile(p))
	}

	return &PatternClassifier{patterns: patterns}
}

func (c *PatternClassifier) Classify(input string) bool {
	if input == "" {
		return false
	}

	for _, pattern := range c.patterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}

// Sanitize removes every pattern match, then escapes the four HTML
// metacharacters. Stripping happens first so escaped output cannot
// reintroduce a match, which keeps the function idempotent.
func (c *PatternClassifier) Sanitize(input string) string {
	if input == "" {
		return ""
	}

	// Strip to a fixpoint: removing one match can splice a new one together
	// (e.g. "aalert(lert(" collapses into "alert("), so a single pass over
	// the pattern list is not enough.
	cleaned := input
	for {
		next := cleaned
		for _, pattern := range c.patterns {
			next = pattern.ReplaceAllString(next, "")
		}
		if next == cleaned {
			break
		}
		cleaned = next
	}

	return htmlEscaper.Replace(cleaned)
}
