package detector

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gzhole/accessguard/internal/accesslog"
)

// sqliPatterns is the full pattern bank. Reasons cite patterns by their
// 1-based position and source text, so both are part of the output format.
// Quote classes keep the ['\"] spelling.
var sqliPatterns = []string{
	// Union-based
	`union\s+(all\s+)?select`,
	`select\s+.*\s+from`,
	`select\s+\*`,

	// Boolean-based blind
	`(and|or)\s+\d+\s*[=<>!]+\s*\d+`,
	`(and|or)\s+['\"]?[a-z]+['\"]?\s*[=<>!]+\s*['\"]?[a-z]+['\"]?`,
	`(and|or)\s+\d+\s*(and|or)\s+\d+`,

	// Time-based blind
	`(sleep|waitfor|delay)\s*\(\s*\d+\s*\)`,
	`benchmark\s*\(\s*\d+`,
	`pg_sleep\s*\(\s*\d+\s*\)`,

	// Error-based
	`(convert|cast|char)\s*\(`,
	`concat\s*\(`,
	`group_concat\s*\(`,
	`having\s+\d+\s*[=<>!]+\s*\d+`,

	// Authentication bypass
	`(admin|user|login)['\"]?\s*(=|like)\s*['\"]?\s*(or|and)`,
	`['\"]\s*(or|and)\s*['\"]?[^'\"]*['\"]?\s*(=|like)`,
	`['\"]\s*(or|and)\s*\d+\s*[=<>!]+\s*\d+`,

	// Destructive verbs, meta functions, schema references
	`(drop|delete|truncate|insert|update)\s+(table|from|into)`,
	`(exec|execute|sp_|xp_)\w*`,
	`(information_schema|sys\.|mysql\.|pg_)`,
	`(load_file|into\s+outfile|dumpfile)`,

	// Comments
	`(--|#|\*/|\*\*)`,
	`/\*.*\*/`,

	// Encoded specials and literals
	`(%27|%22|%2d%2d|%23)`,
	`(0x[0-9a-f]+)`,
	`(char\s*\(\s*\d+)`,

	// LDAP
	`(\*\)|(&\()|(\|\())`,

	// XML / script
	`(<script|<iframe|javascript:|vbscript:)`,

	// Command injection
	`(;|\|&|&&|\|\|).*(cat|ls|dir|type|echo|ping|nslookup|whoami)`,

	// Repeated traversal
	`(\.\./)\{2,\}`,

	// NoSQL operators
	`(\$ne|\$gt|\$lt|\$regex|\$where)`,
}

// sqliWhitelist holds path prefixes treated as low risk. It is matched
// against the raw, undecoded path.
var sqliWhitelist = []string{
	`^/[a-z]+mp3/`,
	`^/blog/`,
	`^/images/`,
	`^/css/`,
	`^/js/`,
	`^/api/v\d+/`,
}

// sqliObvious is the high-confidence subset that still fires on
// whitelisted paths.
var sqliObvious = []string{
	`union\s+select`,
	`(and|or)\s+\d+\s*=\s*\d+`,
	`['\"]\s*or\s*['\"]?\d`,
	`drop\s+table`,
	`script\s*:`,
	`javascript\s*:`,
}

const obviousSQLiReason = "Obvious SQL injection pattern"

// SQLInjectionDetector flags request paths that look like SQL, NoSQL, LDAP
// or command injection. Its pattern set is compiled once at construction.
type SQLInjectionDetector struct {
	patterns  []*regexp.Regexp
	any       *regexp.Regexp
	whitelist *regexp.Regexp
	obvious   *regexp.Regexp
}

// NewSQLInjectionDetector compiles the pattern bank, whitelist and obvious
// subset.
func NewSQLInjectionDetector() *SQLInjectionDetector {
	d := &SQLInjectionDetector{
		patterns: make([]*regexp.Regexp, len(sqliPatterns)),
	}
	for i, p := range sqliPatterns {
		d.patterns[i] = regexp.MustCompile(`(?i)` + p)
	}
	d.any = regexp.MustCompile(`(?i)` + alternation(sqliPatterns))
	d.whitelist = regexp.MustCompile(`(?i)` + alternation(sqliWhitelist))
	d.obvious = regexp.MustCompile(`(?i)` + strings.Join(sqliObvious, "|"))
	return d
}

func (d *SQLInjectionDetector) Key() Key     { return KeySQLInjection }
func (d *SQLInjectionDetector) Name() string { return categoryName(KeySQLInjection) }

// Classify flags records whose path is suspicious. The reason lists every
// pattern in the bank that matched the decoded path.
func (d *SQLInjectionDetector) Classify(records []accesslog.Record) []Flagged {
	return filter(records, func(r accesslog.Record) string {
		if !d.IsSuspicious(r.Path) {
			return ""
		}
		matched := d.MatchedPatterns(r.Path)
		if len(matched) == 0 {
			return obviousSQLiReason
		}
		return strings.Join(matched, "; ")
	})
}

// IsSuspicious applies the whitelist rule: whitelisted paths only fire on the
// obvious subset, everything else is tested against the whole bank.
func (d *SQLInjectionDetector) IsSuspicious(path string) bool {
	if path == "" {
		return false
	}
	decoded := decodePath(path)
	if d.whitelist.MatchString(path) {
		return d.obvious.MatchString(decoded)
	}
	return d.any.MatchString(decoded)
}

// MatchedPatterns returns "Pattern_<n>: <pattern>" for every bank pattern
// that matches the decoded path.
func (d *SQLInjectionDetector) MatchedPatterns(path string) []string {
	if path == "" {
		return nil
	}
	decoded := decodePath(path)
	var out []string
	for i, re := range d.patterns {
		if re.MatchString(decoded) {
			out = append(out, fmt.Sprintf("Pattern_%d: %s", i+1, sqliPatterns[i]))
		}
	}
	return out
}

// decodePath percent-decodes a path; "+" is left alone. Malformed escapes
// and escapes that decode to invalid UTF-8 (e.g. overlong "%C0%27") fall back
// to the raw path.
func decodePath(path string) string {
	decoded, err := url.PathUnescape(path)
	if err != nil || !utf8.ValidString(decoded) {
		return path
	}
	return decoded
}

func alternation(patterns []string) string {
	parts := make([]string, len(patterns))
	for i, p := range patterns {
		parts[i] = "(" + p + ")"
	}
	return strings.Join(parts, "|")
}
