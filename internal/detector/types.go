// Package detector holds the built-in threat detectors that classify parsed
// access-log records.
//
// Every detector implements Detector. A detector receives the whole corpus
// and returns the subsequence it considers suspicious, in the original order,
// each record annotated with a reason. Detectors never mutate their input and
// keep no state between calls, so they are safe for concurrent use.
package detector

import "github.com/gzhole/accessguard/internal/accesslog"

// Key identifies a detector category. The eight built-in keys are a closed
// set; dynamically registered detectors use keys outside it.
type Key string

const (
	KeySQLInjection  Key = "sql-injection"
	KeyPathTraversal Key = "path-traversal"
	KeyBots          Key = "bots"
	KeyLFIRFI        Key = "lfi-rfi"
	KeyWPProbe       Key = "wp-probe"
	KeyBruteForce    Key = "brute-force"
	KeyErrors        Key = "errors"
	KeyInternalIP    Key = "internal-ip"
)

// Severity ranks a category for reporting.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Detector is the interface every classifier implements.
type Detector interface {
	// Key returns the category identifier, e.g. "sql-injection".
	Key() Key

	// Name returns the human-readable category label, e.g. "SQL Injection".
	Name() string

	// Classify returns the suspicious subsequence of records, in input order.
	Classify(records []accesslog.Record) []Flagged
}

// Flagged is a record plus the reason a detector flagged it.
type Flagged struct {
	accesslog.Record
	Reason string `json:"suspicion_reason"`
}

// Category is the display metadata for a built-in key.
type Category struct {
	Key         Key      `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// builtinCategories is in canonical order; RunAll and Keys follow it.
var builtinCategories = []Category{
	{KeySQLInjection, "SQL Injection", "Attempts to inject malicious SQL code into database queries", SeverityHigh},
	{KeyPathTraversal, "Path Traversal", "Attempts to access files outside the web root directory", SeverityHigh},
	{KeyBots, "Bot Detection", "Automated bot and crawler activity detection", SeverityMedium},
	{KeyLFIRFI, "LFI/RFI Attacks", "Local and Remote File Inclusion attack attempts", SeverityHigh},
	{KeyWPProbe, "WordPress Probes", "WordPress-specific vulnerability scanning attempts", SeverityMedium},
	{KeyBruteForce, "Brute Force", "Password brute force and credential stuffing attacks", SeverityHigh},
	{KeyErrors, "HTTP Errors", "Suspicious HTTP error patterns and responses", SeverityLow},
	{KeyInternalIP, "Internal IP Access", "Unauthorized access attempts to internal IP ranges", SeverityMedium},
}

// Lookup returns the metadata for a built-in key.
func Lookup(key Key) (Category, bool) {
	for _, c := range builtinCategories {
		if c.Key == key {
			return c, true
		}
	}
	return Category{}, false
}

// IsBuiltin reports whether key is one of the eight fixed categories.
func IsBuiltin(key Key) bool {
	_, ok := Lookup(key)
	return ok
}

// Categories returns the built-in category metadata in canonical order.
func Categories() []Category {
	out := make([]Category, len(builtinCategories))
	copy(out, builtinCategories)
	return out
}

func categoryName(key Key) string {
	c, _ := Lookup(key)
	return c.Name
}

// filter is the shared classify loop: keep records for which reason returns
// a non-empty string.
func filter(records []accesslog.Record, reason func(accesslog.Record) string) []Flagged {
	var out []Flagged
	for _, r := range records {
		if why := reason(r); why != "" {
			out = append(out, Flagged{Record: r, Reason: why})
		}
	}
	return out
}
