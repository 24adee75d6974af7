package detector

import (
	"regexp"
	"strings"

	"github.com/gzhole/accessguard/internal/accesslog"
)

// maxPathDepth is the number of "/" a path may contain before it is treated
// as a traversal attempt.
const maxPathDepth = 15

var traversalPattern = regexp.MustCompile(`(?i)(\.\./|%2e%2e%2f|%2e%2f|%2f\.\.|/\.{2})`)

// PathTraversalDetector flags "../" sequences, their percent-encoded forms,
// and paths nested deeper than maxPathDepth.
type PathTraversalDetector struct{}

func (PathTraversalDetector) Key() Key     { return KeyPathTraversal }
func (PathTraversalDetector) Name() string { return categoryName(KeyPathTraversal) }

func (PathTraversalDetector) Classify(records []accesslog.Record) []Flagged {
	return filter(records, func(r accesslog.Record) string {
		if r.Path == "" {
			return ""
		}
		if traversalPattern.MatchString(r.Path) || strings.Count(r.Path, "/") > maxPathDepth {
			return "Path traversal pattern detected"
		}
		return ""
	})
}

var lfiPattern = regexp.MustCompile(`(?i)(etc/passwd|proc/self/environ|input_file=|data:text)`)

// LFIRFIDetector flags local and remote file inclusion probes.
type LFIRFIDetector struct{}

func (LFIRFIDetector) Key() Key     { return KeyLFIRFI }
func (LFIRFIDetector) Name() string { return categoryName(KeyLFIRFI) }

func (LFIRFIDetector) Classify(records []accesslog.Record) []Flagged {
	return filter(records, func(r accesslog.Record) string {
		if lfiPattern.MatchString(r.Path) {
			return "LFI/RFI pattern detected"
		}
		return ""
	})
}

var wpProbePattern = regexp.MustCompile(`(?i)(\.php|/wp-|xmlrpc\.php|\?author=|\?p=)`)

// WPProbeDetector flags WordPress and generic PHP endpoint scanning.
type WPProbeDetector struct{}

func (WPProbeDetector) Key() Key     { return KeyWPProbe }
func (WPProbeDetector) Name() string { return categoryName(KeyWPProbe) }

func (WPProbeDetector) Classify(records []accesslog.Record) []Flagged {
	return filter(records, func(r accesslog.Record) string {
		if wpProbePattern.MatchString(r.Path) {
			return "WordPress probe detected"
		}
		return ""
	})
}
