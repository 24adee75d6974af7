package detector

import (
	"regexp"
	"slices"
	"strings"

	"github.com/gzhole/accessguard/internal/accesslog"
)

var (
	loginPathPattern   = regexp.MustCompile(`(?i)(login|admin|signin|wp-login\.php)`)
	bruteForceStatuses = []string{"401", "403", "429"}
	errorStatuses      = []string{"403", "404", "406", "500", "502"}
	internalIPPrefixes = []string{"192.168.", "10.", "127.", "172."}
)

// BruteForceDetector flags rejected requests to login-like paths. Both the
// path and the status must match.
type BruteForceDetector struct{}

func (BruteForceDetector) Key() Key     { return KeyBruteForce }
func (BruteForceDetector) Name() string { return categoryName(KeyBruteForce) }

func (BruteForceDetector) Classify(records []accesslog.Record) []Flagged {
	return filter(records, func(r accesslog.Record) string {
		if loginPathPattern.MatchString(r.Path) && slices.Contains(bruteForceStatuses, r.Status) {
			return "Brute force attempt detected"
		}
		return ""
	})
}

// ErrorsDetector flags client and server error statuses of interest.
type ErrorsDetector struct{}

func (ErrorsDetector) Key() Key     { return KeyErrors }
func (ErrorsDetector) Name() string { return categoryName(KeyErrors) }

func (ErrorsDetector) Classify(records []accesslog.Record) []Flagged {
	return filter(records, func(r accesslog.Record) string {
		if slices.Contains(errorStatuses, r.Status) {
			return "HTTP error status: " + r.Status
		}
		return ""
	})
}

// InternalIPDetector flags client addresses that look internal. Any 172.*
// address matches, not only 172.16.0.0/12.
type InternalIPDetector struct{}

func (InternalIPDetector) Key() Key     { return KeyInternalIP }
func (InternalIPDetector) Name() string { return categoryName(KeyInternalIP) }

func (InternalIPDetector) Classify(records []accesslog.Record) []Flagged {
	return filter(records, func(r accesslog.Record) string {
		for _, p := range internalIPPrefixes {
			if strings.HasPrefix(r.IP, p) {
				return "Internal IP address detected"
			}
		}
		return ""
	})
}
