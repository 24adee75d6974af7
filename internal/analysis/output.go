package analysis

import (
	"strconv"
	"strings"

	"github.com/gzhole/accessguard/internal/detector"
)

// DefaultLimit is the page size used when a caller does not ask for one.
const DefaultLimit = 500

// OutputRecord is a flagged record in the shape handed to presentation
// layers: status and bytes coerced to integers, plus the category label.
type OutputRecord struct {
	IP              string `json:"ip"`
	Timestamp       string `json:"timestamp"`
	Method          string `json:"method"`
	Path            string `json:"path"`
	Protocol        string `json:"protocol"`
	Status          int    `json:"status"`
	Bytes           int    `json:"bytes"`
	Referrer        string `json:"referrer"`
	UserAgent       string `json:"user_agent"`
	Host            string `json:"host"`
	ServerIP        string `json:"server_ip"`
	SuspicionReason string `json:"suspicion_reason"`
	Category        string `json:"category"`
}

// Result is the outcome of one category run.
type Result struct {
	Count   int            `json:"count"`
	IsMore  bool           `json:"is_more"`
	Results []OutputRecord `json:"results"`
}

func newResult(flagged []detector.Flagged, category string) Result {
	out := make([]OutputRecord, len(flagged))
	for i, f := range flagged {
		out[i] = toOutput(f, category)
	}
	return Result{Count: len(out), Results: out}
}

func toOutput(f detector.Flagged, category string) OutputRecord {
	bytes := f.Bytes
	if bytes == "-" {
		bytes = "0"
	}
	return OutputRecord{
		IP:              f.IP,
		Timestamp:       f.Timestamp,
		Method:          f.Method,
		Path:            f.Path,
		Protocol:        f.Protocol,
		Status:          CoerceInt(f.Status),
		Bytes:           CoerceInt(bytes),
		Referrer:        f.Referrer,
		UserAgent:       f.UserAgent,
		Host:            f.Host,
		ServerIP:        f.ServerIP,
		SuspicionReason: f.Reason,
		Category:        category,
	}
}

// CoerceInt reads the integer prefix of s: leading whitespace and an
// optional sign are accepted, parsing stops at the first non-digit, and a
// string with no leading digits yields 0.
func CoerceInt(s string) int {
	s = strings.TrimLeft(s, " \t\r\n")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// Page returns the window [offset, offset+limit) of r. Count keeps the
// total; IsMore reports whether records remain past the window. A
// non-positive limit means DefaultLimit.
func Page(r Result, limit, offset int) Result {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	total := len(r.Results)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return Result{
		Count:   r.Count,
		IsMore:  end < total,
		Results: r.Results[offset:end],
	}
}
