// Package summary aggregates flagged records for dashboards and reports.
package summary

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gzhole/accessguard/internal/accesslog"
	"github.com/gzhole/accessguard/internal/analysis"
	"github.com/gzhole/accessguard/internal/detector"
)

const (
	topAttackerLimit = 20
	topPathLimit     = 10

	// DayLayout is the timeline bucket label, e.g. "Tue Oct 10 2023".
	DayLayout = "Mon Jan 02 2006"

	// UnknownDay buckets records whose timestamp could not be parsed.
	UnknownDay = "unknown"

	recentWindow = 24 * time.Hour
)

// Count is a labelled tally.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Attacker is a client IP and the number of flagged requests it made.
type Attacker struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// Day is one timeline bucket.
type Day struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Summary is the aggregate view of a result set.
type Summary struct {
	TotalThreats           int            `json:"total_threats"`
	UniqueAttackers        int            `json:"unique_attackers"`
	RecentThreats          int            `json:"recent_threats"`
	AttackTypeCounts       map[string]int `json:"attack_type_counts"`
	TopAttackers           []Attacker     `json:"top_attackers"`
	StatusCodeDistribution map[string]int `json:"status_code_distribution"`
	Timeline               []Day          `json:"timeline"`
	TopPaths               []Count        `json:"top_paths"`
	MethodCounts           []Count        `json:"method_counts"`
}

// Build aggregates results as of now.
func Build(results []analysis.OutputRecord) Summary {
	return BuildAt(results, time.Now())
}

// BuildAt aggregates results; RecentThreats counts records in the 24 hours
// before now.
func BuildAt(results []analysis.OutputRecord, now time.Time) Summary {
	s := Summary{
		TotalThreats:           len(results),
		AttackTypeCounts:       make(map[string]int),
		StatusCodeDistribution: make(map[string]int),
	}

	ips := make(map[string]int)
	paths := make(map[string]int)
	methods := make(map[string]int)
	days := make(map[string]int)
	dayStart := make(map[string]time.Time)

	for _, r := range results {
		s.AttackTypeCounts[r.Category]++
		s.StatusCodeDistribution[strconv.Itoa(r.Status)]++
		ips[r.IP]++
		paths[r.Path]++
		methods[r.Method]++

		t, ok := accesslog.ParseTime(r.Timestamp)
		if !ok {
			days[UnknownDay]++
			continue
		}
		label := t.Format(DayLayout)
		days[label]++
		if _, seen := dayStart[label]; !seen {
			y, m, d := t.Date()
			dayStart[label] = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		}
		if !t.After(now) && now.Sub(t) <= recentWindow {
			s.RecentThreats++
		}
	}

	s.UniqueAttackers = len(ips)

	for _, c := range ranked(ips, topAttackerLimit) {
		s.TopAttackers = append(s.TopAttackers, Attacker{IP: c.Key, Count: c.Count})
	}
	s.TopPaths = ranked(paths, topPathLimit)
	s.MethodCounts = ranked(methods, 0)

	for label, n := range days {
		s.Timeline = append(s.Timeline, Day{Date: label, Count: n})
	}
	sort.Slice(s.Timeline, func(i, j int) bool {
		a, b := s.Timeline[i].Date, s.Timeline[j].Date
		if a == UnknownDay || b == UnknownDay {
			return b == UnknownDay && a != UnknownDay
		}
		return dayStart[a].Before(dayStart[b])
	})

	return s
}

// ranked orders counts descending, ties by key ascending, and keeps at most
// limit entries. A limit of zero keeps all.
func ranked(counts map[string]int, limit int) []Count {
	out := make([]Count, 0, len(counts))
	for k, n := range counts {
		out = append(out, Count{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Finding is a headline observation about a result set.
type Finding struct {
	Severity    string `json:"severity"`
	Type        string `json:"type"`
	Count       int    `json:"count"`
	Description string `json:"description"`
}

const (
	FindingHigh   = "HIGH"
	FindingMedium = "MEDIUM"

	significantActivity = 10
	persistentAttacker  = 50
	errorRateThreshold  = 0.3
)

var findingErrorCodes = []string{"403", "404", "500", "502"}

// CriticalFindings flags high-severity categories with more than 10 hits,
// any of the top three attackers with more than 50 hits, and an error share
// above 30% of results.
func CriticalFindings(results []analysis.OutputRecord, s Summary) []Finding {
	var findings []Finding

	for _, c := range detector.Categories() {
		if c.Severity != detector.SeverityHigh {
			continue
		}
		if n := s.AttackTypeCounts[c.Name]; n > significantActivity {
			findings = append(findings, Finding{
				Severity:    FindingHigh,
				Type:        c.Name,
				Count:       n,
				Description: fmt.Sprintf("Significant %s activity detected", strings.ToLower(c.Name)),
			})
		}
	}

	top := s.TopAttackers
	if len(top) > 3 {
		top = top[:3]
	}
	for _, a := range top {
		if a.Count > persistentAttacker {
			findings = append(findings, Finding{
				Severity:    FindingHigh,
				Type:        "Persistent Attacker",
				Count:       a.Count,
				Description: fmt.Sprintf("IP %s shows persistent attack behavior", a.IP),
			})
		}
	}

	errorsTotal := 0
	for _, code := range findingErrorCodes {
		errorsTotal += s.StatusCodeDistribution[code]
	}
	if float64(errorsTotal) > float64(len(results))*errorRateThreshold {
		findings = append(findings, Finding{
			Severity:    FindingMedium,
			Type:        "High Error Rate",
			Count:       errorsTotal,
			Description: "Unusually high number of HTTP errors detected",
		})
	}

	return findings
}
