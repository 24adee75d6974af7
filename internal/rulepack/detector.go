package rulepack

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/gzhole/accessguard/internal/accesslog"
	"github.com/gzhole/accessguard/internal/detector"
)

// ErrInvalidDefinition is returned by Compile for a definition that cannot
// be turned into a detector.
var ErrInvalidDefinition = errors.New("invalid rule definition")

const (
	MatchAll = "all"
	MatchAny = "any"
)

// reservedPrefix is used by generated custom detectors.
const reservedPrefix = "dynamic-"

var fields = map[string]func(accesslog.Record) string{
	"ip":         func(r accesslog.Record) string { return r.IP },
	"timestamp":  func(r accesslog.Record) string { return r.Timestamp },
	"method":     func(r accesslog.Record) string { return r.Method },
	"path":       func(r accesslog.Record) string { return r.Path },
	"protocol":   func(r accesslog.Record) string { return r.Protocol },
	"status":     func(r accesslog.Record) string { return r.Status },
	"bytes":      func(r accesslog.Record) string { return r.Bytes },
	"referrer":   func(r accesslog.Record) string { return r.Referrer },
	"user_agent": func(r accesslog.Record) string { return r.UserAgent },
	"host":       func(r accesslog.Record) string { return r.Host },
	"server_ip":  func(r accesslog.Record) string { return r.ServerIP },
}

// Detector is a compiled rule definition. It implements detector.Detector.
type Detector struct {
	def        Definition
	matchAny   bool
	conditions []compiledCondition
}

type compiledCondition struct {
	value    func(accesslog.Record) string
	exact    string
	in       []string
	prefix   []string
	contains []string
	regex    *regexp.Regexp
	decode   bool
	negate   bool
}

// Compile validates def and builds its detector.
func Compile(def Definition) (*Detector, error) {
	if def.Key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidDefinition)
	}
	if detector.IsBuiltin(detector.Key(def.Key)) || strings.HasPrefix(def.Key, reservedPrefix) {
		return nil, fmt.Errorf("%w: key %q is reserved", ErrInvalidDefinition, def.Key)
	}
	if def.Name == "" {
		def.Name = def.Key
	}
	if def.Reason == "" {
		def.Reason = "Rule pack match: " + def.Name
	}
	switch def.Severity {
	case "":
		def.Severity = detector.SeverityMedium
	case detector.SeverityHigh, detector.SeverityMedium, detector.SeverityLow:
	default:
		return nil, fmt.Errorf("%w: %s: unknown severity %q", ErrInvalidDefinition, def.Key, def.Severity)
	}

	d := &Detector{def: def}
	switch strings.ToLower(def.Match) {
	case "", MatchAll:
	case MatchAny:
		d.matchAny = true
	default:
		return nil, fmt.Errorf("%w: %s: match must be %q or %q", ErrInvalidDefinition, def.Key, MatchAny, MatchAll)
	}

	if len(def.Conditions) == 0 {
		return nil, fmt.Errorf("%w: %s: at least one condition is required", ErrInvalidDefinition, def.Key)
	}
	for i, c := range def.Conditions {
		cc, err := compileCondition(c)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: condition %d: %v", ErrInvalidDefinition, def.Key, i+1, err)
		}
		d.conditions = append(d.conditions, cc)
	}
	return d, nil
}

func compileCondition(c Condition) (compiledCondition, error) {
	value, ok := fields[c.Field]
	if !ok {
		return compiledCondition{}, fmt.Errorf("unknown field %q", c.Field)
	}
	if c.Exact == "" && len(c.In) == 0 && len(c.Prefix) == 0 && len(c.Contains) == 0 && c.Regex == "" {
		return compiledCondition{}, errors.New("no operator set")
	}

	cc := compiledCondition{
		value:  value,
		exact:  c.Exact,
		in:     c.In,
		prefix: c.Prefix,
		decode: c.Decode,
		negate: c.Negate,
	}
	for _, s := range c.Contains {
		cc.contains = append(cc.contains, strings.ToLower(s))
	}
	if c.Regex != "" {
		re, err := regexp.Compile("(?i)" + c.Regex)
		if err != nil {
			return compiledCondition{}, fmt.Errorf("bad regex: %w", err)
		}
		cc.regex = re
	}
	return cc, nil
}

func (d *Detector) Key() detector.Key           { return detector.Key(d.def.Key) }
func (d *Detector) Name() string                { return d.def.Name }
func (d *Detector) Severity() detector.Severity { return d.def.Severity }
func (d *Detector) Definition() Definition      { return d.def }

// Classify returns the records the definition matches, in input order.
func (d *Detector) Classify(records []accesslog.Record) []detector.Flagged {
	var out []detector.Flagged
	for _, r := range records {
		if d.matches(r) {
			out = append(out, detector.Flagged{Record: r, Reason: d.def.Reason})
		}
	}
	return out
}

func (d *Detector) matches(r accesslog.Record) bool {
	for _, c := range d.conditions {
		ok := c.eval(r)
		if d.matchAny && ok {
			return true
		}
		if !d.matchAny && !ok {
			return false
		}
	}
	return !d.matchAny
}

func (c compiledCondition) eval(r accesslog.Record) bool {
	v := c.value(r)
	if c.decode {
		if decoded, err := url.PathUnescape(v); err == nil {
			v = decoded
		}
	}
	return c.test(v) != c.negate
}

func (c compiledCondition) test(v string) bool {
	if c.exact != "" && v != c.exact {
		return false
	}
	if len(c.in) > 0 && !slices.Contains(c.in, v) {
		return false
	}
	if len(c.prefix) > 0 && !slices.ContainsFunc(c.prefix, func(p string) bool { return strings.HasPrefix(v, p) }) {
		return false
	}
	if len(c.contains) > 0 {
		lower := strings.ToLower(v)
		if !slices.ContainsFunc(c.contains, func(s string) bool { return strings.Contains(lower, s) }) {
			return false
		}
	}
	if c.regex != nil && !c.regex.MatchString(v) {
		return false
	}
	return true
}
