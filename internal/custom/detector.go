// Package custom builds detectors from Tengo scripts, usually generated by a
// text-generation service from a plain-language description.
//
// Scripts run in the Tengo VM with only the text, fmt, math and times
// modules importable. They see nothing but the entries they are given, run
// under an allocation cap and a hard timeout, and are compiled once then
// cloned per run.
package custom

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"github.com/google/uuid"

	"github.com/gzhole/accessguard/internal/accesslog"
	"github.com/gzhole/accessguard/internal/detector"
)

var (
	ErrMissingFunction = errors.New("script does not define detect_threats := func(entries)")
	ErrCompile         = errors.New("script compilation failed")
	ErrExecution       = errors.New("script execution failed")
	ErrBadResult       = errors.New("script returned an invalid result")
	ErrGeneration      = errors.New("script generation failed")
)

const (
	// KeyPrefix marks every custom detector key.
	KeyPrefix = "dynamic-"

	// DefaultReason is used when a flagged entry carries no suspicion_reason.
	DefaultReason = "Custom analysis match"

	DefaultRunTimeout = 5 * time.Second
	DefaultMaxAllocs  = int64(10_000_000)

	entriesVar = "__entries__"
	resultVar  = "__result__"
)

// safeModules are the only stdlib modules a script may import. No file,
// network or OS access, and no fmt: its print functions write to the host's
// stdout.
var safeModules = stdlib.GetModuleMap("text", "math", "times")

var signaturePattern = regexp.MustCompile(`detect_threats\s*:=\s*func\s*\(\s*entries\s*\)`)

// recordFields are the entry keys, in Record field order.
var recordFields = []string{
	"ip", "timestamp", "method", "path", "protocol", "status",
	"bytes", "referrer", "user_agent", "host", "server_ip",
}

type settings struct {
	runTimeout      time.Duration
	generateTimeout time.Duration
	maxAllocs       int64
}

func defaultSettings() settings {
	return settings{
		runTimeout:      DefaultRunTimeout,
		generateTimeout: 60 * time.Second,
		maxAllocs:       DefaultMaxAllocs,
	}
}

// Option tunes compilation and generation limits.
type Option func(*settings)

// WithRunTimeout bounds a single script run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithGenerateTimeout bounds a single call to the generator.
func WithGenerateTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.generateTimeout = d
		}
	}
}

// WithMaxAllocs caps the objects a script run may allocate.
func WithMaxAllocs(n int64) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxAllocs = n
		}
	}
}

// Detector is a compiled custom script. It satisfies the orchestrator's
// extension interface and is safe for concurrent use.
type Detector struct {
	key         detector.Key
	name        string
	description string
	source      string
	createdAt   time.Time

	compiled   *tengo.Compiled
	runTimeout time.Duration
}

// Info is the listing view of a Detector.
type Info struct {
	Key         detector.Key `json:"key"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Source      string       `json:"source"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Compile validates and compiles source into a Detector with a fresh key.
func Compile(name, description, source string, opts ...Option) (*Detector, error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return compile(name, description, source, s)
}

func compile(name, description, source string, s settings) (*Detector, error) {
	if !signaturePattern.MatchString(source) {
		return nil, ErrMissingFunction
	}

	wrapper := fmt.Sprintf("%s\n%s := detect_threats(%s)\n", source, resultVar, entriesVar)

	script := tengo.NewScript([]byte(wrapper))
	script.SetImports(safeModules)
	script.SetMaxAllocs(s.maxAllocs)
	if err := script.Add(entriesVar, []interface{}{}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}

	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}

	return &Detector{
		key:         detector.Key(KeyPrefix + uuid.NewString()),
		name:        name,
		description: description,
		source:      source,
		createdAt:   time.Now().UTC(),
		compiled:    compiled,
		runTimeout:  s.runTimeout,
	}, nil
}

func (d *Detector) Key() detector.Key    { return d.key }
func (d *Detector) Name() string         { return d.name }
func (d *Detector) Description() string  { return d.description }
func (d *Detector) Source() string       { return d.source }
func (d *Detector) CreatedAt() time.Time { return d.createdAt }

func (d *Detector) Info() Info {
	return Info{
		Key:         d.key,
		Name:        d.name,
		Description: d.description,
		Source:      d.source,
		CreatedAt:   d.createdAt,
	}
}

// Run executes the script over records. The result must be an array of maps;
// each map becomes a flagged record.
func (d *Detector) Run(ctx context.Context, records []accesslog.Record) (out []detector.Flagged, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: panic: %v", ErrExecution, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.runTimeout)
	defer cancel()

	c := d.compiled.Clone()
	if err := c.Set(entriesVar, toEntries(records)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	if err := c.RunContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	return fromResult(c.Get(resultVar).Value())
}

func toEntries(records []accesslog.Record) []interface{} {
	entries := make([]interface{}, len(records))
	for i, r := range records {
		entries[i] = map[string]interface{}{
			"ip":         r.IP,
			"timestamp":  r.Timestamp,
			"method":     r.Method,
			"path":       r.Path,
			"protocol":   r.Protocol,
			"status":     r.Status,
			"bytes":      r.Bytes,
			"referrer":   r.Referrer,
			"user_agent": r.UserAgent,
			"host":       r.Host,
			"server_ip":  r.ServerIP,
		}
	}
	return entries
}

func fromResult(v interface{}) ([]detector.Flagged, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: detect_threats must return an array, got %s", ErrBadResult, typeName(v))
	}

	out := make([]detector.Flagged, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %s, not a map", ErrBadResult, i, typeName(item))
		}
		out = append(out, toFlagged(m))
	}
	return out, nil
}

func toFlagged(m map[string]interface{}) detector.Flagged {
	get := func(k string) string {
		switch v := m[k].(type) {
		case nil:
			return ""
		case string:
			return v
		default:
			return fmt.Sprint(v)
		}
	}

	reason := get("suspicion_reason")
	if reason == "" {
		reason = DefaultReason
	}

	return detector.Flagged{
		Record: accesslog.Record{
			IP:        get("ip"),
			Timestamp: get("timestamp"),
			Method:    get("method"),
			Path:      get("path"),
			Protocol:  get("protocol"),
			Status:    get("status"),
			Bytes:     get("bytes"),
			Referrer:  get("referrer"),
			UserAgent: get("user_agent"),
			Host:      get("host"),
			ServerIP:  get("server_ip"),
		},
		Reason: reason,
	}
}

func typeName(v interface{}) string {
	if v == nil {
		return "undefined"
	}
	return fmt.Sprintf("%T", v)
}
