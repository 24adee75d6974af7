// Package analysis owns the loaded log corpus and runs detectors over it.
//
// The Orchestrator is the single entry point presentation layers use: load a
// log, run one category or all of them, clear. Runs read an immutable
// snapshot of the corpus, so a concurrent Load never changes the records a
// running pass sees.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gzhole/accessguard/internal/accesslog"
	"github.com/gzhole/accessguard/internal/detector"
)

var (
	// ErrUnknownCategory is returned for a key with no registered detector.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrKeyConflict is returned when an extension reuses a taken key.
	ErrKeyConflict = errors.New("detector key already registered")

	// ErrDetectorFailed wraps a failure reported by an extension.
	ErrDetectorFailed = errors.New("detector failed")
)

// ProgressFunc is called after each category completes in RunAll.
type ProgressFunc func(key detector.Key, result Result)

// Observer receives timing and volume events. Implementations must be safe
// for concurrent use.
type Observer interface {
	CorpusLoaded(stats accesslog.Stats)
	CategoryRun(key detector.Key, flagged int, elapsed time.Duration, err error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver attaches an observer to every load and category run.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

// Orchestrator holds one corpus and the detectors that can run over it.
type Orchestrator struct {
	registry *detector.Registry
	observer Observer

	mu         sync.RWMutex
	corpus     []accesslog.Record
	extensions map[detector.Key]Extension
	order      []detector.Key
}

// New creates an orchestrator with an empty corpus.
func New(reg *detector.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:   reg,
		extensions: make(map[detector.Key]Extension),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Load parses raw and replaces the corpus with the result. A log with no
// matching lines yields an empty corpus, not an error.
func (o *Orchestrator) Load(raw string) accesslog.Stats {
	records, stats := accesslog.ParseWithStats(raw)
	o.LoadRecords(records)
	if o.observer != nil {
		o.observer.CorpusLoaded(stats)
	}
	return stats
}

// LoadReader parses r as a stream and replaces the corpus with the result.
// On a read error the corpus is left unchanged.
func (o *Orchestrator) LoadReader(r io.Reader) (accesslog.Stats, error) {
	records, stats, err := accesslog.ParseReader(r)
	if err != nil {
		return stats, err
	}
	o.LoadRecords(records)
	if o.observer != nil {
		o.observer.CorpusLoaded(stats)
	}
	return stats, nil
}

// LoadRecords replaces the corpus with records. The slice is retained and
// must not be modified by the caller afterwards.
func (o *Orchestrator) LoadRecords(records []accesslog.Record) {
	if records == nil {
		records = []accesslog.Record{}
	}
	o.mu.Lock()
	o.corpus = records
	o.mu.Unlock()
}

// Clear discards the corpus.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	o.corpus = nil
	o.mu.Unlock()
}

// Len returns the number of records in the corpus.
func (o *Orchestrator) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.corpus)
}

func (o *Orchestrator) snapshot() []accesslog.Record {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.corpus
}

// Register adds a runtime detector. Built-in keys and keys already taken by
// another extension are refused with ErrKeyConflict.
func (o *Orchestrator) Register(ext Extension) error {
	key := ext.Key()
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrKeyConflict)
	}
	if _, ok := o.registry.Get(key); ok || detector.IsBuiltin(key) {
		return fmt.Errorf("%w: %s is a built-in category", ErrKeyConflict, key)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.extensions[key]; ok {
		return fmt.Errorf("%w: %s", ErrKeyConflict, key)
	}
	o.extensions[key] = ext
	o.order = append(o.order, key)
	return nil
}

// Unregister removes a runtime detector and reports whether it existed.
func (o *Orchestrator) Unregister(key detector.Key) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.extensions[key]; !ok {
		return false
	}
	delete(o.extensions, key)
	for i, k := range o.order {
		if k == key {
			o.order = append(o.order[:i:i], o.order[i+1:]...)
			break
		}
	}
	return true
}

// Extensions returns the runtime detectors in registration order.
func (o *Orchestrator) Extensions() []Extension {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Extension, 0, len(o.order))
	for _, k := range o.order {
		out = append(out, o.extensions[k])
	}
	return out
}

// RunCategory runs the detector registered under key against the current
// corpus. Built-in keys are looked up first, then extensions.
func (o *Orchestrator) RunCategory(ctx context.Context, key detector.Key) (Result, error) {
	if d, ok := o.registry.Get(key); ok {
		return o.runBuiltin(d, o.snapshot()), nil
	}

	o.mu.RLock()
	ext, ok := o.extensions[key]
	records := o.corpus
	o.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownCategory, key)
	}
	return o.runExtension(ctx, ext, records)
}

// RunAll runs every built-in category, in canonical order, over one
// snapshot of the corpus. progress, if non-nil, is called after each
// category. Cancellation is honoured between categories; on cancellation the
// categories completed so far are returned with the context error.
func (o *Orchestrator) RunAll(ctx context.Context, progress ProgressFunc) (map[detector.Key]Result, error) {
	records := o.snapshot()
	keys := o.registry.Keys()
	out := make(map[detector.Key]Result, len(keys))

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		d, _ := o.registry.Get(key)
		res := o.runBuiltin(d, records)
		out[key] = res
		if progress != nil {
			progress(key, res)
		}
	}
	return out, nil
}

// RunEverything runs the built-in categories followed by every extension and
// returns all flagged records in one list, grouped by category. It stops at
// the first extension failure.
func (o *Orchestrator) RunEverything(ctx context.Context, progress ProgressFunc) ([]OutputRecord, error) {
	records := o.snapshot()
	var all []OutputRecord

	for _, key := range o.registry.Keys() {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		d, _ := o.registry.Get(key)
		res := o.runBuiltin(d, records)
		all = append(all, res.Results...)
		if progress != nil {
			progress(key, res)
		}
	}

	for _, ext := range o.Extensions() {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		res, err := o.runExtension(ctx, ext, records)
		if err != nil {
			return all, err
		}
		all = append(all, res.Results...)
		if progress != nil {
			progress(ext.Key(), res)
		}
	}
	return all, nil
}

func (o *Orchestrator) runBuiltin(d detector.Detector, records []accesslog.Record) Result {
	start := time.Now()
	res := newResult(d.Classify(records), d.Name())
	o.observe(d.Key(), res.Count, time.Since(start), nil)
	return res
}

func (o *Orchestrator) runExtension(ctx context.Context, ext Extension, records []accesslog.Record) (Result, error) {
	start := time.Now()
	flagged, err := ext.Run(ctx, records)
	if err != nil {
		o.observe(ext.Key(), 0, time.Since(start), err)
		return Result{}, fmt.Errorf("%w: %s: %w", ErrDetectorFailed, ext.Key(), err)
	}
	res := newResult(flagged, ext.Name())
	o.observe(ext.Key(), res.Count, time.Since(start), nil)
	return res, nil
}

func (o *Orchestrator) observe(key detector.Key, flagged int, elapsed time.Duration, err error) {
	if o.observer != nil {
		o.observer.CategoryRun(key, flagged, elapsed, err)
	}
}
