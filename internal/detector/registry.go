package detector

import "github.com/gzhole/accessguard/internal/accesslog"

// Registry maps the eight built-in keys to their detectors. It is built once
// and never modified; dynamic detectors are registered with the analysis
// orchestrator instead.
type Registry struct {
	detectors map[Key]Detector
}

// NewRegistry creates a registry holding every built-in detector.
func NewRegistry() *Registry {
	all := []Detector{
		NewSQLInjectionDetector(),
		PathTraversalDetector{},
		BotDetector{},
		LFIRFIDetector{},
		WPProbeDetector{},
		BruteForceDetector{},
		ErrorsDetector{},
		InternalIPDetector{},
	}

	r := &Registry{detectors: make(map[Key]Detector, len(all))}
	for _, d := range all {
		r.detectors[d.Key()] = d
	}
	return r
}

// Get returns the detector for key.
func (r *Registry) Get(key Key) (Detector, bool) {
	d, ok := r.detectors[key]
	return d, ok
}

// Keys returns the built-in keys in canonical order.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(builtinCategories))
	for _, c := range builtinCategories {
		if _, ok := r.detectors[c.Key]; ok {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// RunAll classifies records with every built-in detector, one after the
// other, and returns one result set per key.
func (r *Registry) RunAll(records []accesslog.Record) map[Key][]Flagged {
	out := make(map[Key][]Flagged, len(r.detectors))
	for _, key := range r.Keys() {
		out[key] = r.detectors[key].Classify(records)
	}
	return out
}
