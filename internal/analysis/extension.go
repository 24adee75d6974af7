package analysis

import (
	"context"

	"github.com/gzhole/accessguard/internal/accesslog"
	"github.com/gzhole/accessguard/internal/detector"
)

// Extension is a detector registered at runtime, outside the eight built-in
// categories. Unlike built-ins it may fail, for example when a generated
// script errors or times out.
type Extension interface {
	Key() detector.Key
	Name() string
	Run(ctx context.Context, records []accesslog.Record) ([]detector.Flagged, error)
}

// Static adapts an infallible detector, such as a rule-pack detector, into
// an Extension.
func Static(d detector.Detector) Extension {
	return staticExtension{d: d}
}

type staticExtension struct {
	d detector.Detector
}

func (s staticExtension) Key() detector.Key { return s.d.Key() }
func (s staticExtension) Name() string      { return s.d.Name() }

func (s staticExtension) Run(ctx context.Context, records []accesslog.Record) ([]detector.Flagged, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.d.Classify(records), nil
}
