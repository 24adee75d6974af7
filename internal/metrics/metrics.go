// Package metrics exposes analysis activity as Prometheus metrics on a
// private registry.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gzhole/accessguard/internal/accesslog"
	"github.com/gzhole/accessguard/internal/analysis"
	"github.com/gzhole/accessguard/internal/detector"
)

const namespace = "accessguard"

// Compile-time interface check.
var _ analysis.Observer = (*Collector)(nil)

// Collector records corpus loads and category runs. It implements
// analysis.Observer.
type Collector struct {
	registry *prometheus.Registry

	linesTotal    prometheus.Counter
	skippedTotal  prometheus.Counter
	corpusRecords prometheus.Gauge

	runsTotal    *prometheus.CounterVec
	flaggedTotal *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
}

// New creates a collector with its own registry.
func New() (*Collector, error) {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.linesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_lines_total",
		Help:      "Non-empty log lines read",
	})
	c.skippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_lines_skipped_total",
		Help:      "Log lines that did not match the access-log grammar",
	})
	c.corpusRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "corpus_records",
		Help:      "Records in the most recently loaded corpus",
	})
	c.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "category_runs_total",
			Help:      "Category runs by outcome",
		},
		[]string{"category", "outcome"},
	)
	c.flaggedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flagged_records_total",
			Help:      "Records flagged per category",
		},
		[]string{"category"},
	)
	c.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "category_run_duration_seconds",
			Help:      "Time spent classifying the corpus for one category",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"category"},
	)

	collectors := []prometheus.Collector{
		c.linesTotal,
		c.skippedTotal,
		c.corpusRecords,
		c.runsTotal,
		c.flaggedTotal,
		c.runDuration,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) CorpusLoaded(stats accesslog.Stats) {
	c.linesTotal.Add(float64(stats.Lines))
	c.skippedTotal.Add(float64(stats.Skipped))
	c.corpusRecords.Set(float64(stats.Parsed))
}

func (c *Collector) CategoryRun(key detector.Key, flagged int, elapsed time.Duration, err error) {
	category := string(key)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.runsTotal.WithLabelValues(category, outcome).Inc()
	c.runDuration.WithLabelValues(category).Observe(elapsed.Seconds())
	if err == nil {
		c.flaggedTotal.WithLabelValues(category).Add(float64(flagged))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current metrics to path for the node_exporter
// textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

// Gatherer exposes the registry for tests and embedding.
func (c *Collector) Gatherer() prometheus.Gatherer { return c.registry }
