package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gzhole/accessguard/internal/accesslog"
	"github.com/gzhole/accessguard/internal/analysis"
	"github.com/gzhole/accessguard/internal/detector"
)

func newCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestCollector_CorpusLoaded(t *testing.T) {
	c := newCollector(t)
	c.CorpusLoaded(accesslog.Stats{Lines: 10, Parsed: 8, Skipped: 2})
	c.CorpusLoaded(accesslog.Stats{Lines: 3, Parsed: 3})

	if got := testutil.ToFloat64(c.linesTotal); got != 13 {
		t.Errorf("lines = %v, want 13", got)
	}
	if got := testutil.ToFloat64(c.skippedTotal); got != 2 {
		t.Errorf("skipped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.corpusRecords); got != 3 {
		t.Errorf("corpus gauge = %v, want 3", got)
	}
}

func TestCollector_CategoryRun(t *testing.T) {
	c := newCollector(t)
	c.CategoryRun(detector.KeySQLInjection, 4, 2*time.Millisecond, nil)
	c.CategoryRun(detector.KeySQLInjection, 1, time.Millisecond, nil)
	c.CategoryRun("dynamic-x", 0, time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(c.flaggedTotal.WithLabelValues("sql-injection")); got != 5 {
		t.Errorf("flagged = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.runsTotal.WithLabelValues("sql-injection", "ok")); got != 2 {
		t.Errorf("ok runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.runsTotal.WithLabelValues("dynamic-x", "error")); got != 1 {
		t.Errorf("error runs = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.runDuration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestCollector_ObservesOrchestrator(t *testing.T) {
	c := newCollector(t)
	o := analysis.New(detector.NewRegistry(), analysis.WithObserver(c))
	o.Load(`10.0.0.1 - - [30/Apr/2024:07:12:09 -0500] "GET /products.php?id=1%27%20UNION%20SELECT%201-- HTTP/1.1" 200 512 "-" "Mozilla/5.0" example.com 192.168.1.10`)

	if _, err := o.RunCategory(context.Background(), detector.KeySQLInjection); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(c.corpusRecords); got != 1 {
		t.Errorf("corpus gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.flaggedTotal.WithLabelValues("sql-injection")); got != 1 {
		t.Errorf("flagged = %v, want 1", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := newCollector(t)
	c.CorpusLoaded(accesslog.Stats{Lines: 1, Parsed: 1})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "accessguard_corpus_records 1") {
		t.Errorf("expected corpus gauge in exposition, got:\n%s", body)
	}
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := newCollector(t)
	c.CategoryRun(detector.KeyBots, 2, time.Millisecond, nil)

	path := filepath.Join(t.TempDir(), "accessguard.prom")
	if err := c.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `accessguard_flagged_records_total{category="bots"} 2`) {
		t.Errorf("unexpected textfile contents:\n%s", data)
	}
}
