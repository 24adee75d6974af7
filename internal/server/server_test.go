package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/gzhole/accessguard/internal/accesslog"
	"github.com/gzhole/accessguard/internal/analysis"
	"github.com/gzhole/accessguard/internal/custom"
	"github.com/gzhole/accessguard/internal/detector"
	"github.com/gzhole/accessguard/internal/metrics"
)

const testLog = `10.0.0.1 - - [30/Apr/2024:07:12:09 -0500] "GET /products.php?id=1%27%20UNION%20SELECT%201-- HTTP/1.1" 200 512 "-" "Mozilla/5.0" example.com 192.168.1.10
10.0.0.2 - - [30/Apr/2024:07:13:00 -0500] "GET /admin/panel HTTP/1.1" 200 128 "-" "Mozilla/5.0" example.com 192.168.1.10
not a log line
10.0.0.3 - - [30/Apr/2024:07:14:00 -0500] "GET /index.html HTTP/1.1" 200 2048 "-" "Mozilla/5.0" example.com 192.168.1.10
`

const adminScript = `text := import("text")

detect_threats := func(entries) {
	result := []
	for _, entry in entries {
		if text.contains(entry.path, "admin") {
			entry.suspicion_reason = "Admin path requested"
			result = append(result, entry)
		}
	}
	return result
}`

type fakeGenerator struct {
	response string
	err      error
}

func (f *fakeGenerator) Generate(context.Context, string) (string, error) {
	return f.response, f.err
}

type failingExtension struct{}

func (failingExtension) Key() detector.Key { return "dynamic-broken" }
func (failingExtension) Name() string      { return "Broken" }

func (failingExtension) Run(context.Context, []accesslog.Record) ([]detector.Flagged, error) {
	return nil, errors.New("script exploded")
}

func newTestServer(t *testing.T, opts Options) (*Server, *analysis.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	orch := analysis.New(detector.NewRegistry())
	return New(orch, custom.NewStore(), opts), orch
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" && strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	}
	rsp := httptest.NewRecorder()
	s.Handler().ServeHTTP(rsp, req)
	return rsp
}

func decode(t *testing.T, rsp *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rsp.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON %q: %v", rsp.Body.String(), err)
	}
}

func TestHealthAndCorpus(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rsp := do(t, s, http.MethodPut, "/api/corpus", testLog)
	if rsp.Code != http.StatusOK {
		t.Fatalf("load: status %d body %s", rsp.Code, rsp.Body)
	}
	var loaded loadResponse
	decode(t, rsp, &loaded)
	if loaded.Records != 3 || loaded.Skipped != 1 || loaded.Lines != 4 {
		t.Errorf("unexpected load stats %+v", loaded)
	}

	var health healthResponse
	decode(t, do(t, s, http.MethodGet, "/healthz", ""), &health)
	if health.Status != "ok" || health.Records != 3 {
		t.Errorf("unexpected health %+v", health)
	}

	if rsp := do(t, s, http.MethodDelete, "/api/corpus", ""); rsp.Code != http.StatusNoContent {
		t.Errorf("clear: status %d", rsp.Code)
	}
	decode(t, do(t, s, http.MethodGet, "/healthz", ""), &health)
	if health.Records != 0 {
		t.Errorf("expected empty corpus after clear, got %d", health.Records)
	}
}

func TestLoadCorpus_TooLarge(t *testing.T) {
	s, _ := newTestServer(t, Options{MaxBodyBytes: 16})
	if rsp := do(t, s, http.MethodPut, "/api/corpus", testLog); rsp.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rsp.Code)
	}
}

func TestScanCategory(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	do(t, s, http.MethodPut, "/api/corpus", testLog)

	rsp := do(t, s, http.MethodGet, "/api/scan/sql-injection", "")
	if rsp.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rsp.Code, rsp.Body)
	}
	var res analysis.Result
	decode(t, rsp, &res)
	if res.Count != 1 || len(res.Results) != 1 || res.Results[0].IP != "10.0.0.1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Results[0].Category != "SQL Injection" || res.Results[0].Status != 200 {
		t.Errorf("unexpected record %+v", res.Results[0])
	}

	decode(t, do(t, s, http.MethodGet, "/api/scan/sql-injection?offset=5", ""), &res)
	if res.Count != 1 || len(res.Results) != 0 || res.IsMore {
		t.Errorf("unexpected page past the end %+v", res)
	}
}

func TestScanCategory_Errors(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	tests := []struct {
		path   string
		status int
	}{
		{"/api/scan/nope", http.StatusNotFound},
		{"/api/scan/bots?limit=abc", http.StatusBadRequest},
		{"/api/scan/bots?offset=-1", http.StatusBadRequest},
		{"/api/scan/bots?format=xml", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rsp := do(t, s, http.MethodGet, tt.path, "")
		if rsp.Code != tt.status {
			t.Errorf("%s: status %d, want %d", tt.path, rsp.Code, tt.status)
		}
		var body map[string]string
		decode(t, rsp, &body)
		if body["error"] == "" {
			t.Errorf("%s: expected error body, got %s", tt.path, rsp.Body)
		}
	}
}

func TestScanCategory_CSV(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	do(t, s, http.MethodPut, "/api/corpus", testLog)

	rsp := do(t, s, http.MethodGet, "/api/scan/sql-injection?format=csv", "")
	if rsp.Code != http.StatusOK {
		t.Fatalf("status %d", rsp.Code)
	}
	if ct := rsp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("unexpected content type %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rsp.Body.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "IP,Timestamp,") || !strings.HasPrefix(lines[1], "10.0.0.1,") {
		t.Errorf("unexpected CSV:\n%s", rsp.Body)
	}
}

func TestScanAll(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	do(t, s, http.MethodPut, "/api/corpus", testLog)

	var all map[string]analysis.Result
	decode(t, do(t, s, http.MethodGet, "/api/scan", ""), &all)
	if len(all) != len(detector.Categories()) {
		t.Errorf("expected every built-in category, got %d", len(all))
	}
	if all["sql-injection"].Count != 1 {
		t.Errorf("unexpected sql-injection result %+v", all["sql-injection"])
	}
}

func TestSummary(t *testing.T) {
	s, orch := newTestServer(t, Options{})
	do(t, s, http.MethodPut, "/api/corpus", testLog)

	var sum summaryResponse
	rsp := do(t, s, http.MethodGet, "/api/summary", "")
	decode(t, rsp, &sum)
	if sum.Summary.AttackTypeCounts["SQL Injection"] != 1 || sum.Findings == nil {
		t.Errorf("unexpected summary %s", rsp.Body)
	}

	if err := orch.Register(failingExtension{}); err != nil {
		t.Fatal(err)
	}
	if rsp := do(t, s, http.MethodGet, "/api/summary", ""); rsp.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 on extension failure, got %d", rsp.Code)
	}
	if rsp := do(t, s, http.MethodGet, "/api/scan/dynamic-broken", ""); rsp.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 on extension failure, got %d", rsp.Code)
	}
}

func TestCustom_Lifecycle(t *testing.T) {
	builder := custom.NewBuilder(&fakeGenerator{response: adminScript})
	s, _ := newTestServer(t, Options{Builder: builder})
	do(t, s, http.MethodPut, "/api/corpus", testLog)

	rsp := do(t, s, http.MethodPost, "/api/custom", `{"description":"flag admin panel access"}`)
	if rsp.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rsp.Code, rsp.Body)
	}
	var info custom.Info
	decode(t, rsp, &info)
	if !strings.HasPrefix(string(info.Key), custom.KeyPrefix) || info.Name == "" {
		t.Fatalf("unexpected info %+v", info)
	}

	var cats []categoryEntry
	decode(t, do(t, s, http.MethodGet, "/api/categories", ""), &cats)
	last := cats[len(cats)-1]
	if last.Key != info.Key || last.Builtin || last.Description != "flag admin panel access" {
		t.Errorf("expected custom detector in category list, got %+v", last)
	}

	var res analysis.Result
	decode(t, do(t, s, http.MethodGet, "/api/scan/"+string(info.Key), ""), &res)
	if res.Count != 1 || res.Results[0].SuspicionReason != "Admin path requested" {
		t.Errorf("unexpected custom scan %+v", res)
	}

	var list []custom.Info
	decode(t, do(t, s, http.MethodGet, "/api/custom", ""), &list)
	if len(list) != 1 {
		t.Errorf("expected one stored detector, got %d", len(list))
	}

	if rsp := do(t, s, http.MethodDelete, "/api/custom/"+string(info.Key), ""); rsp.Code != http.StatusNoContent {
		t.Errorf("delete: status %d", rsp.Code)
	}
	if rsp := do(t, s, http.MethodDelete, "/api/custom/"+string(info.Key), ""); rsp.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d", rsp.Code)
	}
	if rsp := do(t, s, http.MethodGet, "/api/scan/"+string(info.Key), ""); rsp.Code != http.StatusNotFound {
		t.Errorf("scan after delete: status %d", rsp.Code)
	}
}

func TestCustom_Errors(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	if rsp := do(t, s, http.MethodPost, "/api/custom", `{"description":"x"}`); rsp.Code != http.StatusServiceUnavailable {
		t.Errorf("without builder: status %d", rsp.Code)
	}

	failing := custom.NewBuilder(&fakeGenerator{err: errors.New("upstream down")})
	s, _ = newTestServer(t, Options{Builder: failing})
	if rsp := do(t, s, http.MethodPost, "/api/custom", `{"description":"x"}`); rsp.Code != http.StatusBadGateway {
		t.Errorf("generation failure: status %d", rsp.Code)
	}
	if rsp := do(t, s, http.MethodPost, "/api/custom", `{"description":"  "}`); rsp.Code != http.StatusBadRequest {
		t.Errorf("blank description: status %d", rsp.Code)
	}
	if rsp := do(t, s, http.MethodPost, "/api/custom", `not json`); rsp.Code != http.StatusBadRequest {
		t.Errorf("bad body: status %d", rsp.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	col, err := metrics.New()
	if err != nil {
		t.Fatal(err)
	}
	gin.SetMode(gin.TestMode)
	orch := analysis.New(detector.NewRegistry(), analysis.WithObserver(col))
	s := New(orch, custom.NewStore(), Options{Metrics: col})

	do(t, s, http.MethodPut, "/api/corpus", testLog)
	do(t, s, http.MethodGet, "/api/scan/sql-injection", "")

	rsp := do(t, s, http.MethodGet, "/metrics", "")
	if rsp.Code != http.StatusOK {
		t.Fatalf("status %d", rsp.Code)
	}
	body := rsp.Body.String()
	for _, want := range []string{"accessguard_corpus_records 3", `accessguard_flagged_records_total{category="sql-injection"} 1`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}

	s, _ = newTestServer(t, Options{})
	if rsp := do(t, s, http.MethodGet, "/metrics", ""); rsp.Code != http.StatusNotFound {
		t.Errorf("expected no /metrics without a collector, got %d", rsp.Code)
	}
}
