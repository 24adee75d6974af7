package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gzhole/accessguard/internal/accesslog"
	"github.com/gzhole/accessguard/internal/detector"
)

const sampleLog = `127.0.0.1 - - [10/Oct/2023:13:55:36 -0700] "GET /login HTTP/1.1" 403 0 "-" "Mozilla/5.0" host1 10.0.0.5
203.0.113.7 - - [10/Oct/2023:13:56:01 -0700] "GET /../../etc/passwd HTTP/1.1" 404 - "-" "curl/8.1.2" host1 10.0.0.5
this line is not a log line
198.51.100.4 - - [11/Oct/2023:08:00:00 +0000] "GET /index.html HTTP/1.1" 200 5120 "https://example.com/" "Mozilla/5.0 (X11; Linux x86_64)" host2 10.0.0.6
`

type fakeExtension struct {
	key    detector.Key
	name   string
	err    error
	called int
}

func (f *fakeExtension) Key() detector.Key { return f.key }
func (f *fakeExtension) Name() string      { return f.name }

func (f *fakeExtension) Run(_ context.Context, records []accesslog.Record) ([]detector.Flagged, error) {
	f.called++
	if f.err != nil {
		return nil, f.err
	}
	var out []detector.Flagged
	for _, r := range records {
		if strings.HasPrefix(r.IP, "203.") {
			out = append(out, detector.Flagged{Record: r, Reason: "documentation range"})
		}
	}
	return out, nil
}

type recordingObserver struct {
	mu    sync.Mutex
	loads []accesslog.Stats
	runs  []detector.Key
	errs  int
}

func (r *recordingObserver) CorpusLoaded(stats accesslog.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads = append(r.loads, stats)
}

func (r *recordingObserver) CategoryRun(key detector.Key, _ int, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, key)
	if err != nil {
		r.errs++
	}
}

func newLoaded(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	o := New(detector.NewRegistry(), opts...)
	stats := o.Load(sampleLog)
	if stats.Parsed != 3 || stats.Skipped != 1 {
		t.Fatalf("unexpected load stats: %+v", stats)
	}
	return o
}

func TestRunCategory_CoercesOutput(t *testing.T) {
	o := newLoaded(t)

	res, err := o.RunCategory(context.Background(), detector.KeyErrors)
	if err != nil {
		t.Fatalf("RunCategory failed: %v", err)
	}
	if res.Count != 2 || len(res.Results) != 2 || res.IsMore {
		t.Fatalf("unexpected result: %+v", res)
	}

	first := res.Results[0]
	if first.Status != 403 || first.Bytes != 0 || first.Category != "HTTP Errors" {
		t.Errorf("unexpected first record: %+v", first)
	}
	if first.Timestamp != "2023-10-10T13:55:36-07:00" {
		t.Errorf("timestamp not normalized: %q", first.Timestamp)
	}

	second := res.Results[1]
	if second.Bytes != 0 {
		t.Errorf(`expected bytes "-" to become 0, got %d`, second.Bytes)
	}
	if second.SuspicionReason != "HTTP error status: 404" {
		t.Errorf("unexpected reason %q", second.SuspicionReason)
	}
}

func TestRunCategory_UnknownKey(t *testing.T) {
	o := newLoaded(t)

	_, err := o.RunCategory(context.Background(), "dynamic-missing")
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
	if o.Len() != 3 {
		t.Errorf("corpus changed after failed run: %d records", o.Len())
	}
}

func TestRunCategory_EmptyAndCleared(t *testing.T) {
	o := New(detector.NewRegistry())
	o.Load("nothing here\nnor here\n")
	if o.Len() != 0 {
		t.Fatalf("expected empty corpus, got %d", o.Len())
	}
	res, err := o.RunCategory(context.Background(), detector.KeyBots)
	if err != nil || res.Count != 0 || res.Results == nil {
		t.Fatalf("expected empty non-nil result, got %+v, %v", res, err)
	}

	o = newLoaded(t)
	o.Clear()
	res, err = o.RunCategory(context.Background(), detector.KeyInternalIP)
	if err != nil || res.Count != 0 {
		t.Fatalf("expected zero results after clear, got %+v, %v", res, err)
	}
}

func TestRunAll_OrderAndProgress(t *testing.T) {
	o := newLoaded(t)

	var seen []detector.Key
	results, err := o.RunAll(context.Background(), func(key detector.Key, _ Result) {
		seen = append(seen, key)
	})
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if len(results) != 8 || len(seen) != 8 {
		t.Fatalf("expected 8 categories, got %d results and %d progress calls", len(results), len(seen))
	}

	keys := detector.NewRegistry().Keys()
	for i := range keys {
		if seen[i] != keys[i] {
			t.Errorf("progress %d: expected %s, got %s", i, keys[i], seen[i])
		}
	}
	for key, res := range results {
		if res.Count > o.Len() {
			t.Errorf("%s: count %d exceeds corpus size", key, res.Count)
		}
	}

	if results[detector.KeyPathTraversal].Count != 1 || results[detector.KeyLFIRFI].Count != 1 {
		t.Error("expected traversal line in both path-traversal and lfi-rfi")
	}
	if results[detector.KeyBruteForce].Count != 1 || results[detector.KeyInternalIP].Count != 1 {
		t.Error("expected login line in both brute-force and internal-ip")
	}
}

func TestRunAll_CancelBetweenCategories(t *testing.T) {
	o := newLoaded(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results, err := o.RunAll(ctx, func(key detector.Key, _ Result) {
		if key == detector.KeyBots {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 completed categories, got %d", len(results))
	}
	if _, ok := results[detector.KeyLFIRFI]; ok {
		t.Error("category after cancellation should not have run")
	}
}

func TestRunAll_Idempotent(t *testing.T) {
	o := newLoaded(t)
	first, _ := o.RunAll(context.Background(), nil)
	second, _ := o.RunAll(context.Background(), nil)
	for key, res := range first {
		other := second[key]
		if res.Count != other.Count {
			t.Fatalf("%s: count changed between runs", key)
		}
		for i := range res.Results {
			if res.Results[i] != other.Results[i] {
				t.Errorf("%s: record %d differs between runs", key, i)
			}
		}
	}
}

func TestRegister_Conflicts(t *testing.T) {
	o := newLoaded(t)

	if err := o.Register(&fakeExtension{key: detector.KeyBots, name: "Bots"}); !errors.Is(err, ErrKeyConflict) {
		t.Errorf("expected conflict for built-in key, got %v", err)
	}
	if err := o.Register(&fakeExtension{key: "", name: "Nameless"}); !errors.Is(err, ErrKeyConflict) {
		t.Errorf("expected conflict for empty key, got %v", err)
	}

	ext := &fakeExtension{key: "dynamic-1", name: "Doc Range Analysis"}
	if err := o.Register(ext); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := o.Register(&fakeExtension{key: "dynamic-1"}); !errors.Is(err, ErrKeyConflict) {
		t.Errorf("expected conflict for duplicate key, got %v", err)
	}

	res, err := o.RunCategory(context.Background(), "dynamic-1")
	if err != nil {
		t.Fatalf("RunCategory on extension failed: %v", err)
	}
	if res.Count != 1 || res.Results[0].Category != "Doc Range Analysis" {
		t.Errorf("unexpected extension result: %+v", res)
	}

	if !o.Unregister("dynamic-1") {
		t.Fatal("expected Unregister to report removal")
	}
	if o.Unregister("dynamic-1") {
		t.Error("second Unregister should report false")
	}
	if _, err := o.RunCategory(context.Background(), "dynamic-1"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected unknown category after unregister, got %v", err)
	}
}

func TestExtensionFailure_LeavesStateIntact(t *testing.T) {
	obs := &recordingObserver{}
	o := newLoaded(t, WithObserver(obs))

	cause := errors.New("script exploded")
	if err := o.Register(&fakeExtension{key: "dynamic-bad", name: "Bad", err: cause}); err != nil {
		t.Fatal(err)
	}

	_, err := o.RunCategory(context.Background(), "dynamic-bad")
	if !errors.Is(err, ErrDetectorFailed) || !errors.Is(err, cause) {
		t.Fatalf("expected wrapped detector failure, got %v", err)
	}
	if o.Len() != 3 || len(o.Extensions()) != 1 {
		t.Error("failure changed orchestrator state")
	}
	if obs.errs != 1 {
		t.Errorf("expected observer to see 1 error, got %d", obs.errs)
	}

	if _, err := o.RunCategory(context.Background(), detector.KeyBots); err != nil {
		t.Errorf("built-in run after failure: %v", err)
	}
}

func TestRunEverything_IncludesExtensions(t *testing.T) {
	o := newLoaded(t)
	if err := o.Register(Static(countingDetector{})); err != nil {
		t.Fatal(err)
	}

	all, err := o.RunEverything(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunEverything failed: %v", err)
	}

	builtins, _ := o.RunAll(context.Background(), nil)
	want := 3
	for _, res := range builtins {
		want += res.Count
	}
	if len(all) != want {
		t.Errorf("expected %d records, got %d", want, len(all))
	}
	if last := all[len(all)-1]; last.Category != "Everything" {
		t.Errorf("expected extension results last, got %q", last.Category)
	}
}

func TestObserver_SeesLoadsAndRuns(t *testing.T) {
	obs := &recordingObserver{}
	o := newLoaded(t, WithObserver(obs))
	if _, err := o.RunAll(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(obs.loads) != 1 || obs.loads[0].Parsed != 3 {
		t.Errorf("unexpected loads: %+v", obs.loads)
	}
	if len(obs.runs) != 8 {
		t.Errorf("expected 8 run events, got %d", len(obs.runs))
	}
}

func TestSnapshot_LoadDuringRun(t *testing.T) {
	o := newLoaded(t)
	blocker := &blockingExtension{started: make(chan struct{}), release: make(chan struct{})}
	if err := o.Register(blocker); err != nil {
		t.Fatal(err)
	}

	done := make(chan Result)
	go func() {
		res, _ := o.RunCategory(context.Background(), "dynamic-block")
		done <- res
	}()

	<-blocker.started
	o.Load("")
	close(blocker.release)

	res := <-done
	if res.Count != 3 {
		t.Errorf("run should see the corpus it started with, got %d records", res.Count)
	}
	if o.Len() != 0 {
		t.Errorf("expected replaced corpus to be empty, got %d", o.Len())
	}
}

type countingDetector struct{}

func (countingDetector) Key() detector.Key { return "rule-everything" }
func (countingDetector) Name() string      { return "Everything" }

func (countingDetector) Classify(records []accesslog.Record) []detector.Flagged {
	out := make([]detector.Flagged, len(records))
	for i, r := range records {
		out[i] = detector.Flagged{Record: r, Reason: "matched"}
	}
	return out
}

type blockingExtension struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingExtension) Key() detector.Key { return "dynamic-block" }
func (b *blockingExtension) Name() string      { return "Blocking" }

func (b *blockingExtension) Run(_ context.Context, records []accesslog.Record) ([]detector.Flagged, error) {
	close(b.started)
	<-b.release
	return countingDetector{}.Classify(records), nil
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestLoadReader(t *testing.T) {
	obs := &recordingObserver{}
	o := New(detector.NewRegistry(), WithObserver(obs))

	huge := strings.Repeat("A", 3<<20)
	stats, err := o.LoadReader(strings.NewReader(huge + "\n" + sampleLog))
	if err != nil {
		t.Fatalf("LoadReader failed: %v", err)
	}
	if stats.Parsed != 3 || stats.Skipped != 2 || o.Len() != 3 {
		t.Errorf("unexpected stats %+v with %d records", stats, o.Len())
	}
	if len(obs.loads) != 1 || obs.loads[0] != stats {
		t.Errorf("observer saw %+v, want %+v", obs.loads, stats)
	}

	if _, err := o.LoadReader(brokenReader{}); err == nil {
		t.Fatal("expected read error")
	}
	if o.Len() != 3 || len(obs.loads) != 1 {
		t.Errorf("failed read changed state: %d records, %d loads", o.Len(), len(obs.loads))
	}
}
