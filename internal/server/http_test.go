package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/pipeline"
	"github.com/alfredjeanlab/listings/internal/store/memory"
)

// fakeRunner records runs and reports a fixed summary.
type fakeRunner struct {
	mu      sync.Mutex
	state   pipeline.RunState
	runs    int
	summary *model.Summary
	err     error
	ran     chan struct{}
}

func (f *fakeRunner) Run(context.Context) (*model.Summary, error) {
	f.mu.Lock()
	f.runs++
	summary, err, ran := f.summary, f.err, f.ran
	f.mu.Unlock()
	if ran != nil {
		ran <- struct{}{}
	}
	return summary, err
}

func (f *fakeRunner) Reserve() (func(context.Context) (*model.Summary, error), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != "" && f.state != pipeline.StateIdle {
		return nil, pipeline.ErrRunInProgress
	}
	f.state = pipeline.StateRunning
	return func(ctx context.Context) (*model.Summary, error) {
		defer func() {
			f.mu.Lock()
			f.state = pipeline.StateIdle
			f.mu.Unlock()
		}()
		return f.Run(ctx)
	}, nil
}

func (f *fakeRunner) Snapshot() pipeline.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.state
	if st == "" {
		st = pipeline.StateIdle
	}
	return pipeline.Status{State: st, Run: f.summary}
}

func okSummary() *model.Summary {
	return &model.Summary{
		RunID:     "run-1",
		StartedAt: time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC),
		Reports: []*model.RunReport{
			{SourceName: "insider", State: model.StateDone, FetchedCount: 3, InsertedCount: 2},
			{SourceName: "paytm", State: model.StateFailed, Failed: true, Error: "503"},
		},
	}
}

func newTestServer(t *testing.T, token string) (*Server, *memory.Store, *fakeRunner) {
	t.Helper()
	st := memory.New(nil)
	runner := &fakeRunner{summary: okSummary()}
	srv := New(Options{
		Store:     st,
		Runner:    runner,
		AuthToken: token,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ingest_runs_total 1\n"))
		}),
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, st, runner
}

func do(t *testing.T, h http.Handler, method, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	rec := do(t, srv.Handler(), "GET", "/v1/health")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandleLatestRun(t *testing.T) {
	srv, st, _ := newTestServer(t, "")
	h := srv.Handler()

	if rec := do(t, h, "GET", "/v1/runs/latest"); rec.Code != http.StatusNotFound {
		t.Fatalf("empty store: status %d", rec.Code)
	}

	if err := st.RecordRun(context.Background(), okSummary()); err != nil {
		t.Fatal(err)
	}
	rec := do(t, h, "GET", "/v1/runs/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body struct {
		RunID    string             `json:"run_id"`
		Status   string             `json:"status"`
		ExitCode int                `json:"exit_code"`
		Reports  []*model.RunReport `json:"reports"`
	}
	decode(t, rec, &body)
	if body.RunID != "run-1" || body.Status != "degraded" || body.ExitCode != 0 || len(body.Reports) != 2 {
		t.Fatalf("body = %+v", body)
	}
}

func TestHandleCurrentRun(t *testing.T) {
	srv, _, runner := newTestServer(t, "")
	runner.state = pipeline.StateRunning

	rec := do(t, srv.Handler(), "GET", "/v1/runs/current")
	var st pipeline.Status
	decode(t, rec, &st)
	if st.State != pipeline.StateRunning || st.Run == nil || st.Run.RunID != "run-1" {
		t.Fatalf("status = %+v", st)
	}
}

func TestHandleTriggerRun_Background(t *testing.T) {
	srv, _, runner := newTestServer(t, "")
	runner.ran = make(chan struct{}, 1)

	rec := do(t, srv.Handler(), "POST", "/v1/runs")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case <-runner.ran:
	case <-time.After(time.Second):
		t.Fatal("run was not started")
	}
}

func TestHandleTriggerRun_Busy(t *testing.T) {
	srv, _, runner := newTestServer(t, "")
	runner.state = pipeline.StateRunning

	rec := do(t, srv.Handler(), "POST", "/v1/runs")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d", rec.Code)
	}
	if runner.runs != 0 {
		t.Fatal("busy orchestrator was asked to run")
	}
}

func TestHandleTriggerRun_ConcurrentTriggers(t *testing.T) {
	srv, _, runner := newTestServer(t, "")
	runner.ran = make(chan struct{})
	h := srv.Handler()

	const n = 8
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- do(t, h, "POST", "/v1/runs").Code
		}()
	}
	wg.Wait()
	close(codes)

	accepted, conflicts := 0, 0
	for c := range codes {
		switch c {
		case http.StatusAccepted:
			accepted++
		case http.StatusConflict:
			conflicts++
		default:
			t.Errorf("unexpected status %d", c)
		}
	}
	if accepted != 1 || conflicts != n-1 {
		t.Errorf("accepted %d, conflicts %d; want 1 and %d", accepted, conflicts, n-1)
	}

	select {
	case <-runner.ran:
	case <-time.After(time.Second):
		t.Fatal("run was not started")
	}
}

func TestHandleTriggerRun_Wait(t *testing.T) {
	srv, _, runner := newTestServer(t, "")
	h := srv.Handler()

	rec := do(t, h, "POST", "/v1/runs?wait=true")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"run_id":"run-1"`) {
		t.Fatalf("wait = %d %s", rec.Code, rec.Body.String())
	}

	runner.summary, runner.err = nil, pipeline.ErrRunInProgress
	if rec := do(t, h, "POST", "/v1/runs?wait=true"); rec.Code != http.StatusConflict {
		t.Fatalf("in progress: status %d", rec.Code)
	}
}

func seedListings(st *memory.Store) {
	mk := func(key, source string, kind model.Kind, active bool) *model.CanonicalRecord {
		return &model.CanonicalRecord{
			ID: "lst-" + key, NaturalKey: key, Kind: kind, Title: key, Category: model.CategoryOther,
			SourceName: source, SourceURL: "https://" + source + ".example/" + key, IsActive: active,
		}
	}
	st.Seed(
		mk("insider:1", "insider", model.KindEvent, true),
		mk("insider:2", "insider", model.KindEvent, false),
		mk("tmdb:550", "tmdb", model.KindMovie, true),
	)
}

func TestHandleListListings(t *testing.T) {
	srv, st, _ := newTestServer(t, "")
	seedListings(st)
	h := srv.Handler()

	for _, tc := range []struct {
		url  string
		want int
	}{
		{"/v1/listings", 2},
		{"/v1/listings?source=insider", 1},
		{"/v1/listings?source=insider&active=false", 2},
		{"/v1/listings?kind=movie", 1},
		{"/v1/listings?limit=1", 1},
	} {
		t.Run(tc.url, func(t *testing.T) {
			rec := do(t, h, "GET", tc.url)
			if rec.Code != http.StatusOK {
				t.Fatalf("status %d", rec.Code)
			}
			var body struct {
				Count    int                      `json:"count"`
				Listings []*model.CanonicalRecord `json:"listings"`
			}
			decode(t, rec, &body)
			if body.Count != tc.want || len(body.Listings) != tc.want {
				t.Fatalf("count = %d, want %d", body.Count, tc.want)
			}
		})
	}
}

func TestHandleListListings_BadParams(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	h := srv.Handler()
	for _, url := range []string{"/v1/listings?kind=concert", "/v1/listings?limit=0", "/v1/listings?limit=x", "/v1/listings?active=maybe"} {
		if rec := do(t, h, "GET", url); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", url, rec.Code)
		}
	}
}

func TestHandleGetListing(t *testing.T) {
	srv, st, _ := newTestServer(t, "")
	seedListings(st)
	h := srv.Handler()

	rec := do(t, h, "GET", "/v1/listings/insider:1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got model.CanonicalRecord
	decode(t, rec, &got)
	if got.NaturalKey != "insider:1" {
		t.Fatalf("got %+v", got)
	}
	if rec := do(t, h, "GET", "/v1/listings/insider:404"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: status %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")
	rec := do(t, srv.Handler(), "GET", "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ingest_runs_total") {
		t.Fatalf("metrics = %d %s", rec.Code, rec.Body.String())
	}
}
