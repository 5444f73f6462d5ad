package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/litdigest/internal/batch"
	"github.com/HerbHall/litdigest/internal/digest"
	"github.com/HerbHall/litdigest/internal/event"
	"github.com/HerbHall/litdigest/internal/ledger"
	"github.com/HerbHall/litdigest/internal/metrics"
	"github.com/HerbHall/litdigest/internal/pipeline"
	"github.com/HerbHall/litdigest/internal/summarize"
	"github.com/HerbHall/litdigest/internal/testutil"
	"go.uber.org/zap"
)

type fakeHistory struct {
	runs    []ledger.Run
	results map[string][]ledger.Result
	limit   int
	err     error
}

func (h *fakeHistory) ListRuns(_ context.Context, limit int) ([]ledger.Run, error) {
	h.limit = limit
	return h.runs, h.err
}

func (h *fakeHistory) GetRun(_ context.Context, id string) (*ledger.Run, []ledger.Result, error) {
	if h.err != nil {
		return nil, nil, h.err
	}
	for i := range h.runs {
		if h.runs[i].ID == id {
			return &h.runs[i], h.results[id], nil
		}
	}
	return nil, nil, ledger.ErrNotFound
}

// succeed summarizes every document.
var succeed = batch.RunnerFunc(func(_ context.Context, path string) summarize.JobResult {
	return testutil.NewResult(path)
})

// gated blocks every job until release is closed or the run is cancelled.
func gated(release <-chan struct{}) batch.Runner {
	return batch.RunnerFunc(func(ctx context.Context, path string) summarize.JobResult {
		select {
		case <-release:
			return testutil.NewResult(path)
		case <-ctx.Done():
			return summarize.Failed(path, digest.API("summarize", ctx.Err()))
		}
	})
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Runner == nil {
		deps.Runner = pipeline.New(succeed, nil, nil, nil, zap.NewNop())
	}
	srv := New("127.0.0.1:0", deps, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func do(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

// finished subscribes to run.finished events on a fresh bus.
func finished(t *testing.T) (*event.Bus, <-chan event.Event) {
	t.Helper()
	bus := event.NewBus(zap.NewNop())
	ch := make(chan event.Event, 4)
	bus.Subscribe(event.KindRunFinished, func(_ context.Context, ev event.Event) {
		ch <- ev
	})
	return bus, ch
}

func waitEvent(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}

func TestHandleHealthz(t *testing.T) {
	srv := newTestServer(t, Deps{})

	w := do(srv, "GET", "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "alive" {
		t.Errorf("status = %q, want %q", body["status"], "alive")
	}
}

func TestHandleReadyz(t *testing.T) {
	tests := []struct {
		name  string
		ready ReadinessChecker
		want  int
	}{
		{"nil checker", nil, http.StatusOK},
		{"healthy", func(context.Context) error { return nil }, http.StatusOK},
		{"unhealthy", func(context.Context) error { return errors.New("ledger closed") }, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, Deps{Ready: tt.ready})
			if w := do(srv, "GET", "/readyz", ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, Deps{})

	w := do(srv, "GET", "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Service != "litdigest" || body.Status != "ok" {
		t.Errorf("body = %+v", body)
	}
	if body.Running {
		t.Error("Running = true with no run started")
	}
	if body.Version["version"] == "" {
		t.Error("expected version in response")
	}
}

func TestHandleMetrics(t *testing.T) {
	srv := newTestServer(t, Deps{Metrics: metrics.New()})

	do(srv, "GET", "/api/v1/health", "")
	w := do(srv, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	if !strings.Contains(body, "go_goroutines") {
		t.Error("expected Go runtime metrics in /metrics output")
	}
	if !strings.Contains(body, `http_requests_total{method="GET",path="/api/v1/health",status="200"} 1`) {
		t.Errorf("expected request counter for /api/v1/health, got:\n%s", body)
	}
}

func TestMiddlewareChain_Integration(t *testing.T) {
	srv := newTestServer(t, Deps{})

	w := do(srv, "GET", "/healthz", "")

	if v := w.Header().Get(VersionHeader); v == "" {
		t.Errorf("expected %s header from middleware", VersionHeader)
	}
	if v := w.Header().Get("X-Request-ID"); v == "" {
		t.Error("expected X-Request-ID header from middleware")
	}
	if v := w.Header().Get("X-Content-Type-Options"); v != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", v, "nosniff")
	}
}

func TestHandleProbe(t *testing.T) {
	srv := newTestServer(t, Deps{})
	if w := do(srv, "GET", "/api/v1/probe", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status without provider = %d, want 503", w.Code)
	}

	srv = newTestServer(t, Deps{Probe: func(context.Context) bool { return true }})
	w := do(srv, "GET", "/api/v1/probe", "")
	var body ProbeResponse
	json.NewDecoder(w.Body).Decode(&body)
	if w.Code != http.StatusOK || !body.Reachable {
		t.Errorf("status = %d, body = %+v", w.Code, body)
	}
}

func TestStartRun_PublishesEvents(t *testing.T) {
	bus, done := finished(t)
	dir := testutil.PDFFolder(t, "a.pdf", "b.pdf")
	srv := newTestServer(t, Deps{
		Bus:      bus,
		Defaults: pipeline.Options{Folder: dir, Concurrency: 2},
	})

	w := do(srv, "POST", "/api/v1/runs", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var status RunStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.RunID == "" {
		t.Fatal("expected a run ID")
	}

	ev := waitEvent(t, done)
	if ev.Source != status.RunID {
		t.Errorf("finished source = %q, want %q", ev.Source, status.RunID)
	}
	if ev.Message != ledger.StateCompleted || ev.Done != 2 {
		t.Errorf("finished event = %+v", ev)
	}
}

func TestStartRun_FolderFromBody(t *testing.T) {
	bus, done := finished(t)
	dir := testutil.PDFFolder(t, "a.pdf")
	srv := newTestServer(t, Deps{Bus: bus, Defaults: pipeline.Options{Folder: "/nonexistent"}})

	body, _ := json.Marshal(StartRunRequest{Folder: dir, Concurrency: 1})
	if w := do(srv, "POST", "/api/v1/runs", string(body)); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ev := waitEvent(t, done); ev.Path != dir {
		t.Errorf("run folder = %q, want %q", ev.Path, dir)
	}
}

func TestStartRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", "{", http.StatusBadRequest},
		{"no folder", `{}`, http.StatusBadRequest},
		{"missing folder", `{"folder":"/does/not/exist"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, Deps{})
			w := do(srv, "POST", "/api/v1/runs", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestRunLifecycle_ConflictAndCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	bus, done := finished(t)
	dir := testutil.PDFFolder(t, "a.pdf", "b.pdf")
	srv := newTestServer(t, Deps{
		Runner:   pipeline.New(gated(release), nil, nil, nil, zap.NewNop()),
		Bus:      bus,
		Defaults: pipeline.Options{Folder: dir, Concurrency: 1},
	})

	w := do(srv, "POST", "/api/v1/runs", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d", w.Code)
	}
	var started RunStatus
	json.NewDecoder(w.Body).Decode(&started)

	if w := do(srv, "POST", "/api/v1/runs", ""); w.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", w.Code)
	}

	// A run.started from another publisher on the shared bus is ignored.
	bus.Publish(context.Background(), event.Event{Kind: event.KindRunStarted, Source: "other"})

	w = do(srv, "GET", "/api/v1/runs/current", "")
	var current RunStatus
	json.NewDecoder(w.Body).Decode(&current)
	if !current.Running || current.RunID != started.RunID {
		t.Errorf("current = %+v, want running %s", current, started.RunID)
	}

	if w := do(srv, "DELETE", "/api/v1/runs/current", ""); w.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d", w.Code)
	}
	if ev := waitEvent(t, done); ev.Message != ledger.StateCancelled {
		t.Errorf("final state = %q, want %q", ev.Message, ledger.StateCancelled)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if cur := srv.currentRun(); cur.id != "" {
		t.Errorf("current run still set after it finished: %q", cur.id)
	}
}

func TestCancelRun_NoneRunning(t *testing.T) {
	srv := newTestServer(t, Deps{})
	if w := do(srv, "DELETE", "/api/v1/runs/current", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListRuns(t *testing.T) {
	srv := newTestServer(t, Deps{})
	if w := do(srv, "GET", "/api/v1/runs", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status without history = %d, want 503", w.Code)
	}

	history := &fakeHistory{runs: []ledger.Run{{ID: "01B", State: ledger.StateCompleted}, {ID: "01A", State: ledger.StateCancelled}}}
	srv = newTestServer(t, Deps{History: history})

	w := do(srv, "GET", "/api/v1/runs?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var runs []ledger.Run
	json.NewDecoder(w.Body).Decode(&runs)
	if len(runs) != 2 || runs[0].ID != "01B" {
		t.Errorf("runs = %+v", runs)
	}
	if history.limit != 5 {
		t.Errorf("limit = %d, want 5", history.limit)
	}

	if w := do(srv, "GET", "/api/v1/runs?limit=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", w.Code)
	}
}

func TestListRuns_EmptyIsArray(t *testing.T) {
	srv := newTestServer(t, Deps{History: &fakeHistory{}})
	w := do(srv, "GET", "/api/v1/runs", "")
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestGetRun(t *testing.T) {
	history := &fakeHistory{
		runs: []ledger.Run{{ID: "01A", State: ledger.StateCompleted, Total: 1}},
		results: map[string][]ledger.Result{
			"01A": {{Seq: 0, SourcePath: "/docs/a.pdf", Status: string(summarize.StatusSuccess)}},
		},
	}
	srv := newTestServer(t, Deps{History: history})

	w := do(srv, "GET", "/api/v1/runs/01A", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var detail RunDetail
	if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.Run.ID != "01A" || len(detail.Results) != 1 || detail.Results[0].SourcePath != "/docs/a.pdf" {
		t.Errorf("detail = %+v", detail)
	}

	if w := do(srv, "GET", "/api/v1/runs/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", w.Code)
	}

	history.err = errors.New("disk gone")
	if w := do(srv, "GET", "/api/v1/runs/01A", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("store failure status = %d, want 500", w.Code)
	}
}
