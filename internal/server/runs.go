package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/HerbHall/litdigest/internal/digest"
	"github.com/HerbHall/litdigest/internal/event"
	"github.com/HerbHall/litdigest/internal/ledger"
	"github.com/HerbHall/litdigest/internal/pipeline"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// activeRun is the run started over the API, if any.
type activeRun struct {
	id     string
	cancel context.CancelFunc
}

// launchKey carries the launch a pumped event belongs to, so run.started
// handlers on the shared bus only react to their own run.
type launchKey struct{}

// StartRunRequest is the body of POST /api/v1/runs. Empty fields fall back
// to the configured defaults.
type StartRunRequest struct {
	Folder         string `json:"folder,omitempty" example:"/data/papers"`
	Concurrency    int    `json:"concurrency,omitempty" example:"5"`
	GenerateReport *bool  `json:"generate_report,omitempty"`
}

// RunStatus describes the run the server is driving.
type RunStatus struct {
	RunID   string `json:"run_id,omitempty"`
	Running bool   `json:"running"`
}

// RunDetail is the response for GET /api/v1/runs/{id}.
type RunDetail struct {
	Run     *ledger.Run     `json:"run"`
	Results []ledger.Result `json:"results"`
}

// handleStartRun starts a batch run in the background and answers once it
// has its ID. Progress is published on the event bus.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body: "+err.Error(), r.URL.Path)
		return
	}

	opts := s.deps.Defaults
	if req.Folder != "" {
		opts.Folder = req.Folder
	}
	if req.Concurrency > 0 {
		opts.Concurrency = req.Concurrency
	}
	if req.GenerateReport != nil {
		opts.GenerateReport = *req.GenerateReport
	}

	if s.deps.Runner.Running() {
		Conflict(w, pipeline.ErrRunInProgress.Error(), r.URL.Path)
		return
	}

	started, failed := s.launch(opts)
	select {
	case id := <-started:
		writeJSON(w, http.StatusAccepted, RunStatus{RunID: id, Running: true})
	case err := <-failed:
		s.writeRunError(w, r, err)
	case <-r.Context().Done():
	}
}

// launch runs opts on a goroutine tied to the server lifetime. The first
// channel yields the run ID; the second yields an error when the run could
// not start.
func (s *Server) launch(opts pipeline.Options) (<-chan string, <-chan error) {
	ctx, cancel := context.WithCancel(s.ctx)
	events := make(chan event.Event, 64)
	started := make(chan string, 1)
	failed := make(chan error, 1)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer cancel()
		out, err := s.deps.Runner.Run(ctx, opts, events)
		close(events)
		if err != nil {
			failed <- err
			return
		}
		s.logger.Info("run finished",
			zap.String("run", out.RunID),
			zap.String("state", out.State),
			zap.Int("succeeded", out.Tally.Success),
			zap.Int("skipped", out.Tally.Skipped),
			zap.Int("failed", out.Tally.Failed),
			zap.Duration("elapsed", out.Elapsed),
		)
	}()

	token := new(activeRun)
	var once sync.Once
	unsubscribe := s.deps.Bus.Subscribe(event.KindRunStarted, func(ctx context.Context, ev event.Event) {
		if ctx.Value(launchKey{}) != token {
			return
		}
		once.Do(func() {
			*token = activeRun{id: ev.Source, cancel: cancel}
			s.setCurrent(*token)
			started <- ev.Source
		})
	})

	// Pump until the runner closes the channel; the runner blocks on a
	// full channel, so the pump ignores cancellation.
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.deps.Bus.Pump(context.WithValue(context.WithoutCancel(ctx), launchKey{}, token), events)
		if token.id != "" {
			s.clearCurrent(token.id)
		}
	}()

	return started, failed
}

func (s *Server) setCurrent(run activeRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = run
}

func (s *Server) clearCurrent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.id == id {
		s.current = activeRun{}
	}
}

func (s *Server) currentRun() activeRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress), errors.Is(err, pipeline.ErrLocked):
		Conflict(w, err.Error(), r.URL.Path)
	case digest.IsKind(err, digest.KindConfig):
		BadRequest(w, digest.Describe(err), r.URL.Path)
	default:
		s.logger.Error("run failed to start", zap.Error(err))
		InternalError(w, "run failed to start", r.URL.Path)
	}
}

func (s *Server) handleCurrentRun(w http.ResponseWriter, _ *http.Request) {
	cur := s.currentRun()
	writeJSON(w, http.StatusOK, RunStatus{RunID: cur.id, Running: s.deps.Runner.Running()})
}

// handleCancelRun cancels the run started over the API. Finished documents
// keep their outputs and the partial outcome is still recorded.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	cur := s.currentRun()
	if cur.id == "" {
		NotFound(w, "no run in progress", r.URL.Path)
		return
	}
	cur.cancel()
	s.logger.Info("run cancelled over the API", zap.String("run", cur.id))
	writeJSON(w, http.StatusAccepted, RunStatus{RunID: cur.id, Running: true})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		Unavailable(w, "run history is not enabled", r.URL.Path)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			BadRequest(w, "limit must be a non-negative integer", r.URL.Path)
			return
		}
		limit = n
	}

	runs, err := s.deps.History.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		InternalError(w, "failed to list runs", r.URL.Path)
		return
	}
	if runs == nil {
		runs = []ledger.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		Unavailable(w, "run history is not enabled", r.URL.Path)
		return
	}

	run, results, err := s.deps.History.GetRun(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		NotFound(w, "run not found", r.URL.Path)
		return
	case err != nil:
		s.logger.Error("get run failed", zap.Error(err))
		InternalError(w, "failed to load run", r.URL.Path)
		return
	}
	if results == nil {
		results = []ledger.Result{}
	}
	writeJSON(w, http.StatusOK, RunDetail{Run: run, Results: results})
}
