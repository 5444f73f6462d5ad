// Package pipeline drives a full batch run over a folder: scan, lock,
// schedule, tally, record, report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/HerbHall/litdigest/internal/batch"
	"github.com/HerbHall/litdigest/internal/digest"
	"github.com/HerbHall/litdigest/internal/event"
	"github.com/HerbHall/litdigest/internal/extract"
	"github.com/HerbHall/litdigest/internal/ledger"
	"github.com/HerbHall/litdigest/internal/metrics"
	"github.com/HerbHall/litdigest/internal/summarize"
	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
	"github.com/samber/mo"
	"go.uber.org/zap"
)

// LockFile is created in the scanned folder while a run owns it.
const LockFile = ".litdigest.lock"

var (
	// ErrRunInProgress is returned when this Worker is already running.
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrLocked is returned when another process holds the folder lock.
	ErrLocked = errors.New("folder is locked by another run")
)

// Reporter writes the overall report. report.Aggregator implements it.
type Reporter interface {
	Aggregate(ctx context.Context, summaries []string) (string, error)
	Path() string
}

// Recorder persists run history. ledger.Ledger implements it.
type Recorder interface {
	StartRun(ctx context.Context, folder string, total int) (string, error)
	FinishRun(ctx context.Context, id string, out ledger.Outcome) error
}

// Options selects what a run does.
type Options struct {
	Folder         string
	Concurrency    int
	GenerateReport bool
	MetricsFile    string // textfile export after each run; empty disables
}

// Outcome is the result of one run.
type Outcome struct {
	RunID      string                `json:"run_id"`
	Folder     string                `json:"folder"`
	State      string                `json:"state"`
	Tally      summarize.Tally       `json:"tally"`
	Results    []summarize.JobResult `json:"results"`
	ReportPath mo.Option[string]     `json:"report_path"`
	ReportErr  string                `json:"report_error,omitempty"`
	Elapsed    time.Duration         `json:"elapsed"`
}

// Failures returns the failed results in input order.
func (o *Outcome) Failures() []summarize.JobResult {
	var out []summarize.JobResult
	for _, r := range o.Results {
		if r.Status == summarize.StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

// Worker runs batches. One Worker runs at most one batch at a time.
type Worker struct {
	runner   batch.Runner
	reporter Reporter
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	running  atomic.Bool
}

// New creates a Worker. reporter, recorder and m may be nil.
func New(runner batch.Runner, reporter Reporter, recorder Recorder, m *metrics.Metrics, logger *zap.Logger) *Worker {
	return &Worker{
		runner:   runner,
		reporter: reporter,
		recorder: recorder,
		metrics:  m,
		logger:   logger,
	}
}

// Running reports whether a run is in progress.
func (w *Worker) Running() bool { return w.running.Load() }

// Run processes every PDF under opts.Folder. Cancelling ctx stops the run:
// queued jobs are abandoned, finished outputs stay on disk, no report is
// written, and the outcome is still recorded. The returned error covers
// only failures that prevented the run from starting.
func (w *Worker) Run(ctx context.Context, opts Options, events chan<- event.Event) (*Outcome, error) {
	if !w.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer w.running.Store(false)

	start := time.Now()
	if opts.Folder == "" {
		return nil, digest.Config("folder_path", errors.New("no folder selected"))
	}
	info, err := os.Stat(opts.Folder)
	if err != nil {
		return nil, digest.Config(opts.Folder, err)
	}
	if !info.IsDir() {
		return nil, digest.Config(opts.Folder, fmt.Errorf("%s is not a directory", opts.Folder))
	}

	lock := flock.New(filepath.Join(opts.Folder, LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", opts.Folder, err)
	}
	if !locked {
		return nil, ErrLocked
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			w.logger.Warn("failed to release folder lock", zap.Error(err))
		}
	}()

	paths, err := extract.Scan(opts.Folder)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", opts.Folder, err)
	}

	out := &Outcome{RunID: w.startRun(ctx, opts.Folder, len(paths)), Folder: opts.Folder}
	log := w.logger.With(zap.String("run", out.RunID))
	log.Info("run started", zap.String("folder", opts.Folder), zap.Int("documents", len(paths)))
	event.Emit(ctx, events, event.Event{
		Kind:    event.KindRunStarted,
		Source:  out.RunID,
		Path:    opts.Folder,
		Total:   len(paths),
		Message: fmt.Sprintf("found %d PDF files", len(paths)),
	})

	sched := batch.New(w.runner, opts.Concurrency, log,
		batch.WithEvents(events, out.RunID),
		batch.WithMetrics(w.metrics),
	)
	out.Results = sched.Run(ctx, paths)
	out.Tally = summarize.Count(out.Results)

	out.State = ledger.StateCompleted
	if ctx.Err() != nil {
		out.State = ledger.StateCancelled
	}

	w.logTally(ctx, log, out, events)

	if opts.GenerateReport && out.State == ledger.StateCompleted {
		w.report(ctx, log, out, events)
	}

	out.Elapsed = time.Since(start)
	w.finishRun(ctx, log, out)

	event.Emit(context.WithoutCancel(ctx), events, event.Event{
		Kind:    event.KindRunFinished,
		Source:  out.RunID,
		Path:    opts.Folder,
		Done:    out.Tally.Total(),
		Total:   len(paths),
		Message: out.State,
		Data:    out.Tally,
	})
	w.metrics.RunFinished(out.State)
	if err := w.metrics.WriteTextfile(opts.MetricsFile); err != nil {
		log.Warn("failed to write metrics textfile", zap.String("path", opts.MetricsFile), zap.Error(err))
	}
	return out, nil
}

func (w *Worker) startRun(ctx context.Context, folder string, total int) string {
	if w.recorder != nil {
		id, err := w.recorder.StartRun(ctx, folder, total)
		if err == nil {
			return id
		}
		w.logger.Warn("failed to record run start", zap.Error(err))
	}
	return ulid.Make().String()
}

func (w *Worker) finishRun(ctx context.Context, log *zap.Logger, out *Outcome) {
	if w.recorder == nil {
		return
	}
	var reportErr error
	if out.ReportErr != "" {
		reportErr = errors.New(out.ReportErr)
	}
	err := w.recorder.FinishRun(context.WithoutCancel(ctx), out.RunID, ledger.Outcome{
		State:      out.State,
		Results:    out.Results,
		ReportPath: out.ReportPath.OrEmpty(),
		Err:        reportErr,
	})
	if err != nil {
		log.Warn("failed to record run outcome", zap.Error(err))
	}
}

// logTally reports the counts followed by one line per failure.
func (w *Worker) logTally(ctx context.Context, log *zap.Logger, out *Outcome, events chan<- event.Event) {
	msg := fmt.Sprintf("processing finished: %d succeeded, %d skipped, %d failed",
		out.Tally.Success, out.Tally.Skipped, out.Tally.Failed)
	log.Info(msg, zap.String("state", out.State))
	event.Log(context.WithoutCancel(ctx), events, out.RunID, "info", msg)

	for _, r := range out.Failures() {
		line := fmt.Sprintf("failed: %s: %s", filepath.Base(r.SourcePath), digest.Describe(r.Err))
		log.Warn(line)
		event.Log(context.WithoutCancel(ctx), events, out.RunID, "warn", line)
	}
}

// report builds the overall report from every summary available, fresh or
// pre-existing. Having nothing to report is not an error.
func (w *Worker) report(ctx context.Context, log *zap.Logger, out *Outcome, events chan<- event.Event) {
	if w.reporter == nil {
		return
	}
	summaries := summarize.Summaries(out.Results)
	if len(summaries) == 0 {
		log.Info("no summaries available; overall report skipped")
		event.Log(ctx, events, out.RunID, "info", "no summaries available; overall report skipped")
		return
	}

	if _, err := w.reporter.Aggregate(ctx, summaries); err != nil {
		out.ReportErr = digest.Describe(err)
		log.Error("overall report failed", zap.Error(err))
		event.Emit(ctx, events, event.Event{
			Kind:    event.KindError,
			Source:  out.RunID,
			Level:   "error",
			Message: "overall report failed: " + out.ReportErr,
		})
		return
	}

	out.ReportPath = mo.Some(w.reporter.Path())
	event.Emit(ctx, events, event.Event{
		Kind:    event.KindReport,
		Source:  out.RunID,
		Path:    w.reporter.Path(),
		Message: fmt.Sprintf("overall report built from %d summaries", len(summaries)),
	})
}
