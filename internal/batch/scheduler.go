// Package batch runs summary jobs over many documents under a concurrency cap.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/HerbHall/litdigest/internal/event"
	"github.com/HerbHall/litdigest/internal/metrics"
	"github.com/HerbHall/litdigest/internal/summarize"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrAbandoned marks jobs that never started because the run was stopped.
var ErrAbandoned = errors.New("run stopped before job started")

// Runner executes one job. summarize.Job implements it.
type Runner interface {
	Run(ctx context.Context, path string) summarize.JobResult
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, path string) summarize.JobResult

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, path string) summarize.JobResult { return f(ctx, path) }

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithEvents emits progress and per-job result events on ch, tagged with source.
func WithEvents(ch chan<- event.Event, source string) Option {
	return func(s *Scheduler) {
		s.events = ch
		s.source = source
	}
}

// WithMetrics counts finished jobs by status.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler fans jobs out behind an admission gate of fixed size.
type Scheduler struct {
	runner      Runner
	concurrency int
	logger      *zap.Logger
	events      chan<- event.Event
	source      string
	metrics     *metrics.Metrics
}

// New creates a Scheduler. A concurrency below 1 is treated as 1.
func New(r Runner, concurrency int, logger *zap.Logger, opts ...Option) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	s := &Scheduler{runner: r, concurrency: concurrency, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run executes one job per path and returns one result per path in input
// order. A job that panics becomes a failed result. Cancelling ctx stops
// admission; paths not yet admitted are reported failed with the cause.
func (s *Scheduler) Run(ctx context.Context, paths []string) []summarize.JobResult {
	results := make([]summarize.JobResult, len(paths))
	if len(paths) == 0 {
		s.logger.Info("no documents found")
		return results
	}

	s.logger.Info("batch started",
		zap.Int("documents", len(paths)),
		zap.Int("concurrency", s.concurrency),
	)

	var wg sync.WaitGroup
	var done atomic.Int64
	sem := semaphore.NewWeighted(int64(s.concurrency))

	for i, path := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			cause := fmt.Errorf("%w: %w", ErrAbandoned, context.Cause(ctx))
			for k := i; k < len(paths); k++ {
				results[k] = summarize.Failed(paths[k], cause)
				s.finish(ctx, results[k], int(done.Add(1)), len(paths))
			}
			s.logger.Warn("batch stopped", zap.Int("abandoned", len(paths)-i))
			break
		}

		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			defer sem.Release(1)

			results[i] = s.runOne(ctx, path)
			s.finish(ctx, results[i], int(done.Add(1)), len(paths))
		}(i, path)
	}
	wg.Wait()

	return results
}

// runOne converts a panic inside the job into a failed result.
func (s *Scheduler) runOne(ctx context.Context, path string) (res summarize.JobResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked",
				zap.String("path", path),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res = summarize.Failed(path, fmt.Errorf("job panicked: %v", r))
		}
	}()
	return s.runner.Run(ctx, path)
}

func (s *Scheduler) finish(ctx context.Context, res summarize.JobResult, done, total int) {
	s.metrics.JobFinished(string(res.Status))

	if res.Status == summarize.StatusFailed {
		s.logger.Warn("job failed", zap.String("path", res.SourcePath), zap.Error(res.Err))
	} else {
		s.logger.Debug("job finished", zap.String("path", res.SourcePath), zap.String("status", string(res.Status)))
	}

	event.Emit(ctx, s.events, event.Event{
		Kind:   event.KindJobResult,
		Source: s.source,
		Path:   res.SourcePath,
		Data:   res,
	})
	event.Emit(ctx, s.events, event.Event{
		Kind:   event.KindProgress,
		Source: s.source,
		Done:   done,
		Total:  total,
	})
}
