package llm

import (
	"context"
	"time"

	"github.com/HerbHall/litdigest/internal/metrics"
	pkgllm "github.com/HerbHall/litdigest/pkg/llm"
	"golang.org/x/time/rate"
)

// Compile-time interface guards.
var (
	_ pkgllm.Provider       = (*Guarded)(nil)
	_ pkgllm.HealthReporter = (*Guarded)(nil)
)

// Guarded wraps a provider with optional request pacing and per-call
// metrics. Heartbeat and ListModels pass through unpaced.
type Guarded struct {
	next    pkgllm.Provider
	name    string
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// Guard wraps next. A requestsPerMinute of zero or less disables pacing.
func Guard(next pkgllm.Provider, name string, requestsPerMinute int, m *metrics.Metrics) *Guarded {
	g := &Guarded{next: next, name: name, metrics: m}
	if requestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return g
}

// Generate implements pkgllm.Provider.
func (g *Guarded) Generate(ctx context.Context, prompt string, opts ...pkgllm.CallOption) (*pkgllm.Response, error) {
	return g.Chat(ctx, []pkgllm.Message{pkgllm.User(prompt)}, opts...)
}

// Chat implements pkgllm.Provider.
func (g *Guarded) Chat(ctx context.Context, messages []pkgllm.Message, opts ...pkgllm.CallOption) (*pkgllm.Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, pkgllm.NewProviderError(pkgllm.ErrCodeTimeout, "waiting for request slot", err)
		}
	}

	start := time.Now()
	resp, err := g.next.Chat(ctx, messages, opts...)
	outcome := "ok"
	if err != nil {
		outcome = pkgllm.CodeOf(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	g.metrics.LLMCall(g.name, outcome, time.Since(start))
	return resp, err
}

// Heartbeat implements pkgllm.HealthReporter. Providers without health
// reporting are assumed reachable.
func (g *Guarded) Heartbeat(ctx context.Context) error {
	if hr, ok := g.next.(pkgllm.HealthReporter); ok {
		return hr.Heartbeat(ctx)
	}
	return nil
}

// ListModels implements pkgllm.HealthReporter.
func (g *Guarded) ListModels(ctx context.Context) ([]string, error) {
	if hr, ok := g.next.(pkgllm.HealthReporter); ok {
		return hr.ListModels(ctx)
	}
	return nil, nil
}
