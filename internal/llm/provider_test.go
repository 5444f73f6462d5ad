package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/litdigest/internal/metrics"
	pkgllm "github.com/HerbHall/litdigest/pkg/llm"
	"github.com/HerbHall/litdigest/pkg/llm/llmtest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestNew_Providers(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default is openai", Config{}, false},
		{"openai keyless", Config{Provider: ProviderOpenAI, BaseURL: "http://localhost:8000/v1"}, false},
		{"anthropic needs key", Config{Provider: ProviderAnthropic}, true},
		{"anthropic", Config{Provider: ProviderAnthropic, APIKey: "sk-ant"}, false},
		{"ollama", Config{Provider: ProviderOllama, BaseURL: "http://localhost:11434"}, false},
		{"unknown", Config{Provider: "bard"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg, zap.NewNop(), nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if _, ok := p.(pkgllm.HealthReporter); !ok {
					t.Error("provider does not implement HealthReporter")
				}
			}
		})
	}
}

func TestGuard_Contract(t *testing.T) {
	llmtest.TestProviderContract(t, func() pkgllm.Provider {
		f := llmtest.Static("guarded reply")
		f.Models = []string{"fake"}
		return Guard(f, "fake", 0, nil)
	})
}

func TestGuard_RecordsOutcome(t *testing.T) {
	m := metrics.New()
	authErr := pkgllm.NewProviderError(pkgllm.ErrCodeAuthentication, "bad key", nil)

	g := Guard(llmtest.Failing(authErr), "fake", 0, m)
	if _, err := g.Generate(context.Background(), "hi"); !errors.Is(err, authErr) {
		t.Fatalf("err = %v, want %v", err, authErr)
	}

	g = Guard(llmtest.Static("ok"), "fake", 0, m)
	if _, err := g.Generate(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}

	n, err := testutil.GatherAndCount(m.Registry(), "litdigest_llm_calls_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("distinct llm call series = %d, want 2 (ok and authentication_error)", n)
	}
}

func TestGuard_PacingHonoursContext(t *testing.T) {
	f := llmtest.Static("ok")
	g := Guard(f, "fake", 1, nil)

	// The first call consumes the only token.
	if _, err := g.Generate(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Generate(ctx, "second")
	if !pkgllm.IsTimeoutError(err) {
		t.Fatalf("err = %v, want timeout while waiting for slot", err)
	}
	if f.CallCount() != 1 {
		t.Errorf("inner calls = %d, want 1", f.CallCount())
	}
}

func TestProbe(t *testing.T) {
	ok := llmtest.Static("x")
	ok.Models = []string{"m1"}
	if !Probe(context.Background(), ok, zap.NewNop()) {
		t.Error("Probe() = false for healthy provider")
	}

	down := llmtest.Static("x")
	down.HeartbeatErr = pkgllm.NewProviderError(pkgllm.ErrCodeConnection, "refused", nil)
	if Probe(context.Background(), down, zap.NewNop()) {
		t.Error("Probe() = true for unreachable provider")
	}
}
