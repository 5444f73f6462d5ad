// Package llm selects and wires the configured LLM provider adapter.
package llm

import (
	"fmt"
	"time"

	"github.com/HerbHall/litdigest/internal/llm/anthropic"
	"github.com/HerbHall/litdigest/internal/llm/ollama"
	"github.com/HerbHall/litdigest/internal/llm/openai"
	"github.com/HerbHall/litdigest/internal/metrics"
	pkgllm "github.com/HerbHall/litdigest/pkg/llm"
	"go.uber.org/zap"
)

// Provider names accepted in Config.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config is the provider-agnostic connection configuration.
type Config struct {
	Provider          string        // "openai" (default), "anthropic", "ollama"
	BaseURL           string        // endpoint; empty uses the adapter default
	APIKey            string
	Model             string
	Timeout           time.Duration // per-call HTTP timeout
	RequestsPerMinute int           // 0 disables pacing
}

// New creates the configured provider wrapped with request pacing and call
// metrics. m may be nil.
func New(cfg Config, logger *zap.Logger, m *metrics.Metrics) (pkgllm.Provider, error) {
	inner, err := newProvider(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", cfg.providerName(), err)
	}

	logger.Info("llm provider configured",
		zap.String("provider", cfg.providerName()),
		zap.String("model", cfg.Model),
		zap.Int("requests_per_minute", cfg.RequestsPerMinute),
	)
	return Guard(inner, cfg.providerName(), cfg.RequestsPerMinute, m), nil
}

func (c Config) providerName() string {
	if c.Provider == "" {
		return ProviderOpenAI
	}
	return c.Provider
}

// newProvider creates a provider based on the config.
func newProvider(cfg Config, logger *zap.Logger) (pkgllm.Provider, error) {
	switch cfg.providerName() {
	case ProviderOpenAI:
		oc := openai.DefaultConfig()
		overlay(&oc.BaseURL, &oc.Model, &oc.Timeout, cfg)
		return openai.New(oc, cfg.APIKey, logger.Named("openai"))

	case ProviderAnthropic:
		ac := anthropic.DefaultConfig()
		overlay(&ac.BaseURL, &ac.Model, &ac.Timeout, cfg)
		return anthropic.New(ac, cfg.APIKey, logger.Named("anthropic"))

	case ProviderOllama:
		lc := ollama.DefaultConfig()
		overlay(&lc.URL, &lc.Model, &lc.Timeout, cfg)
		return ollama.New(lc, logger.Named("ollama"))

	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// overlay copies the non-zero connection fields of cfg over an adapter's defaults.
func overlay(baseURL, model *string, timeout *time.Duration, cfg Config) {
	if cfg.BaseURL != "" {
		*baseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		*model = cfg.Model
	}
	if cfg.Timeout > 0 {
		*timeout = cfg.Timeout
	}
}
