package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/HerbHall/litdigest/internal/config"
	"github.com/HerbHall/litdigest/internal/extract"
	"github.com/HerbHall/litdigest/internal/ledger"
	"github.com/HerbHall/litdigest/internal/llm"
	"github.com/HerbHall/litdigest/internal/metrics"
	"github.com/HerbHall/litdigest/internal/pipeline"
	"github.com/HerbHall/litdigest/internal/prompts"
	"github.com/HerbHall/litdigest/internal/report"
	"github.com/HerbHall/litdigest/internal/summarize"
	"github.com/HerbHall/litdigest/internal/version"
	pkgllm "github.com/HerbHall/litdigest/pkg/llm"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// app holds what every command needs: configuration, logger, metrics and
// the prompt store.
type app struct {
	store   *config.Store
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	prompts *prompts.Store
}

// newApp loads .env and the configuration (before the logger, so log
// level/format can be configured), then builds the logger.
func newApp() (*app, error) {
	envErr := godotenv.Load()

	store, err := config.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := config.NewLogger(store.Viper())
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn("failed to load .env", zap.Error(envErr))
	}
	if store.LoadErr != nil {
		logger.Warn("malformed configuration; using defaults",
			zap.String("component", "config"),
			zap.Error(store.LoadErr),
		)
	}
	cfg, err := store.Config()
	if err != nil {
		logger.Warn("invalid configuration value; using defaults",
			zap.String("component", "config"),
			zap.Error(err),
		)
	}

	logger.Debug("configuration loaded",
		zap.String("component", "config"),
		zap.String("source", store.Path()),
		zap.String("version", version.Short()),
	)

	return &app{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		prompts: prompts.Load(cfg.PromptsPath, logger.Named("prompts")),
	}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func (a *app) provider() (pkgllm.Provider, error) {
	return llm.New(llm.Config{
		Provider:          a.cfg.Provider,
		BaseURL:           a.cfg.BaseURL,
		APIKey:            a.cfg.APIKey,
		Model:             a.cfg.Model,
		Timeout:           a.cfg.RequestTimeout,
		RequestsPerMinute: a.cfg.RequestsPerMinute,
	}, a.logger.Named("llm"), a.metrics)
}

func (a *app) extractor() extract.Extractor {
	return extract.NewPDF(a.logger.Named("extract"))
}

func (a *app) job(p pkgllm.Provider) *summarize.Job {
	return summarize.NewJob(p, a.extractor(), a.prompts, summarize.Options{
		CacheText: a.cfg.CacheText,
		CacheDir:  a.cfg.CacheDir,
		Delay:     a.cfg.RequestDelay(),
		MaxTokens: a.cfg.MaxTokens,
		Model:     a.cfg.Model,
		Timeout:   a.cfg.RequestTimeout,
	}, a.logger.Named("summarize"))
}

func (a *app) aggregator(p pkgllm.Provider) *report.Aggregator {
	return report.New(p, a.prompts, report.Options{
		Path:      a.cfg.ReportPath,
		HTML:      a.cfg.ReportHTML,
		MaxTokens: a.cfg.MaxTokens,
		Model:     a.cfg.Model,
		Delay:     a.cfg.RequestDelay(),
		Timeout:   a.cfg.RequestTimeout,
	}, a.logger.Named("report"))
}

// openLedger opens run history. History is optional: failures are logged
// and nil is returned.
func (a *app) openLedger(ctx context.Context) *ledger.Ledger {
	if a.cfg.LedgerPath == "" {
		return nil
	}
	l, err := ledger.Open(ctx, a.cfg.LedgerPath, version.Version)
	if err != nil {
		a.logger.Warn("run history disabled",
			zap.String("path", a.cfg.LedgerPath),
			zap.Error(err),
		)
		return nil
	}
	return l
}

// worker wires a pipeline worker. l may be nil.
func (a *app) worker(p pkgllm.Provider, l *ledger.Ledger) *pipeline.Worker {
	var rec pipeline.Recorder
	if l != nil {
		rec = l
	}
	return pipeline.New(a.job(p), a.aggregator(p), rec, a.metrics, a.logger.Named("pipeline"))
}

func (a *app) runOptions() pipeline.Options {
	return pipeline.Options{
		Folder:         a.cfg.FolderPath,
		Concurrency:    a.cfg.Concurrency,
		GenerateReport: a.cfg.GenerateOverallReport,
		MetricsFile:    a.cfg.MetricsFile,
	}
}
