// Package summarize turns one document into a persisted Markdown summary.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HerbHall/litdigest/internal/digest"
	"github.com/HerbHall/litdigest/internal/extract"
	"github.com/HerbHall/litdigest/internal/prompts"
	"github.com/HerbHall/litdigest/pkg/llm"
	"github.com/samber/mo"
	"go.uber.org/zap"
)

// MinTextLength is the trimmed character count below which extracted text
// is not treated as a real document.
const MinTextLength = 100

// Temperature used for summaries.
const Temperature = 0.3

// SummarySuffix replaces the document extension to form the output path.
const SummarySuffix = ".summary.md"

// Templates resolves prompt templates by name.
type Templates interface {
	Get(name string) prompts.Template
}

// Options tunes a Job.
type Options struct {
	CacheText bool
	CacheDir  string
	Delay     time.Duration // courtesy pause before every LLM call
	MaxTokens int           // response cap; input is cut to 4 characters per token
	Model     string
	Timeout   time.Duration // per-call deadline; zero means none
}

// Job summarizes documents. It is stateless between Run calls and safe for
// concurrent use.
type Job struct {
	provider  llm.Provider
	extractor extract.Extractor
	templates Templates
	opts      Options
	logger    *zap.Logger
}

// NewJob creates a Job.
func NewJob(p llm.Provider, x extract.Extractor, t Templates, opts Options, logger *zap.Logger) *Job {
	return &Job{provider: p, extractor: x, templates: t, opts: opts, logger: logger}
}

// OutputPath is where the summary of the document at path is written.
func OutputPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + SummarySuffix
}

// CachePath is where the raw text of path is cached under dir.
func CachePath(dir, path string) string {
	base := filepath.Base(path)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".txt")
}

// Run executes cache check, extraction, validation, summarization and
// persistence for one document. Every failure is returned as a failed
// JobResult.
func (j *Job) Run(ctx context.Context, path string) JobResult {
	start := time.Now()
	res := j.run(ctx, path)
	res.Elapsed = time.Since(start)
	return res
}

func (j *Job) run(ctx context.Context, path string) JobResult {
	out := OutputPath(path)
	log := j.logger.With(zap.String("path", path))

	existing, err := os.ReadFile(out)
	switch {
	case err == nil:
		log.Debug("summary exists; skipping")
		return JobResult{
			SourcePath: path,
			Status:     StatusSkipped,
			OutputPath: mo.Some(out),
			Summary:    mo.Some(string(existing)),
		}
	case !errors.Is(err, fs.ErrNotExist):
		return Failed(path, fmt.Errorf("read existing summary: %w", err))
	}

	text, err := j.extractor.Extract(ctx, path)
	if err != nil {
		if !digest.IsKind(err, digest.KindExtraction) {
			err = digest.Extraction(path, "extraction failed", err)
		}
		return Failed(path, err)
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Failed(path, digest.Extraction(path, "extracted text is empty", nil))
	}
	if n := len([]rune(trimmed)); n < MinTextLength {
		return Failed(path, digest.Extraction(path,
			fmt.Sprintf("extracted text too short to be a document (%d characters)", n), nil))
	}

	if j.opts.CacheText {
		j.cacheText(path, text, log)
	}

	if err := sleep(ctx, j.opts.Delay); err != nil {
		return Failed(path, err)
	}

	summary, err := j.summarize(ctx, text)
	if err != nil {
		return Failed(path, err)
	}

	if err := os.WriteFile(out, []byte(summary), 0o644); err != nil {
		return Failed(path, fmt.Errorf("write summary: %w", err))
	}

	log.Info("summary written", zap.String("output", out))
	return JobResult{
		SourcePath: path,
		Status:     StatusSuccess,
		OutputPath: mo.Some(out),
		Summary:    mo.Some(summary),
	}
}

func (j *Job) summarize(ctx context.Context, text string) (string, error) {
	if j.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.opts.Timeout)
		defer cancel()
	}

	tpl := j.templates.Get(prompts.Summary)
	messages := []llm.Message{
		llm.System(tpl.System),
		llm.User(tpl.Render(map[string]string{
			prompts.VarText: Truncate(text, j.opts.MaxTokens*4),
		})),
	}

	opts := []llm.CallOption{llm.WithTemperature(Temperature)}
	if j.opts.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(j.opts.MaxTokens))
	}
	if j.opts.Model != "" {
		opts = append(opts, llm.WithModel(j.opts.Model))
	}

	resp, err := j.provider.Chat(ctx, messages, opts...)
	if err != nil {
		return "", digest.API("summarize", err)
	}
	if !resp.Done {
		return "", digest.Generation("summarize", "model summary was cut off")
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", digest.Generation("summarize", "model returned an empty summary")
	}
	return resp.Content, nil
}

// cacheText stores the raw text. Failures are logged only.
func (j *Job) cacheText(path, text string, log *zap.Logger) {
	dst := CachePath(j.opts.CacheDir, path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		log.Warn("text cache unavailable", zap.Error(err))
		return
	}
	if err := os.WriteFile(dst, []byte(text), 0o644); err != nil {
		log.Warn("failed to cache extracted text", zap.String("cache", dst), zap.Error(err))
	}
}

// Truncate returns at most n characters of s. n <= 0 leaves s intact.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
