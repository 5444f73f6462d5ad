// Package report merges per-document summaries into one overall report.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HerbHall/litdigest/internal/digest"
	"github.com/HerbHall/litdigest/internal/prompts"
	"github.com/HerbHall/litdigest/pkg/llm"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"
)

// ErrNoSummaries is returned when Aggregate is called without input.
var ErrNoSummaries = errors.New("no summaries to aggregate")

// Separator joins summaries in the report prompt.
const Separator = "\n\n---\n\n"

// Temperature used for the overall report.
const Temperature = 0.3

const appendixHeading = "\n\n---\n\n# 附录：各文献摘要详情\n\n"

// Templates resolves prompt templates by name.
type Templates interface {
	Get(name string) prompts.Template
}

// Options tunes an Aggregator.
type Options struct {
	Path      string // Markdown output; required
	HTML      bool   // also render Path with an .html extension
	MaxTokens int
	Model     string
	Delay     time.Duration
	Timeout   time.Duration
}

// Aggregator writes the overall report.
type Aggregator struct {
	provider  llm.Provider
	templates Templates
	opts      Options
	logger    *zap.Logger
}

// New creates an Aggregator.
func New(p llm.Provider, t Templates, opts Options, logger *zap.Logger) *Aggregator {
	return &Aggregator{provider: p, templates: t, opts: opts, logger: logger}
}

// Path is where the Markdown report is written.
func (a *Aggregator) Path() string { return a.opts.Path }

// Aggregate asks the model for a synthesis of summaries, appends every
// summary verbatim under a numbered appendix, writes the result to the
// configured path and returns it.
func (a *Aggregator) Aggregate(ctx context.Context, summaries []string) (string, error) {
	if len(summaries) == 0 {
		return "", &digest.Error{Kind: digest.KindGeneration, Op: "aggregate", Err: ErrNoSummaries}
	}

	if a.opts.Delay > 0 {
		t := time.NewTimer(a.opts.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return "", context.Cause(ctx)
		}
	}

	body, err := a.generate(ctx, summaries)
	if err != nil {
		return "", err
	}

	report := Compose(body, summaries)
	if err := writeFile(a.opts.Path, []byte(report)); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	a.logger.Info("overall report written",
		zap.String("path", a.opts.Path),
		zap.Int("summaries", len(summaries)),
	)

	if a.opts.HTML {
		htmlPath := HTMLPath(a.opts.Path)
		if err := writeHTML(htmlPath, report); err != nil {
			a.logger.Warn("failed to render html report", zap.String("path", htmlPath), zap.Error(err))
		}
	}
	return report, nil
}

func (a *Aggregator) generate(ctx context.Context, summaries []string) (string, error) {
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	tpl := a.templates.Get(prompts.OverallReport)
	messages := []llm.Message{
		llm.System(tpl.System),
		llm.User(tpl.Render(map[string]string{
			prompts.VarSummaries: strings.Join(summaries, Separator),
		})),
	}

	opts := []llm.CallOption{llm.WithTemperature(Temperature)}
	if a.opts.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(a.opts.MaxTokens))
	}
	if a.opts.Model != "" {
		opts = append(opts, llm.WithModel(a.opts.Model))
	}

	resp, err := a.provider.Chat(ctx, messages, opts...)
	if err != nil {
		return "", digest.API("aggregate", err)
	}
	if !resp.Done {
		return "", digest.Generation("aggregate", "model report was cut off")
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", digest.Generation("aggregate", "model returned an empty report")
	}
	return resp.Content, nil
}

// Compose appends the numbered appendix of summaries to body.
func Compose(body string, summaries []string) string {
	var b strings.Builder
	b.WriteString(body)
	b.WriteString(appendixHeading)
	for i, s := range summaries {
		fmt.Fprintf(&b, "## 文献 %d 摘要\n\n%s\n\n---\n\n", i+1, s)
	}
	return b.String()
}

// HTMLPath returns path with its extension replaced by .html.
func HTMLPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".html"
}

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

func writeHTML(path, markdown string) error {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Overall report</title></head><body>\n")
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return fmt.Errorf("convert markdown: %w", err)
	}
	buf.WriteString("</body></html>\n")
	return writeFile(path, buf.Bytes())
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
