package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HerbHall/litdigest/internal/digest"
	"github.com/HerbHall/litdigest/internal/prompts"
	"github.com/HerbHall/litdigest/pkg/llm"
	"github.com/HerbHall/litdigest/pkg/llm/llmtest"
	"go.uber.org/zap"
)

type staticTemplates struct{}

func (staticTemplates) Get(string) prompts.Template {
	return prompts.Template{System: "sys", User: "S:{summaries}"}
}

func TestAggregate_EmptyInputNeverCallsModel(t *testing.T) {
	fake := llmtest.Static("report")
	a := New(fake, staticTemplates{}, Options{Path: filepath.Join(t.TempDir(), "r.md")}, zap.NewNop())

	_, err := a.Aggregate(context.Background(), nil)
	if !digest.IsKind(err, digest.KindGeneration) || !errors.Is(err, ErrNoSummaries) {
		t.Fatalf("err = %v, want generation error", err)
	}
	if fake.CallCount() != 0 {
		t.Error("model called for empty input")
	}
}

func TestAggregate_WritesReportWithAppendix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overall_report.md")
	fake := llmtest.Static("# Overall")

	a := New(fake, staticTemplates{}, Options{Path: path, HTML: true}, zap.NewNop())
	got, err := a.Aggregate(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	want := "# Overall" +
		"\n\n---\n\n# 附录：各文献摘要详情\n\n" +
		"## 文献 1 摘要\n\nfirst\n\n---\n\n" +
		"## 文献 2 摘要\n\nsecond\n\n---\n\n"
	if got != want {
		t.Errorf("report =\n%q\nwant\n%q", got, want)
	}

	disk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(disk) != want {
		t.Error("persisted report differs from returned report")
	}

	prompt := fake.Calls()[0].Messages[1].Content
	if prompt != "S:first"+Separator+"second" {
		t.Errorf("prompt = %q", prompt)
	}
	if fake.Calls()[0].Config.Temperature != Temperature {
		t.Error("report temperature not applied")
	}

	html, err := os.ReadFile(HTMLPath(path))
	if err != nil {
		t.Fatalf("html report missing: %v", err)
	}
	if !strings.Contains(string(html), "<h1>Overall</h1>") {
		t.Errorf("html = %s", html)
	}
}

func TestAggregate_ModelFailureSurfaced(t *testing.T) {
	pe := llm.NewProviderError(llm.ErrCodeServerError, "boom", nil)
	path := filepath.Join(t.TempDir(), "r.md")
	a := New(llmtest.Failing(pe), staticTemplates{}, Options{Path: path}, zap.NewNop())

	_, err := a.Aggregate(context.Background(), []string{"x"})
	if !errors.Is(err, pe) || !digest.IsKind(err, digest.KindAPI) {
		t.Fatalf("err = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("report written despite model failure")
	}
}

func TestAggregate_BlankReport(t *testing.T) {
	a := New(llmtest.Static(" "), staticTemplates{}, Options{Path: filepath.Join(t.TempDir(), "r.md")}, zap.NewNop())
	if _, err := a.Aggregate(context.Background(), []string{"x"}); !digest.IsKind(err, digest.KindGeneration) {
		t.Fatalf("err = %v, want generation error", err)
	}
}

func TestAggregate_CutOffReport(t *testing.T) {
	fake := llmtest.Static("# Overview\nthe collection covers")
	fake.Truncated = true
	path := filepath.Join(t.TempDir(), "r.md")
	a := New(fake, staticTemplates{}, Options{Path: path}, zap.NewNop())
	if _, err := a.Aggregate(context.Background(), []string{"x"}); !digest.IsKind(err, digest.KindGeneration) {
		t.Fatalf("err = %v, want generation error", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("cut-off report was written")
	}
}
