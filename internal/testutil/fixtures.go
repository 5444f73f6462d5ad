// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HerbHall/litdigest/internal/summarize"
	"github.com/samber/mo"
)

// PDFFolder creates a temporary folder holding one placeholder file per
// name and returns its path. Names may contain subdirectories.
func PDFFolder(t testing.TB, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		path := filepath.Join(dir, n)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("%PDF-1.4\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// NewResult returns a successful JobResult for path with a summary derived
// from the file name. Override individual fields with options.
func NewResult(path string, opts ...func(*summarize.JobResult)) summarize.JobResult {
	r := summarize.JobResult{
		SourcePath: path,
		Status:     summarize.StatusSuccess,
		OutputPath: mo.Some(summarize.OutputPath(path)),
		Summary:    mo.Some("summary of " + filepath.Base(path)),
		Elapsed:    10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Skipped marks the result as reusing an existing summary.
func Skipped() func(*summarize.JobResult) {
	return func(r *summarize.JobResult) { r.Status = summarize.StatusSkipped }
}

// WithSummary sets the summary text.
func WithSummary(s string) func(*summarize.JobResult) {
	return func(r *summarize.JobResult) { r.Summary = mo.Some(s) }
}

// WithElapsed sets the job duration.
func WithElapsed(d time.Duration) func(*summarize.JobResult) {
	return func(r *summarize.JobResult) { r.Elapsed = d }
}

// FailedWith turns the result into a failure carrying err. Outputs are
// cleared.
func FailedWith(err error) func(*summarize.JobResult) {
	return func(r *summarize.JobResult) {
		r.Status = summarize.StatusFailed
		r.Err = err
		r.OutputPath = mo.None[string]()
		r.Summary = mo.None[string]()
	}
}
