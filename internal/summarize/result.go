package summarize

import (
	"encoding/json"
	"time"

	"github.com/samber/mo"
)

// Status is the terminal state of one job.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// JobResult is the immutable outcome of summarizing one document.
type JobResult struct {
	SourcePath string
	Status     Status
	OutputPath mo.Option[string]
	Summary    mo.Option[string]
	Err        error
	Elapsed    time.Duration
}

// Failed builds a failed result for path.
func Failed(path string, err error) JobResult {
	return JobResult{SourcePath: path, Status: StatusFailed, Err: err}
}

// ErrorText returns the failure description, or "" for non-failed results.
func (r JobResult) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// OK reports whether the result carries a usable summary.
func (r JobResult) OK() bool {
	return r.Status == StatusSuccess || r.Status == StatusSkipped
}

type resultJSON struct {
	SourcePath   string            `json:"source_path"`
	Status       Status            `json:"status"`
	OutputPath   mo.Option[string] `json:"output_path"`
	SummaryChars int               `json:"summary_chars,omitempty"`
	Error        string            `json:"error,omitempty"`
	ElapsedMS    int64             `json:"elapsed_ms"`
}

// MarshalJSON renders the result for events and the HTTP surface. The
// summary body is reported by length only.
func (r JobResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		SourcePath:   r.SourcePath,
		Status:       r.Status,
		OutputPath:   r.OutputPath,
		SummaryChars: len([]rune(r.Summary.OrEmpty())),
		Error:        r.ErrorText(),
		ElapsedMS:    r.Elapsed.Milliseconds(),
	})
}

// Tally counts results by status.
type Tally struct {
	Success int `json:"success"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Total is the number of results counted.
func (t Tally) Total() int { return t.Success + t.Skipped + t.Failed }

// Count tallies results.
func Count(results []JobResult) Tally {
	var t Tally
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			t.Success++
		case StatusSkipped:
			t.Skipped++
		default:
			t.Failed++
		}
	}
	return t
}

// Summaries returns the summary text of every result that carries one, in
// input order.
func Summaries(results []JobResult) []string {
	var out []string
	for _, r := range results {
		if !r.OK() {
			continue
		}
		if s, ok := r.Summary.Get(); ok {
			out = append(out, s)
		}
	}
	return out
}
