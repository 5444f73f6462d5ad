package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/HerbHall/litdigest/internal/store"
	"github.com/HerbHall/litdigest/internal/summarize"
	"github.com/HerbHall/litdigest/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), "dev")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestFinishRun_RoundTrip(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	id, err := l.StartRun(ctx, "/papers", 3)
	require.NoError(t, err)

	results := []summarize.JobResult{
		testutil.NewResult("/papers/a.pdf", testutil.WithSummary("A"), testutil.WithElapsed(1500*time.Millisecond)),
		testutil.NewResult("/papers/b.pdf", testutil.FailedWith(errors.New("extraction failed"))),
		testutil.NewResult("/papers/c.pdf", testutil.Skipped(), testutil.WithSummary("C")),
	}
	err = l.FinishRun(ctx, id, Outcome{State: StateCompleted, Results: results, ReportPath: "overall_report.md"})
	require.NoError(t, err)

	run, got, err := l.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, run.State)
	assert.Equal(t, 3, run.Total)
	assert.NotNil(t, run.EndedAt, "finished run should have an end time")
	assert.Equal(t, "overall_report.md", run.ReportPath)
	assert.Equal(t, summarize.Tally{Success: 1, Skipped: 1, Failed: 1}, run.Tally)

	// Results come back in input order.
	require.Len(t, got, 3)
	assert.Equal(t, Hash("A"), got[0].SummaryHash)
	assert.Equal(t, 1500*time.Millisecond, got[0].Elapsed)
	assert.Equal(t, "failed", got[1].Status)
	assert.Equal(t, "extraction failed", got[1].Error)
	assert.Empty(t, got[1].SummaryHash, "failed results carry no summary digest")
	assert.Equal(t, "/papers/c.pdf", got[2].SourcePath)
}

func TestListRuns_NewestFirst(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	var ids []string
	for range 3 {
		id, err := l.StartRun(ctx, "/papers", 0)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := l.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
	assert.Equal(t, StateRunning, runs[0].State)
	assert.Nil(t, runs[0].EndedAt, "unfinished run should have no end time")

	all, err := l.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGetRun_NotFound(t *testing.T) {
	l := testLedger(t)

	_, _, err := l.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	err = l.FinishRun(context.Background(), "nope", Outcome{State: StateFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_RejectsNewerDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(context.Background(), path, "v0.5.0")
	require.NoError(t, err)
	l.Close()

	_, err = Open(context.Background(), path, "v0.4.0")
	assert.ErrorIs(t, err, store.ErrNewerSchema)
}

func TestHash_Stable(t *testing.T) {
	assert.Equal(t, Hash("summary"), Hash("summary"))
	assert.NotEqual(t, Hash("a"), Hash("b"))
	assert.Len(t, Hash("x"), 64)
}
