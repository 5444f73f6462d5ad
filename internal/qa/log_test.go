package qa

import (
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/litdigest/pkg/llm"
)

func TestLogPath(t *testing.T) {
	if got := LogPath("/docs/paper.PDF"); got != "/docs/paper.qa.md" {
		t.Errorf("LogPath() = %q", got)
	}
}

func TestTurn_Format(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	got := Turn("what?", "this.", ts)
	want := "**用户** (2025-03-04 05:06:07):\nwhat?\n\n" +
		"**助手** (2025-03-04 05:06:07):\nthis.\n\n"
	if got != want {
		t.Errorf("Turn() =\n%q\nwant\n%q", got, want)
	}
}

func TestParseLog(t *testing.T) {
	log := "stray preamble\n" +
		"**用户** (2025-01-01 10:00:00):\nfirst question\n\n" +
		"**助手** (2025-01-01 10:00:00):\nline one\n\nline two\n\n" +
		"**对话摘要** (2025-01-01 10:05:00):\ncondensed\n\n" +
		"**用户** (2025-01-01 10:06:00):\n\n\n" +
		"**用户** (2025-01-01 10:07:00):\nsecond question\n"

	entries, err := ParseLog(strings.NewReader(log))
	if err != nil {
		t.Fatalf("ParseLog() error = %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4: %+v", len(entries), entries)
	}
	if entries[0].Label != LabelUser || entries[0].Time != "2025-01-01 10:00:00" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Content != "line one\n\nline two" {
		t.Errorf("multi-paragraph content = %q", entries[1].Content)
	}
	if entries[2].Label != LabelSummary {
		t.Errorf("entries[2].Label = %q", entries[2].Label)
	}
	if entries[3].Content != "second question" {
		t.Errorf("entries[3].Content = %q", entries[3].Content)
	}
}

func TestReplay_SkipsUnknownLabelsAndCaps(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var sb strings.Builder
	sb.WriteString(Turn("q1", "a1", ts))
	sb.WriteString(Block(LabelSummary, ts, "digest"))
	sb.WriteString(Block("系统", ts, "unknown role"))
	sb.WriteString(Turn("q2", "a2", ts))

	all, err := Replay(strings.NewReader(sb.String()), 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []llm.Message{llm.User("q1"), llm.Assistant("a1"), llm.User("q2"), llm.Assistant("a2")}
	if len(all) != len(want) {
		t.Fatalf("history = %+v", all)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, all[i], want[i])
		}
	}

	capped, err := Replay(strings.NewReader(sb.String()), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(capped) != 3 || capped[0] != llm.Assistant("a1") {
		t.Errorf("capped history = %+v", capped)
	}
}

func TestReplay_KeepsBoldLinesInsideAnswers(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	answer := "The paper has two parts.\n**Method** (section 3):\nThey use a transformer.\n**用户** (not a time):\nquoted marker"

	history, err := Replay(strings.NewReader(Turn("what is it?", answer, ts)), 40)
	if err != nil {
		t.Fatal(err)
	}
	want := []llm.Message{llm.User("what is it?"), llm.Assistant(answer)}
	if len(history) != len(want) {
		t.Fatalf("history = %+v", history)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, history[i].Content, want[i].Content)
		}
	}
}

func TestCapHistory_DoesNotAlias(t *testing.T) {
	in := []llm.Message{llm.User("1"), llm.Assistant("2"), llm.User("3")}
	out := capHistory(in, 2)
	out[0].Content = "changed"
	if in[1].Content != "2" {
		t.Error("capHistory aliased its input")
	}
}
