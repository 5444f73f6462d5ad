package qa

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/HerbHall/litdigest/pkg/llm"
)

// LogSuffix replaces the document extension to form the turn log path.
const LogSuffix = ".qa.md"

// TimeLayout formats block timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// Role markers written into the turn log.
const (
	LabelUser      = "用户"
	LabelAssistant = "助手"
	LabelSummary   = "对话摘要"
)

var headerRe = regexp.MustCompile(`^\*\*(` + LabelUser + `|` + LabelAssistant + `|` + LabelSummary + `)\*\* \(([^()]*)\):\s*$`)

// LogPath is where the turn log of the document at path lives.
func LogPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + LogSuffix
}

// Block renders one log entry.
func Block(label string, ts time.Time, content string) string {
	return fmt.Sprintf("**%s** (%s):\n%s\n\n", label, ts.Format(TimeLayout), content)
}

// Turn renders a question and its answer as two consecutive blocks sharing
// the same timestamp.
func Turn(question, answer string, ts time.Time) string {
	return Block(LabelUser, ts, question) + Block(LabelAssistant, ts, answer)
}

// Entry is one parsed log block.
type Entry struct {
	Label   string
	Time    string
	Content string
}

// Message converts e to a history message. ok is false for labels that do
// not map to a conversation role.
func (e Entry) Message() (llm.Message, bool) {
	switch e.Label {
	case LabelUser:
		return llm.User(e.Content), true
	case LabelAssistant:
		return llm.Assistant(e.Content), true
	default:
		return llm.Message{}, false
	}
}

// ParseLog splits a turn log into entries in file order. A header is a known
// role label followed by a parenthesised TimeLayout timestamp; any other
// line, including bold text of the same shape inside an answer, belongs to
// the current entry. Text before the first header is ignored, as are
// entries whose content is blank.
func ParseLog(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		cur     *Entry
		body    []string
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Content = strings.TrimSpace(strings.Join(body, "\n"))
		if cur.Content != "" {
			entries = append(entries, *cur)
		}
		cur, body = nil, nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if m := headerRe.FindStringSubmatch(line); m != nil && validTime(m[2]) {
			flush()
			cur = &Entry{Label: m[1], Time: m[2]}
			continue
		}
		if cur != nil {
			body = append(body, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read turn log: %w", err)
	}
	flush()
	return entries, nil
}

func validTime(s string) bool {
	_, err := time.Parse(TimeLayout, s)
	return err == nil
}

// Replay rebuilds conversation history from a turn log, keeping at most the
// newest limit messages. Condensation entries are skipped.
// limit <= 0 keeps everything.
func Replay(r io.Reader, limit int) ([]llm.Message, error) {
	entries, err := ParseLog(r)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		if m, ok := e.Message(); ok {
			history = append(history, m)
		}
	}
	return capHistory(history, limit), nil
}

// capHistory evicts the oldest messages beyond limit. The result never
// aliases a shortened input.
func capHistory(history []llm.Message, limit int) []llm.Message {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return append([]llm.Message(nil), history[len(history)-limit:]...)
}
