// Package qa runs a persistent question-and-answer conversation about one
// document. Each session keeps its history in memory and mirrors every
// completed turn to a Markdown log next to the document.
package qa

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/litdigest/internal/digest"
	"github.com/HerbHall/litdigest/internal/event"
	"github.com/HerbHall/litdigest/internal/extract"
	"github.com/HerbHall/litdigest/internal/metrics"
	"github.com/HerbHall/litdigest/internal/prompts"
	"github.com/HerbHall/litdigest/internal/summarize"
	"github.com/HerbHall/litdigest/internal/tokens"
	"github.com/HerbHall/litdigest/pkg/llm"
	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/samber/mo"
	"go.uber.org/zap"
)

// Temperature used for answers.
const Temperature = 0.7

// Defaults applied when Options leaves a limit at zero.
const (
	DefaultMaxHistory       = 40
	DefaultSummaryThreshold = 10
)

const condensePrompt = `请简要总结以下对话的要点，保留继续对话所需的关键信息和结论。

对话内容：
%s`

var (
	// ErrClosed is returned by Ask after Close.
	ErrClosed = errors.New("qa: session closed")
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("qa: question is empty")
)

// Options tunes a Session.
type Options struct {
	MaxTokens        int // response cap; document context is cut to 2 characters per token
	ContextBudget    int // token limit the request is fitted to; zero disables fitting
	MaxHistory       int // history cap in messages
	SummaryThreshold int // turns before the one-shot condensation; negative disables it
	Model            string
	Stream           bool
	Timeout          time.Duration
}

// Deps are the collaborators a Session talks to. Metrics may be nil.
type Deps struct {
	Provider  llm.Provider
	Extractor extract.Extractor
	Templates summarize.Templates
	Counter   tokens.Counter
	Metrics   *metrics.Metrics
}

// Session is one document's conversation. Ask may be called from several
// goroutines; turns are answered one at a time in submission order.
type Session struct {
	id      string
	path    string
	logPath string
	deps    Deps
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	pool      *workerpool.WorkerPool
	life      sync.RWMutex // held for reading while a turn is queued
	closed    bool
	condensed atomic.Bool

	summary mo.Option[string]

	mu      sync.Mutex
	history []llm.Message
	turns   int
	text    mo.Option[string]
}

// Open loads the document's summary when one exists and replays its turn
// log into history, capped to MaxHistory.
func Open(path string, deps Deps, opts Options, logger *zap.Logger) (*Session, error) {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	if opts.SummaryThreshold == 0 {
		opts.SummaryThreshold = DefaultSummaryThreshold
	}

	s := &Session{
		id:      uuid.NewString(),
		path:    path,
		logPath: LogPath(path),
		deps:    deps,
		opts:    opts,
		now:     time.Now,
		pool:    workerpool.New(1),
	}
	s.logger = logger.With(zap.String("session", s.id), zap.String("path", path))

	if data, err := os.ReadFile(summarize.OutputPath(path)); err == nil {
		s.summary = mo.Some(string(data))
	} else if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to read summary", zap.Error(err))
	}

	f, err := os.Open(s.logPath)
	switch {
	case err == nil:
		defer f.Close()
		history, err := Replay(f, opts.MaxHistory)
		if err != nil {
			s.pool.Stop()
			return nil, err
		}
		s.history = history
		s.logger.Debug("conversation restored", zap.Int("messages", len(history)))
	case !errors.Is(err, fs.ErrNotExist):
		s.pool.Stop()
		return nil, fmt.Errorf("open turn log: %w", err)
	}
	return s, nil
}

// ID identifies the session in events.
func (s *Session) ID() string { return s.id }

// Path is the document the session is about.
func (s *Session) Path() string { return s.path }

// LogPath is the session's turn log.
func (s *Session) LogPath() string { return s.logPath }

// Summary is the document summary found at open time.
func (s *Session) Summary() mo.Option[string] { return s.summary }

// History returns a copy of the conversation history.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

// Turns is the number of turns completed since open.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// Close waits for queued turns and releases the session's worker.
func (s *Session) Close() {
	s.life.Lock()
	defer s.life.Unlock()
	if !s.closed {
		s.closed = true
		s.pool.StopWait()
	}
}

// Ask answers question in the context of the document and the history so
// far. When streaming, partial text is emitted as answer.delta events before
// the answer.final event. A failed turn emits answer.error and leaves both
// history and the log untouched.
func (s *Session) Ask(ctx context.Context, question string, events chan<- event.Event) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	s.life.RLock()
	if s.closed {
		s.life.RUnlock()
		return "", ErrClosed
	}
	var (
		answer string
		err    error
	)
	s.pool.SubmitWait(func() {
		answer, err = s.ask(ctx, question, events)
	})
	s.life.RUnlock()

	if err != nil {
		event.Emit(ctx, events, event.Event{
			Kind:    event.KindAnswerError,
			Source:  s.id,
			Path:    s.path,
			Level:   "error",
			Message: digest.Describe(err),
		})
		return "", err
	}
	return answer, nil
}

func (s *Session) ask(ctx context.Context, question string, events chan<- event.Event) (string, error) {
	text, err := s.documentText(ctx)
	if err != nil {
		return "", err
	}

	messages := s.buildMessages(text, question)
	if s.deps.Counter != nil && s.opts.ContextBudget > 0 {
		var trimmed bool
		messages, trimmed = tokens.Fit(s.deps.Counter, messages, s.opts.ContextBudget)
		if trimmed {
			s.deps.Metrics.HistoryTrimmed()
			s.logger.Debug("history trimmed to fit token budget",
				zap.Int("budget", s.opts.ContextBudget),
				zap.Int("messages", len(messages)))
			if len(messages) < 2 {
				return "", digest.Generation("ask", "question and document context exceed the token budget")
			}
		}
	}

	answer, err := s.complete(ctx, messages, events)
	if err != nil {
		return "", err
	}

	ts := s.now()
	s.mu.Lock()
	s.history = capHistory(append(s.history, llm.User(question), llm.Assistant(answer)), s.opts.MaxHistory)
	s.turns++
	turns := s.turns
	s.mu.Unlock()

	s.appendLog(Turn(question, answer, ts))
	event.Emit(ctx, events, event.Event{Kind: event.KindAnswer, Source: s.id, Path: s.path, Message: answer})

	if s.opts.SummaryThreshold > 0 && turns >= s.opts.SummaryThreshold && s.condensed.CompareAndSwap(false, true) {
		s.condense(ctx, events)
	}
	return answer, nil
}

// documentText extracts the document once per session. A failed attempt is
// retried on the next turn.
func (s *Session) documentText(ctx context.Context) (string, error) {
	s.mu.Lock()
	cached := s.text
	s.mu.Unlock()
	if text, ok := cached.Get(); ok {
		return text, nil
	}

	text, err := s.deps.Extractor.Extract(ctx, s.path)
	if err != nil {
		if !digest.IsKind(err, digest.KindExtraction) {
			err = digest.Extraction(s.path, "extraction failed", err)
		}
		return "", err
	}

	s.mu.Lock()
	s.text = mo.Some(text)
	s.mu.Unlock()
	return text, nil
}

func (s *Session) buildMessages(text, question string) []llm.Message {
	tpl := s.deps.Templates.Get(prompts.QuestionAnswer)

	s.mu.Lock()
	messages := make([]llm.Message, 0, len(s.history)+2)
	messages = append(messages, llm.System(tpl.System))
	messages = append(messages, s.history...)
	s.mu.Unlock()

	return append(messages, llm.User(tpl.Render(map[string]string{
		prompts.VarText:     summarize.Truncate(text, s.opts.MaxTokens*2),
		prompts.VarQuestion: question,
	})))
}

func (s *Session) complete(ctx context.Context, messages []llm.Message, events chan<- event.Event) (string, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	opts := []llm.CallOption{llm.WithTemperature(Temperature)}
	if s.opts.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(s.opts.MaxTokens))
	}
	if s.opts.Model != "" {
		opts = append(opts, llm.WithModel(s.opts.Model))
	}
	if s.opts.Stream {
		opts = append(opts, llm.WithStreamFunc(func(ctx context.Context, chunk []byte) error {
			event.Emit(ctx, events, event.Event{
				Kind:    event.KindAnswerDelta,
				Source:  s.id,
				Path:    s.path,
				Message: string(chunk),
			})
			return nil
		}))
	}

	resp, err := s.deps.Provider.Chat(ctx, messages, opts...)
	if err != nil {
		return "", digest.API("ask", err)
	}
	if !resp.Done {
		return "", digest.Generation("ask", "model answer was cut off")
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", digest.Generation("ask", "model returned an empty answer")
	}
	return resp.Content, nil
}

// condense asks the model for a digest of the conversation so far and
// records it in the log under LabelSummary. Failures are logged only.
func (s *Session) condense(ctx context.Context, events chan<- event.Event) {
	history := s.History()

	var sb strings.Builder
	for _, m := range history {
		label := LabelUser
		if m.Role == llm.RoleAssistant {
			label = LabelAssistant
		}
		fmt.Fprintf(&sb, "%s: %s\n\n", label, m.Content)
	}

	messages := []llm.Message{
		llm.System(s.deps.Templates.Get(prompts.QuestionAnswer).System),
		llm.User(fmt.Sprintf(condensePrompt, strings.TrimSpace(sb.String()))),
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	opts := []llm.CallOption{llm.WithTemperature(summarize.Temperature)}
	if s.opts.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(s.opts.MaxTokens))
	}
	if s.opts.Model != "" {
		opts = append(opts, llm.WithModel(s.opts.Model))
	}

	resp, err := s.deps.Provider.Chat(ctx, messages, opts...)
	if err != nil {
		s.logger.Warn("conversation summary failed", zap.Error(err))
		return
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		s.logger.Warn("conversation summary was empty")
		return
	}

	s.appendLog(Block(LabelSummary, s.now(), text))
	event.Emit(ctx, events, event.Event{
		Kind:    event.KindConversationSummary,
		Source:  s.id,
		Path:    s.path,
		Message: text,
	})
	s.logger.Info("conversation summary recorded", zap.Int("messages", len(history)))
}

// appendLog appends entry to the turn log. Write failures are logged and do
// not undo the in-memory turn.
func (s *Session) appendLog(entry string) {
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Warn("failed to open turn log", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		s.logger.Warn("failed to append turn log", zap.Error(err))
	}
}
