package llmtest

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/litdigest/pkg/llm"
)

// Compile-time interface guards.
var (
	_ llm.Provider       = (*Fake)(nil)
	_ llm.HealthReporter = (*Fake)(nil)
)

// Call records one Chat invocation observed by a Fake.
type Call struct {
	Messages []llm.Message
	Config   llm.CallConfig
}

// ReplyFunc produces the reply for one call. Returning an error fails the call.
type ReplyFunc func(ctx context.Context, messages []llm.Message) (string, error)

// Fake is a scripted in-memory llm.Provider for tests. It is safe for
// concurrent use. When the caller streams, the reply is delivered as
// whitespace-preserving word fragments before the full Response returns.
type Fake struct {
	// Reply builds the answer. Nil means echo the last message's content.
	Reply ReplyFunc
	// Latency is waited (honouring ctx) before replying.
	Latency time.Duration
	// HeartbeatErr is returned from Heartbeat and ListModels when set.
	HeartbeatErr error
	// Models is returned from ListModels.
	Models []string
	// Truncated ends every reply after its first fragment with Done false,
	// as a stream cut off mid-answer would.
	Truncated bool

	mu    sync.Mutex
	calls []Call
}

// Static returns a Fake that always answers with reply.
func Static(reply string) *Fake {
	return &Fake{Reply: func(context.Context, []llm.Message) (string, error) { return reply, nil }}
}

// Failing returns a Fake whose every call fails with err.
func Failing(err error) *Fake {
	return &Fake{Reply: func(context.Context, []llm.Message) (string, error) { return "", err }}
}

// Generate wraps prompt in a single user message and calls Chat.
func (f *Fake) Generate(ctx context.Context, prompt string, opts ...llm.CallOption) (*llm.Response, error) {
	return f.Chat(ctx, []llm.Message{llm.User(prompt)}, opts...)
}

// Chat records the call and returns the scripted reply.
func (f *Fake) Chat(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	if len(messages) == 0 {
		return nil, llm.NewProviderError(llm.ErrCodeInvalidRequest, "messages must not be empty", nil)
	}
	cfg := llm.ApplyOptions(opts...)

	f.mu.Lock()
	f.calls = append(f.calls, Call{Messages: append([]llm.Message(nil), messages...), Config: cfg})
	f.mu.Unlock()

	if f.Latency > 0 {
		t := time.NewTimer(f.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, llm.NewProviderError(llm.ErrCodeTimeout, "request timed out or cancelled", ctx.Err())
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, llm.NewProviderError(llm.ErrCodeTimeout, "request timed out or cancelled", err)
	}

	reply := messages[len(messages)-1].Content
	if f.Reply != nil {
		var err error
		if reply, err = f.Reply(ctx, messages); err != nil {
			return nil, err
		}
	}

	chunks := Fragments(reply)
	if f.Truncated && len(chunks) > 1 {
		chunks = chunks[:1]
		reply = chunks[0]
	}
	if cfg.StreamFunc != nil {
		for _, chunk := range chunks {
			if err := cfg.StreamFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}

	return &llm.Response{Content: reply, Model: "fake", Done: !f.Truncated}, nil
}

// Heartbeat returns HeartbeatErr.
func (f *Fake) Heartbeat(context.Context) error { return f.HeartbeatErr }

// ListModels returns Models, or HeartbeatErr when set.
func (f *Fake) ListModels(context.Context) ([]string, error) {
	if f.HeartbeatErr != nil {
		return nil, f.HeartbeatErr
	}
	return f.Models, nil
}

// Calls returns a snapshot of every recorded call in arrival order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns the number of Chat calls observed.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Fragments splits s into stream chunks at word boundaries, keeping the
// separating whitespace attached so that joining the chunks yields s.
func Fragments(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] == ' ' && s[i-1] != ' ' {
			out = append(out, s[start:i])
			start = i
		}
	}
	return append(out, s[start:])
}
