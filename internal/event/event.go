// Package event carries typed progress notifications from the batch and
// Q&A core to whatever surface displays them. Producers send on a channel;
// the consumer side owns all display state.
package event

import (
	"context"
	"time"
)

// Event kinds.
const (
	KindLog                 = "log"
	KindRunStarted          = "run.started"
	KindProgress            = "run.progress"
	KindJobResult           = "job.result"
	KindRunFinished         = "run.finished"
	KindReport              = "report.written"
	KindAnswerDelta         = "answer.delta"
	KindAnswer              = "answer.final"
	KindAnswerError         = "answer.error"
	KindConversationSummary = "conversation.summary"
	KindError               = "error"
)

// Event is one notification. Source identifies the run or session that
// produced it.
type Event struct {
	Kind    string    `json:"kind"`
	Source  string    `json:"source,omitempty"`
	Time    time.Time `json:"time"`
	Level   string    `json:"level,omitempty"`
	Message string    `json:"message,omitempty"`
	Path    string    `json:"path,omitempty"`
	Done    int       `json:"done,omitempty"`
	Total   int       `json:"total,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// Handler receives published events.
type Handler func(ctx context.Context, ev Event)

// Emit sends ev on ch, stamping Time when unset. A nil channel discards the
// event. Emit gives up when ctx is done.
func Emit(ctx context.Context, ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

// Log emits a log-kind event.
func Log(ctx context.Context, ch chan<- Event, source, level, msg string) {
	Emit(ctx, ch, Event{Kind: KindLog, Source: source, Level: level, Message: msg})
}
