package ws

import (
	"time"

	"github.com/HerbHall/litdigest/internal/event"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string      `json:"type"`
	Source    string      `json:"source,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      event.Event `json:"data"`
}

// FromEvent wraps ev for the wire.
func FromEvent(ev event.Event) Message {
	return Message{
		Type:      ev.Kind,
		Source:    ev.Source,
		Timestamp: ev.Time,
		Data:      ev,
	}
}
