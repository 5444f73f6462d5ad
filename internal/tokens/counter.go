// Package tokens measures chat message lists in model tokens and trims
// conversation history to fit a token budget.
package tokens

import (
	"sync"

	"github.com/HerbHall/litdigest/pkg/llm"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Per-message and per-request overheads charged by chat completion APIs on
// top of the encoded field values.
const (
	MessageOverhead = 4
	RequestOverhead = 2
)

// DefaultEncoding is used when the model's own tokenizer is unknown.
const DefaultEncoding = "cl100k_base"

// Counter measures the token cost of a message list. Implementations must
// be pure and safe for concurrent use.
type Counter interface {
	Count(messages []llm.Message) int
}

var loaderOnce sync.Once

// TiktokenCounter counts with the BPE tokenizer for a model, using the
// embedded offline vocabularies.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter returns a counter for model, falling back to DefaultEncoding
// when the model is not recognised.
func NewCounter(model string) (*TiktokenCounter, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			return nil, err
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements Counter: MessageOverhead per message plus the encoded
// length of its role and content, plus RequestOverhead.
func (c *TiktokenCounter) Count(messages []llm.Message) int {
	n := RequestOverhead
	for _, m := range messages {
		n += MessageOverhead
		n += len(c.enc.Encode(m.Role, nil, nil))
		n += len(c.enc.Encode(m.Content, nil, nil))
	}
	return n
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(messages []llm.Message) int

// Count implements Counter.
func (f CounterFunc) Count(messages []llm.Message) int { return f(messages) }
