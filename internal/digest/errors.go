// Package digest defines the closed set of failure kinds litdigest reports.
package digest

import (
	"errors"
	"fmt"

	"github.com/HerbHall/litdigest/pkg/llm"
)

// Kind classifies a failure.
type Kind string

const (
	// KindExtraction covers unreadable files and empty or too-short text.
	KindExtraction Kind = "extraction"
	// KindGeneration covers blank model output and aggregation with no input.
	KindGeneration Kind = "generation"
	// KindAPI covers every failure of the LLM call itself.
	KindAPI Kind = "api"
	// KindConfig covers malformed persisted configuration.
	KindConfig Kind = "config"
)

// Error is a classified failure. Detail is the human-readable reason; Err
// keeps the original cause for errors.Is/As.
type Error struct {
	Kind   Kind
	Op     string
	Path   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Extraction returns a KindExtraction error.
func Extraction(path, detail string, err error) *Error {
	return &Error{Kind: KindExtraction, Op: "extract", Path: path, Detail: detail, Err: err}
}

// Generation returns a KindGeneration error.
func Generation(op, detail string) *Error {
	return &Error{Kind: KindGeneration, Op: op, Detail: detail}
}

// API wraps a provider failure as a KindAPI error.
func API(op string, err error) *Error {
	return &Error{Kind: KindAPI, Op: op, Err: err}
}

// Config returns a KindConfig error.
func Config(path string, err error) *Error {
	return &Error{Kind: KindConfig, Op: "load config", Path: path, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// APICode returns the provider error code under an API error, such as
// llm.ErrCodeConnection or llm.ErrCodeAuthentication, or "".
func APICode(err error) string {
	if !IsKind(err, KindAPI) {
		return ""
	}
	return llm.CodeOf(err)
}

// Describe renders err for operators, naming the API failure class when
// one is known.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	switch APICode(err) {
	case llm.ErrCodeConnection:
		return fmt.Sprintf("cannot reach the LLM endpoint: %v", err)
	case llm.ErrCodeAuthentication:
		return fmt.Sprintf("the LLM endpoint rejected the API key: %v", err)
	case llm.ErrCodeRateLimit:
		return fmt.Sprintf("rate limited by the LLM endpoint: %v", err)
	case llm.ErrCodeTimeout:
		return fmt.Sprintf("LLM request timed out: %v", err)
	}
	return err.Error()
}
