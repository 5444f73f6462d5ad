// Package llmtest provides shared contract tests that verify any
// llm.Provider implementation behaves the way litdigest relies on, plus a
// scripted Fake provider for package-level tests.
//
// The contract suite works against live services as well as httptest
// mocks; adapters run it from their own _test.go files against a mock.
package llmtest

import (
	"context"
	"strings"
	"testing"

	"github.com/HerbHall/litdigest/pkg/llm"
)

// TestProviderContract runs a suite of behavioral contract tests against
// any llm.Provider implementation:
//
//	func TestContract(t *testing.T) {
//	    llmtest.TestProviderContract(t, func() llm.Provider { return newTestProvider(t, srv.URL) })
//	}
func TestProviderContract(t *testing.T, factory func() llm.Provider) {
	t.Helper()

	t.Run("Generate_returns_non_empty_response", func(t *testing.T) {
		p := factory()
		resp, err := p.Generate(context.Background(), "Say hello in exactly three words")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if resp == nil {
			t.Fatal("Generate() returned nil response")
		}
		if resp.Content == "" {
			t.Error("Generate() returned empty content")
		}
		if resp.Model == "" {
			t.Error("Response.Model must not be empty")
		}
	})

	t.Run("Chat_with_system_message", func(t *testing.T) {
		p := factory()
		messages := []llm.Message{
			llm.System("You are a helpful assistant. Be concise."),
			llm.User("What is 2+2? Reply with just the number."),
		}
		resp, err := p.Chat(context.Background(), messages)
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if resp == nil || resp.Content == "" {
			t.Fatal("Chat() returned empty response")
		}
	})

	t.Run("Chat_stream_fragments_join_to_content", func(t *testing.T) {
		p := factory()
		var streamed strings.Builder
		resp, err := p.Chat(context.Background(),
			[]llm.Message{llm.User("Count to three.")},
			llm.WithStreamFunc(func(_ context.Context, chunk []byte) error {
				streamed.Write(chunk)
				return nil
			}),
		)
		if err != nil {
			t.Fatalf("Chat(stream) error = %v", err)
		}
		if streamed.Len() == 0 {
			t.Fatal("stream func was never called")
		}
		if streamed.String() != resp.Content {
			t.Errorf("streamed %q, response content %q", streamed.String(), resp.Content)
		}
	})

	t.Run("Generate_cancelled_context", func(t *testing.T) {
		p := factory()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Generate(ctx, "Write a very long essay about everything")
		if err == nil {
			t.Error("Generate() with cancelled context should return error")
		}
	})

	t.Run("Chat_empty_messages_returns_error", func(t *testing.T) {
		p := factory()
		_, err := p.Chat(context.Background(), nil)
		if err == nil {
			t.Error("Chat() with nil messages should return error")
		}
	})

	t.Run("HealthReporter_if_implemented", func(t *testing.T) {
		p := factory()
		hr, ok := p.(llm.HealthReporter)
		if !ok {
			t.Skip("Provider does not implement HealthReporter")
		}
		if err := hr.Heartbeat(context.Background()); err != nil {
			t.Errorf("Heartbeat() error = %v", err)
		}
		models, err := hr.ListModels(context.Background())
		if err != nil {
			t.Fatalf("ListModels() error = %v", err)
		}
		if len(models) == 0 {
			t.Error("ListModels() returned empty list")
		}
	})
}
