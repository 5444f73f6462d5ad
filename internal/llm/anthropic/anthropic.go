package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/HerbHall/litdigest/pkg/llm"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ llm.Provider       = (*Provider)(nil)
	_ llm.HealthReporter = (*Provider)(nil)
)

// Provider implements llm.Provider for Anthropic using its Messages API.
type Provider struct {
	client anthropic.Client
	cfg    Config
	logger *zap.Logger
}

// New creates an Anthropic provider.
func New(cfg Config, apiKey string, logger *zap.Logger) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Generate creates a completion from a single prompt.
func (p *Provider) Generate(ctx context.Context, prompt string, opts ...llm.CallOption) (*llm.Response, error) {
	return p.Chat(ctx, []llm.Message{llm.User(prompt)}, opts...)
}

// Chat creates a completion from a conversation history. System messages
// are lifted into the request's system blocks. Assistant messages ahead of
// the first user message are dropped since the Messages API requires the
// conversation to open with a user turn.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	if len(messages) == 0 {
		return nil, llm.NewProviderError(llm.ErrCodeInvalidRequest, "messages must not be empty", nil)
	}

	cfg := llm.ApplyOptions(opts...)

	model := cfg.Model
	if model == "" {
		model = p.cfg.Model
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(cfg.MaxTokens),
		Temperature: anthropic.Float(cfg.Temperature),
	}
	var seenUser bool
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case llm.RoleAssistant:
			if !seenUser {
				p.logger.Debug("dropping leading assistant message")
				continue
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			seenUser = true
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(params.Messages) == 0 {
		return nil, llm.NewProviderError(llm.ErrCodeInvalidRequest, "at least one non-system message is required", nil)
	}

	if cfg.Streaming() {
		return p.stream(ctx, params, model, cfg.StreamFunc)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	respModel := string(msg.Model)
	if respModel == "" {
		respModel = model
	}

	return &llm.Response{
		Content: content.String(),
		Model:   respModel,
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		Done: true,
	}, nil
}

func (p *Provider) stream(ctx context.Context, params anthropic.MessageNewParams, model string, fn func(context.Context, []byte) error) (*llm.Response, error) {
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var content strings.Builder
	var usage llm.Usage
	var done bool
	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			if ev.Message.Model != "" {
				model = string(ev.Message.Model)
			}
			usage.PromptTokens = int(ev.Message.Usage.InputTokens)
		case anthropic.ContentBlockDeltaEvent:
			delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			content.WriteString(delta.Text)
			if err := fn(ctx, []byte(delta.Text)); err != nil {
				return nil, err
			}
		case anthropic.MessageDeltaEvent:
			usage.CompletionTokens = int(ev.Usage.OutputTokens)
		case anthropic.MessageStopEvent:
			done = true
		}
	}
	if err := stream.Err(); err != nil {
		return nil, mapError(err)
	}
	if !done {
		return nil, llm.NewProviderError(llm.ErrCodeServerError, "stream ended before message_stop", nil)
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return &llm.Response{
		Content: content.String(),
		Model:   model,
		Usage:   usage,
		Done:    true,
	}, nil
}

// Heartbeat checks whether the Anthropic API is reachable by listing models.
func (p *Provider) Heartbeat(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}

// ListModels returns the model IDs visible to the configured key.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, mapError(err)
	}

	names := make([]string, 0, len(page.Data))
	for i := range page.Data {
		names = append(names, page.Data[i].ID)
	}
	return names, nil
}
