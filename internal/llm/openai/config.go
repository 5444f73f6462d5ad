package openai

import "time"

// Config holds the OpenAI-compatible provider configuration. BaseURL
// includes the API version segment (".../v1") so self-hosted gateways
// with different prefixes work unchanged.
type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns defaults for a local OpenAI-compatible gateway.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000/v1",
		Model:   "gpt-3.5-turbo",
		Timeout: 2 * time.Minute,
	}
}
