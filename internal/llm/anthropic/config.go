package anthropic

import "time"

// Config holds the Anthropic provider configuration. An empty BaseURL uses
// the SDK default endpoint.
type Config struct {
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// DefaultConfig returns sensible defaults for Anthropic.
func DefaultConfig() Config {
	return Config{
		Model:      "claude-sonnet-4-5-20250929",
		Timeout:    2 * time.Minute,
		MaxRetries: 2,
	}
}
