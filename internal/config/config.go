// Package config loads and persists the litdigest configuration file and
// builds the process logger from it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/litdigest/internal/digest"
	"github.com/spf13/viper"
)

// DefaultPath is where the configuration lives when no --config is given.
const DefaultPath = "config.json"

// EnvPrefix prefixes environment overrides, e.g. LITDIGEST_API_KEY.
const EnvPrefix = "LITDIGEST"

// Config is the typed application configuration.
type Config struct {
	BaseURL               string        `mapstructure:"base_url"`
	APIKey                string        `mapstructure:"api_key"`
	Model                 string        `mapstructure:"model"`
	Provider              string        `mapstructure:"provider"`
	Concurrency           int           `mapstructure:"concurrency"`
	MaxTokens             int           `mapstructure:"max_tokens"`
	ContextWindow         int           `mapstructure:"context_window"`
	GenerateOverallReport bool          `mapstructure:"generate_overall_report"`
	CacheText             bool          `mapstructure:"cache_text"`
	CacheDir              string        `mapstructure:"cache_dir"`
	FolderPath            string        `mapstructure:"folder_path"`
	APIRequestDelay       float64       `mapstructure:"api_request_delay"`
	StreamOutput          bool          `mapstructure:"stream_output"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	RequestsPerMinute     int           `mapstructure:"requests_per_minute"`
	ReportPath            string        `mapstructure:"report_path"`
	ReportHTML            bool          `mapstructure:"report_html"`
	MaxHistoryLength      int           `mapstructure:"max_history_length"`
	SummaryThreshold      int           `mapstructure:"summary_threshold"`
	LedgerPath            string        `mapstructure:"ledger_path"`
	MetricsFile           string        `mapstructure:"metrics_file"`
	PromptsPath           string        `mapstructure:"prompts_path"`
	Serve                 ServeConfig   `mapstructure:"serve"`
	Logging               LoggingConfig `mapstructure:"logging"`
}

// ServeConfig holds the HTTP surface settings.
type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds the logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RequestDelay returns the courtesy delay before each LLM call.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.APIRequestDelay * float64(time.Second))
}

// ContextBudget returns the token limit conversation history is fitted to:
// context_window when set, otherwise max_tokens.
func (c Config) ContextBudget() int {
	if c.ContextWindow > 0 {
		return c.ContextWindow
	}
	return c.MaxTokens
}

// defaults lists every key with its default value. Nested keys use dots.
var defaults = map[string]any{
	"base_url":                "http://localhost:8000/v1",
	"api_key":                 "",
	"model":                   "gpt-3.5-turbo",
	"provider":                "openai",
	"concurrency":             5,
	"max_tokens":              2048,
	"context_window":          0,
	"generate_overall_report": true,
	"cache_text":              true,
	"cache_dir":               filepath.Join("cache", "texts"),
	"folder_path":             "",
	"api_request_delay":       0.0,
	"stream_output":           true,
	"request_timeout":         "120s",
	"requests_per_minute":     0,
	"report_path":             "overall_report.md",
	"report_html":             false,
	"max_history_length":      40,
	"summary_threshold":       10,
	"ledger_path":             "litdigest.db",
	"metrics_file":            "",
	"prompts_path":            "prompts.json",
	"serve.addr":              "127.0.0.1:8089",
	"logging.level":           "info",
	"logging.format":          "console",
}

// Keys returns every configuration key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Defaults returns the typed default configuration.
func Defaults() Config {
	v := viper.New()
	applyDefaults(v)
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		// defaults is static; a decode failure is a programming error.
		panic(fmt.Sprintf("config: decode defaults: %v", err))
	}
	return c
}

func applyDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Store is the persisted configuration. Values resolve in the order
// environment, file, default.
type Store struct {
	v    *viper.Viper
	path string

	// LoadErr is a digest config error when the file existed but could not
	// be used. Defaults are in effect when it is set.
	LoadErr error
}

// Open loads the configuration at path. A missing file is created with the
// defaults. A malformed file is never fatal: LoadErr is set and defaults
// apply.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	applyDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")

	// Environment variable support: LITDIGEST_MAX_TOKENS=4096, LITDIGEST_SERVE_ADDR=:9000
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	s := &Store{v: v, path: path}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := writeJSON(path, nest(defaults)); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		s.LoadErr = digest.Config(path, err)
		fresh := viper.New()
		applyDefaults(fresh)
		fresh.SetEnvPrefix(EnvPrefix)
		fresh.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		fresh.AutomaticEnv()
		s.v = fresh
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Viper returns the underlying Viper instance.
func (s *Store) Viper() *viper.Viper { return s.v }

// Config decodes the effective configuration. When a value cannot be
// decoded, defaults are returned alongside a digest config error.
func (s *Store) Config() (Config, error) {
	var c Config
	if err := s.v.Unmarshal(&c); err != nil {
		return Defaults(), digest.Config(s.path, err)
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.MaxTokens < 1 {
		c.MaxTokens = defaults["max_tokens"].(int)
	}
	if c.MaxHistoryLength < 2 {
		c.MaxHistoryLength = 2
	}
	return c, nil
}

// Set parses value according to the key's default type, stores it in the
// file and updates the in-memory view. Environment overrides are never
// written to disk. A malformed file is left untouched and reported as a
// digest config error so its other keys are not lost.
func (s *Store) Set(key, value string) error {
	def, ok := defaults[key]
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	typed, err := parseAs(def, key, value)
	if err != nil {
		return err
	}

	file, err := readJSON(s.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	setNested(file, key, typed)
	if err := writeJSON(s.path, file); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	s.v.Set(key, typed)
	return nil
}

func parseAs(def any, key, value string) (any, error) {
	switch def.(type) {
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s: expected true or false: %w", key, err)
		}
		return b, nil
	case int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s: expected an integer: %w", key, err)
		}
		return n, nil
	case float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: expected a number: %w", key, err)
		}
		return f, nil
	}
	if key == "request_timeout" {
		if _, err := time.ParseDuration(value); err != nil {
			return nil, fmt.Errorf("%s: expected a duration such as 90s: %w", key, err)
		}
	}
	return value, nil
}

// nest expands dotted keys into nested maps.
func nest(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		setNested(out, k, v)
	}
	return out
}

func setNested(m map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		child, ok := m[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[p] = child
		}
		m = child
	}
	m[parts[len(parts)-1]] = value
}

func readJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, err
	}
	m := make(map[string]any)
	if len(strings.TrimSpace(string(data))) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, digest.Config(path, fmt.Errorf("fix or remove the file before editing: %w", err))
	}
	return m, nil
}

func writeJSON(path string, m map[string]any) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
