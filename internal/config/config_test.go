package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/litdigest/internal/digest"
)

func TestOpen_MissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s.LoadErr != nil {
		t.Fatalf("LoadErr = %v", s.LoadErr)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	c, err := s.Config()
	if err != nil {
		t.Fatal(err)
	}
	if c.BaseURL != "http://localhost:8000/v1" || c.Model != "gpt-3.5-turbo" {
		t.Errorf("unexpected endpoint defaults: %+v", c)
	}
	if c.Concurrency != 5 || c.MaxTokens != 2048 {
		t.Errorf("Concurrency = %d, MaxTokens = %d", c.Concurrency, c.MaxTokens)
	}
	if !c.GenerateOverallReport || !c.CacheText || !c.StreamOutput {
		t.Error("boolean defaults should be true")
	}
	if c.RequestTimeout != 120*time.Second {
		t.Errorf("RequestTimeout = %v, want 2m", c.RequestTimeout)
	}
	if c.MaxHistoryLength != 40 || c.SummaryThreshold != 10 {
		t.Errorf("history defaults = %d/%d", c.MaxHistoryLength, c.SummaryThreshold)
	}
	if c.Serve.Addr != "127.0.0.1:8089" {
		t.Errorf("Serve.Addr = %q", c.Serve.Addr)
	}
}

func TestOpen_BackfillsMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"model":"qwen","concurrency":2}`), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	c, err := s.Config()
	if err != nil {
		t.Fatal(err)
	}
	if c.Model != "qwen" || c.Concurrency != 2 {
		t.Errorf("file values lost: %+v", c)
	}
	if c.MaxTokens != 2048 || c.BaseURL == "" {
		t.Error("missing keys not backfilled")
	}
}

func TestOpen_MalformedFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"model": `), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() must not fail on malformed config: %v", err)
	}
	if !digest.IsKind(s.LoadErr, digest.KindConfig) {
		t.Errorf("LoadErr = %v, want config error", s.LoadErr)
	}
	c, err := s.Config()
	if err != nil {
		t.Fatal(err)
	}
	if c.Model != "gpt-3.5-turbo" {
		t.Errorf("Model = %q, want default", c.Model)
	}
}

func TestOpen_EnvOverride(t *testing.T) {
	t.Setenv("LITDIGEST_MAX_TOKENS", "4096")
	t.Setenv("LITDIGEST_SERVE_ADDR", ":9999")

	s, err := Open(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	c, err := s.Config()
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096", c.MaxTokens)
	}
	if c.Serve.Addr != ":9999" {
		t.Errorf("Serve.Addr = %q, want :9999", c.Serve.Addr)
	}
}

func TestSet_PersistsTypedValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Set("concurrency", "8"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set("logging.level", "debug"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("concurrency", "many"); err == nil {
		t.Error("Set() accepted a non-integer concurrency")
	}
	if err := s.Set("request_timeout", "soon"); err == nil {
		t.Error("Set() accepted a bad duration")
	}
	if err := s.Set("nope", "1"); err == nil {
		t.Error("Set() accepted an unknown key")
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := reopened.Config()
	if c.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", c.Concurrency)
	}
	if c.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", c.Logging.Level)
	}
}

func TestSet_DoesNotPersistEnv(t *testing.T) {
	t.Setenv("LITDIGEST_API_KEY", "sk-secret")
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("model", "gpt-4o"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Error("environment API key leaked into config file")
	}
}

func TestSet_RefusesMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	broken := `{"api_key": "sk-keep", "model": `
	if err := os.WriteFile(path, []byte(broken), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	err = s.Set("model", "gpt-4o")
	if !digest.IsKind(err, digest.KindConfig) {
		t.Fatalf("Set() error = %v, want config error", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != broken {
		t.Errorf("malformed file was rewritten: %q", data)
	}
}

func TestConfig_Derived(t *testing.T) {
	c := Defaults()
	c.APIRequestDelay = 1.5
	if c.RequestDelay() != 1500*time.Millisecond {
		t.Errorf("RequestDelay() = %v", c.RequestDelay())
	}
	if c.ContextBudget() != c.MaxTokens {
		t.Error("ContextBudget() should default to MaxTokens")
	}
	c.ContextWindow = 16000
	if c.ContextBudget() != 16000 {
		t.Error("ContextBudget() should prefer ContextWindow")
	}
}
