// Package prompts stores the system/user template pairs sent to the model.
// User edits are persisted as JSON (comments and trailing commas are
// accepted on load) and merged field by field over the built-in defaults.
package prompts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
)

// Template is a system prompt plus a user prompt with {name} placeholders.
type Template struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Render substitutes vars into the user prompt.
func (t Template) Render(vars map[string]string) string {
	return Render(t.User, vars)
}

// Render replaces each {key} in s with vars[key]. Unknown placeholders are
// left as written.
func Render(s string, vars map[string]string) string {
	if len(vars) == 0 {
		return s
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// Store holds the effective templates. It is safe for concurrent use.
type Store struct {
	path   string
	logger *zap.Logger

	mu        sync.RWMutex
	templates map[string]Template
}

// Load reads the prompt file at path and merges it over the defaults. A
// missing file is created with the defaults. A malformed file is logged and
// ignored so startup always succeeds.
func Load(path string, logger *zap.Logger) *Store {
	s := &Store{path: path, logger: logger, templates: cloneDefaults()}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := s.Save(); err != nil {
			logger.Warn("failed to write default prompts", zap.String("path", path), zap.Error(err))
		}
		return s
	case err != nil:
		logger.Warn("failed to read prompts; using defaults", zap.String("path", path), zap.Error(err))
		return s
	}

	if err := s.merge(data); err != nil {
		logger.Warn("malformed prompts file; using defaults", zap.String("path", path), zap.Error(err))
		s.templates = cloneDefaults()
	}
	return s
}

// merge overlays every field present in the user document.
func (s *Store) merge(data []byte) error {
	var user map[string]map[string]string
	if err := json.Unmarshal(jsonc.ToJSON(data), &user); err != nil {
		return fmt.Errorf("parse prompts: %w", err)
	}
	for name, fields := range user {
		t := s.templates[name]
		if v, ok := fields["system"]; ok {
			t.System = v
		}
		if v, ok := fields["user"]; ok {
			t.User = v
		}
		s.templates[name] = t
	}
	return nil
}

// Get returns the effective template for name, falling back to the built-in
// default. Unknown names yield the zero Template.
func (s *Store) Get(name string) Template {
	s.mu.RLock()
	t, ok := s.templates[name]
	s.mu.RUnlock()
	if ok {
		return t
	}
	t, _ = Default(name)
	return t
}

// All returns a copy of every effective template.
func (s *Store) All() map[string]Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Template, len(s.templates))
	for k, v := range s.templates {
		out[k] = v
	}
	return out
}

// Update replaces the non-nil fields of one template and persists the store.
func (s *Store) Update(name string, system, user *string) error {
	s.mu.Lock()
	t := s.templates[name]
	if system != nil {
		t.System = *system
	}
	if user != nil {
		t.User = *user
	}
	s.templates[name] = t
	s.mu.Unlock()
	return s.Save()
}

// Reset restores one built-in template to its default and persists.
func (s *Store) Reset(name string) error {
	def, ok := Default(name)
	if !ok {
		return fmt.Errorf("unknown prompt %q", name)
	}
	s.mu.Lock()
	s.templates[name] = def
	s.mu.Unlock()
	return s.Save()
}

// ResetAll discards every edit and persists the defaults.
func (s *Store) ResetAll() error {
	s.mu.Lock()
	s.templates = cloneDefaults()
	s.mu.Unlock()
	return s.Save()
}

// Save writes the effective templates to the store's path.
func (s *Store) Save() error {
	s.mu.RLock()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	err := enc.Encode(s.templates)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode prompts: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create prompts dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write prompts: %w", err)
	}
	return nil
}

func cloneDefaults() map[string]Template {
	out := make(map[string]Template, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	return out
}
