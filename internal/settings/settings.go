// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/jeranaias/flowchat/internal/storage"
	"github.com/jeranaias/flowchat/internal/util"
)

const (
	// DefaultBaseURL is the hosted workflow API endpoint.
	DefaultBaseURL = "https://api.dify.ai/v1"

	// StorageKey is the session storage key for the serialized settings.
	StorageKey = "flowchat_api_settings"
)

// Settings is the endpoint and credential pair.
type Settings struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
}

// Default returns the settings used when nothing usable is stored.
func Default() Settings {
	return Settings{BaseURL: DefaultBaseURL}
}

// IsConfigured reports whether both fields are non-empty after trimming.
func (s Settings) IsConfigured() bool {
	return strings.TrimSpace(s.BaseURL) != "" && strings.TrimSpace(s.APIKey) != ""
}

// Decode parses serialized settings, tolerating missing, malformed and
// partially populated data. The endpoint is trimmed and an empty endpoint
// becomes DefaultBaseURL. Fields of the wrong type are ignored.
func Decode(raw string) Settings {
	if !gjson.Valid(raw) {
		return Default()
	}

	s := Default()
	doc := gjson.Parse(raw)
	if base := doc.Get("baseUrl"); base.Type == gjson.String {
		if trimmed := strings.TrimSpace(base.Str); trimmed != "" {
			s.BaseURL = trimmed
		}
	}
	if key := doc.Get("apiKey"); key.Type == gjson.String {
		s.APIKey = key.Str
	}
	return s
}

// Encode serializes settings for storage.
func Encode(s Settings) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// =============================================================================
// STORE
// =============================================================================

// Store owns the current settings and keeps the persisted copy in sync.
type Store struct {
	persist storage.Store
	logger  *slog.Logger

	mu        sync.RWMutex
	current   Settings
	observers map[int]func(Settings)
	nextObs   int
}

// NewStore reads the persisted settings once and writes the effective value
// back, so a defaulted endpoint is visible to other processes immediately.
// A nil persist uses an in-memory store; a nil logger uses slog.Default().
func NewStore(persist storage.Store, logger *slog.Logger) *Store {
	if persist == nil {
		persist = storage.NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		persist:   persist,
		logger:    logger,
		observers: make(map[int]func(Settings)),
	}
	s.current = s.load()
	if err := s.write(s.current); err != nil {
		s.logger.Warn("settings not persisted", "error", err)
	}
	return s
}

// Read returns the current settings.
func (s *Store) Read() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// IsConfigured reports whether the current settings are usable.
func (s *Store) IsConfigured() bool {
	return s.Read().IsConfigured()
}

// Save replaces the settings wholesale and persists them.
//
// The in-memory value changes even if persistence fails; the returned error
// only reports the failed write.
func (s *Store) Save(next Settings) error {
	s.mu.Lock()
	s.current = next
	observers := s.observerList()
	s.mu.Unlock()

	s.logger.Info("settings saved",
		"base_url", next.BaseURL,
		"key", util.Fingerprint(next.APIKey),
		"configured", next.IsConfigured())

	for _, fn := range observers {
		fn(next)
	}

	if err := s.write(next); err != nil {
		return fmt.Errorf("settings saved for this process only: %w", err)
	}
	return nil
}

// Reload re-reads the persisted settings, for example after another process
// saved them. Observers are notified only when the value changed.
func (s *Store) Reload() {
	loaded := s.load()

	s.mu.Lock()
	if loaded == s.current {
		s.mu.Unlock()
		return
	}
	s.current = loaded
	observers := s.observerList()
	s.mu.Unlock()

	s.logger.Info("settings reloaded", "base_url", loaded.BaseURL, "key", util.Fingerprint(loaded.APIKey))
	for _, fn := range observers {
		fn(loaded)
	}
}

// Subscribe registers fn to be called with the new settings after every
// change. The returned function removes the registration.
func (s *Store) Subscribe(fn func(Settings)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// observerList must be called with s.mu held.
func (s *Store) observerList() []func(Settings) {
	list := make([]func(Settings), 0, len(s.observers))
	for _, fn := range s.observers {
		list = append(list, fn)
	}
	return list
}

func (s *Store) load() Settings {
	raw, ok, err := s.persist.Get(StorageKey)
	if err != nil {
		s.logger.Warn("settings unreadable, using defaults", "error", err)
		return Default()
	}
	if !ok {
		return Default()
	}
	return Decode(raw)
}

func (s *Store) write(next Settings) error {
	raw, err := Encode(next)
	if err != nil {
		return err
	}
	return s.persist.Set(StorageKey, raw)
}
