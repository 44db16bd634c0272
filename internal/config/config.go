// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/flowchat/internal/storage"
	"github.com/jeranaias/flowchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete flowchat configuration.
type Config struct {
	Version string `toml:"version"`

	API       APIConfig       `toml:"api"`
	Dev       DevConfig       `toml:"dev"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	UI        UIConfig        `toml:"ui"`
}

// APIConfig contains workflow API client settings.
type APIConfig struct {
	// BaseURL and APIKey seed the session settings when set.
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`

	// RequestsPerMinute throttles sends; 0 means unlimited.
	RequestsPerMinute int    `toml:"requests_per_minute"`
	UserAgent         string `toml:"user_agent"`
}

// DevConfig contains development-only settings.
type DevConfig struct {
	// Enabled routes requests for the default endpoint through ProxyURL.
	Enabled  bool   `toml:"enabled"`
	ProxyURL string `toml:"proxy_url"`
}

// StorageConfig controls where settings and identity are kept.
type StorageConfig struct {
	// Settings is "session" (file in the login-session runtime dir) or "memory".
	Settings    string `toml:"settings"`
	SessionFile string `toml:"session_file"`
	StateDB     string `toml:"state_db"`
}

// LoggingConfig controls the rotating log file.
type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// TelemetryConfig controls OpenTelemetry trace and metric export to files.
type TelemetryConfig struct {
	Enabled             bool   `toml:"enabled"`
	TracesFile          string `toml:"traces_file"`
	MetricsFile         string `toml:"metrics_file"`
	MetricsIntervalSecs int    `toml:"metrics_interval_secs"`
}

// UIConfig controls terminal output.
type UIConfig struct {
	// Theme is "auto", "dark", "light" or "notty".
	Theme string `toml:"theme"`
	// Render is "stream" (print text as it arrives) or "markdown"
	// (render the finished reply).
	Render      string `toml:"render"`
	WordWrap    int    `toml:"word_wrap"`
	HistoryFile string `toml:"history_file"`
}

// Valid enumerations.
var (
	validSettingsBackends = map[string]bool{"session": true, "memory": true}
	validLogLevels        = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validThemes           = map[string]bool{"auto": true, "dark": true, "light": true, "notty": true}
	validRenderModes      = map[string]bool{"stream": true, "markdown": true}
)

// DefaultDevProxyURL is the local forwarding proxy used in development.
const DefaultDevProxyURL = "http://localhost:5173/dify"

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with default values. Paths are left empty and
// resolved by SetDefaults.
func Default() *Config {
	return &Config{
		Version: "1",
		API: APIConfig{
			RequestsPerMinute: 0,
			UserAgent:         "flowchat/0.1.0",
		},
		Dev: DevConfig{
			Enabled:  false,
			ProxyURL: DefaultDevProxyURL,
		},
		Storage: StorageConfig{
			Settings: "session",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Telemetry: TelemetryConfig{
			Enabled:             false,
			MetricsIntervalSecs: 10,
		},
		UI: UIConfig{
			Theme:    "auto",
			Render:   "stream",
			WordWrap: 80,
		},
	}
}

// SetDefaults fills empty fields, including every path.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = defaults.API.UserAgent
	}
	if c.Dev.ProxyURL == "" {
		c.Dev.ProxyURL = defaults.Dev.ProxyURL
	}
	if c.Storage.Settings == "" {
		c.Storage.Settings = defaults.Storage.Settings
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = defaults.Logging.MaxSizeMB
	}
	if c.Telemetry.MetricsIntervalSecs == 0 {
		c.Telemetry.MetricsIntervalSecs = defaults.Telemetry.MetricsIntervalSecs
	}
	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
	if c.UI.Render == "" {
		c.UI.Render = defaults.UI.Render
	}

	if c.Storage.SessionFile == "" {
		c.Storage.SessionFile = filepath.Join(storage.SessionDir(), "session.json")
	}

	dir, err := ConfigDir()
	if err != nil {
		// Without a home directory everything durable goes next to the session file.
		dir = storage.SessionDir()
	}
	if c.Storage.StateDB == "" {
		c.Storage.StateDB = filepath.Join(dir, "state.db")
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(dir, "logs", "flowchat.log")
	}
	if c.Telemetry.TracesFile == "" {
		c.Telemetry.TracesFile = filepath.Join(dir, "logs", "traces.log")
	}
	if c.Telemetry.MetricsFile == "" {
		c.Telemetry.MetricsFile = filepath.Join(dir, "logs", "metrics.log")
	}
	if c.UI.HistoryFile == "" {
		c.UI.HistoryFile = filepath.Join(dir, "history")
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the flowchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".flowchat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the config file at path (the default location when empty),
// then applies environment overrides and defaults and validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path over cfg.
// Unknown keys are rejected so typos do not go unnoticed.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// SaveTOML writes cfg to path with a header comment.
// SECURITY: 0600 permissions, the file may contain an API key.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# flowchat configuration file")
	fmt.Fprintln(&buf, "# Endpoint and API key are normally set with /settings and kept per session.")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and returns ValidateErrors listing all problems.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.API.BaseURL != "" {
		if err := validateHTTPURL(c.API.BaseURL); err != nil {
			add("api.base_url", "%v", err)
		}
	}
	if c.API.RequestsPerMinute < 0 {
		add("api.requests_per_minute", "must be >= 0, got %d", c.API.RequestsPerMinute)
	}

	if c.Dev.Enabled {
		if err := validateHTTPURL(c.Dev.ProxyURL); err != nil {
			add("dev.proxy_url", "%v", err)
		}
	}

	if !validSettingsBackends[c.Storage.Settings] {
		add("storage.settings", "invalid backend '%s', must be one of: session, memory", c.Storage.Settings)
	}

	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB < 0 {
		add("logging.max_size_mb", "must be >= 0, got %d", c.Logging.MaxSizeMB)
	}
	if c.Logging.MaxBackups < 0 {
		add("logging.max_backups", "must be >= 0, got %d", c.Logging.MaxBackups)
	}
	if c.Logging.MaxAgeDays < 0 {
		add("logging.max_age_days", "must be >= 0, got %d", c.Logging.MaxAgeDays)
	}

	if c.Telemetry.Enabled && c.Telemetry.MetricsIntervalSecs < 1 {
		add("telemetry.metrics_interval_secs", "must be >= 1 when telemetry is enabled, got %d", c.Telemetry.MetricsIntervalSecs)
	}

	if !validThemes[c.UI.Theme] {
		add("ui.theme", "invalid theme '%s', must be one of: auto, dark, light, notty", c.UI.Theme)
	}
	if !validRenderModes[c.UI.Render] {
		add("ui.render", "invalid render mode '%s', must be one of: stream, markdown", c.UI.Render)
	}
	if c.UI.WordWrap < 0 {
		add("ui.word_wrap", "must be >= 0, got %d", c.UI.WordWrap)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL has no host")
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - FLOWCHAT_BASE_URL: overrides api.base_url
//   - FLOWCHAT_API_KEY: overrides api.api_key
//   - FLOWCHAT_DEV: set to "1" or "true" to enable the dev proxy
//   - FLOWCHAT_DEV_PROXY_URL: overrides dev.proxy_url
//   - FLOWCHAT_SETTINGS_STORE: overrides storage.settings
//   - FLOWCHAT_LOG_LEVEL: overrides logging.level
//   - FLOWCHAT_TELEMETRY: set to "1" or "true" to enable telemetry export
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("FLOWCHAT_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("FLOWCHAT_API_KEY"); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv("FLOWCHAT_DEV"); v != "" {
		c.Dev.Enabled = parseBool(v)
	}
	if v := os.Getenv("FLOWCHAT_DEV_PROXY_URL"); v != "" {
		c.Dev.ProxyURL = v
	}
	if v := os.Getenv("FLOWCHAT_SETTINGS_STORE"); v != "" {
		c.Storage.Settings = strings.ToLower(v)
	}
	if v := os.Getenv("FLOWCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("FLOWCHAT_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}
