// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation for flowchat.
//
// Configuration is TOML with built-in defaults and environment overrides.
// It covers the application itself (logging, telemetry, storage locations,
// terminal rendering, throttling, the development proxy). The endpoint and
// API key a user works with live in the session settings store instead; the
// [api] base_url and api_key entries only seed that store at startup.
//
// # Configuration Precedence
//
//   - Environment variables (FLOWCHAT_*)
//   - ~/.flowchat/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := workflow.NewClient().WithRateLimit(cfg.API.RequestsPerMinute)
package config
