// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry sets up logging, tracing and metrics for flowchat.
//
// The terminal belongs to the chat, so nothing here writes to stdout or
// stderr: logs are JSON lines in a rotating file, and when enabled, traces
// and metrics are exported to rotating files as well.
//
// # Usage
//
//	logger, closeLog, err := telemetry.InitLogger(cfg.Logging)
//	if err != nil {
//	    return err
//	}
//	defer closeLog()
//
//	if cfg.Telemetry.Enabled {
//	    shutdown, err := telemetry.InitTelemetry(ctx, cfg.Telemetry, version)
//	    ...
//	    defer shutdown()
//	}
//
// # Privacy
//
// Telemetry is local-only and does not transmit any data.
// Query and reply text are never recorded, only sizes and timings.
package telemetry
