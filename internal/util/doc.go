// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across flowchat.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync, used by the
//     session settings file and the config writer
//
// Display:
//   - TruncateWidth: cell-width aware truncation for the status line
//   - Fingerprint: short SHA-256 fingerprint of a secret for logs
//
// # Usage
//
//	// Persist the session file without ever leaving it half written
//	err := util.AtomicWriteFile(path, data, 0600, 0700)
//
//	// Log which key is in use without logging the key
//	logger.Info("settings saved", "key", util.Fingerprint(apiKey))
package util
