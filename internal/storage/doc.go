// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides small string key-value stores for flowchat.
//
// Three backends implement Store:
//   - MemoryStore: lives as long as the process
//   - FileStore: a JSON object in one file, written atomically; placed in
//     the login-session runtime directory it gives session-scoped storage
//   - SQLiteStore: a durable table in a pure Go SQLite database
//
// The settings store uses a session-scoped backend and the identity
// provider a durable one.
package storage
