// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes the current conversation to a file.
//
// Supported formats:
//
//   - Markdown: frontmatter, a session section and one heading per message
//   - JSON: the conversation as a single object
//
// Files are written atomically with owner-only permissions, since replies
// may contain anything the workflow returns.
//
// # Usage
//
//	conv := export.NewConversation(ctrl.Messages(), endpoint, clientID, started)
//	path, err := export.ToFile(conv, export.NewMarkdownExporter(nil), nil)
package export
