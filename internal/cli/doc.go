// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli is the terminal front end for flowchat.
//
// It drives a chat.Controller in one of three modes:
//
//   - Interactive: a line-edited REPL with history, slash commands and
//     Ctrl+C to cancel the reply in progress.
//   - Pipe: each line of stdin is sent as one query when stdin is not a
//     terminal.
//   - One-shot: the command-line arguments are sent as a single query.
//
// Replies stream to stdout as they arrive, or are rendered as markdown once
// complete when ui.render is "markdown".
//
// # Interactive Commands
//
//	/help, /h       Show available commands
//	/settings       Set the API base URL and key
//	/status, /s     Show endpoint, client id and conversation size
//	/history        Show the conversation so far
//	/export [fmt]   Save the conversation as md (default) or json
//	/quit, /q       Exit
//	Ctrl+C          Cancel the reply in progress
//	Ctrl+D          Exit
//
// SIGTERM cancels any reply in progress, restores the terminal and exits.
package cli
