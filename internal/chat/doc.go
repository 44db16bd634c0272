// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat owns the conversation: it sends queries to the workflow API,
// streams the reply into an assistant message, and publishes snapshots of
// the conversation to observers.
//
// # Lifecycle of a send
//
//  1. Send trims the query; an empty query does nothing.
//  2. Without usable settings the error slot is set to
//     ErrConfigurationMissing and nothing else happens.
//  3. Otherwise the previous request is cancelled, the error is cleared,
//     loading is set, and a user message plus an empty assistant message
//     are appended before Send returns.
//  4. A goroutine posts the request and applies every delta to the
//     assistant message as it arrives.
//
// A superseded or cancelled request never touches the conversation again.
// Failures replace the assistant message with a fixed notice and set the
// error slot; cancellation is not a failure.
package chat
