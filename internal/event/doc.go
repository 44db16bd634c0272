// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package event maps workflow stream records onto the assistant reply.
//
// A record is one JSON payload from the event stream. Workflow runs emit
// several shapes (chat-style "answer" fragments, text chunks nested under
// "data", a final "outputs" object, and in-band errors); Reconcile decides
// which of them contributes text by checking an ordered list of rules.
package event
