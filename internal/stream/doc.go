// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns a workflow response body into SSE data payloads.
//
// Bytes are decoded incrementally, so a multi-byte character split across
// network reads is reassembled, and text is split into lines with a
// carry-over buffer, so a line split across reads is reassembled too.
// A byte order mark at the very start of the body is dropped. Only "data:"
// lines carry payloads; everything else is ignored.
//
// # Usage
//
//	sc := stream.NewScanner(ctx, body)
//	for sc.Next() {
//		rec, err := event.Reconcile([]byte(sc.Payload()), accumulated)
//		...
//	}
//	if err := sc.Err(); err != nil {
//		// read failure or cancellation
//	}
//
// A trailing line without a newline when the body ends is discarded.
package stream
