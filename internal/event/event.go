// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package event

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformed is returned for a payload that is not valid JSON.
// Callers skip such records and keep reading the stream.
var ErrMalformed = errors.New("malformed stream record")

// Kind tags the outcome of reconciling one record.
type Kind int

const (
	// KindNone means the record contributes nothing.
	KindNone Kind = iota
	// KindDelta means Text is appended to the accumulated reply.
	KindDelta
	// KindError means the server reported an error; Text is its message.
	KindError
)

// String returns a readable name for logs.
func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindError:
		return "error"
	default:
		return "none"
	}
}

// Record is the outcome of one payload.
type Record struct {
	Kind Kind
	Text string
}

// outputKeys are probed in order when extracting text from "outputs".
var outputKeys = []string{"answer", "result", "text", "message", "content", "output", "response"}

// Reconcile applies the rules to payload given the reply accumulated so far.
// First match wins:
//  1. "event" is "error" with a non-empty "message": KindError.
//  2. "answer" is a string, even an empty one: KindDelta.
//  3. "data.text" is a non-empty string: KindDelta.
//  4. "data.outputs" is truthy and text can be extracted from it: KindDelta,
//     but only while accumulated is empty.
func Reconcile(payload []byte, accumulated string) (Record, error) {
	if !gjson.ValidBytes(payload) {
		return Record{}, ErrMalformed
	}
	doc := gjson.ParseBytes(payload)

	if doc.Get("event").Str == "error" {
		if msg := doc.Get("message"); msg.Type == gjson.String && msg.Str != "" {
			return Record{Kind: KindError, Text: msg.Str}, nil
		}
	}

	if answer := doc.Get("answer"); answer.Type == gjson.String {
		return Record{Kind: KindDelta, Text: answer.Str}, nil
	}

	data := doc.Get("data")
	if text := data.Get("text"); text.Type == gjson.String && text.Str != "" {
		return Record{Kind: KindDelta, Text: text.Str}, nil
	}

	if outputs := data.Get("outputs"); truthy(outputs) {
		if text, ok := OutputText(outputs); ok && text != "" && accumulated == "" {
			return Record{Kind: KindDelta, Text: text}, nil
		}
	}

	return Record{}, nil
}

// OutputText extracts a best-effort reply from a workflow "outputs" value.
//
// A string is trimmed and rejected when it looks like serialized JSON.
// An object is probed for outputKeys in order: a string value is returned
// as is (even empty, which ends the search), a number or bool as its
// literal text, and an array as its string elements joined by newlines when
// that is non-empty. Any other value yields ok=false.
func OutputText(outputs gjson.Result) (string, bool) {
	switch {
	case outputs.Type == gjson.String:
		trimmed := strings.TrimSpace(outputs.Str)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			return "", false
		}
		return trimmed, trimmed != ""

	case outputs.IsObject():
		for _, key := range outputKeys {
			value := outputs.Get(key)
			switch value.Type {
			case gjson.String:
				return value.Str, true
			case gjson.Number, gjson.True, gjson.False:
				return value.String(), true
			}
			if value.IsArray() {
				var parts []string
				for _, item := range value.Array() {
					if item.Type == gjson.String {
						parts = append(parts, item.Str)
					}
				}
				if joined := strings.Join(parts, "\n"); joined != "" {
					return joined, true
				}
			}
		}
	}
	return "", false
}

// truthy follows JavaScript truthiness for a JSON value.
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return v.Str != ""
	case gjson.Number:
		return v.Num != 0
	case gjson.True, gjson.JSON:
		return true
	}
	return false
}
