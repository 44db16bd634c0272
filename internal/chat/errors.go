// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "errors"

// Notices replace the assistant message when a send fails.
const (
	NoticeUnauthorized  = "Authentication failed. Please check your settings."
	NoticeRequestFailed = "The request failed. Please check your settings and connection."
	NoticeStreamError   = "An error occurred. Please check your settings."
	NoticeNetworkError  = "A network error occurred. Please wait a moment and try again."
)

// ErrConfigurationMissing is set when Send is called without usable settings.
var ErrConfigurationMissing = errors.New("api settings are required")

// StreamError is an error record reported by the server inside the stream.
type StreamError struct {
	Message string
}

// Error returns the server's message unchanged.
func (e *StreamError) Error() string {
	return e.Message
}

// NetworkError is a transport failure: the connection could not be made or
// broke while the reply was streaming.
type NetworkError struct {
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

// Unwrap returns the underlying transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}
