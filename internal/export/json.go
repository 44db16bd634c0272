// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports conversations to JSON format.
// NOTE: JSON exports always include every field; IncludeMetadata is ignored.
type JSONExporter struct {
	options *Options
}

type jsonConversation struct {
	Title     string        `json:"title"`
	Endpoint  string        `json:"endpoint"`
	ClientID  string        `json:"client_id"`
	StartedAt time.Time     `json:"started_at"`
	Exported  time.Time     `json:"exported_at"`
	Messages  []jsonMessage `json:"messages"`
}

type jsonMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts a conversation to indented JSON.
func (e *JSONExporter) Export(conv *Conversation) ([]byte, error) {
	if conv == nil || len(conv.Messages) == 0 {
		return nil, ErrEmpty
	}

	out := jsonConversation{
		Title:     conv.Title,
		Endpoint:  conv.Endpoint,
		ClientID:  conv.ClientID,
		StartedAt: conv.StartedAt,
		Exported:  e.options.now(),
		Messages:  make([]jsonMessage, 0, len(conv.Messages)),
	}
	for _, m := range conv.Messages {
		out.Messages = append(out.Messages, jsonMessage{ID: m.ID, Role: string(m.Role), Content: m.Content})
	}
	return json.MarshalIndent(out, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
