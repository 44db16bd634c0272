// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "github.com/google/uuid"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of the conversation.
type Message struct {
	ID      string
	Role    Role
	Content string
}

// Snapshot is a copy of the conversation state at one point in time.
// Versions increase with every change.
type Snapshot struct {
	Version  uint64
	Messages []Message
	Err      error
	Loading  bool
}

// LastAssistant returns the most recent assistant message, if any.
func (s Snapshot) LastAssistant() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

func newMessageID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
