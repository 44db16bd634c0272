// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/flowchat/internal/chat"
)

// Transcript prints the reply to the current query as controller snapshots
// arrive. In stream mode the new suffix of the assistant message is written
// as it grows; if the text is replaced (a failure notice), the replacement
// is written on its own line. In markdown mode nothing is written until
// Finish, which renders the whole reply.
type Transcript struct {
	mu     sync.Mutex
	out    io.Writer
	render func(string) (string, error) // nil in stream mode

	baseline string // assistant id present before the current query
	id       string
	printed  string
	latest   string
}

// NewTranscript creates a Transcript writing to out. A nil render selects
// stream mode.
func NewTranscript(out io.Writer, render func(string) (string, error)) *Transcript {
	return &Transcript{out: out, render: render}
}

// Begin marks the start of a query. Assistant messages already in snap are
// ignored from now on.
func (t *Transcript) Begin(snap chat.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.baseline = ""
	if msg, ok := snap.LastAssistant(); ok {
		t.baseline = msg.ID
	}
	t.id = ""
	t.printed = ""
	t.latest = ""
}

// Observe is registered with chat.Controller.Subscribe.
func (t *Transcript) Observe(snap chat.Snapshot) {
	msg, ok := snap.LastAssistant()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ID == t.baseline {
		return
	}
	if msg.ID != t.id {
		t.id = msg.ID
		t.printed = ""
	}
	t.latest = msg.Content

	if t.render != nil {
		return
	}

	switch {
	case msg.Content == t.printed:
	case strings.HasPrefix(msg.Content, t.printed):
		io.WriteString(t.out, msg.Content[len(t.printed):])
	default:
		if t.printed != "" {
			io.WriteString(t.out, "\n")
		}
		io.WriteString(t.out, WarningStyle.Render(msg.Content))
	}
	t.printed = msg.Content
}

// Finish completes the reply for the current query. It reports whether a
// reply was started at all.
func (t *Transcript) Finish() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.id == "" {
		return false
	}

	if t.render == nil {
		if t.printed != "" {
			io.WriteString(t.out, "\n")
		}
		return true
	}

	if t.latest == "" {
		return true
	}
	rendered, err := t.render(t.latest)
	if err != nil {
		// Fall back to plain text rather than losing the reply
		fmt.Fprintln(t.out, t.latest)
		return true
	}
	io.WriteString(t.out, rendered)
	return true
}
