// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/flowchat/internal/chat"
	"github.com/jeranaias/flowchat/internal/config"
	"github.com/jeranaias/flowchat/internal/export"
	"github.com/jeranaias/flowchat/internal/identity"
	"github.com/jeranaias/flowchat/internal/settings"
	"github.com/jeranaias/flowchat/internal/storage"
	"github.com/jeranaias/flowchat/internal/workflow"
)

// =============================================================================
// HELPERS
// =============================================================================

func assistant(id, content string) chat.Snapshot {
	return chat.Snapshot{Messages: []chat.Message{
		{ID: "u-" + id, Role: chat.RoleUser, Content: "q"},
		{ID: id, Role: chat.RoleAssistant, Content: content},
	}}
}

// newTestSession wires a Session to a workflow server answering every run
// with handler.
func newTestSession(t *testing.T, handler http.HandlerFunc, configured bool, in string) (*Session, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := settings.NewStore(storage.NewMemoryStore(), nil)
	if configured {
		require.NoError(t, store.Save(settings.Settings{BaseURL: server.URL, APIKey: "app-secret"}))
	}

	client := workflow.NewClient()
	ctrl := chat.NewController(chat.Config{
		Transport: client,
		Settings:  store,
		Identity:  identity.NewProvider(storage.NewMemoryStore(), nil),
	})
	t.Cleanup(ctrl.Close)

	var out, errOut bytes.Buffer
	ui := config.Default().UI
	s, err := NewSession(Options{
		Controller: ctrl,
		Settings:   store,
		Identity:   identity.NewProvider(storage.NewMemoryStore(), nil),
		Endpoint:   client.Endpoint,
		UI:         ui,
		In:         strings.NewReader(in),
		Out:        &out,
		ErrOut:     &errOut,
	})
	require.NoError(t, err)
	return s, &out, &errOut
}

// answerServer streams each fragment as an answer record.
func answerServer(fragments ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			fmt.Fprintf(w, "data: {\"answer\":%q}\n\n", f)
		}
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// =============================================================================
// TRANSCRIPT TESTS
// =============================================================================

func TestTranscript_StreamsSuffixes(t *testing.T) {
	var out bytes.Buffer
	tr := NewTranscript(&out, nil)
	tr.Begin(chat.Snapshot{})

	tr.Observe(assistant("a-1", ""))
	tr.Observe(assistant("a-1", "Hel"))
	tr.Observe(assistant("a-1", "Hello"))
	tr.Observe(assistant("a-1", "Hello"))
	tr.Observe(assistant("a-1", "Hello, world"))
	assert.True(t, tr.Finish())

	assert.Equal(t, "Hello, world\n", out.String())
}

func TestTranscript_ReplacementOnNewLine(t *testing.T) {
	var out bytes.Buffer
	tr := NewTranscript(&out, nil)
	tr.Begin(chat.Snapshot{})

	tr.Observe(assistant("a-1", "partial"))
	tr.Observe(assistant("a-1", chat.NoticeNetworkError))
	tr.Finish()

	assert.Equal(t, "partial\n"+chat.NoticeNetworkError+"\n", out.String())
}

func TestTranscript_IgnoresPreviousReply(t *testing.T) {
	var out bytes.Buffer
	tr := NewTranscript(&out, nil)

	previous := assistant("a-old", "old reply")
	tr.Begin(previous)
	tr.Observe(previous)

	assert.False(t, tr.Finish(), "no reply was started")
	assert.Empty(t, out.String())
}

func TestTranscript_MarkdownRendersOnFinish(t *testing.T) {
	var out bytes.Buffer
	tr := NewTranscript(&out, func(s string) (string, error) {
		return "<" + s + ">", nil
	})
	tr.Begin(chat.Snapshot{})

	tr.Observe(assistant("a-1", "**bo"))
	tr.Observe(assistant("a-1", "**bold**"))
	assert.Empty(t, out.String(), "markdown mode waits for the full reply")

	tr.Finish()
	assert.Equal(t, "<**bold**>", out.String())
}

func TestTranscript_MarkdownFallsBackToPlain(t *testing.T) {
	var out bytes.Buffer
	tr := NewTranscript(&out, func(string) (string, error) {
		return "", errors.New("render failed")
	})
	tr.Begin(chat.Snapshot{})
	tr.Observe(assistant("a-1", "text"))
	tr.Finish()

	assert.Equal(t, "text\n", out.String())
}

func TestNewMarkdownRenderer(t *testing.T) {
	r, err := NewMarkdownRenderer("notty", 40)
	require.NoError(t, err)

	rendered, err := r.Render("# Heading\n\nSome *text*.")
	require.NoError(t, err)
	assert.Contains(t, rendered, "Heading")
	assert.Contains(t, rendered, "text")
}

func TestResolveTheme(t *testing.T) {
	assert.Equal(t, "dark", ResolveTheme("dark"))
	assert.Equal(t, "light", ResolveTheme("light"))
	assert.Equal(t, "notty", ResolveTheme("notty"))
	// Test output is not a terminal
	assert.Equal(t, "notty", ResolveTheme("auto"))
}

// =============================================================================
// COMMAND TESTS
// =============================================================================

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input    string
		wantCmd  Command
		wantArgs []string
	}{
		{"/help", CmdHelp, []string{}},
		{"/H", CmdHelp, []string{}},
		{"/", CmdHelp, []string{}},
		{"/settings", CmdSettings, []string{}},
		{"/status", CmdStatus, []string{}},
		{"/s", CmdStatus, []string{}},
		{"/history", CmdHistory, []string{}},
		{"/export json", CmdExport, []string{"json"}},
		{"/quit", CmdQuit, []string{}},
		{"/exit", CmdQuit, []string{}},
		{"/model gpt", CmdUnknown, []string{"gpt"}},
		{"  ", CmdUnknown, nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, args := ParseCommand(tt.input)
			assert.Equal(t, tt.wantCmd, cmd)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestMergeSettings(t *testing.T) {
	current := settings.Settings{BaseURL: "https://old.example/v1", APIKey: "old-key"}

	assert.Equal(t, current, MergeSettings(current, "", "  "))
	assert.Equal(t,
		settings.Settings{BaseURL: "https://new.example/v1", APIKey: "old-key"},
		MergeSettings(current, " https://new.example/v1 ", ""))
	assert.Equal(t,
		settings.Settings{BaseURL: "https://old.example/v1", APIKey: "new-key"},
		MergeSettings(current, "", "new-key"))
}

// =============================================================================
// SESSION TESTS
// =============================================================================

func TestRunOnce_PrintsReply(t *testing.T) {
	s, out, _ := newTestSession(t, answerServer("Hello", ", ", "world"), true, "")

	require.NoError(t, s.RunOnce("hi there"))
	assert.Equal(t, "Hello, world\n", out.String())
}

func TestRunOnce_EmptyQuestion(t *testing.T) {
	s, _, _ := newTestSession(t, answerServer("x"), true, "")
	assert.Error(t, s.RunOnce("   "))
}

func TestRunOnce_NotConfigured(t *testing.T) {
	s, out, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without settings")
	}, false, "")

	err := s.RunOnce("hello")
	assert.ErrorIs(t, err, chat.ErrConfigurationMissing)
	assert.Empty(t, out.String())
}

func TestRunOnce_Unauthorized(t *testing.T) {
	s, out, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, true, "")

	err := s.RunOnce("hello")
	assert.ErrorIs(t, err, workflow.ErrUnauthorized)
	assert.Contains(t, out.String(), chat.NoticeUnauthorized)
}

func TestRunPipe_OneQueryPerLine(t *testing.T) {
	var (
		mu      sync.Mutex
		queries []string
	)
	s, out, errOut := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Inputs struct {
				Message string `json:"message"`
			} `json:"inputs"`
		}
		if assert.NoError(t, decodeJSON(r, &body)) {
			mu.Lock()
			queries = append(queries, body.Inputs.Message)
			mu.Unlock()
		}
		fmt.Fprintf(w, "data: {\"answer\":%q}\n\n", "re: "+body.Inputs.Message)
	}, true, "first\n\n  second  \n")

	require.NoError(t, s.RunPipe())
	mu.Lock()
	assert.Equal(t, []string{"first", "second"}, queries)
	mu.Unlock()
	assert.Equal(t, "re: first\nre: second\n", out.String())
	assert.Empty(t, errOut.String())
}

func TestRunPipe_ContinuesAfterFailure(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	s, out, errOut := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"message":"workflow crashed"}`)
			return
		}
		fmt.Fprint(w, "data: {\"answer\":\"ok\"}\n\n")
	}, true, "one\ntwo\n")

	err := s.RunPipe()
	var reqErr *workflow.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusInternalServerError, reqErr.Status)

	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
	assert.Contains(t, errOut.String(), "Request failed (500). workflow crashed")
	assert.True(t, strings.HasSuffix(out.String(), "ok\n"))
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not configured", chat.ErrConfigurationMissing, "API settings are required."},
		{"unauthorized", workflow.ErrUnauthorized, "Unauthorized (401). Please check your API key."},
		{"request with detail", &workflow.RequestError{Status: 500, Detail: "workflow crashed"},
			"Request failed (500). workflow crashed"},
		{"request without body", &workflow.RequestError{Status: 204}, "Request failed (204)."},
		{"network", &chat.NetworkError{Err: errors.New("connection refused")}, "Network error. Please try again."},
		{"stream", &chat.StreamError{Message: "node failed"}, "node failed"},
		{"wrapped", fmt.Errorf("send: %w", chat.ErrConfigurationMissing), "API settings are required."},
		{"other", errors.New("empty question"), "empty question"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorMessage(tt.err))
		})
	}
}

func TestHandleSignal_Idle(t *testing.T) {
	s, _, errOut := newTestSession(t, answerServer("x"), true, "")

	assert.False(t, s.handleSignal(os.Interrupt))
	assert.True(t, s.handleSignal(syscall.SIGTERM))
	assert.Empty(t, errOut.String(), "nothing to cancel")
}

func TestHandleSignal_CancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	s, _, errOut := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"answer\":\"partial\"}\n\n")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}, true, "")

	s.ctrl.Send("long question")
	<-started
	require.True(t, s.ctrl.Loading())

	assert.False(t, s.handleSignal(os.Interrupt), "Ctrl+C only cancels the reply")
	s.ctrl.Wait()

	assert.False(t, s.ctrl.Loading())
	assert.NoError(t, s.ctrl.Err(), "cancellation is not an error")
	assert.Contains(t, errOut.String(), "[Cancelled]")
}

func TestTerminate_Exits(t *testing.T) {
	s, _, _ := newTestSession(t, answerServer("x"), true, "")
	code := -1
	s.exit = func(c int) { code = c }

	s.terminate()
	assert.Equal(t, 143, code)
}

func TestStatusLines(t *testing.T) {
	s, _, _ := newTestSession(t, answerServer("x"), true, "")

	lines := strings.Join(s.StatusLines(120), "\n")
	assert.Contains(t, lines, workflow.RunPath)
	assert.Contains(t, lines, "yes")
	assert.NotContains(t, lines, "app-secret", "the key itself is never shown")
	assert.Contains(t, lines, "Messages:")
}

func TestExport_WritesConversation(t *testing.T) {
	s, _, _ := newTestSession(t, answerServer("Hi", " there"), true, "")
	require.NoError(t, s.RunOnce("hello"))

	dir := t.TempDir()
	path, err := s.Export("json", dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"content": "Hi there"`)
	assert.Contains(t, string(raw), `"content": "hello"`)
}

func TestExport_EmptyConversation(t *testing.T) {
	s, _, _ := newTestSession(t, answerServer("x"), true, "")
	_, err := s.Export("md", t.TempDir())
	assert.ErrorIs(t, err, export.ErrEmpty)
}
