// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat, pipe mode and one-shot queries.
//
// USABILITY: Line editing and history for the interactive prompt.

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/flowchat/internal/chat"
	"github.com/jeranaias/flowchat/internal/config"
	"github.com/jeranaias/flowchat/internal/export"
	"github.com/jeranaias/flowchat/internal/settings"
	"github.com/jeranaias/flowchat/internal/util"
	"github.com/jeranaias/flowchat/internal/workflow"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader provides input history and line editing for interactive chat.
type LineReader struct {
	line        *liner.State
	historyFile string
	closeOnce   sync.Once
}

// NewLineReader creates a LineReader and loads history from historyFile.
func NewLineReader(historyFile string) *LineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &LineReader{line: line, historyFile: historyFile}
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return r
}

// ReadInput reads a line with the given prompt. Non-empty input is added
// to history.
func (r *LineReader) ReadInput(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// ReadDefault reads a line pre-filled with value. The result is not added
// to history.
func (r *LineReader) ReadDefault(prompt, value string) (string, error) {
	return r.line.PromptWithSuggestion(prompt, value, -1)
}

// Close saves history and restores the terminal. Only the first call has
// any effect.
func (r *LineReader) Close() {
	r.closeOnce.Do(r.close)
}

func (r *LineReader) close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		// SECURITY: history may contain prompts; owner-only permissions
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

// Options wires a Session.
type Options struct {
	Controller *chat.Controller
	Settings   *settings.Store
	Identity   chat.IdentitySource
	// Endpoint resolves the run URL for a base URL, for /status.
	Endpoint func(baseURL string) string
	UI       config.UIConfig
	Logger   *slog.Logger

	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// Session is one run of the front end over a single conversation.
type Session struct {
	ctrl       *chat.Controller
	settings   *settings.Store
	identity   chat.IdentitySource
	endpoint   func(string) string
	ui         config.UIConfig
	logger     *slog.Logger
	in         io.Reader
	out        io.Writer
	errOut     io.Writer
	transcript *Transcript
	reader     *LineReader
	started    time.Time
	exit       func(code int)
}

// NewSession creates a Session and subscribes its transcript to the
// controller. Missing writers default to stdout/stderr.
func NewSession(opts Options) (*Session, error) {
	s := &Session{
		ctrl:     opts.Controller,
		settings: opts.Settings,
		identity: opts.Identity,
		endpoint: opts.Endpoint,
		ui:       opts.UI,
		logger:   opts.Logger,
		in:       opts.In,
		out:      opts.Out,
		errOut:   opts.ErrOut,
		started:  time.Now(),
		exit:     os.Exit,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.in == nil {
		s.in = os.Stdin
	}
	if s.out == nil {
		s.out = os.Stdout
	}
	if s.errOut == nil {
		s.errOut = os.Stderr
	}
	if s.endpoint == nil {
		s.endpoint = func(base string) string { return base }
	}

	var render func(string) (string, error)
	if s.ui.Render == "markdown" {
		renderer, err := NewMarkdownRenderer(s.ui.Theme, s.ui.WordWrap)
		if err != nil {
			return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
		}
		render = renderer.Render
	}
	s.transcript = NewTranscript(s.out, render)
	s.ctrl.Subscribe(s.transcript.Observe)
	return s, nil
}

// Run picks the mode: one-shot when args are given, the REPL when stdin is
// a terminal, pipe mode otherwise.
func (s *Session) Run(args []string) error {
	switch {
	case len(args) > 0:
		return s.RunOnce(strings.Join(args, " "))
	case IsTTY():
		return s.RunInteractive()
	default:
		return s.RunPipe()
	}
}

// Ask sends one query, prints the reply and returns the error left in the
// error slot, if any.
func (s *Session) Ask(query string) error {
	s.transcript.Begin(s.ctrl.Snapshot())
	s.ctrl.Send(query)
	s.ctrl.Wait()
	s.transcript.Finish()
	return s.ctrl.Err()
}

// RunOnce sends a single query. The error slot, if set, is returned.
func (s *Session) RunOnce(query string) error {
	if strings.TrimSpace(query) == "" {
		return errors.New("empty question")
	}
	return s.Ask(query)
}

// RunPipe sends every non-empty line of input as a query. Failures are
// reported and the loop continues; the last failure is returned.
func (s *Session) RunPipe() error {
	var last error
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := s.Ask(line); err != nil {
			fmt.Fprintf(s.errOut, "%s %s\n", ErrorStyle.Render("[Error]"), ErrorMessage(err))
			last = err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return last
}

// RunInteractive runs the REPL until /quit, Ctrl+D or Ctrl+C at the prompt.
func (s *Session) RunInteractive() error {
	s.reader = NewLineReader(s.ui.HistoryFile)
	defer s.reader.Close()

	// RELIABILITY: Ctrl+C while a reply streams cancels it instead of exiting
	sigChan := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(sigChan)
		close(done)
	}()
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigChan:
				if s.handleSignal(sig) {
					s.terminate()
					return
				}
			}
		}
	}()

	s.printWelcome()

	for {
		input, err := s.reader.ReadInput(PromptStyle.Render("flowchat> "))
		if err != nil {
			// Ctrl+C (liner.ErrPromptAborted) and Ctrl+D both end the session
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				s.logger.Warn("prompt failed", "error", err)
			}
			fmt.Fprintln(s.out)
			fmt.Fprintln(s.out, DimStyle.Render("Goodbye!"))
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if !s.handleCommand(input) {
				fmt.Fprintln(s.out, DimStyle.Render("Goodbye!"))
				return nil
			}
			continue
		}

		fmt.Fprintln(s.out)
		if err := s.Ask(input); err != nil {
			fmt.Fprintf(s.errOut, "%s %s\n", ErrorStyle.Render("[Error]"), ErrorMessage(err))
			if errors.Is(err, chat.ErrConfigurationMissing) {
				fmt.Fprintln(s.errOut, DimStyle.Render("Use /settings to set the API base URL and key."))
			}
		}
		fmt.Fprintln(s.out)
	}
}

// handleSignal cancels the in-flight reply, if any, and reports whether the
// session must end. Only SIGTERM ends it; Ctrl+C at the prompt is handled
// by the line reader.
func (s *Session) handleSignal(sig os.Signal) bool {
	if s.ctrl.Loading() {
		s.ctrl.Cancel()
		fmt.Fprintln(s.errOut, "\n"+WarningStyle.Render("[Cancelled]"))
	}
	return sig == syscall.SIGTERM
}

// terminate saves history, restores the terminal and exits with the
// conventional SIGTERM status.
func (s *Session) terminate() {
	s.logger.Info("terminated by signal")
	if s.reader != nil {
		s.reader.Close()
	}
	s.exit(143)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// Command identifies a slash command.
type Command int

const (
	CmdUnknown Command = iota
	CmdHelp
	CmdSettings
	CmdStatus
	CmdHistory
	CmdExport
	CmdQuit
)

var commandNames = map[string]Command{
	"/help":     CmdHelp,
	"/h":        CmdHelp,
	"/?":        CmdHelp,
	"/":         CmdHelp,
	"/settings": CmdSettings,
	"/status":   CmdStatus,
	"/s":        CmdStatus,
	"/history":  CmdHistory,
	"/export":   CmdExport,
	"/quit":     CmdQuit,
	"/q":        CmdQuit,
	"/exit":     CmdQuit,
}

// ParseCommand splits a slash command into its kind and arguments.
func ParseCommand(input string) (Command, []string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return CmdUnknown, nil
	}
	cmd, ok := commandNames[strings.ToLower(parts[0])]
	if !ok {
		return CmdUnknown, parts[1:]
	}
	return cmd, parts[1:]
}

// handleCommand runs a slash command. It returns false to end the session.
func (s *Session) handleCommand(input string) bool {
	cmd, args := ParseCommand(input)
	switch cmd {
	case CmdHelp:
		s.printHelp()
	case CmdSettings:
		if err := s.editSettings(); err != nil {
			fmt.Fprintf(s.errOut, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
	case CmdStatus:
		s.printStatus()
	case CmdHistory:
		s.printHistory()
	case CmdExport:
		format := ""
		if len(args) > 0 {
			format = args[0]
		}
		path, err := s.Export(format, ".")
		if err != nil {
			fmt.Fprintf(s.errOut, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			break
		}
		fmt.Fprintf(s.out, "%s Exported to %s\n", CommandStyle.Render("[OK]"), path)
	case CmdQuit:
		return false
	default:
		fmt.Fprintf(s.errOut, "%s unknown command: %s (type /help for commands)\n",
			ErrorStyle.Render("[Error]"), strings.Fields(input)[0])
	}
	return true
}

// Export writes the conversation to dir in format ("md" or "json") and
// returns the file path.
func (s *Session) Export(format, dir string) (string, error) {
	opts := export.DefaultOptions()
	opts.OutputDir = dir
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return "", err
	}

	conv := export.NewConversation(
		s.ctrl.Messages(),
		s.endpoint(s.settings.Read().BaseURL),
		s.identity.ClientID(),
		s.started,
	)
	path, err := export.ToFile(conv, exporter, opts)
	if err != nil {
		return "", err
	}
	s.logger.Info("conversation exported", "path", path, "messages", len(conv.Messages))
	return path, nil
}

// MergeSettings applies form input to current. Blank input keeps the
// current value.
func MergeSettings(current settings.Settings, baseURL, apiKey string) settings.Settings {
	next := current
	if strings.TrimSpace(baseURL) != "" {
		next.BaseURL = strings.TrimSpace(baseURL)
	}
	if strings.TrimSpace(apiKey) != "" {
		next.APIKey = strings.TrimSpace(apiKey)
	}
	return next
}

// editSettings prompts for the base URL and API key and saves them.
func (s *Session) editSettings() error {
	current := s.settings.Read()

	baseURL, err := s.reader.ReadDefault(LabelStyle.Render("Base URL")+" ", current.BaseURL)
	if err != nil {
		return fmt.Errorf("settings not changed: %w", err)
	}

	hint := "API key"
	if current.APIKey != "" {
		hint = "API key (blank keeps " + util.Fingerprint(current.APIKey) + ")"
	}
	apiKey, err := ReadSecret(s.out, LabelStyle.Render(hint)+" ")
	if err != nil {
		return err
	}

	next := MergeSettings(current, baseURL, apiKey)
	if err := s.settings.Save(next); err != nil {
		// The new values are in effect for this session regardless
		fmt.Fprintf(s.errOut, "%s %v\n", WarningStyle.Render("[Warning]"), err)
		return nil
	}
	fmt.Fprintln(s.out, CommandStyle.Render("[OK]")+" Settings saved.")
	return nil
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

// ErrorMessage returns the sentence shown to the user for a failed send.
func ErrorMessage(err error) string {
	var (
		reqErr    *workflow.RequestError
		netErr    *chat.NetworkError
		streamErr *chat.StreamError
	)
	switch {
	case errors.Is(err, chat.ErrConfigurationMissing):
		return "API settings are required."
	case errors.Is(err, workflow.ErrUnauthorized):
		return "Unauthorized (401). Please check your API key."
	case errors.As(err, &reqErr):
		if reqErr.Detail != "" {
			return fmt.Sprintf("Request failed (%d). %s", reqErr.Status, reqErr.Detail)
		}
		return fmt.Sprintf("Request failed (%d).", reqErr.Status)
	case errors.As(err, &netErr):
		return "Network error. Please try again."
	case errors.As(err, &streamErr):
		return streamErr.Message
	default:
		return err.Error()
	}
}

func (s *Session) printWelcome() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("flowchat"))
	fmt.Fprintln(s.out, RenderSeparator(30))
	if !s.settings.IsConfigured() {
		fmt.Fprintln(s.out, WarningStyle.Render("API settings are not set. Use /settings to configure."))
	}
	fmt.Fprintln(s.out, DimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(s.out)
}

func (s *Session) printHelp() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("Available Commands"))
	fmt.Fprintln(s.out, RenderSeparator(20))

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/settings", "Set the API base URL and key"},
		{"/status, /s", "Show connection status"},
		{"/history", "Show the conversation"},
		{"/export [md|json]", "Save the conversation to a file"},
		{"/quit, /q", "Exit chat"},
	}
	for _, c := range commands {
		fmt.Fprintf(s.out, "  %s  %s\n",
			CommandStyle.Render(fmt.Sprintf("%-18s", c.cmd)),
			DimStyle.Render(c.desc))
	}

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, DimStyle.Render("Tip: Ctrl+C cancels the current reply, Ctrl+D exits"))
	fmt.Fprintln(s.out)
}

// StatusLines returns the /status report, each value truncated to width.
func (s *Session) StatusLines(width int) []string {
	current := s.settings.Read()
	snap := s.ctrl.Snapshot()

	configured := WarningStyle.Render("no")
	if current.IsConfigured() {
		configured = CommandStyle.Render("yes")
	}

	valueWidth := width - 14
	if valueWidth < 10 {
		valueWidth = 10
	}
	return []string{
		LabelStyle.Render("Endpoint:") + "  " + util.TruncateWidth(s.endpoint(current.BaseURL), valueWidth),
		LabelStyle.Render("API key:") + "  " + util.Fingerprint(current.APIKey),
		LabelStyle.Render("Configured:") + "  " + configured,
		LabelStyle.Render("Client ID:") + "  " + util.TruncateWidth(s.identity.ClientID(), valueWidth),
		LabelStyle.Render("Messages:") + "  " + fmt.Sprintf("%d", len(snap.Messages)),
	}
}

func (s *Session) printStatus() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("Status"))
	fmt.Fprintln(s.out, RenderSeparator(20))
	for _, line := range s.StatusLines(GetTerminalWidth()) {
		fmt.Fprintln(s.out, "  "+line)
	}
	fmt.Fprintln(s.out)
}

func (s *Session) printHistory() {
	messages := s.ctrl.Messages()
	if len(messages) == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("[No messages yet]"))
		return
	}

	width := GetTerminalWidth() - 12
	fmt.Fprintln(s.out)
	for i, msg := range messages {
		role := UserStyle.Render("You")
		if msg.Role == chat.RoleAssistant {
			role = AssistantStyle.Render("AI")
		}
		content := strings.ReplaceAll(msg.Content, "\n", " ")
		fmt.Fprintf(s.out, "  %d. %s: %s\n", i+1, role, util.TruncateWidth(content, width))
	}
	fmt.Fprintln(s.out)
}
