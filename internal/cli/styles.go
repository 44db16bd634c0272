// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared styling for the chat front end.
//
// USABILITY: Colors are disabled for non-TTY output and honor NO_COLOR.

package cli

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// PromptStyle is used for the input prompt
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "31", Dark: "39"}).
			Bold(true)

	// TitleStyle is used for banners and section headers
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "92", Dark: "141"}).
			Bold(true)

	// LabelStyle is used for field labels in /status
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "245"}).
			Width(12)

	// CommandStyle is used for command names and OK markers
	CommandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"})

	// ErrorStyle is used for the error slot
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// WarningStyle is used for notices and cancellations
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "166", Dark: "214"})

	// DimStyle is used for hints and secondary information
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "245", Dark: "242"})

	// UserStyle and AssistantStyle label roles in /history
	UserStyle      = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "31", Dark: "39"})
	AssistantStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "92", Dark: "141"})
)

// RenderSeparator renders a horizontal rule of the given width.
func RenderSeparator(width int) string {
	return DimStyle.Render(strings.Repeat("─", width))
}

// =============================================================================
// THEME
// =============================================================================

// ResolveTheme maps the configured theme to a glamour standard style name.
// "auto" picks by terminal background, and falls back to "notty" when
// colors are disabled.
func ResolveTheme(theme string) string {
	switch theme {
	case "dark", "light", "notty":
		return theme
	}
	if !ColorsEnabled() {
		return "notty"
	}
	if termenv.HasDarkBackground() {
		return "dark"
	}
	return "light"
}

// ApplyTheme sets the lipgloss background hint so adaptive colors match
// the glamour style.
func ApplyTheme(theme string) {
	lipgloss.SetHasDarkBackground(ResolveTheme(theme) != "light")
}

// NewMarkdownRenderer creates the renderer for finished replies.
// A wordWrap of zero wraps at the terminal width.
func NewMarkdownRenderer(theme string, wordWrap int) (*glamour.TermRenderer, error) {
	if wordWrap <= 0 {
		wordWrap = GetTerminalWidth() - 4
	}
	return glamour.NewTermRenderer(
		glamour.WithStandardStyle(ResolveTheme(theme)),
		glamour.WithWordWrap(wordWrap),
	)
}
