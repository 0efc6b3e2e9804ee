// Package tui provides Bubble Tea components for the vellum CLI: a live
// generation preview and a usage summary.
//
// TUI is opt-in (--tui) and shows the same data as non-TUI output.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/vellum/types"
)

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(16)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	// ThinkingStyle for reasoning progress text.
	ThinkingStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(mutedColor)

	// BoxStyle for bordered containers.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	// StatusBarStyle for the preview header line.
	StatusBarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(highlightColor)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
)

// StateStyle returns the style for a session state.
func StateStyle(state types.SessionState) lipgloss.Style {
	switch state {
	case types.StateCompleted:
		return successStyle
	case types.StateConnecting, types.StateStreaming:
		return warningStyle
	case types.StateReconnecting, types.StateFailed:
		return errorStyle
	default:
		return ValueStyle
	}
}
