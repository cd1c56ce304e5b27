// Package tui provides the Bubble Tea progress view for backfill sync.
//
// The view is opt-in (--tui) and only displays session state. It never
// produces information that the plain output lacks.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for status labels in the target list.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(9)

	// ValueStyle for plain values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	// SuccessStyle for synced and viewed targets.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// WarningStyle for the target in flight.
	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// ErrorStyle for failed targets.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// MutedStyle for pending and skipped targets.
	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// StatBoxStyle for count boxes.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 2).
			Width(14).
			Align(lipgloss.Center)

	// StatLabelStyle for count labels.
	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Align(lipgloss.Center)

	// StatValueStyle for count values.
	StatValueStyle = lipgloss.NewStyle().
			Bold(true).
			Align(lipgloss.Center)
)

// StatusColor returns the palette color of a target status.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "synced", "viewed":
		return successColor
	case "running":
		return warningColor
	case "failed":
		return errorColor
	default:
		return mutedColor
	}
}

// StatusStyle returns a style based on the target status string.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "synced", "viewed":
		return SuccessStyle
	case "running":
		return WarningStyle
	case "failed":
		return ErrorStyle
	case "pending", "skipped":
		return MutedStyle
	default:
		return ValueStyle
	}
}
