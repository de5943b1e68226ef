package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Yellow
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor = lipgloss.Color("#6B7280") // Gray

	// Base styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// Status styles
	statusActiveStyle = lipgloss.NewStyle().
				Foreground(secondaryColor).
				Bold(true)

	statusPendingStyle = lipgloss.NewStyle().
				Foreground(warningColor)

	statusErrorStyle = lipgloss.NewStyle().
				Foreground(errorColor)

	statusMutedStyle = lipgloss.NewStyle().
				Foreground(mutedColor)

	// Tab styles
	tabStyle = lipgloss.NewStyle().
			Padding(0, 2).
			Foreground(mutedColor)

	activeTabStyle = lipgloss.NewStyle().
			Padding(0, 2).
			Foreground(primaryColor).
			Bold(true).
			Underline(true)

	// Help style
	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)
)

// StatusIcon returns an icon for a status
func StatusIcon(status string) string {
	switch status {
	case "active", "running", "enabled", "valid":
		return statusActiveStyle.Render("●")
	case "pending", "waiting", "modified":
		return statusPendingStyle.Render("○")
	case "error", "failed", "invalid":
		return statusErrorStyle.Render("✗")
	case "completed", "done":
		return statusActiveStyle.Render("✓")
	default:
		return statusMutedStyle.Render("○")
	}
}
