package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Status colors
	colorPending    = lipgloss.Color("240") // gray
	colorInProgress = lipgloss.Color("33")  // blue
	colorUpdated    = lipgloss.Color("46")  // green
	colorSkipped    = lipgloss.Color("244") // dim gray
	colorFailed     = lipgloss.Color("196") // red

	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			PaddingLeft(1).
			PaddingRight(1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginTop(1).
			MarginBottom(0)

	repoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("cyan"))

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	doneStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorUpdated).
			MarginTop(1)

	failedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorFailed).
			MarginTop(1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

// Status icons and labels
func statusIcon(status string) string {
	switch status {
	case "pending":
		return "⏳"
	case "in_progress":
		return "⚙️"
	case "updated":
		return "✅"
	case "skipped":
		return "⏭️"
	case "failed":
		return "❌"
	default:
		return "❓"
	}
}

func statusColor(status string) lipgloss.Color {
	switch status {
	case "pending":
		return colorPending
	case "in_progress":
		return colorInProgress
	case "updated":
		return colorUpdated
	case "skipped":
		return colorSkipped
	case "failed":
		return colorFailed
	default:
		return lipgloss.Color("252")
	}
}
