package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// Cyberpunk color palette
	neonCyan    = lipgloss.Color("#00FFFF")
	neonMagenta = lipgloss.Color("#FF00FF")
	neonGreen   = lipgloss.Color("#39FF14")
	neonYellow  = lipgloss.Color("#FFFF00")
	neonOrange  = lipgloss.Color("#FF6700")
	neonRed     = lipgloss.Color("#FF0000")
	darkBg      = lipgloss.Color("#0A0E27")
	darkBg2     = lipgloss.Color("#1A1E37")
	dimWhite    = lipgloss.Color("#B0B0B0")

	// Base styles
	baseStyle = lipgloss.NewStyle().
			Background(darkBg).
			Foreground(dimWhite)

	logoStyle = lipgloss.NewStyle().
			Foreground(neonCyan).
			Bold(true).
			Align(lipgloss.Center)

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(neonMagenta).
			Background(darkBg2).
			Padding(1, 2)

	progressBarStyle = lipgloss.NewStyle().
				Foreground(neonGreen).
				Background(darkBg)

	progressEmptyStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#333333"))

	// Stats styles
	statsLabelStyle = lipgloss.NewStyle().
			Foreground(neonCyan).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(neonYellow)

	// Status styles
	successStyle = lipgloss.NewStyle().
			Foreground(neonGreen).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(neonRed).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(neonOrange).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimWhite)

	// Transfer item styles
	itemActiveStyle = lipgloss.NewStyle().
			Foreground(neonGreen).
			Bold(true).
			PaddingLeft(2)

	itemDoneStyle = lipgloss.NewStyle().
			Foreground(dimWhite).
			Faint(true).
			PaddingLeft(2)

	// Log styles
	logTimestampStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666"))

	logMessageStyle = lipgloss.NewStyle().
			Foreground(dimWhite)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Padding(1, 0, 0, 2)

	// Title styles for panels
	titleStyle = lipgloss.NewStyle().
			Background(neonMagenta).
			Foreground(darkBg).
			Bold(true).
			Padding(0, 1)

	usageNormalStyle = lipgloss.NewStyle().
				Foreground(neonGreen)

	usageWarningStyle = lipgloss.NewStyle().
				Foreground(neonOrange)

	usageCriticalStyle = lipgloss.NewStyle().
				Foreground(neonRed)

	speedStyle = lipgloss.NewStyle().
			Foreground(neonCyan)
)

// GetProgressBarStyle returns the appropriate style based on progress percentage
func GetProgressBarStyle(percentage float64) lipgloss.Style {
	switch {
	case percentage >= 80:
		return progressBarStyle.Foreground(neonGreen)
	case percentage >= 50:
		return progressBarStyle.Foreground(neonYellow)
	case percentage >= 30:
		return progressBarStyle.Foreground(neonOrange)
	default:
		return progressBarStyle.Foreground(neonMagenta)
	}
}

// GetUsageStyle returns the style for a worker usage percentage; idle workers show red
func GetUsageStyle(usage float64) lipgloss.Style {
	switch {
	case usage >= 70:
		return usageNormalStyle
	case usage >= 30:
		return usageWarningStyle
	default:
		return usageCriticalStyle
	}
}
