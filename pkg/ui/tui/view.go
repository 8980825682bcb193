package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"attachdl/pkg/ui"
)

// View renders the entire TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var sections []string

	sections = append(sections, logoStyle.Width(m.width).Render(strings.Trim(ui.ASCIILogo, "\n")))

	// Main content area with two columns
	mainContent := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderLeftColumn(),
		"  ",
		m.renderRightColumn(),
	)
	sections = append(sections, mainContent)

	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("Press ? for help"))
	}

	return baseStyle.Width(m.width).Height(m.height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)
}

func (m *Model) renderLeftColumn() string {
	width := (m.width - 4) / 2
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatsPanel(width),
		m.renderActivePanel(width),
		m.renderRecentPanel(width),
	)
}

func (m *Model) renderRightColumn() string {
	width := (m.width - 4) / 2
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderCheckpointPanel(width),
		m.renderWorkersPanel(width),
		m.renderLogsPanel(width),
	)
}

func stat(label, value string) string {
	return fmt.Sprintf("%s %s", statsLabelStyle.Render(label), statsValueStyle.Render(value))
}

// renderStatsPanel renders the statistics panel
func (m *Model) renderStatsPanel(width int) string {
	title := titleStyle.Render(" TRANSFER STATS ")
	s := m.Status()

	var speed float64
	if s.Elapsed > 0 {
		speed = float64(s.Bytes) / s.Elapsed.Seconds()
	}

	stats := []string{
		stat("Session Time:", formatDuration(s.Elapsed)),
		stat("Transferred:", fmt.Sprintf("%d files", s.Succeeded-s.Skipped)),
		stat("Already Present:", fmt.Sprintf("%d files", s.Skipped)),
		stat("Total Size:", ui.FormatBytes(s.Bytes)),
		fmt.Sprintf("%s %s", statsLabelStyle.Render("Throughput:"), speedStyle.Render(FormatSpeed(speed))),
		stat("Rate:", fmt.Sprintf("%.1f/min", s.Rate())),
	}
	if s.Permanent > 0 {
		stats = append(stats, errorStyle.Render(fmt.Sprintf("✗ %d failed permanently", s.Permanent)))
	}
	if s.Exhausted > 0 {
		stats = append(stats, warningStyle.Render(fmt.Sprintf("⟳ %d gave up after retries", s.Exhausted)))
	}
	if m.stopping && !m.finished {
		stats = append(stats, warningStyle.Render("⏸  STOPPING"))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, stats...)),
	)
}

// renderActivePanel renders the transfers in flight
func (m *Model) renderActivePanel(width int) string {
	title := titleStyle.Render(" ACTIVE TRANSFERS ")

	active := m.ActiveTransfers()
	if len(active) == 0 {
		content := dimStyle.Render("No active transfers")
		return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
	}

	var rows []string
	for _, item := range active {
		rows = append(rows, fmt.Sprintf("%s %s %s",
			m.spinner.View(),
			itemActiveStyle.Render(truncate(item.FileName, width-30)),
			dimStyle.Render(ui.FormatBytes(item.Size)+" • "+formatDuration(time.Since(item.StartTime))),
		))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, rows...)),
	)
}

// renderRecentPanel renders the last finished transfers
func (m *Model) renderRecentPanel(width int) string {
	title := titleStyle.Render(" RECENT ")

	recent := m.RecentTransfers(5)
	if len(recent) == 0 {
		content := dimStyle.Render("Nothing finished yet")
		return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
	}

	var rows []string
	for _, item := range recent {
		name := truncate(item.FileName, width-20)
		switch item.State {
		case TransferFailed:
			rows = append(rows, errorStyle.Render("✗ "+name))
		case TransferSkipped:
			rows = append(rows, itemDoneStyle.Render("= "+name))
		default:
			rows = append(rows, itemDoneStyle.Render(fmt.Sprintf("✓ %s (%d attempts)", name, item.Attempts)))
		}
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, rows...)),
	)
}

// renderCheckpointPanel renders the checkpoint position and the head batch
func (m *Model) renderCheckpointPanel(width int) string {
	title := titleStyle.Render(" CHECKPOINT ")
	s := m.Status()

	saved := "never"
	if !m.lastSave.IsZero() {
		saved = formatDuration(time.Since(m.lastSave)) + " ago"
	}

	bar := m.batchBar
	bar.Width = width - 8
	if bar.Width < 10 {
		bar.Width = 10
	}

	content := []string{
		stat("Run:", m.info.RunID),
		stat("Batch:", fmt.Sprintf("%d (%d fetched this run)", s.Sequence, s.Fetched)),
		stat("Processed:", fmt.Sprintf("%d", s.Processed)),
		stat("Last Save:", saved),
		bar.ViewAs(m.BatchProgress()),
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(content, "\n")),
	)
}

// renderWorkersPanel renders worker usage
func (m *Model) renderWorkersPanel(width int) string {
	title := titleStyle.Render(" WORKERS ")

	busy := len(m.active)
	usage := 0.0
	if m.workers > 0 {
		usage = float64(busy) / float64(m.workers) * 100
	}

	barWidth := width - 8
	if barWidth < 10 {
		barWidth = 10
	}
	filled := int(usage * float64(barWidth) / 100)
	if filled > barWidth {
		filled = barWidth
	}

	style := GetUsageStyle(usage)
	bar := style.Render(strings.Repeat("█", filled)) +
		progressEmptyStyle.Render(strings.Repeat("░", barWidth-filled))

	content := []string{
		fmt.Sprintf("%s %s", statsLabelStyle.Render("Busy:"),
			style.Render(fmt.Sprintf("%d/%d (%.0f%%)", busy, m.workers, usage))),
		bar,
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(content, "\n")),
	)
}

// renderLogsPanel renders the logs panel
func (m *Model) renderLogsPanel(width int) string {
	title := titleStyle.Render(" LOG ")

	start := len(m.logMessages) - 10
	if start < 0 {
		start = 0
	}

	var logs []string
	for _, log := range m.logMessages[start:] {
		timestamp := logTimestampStyle.Render(log.Time.Format("15:04:05"))
		level := lipgloss.NewStyle().Foreground(log.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", log.Level))
		message := logMessageStyle.Render(truncate(log.Message, width-25))
		logs = append(logs, fmt.Sprintf("%s %s %s", timestamp, level, message))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = dimStyle.Render("No logs yet...")
	}

	logsHeight := m.height - 30
	if logsHeight < 5 {
		logsHeight = 5
	}

	return panelStyle.Width(width).Height(logsHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

// renderHelp renders the help panel
func (m *Model) renderHelp() string {
	help := `
  Keys:
    q/Q      - Stop the run (press again to leave immediately)
    ctrl+l   - Clear the log
    ?        - Toggle this help

  Recent transfers:
    ` + successStyle.Render("✓") + `        - Downloaded
    ` + dimStyle.Render("=") + `        - Already present, skipped
    ` + errorStyle.Render("✗") + `        - Failed

  Stopping lets transfers in flight finish; the next run resumes
  from the last checkpoint.
`

	return panelStyle.Width(m.width).Render(help)
}

func truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
