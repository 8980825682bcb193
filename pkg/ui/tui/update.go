package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"attachdl/pkg/checkpoint"
	"attachdl/pkg/models"
	"attachdl/pkg/transfer"
)

// Message types for the TUI

// RunStartedMsg is sent when the engine has loaded its checkpoint
type RunStartedMsg struct {
	Info transfer.RunInfo
}

// BatchFetchedMsg is sent when a batch has been queued
type BatchFetchedMsg struct {
	Sequence int64
	Size     int
}

// TransferStartMsg is sent when a worker picks up an attachment
type TransferStartMsg struct {
	Descriptor models.Descriptor
}

// OutcomeMsg is sent when an attachment reaches a terminal state
type OutcomeMsg struct {
	Outcome models.Outcome
}

// CheckpointMsg is sent after every checkpoint save
type CheckpointMsg struct {
	Checkpoint checkpoint.Checkpoint
}

// RunFinishedMsg is sent once the engine has returned
type RunFinishedMsg struct {
	Result *transfer.Result
	Err    error
}

// LogMsg is sent to add a log message
type LogMsg struct {
	Level   string
	Message string
}

// TickMsg is sent periodically to update the UI
type TickMsg time.Time

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		return m, tickCmd()

	case RunStartedMsg:
		m.StartRun(msg.Info)
		return m, nil

	case BatchFetchedMsg:
		m.AddBatch(msg.Sequence, msg.Size)
		return m, nil

	case TransferStartMsg:
		m.StartTransfer(msg.Descriptor)
		return m, nil

	case OutcomeMsg:
		m.FinishTransfer(msg.Outcome)
		return m, nil

	case CheckpointMsg:
		m.SaveCheckpoint(msg.Checkpoint)
		return m, nil

	case RunFinishedMsg:
		m.Finish(msg.Result, msg.Err)
		return m, tea.Quit

	case LogMsg:
		m.AddLogMessage(msg.Level, msg.Message)
		return m, nil
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		// a second request leaves without waiting for the run
		if m.finished || m.stopping {
			return m, tea.Quit
		}
		m.Stop()
		return m, nil

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		m.logMessages = []LogMessage{}
		return m, nil
	}

	return m, nil
}

// Commands

// tickCmd returns a command that sends a tick message
func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*250, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
