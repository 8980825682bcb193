package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"attachdl/pkg/checkpoint"
	"attachdl/pkg/models"
	"attachdl/pkg/transfer"
)

// TUI is a full-screen dashboard for a transfer run. It implements transfer.Observer, so it
// can be handed straight to the engine; Start must already be running when events arrive.
type TUI struct {
	program *tea.Program
	model   *Model
}

var _ transfer.Observer = (*TUI)(nil)

// NewTUI creates a dashboard. onQuit is called when the user presses q.
func NewTUI(workers int, onQuit func(), opts ...tea.ProgramOption) *TUI {
	model := NewModel(workers, onQuit)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	program := tea.NewProgram(model, opts...)

	return &TUI{
		program: program,
		model:   model,
	}
}

// Start runs the TUI until the run finishes or the user leaves
func (t *TUI) Start() error {
	_, err := t.program.Run()
	return err
}

// Stop stops the TUI gracefully
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send sends a message to the TUI
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

func (t *TUI) RunStarted(info transfer.RunInfo) {
	t.Send(RunStartedMsg{Info: info})
}

func (t *TUI) BatchFetched(b *models.Batch) {
	t.Send(BatchFetchedMsg{Sequence: b.Sequence, Size: b.Size()})
}

func (t *TUI) ItemStarted(d models.Descriptor) {
	t.Send(TransferStartMsg{Descriptor: d})
}

func (t *TUI) OutcomeRecorded(o models.Outcome) {
	t.Send(OutcomeMsg{Outcome: o})
}

func (t *TUI) CheckpointSaved(cp checkpoint.Checkpoint) {
	t.Send(CheckpointMsg{Checkpoint: cp})
}

// Finish reports the end of the run; the dashboard closes itself
func (t *TUI) Finish(res *transfer.Result, err error) {
	t.Send(RunFinishedMsg{Result: res, Err: err})
}

// Log sends a log message to the TUI
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}
