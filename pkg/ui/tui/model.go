package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"attachdl/pkg/checkpoint"
	"attachdl/pkg/models"
	"attachdl/pkg/transfer"
	"attachdl/pkg/ui"
)

// TransferState represents the state of one attachment transfer
type TransferState int

const (
	TransferActive TransferState = iota
	TransferCompleted
	TransferSkipped
	TransferFailed
)

// TransferItem represents a single attachment transfer
type TransferItem struct {
	ID        string
	FileName  string
	Size      int64
	State     TransferState
	StartTime time.Time
	Duration  time.Duration
	Attempts  int
	Error     error
}

// Model represents the TUI model
type Model struct {
	// UI components
	spinner  spinner.Model
	batchBar progress.Model

	tracker *ui.StatusTracker
	info    transfer.RunInfo
	workers int

	active      map[string]*TransferItem
	activeOrder []string
	recent      []*TransferItem
	maxRecent   int

	// batches not yet covered by the checkpoint
	sizes    map[int64]int
	recorded map[int64]int
	head     int64
	lastSave time.Time

	// UI state
	width          int
	height         int
	showHelp       bool
	logMessages    []LogMessage
	maxLogMessages int

	onQuit   func()
	stopping bool
	finished bool
	result   *transfer.Result
	runErr   error
}

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// NewModel creates a model for a pool of workers. onQuit is called once when the user asks
// to stop; it should cancel the run.
func NewModel(workers int, onQuit func()) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40

	return &Model{
		spinner:        s,
		batchBar:       bar,
		tracker:        ui.NewStatusTracker(),
		workers:        workers,
		active:         make(map[string]*TransferItem),
		maxRecent:      50,
		sizes:          make(map[int64]int),
		recorded:       make(map[int64]int),
		maxLogMessages: 50,
		onQuit:         onQuit,
	}
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// StartRun records where the run begins
func (m *Model) StartRun(info transfer.RunInfo) {
	m.info = info
	if info.Workers > 0 {
		m.workers = info.Workers
	}
	m.head = info.Cursor.Sequence
	m.tracker.Resume(info.Cursor.Sequence, info.Processed)

	if info.Resumed {
		m.AddLogMessage("INFO", "Resuming at batch %d (%d processed)", info.Cursor.Sequence, info.Processed)
	} else {
		m.AddLogMessage("INFO", "Starting run %s", info.RunID)
	}
}

// AddBatch registers a fetched batch
func (m *Model) AddBatch(seq int64, size int) {
	m.tracker.BatchFetched()
	m.sizes[seq] = size
	m.AddLogMessage("INFO", "Fetched batch %d (%d attachments)", seq, size)
}

// StartTransfer marks an attachment as in flight
func (m *Model) StartTransfer(d models.Descriptor) {
	m.tracker.Started()
	if _, ok := m.active[d.ID]; ok {
		return
	}
	m.active[d.ID] = &TransferItem{
		ID:        d.ID,
		FileName:  d.FileName,
		Size:      d.ByteSize,
		State:     TransferActive,
		StartTime: time.Now(),
	}
	m.activeOrder = append(m.activeOrder, d.ID)
}

// FinishTransfer applies a terminal outcome
func (m *Model) FinishTransfer(o models.Outcome) {
	m.tracker.Record(o)
	m.recorded[o.BatchSeq]++

	item, ok := m.active[o.Descriptor.ID]
	if !ok {
		item = &TransferItem{ID: o.Descriptor.ID, FileName: o.Descriptor.FileName, Size: o.Descriptor.ByteSize}
	}
	delete(m.active, o.Descriptor.ID)
	for i, id := range m.activeOrder {
		if id == o.Descriptor.ID {
			m.activeOrder = append(m.activeOrder[:i], m.activeOrder[i+1:]...)
			break
		}
	}

	item.Duration = o.Duration
	item.Attempts = o.Attempts
	switch {
	case o.Skipped:
		item.State = TransferSkipped
	case o.Success():
		item.State = TransferCompleted
	default:
		item.State = TransferFailed
		item.Error = o.Err
		m.AddLogMessage("ERROR", "%s: %v", o.Descriptor.ID, o.Err)
	}

	m.recent = append(m.recent, item)
	if len(m.recent) > m.maxRecent {
		m.recent = m.recent[len(m.recent)-m.maxRecent:]
	}
}

// SaveCheckpoint advances the checkpoint panel
func (m *Model) SaveCheckpoint(cp checkpoint.Checkpoint) {
	m.tracker.Checkpoint(cp)
	for seq := m.head; seq < cp.Cursor.Sequence; seq++ {
		delete(m.sizes, seq)
		delete(m.recorded, seq)
	}
	m.head = cp.Cursor.Sequence
	m.lastSave = time.Now()
	if cp.Completed {
		m.AddLogMessage("SUCCESS", "Checkpoint completed at %d processed", cp.ProcessedCount)
	}
}

// Finish records the end of the run
func (m *Model) Finish(res *transfer.Result, err error) {
	m.finished = true
	m.result = res
	m.runErr = err
	switch {
	case err != nil:
		m.AddLogMessage("ERROR", "Run stopped: %v", err)
	case res != nil && res.Interrupted:
		m.AddLogMessage("WARN", "Interrupted at batch %d", res.Checkpoint.Cursor.Sequence)
	default:
		m.AddLogMessage("SUCCESS", "Run finished")
	}
}

// Stop asks the run to stop. In-flight transfers are allowed to finish.
func (m *Model) Stop() {
	if m.stopping {
		return
	}
	m.stopping = true
	m.AddLogMessage("WARN", "Stopping, waiting for %d transfers in flight", len(m.active))
	if m.onQuit != nil {
		m.onQuit()
	}
}

// AddLogMessage adds a log message
func (m *Model) AddLogMessage(level, format string, args ...interface{}) {
	color := dimWhite
	switch level {
	case "ERROR":
		color = neonRed
	case "WARN":
		color = neonOrange
	case "SUCCESS":
		color = neonGreen
	case "INFO":
		color = neonCyan
	}

	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    time.Now(),
		Level:   level,
		Message: message,
		Color:   color,
	})

	// Keep only the last N messages
	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// ActiveTransfers returns in-flight transfers in start order
func (m *Model) ActiveTransfers() []*TransferItem {
	items := make([]*TransferItem, 0, len(m.activeOrder))
	for _, id := range m.activeOrder {
		if item := m.active[id]; item != nil {
			items = append(items, item)
		}
	}
	return items
}

// RecentTransfers returns up to n finished transfers, newest last
func (m *Model) RecentTransfers(n int) []*TransferItem {
	if n > len(m.recent) {
		n = len(m.recent)
	}
	return m.recent[len(m.recent)-n:]
}

// BatchProgress is the share of the batch at the checkpoint head that has outcomes
func (m *Model) BatchProgress() float64 {
	size := m.sizes[m.head]
	if size == 0 {
		return 0
	}
	p := float64(m.recorded[m.head]) / float64(size)
	if p > 1 {
		p = 1
	}
	return p
}

// Status returns the counters behind the stats panel
func (m *Model) Status() ui.Status {
	return m.tracker.Snapshot()
}

// FormatSpeed formats speed in bytes per second
func FormatSpeed(bytesPerSecond float64) string {
	return ui.FormatBytes(int64(bytesPerSecond)) + "/s"
}
