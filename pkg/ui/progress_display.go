package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"attachdl/pkg/checkpoint"
	"attachdl/pkg/models"
	"attachdl/pkg/transfer"
)

const redrawInterval = 100 * time.Millisecond

// ProgressDisplay provides a clean, minimal progress display. It implements transfer.Observer.
type ProgressDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	label   string
	tracker *StatusTracker
	current string
	verbose bool

	// sizes and recorded counts of batches not yet checkpointed
	sizes    map[int64]int
	recorded map[int64]int
	head     int64

	lastDraw time.Time
}

var _ transfer.Observer = (*ProgressDisplay)(nil)

// NewProgressDisplay creates a display writing to out, or stdout when out is nil. In verbose
// mode every outcome gets its own line instead of the single redrawn status line.
func NewProgressDisplay(out io.Writer, label string, verbose bool) *ProgressDisplay {
	if out == nil {
		out = os.Stdout
	}
	return &ProgressDisplay{
		out:      out,
		label:    label,
		tracker:  NewStatusTracker(),
		verbose:  verbose,
		sizes:    make(map[int64]int),
		recorded: make(map[int64]int),
	}
}

// Tracker exposes the counters behind the display.
func (p *ProgressDisplay) Tracker() *StatusTracker {
	return p.tracker
}

func (p *ProgressDisplay) RunStarted(info transfer.RunInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.head = info.Cursor.Sequence
	p.tracker.Resume(info.Cursor.Sequence, info.Processed)
	if info.Resumed {
		fmt.Fprintf(p.out, "%s Resuming at batch %d, %d attachments already processed\n",
			Magenta("→"), info.Cursor.Sequence, info.Processed)
	} else {
		fmt.Fprintf(p.out, "%s Starting run %s\n", Magenta("→"), Dim(info.RunID))
	}
	fmt.Fprintf(p.out, "  %s %d workers, batches of %d\n", Dim("•"), info.Workers, info.BatchSize)
}

func (p *ProgressDisplay) BatchFetched(b *models.Batch) {
	p.tracker.BatchFetched()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sizes[b.Sequence] = b.Size()
	if p.verbose {
		fmt.Fprintf(p.out, "%s Fetched batch %d (%d attachments)\n", Magenta("→"), b.Sequence, b.Size())
	}
}

func (p *ProgressDisplay) ItemStarted(d models.Descriptor) {
	p.tracker.Started()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = d.FileName
	p.redraw(false)
}

func (p *ProgressDisplay) OutcomeRecorded(o models.Outcome) {
	p.tracker.Record(o)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorded[o.BatchSeq]++

	if !p.verbose {
		p.redraw(false)
		return
	}
	switch {
	case o.Skipped:
		fmt.Fprintf(p.out, "%s %s %s\n", Dim("="), o.Descriptor.ID, Dim("already present"))
	case o.Success():
		fmt.Fprintf(p.out, "%s %s • %s • %s\n", Green("✓"), o.Descriptor.ID, o.Descriptor.FileName, FormatBytes(o.Bytes))
	default:
		fmt.Fprintf(p.out, "%s %s • %s • %v\n", Red("✗"), o.Descriptor.ID, o.Descriptor.FileName, o.Err)
	}
}

func (p *ProgressDisplay) CheckpointSaved(cp checkpoint.Checkpoint) {
	p.tracker.Checkpoint(cp)

	p.mu.Lock()
	defer p.mu.Unlock()
	for seq := p.head; seq < cp.Cursor.Sequence; seq++ {
		delete(p.sizes, seq)
		delete(p.recorded, seq)
	}
	p.head = cp.Cursor.Sequence
	if p.verbose {
		fmt.Fprintf(p.out, "%s Checkpoint at batch %d, %d processed\n", Cyan("●"), cp.Cursor.Sequence, cp.ProcessedCount)
	}
	p.redraw(true)
}

// redraw prints the status line, at most every redrawInterval unless forced.
func (p *ProgressDisplay) redraw(force bool) {
	if p.verbose {
		return
	}
	now := time.Now()
	if !force && now.Sub(p.lastDraw) < redrawInterval {
		return
	}
	p.lastDraw = now

	s := p.tracker.Snapshot()
	bar := Bar(p.recorded[p.head], p.sizes[p.head], 20)

	line := fmt.Sprintf("%s [%s] batch %d • %d done • %.1f/min • %s",
		Cyan(p.label),
		bar,
		p.head,
		s.Processed+p.pending(),
		s.Rate(),
		FormatBytes(s.Bytes),
	)
	if p.current != "" {
		line += fmt.Sprintf(" • %s", truncate(p.current, 30))
	}
	if s.Failed() > 0 {
		line += fmt.Sprintf(" • %s", Red(fmt.Sprintf("%d failed", s.Failed())))
	}

	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 120), line)
}

// pending counts outcomes not yet covered by the checkpoint.
func (p *ProgressDisplay) pending() int64 {
	var n int64
	for _, c := range p.recorded {
		n += int64(c)
	}
	return n
}

// Complete prints the run summary.
func (p *ProgressDisplay) Complete(res *transfer.Result, runErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.verbose {
		fmt.Fprintln(p.out)
	}
	if res == nil {
		fmt.Fprintf(p.out, "\n%s %v\n", Red("✗"), runErr)
		return
	}

	sum := res.Summary
	switch {
	case runErr != nil:
		fmt.Fprintf(p.out, "\n%s Run stopped: %v\n", Red("✗"), runErr)
	case res.Interrupted:
		fmt.Fprintf(p.out, "\n%s Interrupted; the next run resumes at batch %d\n", Yellow("⚠"), res.Checkpoint.Cursor.Sequence)
	case res.Completed && sum.Processed() == 0:
		fmt.Fprintf(p.out, "\n%s Nothing to do, all %d attachments were processed by run %s\n",
			Green("✓"), res.Checkpoint.ProcessedCount, res.Checkpoint.RunID)
		return
	default:
		fmt.Fprintf(p.out, "\n%s Transferred %d attachments from %s\n", Green("✓"), sum.Succeeded-sum.Skipped, p.label)
	}

	fmt.Fprintf(p.out, "  %s %s in %s\n", Dim("•"), FormatBytes(sum.Bytes), FormatDuration(res.Duration))
	if sum.Skipped > 0 {
		fmt.Fprintf(p.out, "  %s %d already present\n", Dim("•"), sum.Skipped)
	}
	if sum.PermanentFailures > 0 {
		fmt.Fprintf(p.out, "  %s %d failed permanently\n", Dim("•"), sum.PermanentFailures)
	}
	if sum.ExhaustedRetries > 0 {
		fmt.Fprintf(p.out, "  %s %d gave up after retries\n", Dim("•"), sum.ExhaustedRetries)
	}
	fmt.Fprintf(p.out, "  %s checkpoint: batch %d, %d processed in total\n",
		Dim("•"), res.Checkpoint.Cursor.Sequence, res.Checkpoint.ProcessedCount)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
