package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"attachdl/pkg/checkpoint"
	errs "attachdl/pkg/errors"
	"attachdl/pkg/models"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// Status is a point-in-time copy of a StatusTracker.
type Status struct {
	Succeeded int64
	Skipped   int64
	Permanent int64
	Exhausted int64
	Bytes     int64
	Active    int
	// Fetched counts batches handed out by the paginator in this run
	Fetched int64
	// Sequence and Processed mirror the last saved checkpoint
	Sequence  int64
	Processed int64
	Elapsed   time.Duration
}

// Done counts outcomes seen in this run.
func (s Status) Done() int64 {
	return s.Succeeded + s.Permanent + s.Exhausted
}

func (s Status) Failed() int64 {
	return s.Permanent + s.Exhausted
}

// Rate returns finished attachments per minute.
func (s Status) Rate() float64 {
	if s.Elapsed < time.Second {
		return 0
	}
	return float64(s.Done()) / s.Elapsed.Minutes()
}

// StatusTracker keeps track of transfer progress. It is safe for concurrent use.
type StatusTracker struct {
	mu     sync.Mutex
	status Status
	start  time.Time
	now    func() time.Time
}

// NewStatusTracker creates a new status tracker
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{start: time.Now(), now: time.Now}
}

// Resume seeds the checkpoint counters of a resumed run.
func (st *StatusTracker) Resume(sequence, processed int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.Sequence = sequence
	st.status.Processed = processed
}

func (st *StatusTracker) BatchFetched() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.Fetched++
}

func (st *StatusTracker) Started() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.Active++
}

// Record counts one terminal outcome.
func (st *StatusTracker) Record(o models.Outcome) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.status.Active > 0 {
		st.status.Active--
	}
	switch {
	case o.Success():
		st.status.Succeeded++
		if o.Skipped {
			st.status.Skipped++
		} else {
			st.status.Bytes += o.Bytes
		}
	case errs.KindOf(o.Err) == errs.KindPermanent:
		st.status.Permanent++
	default:
		st.status.Exhausted++
	}
}

func (st *StatusTracker) Checkpoint(cp checkpoint.Checkpoint) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.Sequence = cp.Cursor.Sequence
	st.status.Processed = cp.ProcessedCount
}

// Snapshot returns the current counters.
func (st *StatusTracker) Snapshot() Status {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.status
	s.Elapsed = st.now().Sub(st.start)
	return s
}

// Bar renders a fixed-width bar for done out of total.
func Bar(done, total, width int) string {
	if total <= 0 || width <= 0 {
		return strings.Repeat(ProgressEmpty, width)
	}
	filled := done * width / total
	if filled > width {
		filled = width
	}
	return strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, width-filled)
}

// FormatBytes formats bytes in a human-readable way
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
