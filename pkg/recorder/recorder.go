package recorder

import (
	"fmt"
	"sync"
	"time"

	"attachdl/pkg/checkpoint"
	errs "attachdl/pkg/errors"
	"attachdl/pkg/logger"
	"attachdl/pkg/models"
)

// Summary counts the terminal outcomes recorded during one run.
type Summary struct {
	Succeeded         int64
	Skipped           int64
	PermanentFailures int64
	ExhaustedRetries  int64
	Batches           int64
	Bytes             int64
}

// Processed is the number of descriptors with a terminal outcome.
func (s Summary) Processed() int64 {
	return s.Succeeded + s.PermanentFailures + s.ExhaustedRetries
}

// Failed reports whether any descriptor ended without its content.
func (s Summary) Failed() int64 {
	return s.PermanentFailures + s.ExhaustedRetries
}

// Options configures a Recorder.
type Options struct {
	Store  checkpoint.Store
	Sinks  []Sink
	RunID  string
	Logger logger.Logger
	// OnFlush is called with every checkpoint after it has been saved
	OnFlush func(cp checkpoint.Checkpoint)
	// Now is used for timestamps; defaults to time.Now
	Now func() time.Time
}

type batchState struct {
	size     int
	recorded int
	next     models.Cursor
	final    bool

	succeeded, skipped, permanent, exhausted int64
}

// Recorder writes every outcome to its sinks and advances the checkpoint once a batch,
// and every batch before it, has a terminal outcome for each descriptor.
type Recorder struct {
	mu      sync.Mutex
	store   checkpoint.Store
	sinks   []Sink
	runID   string
	logger  logger.Logger
	onFlush func(cp checkpoint.Checkpoint)
	now     func() time.Time

	cp        checkpoint.Checkpoint
	nextFlush int64
	pending   map[int64]*batchState
	summary   Summary
	closed    bool
}

// New creates a recorder continuing from base, the checkpoint the run resumed from.
func New(base *checkpoint.Checkpoint, opts Options) *Recorder {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if base == nil {
		base = &checkpoint.Checkpoint{Version: checkpoint.CurrentVersion}
	}
	return &Recorder{
		store:     opts.Store,
		sinks:     opts.Sinks,
		runID:     opts.RunID,
		logger:    opts.Logger.WithField("component", "recorder"),
		onFlush:   opts.OnFlush,
		now:       opts.Now,
		cp:        *base,
		nextFlush: base.Cursor.Sequence,
		pending:   make(map[int64]*batchState),
	}
}

// Track registers a batch before any of its outcomes arrive. Empty batches are ignored.
func (r *Recorder) Track(b *models.Batch) error {
	if b.Size() == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b.Sequence < r.nextFlush {
		return fmt.Errorf("batch %d already flushed", b.Sequence)
	}
	if _, ok := r.pending[b.Sequence]; ok {
		return fmt.Errorf("batch %d already tracked", b.Sequence)
	}
	r.pending[b.Sequence] = &batchState{
		size:  b.Size(),
		next:  b.Next,
		final: b.Final,
	}
	return nil
}

// Record consumes one terminal outcome. A non-nil error means the run must stop: either a
// sink or the checkpoint store failed, or the outcome itself is a storage failure.
func (r *Recorder) Record(o models.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder closed")
	}

	st, ok := r.pending[o.BatchSeq]
	if !ok {
		return fmt.Errorf("outcome for %s belongs to untracked batch %d", o.Descriptor.ID, o.BatchSeq)
	}

	now := r.now()
	if o.Success() {
		// every success gets a row, including content found in place, so a file that
		// landed before a crash is still logged when the retried batch skips it
		rec := metadataFromOutcome(o, r.runID, now)
		for _, s := range r.sinks {
			if err := s.WriteMetadata(rec); err != nil {
				return err
			}
		}
		if o.Skipped {
			st.skipped++
			r.summary.Skipped++
		} else {
			r.summary.Bytes += o.Bytes
		}
		st.succeeded++
		r.summary.Succeeded++
	} else {
		kind := errs.KindOf(o.Err)
		if kind == errs.KindStorage {
			return o.Err
		}
		// a transient error here means the budget ran out without being wrapped
		if kind == errs.KindTransient {
			kind = errs.KindExhaustedRetries
		}

		rec := errorFromOutcome(o, kind, r.runID, now)
		for _, s := range r.sinks {
			if err := s.WriteError(rec); err != nil {
				return err
			}
		}
		if kind == errs.KindExhaustedRetries {
			st.exhausted++
			r.summary.ExhaustedRetries++
		} else {
			st.permanent++
			r.summary.PermanentFailures++
		}
	}

	st.recorded++
	return r.flush()
}

// flush saves a checkpoint for every complete batch at the head of the sequence.
func (r *Recorder) flush() error {
	for {
		st, ok := r.pending[r.nextFlush]
		if !ok || st.recorded < st.size {
			return nil
		}

		for _, s := range r.sinks {
			if err := s.Sync(); err != nil {
				return err
			}
		}

		now := r.now()
		cp := r.cp
		cp.Cursor = st.next
		cp.ProcessedCount += int64(st.size)
		cp.Succeeded += st.succeeded
		cp.Skipped += st.skipped
		cp.PermanentFailures += st.permanent
		cp.ExhaustedRetries += st.exhausted
		cp.Completed = st.final
		cp.RunID = r.runID
		cp.UpdatedAt = now
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.Version = checkpoint.CurrentVersion

		if err := r.store.Save(&cp); err != nil {
			return err
		}

		r.cp = cp
		delete(r.pending, r.nextFlush)
		r.summary.Batches++
		r.logger.InfoWithFields("Checkpoint advanced", map[string]interface{}{
			"batch":     r.nextFlush,
			"size":      st.size,
			"processed": cp.ProcessedCount,
			"final":     st.final,
		})
		r.nextFlush++

		if r.onFlush != nil {
			r.onFlush(cp)
		}
	}
}

// Complete marks the checkpoint completed once the record set is exhausted. It is a no-op
// when batches are still pending or the last flushed batch was already final.
func (r *Recorder) Complete() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cp.Completed || len(r.pending) > 0 {
		return nil
	}

	cp := r.cp
	cp.Completed = true
	cp.RunID = r.runID
	cp.UpdatedAt = r.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	cp.Version = checkpoint.CurrentVersion
	if err := r.store.Save(&cp); err != nil {
		return err
	}
	r.cp = cp
	return nil
}

// Pending is the number of tracked batches not yet flushed.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

// Checkpoint returns the last checkpoint saved, or the base when nothing was flushed yet.
func (r *Recorder) Checkpoint() checkpoint.Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cp
}

// Close syncs and closes every sink. Batches that never completed are left unflushed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if len(r.pending) > 0 {
		r.logger.WarnWithFields("Closing with unflushed batches", map[string]interface{}{
			"pending":    len(r.pending),
			"next_batch": r.nextFlush,
		})
	}

	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
