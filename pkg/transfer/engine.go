package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"attachdl/internal/downloader"
	"attachdl/pkg/checkpoint"
	"attachdl/pkg/logger"
	"attachdl/pkg/models"
	"attachdl/pkg/paginator"
	"attachdl/pkg/recorder"
)

// Observer receives progress notifications. Methods are called from several goroutines.
type Observer interface {
	RunStarted(info RunInfo)
	BatchFetched(b *models.Batch)
	ItemStarted(d models.Descriptor)
	OutcomeRecorded(o models.Outcome)
	CheckpointSaved(cp checkpoint.Checkpoint)
}

// RunInfo describes where a run starts.
type RunInfo struct {
	RunID     string
	Resumed   bool
	Cursor    models.Cursor
	Processed int64
	Workers   int
	BatchSize int
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) RunStarted(RunInfo) {}
func (NopObserver) BatchFetched(*models.Batch) {}
func (NopObserver) ItemStarted(models.Descriptor) {}
func (NopObserver) OutcomeRecorded(models.Outcome) {}
func (NopObserver) CheckpointSaved(checkpoint.Checkpoint) {}

// Options controls one run.
type Options struct {
	// Restart ignores the persisted checkpoint, backing it up first when the store supports it
	Restart bool
}

// Result is the report of a finished, failed or interrupted run.
type Result struct {
	RunID       string
	Summary     recorder.Summary
	Checkpoint  checkpoint.Checkpoint
	Resumed     bool
	Completed   bool
	Interrupted bool
	MaxInFlight int
	Duration    time.Duration
}

// Engine drives a run: one coordinator pulls batches and queues their descriptors, the
// worker pool transfers them, and a single consumer hands every outcome to the recorder.
type Engine struct {
	paginator *paginator.Paginator
	pool      *downloader.WorkerPool
	store     checkpoint.Store
	sinks     []recorder.Sink
	observer  Observer
	logger    logger.Logger
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Paginator *paginator.Paginator
	Pool      *downloader.WorkerPool
	Store     checkpoint.Store
	Sinks     []recorder.Sink
	Observer  Observer
	Logger    logger.Logger
}

func New(deps Deps) (*Engine, error) {
	if deps.Paginator == nil || deps.Pool == nil || deps.Store == nil {
		return nil, fmt.Errorf("paginator, worker pool and checkpoint store are required")
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetLogger()
	}
	deps.Pool.OnStart(deps.Observer.ItemStarted)
	return &Engine{
		paginator: deps.Paginator,
		pool:      deps.Pool,
		store:     deps.Store,
		sinks:     deps.Sinks,
		observer:  deps.Observer,
		logger:    deps.Logger.WithField("component", "engine"),
	}, nil
}

func (e *Engine) closeSinks() error {
	var firstErr error
	for _, s := range e.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type backupStore interface {
	Backup() (string, error)
}

// Run transfers everything after the persisted checkpoint. It returns an error only for
// failures that end the run early: storage failures and batches that could not be
// fetched. Cancelling ctx stops queueing new work; the result then has Interrupted set
// and the checkpoint stays at the last fully recorded batch.
//
// The engine owns its sinks and closes them before returning, so Run is called once.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()

	cp, err := e.loadCheckpoint(opts)
	if err != nil {
		e.closeSinks()
		return nil, err
	}

	res := &Result{
		RunID:      uuid.NewString(),
		Resumed:    !cp.IsZero(),
		Checkpoint: *cp,
	}
	if cp.Completed {
		e.logger.InfoWithFields("Checkpoint already completed, nothing to do", map[string]interface{}{
			"processed": cp.ProcessedCount,
			"run_id":    cp.RunID,
		})
		res.Completed = true
		return res, e.closeSinks()
	}

	rec := recorder.New(cp, recorder.Options{
		Store:   e.store,
		Sinks:   e.sinks,
		RunID:   res.RunID,
		Logger:  e.logger,
		OnFlush: e.observer.CheckpointSaved,
	})

	e.observer.RunStarted(RunInfo{
		RunID:     res.RunID,
		Resumed:   res.Resumed,
		Cursor:    cp.Cursor,
		Processed: cp.ProcessedCount,
		Workers:   e.pool.Workers(),
		BatchSize: e.paginator.BatchSize(),
	})
	logger.LogComponentStart(e.logger, "engine", map[string]interface{}{
		"run_id":     res.RunID,
		"resumed":    res.Resumed,
		"sequence":   cp.Cursor.Sequence,
		"processed":  cp.ProcessedCount,
		"workers":    e.pool.Workers(),
		"batch_size": e.paginator.BatchSize(),
	})

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	g, gctx := errgroup.WithContext(runCtx)
	jobs := make(chan downloader.Job, 2*e.pool.Workers())
	outcomes := e.pool.Run(gctx, jobs)

	reachedEnd := false
	g.Go(func() error {
		defer close(jobs)
		var err error
		reachedEnd, err = e.produce(gctx, cp.Cursor, rec, jobs)
		return err
	})

	g.Go(func() error {
		var fatal error
		for o := range outcomes {
			if fatal != nil {
				continue
			}
			e.observer.OutcomeRecorded(o)
			if err := rec.Record(o); err != nil {
				fatal = err
				e.logger.WithError(err).Error("Recording failed, stopping run")
				cancel(err)
			}
		}
		return fatal
	})

	runErr := g.Wait()
	if runErr == nil && reachedEnd && ctx.Err() == nil {
		runErr = rec.Complete()
	}
	if err := rec.Close(); err != nil && runErr == nil {
		runErr = err
	}

	res.Summary = rec.Summary()
	res.Checkpoint = rec.Checkpoint()
	res.Completed = res.Checkpoint.Completed
	res.Interrupted = runErr == nil && ctx.Err() != nil
	res.MaxInFlight = e.pool.MaxInFlight()
	res.Duration = time.Since(start)

	reason := "completed"
	switch {
	case runErr != nil:
		reason = runErr.Error()
	case res.Interrupted:
		reason = "interrupted"
	}
	logger.LogComponentStop(e.logger, "engine", reason)

	return res, runErr
}

func (e *Engine) loadCheckpoint(opts Options) (*checkpoint.Checkpoint, error) {
	if opts.Restart {
		if b, ok := e.store.(backupStore); ok {
			path, err := b.Backup()
			if err != nil {
				return nil, err
			}
			if path != "" {
				e.logger.InfoWithFields("Previous checkpoint backed up", map[string]interface{}{
					"backup": path,
				})
			}
		}
		return &checkpoint.Checkpoint{Version: checkpoint.CurrentVersion}, nil
	}
	return e.store.Load()
}

// produce fetches batches from cursor and queues their descriptors until the record set is
// exhausted or ctx is done. It reports whether the final batch was queued.
func (e *Engine) produce(ctx context.Context, cursor models.Cursor, rec *recorder.Recorder, jobs chan<- downloader.Job) (bool, error) {
	for {
		if ctx.Err() != nil {
			return false, nil
		}

		batch, err := e.paginator.NextBatch(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return false, nil
			}
			return false, fmt.Errorf("fetch batch %d: %w", cursor.Sequence, err)
		}
		if err := rec.Track(batch); err != nil {
			return false, err
		}
		e.observer.BatchFetched(batch)

		for _, d := range batch.Descriptors {
			select {
			case jobs <- downloader.Job{Descriptor: d, BatchSeq: batch.Sequence}:
			case <-ctx.Done():
				return false, nil
			}
		}

		if batch.Final {
			return true, nil
		}
		cursor = batch.Next
	}
}
