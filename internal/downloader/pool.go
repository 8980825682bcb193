package downloader

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"attachdl/pkg/config"
	errs "attachdl/pkg/errors"
	"attachdl/pkg/logger"
	"attachdl/pkg/models"
	"attachdl/pkg/ratelimit"
	"attachdl/pkg/retry"
	"attachdl/pkg/storage"
)

// Job is one descriptor to transfer, tagged with the batch it belongs to.
type Job struct {
	Descriptor models.Descriptor
	BatchSeq   int64
}

// ContentSource resolves authenticated content requests.
type ContentSource interface {
	ContentRequest(ctx context.Context, d models.Descriptor) (storage.Request, error)
	// Invalidate reports that token was rejected so the next request uses a new session
	Invalidate(ctx context.Context, token string) error
}

// Options configures a WorkerPool.
type Options struct {
	Workers int
	Source  ContentSource
	Sink    storage.Sink
	Policy  *retry.Policy
	Limiter ratelimit.Limiter
	// Timeout bounds each transfer attempt
	Timeout time.Duration
	Logger  logger.Logger
}

// WorkerPool runs a fixed number of download workers.
type WorkerPool struct {
	numWorkers int
	source     ContentSource
	sink       storage.Sink
	policy     *retry.Policy
	limiter    ratelimit.Limiter
	requests   int
	timeout    time.Duration
	logger     logger.Logger

	onStart func(models.Descriptor)

	active    int32
	maxActive int32
}

// NewWorkerPool creates a download worker pool
func NewWorkerPool(opts Options) (*WorkerPool, error) {
	if opts.Workers < 1 || opts.Workers > config.MaxWorkers {
		return nil, fmt.Errorf("workers must be between 1 and %d, got %d", config.MaxWorkers, opts.Workers)
	}
	if opts.Source == nil || opts.Sink == nil {
		return nil, fmt.Errorf("content source and sink are required")
	}
	if opts.Policy == nil {
		opts.Policy = retry.NewPolicy(nil)
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers: opts.Workers,
		source:     opts.Source,
		sink:       opts.Sink,
		policy:     opts.Policy,
		limiter:    opts.Limiter,
		requests:   storage.RequestsPerStore(opts.Sink),
		timeout:    opts.Timeout,
		logger:     opts.Logger.WithField("component", "downloader"),
	}, nil
}

// OnStart registers fn to be called when a worker picks up a descriptor. It must be set
// before Run.
func (wp *WorkerPool) OnStart(fn func(models.Descriptor)) {
	wp.onStart = fn
}

// Run starts the workers. They drain jobs until it is closed and emit exactly one outcome
// per job that reached a terminal state. After ctx is cancelled, queued jobs are discarded
// without an outcome and transfers already under way run to completion; an item whose
// retries were interrupted by the cancellation is discarded too. The returned channel is
// closed once every worker has exited, and must be drained by the caller.
func (wp *WorkerPool) Run(ctx context.Context, jobs <-chan Job) <-chan models.Outcome {
	out := make(chan models.Outcome, wp.numWorkers)

	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	var wg sync.WaitGroup
	for i := 0; i < wp.numWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			wp.worker(ctx, id, jobs, out)
		}(i)
	}

	go func() {
		wg.Wait()
		close(out)
		wp.logger.InfoWithFields("Worker pool stopped", map[string]interface{}{
			"max_in_flight": wp.MaxInFlight(),
		})
	}()

	return out
}

func (wp *WorkerPool) worker(ctx context.Context, id int, jobs <-chan Job, out chan<- models.Outcome) {
	discarded := 0
	for job := range jobs {
		if ctx.Err() != nil {
			discarded++
			continue
		}

		outcome, ok := wp.processJob(ctx, job, id)
		if !ok {
			discarded++
			continue
		}
		out <- outcome
	}

	if discarded > 0 {
		wp.logger.DebugWithFields("Worker discarded jobs after cancellation", map[string]interface{}{
			"worker_id": id,
			"discarded": discarded,
		})
	}
}

// processJob transfers one attachment. ok is false when the run was cancelled before the
// item reached a terminal state.
func (wp *WorkerPool) processJob(ctx context.Context, job Job, workerID int) (outcome models.Outcome, ok bool) {
	n := atomic.AddInt32(&wp.active, 1)
	defer atomic.AddInt32(&wp.active, -1)
	for {
		max := atomic.LoadInt32(&wp.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&wp.maxActive, max, n) {
			break
		}
	}

	d := job.Descriptor
	if wp.onStart != nil {
		wp.onStart(d)
	}
	start := time.Now()
	outcome = models.Outcome{Descriptor: d, BatchSeq: job.BatchSeq}
	defer func() {
		outcome.Duration = time.Since(start)
		if ok {
			logger.LogTransfer(wp.logger, d.ID, outcome.Attempts, outcome.Bytes, outcome.Skipped, outcome.Err)
		}
	}()

	key, err := storage.ObjectKey(d.ID, d.FileName)
	if err != nil {
		outcome.Err = err
		return outcome, true
	}
	outcome.LocalPath = wp.sink.Location(key)

	// transfers must not be torn down by the run's cancellation
	detached := context.WithoutCancel(ctx)

	exists, err := wp.sink.Exists(detached, key, d.ByteSize)
	if err != nil {
		outcome.Err = err
		return outcome, true
	}
	if exists {
		outcome.Skipped = true
		outcome.Bytes = d.ByteSize
		return outcome, true
	}

	reauthed := false
	attempts, err := wp.policy.Execute(ctx, func(ctx context.Context) error {
		if err := wp.admit(ctx); err != nil {
			return err
		}

		actx, cancel := context.WithTimeout(detached, wp.timeout)
		defer cancel()

		written, err := wp.attempt(actx, d, key, !reauthed)
		if err != nil && errs.CodeOf(err) == http.StatusUnauthorized && !reauthed {
			reauthed = true
			wp.logger.DebugWithFields("Content request unauthorized, renewed session", map[string]interface{}{
				"worker_id":     workerID,
				"attachment_id": d.ID,
			})
			if err := wp.admit(ctx); err != nil {
				return err
			}
			written, err = wp.attempt(actx, d, key, false)
		}
		if err != nil {
			if hint := errs.RetryAfterOf(err); hint > 0 {
				wp.limiter.Pause(hint)
				logger.LogRateLimit(wp.logger, d.ContentEndpoint, hint.Seconds())
			}
			return err
		}
		outcome.Bytes = written
		return nil
	})
	outcome.Attempts = attempts

	if err != nil && ctx.Err() != nil && interrupted(err) {
		return outcome, false
	}
	outcome.Err = err
	return outcome, true
}

// admit takes one limiter token for every request a Store call sends.
func (wp *WorkerPool) admit(ctx context.Context) error {
	for i := 0; i < wp.requests; i++ {
		if err := wp.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// interrupted reports whether err only means the retries were cut short by cancellation.
func interrupted(err error) bool {
	return errs.IsTransient(err) || stderrors.Is(err, context.Canceled)
}

// attempt resolves a fresh request and stores the content once. With renew set, a 401
// invalidates the session the request was signed with.
func (wp *WorkerPool) attempt(ctx context.Context, d models.Descriptor, key string, renew bool) (int64, error) {
	req, err := wp.source.ContentRequest(ctx, d)
	if err != nil {
		return 0, err
	}
	written, err := wp.sink.Store(ctx, req, key, d.ByteSize)
	if renew && err != nil && errs.CodeOf(err) == http.StatusUnauthorized {
		if ierr := wp.source.Invalidate(ctx, req.Token); ierr != nil {
			return 0, ierr
		}
	}
	return written, err
}

// MaxInFlight is the highest number of jobs processed at the same time.
func (wp *WorkerPool) MaxInFlight() int {
	return int(atomic.LoadInt32(&wp.maxActive))
}

// ActiveWorkers returns the number of jobs currently being processed
func (wp *WorkerPool) ActiveWorkers() int {
	return int(atomic.LoadInt32(&wp.active))
}

func (wp *WorkerPool) Workers() int {
	return wp.numWorkers
}
