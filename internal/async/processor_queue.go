package async

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/joseph-ayodele/ticket-tracker/internal/common"
)

type ProcessorQueue struct {
	proc    Runner
	tracker *ProgressTracker
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// senders hold mu.RLock while writing to ch; Shutdown takes the write
	// lock before closing it
	mu     sync.RWMutex
	closed bool
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithTracker shares a tracker with the surfaces that report job progress.
func WithTracker(t *ProgressTracker) Option {
	return func(q *ProcessorQueue) {
		if t != nil {
			q.tracker = t
		}
	}
}

func NewProcessorQueue(proc Runner, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	if q.tracker == nil {
		q.tracker = NewProgressTracker(0)
	}
	q.start()
	return q
}

// Tracker returns the progress tracker the workers report to.
func (q *ProcessorQueue) Tracker() *ProgressTracker { return q.tracker }

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("queue.worker.started", "worker_id", workerID)
				for job := range q.ch {
					q.run(workerID, job)
				}
				q.logger.Debug("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	ctx = common.WithJobID(common.WithRequestID(ctx, job.RequestID), job.JobID.String())

	q.tracker.Update(job.JobID, 0, "start")
	res, err := q.proc.RunJob(ctx, job.JobID, func(pct int, stage string) {
		q.tracker.Update(job.JobID, pct, stage)
	})
	if err != nil {
		q.tracker.Fail(job.JobID, err)
		q.logger.Error("queue.job.failed", "worker_id", workerID, "job_id", job.JobID,
			"wait", time.Since(job.SubmittedAt), "error", err)
		return
	}
	q.tracker.Done(job.JobID, res.Ticket)
	q.logger.Info("queue.job.ok", "worker_id", workerID, "job_id", job.JobID, "needs_review", res.NeedsReview)
}

// Enqueue blocks while the queue is full, until ctx is done.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("queue.enqueue.closed", "job_id", job.JobID)
		return common.NewAppError("QUEUE_CLOSED", "queue is shutting down", common.ErrUnavailable)
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	q.tracker.Queue(job.JobID)
	select {
	case q.ch <- job:
	default:
		q.logger.Warn("queue.full", "job_id", job.JobID)
		select {
		case q.ch <- job:
		case <-ctx.Done():
			q.tracker.Fail(job.JobID, ctx.Err())
			return ctx.Err()
		}
	}
	q.logger.Info("queue.enqueued", "job_id", job.JobID)
	return nil
}

// Shutdown stops accepting jobs and waits for the workers to drain the
// queue, or for ctx.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.ok")
	}
}
