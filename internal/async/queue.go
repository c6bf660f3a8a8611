package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/csf-extractor/internal/common"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
	"github.com/joseph-ayodele/csf-extractor/internal/pipeline"
)

// Job is one accepted batch waiting for a worker.
type Job struct {
	Session     *pipeline.Session
	Docs        []entity.Document
	SubmittedAt time.Time
}

// Runner processes a whole batch.
type Runner interface {
	ProcessBatch(ctx context.Context, sess *pipeline.Session, docs []entity.Document) (entity.Batch, error)
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// BatchQueue runs batches in the background on a fixed set of workers.
// Results reach the run store through the runner's recorder.
type BatchQueue struct {
	runner  Runner
	logger  *slog.Logger
	workers int
	timeout time.Duration
	onDone  func(Job, entity.Batch, error)

	ch       chan Job
	done     chan struct{} // closed first on shutdown; wakes blocked Enqueue calls
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*BatchQueue)

func WithWorkers(n int) Option {
	return func(q *BatchQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *BatchQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *BatchQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithOnDone registers a callback run by the worker after each batch.
func WithOnDone(fn func(Job, entity.Batch, error)) Option {
	return func(q *BatchQueue) { q.onDone = fn }
}

func NewBatchQueue(runner Runner, logger *slog.Logger, opts ...Option) *BatchQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &BatchQueue{
		runner:  runner,
		logger:  logger,
		workers: 2,
		timeout: 30 * time.Minute,
		ch:      make(chan Job, 64),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *BatchQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("queue.worker.start", "worker_id", workerID)

				for job := range q.ch {
					q.run(workerID, job)
				}

				q.logger.Debug("queue.worker.stop", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *BatchQueue) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	runID := job.Session.ID
	batch, err := q.runner.ProcessBatch(ctx, job.Session, job.Docs)
	if err != nil {
		q.logger.Error("queue.batch.failed", "worker_id", workerID, "run_id", runID, "error", err)
	} else {
		q.logger.Info("queue.batch.ok", "worker_id", workerID, "run_id", runID,
			"files", len(batch.Rows), "failures", batch.Failures(), "waited", batch.StartedAt.Sub(job.SubmittedAt).String())
	}
	if q.onDone != nil {
		q.onDone(job, batch, err)
	}
}

// Enqueue hands job to the workers, blocking while the queue is full until
// ctx is done or Shutdown starts.
func (q *BatchQueue) Enqueue(ctx context.Context, job Job) error {
	if job.Session == nil {
		return common.NewAppError("UNAUTHORIZED", "batch needs a session", common.ErrUnauthorized)
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("queue.closed", "run_id", job.Session.ID)
		return common.NewAppError("UNAVAILABLE", "queue is shutting down", common.ErrUnavailable)
	}
	select {
	case q.ch <- job:
		q.logger.Info("queue.batch.accepted", "run_id", job.Session.ID, "files", len(job.Docs))
		return nil
	default:
	}
	q.logger.Warn("queue.full", "run_id", job.Session.ID, "capacity", cap(q.ch))
	select {
	case q.ch <- job:
		return nil
	case <-q.done:
		return common.NewAppError("UNAVAILABLE", "queue is shutting down", common.ErrUnavailable)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued ones until ctx is done.
func (q *BatchQueue) Shutdown(ctx context.Context) {
	q.stopOnce.Do(func() { close(q.done) })
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.drain.interrupted", "error", ctx.Err())
	case <-drained:
		q.logger.Info("queue.drain.ok")
	}
}
