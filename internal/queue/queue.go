package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/domain"
)

// Options are the producer-side per-queue defaults. They are not
// overridable per job unless the caller passes an explicit value.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	Priority    int
	Workers     int
}

// DefaultOptions returns the fixed policy for each logical queue.
// api-retry gets a single attempt because it runs its own retry loop and
// reports the decision back to the scheduler.
func DefaultOptions(q domain.QueueName) Options {
	switch q {
	case domain.QueuePlatformSync:
		return Options{MaxAttempts: 5, BackoffBase: 3 * time.Second, Priority: 5, Workers: 3}
	case domain.QueueBulkImport:
		return Options{MaxAttempts: 3, BackoffBase: 5 * time.Second, Priority: 10, Workers: 2}
	case domain.QueueAPIRetry:
		return Options{MaxAttempts: 1, Priority: 5, Workers: 1}
	case domain.QueueAggregation:
		return Options{MaxAttempts: 3, BackoffBase: 10 * time.Second, Priority: 10, Workers: 2}
	}
	return Options{MaxAttempts: 3, BackoffBase: 5 * time.Second, Priority: 10, Workers: 1}
}

// Queue is one ordered, persisted work list: a Broker for eligibility plus
// a Store for job state.
type Queue struct {
	name   domain.QueueName
	broker Broker
	store  Store
	opts   Options
	log    *zap.Logger
	paused atomic.Bool
}

func New(name domain.QueueName, broker Broker, store Store, opts Options, log *zap.Logger) *Queue {
	return &Queue{
		name:   name,
		broker: broker,
		store:  store,
		opts:   opts,
		log:    log.Named("queue").With(zap.String("queue", string(name))),
	}
}

func (q *Queue) Name() domain.QueueName { return q.name }
func (q *Queue) Opts() Options          { return q.opts }
func (q *Queue) Store() Store           { return q.store }

// Enqueue persists the job and makes it eligible, immediately or after its
// delay. A future-dated job enters the delayed state.
func (q *Queue) Enqueue(ctx context.Context, job *domain.Job) error {
	if job.Delay > 0 {
		job.Status = domain.StatusDelayed
	} else {
		job.Status = domain.StatusWaiting
	}
	if err := q.store.Insert(ctx, job); err != nil {
		return err
	}
	if job.Delay > 0 {
		return q.broker.PushDelayed(ctx, q.name, job.ID, job.CreatedAt.Add(job.Delay))
	}
	return q.broker.Push(ctx, q.name, job.ID)
}

// Next claims the next eligible job: waiting → active, attempt counted.
// Returns nil when the queue is paused or nothing became eligible within
// the block window. Ids whose record has vanished are skipped.
func (q *Queue) Next(ctx context.Context, block time.Duration) (*domain.Job, error) {
	if q.paused.Load() {
		return nil, nil
	}
	id, err := q.broker.Pop(ctx, q.name, block)
	if err != nil || id == "" {
		return nil, err
	}

	job, err := q.store.Get(ctx, q.name, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			q.log.Debug("skipping dequeued id without record", zap.String("job_id", id))
			return nil, nil
		}
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, nil
	}

	now := time.Now()
	job.Status = domain.StatusActive
	job.Attempts++
	job.ProcessedAt = &now
	if err := q.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Complete records a successful terminal state.
func (q *Queue) Complete(ctx context.Context, job *domain.Job, result *domain.JobResult) error {
	now := time.Now()
	job.Status = domain.StatusCompleted
	job.Result = result
	job.FinishedAt = &now
	return q.store.Update(ctx, job)
}

// Fail records a failed terminal state.
func (q *Queue) Fail(ctx context.Context, job *domain.Job, reason string, result *domain.JobResult) error {
	now := time.Now()
	job.Status = domain.StatusFailed
	job.FailedReason = reason
	job.Result = result
	job.FinishedAt = &now
	return q.store.Update(ctx, job)
}

// RetryLater re-schedules an active job after a backoff delay:
// active → delayed → waiting (via MoveDue).
func (q *Queue) RetryLater(ctx context.Context, job *domain.Job, delay time.Duration) error {
	job.Status = domain.StatusDelayed
	if err := q.store.Update(ctx, job); err != nil {
		return err
	}
	return q.broker.PushDelayed(ctx, q.name, job.ID, time.Now().Add(delay))
}

// Cancel removes a non-terminal job. It returns false, not an error, when
// the job no longer exists or already finished. Cancelling an active job
// is best-effort: the in-flight attempt may complete and its terminal
// update will then hit a deleted record and be discarded.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	job, err := q.store.Get(ctx, q.name, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if job.Status.Terminal() {
		return false, nil
	}
	if err := q.broker.Remove(ctx, q.name, id); err != nil {
		return false, err
	}
	if err := q.store.Delete(ctx, q.name, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	q.log.Info("job cancelled", zap.String("job_id", id))
	return true, nil
}

// Retry manually moves a failed job back to waiting. Distinct from the
// automatic in-processor retry; returns false when the job is absent or
// not failed.
func (q *Queue) Retry(ctx context.Context, id string) (bool, error) {
	job, err := q.store.Get(ctx, q.name, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if job.Status != domain.StatusFailed {
		return false, nil
	}
	job.Status = domain.StatusWaiting
	job.FailedReason = ""
	job.Result = nil
	job.FinishedAt = nil
	if err := q.store.Update(ctx, job); err != nil {
		return false, err
	}
	if err := q.broker.Push(ctx, q.name, id); err != nil {
		return false, err
	}
	q.log.Info("job manually retried", zap.String("job_id", id))
	return true, nil
}

// Pause halts dequeue for this queue only; active jobs run to completion.
func (q *Queue) Pause() {
	q.paused.Store(true)
	q.log.Info("queue paused")
}

// Resume re-enables dequeue.
func (q *Queue) Resume() {
	q.paused.Store(false)
	q.log.Info("queue resumed")
}

// Paused reports whether dequeue is halted.
func (q *Queue) Paused() bool { return q.paused.Load() }

// MoveDue promotes due delayed jobs to waiting.
func (q *Queue) MoveDue(ctx context.Context, now time.Time, batch int64) error {
	ids, err := q.broker.MoveDue(ctx, q.name, now, batch)
	if err != nil {
		return err
	}
	for _, id := range ids {
		job, err := q.store.Get(ctx, q.name, id)
		if err != nil {
			continue
		}
		if job.Status == domain.StatusDelayed {
			job.Status = domain.StatusWaiting
			if err := q.store.Update(ctx, job); err != nil {
				q.log.Warn("promote delayed job", zap.String("job_id", id), zap.Error(err))
			}
		}
	}
	return nil
}

// UpdateProgress persists a progress checkpoint for an active job.
func (q *Queue) UpdateProgress(ctx context.Context, job *domain.Job) error {
	return q.store.Update(ctx, job)
}

// CleanOld removes completed jobs finished before cutoff.
func (q *Queue) CleanOld(ctx context.Context, cutoff time.Time) (int, error) {
	return q.store.DeleteCompletedBefore(ctx, q.name, cutoff)
}
