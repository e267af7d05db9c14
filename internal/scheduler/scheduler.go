// Package scheduler is the producer-facing API of the job subsystem: typed
// enqueue per queue, recurring registrations, pause/resume, cancel and
// manual retry.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/domain"
	"github.com/OneClickTag/jobrunner/internal/queue"
)

// ErrUnknownQueue is returned for operations addressing a queue the
// scheduler does not own.
var ErrUnknownQueue = errors.New("unknown queue")

type jobOptions struct {
	delay       time.Duration
	priority    *int
	maxAttempts *int
}

// Option overrides a per-queue default for a single job. The queue policy
// applies unless explicitly passed.
type Option func(*jobOptions)

// WithDelay future-dates the job; it enters the delayed state.
func WithDelay(d time.Duration) Option {
	return func(o *jobOptions) { o.delay = d }
}

// WithPriority overrides the queue's default priority hint.
func WithPriority(p int) Option {
	return func(o *jobOptions) { o.priority = &p }
}

// WithMaxAttempts overrides the queue's default attempt limit.
func WithMaxAttempts(n int) Option {
	return func(o *jobOptions) { o.maxAttempts = &n }
}

// Scheduler owns the four queues on the producer side.
type Scheduler struct {
	queues map[domain.QueueName]*queue.Queue
	log    *zap.Logger
	rec    *recurring
}

func New(queues map[domain.QueueName]*queue.Queue, log *zap.Logger) *Scheduler {
	s := &Scheduler{
		queues: queues,
		log:    log.Named("scheduler"),
	}
	s.rec = newRecurring(s)
	return s
}

func (s *Scheduler) queue(name domain.QueueName) (*queue.Queue, error) {
	q, ok := s.queues[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownQueue, "%q", name)
	}
	return q, nil
}

// schedule validates the payload and enqueues a new job. The scheduler does
// not deduplicate by payload content; de-duplication is the caller's call.
func (s *Scheduler) schedule(ctx context.Context, p domain.Payload, opts []Option) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	q, err := s.queue(p.Queue())
	if err != nil {
		return "", err
	}

	var o jobOptions
	for _, opt := range opts {
		opt(&o)
	}
	defaults := q.Opts()

	job := &domain.Job{
		ID:          uuid.NewString(),
		Queue:       p.Queue(),
		Payload:     p,
		MaxAttempts: defaults.MaxAttempts,
		Priority:    defaults.Priority,
		Delay:       o.delay,
		CreatedAt:   time.Now(),
	}
	if o.priority != nil {
		job.Priority = *o.priority
	}
	if o.maxAttempts != nil {
		job.MaxAttempts = *o.maxAttempts
	}

	if err := q.Enqueue(ctx, job); err != nil {
		return "", err
	}
	s.log.Info("job scheduled",
		zap.String("queue", string(job.Queue)),
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.TenantID()),
		zap.Duration("delay", job.Delay))
	return job.ID, nil
}

// SchedulePlatformSync enqueues a platform-sync job. Validation guarantees
// UPDATE/DELETE payloads carry the external resource id before enqueue.
func (s *Scheduler) SchedulePlatformSync(ctx context.Context, p domain.PlatformSyncPayload, opts ...Option) (string, error) {
	return s.schedule(ctx, p, opts)
}

// ScheduleBulkImport enqueues a bulk-import job.
func (s *Scheduler) ScheduleBulkImport(ctx context.Context, p domain.BulkImportPayload, opts ...Option) (string, error) {
	return s.schedule(ctx, p, opts)
}

// ScheduleAPIRetry enqueues an api-retry job. The initial delay is the
// backoff function of the payload's retry count, never caller-supplied.
func (s *Scheduler) ScheduleAPIRetry(ctx context.Context, p domain.APIRetryPayload, opts ...Option) (string, error) {
	opts = append(opts, WithDelay(p.Strategy.Delay(p.RetryCount)))
	return s.schedule(ctx, p, opts)
}

// ScheduleAggregation enqueues an analytics-aggregation job.
func (s *Scheduler) ScheduleAggregation(ctx context.Context, p domain.AggregationPayload, opts ...Option) (string, error) {
	return s.schedule(ctx, p, opts)
}

// ReenqueueRetry schedules the next attempt of a replay whose processor
// reported shouldRetryAgain. Re-enqueue is the scheduler's responsibility;
// the processor never touches queue state.
func (s *Scheduler) ReenqueueRetry(ctx context.Context, p domain.APIRetryPayload, nextRetryCount int, lastErr string) (string, error) {
	p.RetryCount = nextRetryCount
	if lastErr != "" {
		p.LastError = lastErr
	}
	return s.ScheduleAPIRetry(ctx, p)
}

// PauseQueue halts dequeue for one queue without affecting the others.
func (s *Scheduler) PauseQueue(name domain.QueueName) error {
	q, err := s.queue(name)
	if err != nil {
		return err
	}
	q.Pause()
	return nil
}

// ResumeQueue re-enables dequeue for one queue.
func (s *Scheduler) ResumeQueue(name domain.QueueName) error {
	q, err := s.queue(name)
	if err != nil {
		return err
	}
	q.Resume()
	return nil
}

// CancelJob removes a job; false (not an error) when it no longer exists
// or is already terminal.
func (s *Scheduler) CancelJob(ctx context.Context, name domain.QueueName, id string) (bool, error) {
	q, err := s.queue(name)
	if err != nil {
		return false, err
	}
	return q.Cancel(ctx, id)
}

// RetryJob manually moves a failed job back to waiting; false when absent
// or not failed.
func (s *Scheduler) RetryJob(ctx context.Context, name domain.QueueName, id string) (bool, error) {
	q, err := s.queue(name)
	if err != nil {
		return false, err
	}
	return q.Retry(ctx, id)
}

// MoveDue promotes due delayed jobs on every queue. The worker daemon runs
// this on a short tick.
func (s *Scheduler) MoveDue(ctx context.Context, batch int64) {
	now := time.Now()
	for name, q := range s.queues {
		if err := q.MoveDue(ctx, now, batch); err != nil {
			s.log.Warn("move due", zap.String("queue", string(name)), zap.Error(err))
		}
	}
}

// ScheduleRecurring registers a cron re-enqueue of the payload template.
// See recurring.go for replacement semantics.
func (s *Scheduler) ScheduleRecurring(template domain.Payload, cronExpr string) (string, error) {
	return s.rec.add(template, cronExpr)
}

// RemoveRecurring drops a recurring registration by derived name.
func (s *Scheduler) RemoveRecurring(name string) bool {
	return s.rec.remove(name)
}

// StartRecurring begins firing recurring registrations.
func (s *Scheduler) StartRecurring() { s.rec.start() }

// StopRecurring halts recurring firing; in-flight enqueues complete.
func (s *Scheduler) StopRecurring() { s.rec.stop() }
