// Package worker runs the consumer side: one isolated pool per queue, each
// executing its queue's processor with tenant scoping, progress reporting
// and classified failure handling.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/domain"
	"github.com/OneClickTag/jobrunner/internal/queue"
	"github.com/OneClickTag/jobrunner/internal/tenant"
)

const (
	popBlock      = 2 * time.Second
	pausedPoll    = 500 * time.Millisecond
	maxRetryDelay = 5 * time.Minute
)

// ProgressFunc reports a checkpoint. Reports are monotonically
// non-decreasing within one execution; regressions are dropped.
type ProgressFunc func(p domain.Progress)

// Processor executes one job and returns a structured result. A processor
// may return both a result and an error: the result is recorded alongside
// the failure.
type Processor interface {
	Process(ctx context.Context, job *domain.Job, report ProgressFunc) (*domain.JobResult, error)
}

// ResultHook observes terminal results. The worker daemon uses it to let
// the scheduler act on api-retry decisions.
type ResultHook func(ctx context.Context, job *domain.Job, result *domain.JobResult)

// Pool is the worker pool for a single queue. Pools never share goroutines,
// so one queue's slow jobs cannot starve another's workers.
type Pool struct {
	q        *queue.Queue
	proc     Processor
	workers  int
	onResult ResultHook
	log      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers overrides the queue default concurrency.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithResultHook installs a terminal-result observer.
func WithResultHook(h ResultHook) PoolOption {
	return func(p *Pool) { p.onResult = h }
}

func NewPool(q *queue.Queue, proc Processor, log *zap.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		q:       q,
		proc:    proc,
		workers: q.Opts().Workers,
		log:     log.Named("worker").With(zap.String("queue", string(q.Name()))),
	}
	if p.workers < 1 {
		p.workers = 1
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the pool's workers.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.log.Info("pool started", zap.Int("workers", p.workers))
}

// Stop halts dequeue and waits for in-flight executions.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("pool stopped")
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.q.Next(ctx, popBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			if p.q.Paused() {
				select {
				case <-ctx.Done():
					return
				case <-time.After(pausedPoll):
				}
			}
			continue
		}
		p.execute(ctx, job)
	}
}

// execute wraps the processor: tenant scope in, progress checkpoints,
// scope dropped in a deferred block regardless of outcome.
func (p *Pool) execute(ctx context.Context, job *domain.Job) {
	log := p.log.With(
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.TenantID()),
		zap.Int("attempt", job.Attempts))

	base := job.Payload.Base()
	jctx := tenant.With(ctx, tenant.Scope{TenantID: base.TenantID, UserID: base.TriggeredBy})

	var (
		result  *domain.JobResult
		procErr error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				procErr = errors.Errorf("processor panic: %v", r)
			}
			jctx = tenant.Strip(jctx)
		}()
		result, procErr = p.proc.Process(jctx, job, p.reporter(ctx, job, log))
	}()

	if procErr != nil {
		p.fail(ctx, job, procErr, result, log)
	} else {
		if job.Progress.Percentage < 100 {
			job.Progress.Percentage = 100
		}
		if result == nil {
			result = &domain.JobResult{Success: true, Summary: "completed"}
		}
		if err := p.q.Complete(ctx, job, result); err != nil {
			log.Warn("record completion", zap.Error(err))
		} else {
			log.Info("job completed")
		}
	}

	if p.onResult != nil && result != nil {
		p.onResult(ctx, job, result)
	}
}

// reporter persists monotone progress checkpoints; a report below the last
// checkpoint is dropped.
func (p *Pool) reporter(ctx context.Context, job *domain.Job, log *zap.Logger) ProgressFunc {
	return func(pr domain.Progress) {
		if pr.Percentage < job.Progress.Percentage {
			return
		}
		job.Progress = pr
		if err := p.q.UpdateProgress(ctx, job); err != nil {
			log.Debug("persist progress", zap.Error(err))
		}
	}
}

// fail applies the queue-level retry policy: transient failures retry with
// multiplicative backoff up to the attempt limit, everything else is
// terminal. Progress stays at the last reported checkpoint.
func (p *Pool) fail(ctx context.Context, job *domain.Job, procErr error, result *domain.JobResult, log *zap.Logger) {
	kind := domain.Classify(procErr)
	if kind == domain.KindRetryable && job.Attempts < job.MaxAttempts {
		delay := Backoff(p.q.Opts().BackoffBase, job.Attempts)
		log.Warn("job attempt failed, retrying",
			zap.Error(procErr), zap.Duration("backoff", delay))
		if err := p.q.RetryLater(ctx, job, delay); err != nil {
			log.Warn("schedule retry", zap.Error(err))
		}
		return
	}
	log.Error("job failed",
		zap.Error(procErr), zap.String("error_kind", kind.String()))
	if err := p.q.Fail(ctx, job, procErr.Error(), result); err != nil {
		log.Warn("record failure", zap.Error(err))
	}
}

// Backoff is the queue-level multiplicative backoff: base doubled per
// completed attempt, capped.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}
