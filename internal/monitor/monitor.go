// Package monitor aggregates statistics across queues, exposes per-job
// inspection, cancellation, retry and cleanup, and computes a health
// verdict from thresholds.
package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/OneClickTag/jobrunner/internal/domain"
	"github.com/OneClickTag/jobrunner/internal/queue"
	"github.com/OneClickTag/jobrunner/internal/scheduler"
)

// Thresholds drive the health verdict. Only the failure ratio is a hard
// failure; stuck and backlog are advisory.
type Thresholds struct {
	FailureRatio float64
	StuckActive  int
	BacklogDepth int
}

// DefaultThresholds matches the operational contract: >10% failed flips
// unhealthy, >10 active flags possibly stuck, >100 waiting flags backlog.
func DefaultThresholds() Thresholds {
	return Thresholds{FailureRatio: 0.10, StuckActive: 10, BacklogDepth: 100}
}

// IssueSeverity separates hard failures from advisories.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityWarning  IssueSeverity = "warning"
)

// HealthIssue is one finding about one queue.
type HealthIssue struct {
	Queue    domain.QueueName `json:"queue"`
	Severity IssueSeverity    `json:"severity"`
	Message  string           `json:"message"`
}

// Health is the computed verdict across all queues.
type Health struct {
	Healthy bool          `json:"healthy"`
	Issues  []HealthIssue `json:"issues"`
}

// CleanupReport summarizes a bulk cleanup pass.
type CleanupReport struct {
	Removed int                `json:"removed"`
	Queues  []domain.QueueName `json:"queues"`
}

// Service is the read-mostly monitoring boundary consumed by the HTTP
// layer. Cancel/retry/cleanup mutate job state but never payload content.
type Service struct {
	queues     map[domain.QueueName]*queue.Queue
	store      queue.Store
	sched      *scheduler.Scheduler
	thresholds Thresholds
	log        *zap.Logger
}

func New(queues map[domain.QueueName]*queue.Queue, store queue.Store, sched *scheduler.Scheduler, thresholds Thresholds, log *zap.Logger) *Service {
	return &Service{
		queues:     queues,
		store:      store,
		sched:      sched,
		thresholds: thresholds,
		log:        log.Named("monitor"),
	}
}

func (s *Service) queue(name domain.QueueName) (*queue.Queue, error) {
	q, ok := s.queues[name]
	if !ok {
		return nil, errors.Wrapf(scheduler.ErrUnknownQueue, "%q", name)
	}
	return q, nil
}

// GetQueueStats queries the per-status counts of one queue concurrently
// and sums them into Total.
func (s *Service) GetQueueStats(ctx context.Context, name domain.QueueName) (domain.QueueStats, error) {
	q, err := s.queue(name)
	if err != nil {
		return domain.QueueStats{}, err
	}

	stats := domain.QueueStats{Queue: name}
	targets := map[domain.Status]*int{
		domain.StatusWaiting:   &stats.Waiting,
		domain.StatusActive:    &stats.Active,
		domain.StatusCompleted: &stats.Completed,
		domain.StatusFailed:    &stats.Failed,
		domain.StatusDelayed:   &stats.Delayed,
	}

	g, gctx := errgroup.WithContext(ctx)
	for status, dst := range targets {
		status, dst := status, dst
		g.Go(func() error {
			n, err := q.Store().Count(gctx, name, status)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.QueueStats{}, err
	}
	stats.Total = stats.Waiting + stats.Active + stats.Completed + stats.Failed + stats.Delayed
	return stats, nil
}

// GetAllQueueStats returns stats for every queue in the fixed queue order.
func (s *Service) GetAllQueueStats(ctx context.Context) ([]domain.QueueStats, error) {
	names := domain.Queues()
	out := make([]domain.QueueStats, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			stats, err := s.GetQueueStats(gctx, name)
			if err != nil {
				return err
			}
			out[i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetQueueJobs lists a queue's jobs. With a status filter it pages within
// that status; without one it merges jobs across all statuses, sorts by
// creation time descending, then paginates. The merge happens before
// pagination so the ordering guarantee holds across statuses.
func (s *Service) GetQueueJobs(ctx context.Context, name domain.QueueName, status *domain.Status, limit, offset int) ([]*domain.Job, error) {
	q, err := s.queue(name)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	if status != nil {
		return q.Store().ListByStatus(ctx, name, *status, limit, offset)
	}

	var merged []*domain.Job
	for _, st := range domain.Statuses() {
		jobs, err := q.Store().ListByStatus(ctx, name, st, limit+offset, 0)
		if err != nil {
			return nil, err
		}
		merged = append(merged, jobs...)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	if offset >= len(merged) {
		return nil, nil
	}
	merged = merged[offset:]
	if limit < len(merged) {
		merged = merged[:limit]
	}
	return merged, nil
}

// GetJob returns one job, or queue.ErrNotFound.
func (s *Service) GetJob(ctx context.Context, name domain.QueueName, id string) (*domain.Job, error) {
	q, err := s.queue(name)
	if err != nil {
		return nil, err
	}
	return q.Store().Get(ctx, name, id)
}

// GetTenantJobs lists one tenant's jobs across every queue, newest first.
func (s *Service) GetTenantJobs(ctx context.Context, tenantID string, limit, offset int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListByTenant(ctx, tenantID, limit, offset)
}

// GetQueueHealth computes the verdict: healthy unless any queue's failure
// ratio exceeds the threshold. Stuck-active and backlog findings are
// surfaced as warnings alongside but never flip the verdict.
func (s *Service) GetQueueHealth(ctx context.Context) (Health, error) {
	all, err := s.GetAllQueueStats(ctx)
	if err != nil {
		return Health{}, err
	}

	h := Health{Healthy: true}
	for _, stats := range all {
		if stats.Total > 0 {
			ratio := float64(stats.Failed) / float64(stats.Total)
			if ratio > s.thresholds.FailureRatio {
				h.Healthy = false
				h.Issues = append(h.Issues, HealthIssue{
					Queue:    stats.Queue,
					Severity: SeverityCritical,
					Message:  "failure ratio above threshold",
				})
			}
		}
		if stats.Active > s.thresholds.StuckActive {
			h.Issues = append(h.Issues, HealthIssue{
				Queue:    stats.Queue,
				Severity: SeverityWarning,
				Message:  "possibly stuck: high active job count",
			})
		}
		if stats.Waiting > s.thresholds.BacklogDepth {
			h.Issues = append(h.Issues, HealthIssue{
				Queue:    stats.Queue,
				Severity: SeverityWarning,
				Message:  "backlog: high waiting job count",
			})
		}
	}
	return h, nil
}

// CleanOldJobs removes completed jobs older than the threshold,
// independently per queue: one queue's failure never aborts the rest.
func (s *Service) CleanOldJobs(ctx context.Context, olderThan time.Duration) CleanupReport {
	cutoff := time.Now().Add(-olderThan)
	var report CleanupReport
	for _, name := range domain.Queues() {
		q, ok := s.queues[name]
		if !ok {
			continue
		}
		removed, err := q.CleanOld(ctx, cutoff)
		if err != nil {
			s.log.Warn("cleanup failed", zap.String("queue", string(name)), zap.Error(err))
			continue
		}
		if removed > 0 {
			report.Removed += removed
			report.Queues = append(report.Queues, name)
		}
	}
	s.log.Info("cleanup pass finished",
		zap.Int("removed", report.Removed), zap.Int("queues", len(report.Queues)))
	return report
}

// CancelJob passes through to the scheduler; false when the job is absent
// or terminal, never an error for that case.
func (s *Service) CancelJob(ctx context.Context, name domain.QueueName, id string) (bool, error) {
	return s.sched.CancelJob(ctx, name, id)
}

// RetryJob passes through to the scheduler; false when the job is absent
// or not failed.
func (s *Service) RetryJob(ctx context.Context, name domain.QueueName, id string) (bool, error) {
	return s.sched.RetryJob(ctx, name, id)
}
