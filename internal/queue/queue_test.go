package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/OneClickTag/jobrunner/internal/domain"
)

func syncJob(tenant string) *domain.Job {
	return &domain.Job{
		ID:    uuid.NewString(),
		Queue: domain.QueuePlatformSync,
		Payload: domain.PlatformSyncPayload{
			PayloadBase:    domain.PayloadBase{TenantID: tenant},
			GTMContainerID: "GTM-TEST",
			SyncType:       domain.SyncCreate,
		},
		MaxAttempts: 5,
		CreatedAt:   time.Now(),
	}
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return New(domain.QueuePlatformSync, NewMemoryBroker(), NewMemoryStore(),
		DefaultOptions(domain.QueuePlatformSync), zap.NewNop())
}

func TestMemoryBrokerFIFO(t *testing.T) {
	t.Parallel()
	b := NewMemoryBroker()
	ctx := context.Background()
	q := domain.QueuePlatformSync

	require.NoError(t, b.Push(ctx, q, "a"))
	require.NoError(t, b.Push(ctx, q, "b"))
	require.NoError(t, b.Push(ctx, q, "c"))

	for _, want := range []string{"a", "b", "c"} {
		id, err := b.Pop(ctx, q, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	id, err := b.Pop(ctx, q, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestMemoryBrokerDelayedNotEligibleEarly(t *testing.T) {
	t.Parallel()
	b := NewMemoryBroker()
	ctx := context.Background()
	q := domain.QueuePlatformSync

	require.NoError(t, b.PushDelayed(ctx, q, "late", time.Now().Add(time.Hour)))

	id, err := b.Pop(ctx, q, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)

	moved, err := b.MoveDue(ctx, q, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, moved)
}

func TestMemoryBrokerMoveDueOrdersByRunAt(t *testing.T) {
	t.Parallel()
	b := NewMemoryBroker()
	ctx := context.Background()
	q := domain.QueuePlatformSync
	base := time.Now().Add(time.Minute)

	require.NoError(t, b.PushDelayed(ctx, q, "second", base.Add(2*time.Second)))
	require.NoError(t, b.PushDelayed(ctx, q, "first", base.Add(time.Second)))
	require.NoError(t, b.PushDelayed(ctx, q, "third", base.Add(3*time.Second)))

	moved, err := b.MoveDue(ctx, q, base.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, moved)
}

func TestMemoryBrokerMoveDueBatchLimit(t *testing.T) {
	t.Parallel()
	b := NewMemoryBroker()
	ctx := context.Background()
	q := domain.QueuePlatformSync

	// PushDelayed with a past runAt goes straight to ready, so stage the
	// heap with future items and move with a generous now.
	future := time.Now().Add(time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.PushDelayed(ctx, q, id, future))
	}

	moved, err := b.MoveDue(ctx, q, future.Add(time.Second), 2)
	require.NoError(t, err)
	assert.Len(t, moved, 2)

	moved, err = b.MoveDue(ctx, q, future.Add(time.Second), 2)
	require.NoError(t, err)
	assert.Len(t, moved, 1)
}

func TestMemoryBrokerRemove(t *testing.T) {
	t.Parallel()
	b := NewMemoryBroker()
	ctx := context.Background()
	q := domain.QueuePlatformSync

	require.NoError(t, b.Push(ctx, q, "ready-id"))
	require.NoError(t, b.PushDelayed(ctx, q, "delayed-id", time.Now().Add(time.Hour)))

	require.NoError(t, b.Remove(ctx, q, "ready-id"))
	require.NoError(t, b.Remove(ctx, q, "delayed-id"))
	require.NoError(t, b.Remove(ctx, q, "absent-id"))

	id, err := b.Pop(ctx, q, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
	moved, err := b.MoveDue(ctx, q, time.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, moved)
}

func TestEnqueueAndClaim(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	job := syncJob("tenant-a")
	require.NoError(t, q.Enqueue(ctx, job))
	assert.Equal(t, domain.StatusWaiting, job.Status)

	claimed, err := q.Next(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, domain.StatusActive, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.ProcessedAt)

	stored, err := q.Store().Get(ctx, q.Name(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, stored.Status)
}

func TestEnqueueDelayed(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	job := syncJob("tenant-a")
	job.Delay = time.Hour
	require.NoError(t, q.Enqueue(ctx, job))
	assert.Equal(t, domain.StatusDelayed, job.Status)

	claimed, err := q.Next(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestMoveDuePromotesToWaiting(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	job := syncJob("tenant-a")
	job.Delay = 30 * time.Minute
	require.NoError(t, q.Enqueue(ctx, job))

	require.NoError(t, q.MoveDue(ctx, time.Now().Add(time.Hour), 10))

	stored, err := q.Store().Get(ctx, q.Name(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, stored.Status)

	claimed, err := q.Next(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
}

func TestCompleteAndFail(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	ok := syncJob("tenant-a")
	require.NoError(t, q.Enqueue(ctx, ok))
	claimed, err := q.Next(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, claimed, &domain.JobResult{Success: true, Summary: "done"}))

	stored, err := q.Store().Get(ctx, q.Name(), ok.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	require.NotNil(t, stored.FinishedAt)
	require.NotNil(t, stored.Result)
	assert.True(t, stored.Result.Success)

	bad := syncJob("tenant-a")
	require.NoError(t, q.Enqueue(ctx, bad))
	claimed, err = q.Next(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, claimed, "upstream exploded", nil))

	stored, err = q.Store().Get(ctx, q.Name(), bad.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, "upstream exploded", stored.FailedReason)
}

func TestRetryLater(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	job := syncJob("tenant-a")
	require.NoError(t, q.Enqueue(ctx, job))
	claimed, err := q.Next(ctx, 50*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, q.RetryLater(ctx, claimed, time.Hour))

	stored, err := q.Store().Get(ctx, q.Name(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelayed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	next, err := q.Next(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	job := syncJob("tenant-a")
	require.NoError(t, q.Enqueue(ctx, job))

	ok, err := q.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = q.Store().Get(ctx, q.Name(), job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// cancelled id is gone from the broker too
	next, err := q.Next(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, next)

	// absent id is a no-op, not an error
	ok, err = q.Cancel(ctx, "no-such-job")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelTerminalJobIsNoop(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	job := syncJob("tenant-a")
	require.NoError(t, q.Enqueue(ctx, job))
	claimed, err := q.Next(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, claimed, nil))

	ok, err := q.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	// the completed record survives
	_, err = q.Store().Get(ctx, q.Name(), job.ID)
	require.NoError(t, err)
}

func TestManualRetry(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	job := syncJob("tenant-a")
	require.NoError(t, q.Enqueue(ctx, job))
	claimed, err := q.Next(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, claimed, "boom", &domain.JobResult{Success: false}))

	ok, err := q.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := q.Store().Get(ctx, q.Name(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, stored.Status)
	assert.Empty(t, stored.FailedReason)
	assert.Nil(t, stored.Result)
	assert.Nil(t, stored.FinishedAt)
	assert.Equal(t, 1, stored.Attempts)

	// retrying a non-failed job is refused
	ok, err = q.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPauseBlocksDequeue(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	job := syncJob("tenant-a")
	require.NoError(t, q.Enqueue(ctx, job))

	q.Pause()
	assert.True(t, q.Paused())

	claimed, err := q.Next(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	q.Resume()
	claimed, err = q.Next(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
}

func TestNextSkipsVanishedRecord(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t)
	ctx := context.Background()

	job := syncJob("tenant-a")
	require.NoError(t, q.Enqueue(ctx, job))
	require.NoError(t, q.Store().Delete(ctx, q.Name(), job.ID))

	claimed, err := q.Next(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestMemoryStoreListByStatusNewestFirst(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		j := syncJob("tenant-a")
		j.Status = domain.StatusWaiting
		j.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Insert(ctx, j))
	}

	jobs, err := s.ListByStatus(ctx, domain.QueuePlatformSync, domain.StatusWaiting, 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))
	assert.True(t, jobs[1].CreatedAt.After(jobs[2].CreatedAt))

	page, err := s.ListByStatus(ctx, domain.QueuePlatformSync, domain.StatusWaiting, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestMemoryStoreDeleteCompletedBefore(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	old := syncJob("tenant-a")
	old.Status = domain.StatusCompleted
	oldDone := time.Now().Add(-48 * time.Hour)
	old.FinishedAt = &oldDone
	require.NoError(t, s.Insert(ctx, old))

	fresh := syncJob("tenant-a")
	fresh.Status = domain.StatusCompleted
	freshDone := time.Now()
	fresh.FinishedAt = &freshDone
	require.NoError(t, s.Insert(ctx, fresh))

	failed := syncJob("tenant-a")
	failed.Status = domain.StatusFailed
	failed.FinishedAt = &oldDone
	require.NoError(t, s.Insert(ctx, failed))

	n, err := s.DeleteCompletedBefore(ctx, domain.QueuePlatformSync, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, domain.QueuePlatformSync, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, domain.QueuePlatformSync, fresh.ID)
	require.NoError(t, err)
	// failed jobs are never cleaned automatically
	_, err = s.Get(ctx, domain.QueuePlatformSync, failed.ID)
	require.NoError(t, err)
}

func TestMemoryStoreListByTenant(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	a1 := syncJob("tenant-a")
	require.NoError(t, s.Insert(ctx, a1))
	b1 := syncJob("tenant-b")
	require.NoError(t, s.Insert(ctx, b1))

	imp := &domain.Job{
		ID:    uuid.NewString(),
		Queue: domain.QueueBulkImport,
		Payload: domain.BulkImportPayload{
			PayloadBase: domain.PayloadBase{TenantID: "tenant-a"},
			ImportID:    "imp-1",
			Customers:   []domain.CustomerRecord{{Email: "x@example.com"}},
		},
		CreatedAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, s.Insert(ctx, imp))

	jobs, err := s.ListByTenant(ctx, "tenant-a", 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	// newest first, across queues
	assert.Equal(t, imp.ID, jobs[0].ID)
	assert.Equal(t, a1.ID, jobs[1].ID)
}
