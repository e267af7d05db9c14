package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/OneClickTag/jobrunner/internal/domain"
)

// ErrNotFound is returned when a job id does not exist in a queue.
var ErrNotFound = errors.New("job not found")

// Store persists job records (source of truth for job state). The broker
// only carries ids; everything tenant- or status-visible lives here.
type Store interface {
	Insert(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, q domain.QueueName, id string) (*domain.Job, error)
	Update(ctx context.Context, job *domain.Job) error
	Delete(ctx context.Context, q domain.QueueName, id string) error
	// ListByStatus returns jobs sorted by creation time descending.
	ListByStatus(ctx context.Context, q domain.QueueName, status domain.Status, limit, offset int) ([]*domain.Job, error)
	Count(ctx context.Context, q domain.QueueName, status domain.Status) (int, error)
	// DeleteCompletedBefore removes completed jobs finished before cutoff.
	DeleteCompletedBefore(ctx context.Context, q domain.QueueName, cutoff time.Time) (int, error)
	// ListByTenant returns a tenant's jobs across all queues, newest first.
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*domain.Job, error)
}
