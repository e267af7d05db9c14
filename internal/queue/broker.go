package queue

import (
	"context"
	"time"

	"github.com/OneClickTag/jobrunner/internal/domain"
)

// Broker is the durable queue primitive this subsystem is built on top of.
// It provides at-least-once delivery and per-queue enqueue ordering; job
// state itself lives in the Store.
type Broker interface {
	// Push makes a job id immediately eligible for dequeue.
	Push(ctx context.Context, q domain.QueueName, jobID string) error
	// PushDelayed holds a job id until runAt, after which MoveDue promotes it.
	PushDelayed(ctx context.Context, q domain.QueueName, jobID string, runAt time.Time) error
	// Pop blocks up to the given duration and returns the next eligible job
	// id, or "" when none became eligible.
	Pop(ctx context.Context, q domain.QueueName, block time.Duration) (string, error)
	// MoveDue promotes delayed ids whose runAt has passed and returns them.
	MoveDue(ctx context.Context, q domain.QueueName, now time.Time, batch int64) ([]string, error)
	// Remove drops a job id from the ready list or the delayed set. It is a
	// no-op when the id is not present.
	Remove(ctx context.Context, q domain.QueueName, jobID string) error
}
