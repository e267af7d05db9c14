package domain

import "time"

// QueueName identifies one of the four logical job queues.
type QueueName string

const (
	QueuePlatformSync QueueName = "platform-sync"
	QueueBulkImport   QueueName = "bulk-import"
	QueueAPIRetry     QueueName = "api-retry"
	QueueAggregation  QueueName = "analytics-aggregation"
)

// Queues lists every logical queue in a stable order.
func Queues() []QueueName {
	return []QueueName{QueuePlatformSync, QueueBulkImport, QueueAPIRetry, QueueAggregation}
}

// Valid reports whether q names a known queue.
func (q QueueName) Valid() bool {
	switch q {
	case QueuePlatformSync, QueueBulkImport, QueueAPIRetry, QueueAggregation:
		return true
	}
	return false
}

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDelayed   Status = "delayed"
	StatusPaused    Status = "paused"
)

// Statuses lists every job status in a stable order.
func Statuses() []Status {
	return []Status{StatusWaiting, StatusActive, StatusCompleted, StatusFailed, StatusDelayed, StatusPaused}
}

// Terminal reports whether no further execution can happen for this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress is mutated only by the processor currently owning the job.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Percentage int `json:"percentage"`
}

// JobResult is attached to a job once it reaches a terminal state.
type JobResult struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Errors  []string       `json:"errors,omitempty"`
	Summary string         `json:"summary"`
}

// Job is an immutable-once-created unit of work. The tenant owning it never
// changes after creation; processors and monitoring scope all tenant-visible
// side effects to Payload.Base().TenantID.
type Job struct {
	ID           string        `json:"id"`
	Queue        QueueName     `json:"queueName"`
	Payload      Payload       `json:"payload"`
	Status       Status        `json:"status"`
	Progress     Progress      `json:"progress"`
	Attempts     int           `json:"attempts"`
	MaxAttempts  int           `json:"maxAttempts"`
	Delay        time.Duration `json:"delayMs"`
	Priority     int           `json:"priority"`
	Result       *JobResult    `json:"result,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	ProcessedAt  *time.Time    `json:"processedAt,omitempty"`
	FinishedAt   *time.Time    `json:"finishedAt,omitempty"`
	FailedReason string        `json:"failedReason,omitempty"`
}

// TenantID returns the owning tenant recorded in the payload.
func (j *Job) TenantID() string {
	if j.Payload == nil {
		return ""
	}
	return j.Payload.Base().TenantID
}

// QueueStats is derived from the job collection, never stored.
type QueueStats struct {
	Queue     QueueName `json:"queue"`
	Waiting   int       `json:"waiting"`
	Active    int       `json:"active"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Delayed   int       `json:"delayed"`
	Total     int       `json:"total"`
}
