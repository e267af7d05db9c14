package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/OneClickTag/jobrunner/internal/domain"
)

// PGStore persists job records in Postgres (source of truth).
type PGStore struct{ db *pgxpool.Pool }

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{db} }

func (s *PGStore) Insert(ctx context.Context, job *domain.Job) error {
	payload, err := domain.MarshalPayload(job.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `insert into jobs(
id, queue_name, tenant_id, payload, status,
progress_total, progress_completed, progress_failed, progress_pct,
attempts, max_attempts, delay_ms, priority,
created_at, processed_at, finished_at, failed_reason
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		job.ID, job.Queue, job.TenantID(), payload, job.Status,
		job.Progress.Total, job.Progress.Completed, job.Progress.Failed, job.Progress.Percentage,
		job.Attempts, job.MaxAttempts, job.Delay.Milliseconds(), job.Priority,
		job.CreatedAt, job.ProcessedAt, job.FinishedAt, nullable(job.FailedReason),
	)
	return errors.Wrap(err, "insert job")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const jobColumns = `id, queue_name, payload, status,
progress_total, progress_completed, progress_failed, progress_pct,
attempts, max_attempts, delay_ms, priority, result,
created_at, processed_at, finished_at, failed_reason`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		j            domain.Job
		payload      []byte
		result       []byte
		delayMs      int64
		failedReason *string
	)
	err := row.Scan(&j.ID, &j.Queue, &payload, &j.Status,
		&j.Progress.Total, &j.Progress.Completed, &j.Progress.Failed, &j.Progress.Percentage,
		&j.Attempts, &j.MaxAttempts, &delayMs, &j.Priority, &result,
		&j.CreatedAt, &j.ProcessedAt, &j.FinishedAt, &failedReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "scan job")
	}
	j.Delay = time.Duration(delayMs) * time.Millisecond
	if failedReason != nil {
		j.FailedReason = *failedReason
	}
	if j.Payload, err = domain.UnmarshalPayload(j.Queue, payload); err != nil {
		return nil, err
	}
	if len(result) > 0 {
		var res domain.JobResult
		if err := json.Unmarshal(result, &res); err != nil {
			return nil, errors.Wrap(err, "unmarshal job result")
		}
		j.Result = &res
	}
	return &j, nil
}

func (s *PGStore) Get(ctx context.Context, q domain.QueueName, id string) (*domain.Job, error) {
	row := s.db.QueryRow(ctx,
		`select `+jobColumns+` from jobs where queue_name = $1 and id = $2`, q, id)
	return scanJob(row)
}

func (s *PGStore) Update(ctx context.Context, job *domain.Job) error {
	var result []byte
	if job.Result != nil {
		var err error
		if result, err = json.Marshal(job.Result); err != nil {
			return errors.Wrap(err, "marshal job result")
		}
	}
	tag, err := s.db.Exec(ctx, `update jobs set
status = $3,
progress_total = $4, progress_completed = $5, progress_failed = $6, progress_pct = $7,
attempts = $8, delay_ms = $9, result = $10,
processed_at = $11, finished_at = $12, failed_reason = $13,
updated_at = now()
where queue_name = $1 and id = $2`,
		job.Queue, job.ID, job.Status,
		job.Progress.Total, job.Progress.Completed, job.Progress.Failed, job.Progress.Percentage,
		job.Attempts, job.Delay.Milliseconds(), result,
		job.ProcessedAt, job.FinishedAt, nullable(job.FailedReason),
	)
	if err != nil {
		return errors.Wrap(err, "update job")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, q domain.QueueName, id string) error {
	tag, err := s.db.Exec(ctx, `delete from jobs where queue_name = $1 and id = $2`, q, id)
	if err != nil {
		return errors.Wrap(err, "delete job")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ListByStatus(ctx context.Context, q domain.QueueName, status domain.Status, limit, offset int) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx,
		`select `+jobColumns+` from jobs
		  where queue_name = $1 and status = $2
		  order by created_at desc limit $3 offset $4`, q, status, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, errors.Wrap(rows.Err(), "iterate jobs")
}

func (s *PGStore) Count(ctx context.Context, q domain.QueueName, status domain.Status) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`select count(*) from jobs where queue_name = $1 and status = $2`, q, status).Scan(&n)
	return n, errors.Wrap(err, "count jobs")
}

func (s *PGStore) DeleteCompletedBefore(ctx context.Context, q domain.QueueName, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`delete from jobs
		  where queue_name = $1 and status = $2
		    and coalesce(finished_at, created_at) < $3`,
		q, domain.StatusCompleted, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "delete completed jobs")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx,
		`select `+jobColumns+` from jobs
		  where tenant_id = $1
		  order by created_at desc limit $2 offset $3`, tenantID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list tenant jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}
