package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/OneClickTag/jobrunner/internal/domain"
)

// MemoryStore keeps job records in process memory. Used by tests and
// single-process deployments; PGStore is the durable counterpart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[domain.QueueName]map[string]*domain.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[domain.QueueName]map[string]*domain.Job)}
}

func cloneJob(j *domain.Job) *domain.Job {
	cp := *j
	return &cp
}

func (s *MemoryStore) Insert(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.jobs[job.Queue]
	if !ok {
		m = make(map[string]*domain.Job)
		s.jobs[job.Queue] = m
	}
	m[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, q domain.QueueName, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[q][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) Update(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Queue][job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.Queue][job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, q domain.QueueName, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[q][id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs[q], id)
	return nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, q domain.QueueName, status domain.Status, limit, offset int) ([]*domain.Job, error) {
	s.mu.RLock()
	var out []*domain.Job
	for _, j := range s.jobs[q] {
		if j.Status == status {
			out = append(out, cloneJob(j))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func (s *MemoryStore) Count(ctx context.Context, q domain.QueueName, status domain.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, j := range s.jobs[q] {
		if j.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteCompletedBefore(ctx context.Context, q domain.QueueName, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, j := range s.jobs[q] {
		if j.Status != domain.StatusCompleted {
			continue
		}
		finished := j.CreatedAt
		if j.FinishedAt != nil {
			finished = *j.FinishedAt
		}
		if finished.Before(cutoff) {
			delete(s.jobs[q], id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*domain.Job, error) {
	s.mu.RLock()
	var out []*domain.Job
	for _, m := range s.jobs {
		for _, j := range m {
			if j.TenantID() == tenantID {
				out = append(out, cloneJob(j))
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func paginate(jobs []*domain.Job, limit, offset int) []*domain.Job {
	if offset >= len(jobs) {
		return nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}
