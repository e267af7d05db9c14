package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/OneClickTag/jobrunner/internal/domain"
)

// MemoryBroker is a process-local Broker used by tests and single-process
// deployments. Delayed ids sit in a min-heap ordered by eligibility time.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[domain.QueueName]*memQueue
}

type memQueue struct {
	ready   []string
	delayed delayHeap
	wake    chan struct{}
}

type delayedItem struct {
	id    string
	runAt time.Time
}

type delayHeap []delayedItem

func (h delayHeap) Len() int           { return len(h) }
func (h delayHeap) Less(i, j int) bool { return h[i].runAt.Before(h[j].runAt) }
func (h delayHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)        { *h = append(*h, x.(delayedItem)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[domain.QueueName]*memQueue)}
}

func (b *MemoryBroker) queue(q domain.QueueName) *memQueue {
	mq, ok := b.queues[q]
	if !ok {
		mq = &memQueue{wake: make(chan struct{}, 1)}
		b.queues[q] = mq
	}
	return mq
}

func (mq *memQueue) signal() {
	select {
	case mq.wake <- struct{}{}:
	default:
	}
}

func (b *MemoryBroker) Push(ctx context.Context, q domain.QueueName, jobID string) error {
	b.mu.Lock()
	mq := b.queue(q)
	mq.ready = append(mq.ready, jobID)
	mq.signal()
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroker) PushDelayed(ctx context.Context, q domain.QueueName, jobID string, runAt time.Time) error {
	if !runAt.After(time.Now()) {
		return b.Push(ctx, q, jobID)
	}
	b.mu.Lock()
	heap.Push(&b.queue(q).delayed, delayedItem{id: jobID, runAt: runAt})
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroker) Pop(ctx context.Context, q domain.QueueName, block time.Duration) (string, error) {
	deadline := time.NewTimer(block)
	defer deadline.Stop()

	for {
		b.mu.Lock()
		mq := b.queue(q)
		if len(mq.ready) > 0 {
			id := mq.ready[0]
			mq.ready = mq.ready[1:]
			if len(mq.ready) > 0 {
				mq.signal()
			}
			b.mu.Unlock()
			return id, nil
		}
		wake := mq.wake
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", nil
		case <-wake:
		}
	}
}

func (b *MemoryBroker) MoveDue(ctx context.Context, q domain.QueueName, now time.Time, batch int64) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mq := b.queue(q)

	var moved []string
	for int64(len(moved)) < batch && mq.delayed.Len() > 0 && !mq.delayed[0].runAt.After(now) {
		item := heap.Pop(&mq.delayed).(delayedItem)
		mq.ready = append(mq.ready, item.id)
		moved = append(moved, item.id)
	}
	if len(moved) > 0 {
		mq.signal()
	}
	return moved, nil
}

func (b *MemoryBroker) Remove(ctx context.Context, q domain.QueueName, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	mq := b.queue(q)

	for i, id := range mq.ready {
		if id == jobID {
			mq.ready = append(mq.ready[:i], mq.ready[i+1:]...)
			return nil
		}
	}
	for i, item := range mq.delayed {
		if item.id == jobID {
			heap.Remove(&mq.delayed, i)
			return nil
		}
	}
	return nil
}
