package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/OneClickTag/jobrunner/internal/domain"
)

// RedisBroker keeps the ready list in "queue:<name>" and future-dated jobs
// in the "delay:<name>" sorted set, scored by their unix eligibility time.
type RedisBroker struct{ rdb *r.Client }

func NewRedisBroker(rdb *r.Client) *RedisBroker { return &RedisBroker{rdb} }

func readyKey(q domain.QueueName) string { return "queue:" + string(q) }
func delayKey(q domain.QueueName) string { return "delay:" + string(q) }

func (b *RedisBroker) Push(ctx context.Context, q domain.QueueName, jobID string) error {
	return errors.Wrap(b.rdb.LPush(ctx, readyKey(q), jobID).Err(), "push")
}

func (b *RedisBroker) PushDelayed(ctx context.Context, q domain.QueueName, jobID string, runAt time.Time) error {
	if !runAt.After(time.Now()) {
		return b.Push(ctx, q, jobID)
	}
	err := b.rdb.ZAdd(ctx, delayKey(q), r.Z{Score: float64(runAt.Unix()), Member: jobID}).Err()
	return errors.Wrap(err, "push delayed")
}

func (b *RedisBroker) Pop(ctx context.Context, q domain.QueueName, block time.Duration) (string, error) {
	res, err := b.rdb.BRPop(ctx, block, readyKey(q)).Result()
	if err != nil {
		if errors.Is(err, r.Nil) {
			return "", nil
		}
		return "", errors.Wrap(err, "pop")
	}
	if len(res) == 2 {
		return res[1], nil
	}
	return "", nil
}

func (b *RedisBroker) MoveDue(ctx context.Context, q domain.QueueName, now time.Time, batch int64) ([]string, error) {
	ids, err := b.rdb.ZRangeByScore(ctx, delayKey(q), &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.Unix()), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return nil, errors.Wrap(err, "range due")
	}

	pipe := b.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, readyKey(q), id)
		pipe.ZRem(ctx, delayKey(q), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "move due")
	}
	return ids, nil
}

func (b *RedisBroker) Remove(ctx context.Context, q domain.QueueName, jobID string) error {
	pipe := b.rdb.TxPipeline()
	pipe.LRem(ctx, readyKey(q), 0, jobID)
	pipe.ZRem(ctx, delayKey(q), jobID)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "remove")
}
