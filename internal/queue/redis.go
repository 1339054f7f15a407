package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker keeps each queue in Redis:
//
//	<prefix><queue>:wait       list, LPUSH in / RPOP out
//	<prefix><queue>:active     list
//	<prefix><queue>:delayed    zset scored by run-at (unix ms)
//	<prefix><queue>:completed  list of task JSON, trimmed to RemoveOnComplete
//	<prefix><queue>:failed     zset of ids scored by failure time
//	<prefix><queue>:job:<id>   hash {data: task JSON}
type RedisBroker struct {
	rdb    *redis.Client
	prefix string
}

// DefaultRedisPrefix namespaces every key.
const DefaultRedisPrefix = "jobmate:queue:"

func NewRedisBroker(rdb *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBroker{rdb: rdb, prefix: prefix}
}

func (b *RedisBroker) key(queue, kind string) string { return b.prefix + queue + ":" + kind }
func (b *RedisBroker) jobKey(queue, id string) string { return b.prefix + queue + ":job:" + id }

func (b *RedisBroker) Add(ctx context.Context, t Task) (bool, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return false, fmt.Errorf("encode task: %w", err)
	}
	ok, err := b.rdb.HSetNX(ctx, b.jobKey(t.Queue, t.ID), "data", data).Result()
	if err != nil {
		return false, fmt.Errorf("store task: %w", err)
	}
	if !ok {
		return false, nil
	}
	if t.delayed() {
		err = b.rdb.ZAdd(ctx, b.key(t.Queue, "delayed"), redis.Z{Score: float64(t.RunAt.UnixMilli()), Member: t.ID}).Err()
	} else {
		err = b.rdb.LPush(ctx, b.key(t.Queue, "wait"), t.ID).Err()
	}
	if err != nil {
		return false, fmt.Errorf("enqueue task: %w", err)
	}
	return true, nil
}

func (b *RedisBroker) Reserve(ctx context.Context, queue string, now time.Time) (*Task, error) {
	id, err := b.rdb.LMove(ctx, b.key(queue, "wait"), b.key(queue, "active"), "RIGHT", "LEFT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}

	raw, err := b.rdb.HGet(ctx, b.jobKey(queue, id), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		// removed between push and pickup
		b.rdb.LRem(ctx, b.key(queue, "active"), 1, id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	t.Attempts++
	t.ReservedAt = now
	if err := b.save(ctx, b.rdb, t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *RedisBroker) save(ctx context.Context, c redis.Cmdable, t Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return c.HSet(ctx, b.jobKey(t.Queue, t.ID), "data", data).Err()
}

func (b *RedisBroker) Complete(ctx context.Context, t Task) error {
	t.FinishedAt = t.finishedAt()
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	keep := int64(t.RemoveOnComplete)
	if keep <= 0 {
		keep = DefaultRemoveOnComplete
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.key(t.Queue, "active"), 1, t.ID)
		pipe.Del(ctx, b.jobKey(t.Queue, t.ID))
		pipe.LPush(ctx, b.key(t.Queue, "completed"), data)
		pipe.LTrim(ctx, b.key(t.Queue, "completed"), 0, keep-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete %s: %w", t.ID, err)
	}
	return nil
}

func (b *RedisBroker) Retry(ctx context.Context, t Task, at time.Time, reason string) error {
	t.FailedReason = reason
	t.RunAt = at
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.key(t.Queue, "active"), 1, t.ID)
		if err := b.save(ctx, pipe, t); err != nil {
			return err
		}
		pipe.ZAdd(ctx, b.key(t.Queue, "delayed"), redis.Z{Score: float64(at.UnixMilli()), Member: t.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("retry %s: %w", t.ID, err)
	}
	return nil
}

func (b *RedisBroker) Fail(ctx context.Context, t Task, reason string) error {
	t.FailedReason = reason
	t.FinishedAt = t.finishedAt()
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.key(t.Queue, "active"), 1, t.ID)
		if err := b.save(ctx, pipe, t); err != nil {
			return err
		}
		pipe.ZAdd(ctx, b.key(t.Queue, "failed"), redis.Z{Score: float64(t.FinishedAt.UnixMilli()), Member: t.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail %s: %w", t.ID, err)
	}
	return nil
}

func (b *RedisBroker) Promote(ctx context.Context, queue string, now time.Time) (int, error) {
	due, err := b.rdb.ZRangeByScore(ctx, b.key(queue, "delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("promote: %w", err)
	}
	moved := 0
	for _, id := range due {
		// ZREM decides which of several promoting workers owns the move.
		n, err := b.rdb.ZRem(ctx, b.key(queue, "delayed"), id).Result()
		if err != nil {
			return moved, fmt.Errorf("promote %s: %w", id, err)
		}
		if n == 0 {
			continue
		}
		if err := b.rdb.LPush(ctx, b.key(queue, "wait"), id).Err(); err != nil {
			return moved, fmt.Errorf("promote %s: %w", id, err)
		}
		moved++
	}
	return moved, nil
}

func (b *RedisBroker) Remove(ctx context.Context, queue, id string) error {
	n, err := b.rdb.ZRem(ctx, b.key(queue, "delayed"), id).Result()
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	if n == 0 {
		if n, err = b.rdb.LRem(ctx, b.key(queue, "wait"), 0, id).Result(); err != nil {
			return fmt.Errorf("remove: %w", err)
		}
	}
	if n == 0 {
		return ErrNotPending
	}
	return b.rdb.Del(ctx, b.jobKey(queue, id)).Err()
}

func (b *RedisBroker) Counts(ctx context.Context, queue string) (Counts, error) {
	var waiting, active, delayed, completed, failed *redis.IntCmd
	_, err := b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, b.key(queue, "wait"))
		active = pipe.LLen(ctx, b.key(queue, "active"))
		delayed = pipe.ZCard(ctx, b.key(queue, "delayed"))
		completed = pipe.LLen(ctx, b.key(queue, "completed"))
		failed = pipe.ZCard(ctx, b.key(queue, "failed"))
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("counts %s: %w", queue, err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func (b *RedisBroker) Recover(ctx context.Context, queue string, staleBefore time.Time) (int, error) {
	ids, err := b.rdb.LRange(ctx, b.key(queue, "active"), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("recover %s: %w", queue, err)
	}
	n := 0
	for _, id := range ids {
		raw, err := b.rdb.HGet(ctx, b.jobKey(queue, id), "data").Bytes()
		gone := errors.Is(err, redis.Nil)
		if err != nil && !gone {
			return n, fmt.Errorf("recover %s: load %s: %w", queue, id, err)
		}
		if !gone {
			var t Task
			if err := json.Unmarshal(raw, &t); err != nil {
				return n, fmt.Errorf("recover %s: decode %s: %w", queue, id, err)
			}
			if !t.ReservedAt.Before(staleBefore) {
				continue
			}
		}
		// LREM decides which of several recovering processes owns the move;
		// a task that completed meanwhile is already gone from active.
		removed, err := b.rdb.LRem(ctx, b.key(queue, "active"), 1, id).Result()
		if err != nil {
			return n, fmt.Errorf("recover %s: %w", queue, err)
		}
		if removed == 0 || gone {
			continue
		}
		if err := b.rdb.RPush(ctx, b.key(queue, "wait"), id).Err(); err != nil {
			return n, fmt.Errorf("recover %s: requeue %s: %w", queue, id, err)
		}
		n++
	}
	return n, nil
}

// Close is a no-op: the client belongs to the caller, which also uses it to
// publish events.
func (b *RedisBroker) Close() error { return nil }
