package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ankitraval/jobforge/pkg/models"
)

const (
	readyKey     = "jobforge:tasks:ready"
	scheduledKey = "jobforge:tasks:scheduled"
)

// RedisDispatcher implements Dispatcher on go-redis/v9: a list for ready
// tasks and a sorted set (scored by due time) for delayed ones. A scheduler
// process calls PromoteDue periodically to move due members over.
type RedisDispatcher struct {
	client *redis.Client
}

// NewRedisDispatcher creates a RedisDispatcher from a Redis URL.
func NewRedisDispatcher(redisURL string) (*RedisDispatcher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisDispatcher{client: redis.NewClient(opts)}, nil
}

func (d *RedisDispatcher) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *RedisDispatcher) Close() error {
	return d.client.Close()
}

func (d *RedisDispatcher) Enqueue(ctx context.Context, task models.Task, notBefore time.Time) error {
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	if time.Until(notBefore) > 0 {
		err = d.client.ZAdd(ctx, scheduledKey, redis.Z{
			Score:  float64(scheduleScore(notBefore)),
			Member: payload,
		}).Err()
	} else {
		err = d.client.LPush(ctx, readyKey, payload).Err()
	}
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

func (d *RedisDispatcher) Dequeue(ctx context.Context, block time.Duration) (*models.Task, error) {
	res, err := d.client.BRPop(ctx, block, readyKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue task: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue task: unexpected reply of %d elements", len(res))
	}
	task, err := decodeTask([]byte(res[1]))
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (d *RedisDispatcher) PromoteDue(ctx context.Context, now time.Time, batch int) (int, error) {
	members, err := d.client.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.Unix(), 10),
		Offset: 0,
		Count:  int64(batch),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	pipe := d.client.TxPipeline()
	for _, m := range members {
		pipe.LPush(ctx, readyKey, m)
		pipe.ZRem(ctx, scheduledKey, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("promote due tasks: %w", err)
	}
	return len(members), nil
}

// scheduleScore converts a due time to a zset score in whole seconds,
// rounded up. PromoteDue compares whole seconds too; flooring here would let
// a task with a fractional due time surface before its run_after and lose
// the subsequent claim.
func scheduleScore(notBefore time.Time) int64 {
	score := notBefore.Unix()
	if notBefore.Nanosecond() > 0 {
		score++
	}
	return score
}

func encodeTask(task models.Task) ([]byte, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return payload, nil
}

func decodeTask(payload []byte) (models.Task, error) {
	var task models.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return models.Task{}, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}
