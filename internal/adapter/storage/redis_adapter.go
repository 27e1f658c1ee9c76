package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sequenceKeyPrefix  = "order_seq:"
	sequenceKeyTTL     = 48 * time.Hour
	idempotencyPending = "pending"
)

// nextSequenceScript raises the counter to the floor before incrementing, so
// a counter that expired or was never seeded cannot reissue a stored number.
var nextSequenceScript = redis.NewScript(`
local key = KEYS[1]
local floor = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = redis.call('GET', key)
if not current or tonumber(current) < floor then
	redis.call('SET', key, floor)
end

local seq = redis.call('INCR', key)
redis.call('EXPIRE', key, ttl)
return seq
`)

type RedisAdapter struct {
	client         *redis.Client
	idempotencyTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, idempotencyTTL time.Duration) *RedisAdapter {
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	return &RedisAdapter{client: client, idempotencyTTL: idempotencyTTL}
}

func (r *RedisAdapter) Next(ctx context.Context, restaurantID int64, day string, floor int) (int, error) {
	key := fmt.Sprintf("%s%d:%s", sequenceKeyPrefix, restaurantID, day)

	seq, err := nextSequenceScript.Run(ctx, r.client, []string{key}, floor, int(sequenceKeyTTL.Seconds())).Int()
	if err != nil {
		return 0, fmt.Errorf("next order sequence: %w", err)
	}
	return seq, nil
}

func (r *RedisAdapter) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, idempotencyPending, r.idempotencyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisAdapter) Complete(ctx context.Context, key string, orderID int64) error {
	return r.client.Set(ctx, key, orderID, r.idempotencyTTL).Err()
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) Lookup(ctx context.Context, key string) (int64, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) || val == idempotencyPending {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	orderID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse idempotency value %q: %w", val, err)
	}
	return orderID, true, nil
}
