package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"orderrelay/internal/domain/delivery"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ delivery.DestinationLimiter = (*RedisDestinationLimiter)(nil)

// KeyPrefix namespaces the per-destination windows in Redis.
const KeyPrefix = "orderrelay:ratelimit:"

// keyGrace keeps an idle window around slightly longer than the window itself.
const keyGrace = time.Minute

// RedisDestinationLimiter caps deliveries per destination over a sliding
// window. Each delivery is a member of a sorted set scored by its timestamp.
//
// A delivery is recorded and counted in one MULTI block, then withdrawn if it
// pushed the window over the cap. Concurrent relays sharing a Redis therefore
// never admit more than the cap between them.
type RedisDestinationLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
	now    func() time.Time
}

// NewRedisDestinationLimiter creates an hourly limiter on its own Redis
// connection.
func NewRedisDestinationLimiter(redisAddr, password string, db int, maxPerHour int) *RedisDestinationLimiter {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	})
	return NewWithClient(client, maxPerHour, time.Hour)
}

// NewWithClient creates a limiter on an existing client.
func NewWithClient(client *redis.Client, max int, window time.Duration) *RedisDestinationLimiter {
	return &RedisDestinationLimiter{
		client: client,
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Allow reports whether another notification may go to destination. An
// allowed call counts against the window; a denied one does not.
func (r *RedisDestinationLimiter) Allow(ctx context.Context, destination string) (bool, error) {
	key := KeyPrefix + destination
	now := r.now()
	cutoff := strconv.FormatInt(now.Add(-r.window).UnixNano(), 10)
	member := uuid.NewString()

	var count *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
		count = pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, r.window+keyGrace)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking rate limit for %s: %w", destination, err)
	}

	if count.Val() <= int64(r.max) {
		return true, nil
	}

	if err := r.client.ZRem(ctx, key, member).Err(); err != nil {
		return false, fmt.Errorf("withdrawing rate limit entry for %s: %w", destination, err)
	}
	return false, nil
}

// Close closes the Redis connection.
func (r *RedisDestinationLimiter) Close() error {
	return r.client.Close()
}
