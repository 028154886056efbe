package attempts

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"payment-failure-alerts/internal/storage"
)

const keyPrefix = "attempts:"

// RedisCounter stores checkout attempt samples as one sorted set per gateway,
// scored by the attempt timestamp in unix milliseconds. Retention is explicit
// via Prune rather than a cache TTL, so windowed counts never silently lose
// their denominator.
type RedisCounter struct {
	client    *redis.Client
	retention time.Duration
	logger    zerolog.Logger
}

// NewRedisCounter connects a counter to the configured redis instance.
func NewRedisCounter(url string, retention time.Duration, logger zerolog.Logger) (*RedisCounter, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return &RedisCounter{
		client:    redis.NewClient(opt),
		retention: retention,
		logger:    logger.With().Str("component", "attempt_counter").Logger(),
	}, nil
}

// Close releases the underlying client.
func (c *RedisCounter) Close() error {
	return c.client.Close()
}

// Record stores an attempt sample.
func (c *RedisCounter) Record(ctx context.Context, sample storage.AttemptSample) error {
	member := uuid.NewString() + ":" + string(sample.Outcome)
	err := c.client.ZAdd(ctx, keyPrefix+sample.Gateway, redis.Z{
		Score:  float64(sample.Timestamp.UnixMilli()),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// CountAttempts counts attempts for gateway with timestamps in [from, to).
func (c *RedisCounter) CountAttempts(ctx context.Context, gateway string, from, to time.Time) (int, error) {
	min := strconv.FormatInt(from.UnixMilli(), 10)
	max := "(" + strconv.FormatInt(to.UnixMilli(), 10)

	count, err := c.client.ZCount(ctx, keyPrefix+gateway, min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return int(count), nil
}

// Prune removes samples older than the retention window across all gateways.
func (c *RedisCounter) Prune(ctx context.Context) error {
	cutoff := "(" + strconv.FormatInt(time.Now().UTC().Add(-c.retention).UnixMilli(), 10)

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan attempt keys: %w", err)
		}

		for _, key := range keys {
			removed, err := c.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Result()
			if err != nil {
				return fmt.Errorf("prune attempts for %s: %w", key, err)
			}
			if removed > 0 {
				c.logger.Debug().Str("key", key).Int64("removed", removed).Msg("pruned attempt samples")
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
