package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisTracker shares the daily budget across processes through Redis.
type RedisTracker struct {
	redis  *redis.Client
	budget int
	now    func() time.Time
	logger zerolog.Logger
}

// NewRedisTracker creates a Redis-backed tracker with the given daily budget (0 = unlimited).
func NewRedisTracker(redisClient *redis.Client, budget int, logger zerolog.Logger) *RedisTracker {
	return &RedisTracker{
		redis:  redisClient,
		budget: budget,
		now:    time.Now,
		logger: logger,
	}
}

// Allow implements Tracker. The counter is incremented before the budget check,
// so a refused request still occupies a slot.
func (t *RedisTracker) Allow(ctx context.Context) (bool, error) {
	now := t.now()

	exhaustedUntil, err := t.exhaustedUntil(ctx)
	if err != nil {
		return false, err
	}
	if now.Before(exhaustedUntil) {
		quotaBlocksTotal.Inc()
		return false, nil
	}

	key := dayKey(now)
	pipe := t.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, NextReset(now).Add(time.Hour))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("count request in redis: %w", err)
	}

	used := int(incr.Val())
	quotaUsed.Set(float64(used))

	if t.budget > 0 && used > t.budget {
		t.logger.Warn().
			Int("used", used).
			Int("budget", t.budget).
			Msg("Daily budget exhausted - blocking request")
		quotaBlocksTotal.Inc()
		return false, nil
	}
	return true, nil
}

// MarkExhausted implements Tracker.
func (t *RedisTracker) MarkExhausted(ctx context.Context, until time.Time) error {
	ttl := until.Sub(t.now())
	if ttl <= 0 {
		return nil
	}
	if err := t.redis.Set(ctx, RedisKeyExhaustedUntil, until.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("store exhausted_until in redis: %w", err)
	}
	quotaExhaustedTotal.Inc()
	t.logger.Warn().Time("until", until).Msg("Quota exhausted")
	return nil
}

// State implements Tracker.
func (t *RedisTracker) State(ctx context.Context) (*State, error) {
	now := t.now()

	used, err := t.redis.Get(ctx, dayKey(now)).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get used count: %w", err)
	}

	exhaustedUntil, err := t.exhaustedUntil(ctx)
	if err != nil {
		return nil, err
	}

	if t.budget > 0 && used > t.budget {
		used = t.budget
	}

	return &State{
		Used:           used,
		Budget:         t.budget,
		ResetAt:        NextReset(now),
		ExhaustedUntil: exhaustedUntil,
	}, nil
}

func (t *RedisTracker) exhaustedUntil(ctx context.Context) (time.Time, error) {
	ts, err := t.redis.Get(ctx, RedisKeyExhaustedUntil).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get exhausted_until: %w", err)
	}
	return time.Unix(ts, 0), nil
}
