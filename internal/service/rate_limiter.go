package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/maheshrc27/crosspost/internal/database"
	"github.com/redis/go-redis/v9"
)

// RateDecision is the outcome of one rate limit check.
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter keeps a sliding window log per key in a Redis sorted set.
type RateLimiter struct {
	redis *database.Redis
	now   func() time.Time
}

func NewRateLimiter(redis *database.Redis) *RateLimiter {
	return &RateLimiter{redis: redis, now: time.Now}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*RateDecision, error) {
	now := r.now()
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	windowStart := now.Add(-window).UnixMilli()

	client := r.redis.Client
	if err := client.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10)).Err(); err != nil {
		return nil, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := client.ZCard(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	if count >= int64(limit) {
		d := &RateDecision{Limit: limit, RetryAfter: window}
		oldest, err := client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			d.RetryAfter = window - now.Sub(time.UnixMilli(int64(oldest[0].Score)))
		}
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
		return d, nil
	}

	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, redisKey, redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: strconv.FormatInt(now.UnixNano(), 10),
		})
		pipe.Expire(ctx, redisKey, window+time.Minute)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add entry: %w", err)
	}

	return &RateDecision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - int(count) - 1,
	}, nil
}
