package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines the per-chat update budget.
type RateLimitConfig struct {
	Limit  int           // Maximum updates allowed per chat
	Window time.Duration // Time window for the limit
}

// RateLimiter implements sliding window rate limiting per chat using Redis
// sorted sets. It stops one chat from flooding the bot with commands
// without touching anyone else's budget.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
}

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
	}
}

// Allow reports whether the chat may spend one more update from its
// window. An allowed update is recorded immediately.
func (r *RateLimiter) Allow(ctx context.Context, chatID int64) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-r.config.Window)
	redisKey := fmt.Sprintf("ratelimit:chat:%d", chatID)

	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis pipeline failed: %w", err)
	}

	if int(countCmd.Val()) >= r.config.Limit {
		r.logger.Debug("chat rate limit exceeded",
			zap.Int64("chat_id", chatID),
			zap.Int("limit", r.config.Limit),
		)
		return false, nil
	}

	pipe2 := r.client.rdb.Pipeline()
	pipe2.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe2.Expire(ctx, redisKey, r.config.Window+time.Second)
	if _, err := pipe2.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis zadd failed: %w", err)
	}

	return true, nil
}
