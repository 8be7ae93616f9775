package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func setupTestRateLimiter(t *testing.T, limit int, window time.Duration) (*RateLimiter, func()) {
	t.Helper()
	client, cleanup := setupTestRedis(t)
	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  limit,
		Window: window,
	})
	return limiter, cleanup
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 5, time.Minute)
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, 100)
		if err != nil {
			t.Fatalf("update %d failed: %v", i, err)
		}
		if !allowed {
			t.Fatalf("update %d should be allowed", i)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 3, time.Minute)
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.Allow(ctx, 100)
		if !allowed {
			t.Fatalf("update %d should be allowed", i)
		}
	}

	allowed, err := limiter.Allow(ctx, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("update over the limit should be blocked")
	}
}

func TestRateLimiter_SeparateChats(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 2, time.Minute)
	defer cleanup()

	ctx := context.Background()

	// chat 100 burns through its budget
	for i := 0; i < 3; i++ {
		limiter.Allow(ctx, 100)
	}

	// chat 200 is untouched
	allowed, err := limiter.Allow(ctx, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("a quiet chat must not inherit another chat's limit")
	}
}
