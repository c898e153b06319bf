package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of an admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is the epoch millisecond at which the oldest recorded attempt
	// leaves the window.
	Reset int64
}

// RetryAfter returns how long a rejected caller should wait, in seconds,
// rounded up and never below 1.
func (r Result) RetryAfter(now time.Time) int {
	ms := r.Reset - now.UnixMilli()
	if ms <= 0 {
		return 1
	}
	return int((ms + 999) / 1000)
}

// Limiter performs per-user sliding-window and per-IP fixed-window checks.
// The KV store is the sole shared state; the limiter itself is stateless
// between calls.
type Limiter struct {
	client *redis.Client
}

// New creates a Limiter on the given Redis client.
func New(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

func userKey(userID int64) string { return fmt.Sprintf("rate:user:%d", userID) }
func ipKey(addr string) string    { return fmt.Sprintf("rate:ip:%s", addr) }

// UserWindow records one attempt for userID and admits it iff fewer than
// max attempts fall inside the trailing window. One pipelined request
// evicts expired entries, reads the count, records the attempt and
// refreshes the key TTL. Sliding the window eliminates the
// burst-at-boundary behaviour a fixed window admits.
func (l *Limiter) UserWindow(ctx context.Context, userID int64, max, windowSec int) (Result, error) {
	key := userKey(userID)
	now := time.Now()
	nowMs := now.UnixMilli()
	windowMs := int64(windowSec) * 1000

	// Member must be unique even when two attempts share a millisecond.
	member := strconv.FormatInt(now.UnixNano(), 10)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(nowMs-windowMs, 10))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member})
	pipe.Expire(ctx, key, time.Duration(windowSec)*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("user window %d: %w", userID, err)
	}

	count := int(card.Val())
	res := Result{
		Allowed:   count < max,
		Limit:     max,
		Remaining: max - count - 1,
		Reset:     nowMs + windowMs,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}

	// The precise reset is when the oldest surviving attempt expires.
	oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err == nil && len(oldest) > 0 {
		res.Reset = int64(oldest[0].Score) + windowMs
	}

	return res, nil
}

// IPWindow admits at most max requests per fixed window for one address.
func (l *Limiter) IPWindow(ctx context.Context, addr string, max, windowSec int) (Result, error) {
	key := ipKey(addr)
	now := time.Now()

	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ip window %s: %w", addr, err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, key, time.Duration(windowSec)*time.Second).Err(); err != nil {
			return Result{}, fmt.Errorf("ip window expire %s: %w", addr, err)
		}
	}

	remaining := max - int(n)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   n <= int64(max),
		Limit:     max,
		Remaining: remaining,
		Reset:     now.UnixMilli() + int64(windowSec)*1000,
	}, nil
}
