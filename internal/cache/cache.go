package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/voucher-claim-system/internal/model"
)

// TTLs for the cached maps. The idempotency store keeps results for an
// hour so client retries observe the committed outcome.
const (
	userTTL   = 300 * time.Second
	countTTL  = 300 * time.Second
	resultTTL = 3600 * time.Second
)

// Stats is a lock-free best-effort snapshot of cache effectiveness.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// Recorder receives hit/miss observations. Satisfied by the metrics
// package; nil-safe via the unexported calls below.
type Recorder interface {
	CacheHit()
	CacheMiss()
}

// Cache maps user records, voucher counters and idempotent claim results
// onto the KV store. A miss is (nil, nil), never an error.
type Cache struct {
	client   *redis.Client
	recorder Recorder

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a Cache. recorder may be nil.
func New(client *redis.Client, recorder Recorder) *Cache {
	return &Cache{client: client, recorder: recorder}
}

func userDataKey(id int64) string  { return fmt.Sprintf("user:%d:data", id) }
func userCountKey(id int64) string { return fmt.Sprintf("user:%d:vouchers", id) }
func resultKey(requestID string) string {
	return fmt.Sprintf("claim:result:%s", requestID)
}

func (c *Cache) hit() {
	c.hits.Add(1)
	if c.recorder != nil {
		c.recorder.CacheHit()
	}
}

func (c *Cache) miss() {
	c.misses.Add(1)
	if c.recorder != nil {
		c.recorder.CacheMiss()
	}
}

// Stats returns the in-process hit/miss counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// GetUser returns the cached user record, or (nil, nil) on a miss.
func (c *Cache) GetUser(ctx context.Context, id int64) (*model.User, error) {
	raw, err := c.client.Get(ctx, userDataKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.miss()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}

	var user model.User
	if err := json.Unmarshal(raw, &user); err != nil {
		// Treat a corrupt entry as a miss; the next PutUser repairs it.
		log.Warn().Err(err).Int64("user_id", id).Msg("cache entry corrupt, dropping")
		_ = c.client.Del(ctx, userDataKey(id)).Err()
		c.miss()
		return nil, nil
	}
	c.hit()
	return &user, nil
}

// PutUser caches the user record for 5 minutes.
func (c *Cache) PutUser(ctx context.Context, user *model.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user %d: %w", user.ID, err)
	}
	return c.client.Set(ctx, userDataKey(user.ID), raw, userTTL).Err()
}

// GetCount returns the cached claimed count, or (nil, nil) on a miss.
func (c *Cache) GetCount(ctx context.Context, id int64) (*int, error) {
	n, err := c.client.Get(ctx, userCountKey(id)).Int()
	if errors.Is(err, redis.Nil) {
		c.miss()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get count %d: %w", id, err)
	}
	c.hit()
	return &n, nil
}

// PutCount caches the claimed count. Only the transaction that committed
// the corresponding change may call this, so eventual consistency is the
// only drift.
func (c *Cache) PutCount(ctx context.Context, id int64, claimed int) error {
	return c.client.Set(ctx, userCountKey(id), claimed, countTTL).Err()
}

// GetResult returns the idempotent claim result cached under requestID,
// or (nil, nil) on a miss.
func (c *Cache) GetResult(ctx context.Context, requestID string) (*model.ClaimResult, error) {
	raw, err := c.client.Get(ctx, resultKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.miss()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", requestID, err)
	}

	var result model.ClaimResult
	if err := json.Unmarshal(raw, &result); err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("cached result corrupt, dropping")
		_ = c.client.Del(ctx, resultKey(requestID)).Err()
		c.miss()
		return nil, nil
	}
	c.hit()
	return &result, nil
}

// PutResult caches a claim result under its request id for one hour.
func (c *Cache) PutResult(ctx context.Context, requestID string, result *model.ClaimResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", requestID, err)
	}
	return c.client.Set(ctx, resultKey(requestID), raw, resultTTL).Err()
}

// InvalidateUser deletes every user:{id}:* key. Called on the commit path
// so readers re-load on their next miss.
func (c *Cache) InvalidateUser(ctx context.Context, id int64) error {
	pattern := fmt.Sprintf("user:%d:*", id)

	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidate user %d: %w", id, err)
	}
	return nil
}
