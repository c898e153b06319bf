package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/voucher-claim-system/internal/model"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, nil), mr
}

func TestCache_GetUser_MissIsNilNil(t *testing.T) {
	c, _ := newTestCache(t)

	user, err := c.GetUser(context.Background(), 42)

	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Equal(t, Stats{Hits: 0, Misses: 1}, c.Stats())
}

func TestCache_PutGetUser_RoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	user := &model.User{
		ID:           42,
		Email:        "user@example.com",
		Claimed:      3,
		VoucherLimit: 10,
		IsPremium:    true,
		IsActive:     true,
	}

	require.NoError(t, c.PutUser(ctx, user))

	got, err := c.GetUser(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.Email, got.Email)
	assert.Equal(t, user.Claimed, got.Claimed)
	assert.True(t, got.IsPremium)

	ttl := mr.TTL("user:42:data")
	assert.Equal(t, 300*time.Second, ttl, "user entries live 5 minutes")
}

func TestCache_GetUser_CorruptEntryDropped(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set("user:42:data", "{not json"))

	user, err := c.GetUser(context.Background(), 42)

	require.NoError(t, err, "a corrupt entry reads as a miss, not an error")
	assert.Nil(t, user)
	assert.False(t, mr.Exists("user:42:data"), "the corrupt entry should be deleted")
}

func TestCache_PutGetCount_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	missed, err := c.GetCount(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, missed)

	require.NoError(t, c.PutCount(ctx, 42, 7))

	got, err := c.GetCount(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, *got)
}

func TestCache_PutGetResult_RoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	remaining := 6
	result := &model.ClaimResult{
		Success:           true,
		Status:            model.ClaimStatusSuccess,
		Message:           "voucher claimed successfully",
		RequestID:         "req-abc-123",
		ClaimID:           99,
		VouchersRemaining: &remaining,
	}

	require.NoError(t, c.PutResult(ctx, "req-abc-123", result))

	got, err := c.GetResult(ctx, "req-abc-123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, result.ClaimID, got.ClaimID)
	require.NotNil(t, got.VouchersRemaining)
	assert.Equal(t, 6, *got.VouchersRemaining)

	ttl := mr.TTL("claim:result:req-abc-123")
	assert.Equal(t, 3600*time.Second, ttl, "idempotency results live one hour")
}

func TestCache_GetResult_FailedResultKeepsErrorCode(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	result := &model.ClaimResult{
		Success:   false,
		Status:    model.ClaimStatusFailed,
		Message:   "voucher limit reached",
		RequestID: "req-abc-123",
		ErrorCode: "LIMIT_EXCEEDED",
	}

	require.NoError(t, c.PutResult(ctx, "req-abc-123", result))

	got, err := c.GetResult(ctx, "req-abc-123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "LIMIT_EXCEEDED", got.ErrorCode, "the code must survive the round trip for idempotent replays")
}

func TestCache_InvalidateUser_DropsOnlyThatUser(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.PutUser(ctx, &model.User{ID: 42}))
	require.NoError(t, c.PutCount(ctx, 42, 3))
	require.NoError(t, c.PutUser(ctx, &model.User{ID: 7}))
	require.NoError(t, c.PutResult(ctx, "req-abc-123", &model.ClaimResult{Success: true}))

	require.NoError(t, c.InvalidateUser(ctx, 42))

	assert.False(t, mr.Exists("user:42:data"))
	assert.False(t, mr.Exists("user:42:vouchers"))
	assert.True(t, mr.Exists("user:7:data"), "other users' entries survive")
	assert.True(t, mr.Exists("claim:result:req-abc-123"), "idempotency results survive invalidation")
}

func TestCache_InvalidateUser_NoEntriesIsNoop(t *testing.T) {
	c, _ := newTestCache(t)

	err := c.InvalidateUser(context.Background(), 42)

	require.NoError(t, err)
}

func TestCache_Stats_CountsHitsAndMisses(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, _ = c.GetUser(ctx, 42) // miss
	require.NoError(t, c.PutCount(ctx, 42, 1))
	_, _ = c.GetCount(ctx, 42)      // hit
	_, _ = c.GetResult(ctx, "nope") // miss

	assert.Equal(t, Stats{Hits: 1, Misses: 2}, c.Stats())
}
