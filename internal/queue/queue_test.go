package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/voucher-claim-system/internal/model"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func testJob(id string) model.ClaimRequest {
	return model.ClaimRequest{
		UserID:    42,
		Code:      "SUMMER-2024",
		IP:        "203.0.113.9",
		RequestID: id,
	}
}

func TestQueue_Enqueue_NewJobWaits(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testJob("req-1"))
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)

	st, err := q.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, st.State)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
}

func TestQueue_Enqueue_DuplicateIDSilentlyDropped(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testJob("req-1"))
	require.NoError(t, err)

	id, err := q.Enqueue(ctx, testJob("req-1"))
	require.NoError(t, err, "a duplicate enqueue is not an error")
	assert.Equal(t, "req-1", id)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting, "the duplicate must not occupy a second slot")
}

func TestQueue_Enqueue_FailedAttemptLeavesIDClaimable(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	mr.SetError("LOADING Redis is loading the dataset in memory")
	_, err := q.Enqueue(ctx, testJob("req-1"))
	require.Error(t, err)
	mr.SetError("")

	// The failed attempt must not reserve the id: the client retry has to
	// produce a runnable job, not a phantom dedup hit.
	id, err := q.Enqueue(ctx, testJob("req-1"))
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)

	got, err := q.dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "req-1", got)

	job, err := q.load(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, testJob("req-1"), job.Payload)
}

func TestQueue_Get_UnknownJob(t *testing.T) {
	q, _ := newTestQueue(t)

	st, err := q.Get(context.Background(), "no-such-job")

	require.Error(t, err)
	assert.Nil(t, st)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestQueue_DequeueLoad_RoundTrip(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testJob("req-1"))
	require.NoError(t, err)

	id, err := q.dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "req-1", id)

	job, err := q.load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(42), job.Payload.UserID)
	assert.Equal(t, "SUMMER-2024", job.Payload.Code)
	assert.Equal(t, 0, job.Attempts)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Waiting)
	assert.Equal(t, int64(1), counts.Active)
}

func TestQueue_Dequeue_EmptyReturnsNoID(t *testing.T) {
	q, _ := newTestQueue(t)

	id, err := q.dequeue(context.Background())

	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestQueue_Dequeue_FIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"req-1", "req-2", "req-3"} {
		_, err := q.Enqueue(ctx, testJob(id))
		require.NoError(t, err)
	}

	for _, want := range []string{"req-1", "req-2", "req-3"} {
		got, err := q.dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got, "jobs drain in arrival order")
	}
}

func TestQueue_Complete_StoresResult(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testJob("req-1"))
	require.NoError(t, err)
	_, err = q.dequeue(ctx)
	require.NoError(t, err)

	remaining := 6
	result := &model.ClaimResult{
		Success:           true,
		Status:            model.ClaimStatusSuccess,
		RequestID:         "req-1",
		ClaimID:           99,
		VouchersRemaining: &remaining,
	}
	require.NoError(t, q.complete(ctx, "req-1", result))

	st, err := q.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, st.State)
	require.NotNil(t, st.Result)
	assert.Equal(t, int64(99), st.Result.ClaimID)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Active)
	assert.Equal(t, int64(1), counts.Completed)
}

func TestQueue_Fail_StoresReason(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testJob("req-1"))
	require.NoError(t, err)
	_, err = q.dequeue(ctx)
	require.NoError(t, err)

	result := &model.ClaimResult{
		Success:   false,
		Status:    model.ClaimStatusFailed,
		Message:   "voucher limit reached",
		RequestID: "req-1",
		ErrorCode: "LIMIT_EXCEEDED",
	}
	require.NoError(t, q.fail(ctx, "req-1", "voucher limit reached", result))

	st, err := q.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "voucher limit reached", st.FailReason)
	require.NotNil(t, st.Result)
	assert.Equal(t, "LIMIT_EXCEEDED", st.Result.ErrorCode)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Failed)
}

func TestQueue_Retry_MovesToDelayed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testJob("req-1"))
	require.NoError(t, err)
	_, err = q.dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.retry(ctx, "req-1", 1))

	st, err := q.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, st.State)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Active)
	assert.Equal(t, int64(1), counts.Delayed)

	job, err := q.load(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
}

func TestQueue_PromoteDelayed_MovesDueJobsBack(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testJob("req-due"))
	require.NoError(t, err)
	_, err = q.dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.retry(ctx, "req-due", 1))

	// Force the schedule into the past so the promotion pass picks it up.
	due := float64(time.Now().Add(-time.Second).UnixMilli())
	require.NoError(t, q.client.ZAdd(ctx, delayedKey, redis.Z{Score: due, Member: "req-due"}).Err())

	require.NoError(t, q.promoteDelayed(ctx))

	st, err := q.Get(ctx, "req-due")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, st.State)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
	assert.Equal(t, int64(0), counts.Delayed)
}

func TestQueue_PromoteDelayed_LeavesFutureJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testJob("req-later"))
	require.NoError(t, err)
	_, err = q.dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.retry(ctx, "req-later", 3))

	require.NoError(t, q.promoteDelayed(ctx))

	st, err := q.Get(ctx, "req-later")
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, st.State, "a job scheduled in the future stays delayed")
}

func TestQueue_Remove_WaitingJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testJob("req-1"))
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, "req-1"))

	_, err = q.Get(ctx, "req-1")
	assert.True(t, errors.Is(err, ErrJobNotFound))

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Waiting)
}
