// Package queue implements the durable claim job queue on Redis: a FIFO
// waiting list, a delayed set for retries, and per-job hashes carrying the
// payload and outcome. Job ids are the claim request ids, which is how
// idempotency combines with the asynchronous path: a duplicate enqueue is
// silently dropped.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/voucher-claim-system/internal/model"
)

// Job states.
const (
	StateWaiting   = "waiting"
	StateActive    = "active"
	StateDelayed   = "delayed"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Queue tunables.
const (
	DefaultPriority = 5
	MaxAttempts     = 3
	initialBackoff  = time.Second

	completedRetention = 24 * time.Hour
	completedMaxCount  = 1000
	failedRetention    = 7 * 24 * time.Hour
	failedMaxCount     = 5000
)

const keyPrefix = "queue:claims:"

var (
	waitingKey   = keyPrefix + "waiting"
	activeKey    = keyPrefix + "active"
	delayedKey   = keyPrefix + "delayed"
	completedKey = keyPrefix + "completed"
	failedKey    = keyPrefix + "failed"
)

func jobKey(id string) string { return keyPrefix + "job:" + id }

// Job is one claim attempt travelling through the queue.
type Job struct {
	ID       string             `json:"id"`
	Payload  model.ClaimRequest `json:"payload"`
	Priority int                `json:"priority"`
	Attempts int                `json:"attempts"`
}

// Status is the externally visible state of a job.
type Status struct {
	State      string             `json:"state"`
	Result     *model.ClaimResult `json:"result,omitempty"`
	FailReason string             `json:"failReason,omitempty"`
}

// Counts reports queue depth per state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// ErrJobNotFound is returned by Get for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Queue is a durable FIFO of claim jobs with retry and dedup-by-id.
type Queue struct {
	client *redis.Client
}

// New creates a Queue on the given Redis client.
func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// enqueueScript reserves the job id and pushes the job in one atomic
// step. HSETNX on the state field is the dedup point: the first enqueue
// for a given id returns 1 and writes the job, every later one returns 0
// and writes nothing.
var enqueueScript = redis.NewScript(`
if redis.call("hsetnx", KEYS[1], "state", ARGV[1]) == 0 then
	return 0
end
redis.call("hset", KEYS[1], "payload", ARGV[2], "priority", ARGV[3], "attempts", 0, "enqueued_at", ARGV[4])
redis.call("pexpire", KEYS[1], ARGV[5])
redis.call("lpush", KEYS[2], ARGV[6])
return 1
`)

// Enqueue adds a job keyed by its request id. A job id that was already
// enqueued is rejected silently: the existing id is returned unchanged.
// Reservation and push are atomic, so a failed enqueue leaves nothing
// behind and a retry with the same id can still land.
func (q *Queue) Enqueue(ctx context.Context, req model.ClaimRequest) (string, error) {
	id := req.RequestID

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal job %s: %w", id, err)
	}

	err = enqueueScript.Run(ctx, q.client,
		[]string{jobKey(id), waitingKey},
		StateWaiting, payload, DefaultPriority, time.Now().UnixMilli(),
		failedRetention.Milliseconds(), id,
	).Err()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", id, err)
	}
	return id, nil
}

// Get returns the state, result and failure reason of a job.
func (q *Queue) Get(ctx context.Context, id string) (*Status, error) {
	vals, err := q.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, ErrJobNotFound
	}

	st := &Status{State: vals["state"], FailReason: vals["fail_reason"]}
	if raw, ok := vals["result"]; ok && raw != "" {
		var result model.ClaimResult
		if err := json.Unmarshal([]byte(raw), &result); err == nil {
			st.Result = &result
		}
	}
	return st, nil
}

// Counts reports the number of jobs per state.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, waitingKey)
	active := pipe.LLen(ctx, activeKey)
	completed := pipe.ZCard(ctx, completedKey)
	failed := pipe.ZCard(ctx, failedKey)
	delayed := pipe.ZCard(ctx, delayedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("queue counts: %w", err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

// Remove cancels a job that has not become active yet. Active jobs run to
// completion.
func (q *Queue) Remove(ctx context.Context, id string) error {
	removed, err := q.client.LRem(ctx, waitingKey, 0, id).Result()
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	if removed == 0 {
		if err := q.client.ZRem(ctx, delayedKey, id).Err(); err != nil {
			return fmt.Errorf("remove delayed %s: %w", id, err)
		}
	}
	return q.client.Del(ctx, jobKey(id)).Err()
}

// dequeue moves one job id from waiting to active. Returns "" when the
// queue is empty.
func (q *Queue) dequeue(ctx context.Context) (string, error) {
	id, err := q.client.LMove(ctx, waitingKey, activeKey, "RIGHT", "LEFT").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue: %w", err)
	}
	return id, nil
}

// load fetches the job hash for a dequeued id.
func (q *Queue) load(ctx context.Context, id string) (*Job, error) {
	vals, err := q.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, ErrJobNotFound
	}

	job := &Job{ID: id, Priority: DefaultPriority}
	if err := json.Unmarshal([]byte(vals["payload"]), &job.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	if n, err := strconv.Atoi(vals["attempts"]); err == nil {
		job.Attempts = n
	}
	if n, err := strconv.Atoi(vals["priority"]); err == nil {
		job.Priority = n
	}
	return job, nil
}

// complete finalizes a job with its result and trims the success set to
// its retention bounds.
func (q *Queue) complete(ctx context.Context, id string, result *model.ClaimResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", id, err)
	}

	now := time.Now()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey(id), "state", StateCompleted, "result", raw, "finished_at", now.UnixMilli())
	pipe.Expire(ctx, jobKey(id), completedRetention)
	pipe.LRem(ctx, activeKey, 0, id)
	pipe.ZAdd(ctx, completedKey, redis.Z{Score: float64(now.UnixMilli()), Member: id})
	pipe.ZRemRangeByScore(ctx, completedKey, "0", strconv.FormatInt(now.Add(-completedRetention).UnixMilli(), 10))
	pipe.ZRemRangeByRank(ctx, completedKey, 0, int64(-completedMaxCount-1))
	_, err = pipe.Exec(ctx)
	return err
}

// fail finalizes a job as failed with the reason stored, trimming the
// failure set to its retention bounds.
func (q *Queue) fail(ctx context.Context, id, reason string, result *model.ClaimResult) error {
	now := time.Now()
	pipe := q.client.TxPipeline()
	fields := []any{"state", StateFailed, "fail_reason", reason, "finished_at", now.UnixMilli()}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			fields = append(fields, "result", raw)
		}
	}
	pipe.HSet(ctx, jobKey(id), fields...)
	pipe.Expire(ctx, jobKey(id), failedRetention)
	pipe.LRem(ctx, activeKey, 0, id)
	pipe.ZAdd(ctx, failedKey, redis.Z{Score: float64(now.UnixMilli()), Member: id})
	pipe.ZRemRangeByScore(ctx, failedKey, "0", strconv.FormatInt(now.Add(-failedRetention).UnixMilli(), 10))
	pipe.ZRemRangeByRank(ctx, failedKey, 0, int64(-failedMaxCount-1))
	_, err := pipe.Exec(ctx)
	return err
}

// retry re-schedules a job with exponential backoff: 1s, 2s, 4s, ...
func (q *Queue) retry(ctx context.Context, id string, attempts int) error {
	delay := initialBackoff << (attempts - 1)
	readyAt := time.Now().Add(delay)

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey(id), "state", StateDelayed, "attempts", attempts)
	pipe.LRem(ctx, activeKey, 0, id)
	pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(readyAt.UnixMilli()), Member: id})
	_, err := pipe.Exec(ctx)
	return err
}

// promoteDelayed moves every due delayed job back onto the waiting list.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "0", Max: now}).Result()
	if err != nil {
		return fmt.Errorf("promote delayed: %w", err)
	}
	for _, id := range ids {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, delayedKey, id)
		pipe.HSet(ctx, jobKey(id), "state", StateWaiting)
		pipe.LPush(ctx, waitingKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("promote %s: %w", id, err)
		}
	}
	return nil
}
