package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fairyhunter13/voucher-claim-system/internal/metrics"
	"github.com/fairyhunter13/voucher-claim-system/internal/model"
)

// Handler runs one claim job to its authoritative outcome.
// Domain-final outcomes (success or a domain rejection) come back as a
// result with a nil error; a non-nil error marks a transient failure that
// is worth retrying.
type Handler func(ctx context.Context, req model.ClaimRequest) (*model.ClaimResult, error)

// WorkerOptions bounds the worker pool.
type WorkerOptions struct {
	Concurrency int // parallel jobs (default 50)
	RatePerSec  int // dequeue ceiling per second (default 100)
	PollEvery   time.Duration
}

// Worker drains the claim queue and runs the claim transaction through
// the handler. Concurrency and throughput are capped so the store is
// never saturated beyond its pool.
type Worker struct {
	queue   *Queue
	handler Handler
	metrics *metrics.Metrics

	concurrency int
	limiter     *rate.Limiter
	pollEvery   time.Duration

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewWorker creates a Worker. m may be nil.
func NewWorker(q *Queue, handler Handler, m *metrics.Metrics, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 50
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 100
	}
	if opts.PollEvery <= 0 {
		opts.PollEvery = 100 * time.Millisecond
	}
	return &Worker{
		queue:       q,
		handler:     handler,
		metrics:     m,
		concurrency: opts.Concurrency,
		limiter:     rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		pollEvery:   opts.PollEvery,
		stop:        make(chan struct{}),
	}
}

// Start launches the drain loop.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	log.Info().Int("concurrency", w.concurrency).Msg("claim worker started")
}

// Stop waits for in-flight jobs to finish. Jobs already active run to
// completion; waiting jobs stay queued for the next start.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.stop) })
	w.wg.Wait()
	log.Info().Msg("claim worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	sem := make(chan struct{}, w.concurrency)
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := w.queue.promoteDelayed(ctx); err != nil {
			log.Error().Err(err).Msg("failed to promote delayed jobs")
		}
		w.publishDepth(ctx)

		// Drain whatever is waiting, bounded by the semaphore and the
		// per-second ceiling.
		for {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			id, err := w.queue.dequeue(ctx)
			if err != nil {
				log.Error().Err(err).Msg("dequeue failed")
				break
			}
			if id == "" {
				break
			}

			sem <- struct{}{}
			w.wg.Add(1)
			go func(id string) {
				defer w.wg.Done()
				defer func() { <-sem }()
				w.process(ctx, id)
			}(id)
		}
	}
}

func (w *Worker) process(ctx context.Context, id string) {
	job, err := w.queue.load(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("failed to load job, dropping")
		_ = w.queue.fail(ctx, id, "job payload unreadable", nil)
		return
	}

	result, err := w.handler(ctx, job.Payload)
	switch {
	case err != nil:
		attempts := job.Attempts + 1
		if attempts >= MaxAttempts {
			log.Error().Err(err).Str("job_id", id).Int("attempts", attempts).
				Msg("claim job exhausted retries")
			_ = w.queue.fail(ctx, id, err.Error(), nil)
			return
		}
		log.Warn().Err(err).Str("job_id", id).Int("attempts", attempts).
			Msg("claim job failed transiently, re-scheduling")
		if w.metrics != nil {
			w.metrics.QueueRetriesTotal.Inc()
		}
		_ = w.queue.retry(ctx, id, attempts)
	case !result.Success:
		// Domain rejection is terminal; the reason is stored with the job.
		_ = w.queue.fail(ctx, id, result.Message, result)
	default:
		_ = w.queue.complete(ctx, id, result)
	}
}

func (w *Worker) publishDepth(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	counts, err := w.queue.Counts(ctx)
	if err != nil {
		return
	}
	w.metrics.QueueDepth.WithLabelValues(StateWaiting).Set(float64(counts.Waiting))
	w.metrics.QueueDepth.WithLabelValues(StateActive).Set(float64(counts.Active))
	w.metrics.QueueDepth.WithLabelValues(StateCompleted).Set(float64(counts.Completed))
	w.metrics.QueueDepth.WithLabelValues(StateFailed).Set(float64(counts.Failed))
	w.metrics.QueueDepth.WithLabelValues(StateDelayed).Set(float64(counts.Delayed))
}
