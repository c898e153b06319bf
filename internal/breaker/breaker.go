package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned while the breaker rejects calls without running them.
var ErrOpen = errors.New("circuit breaker open")

// ErrCallTimeout is returned when the wrapped action outlives CallTimeout.
// It counts as a failure towards tripping the breaker.
var ErrCallTimeout = errors.New("circuit breaker call timeout")

// Settings parameterize a Breaker. Zero values fall back to the defaults
// in parentheses.
type Settings struct {
	Name             string
	FailureThreshold uint32        // consecutive failures before opening (5)
	SuccessThreshold uint32        // consecutive half-open successes before closing (2)
	CallTimeout      time.Duration // per-call deadline (60s)
	OpenDuration     time.Duration // time spent open before probing (30s)

	// OnTransition, when set, observes every state change after it is logged.
	OnTransition func(from, to string)
}

// Breaker wraps an action with failure-threshold + half-open probe
// semantics. Counter updates are serialized inside gobreaker; execution in
// the closed state is not.
type Breaker struct {
	cb          *gobreaker.CircuitBreaker
	callTimeout time.Duration
}

// New builds a Breaker from settings.
func New(s Settings) *Breaker {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = 2
	}
	if s.CallTimeout == 0 {
		s.CallTimeout = 60 * time.Second
	}
	if s.OpenDuration == 0 {
		s.OpenDuration = 30 * time.Second
	}

	failureThreshold := s.FailureThreshold
	onTransition := s.OnTransition

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: s.Name,
		// Half-open closes again after SuccessThreshold consecutive successes.
		MaxRequests: s.SuccessThreshold,
		Timeout:     s.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Error().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state transition")
			if onTransition != nil {
				onTransition(from.String(), to.String())
			}
		},
	})

	return &Breaker{cb: cb, callTimeout: s.CallTimeout}
}

// State returns the current breaker state as a string.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Do runs action through the breaker, racing it against CallTimeout.
// A timed-out action keeps running in its goroutine but its eventual
// result is discarded; the timeout is recorded as a failure.
func (b *Breaker) Do(ctx context.Context, action func(ctx context.Context) (any, error)) (any, error) {
	res, err := b.cb.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
		defer cancel()

		type outcome struct {
			v   any
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			v, err := action(callCtx)
			done <- outcome{v, err}
		}()

		select {
		case o := <-done:
			return o.v, o.err
		case <-callCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrCallTimeout
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrOpen, b.cb.Name())
		}
		return nil, err
	}
	return res, nil
}
