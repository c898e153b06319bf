package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Options configures the Redis clients.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Clients bundles the two connections the system keeps to one Redis
// instance: Commands carries all regular traffic, Sub is reserved for
// pub/sub so subscriptions never sit on the command pipeline.
type Clients struct {
	Commands *redis.Client
	Sub      *redis.Client
}

// Close releases both connections.
func (c *Clients) Close() error {
	if err := c.Commands.Close(); err != nil {
		return err
	}
	return c.Sub.Close()
}

// newClient builds a go-redis client with soft per-op timeouts and capped
// retry backoff for transient failures.
func newClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		DialTimeout:     2 * time.Second,
		ReadTimeout:     2 * time.Second,
		WriteTimeout:    2 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})
}

// NewClients connects to Redis, verifying the connection with a ping
// retried under capped exponential backoff.
func NewClients(ctx context.Context, opts Options) (*Clients, error) {
	commands := newClient(opts)

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return commands.Ping(pingCtx).Err()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	if err := backoff.RetryNotify(ping, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("next_retry_in", next).Msg("redis connection failed, retrying")
	}); err != nil {
		_ = commands.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	log.Info().Str("addr", opts.Addr).Msg("redis connection established")
	return &Clients{Commands: commands, Sub: newClient(opts)}, nil
}

// Healthy reports whether the KV store answers a ping.
func Healthy(ctx context.Context, c *redis.Client) bool {
	return c.Ping(ctx).Err() == nil
}
