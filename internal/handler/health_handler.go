package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Pinger is an interface for health check ping operations.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check requests.
type HealthHandler struct {
	store Pinger
	kv    Pinger
}

// NewHealthHandler creates a new HealthHandler over both backing stores.
func NewHealthHandler(store, kv Pinger) *HealthHandler {
	return &HealthHandler{store: store, kv: kv}
}

// Check performs a health check by pinging the database and the KV store.
// Returns 200 OK with {"status": "healthy"} when both are reachable.
// Returns 503 Service Unavailable otherwise.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	if err := h.store.Ping(c.Context()); err != nil {
		log.Error().Err(err).Msg("health check failed: database unreachable")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  "database connection failed",
		})
	}
	if err := h.kv.Ping(c.Context()); err != nil {
		log.Error().Err(err).Msg("health check failed: kv store unreachable")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  "kv connection failed",
		})
	}
	return c.JSON(fiber.Map{
		"status": "healthy",
	})
}
