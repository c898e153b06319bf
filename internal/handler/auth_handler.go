package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/voucher-claim-system/internal/auth"
)

// blacklistTTL keeps revoked tokens on the blacklist long enough to
// outlive any token lifetime.
const blacklistTTL = 24 * time.Hour

// SessionRevoker invalidates a bearer token.
type SessionRevoker interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
}

// AuthHandler handles POST /vouchers/logout.
type AuthHandler struct {
	sessions SessionRevoker
}

// NewAuthHandler creates a new AuthHandler with the given session store.
func NewAuthHandler(sessions SessionRevoker) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// Logout blacklists the caller's token and deactivates its session.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token, _ := c.Locals(auth.LocalToken).(string)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing bearer token"})
	}

	if err := h.sessions.Revoke(c.Context(), token, blacklistTTL); err != nil {
		log.Error().Err(err).Int64("user_id", auth.UserID(c)).Msg("failed to revoke session")
		return internalError(c)
	}
	return c.JSON(fiber.Map{"success": true, "message": "logged out"})
}
