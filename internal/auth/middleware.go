// Package auth is the thin boundary to the authentication collaborator:
// bearer token resolution and admin gating. Token issuance and JWT
// parsing live outside the claim pipeline; this package only pins the
// contract the pipeline consumes.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/voucher-claim-system/internal/service"
)

// Locals keys populated by the middleware.
const (
	LocalUserID  = "auth_user_id"
	LocalIsAdmin = "auth_is_admin"
	LocalToken   = "auth_token"
)

// Verifier resolves a bearer token to a user. The session-backed
// repository implements it; tests substitute doubles.
type Verifier interface {
	Resolve(ctx context.Context, token string) (userID int64, isAdmin bool, err error)
}

// Token extracts the bearer token from the Authorization header, or "".
func Token(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// UserID returns the authenticated user id set by Required.
func UserID(c *fiber.Ctx) int64 {
	id, _ := c.Locals(LocalUserID).(int64)
	return id
}

// IsAdmin returns the admin flag set by Required.
func IsAdmin(c *fiber.Ctx) bool {
	admin, _ := c.Locals(LocalIsAdmin).(bool)
	return admin
}

// Required rejects requests without a resolvable bearer token.
func Required(verifier Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := Token(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing bearer token",
				"code":  "UNAUTHORIZED",
			})
		}

		userID, isAdmin, err := verifier.Resolve(c.Context(), token)
		if err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "invalid or expired token",
					"code":  "UNAUTHORIZED",
				})
			}
			// A store failure is not the caller's fault; don't tell them
			// their token is bad.
			log.Error().Err(err).Msg("token resolution failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "internal server error",
				"code":  "INTERNAL",
			})
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalIsAdmin, isAdmin)
		c.Locals(LocalToken, token)
		return c.Next()
	}
}

// AdminOnly rejects authenticated non-admin callers.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !IsAdmin(c) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "admin access required",
				"code":  "FORBIDDEN",
			})
		}
		return c.Next()
	}
}

// ClientIP extracts the client address: first entry of x-forwarded-for,
// else x-real-ip, else the socket peer.
func ClientIP(c *fiber.Ctx) string {
	if fwd := c.Get("x-forwarded-for"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	if real := c.Get("x-real-ip"); real != "" {
		return real
	}
	return c.IP()
}
