package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSessionRevoker is a mock implementation of SessionRevoker.
type mockSessionRevoker struct {
	revokeFn func(ctx context.Context, token string, ttl time.Duration) error
}

func (m *mockSessionRevoker) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, token, ttl)
	}
	return nil
}

func TestLogout_RevokesToken(t *testing.T) {
	var revokedToken string
	var revokedTTL time.Duration
	mockRevoker := &mockSessionRevoker{
		revokeFn: func(ctx context.Context, token string, ttl time.Duration) error {
			revokedToken = token
			revokedTTL = ttl
			return nil
		},
	}

	app := fiber.New()
	h := NewAuthHandler(mockRevoker)
	app.Post("/vouchers/logout", stubAuth(42, false), h.Logout)

	req := httptest.NewRequest(http.MethodPost, "/vouchers/logout", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "test-token", revokedToken)
	assert.Equal(t, blacklistTTL, revokedTTL)
}

func TestLogout_WithoutTokenIs401(t *testing.T) {
	app := fiber.New()
	h := NewAuthHandler(&mockSessionRevoker{})
	app.Post("/vouchers/logout", h.Logout)

	req := httptest.NewRequest(http.MethodPost, "/vouchers/logout", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestLogout_RevokeFailureIs500(t *testing.T) {
	mockRevoker := &mockSessionRevoker{
		revokeFn: func(ctx context.Context, token string, ttl time.Duration) error {
			return errors.New("store unavailable")
		},
	}

	app := fiber.New()
	h := NewAuthHandler(mockRevoker)
	app.Post("/vouchers/logout", stubAuth(42, false), h.Logout)

	req := httptest.NewRequest(http.MethodPost, "/vouchers/logout", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
