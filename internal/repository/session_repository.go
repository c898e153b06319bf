package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/voucher-claim-system/internal/service"
	"github.com/fairyhunter13/voucher-claim-system/pkg/database"
)

// SessionRepository backs the auth collaborator: bearer tokens map to
// user sessions, and logged-out tokens land on a blacklist. Tokens are
// stored hashed; the raw token never touches the database.
type SessionRepository struct {
	pool database.TxQuerier
}

// NewSessionRepository creates a new SessionRepository with the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// NewSessionRepositoryWithPool creates a SessionRepository with a custom
// querier. This is primarily used for testing.
func NewSessionRepositoryWithPool(pool database.TxQuerier) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// HashToken returns the hex SHA-256 of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Resolve maps a bearer token to its user. Blacklisted tokens and
// expired or inactive sessions resolve to service.ErrUserNotFound.
func (r *SessionRepository) Resolve(ctx context.Context, token string) (userID int64, isAdmin bool, err error) {
	hash := HashToken(token)

	var blacklisted int
	err = r.pool.QueryRow(ctx,
		`SELECT 1 FROM blacklisted_tokens WHERE token_hash = $1 AND expires_at > now()`, hash).Scan(&blacklisted)
	if err == nil {
		return 0, false, service.ErrUserNotFound
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("check blacklist: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT u.id, u.is_admin
		 FROM user_sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.token_hash = $1 AND s.is_active = true AND s.expires_at > now() AND u.is_active = true`,
		hash).Scan(&userID, &isAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, service.ErrUserNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve session: %w", err)
	}
	return userID, isAdmin, nil
}

// Revoke blacklists a token and deactivates its session. Used by logout.
func (r *SessionRepository) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	hash := HashToken(token)

	_, err := r.pool.Exec(ctx,
		`INSERT INTO blacklisted_tokens (token_hash, blacklisted_at, expires_at)
		 VALUES ($1, now(), now() + $2)
		 ON CONFLICT (token_hash) DO NOTHING`,
		hash, ttl)
	if err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`UPDATE user_sessions SET is_active = false WHERE token_hash = $1`, hash)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}
