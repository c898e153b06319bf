package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/voucher-claim-system/internal/model"
	"github.com/fairyhunter13/voucher-claim-system/internal/service"
	"github.com/fairyhunter13/voucher-claim-system/pkg/database"
)

const userColumns = `id, email, claimed, voucher_limit, is_premium, is_active, is_admin, created_at, updated_at`

// UserRepository provides data access for users using pgx.
type UserRepository struct {
	pool database.TxQuerier
}

// NewUserRepository creates a new UserRepository with the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// NewUserRepositoryWithPool creates a UserRepository with a custom querier.
// This is primarily used for testing.
func NewUserRepositoryWithPool(pool database.TxQuerier) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Claimed, &u.VoucherLimit,
		&u.IsPremium, &u.IsActive, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID retrieves a user by id. Returns nil, nil when not found.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return user, nil
}

// GetForUpdate retrieves an active user with a row lock (SELECT FOR UPDATE).
// The lock is held until the transaction completes. Lock order is always
// user before voucher code, system-wide.
// Returns service.ErrUserNotFound when the user is missing or inactive.
func (r *UserRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, id int64) (*model.User, error) {
	user, err := scanUser(tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND is_active = true FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user for update %d: %w", id, err)
	}
	return user, nil
}

// IncrementClaimed adds one to the user's claimed count.
// Must be called within a transaction after locking the row.
func (r *UserRepository) IncrementClaimed(ctx context.Context, tx database.TxQuerier, id int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE users SET claimed = claimed + 1, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment claimed for user %d: %w", id, err)
	}
	return nil
}

// DecrementClaimed subtracts one from the user's claimed count, floored
// at zero. Used by the refund transaction.
func (r *UserRepository) DecrementClaimed(ctx context.Context, tx database.TxQuerier, id int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE users SET claimed = GREATEST(claimed - 1, 0), updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("decrement claimed for user %d: %w", id, err)
	}
	return nil
}
