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

const voucherColumns = `id, code, is_active, usage_limit, usage_count, valid_from, expires_at,
	allowed_users, discount_type, discount_value, is_used, used_by, used_at, created_at`

// VoucherRepository provides data access for voucher codes using pgx.
type VoucherRepository struct {
	pool database.TxQuerier
}

// NewVoucherRepository creates a new VoucherRepository with the given pool.
func NewVoucherRepository(pool *pgxpool.Pool) *VoucherRepository {
	return &VoucherRepository{pool: pool}
}

// NewVoucherRepositoryWithPool creates a VoucherRepository with a custom
// querier. This is primarily used for testing.
func NewVoucherRepositoryWithPool(pool database.TxQuerier) *VoucherRepository {
	return &VoucherRepository{pool: pool}
}

func scanVoucher(row pgx.Row) (*model.VoucherCode, error) {
	var v model.VoucherCode
	err := row.Scan(&v.ID, &v.Code, &v.IsActive, &v.UsageLimit, &v.UsageCount,
		&v.ValidFrom, &v.ExpiresAt, &v.AllowedUsers, &v.DiscountType, &v.DiscountValue,
		&v.IsUsed, &v.UsedBy, &v.UsedAt, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetByCode retrieves a voucher code without locking it.
// Returns nil, nil when not found.
func (r *VoucherRepository) GetByCode(ctx context.Context, code string) (*model.VoucherCode, error) {
	voucher, err := scanVoucher(r.pool.QueryRow(ctx,
		`SELECT `+voucherColumns+` FROM voucher_codes WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("get voucher %s: %w", code, err)
	}
	return voucher, nil
}

// GetForUpdate retrieves a voucher code with a row lock (SELECT FOR UPDATE).
// Locked strictly after the user row to keep the system-wide lock order.
// Returns service.ErrInvalidVoucher (reason not_found) when the code is
// unknown.
func (r *VoucherRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, code string) (*model.VoucherCode, error) {
	voucher, err := scanVoucher(tx.QueryRow(ctx,
		`SELECT `+voucherColumns+` FROM voucher_codes WHERE code = $1 FOR UPDATE`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.NewInvalidVoucher(model.ReasonNotFound)
		}
		return nil, fmt.Errorf("get voucher for update %s: %w", code, err)
	}
	return voucher, nil
}

// ConsumeUsage increments usage_count on a locked voucher row. When the
// cap is reached by this increment, is_used flips eagerly; single-use
// codes additionally record who consumed them and when.
func (r *VoucherRepository) ConsumeUsage(ctx context.Context, tx database.TxQuerier, id, userID int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE voucher_codes SET
			usage_count = usage_count + 1,
			is_used = (usage_count + 1 >= usage_limit),
			used_by = CASE WHEN usage_limit = 1 THEN $2 ELSE used_by END,
			used_at = CASE WHEN usage_limit = 1 THEN now() ELSE used_at END
		WHERE id = $1`, id, userID)
	if err != nil {
		return fmt.Errorf("consume voucher %d: %w", id, err)
	}
	return nil
}

// ReleaseUsage decrements usage_count, floored at zero, and clears the
// exhausted flag. Used by the refund transaction.
func (r *VoucherRepository) ReleaseUsage(ctx context.Context, tx database.TxQuerier, id int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE voucher_codes SET usage_count = GREATEST(usage_count - 1, 0), is_used = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("release voucher %d: %w", id, err)
	}
	return nil
}
