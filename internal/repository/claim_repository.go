package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/voucher-claim-system/internal/model"
	"github.com/fairyhunter13/voucher-claim-system/internal/service"
	"github.com/fairyhunter13/voucher-claim-system/pkg/database"
)

const claimColumns = `id, user_id, voucher_code, status, request_id, ip, user_agent,
	device_id, claimed_at, refunded_at, refunded_by, refund_reason`

// ClaimRepository provides data access for voucher claims using pgx.
type ClaimRepository struct {
	pool database.TxQuerier
}

// NewClaimRepository creates a new ClaimRepository with the given pool.
func NewClaimRepository(pool *pgxpool.Pool) *ClaimRepository {
	return &ClaimRepository{pool: pool}
}

// NewClaimRepositoryWithPool creates a ClaimRepository with a custom
// querier. This is primarily used for testing.
func NewClaimRepositoryWithPool(pool database.TxQuerier) *ClaimRepository {
	return &ClaimRepository{pool: pool}
}

func scanClaim(row pgx.Row) (*model.Claim, error) {
	var c model.Claim
	err := row.Scan(&c.ID, &c.UserID, &c.Code, &c.Status, &c.RequestID, &c.IP,
		&c.UserAgent, &c.DeviceID, &c.ClaimedAt, &c.RefundedAt, &c.RefundedBy, &c.RefundReason)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Insert records a successful claim and returns its id.
// Must be called within the claim transaction.
func (r *ClaimRepository) Insert(ctx context.Context, tx database.TxQuerier, claim *model.Claim) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		`INSERT INTO voucher_claims (user_id, voucher_code, status, request_id, ip, user_agent, device_id, claimed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 RETURNING id`,
		claim.UserID, claim.Code, claim.Status, claim.RequestID,
		claim.IP, claim.UserAgent, claim.DeviceID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert claim: %w", err)
	}
	return id, nil
}

// HasSuccess reports whether the user already holds a successful claim
// for this code. Evaluated on locked rows inside the claim transaction so
// the at-most-one-success guarantee holds under concurrency.
func (r *ClaimRepository) HasSuccess(ctx context.Context, tx database.TxQuerier, userID int64, code string) (bool, error) {
	var one int
	err := tx.QueryRow(ctx,
		`SELECT 1 FROM voucher_claims WHERE user_id = $1 AND voucher_code = $2 AND status = 'success'`,
		userID, code).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check existing claim: %w", err)
	}
	return true, nil
}

// GetForUpdate retrieves a claim with a row lock (SELECT FOR UPDATE).
// Returns service.ErrClaimNotFound when the claim doesn't exist.
func (r *ClaimRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, id int64) (*model.Claim, error) {
	claim, err := scanClaim(tx.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM voucher_claims WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrClaimNotFound
		}
		return nil, fmt.Errorf("get claim for update %d: %w", id, err)
	}
	return claim, nil
}

// MarkRefunded flips a claim to refunded with the audit fields set.
func (r *ClaimRepository) MarkRefunded(ctx context.Context, tx database.TxQuerier, id int64, refundedBy *int64, reason string) (time.Time, error) {
	var refundedAt time.Time
	err := tx.QueryRow(ctx,
		`UPDATE voucher_claims
		 SET status = 'refunded', refunded_at = now(), refunded_by = $2, refund_reason = $3
		 WHERE id = $1
		 RETURNING refunded_at`,
		id, refundedBy, reason).Scan(&refundedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("mark claim %d refunded: %w", id, err)
	}
	return refundedAt, nil
}

// ListByUser returns the user's claims, most recent first.
func (r *ClaimRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]model.Claim, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+claimColumns+` FROM voucher_claims WHERE user_id = $1 ORDER BY claimed_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list claims for user %d: %w", userID, err)
	}
	defer rows.Close()

	claims := []model.Claim{}
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, *claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims rows: %w", err)
	}
	return claims, nil
}
