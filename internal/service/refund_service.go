package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/voucher-claim-system/internal/metrics"
	"github.com/fairyhunter13/voucher-claim-system/internal/model"
	"github.com/fairyhunter13/voucher-claim-system/pkg/database"
)

// RefundService reverses a successful claim transactionally.
type RefundService struct {
	pool     database.TxBeginner
	users    UserRepositoryInterface
	vouchers VoucherRepositoryInterface
	claims   ClaimRepositoryInterface
	audit    AuditRepositoryInterface
	cache    CacheInterface
	metrics  *metrics.Metrics
}

// NewRefundService wires the refund coordinator. metrics may be nil.
func NewRefundService(
	pool *pgxpool.Pool,
	users UserRepositoryInterface,
	vouchers VoucherRepositoryInterface,
	claims ClaimRepositoryInterface,
	audit AuditRepositoryInterface,
	cache CacheInterface,
	m *metrics.Metrics,
) *RefundService {
	return NewRefundServiceWithTxBeginner(pool, users, vouchers, claims, audit, cache, m)
}

// NewRefundServiceWithTxBeginner creates a RefundService with a custom
// TxBeginner. Primarily used for testing.
func NewRefundServiceWithTxBeginner(
	pool database.TxBeginner,
	users UserRepositoryInterface,
	vouchers VoucherRepositoryInterface,
	claims ClaimRepositoryInterface,
	audit AuditRepositoryInterface,
	cache CacheInterface,
	m *metrics.Metrics,
) *RefundService {
	return &RefundService{
		pool:     pool,
		users:    users,
		vouchers: vouchers,
		claims:   claims,
		audit:    audit,
		cache:    cache,
		metrics:  m,
	}
}

// Refund atomically reverses a committed claim: the claim flips to
// refunded, the owner's claimed count and the code's usage count each
// drop by one (floored at zero), and a REFUND audit entry is appended.
// Returns:
//   - ErrClaimNotFound if the claim doesn't exist
//   - ErrAlreadyRefunded if it was refunded before
//   - ErrClaimNotRefundable if it never succeeded
func (s *RefundService) Refund(ctx context.Context, claimID int64, reason string, adminID *int64) error {
	var ownerID int64

	txErr := database.Transact(ctx, s.pool, func(tx database.TxQuerier) error {
		claim, err := s.claims.GetForUpdate(ctx, tx, claimID)
		if err != nil {
			return err
		}
		if claim.Status == model.ClaimStatusRefunded {
			return ErrAlreadyRefunded
		}
		if claim.Status != model.ClaimStatusSuccess {
			return ErrClaimNotRefundable
		}
		ownerID = claim.UserID

		// Same lock order as the claim path: user before voucher code.
		if _, err := s.users.GetForUpdate(ctx, tx, claim.UserID); err != nil {
			// The owner may have been deactivated since; the refund still
			// has to balance the counters.
			if !errors.Is(err, ErrUserNotFound) {
				return err
			}
		}

		if _, err := s.claims.MarkRefunded(ctx, tx, claimID, adminID, reason); err != nil {
			return err
		}
		if err := s.users.DecrementClaimed(ctx, tx, claim.UserID); err != nil {
			return err
		}

		vc, err := s.vouchers.GetForUpdate(ctx, tx, claim.Code)
		if err != nil {
			// A deleted code does not block the refund of the claim row.
			if errors.Is(err, ErrInvalidVoucher) {
				vc = nil
			} else {
				return err
			}
		}
		if vc != nil {
			if err := s.vouchers.ReleaseUsage(ctx, tx, vc.ID); err != nil {
				return err
			}
		}

		metadata := map[string]any{"reason": reason}
		if adminID != nil {
			metadata["admin_id"] = *adminID
		}
		return s.audit.Insert(ctx, tx, claim.UserID, &claimID, model.AuditActionRefund, metadata)
	})
	if txErr != nil {
		return txErr
	}

	if err := s.cache.InvalidateUser(ctx, ownerID); err != nil {
		log.Warn().Err(err).Int64("user_id", ownerID).Msg("cache invalidation failed after refund")
	}
	if s.metrics != nil {
		s.metrics.RefundsTotal.Inc()
	}
	log.Info().
		Int64("claim_id", claimID).
		Int64("user_id", ownerID).
		Str("reason", reason).
		Msg("claim refunded")
	return nil
}
