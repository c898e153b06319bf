package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/voucher-claim-system/pkg/database"
)

// AuditRepository appends to the audit log. Entries are written as a side
// effect of the claim and refund transactions and never read back by the
// pipeline.
type AuditRepository struct {
	pool database.TxQuerier
}

// NewAuditRepository creates a new AuditRepository with the given pool.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// NewAuditRepositoryWithPool creates an AuditRepository with a custom
// querier. This is primarily used for testing.
func NewAuditRepositoryWithPool(pool database.TxQuerier) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Insert appends one audit entry. q may be a transaction (claim/refund
// commit path) or the pool itself (rejections recorded outside a rolled
// back transaction).
func (r *AuditRepository) Insert(ctx context.Context, q database.TxQuerier, userID int64, claimID *int64, action string, metadata map[string]any) error {
	var meta []byte
	if metadata != nil {
		var err error
		meta, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}
	_, err := q.Exec(ctx,
		`INSERT INTO voucher_audit_log (user_id, claim_id, action, metadata, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		userID, claimID, action, meta)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
