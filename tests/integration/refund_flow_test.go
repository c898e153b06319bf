//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/voucher-claim-system/internal/model"
)

// claimState reads a claim row's status and refund metadata.
func claimState(t *testing.T, claimID int64) (status string, refundedBy *int64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := testPool.QueryRow(ctx,
		`SELECT status, refunded_by FROM voucher_claims WHERE id = $1`, claimID).Scan(&status, &refundedBy)
	if err != nil {
		t.Fatalf("Failed to read claim %d: %v", claimID, err)
	}
	return status, refundedBy
}

// TestRefundHappyPath claims a voucher, refunds it as an admin and verifies
// every counter the claim moved is rolled back.
func TestRefundHappyPath(t *testing.T) {
	cleanup(t)
	userToken := seedUser(t, 1, true, false, 10)
	adminToken := seedUser(t, 2, true, true, 10)
	seedVoucher(t, "REFUND-ME-2024", 100, nil)

	claimResp := claimVoucher(t, userToken, "REFUND-ME-2024", "it-req-refund")
	require.Equal(t, http.StatusOK, claimResp.StatusCode)
	claimResult := decodeResult(t, claimResp)
	require.NotZero(t, claimResult.ClaimID)

	refundResp := postRefund(t, adminToken, claimResult.ClaimID, "customer complaint")
	defer refundResp.Body.Close()
	require.Equal(t, http.StatusOK, refundResp.StatusCode)

	status, refundedBy := claimState(t, claimResult.ClaimID)
	assert.Equal(t, model.ClaimStatusRefunded, status)
	require.NotNil(t, refundedBy)
	assert.Equal(t, int64(2), *refundedBy)

	assert.Equal(t, 0, userState(t, 1), "the claimed counter is released")
	usage, _ := voucherState(t, "REFUND-ME-2024")
	assert.Equal(t, 0, usage, "the usage slot is released")
	assert.Equal(t, 1, countAudit(t, 1, model.AuditActionRefund))
}

// TestRefundThenReclaim verifies a refund releases the per-code uniqueness
// so the user can claim the same code again.
func TestRefundThenReclaim(t *testing.T) {
	cleanup(t)
	userToken := seedUser(t, 1, true, false, 10)
	adminToken := seedUser(t, 2, true, true, 10)
	seedVoucher(t, "RECLAIM-2024", 100, nil)

	first := decodeResult(t, claimVoucher(t, userToken, "RECLAIM-2024", "it-req-first"))
	require.True(t, first.Success)

	refundResp := postRefund(t, adminToken, first.ClaimID, "test refund")
	refundResp.Body.Close()
	require.Equal(t, http.StatusOK, refundResp.StatusCode)

	second := decodeResult(t, claimVoucher(t, userToken, "RECLAIM-2024", "it-req-second"))
	assert.True(t, second.Success, "the code is claimable again after the refund")
	assert.NotEqual(t, first.ClaimID, second.ClaimID)

	assert.Equal(t, 1, userState(t, 1))
	usage, _ := voucherState(t, "RECLAIM-2024")
	assert.Equal(t, 1, usage)
}

// TestRefundTwiceRejected verifies double refunds are rejected and counters
// only move once.
func TestRefundTwiceRejected(t *testing.T) {
	cleanup(t)
	userToken := seedUser(t, 1, true, false, 10)
	adminToken := seedUser(t, 2, true, true, 10)
	seedVoucher(t, "DOUBLE-REFUND-24", 100, nil)

	claimResult := decodeResult(t, claimVoucher(t, userToken, "DOUBLE-REFUND-24", "it-req-double"))
	require.True(t, claimResult.Success)

	first := postRefund(t, adminToken, claimResult.ClaimID, "first refund")
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postRefund(t, adminToken, claimResult.ClaimID, "second refund")
	defer second.Body.Close()
	assert.Equal(t, http.StatusBadRequest, second.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.Equal(t, "claim already refunded", body["error"])

	assert.Equal(t, 0, userState(t, 1), "the counter is not decremented twice")
}

// TestRefundUnknownClaim verifies a refund of a nonexistent claim is a 400.
func TestRefundUnknownClaim(t *testing.T) {
	cleanup(t)
	adminToken := seedUser(t, 2, true, true, 10)

	resp := postRefund(t, adminToken, 99999, "no such claim")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "claim not found", body["error"])
}

// TestRefundRequiresAdmin verifies a non-admin token cannot refund.
func TestRefundRequiresAdmin(t *testing.T) {
	cleanup(t)
	userToken := seedUser(t, 1, true, false, 10)
	seedVoucher(t, "ADMIN-ONLY-2024", 100, nil)

	claimResult := decodeResult(t, claimVoucher(t, userToken, "ADMIN-ONLY-2024", "it-req-admin"))
	require.True(t, claimResult.Success)

	resp := postRefund(t, userToken, claimResult.ClaimID, "not allowed")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	status, _ := claimState(t, claimResult.ClaimID)
	assert.Equal(t, model.ClaimStatusSuccess, status, "the claim is untouched")
}
