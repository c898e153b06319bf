//go:build integration

package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/voucher-claim-system/internal/model"
)

// TestConcurrentClaimsSameUserCapAtLimit drives 20 concurrent claim
// transactions for one user with voucher_limit=10 and verifies exactly 10
// commit. The claim transaction is invoked directly (the worker's entry
// point) so admission control does not mask the row-lock serialization
// under test.
func TestConcurrentClaimsSameUserCapAtLimit(t *testing.T) {
	cleanup(t)

	const (
		userID   = int64(1)
		attempts = 20
		limit    = 10
	)
	seedUser(t, userID, true, false, limit)
	codes := make([]string, attempts)
	for i := range codes {
		codes[i] = fmt.Sprintf("CONC-USER-%02d", i)
		seedVoucher(t, codes[i], 100, nil)
	}

	svc := newClaimService()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan *model.ClaimResult, attempts)
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.ProcessClaimJob(ctx, model.ClaimRequest{
				UserID:    userID,
				Code:      codes[i],
				IP:        "203.0.113.9",
				RequestID: fmt.Sprintf("it-conc-user-%02d", i),
			})
			if err != nil {
				errs <- err
				return
			}
			results <- result
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("Unexpected transient error: %v", err)
	}

	var successes, limitRejections int
	for result := range results {
		switch {
		case result.Success:
			successes++
		case result.ErrorCode == "LIMIT_EXCEEDED":
			limitRejections++
		default:
			t.Errorf("Unexpected rejection: %+v", result)
		}
	}

	assert.Equal(t, limit, successes, "exactly voucher_limit claims commit")
	assert.Equal(t, attempts-limit, limitRejections)

	assert.Equal(t, limit, userState(t, userID), "claimed never exceeds the limit")

	var claimRows int
	err := testPool.QueryRow(ctx,
		`SELECT COUNT(*) FROM voucher_claims WHERE user_id = $1 AND status = 'success'`, userID).Scan(&claimRows)
	require.NoError(t, err)
	assert.Equal(t, limit, claimRows)
}

// TestConcurrentClaimsSingleUseVoucher races two users for a
// usage_limit=1 code and verifies exactly one wins.
func TestConcurrentClaimsSingleUseVoucher(t *testing.T) {
	cleanup(t)

	seedUser(t, 1, true, false, 10)
	seedUser(t, 2, true, false, 10)
	seedVoucher(t, "SINGLE-USE-2024", 1, nil)

	svc := newClaimService()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan *model.ClaimResult, 2)

	for _, userID := range []int64{1, 2} {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			result, err := svc.ProcessClaimJob(ctx, model.ClaimRequest{
				UserID:    userID,
				Code:      "SINGLE-USE-2024",
				IP:        "203.0.113.9",
				RequestID: fmt.Sprintf("it-single-%d", userID),
			})
			require.NoError(t, err)
			results <- result
		}(userID)
	}
	wg.Wait()
	close(results)

	var successes, rejections int
	for result := range results {
		if result.Success {
			successes++
		} else {
			rejections++
			assert.Equal(t, "INVALID_VOUCHER", result.ErrorCode)
		}
	}

	assert.Equal(t, 1, successes, "exactly one user wins the last usage")
	assert.Equal(t, 1, rejections)

	usage, used := voucherState(t, "SINGLE-USE-2024")
	assert.Equal(t, 1, usage, "usage_count never exceeds usage_limit")
	assert.True(t, used)
}

// TestConcurrentIdempotentRetries fires the same request id concurrently
// and verifies a single claim row regardless of interleaving.
func TestConcurrentIdempotentRetries(t *testing.T) {
	cleanup(t)

	seedUser(t, 1, true, false, 10)
	seedVoucher(t, "IDEM-RACE-2024", 100, nil)

	svc := newClaimService()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const racers = 5
	var wg sync.WaitGroup
	results := make(chan *model.ClaimResult, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.ProcessClaimJob(ctx, model.ClaimRequest{
				UserID:    1,
				Code:      "IDEM-RACE-2024",
				IP:        "203.0.113.9",
				RequestID: "it-idem-race",
			})
			require.NoError(t, err)
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	var successes int
	for result := range results {
		if result.Success {
			successes++
		} else {
			assert.Contains(t, result.Message, model.ReasonAlreadyClaimed)
		}
	}

	assert.Equal(t, 1, successes, "only one racer commits; the rest see already_claimed")
	assert.Equal(t, 1, countClaims(t, 1, "IDEM-RACE-2024", "success"))
	assert.Equal(t, 1, userState(t, 1))
}
