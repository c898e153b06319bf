package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVoucherCode_EligibleFor(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	base := func() *VoucherCode {
		return &VoucherCode{
			ID:         7,
			Code:       "SUMMER-2024",
			IsActive:   true,
			UsageLimit: 100,
			UsageCount: 5,
		}
	}

	t.Run("eligible", func(t *testing.T) {
		assert.Empty(t, base().EligibleFor(42, now))
	})

	t.Run("inactive", func(t *testing.T) {
		vc := base()
		vc.IsActive = false
		assert.Equal(t, ReasonInactive, vc.EligibleFor(42, now))
	})

	t.Run("usage limit reached", func(t *testing.T) {
		vc := base()
		vc.UsageCount = vc.UsageLimit
		assert.Equal(t, ReasonUsageLimitReached, vc.EligibleFor(42, now))
	})

	t.Run("not yet valid", func(t *testing.T) {
		vc := base()
		vc.ValidFrom = &future
		assert.Equal(t, ReasonNotYetValid, vc.EligibleFor(42, now))
	})

	t.Run("expired", func(t *testing.T) {
		vc := base()
		vc.ExpiresAt = &past
		assert.Equal(t, ReasonExpired, vc.EligibleFor(42, now))
	})

	t.Run("expiry boundary is exclusive", func(t *testing.T) {
		vc := base()
		vc.ExpiresAt = &now
		assert.Equal(t, ReasonExpired, vc.EligibleFor(42, now))
	})

	t.Run("user not on allow list", func(t *testing.T) {
		vc := base()
		vc.AllowedUsers = []int64{1, 2, 3}
		assert.Equal(t, ReasonNotAllowed, vc.EligibleFor(42, now))
	})

	t.Run("user on allow list", func(t *testing.T) {
		vc := base()
		vc.AllowedUsers = []int64{1, 42}
		assert.Empty(t, vc.EligibleFor(42, now))
	})
}

func TestUser_Remaining(t *testing.T) {
	assert.Equal(t, 7, (&User{Claimed: 3, VoucherLimit: 10}).Remaining())
	assert.Equal(t, 0, (&User{Claimed: 10, VoucherLimit: 10}).Remaining())
	assert.Equal(t, 0, (&User{Claimed: 12, VoucherLimit: 10}).Remaining(), "over-claimed never goes negative")
}
