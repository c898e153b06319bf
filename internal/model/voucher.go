package model

import (
	"slices"
	"time"
)

// Ineligibility reasons returned by VoucherCode.EligibleFor.
// These end up as the reason attached to invalid-voucher errors.
const (
	ReasonInactive          = "inactive"
	ReasonNotYetValid       = "not_yet_valid"
	ReasonExpired           = "expired"
	ReasonUsageLimitReached = "usage_limit_reached"
	ReasonNotAllowed        = "user_not_allowed"
	ReasonAlreadyClaimed    = "already_claimed"
	ReasonNotFound          = "not_found"
	ReasonBadFormat         = "bad_format"
)

// VoucherCode represents a redeemable code with a usage cap.
type VoucherCode struct {
	ID            int64      `json:"id"`
	Code          string     `json:"code"`
	IsActive      bool       `json:"is_active"`
	UsageLimit    int        `json:"usage_limit"`
	UsageCount    int        `json:"usage_count"`
	ValidFrom     *time.Time `json:"valid_from,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	AllowedUsers  []int64    `json:"allowed_users,omitempty"`
	DiscountType  string     `json:"discount_type"`
	DiscountValue float64    `json:"discount_value"`
	IsUsed        bool       `json:"is_used"`
	UsedBy        *int64     `json:"used_by,omitempty"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
	CreatedAt     time.Time  `json:"-"`
}

// EligibleFor reports whether the code may be consumed by userID at time t.
// Returns "" when eligible, otherwise one of the Reason* constants.
func (v *VoucherCode) EligibleFor(userID int64, t time.Time) string {
	if !v.IsActive {
		return ReasonInactive
	}
	if v.UsageCount >= v.UsageLimit {
		return ReasonUsageLimitReached
	}
	if v.ValidFrom != nil && t.Before(*v.ValidFrom) {
		return ReasonNotYetValid
	}
	if v.ExpiresAt != nil && !t.Before(*v.ExpiresAt) {
		return ReasonExpired
	}
	if len(v.AllowedUsers) > 0 && !slices.Contains(v.AllowedUsers, userID) {
		return ReasonNotAllowed
	}
	return ""
}
