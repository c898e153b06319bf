package model

import "time"

// User represents an account that can claim vouchers.
// Claimed is mutated only by the claim and refund transactions.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Claimed      int       `json:"claimed"`
	VoucherLimit int       `json:"voucher_limit"`
	IsPremium    bool      `json:"is_premium"`
	IsActive     bool      `json:"is_active"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// Remaining returns how many vouchers the user can still claim.
func (u *User) Remaining() int {
	if r := u.VoucherLimit - u.Claimed; r > 0 {
		return r
	}
	return 0
}

// UserSummary is the API response DTO for GET /vouchers/user/summary.
type UserSummary struct {
	UserID            int64  `json:"userId"`
	Email             string `json:"email"`
	Claimed           int    `json:"claimed"`
	VoucherLimit      int    `json:"voucherLimit"`
	VouchersRemaining int    `json:"vouchersRemaining"`
	IsPremium         bool   `json:"isPremium"`
}
