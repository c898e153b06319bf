package model

import (
	"time"

	"github.com/fairyhunter13/voucher-claim-system/internal/ratelimit"
)

// Claim statuses. A claim is pending only while queued; success may later
// flip to refunded, everything else is terminal.
const (
	ClaimStatusPending  = "pending"
	ClaimStatusSuccess  = "success"
	ClaimStatusFailed   = "failed"
	ClaimStatusRefunded = "refunded"
)

// Audit actions recorded alongside claim and refund transactions.
const (
	AuditActionClaim        = "CLAIM"
	AuditActionRefund       = "REFUND"
	AuditActionLimitReached = "LIMIT_REACHED"
)

// Claim represents one logical attempt by a user to consume a voucher code.
// RequestID is the idempotency key; it is unique per logical attempt and
// reused across client retries.
type Claim struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	Code         string     `json:"code"`
	Status       string     `json:"status"`
	RequestID    string     `json:"request_id"`
	IP           string     `json:"ip"`
	UserAgent    string     `json:"user_agent"`
	DeviceID     *string    `json:"device_id,omitempty"`
	ClaimedAt    time.Time  `json:"claimed_at"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`
	RefundedBy   *int64     `json:"refunded_by,omitempty"`
	RefundReason *string    `json:"refund_reason,omitempty"`
}

// ClaimRequest carries the inputs of one claim attempt through the
// coordinator, the queue and the transaction.
type ClaimRequest struct {
	UserID    int64   `json:"user_id"`
	Code      string  `json:"code"`
	IP        string  `json:"ip"`
	UserAgent string  `json:"user_agent"`
	DeviceID  *string `json:"device_id,omitempty"`
	RequestID string  `json:"request_id"`
}

// ClaimResult is the outcome of a claim attempt. It is what gets cached
// under the request id, so two requests sharing a request id observe the
// same result.
type ClaimResult struct {
	Success           bool   `json:"success"`
	Status            string `json:"status"`
	Message           string `json:"message"`
	RequestID         string `json:"requestId"`
	ClaimID           int64  `json:"claimId,omitempty"`
	VouchersRemaining *int   `json:"vouchersRemaining,omitempty"`
	// ErrorCode carries the stable domain error code for failed results so
	// a cached failure maps back to the same HTTP status on retry.
	ErrorCode string `json:"errorCode,omitempty"`

	// RateLimit is the admission window this attempt observed, attached
	// for the transport's X-RateLimit headers. Never serialized; cached
	// replays skip admission and carry none.
	RateLimit *ratelimit.Result `json:"-"`
}

// ClaimVoucherRequest is the HTTP DTO for POST /vouchers/claim.
type ClaimVoucherRequest struct {
	VoucherCode string  `json:"voucherCode" validate:"required,vouchercode"`
	DeviceID    *string `json:"deviceId,omitempty" validate:"omitempty,max=255"`
}

// RefundClaimRequest is the HTTP DTO for POST /vouchers/refund.
type RefundClaimRequest struct {
	ClaimID int64  `json:"claimId" validate:"required,gt=0"`
	Reason  string `json:"reason" validate:"required,notblank,max=500"`
}
