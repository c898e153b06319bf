package service

import (
	"errors"
	"fmt"
)

// Stable domain error codes surfaced at the HTTP boundary.
const (
	CodeLimitExceeded     = "LIMIT_EXCEEDED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeInvalidVoucher    = "INVALID_VOUCHER"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeInternal          = "INTERNAL"
)

var (
	// ErrLimitExceeded is returned when the user's claimed count has
	// reached their personal limit at the authoritative check.
	ErrLimitExceeded = errors.New("voucher limit exceeded")

	// ErrRateLimited is returned when either admission window rejected.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUserNotFound is returned when the user row is missing or inactive.
	ErrUserNotFound = errors.New("user not found")

	// ErrClaimNotFound is returned when a claim cannot be found.
	ErrClaimNotFound = errors.New("claim not found")

	// ErrAlreadyRefunded is returned when refunding a refunded claim.
	ErrAlreadyRefunded = errors.New("claim already refunded")

	// ErrClaimNotRefundable is returned when refunding a claim that never
	// succeeded.
	ErrClaimNotRefundable = errors.New("claim is not refundable")
)

// InvalidVoucherError rejects a code with the precise reason: bad format,
// unknown code, ineligibility, or already claimed by this user.
type InvalidVoucherError struct {
	Reason string
}

func (e *InvalidVoucherError) Error() string {
	return fmt.Sprintf("invalid voucher: %s", e.Reason)
}

// Is makes errors.Is(err, ErrInvalidVoucher) match any reason.
func (e *InvalidVoucherError) Is(target error) bool {
	return target == ErrInvalidVoucher
}

// ErrInvalidVoucher is the sentinel for errors.Is checks against any
// InvalidVoucherError.
var ErrInvalidVoucher = errors.New("invalid voucher")

// NewInvalidVoucher builds an InvalidVoucherError with the given reason.
func NewInvalidVoucher(reason string) error {
	return &InvalidVoucherError{Reason: reason}
}

// VoucherReason extracts the reason of an invalid-voucher error, or "".
func VoucherReason(err error) string {
	var ive *InvalidVoucherError
	if errors.As(err, &ive) {
		return ive.Reason
	}
	return ""
}
