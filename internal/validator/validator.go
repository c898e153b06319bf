package validator

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// voucherCodeRe matches the accepted voucher code alphabet. Length bounds
// are checked separately so callers get a distinct message for them.
var voucherCodeRe = regexp.MustCompile(`^[A-Z0-9-]+$`)

// CodeMinLen and CodeMaxLen bound acceptable voucher code lengths.
const (
	CodeMinLen = 6
	CodeMaxLen = 50
)

// ValidCode reports whether s is a well-formed voucher code.
func ValidCode(s string) bool {
	if len(s) < CodeMinLen || len(s) > CodeMaxLen {
		return false
	}
	return voucherCodeRe.MatchString(s)
}

// New creates a new validator instance with custom validations registered.
// This ensures consistent validation across the application and tests.
func New() *validator.Validate {
	v := validator.New()

	// Register custom "notblank" validator - rejects whitespace-only strings
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true // Not a string, let other validators handle it
		}
		return strings.TrimSpace(str) != ""
	})

	// Register custom "vouchercode" validator - format and length bounds
	_ = v.RegisterValidation("vouchercode", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true
		}
		return ValidCode(str)
	})

	return v
}
