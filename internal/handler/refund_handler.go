package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/voucher-claim-system/internal/auth"
	"github.com/fairyhunter13/voucher-claim-system/internal/model"
	"github.com/fairyhunter13/voucher-claim-system/internal/service"
)

// RefundServiceInterface defines the interface for refund business logic.
type RefundServiceInterface interface {
	Refund(ctx context.Context, claimID int64, reason string, adminID *int64) error
}

// RefundHandler handles HTTP requests for the administrative refund path.
type RefundHandler struct {
	service   RefundServiceInterface
	validator *validator.Validate
}

// NewRefundHandler creates a new RefundHandler with the given service and validator.
func NewRefundHandler(svc RefundServiceInterface, v *validator.Validate) *RefundHandler {
	return &RefundHandler{service: svc, validator: v}
}

// formatRefundValidationError converts validator errors to stable messages.
func formatRefundValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			switch fe.Field() {
			case "ClaimID":
				return "invalid request: claimId is required"
			case "Reason":
				if fe.Tag() == "max" {
					return "invalid request: reason exceeds maximum length of 500"
				}
				return "invalid request: reason is required"
			default:
				return "invalid request: " + fe.Field() + " is invalid"
			}
		}
	}
	return "invalid request"
}

// RefundClaim handles POST /vouchers/refund.
func (h *RefundHandler) RefundClaim(c *fiber.Ctx) error {
	var req model.RefundClaimRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatRefundValidationError(err)})
	}

	adminID := auth.UserID(c)
	err := h.service.Refund(c.Context(), req.ClaimID, req.Reason, &adminID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrClaimNotFound):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "claim not found"})
		case errors.Is(err, service.ErrAlreadyRefunded):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "claim already refunded"})
		case errors.Is(err, service.ErrClaimNotRefundable):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "claim is not refundable"})
		}
		log.Error().
			Err(err).
			Int64("claim_id", req.ClaimID).
			Int64("admin_id", adminID).
			Msg("failed to refund claim")
		return internalError(c)
	}

	return c.JSON(fiber.Map{"success": true, "message": "claim refunded"})
}
