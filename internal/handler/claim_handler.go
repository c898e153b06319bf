package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/voucher-claim-system/internal/auth"
	"github.com/fairyhunter13/voucher-claim-system/internal/model"
	"github.com/fairyhunter13/voucher-claim-system/internal/queue"
	"github.com/fairyhunter13/voucher-claim-system/internal/ratelimit"
	"github.com/fairyhunter13/voucher-claim-system/internal/service"
)

// maxIdempotencyKeyLen bounds the client-supplied Idempotency-Key header.
const maxIdempotencyKeyLen = 255

// ClaimServiceInterface defines the interface for claim business logic.
type ClaimServiceInterface interface {
	Claim(ctx context.Context, req model.ClaimRequest) (*model.ClaimResult, error)
	Status(ctx context.Context, requestID string) (*queue.Status, error)
	History(ctx context.Context, userID int64, limit int) ([]model.Claim, error)
	Summary(ctx context.Context, userID int64) (*model.UserSummary, error)
	QueueCounts(ctx context.Context) (queue.Counts, error)
}

// ClaimHandler handles HTTP requests for claim operations.
type ClaimHandler struct {
	service   ClaimServiceInterface
	validator *validator.Validate
}

// NewClaimHandler creates a new ClaimHandler with the given service and validator.
func NewClaimHandler(svc ClaimServiceInterface, v *validator.Validate) *ClaimHandler {
	return &ClaimHandler{service: svc, validator: v}
}

// formatClaimValidationError converts validator errors to stable messages.
func formatClaimValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			switch fe.Field() {
			case "VoucherCode":
				if fe.Tag() == "required" {
					return "invalid request: voucherCode is required"
				}
				return "invalid request: voucherCode must be 6-50 characters of A-Z, 0-9 or dash"
			case "DeviceID":
				return "invalid request: deviceId exceeds maximum length of 255"
			default:
				return "invalid request: " + fe.Field() + " is invalid"
			}
		}
	}
	return "invalid request"
}

// setRateLimitHeaders writes the admission window a caller needs to pace
// its requests. Set on every response that went through admission.
func setRateLimitHeaders(c *fiber.Ctx, r ratelimit.Result) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(r.Reset/1000, 10))
}

// statusForResult maps a domain-final result to its HTTP status.
func statusForResult(result *model.ClaimResult) int {
	switch result.ErrorCode {
	case "":
		if result.Status == model.ClaimStatusPending {
			return fiber.StatusAccepted
		}
		return fiber.StatusOK
	case service.CodeLimitExceeded, service.CodeForbidden:
		return fiber.StatusForbidden
	case service.CodeInvalidVoucher:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// ClaimVoucher handles POST /vouchers/claim.
func (h *ClaimHandler) ClaimVoucher(c *fiber.Ctx) error {
	var req model.ClaimVoucherRequest

	// Parse JSON body
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": formatClaimValidationError(err),
			"code":  service.CodeInvalidVoucher,
		})
	}

	// The idempotency key comes from the client header or is freshly
	// minted; retries should supply the same one.
	requestID := c.Get("Idempotency-Key")
	if len(requestID) > maxIdempotencyKeyLen {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "idempotency-key exceeds maximum length of 255",
		})
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	claimReq := model.ClaimRequest{
		UserID:    auth.UserID(c),
		Code:      req.VoucherCode,
		IP:        auth.ClientIP(c),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		DeviceID:  req.DeviceID,
		RequestID: requestID,
	}

	result, err := h.service.Claim(c.Context(), claimReq)
	if err != nil {
		var rle *service.RateLimitError
		if errors.As(err, &rle) {
			setRateLimitHeaders(c, rle.Result)
			c.Set("Retry-After", strconv.Itoa(rle.Result.RetryAfter(time.Now())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many claim attempts, slow down",
				"code":  service.CodeRateLimitExceeded,
			})
		}
		log.Error().
			Err(err).
			Str("request_id", requestID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int64("user_id", claimReq.UserID).
			Msg("claim attempt failed")
		return internalError(c)
	}

	// Cached replays skip admission and carry no window.
	if result.RateLimit != nil {
		setRateLimitHeaders(c, *result.RateLimit)
	}
	return c.Status(statusForResult(result)).JSON(result)
}

// ClaimStatus handles GET /vouchers/claim/:requestId.
func (h *ClaimHandler) ClaimStatus(c *fiber.Ctx) error {
	requestID := c.Params("requestId")
	if requestID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "requestId is required"})
	}

	st, err := h.service.Status(c.Context(), requestID)
	if err != nil {
		if errors.Is(err, service.ErrClaimNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown request id"})
		}
		log.Error().Err(err).Str("request_id", requestID).Msg("failed to resolve claim status")
		return internalError(c)
	}
	return c.JSON(st)
}

// History handles GET /vouchers/history.
func (h *ClaimHandler) History(c *fiber.Ctx) error {
	userID := auth.UserID(c)
	claims, err := h.service.History(c.Context(), userID, c.QueryInt("limit", 50))
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to load claim history")
		return internalError(c)
	}
	return c.JSON(fiber.Map{"data": claims})
}

// Summary handles GET /vouchers/user/summary.
func (h *ClaimHandler) Summary(c *fiber.Ctx) error {
	userID := auth.UserID(c)
	summary, err := h.service.Summary(c.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
		}
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to load user summary")
		return internalError(c)
	}
	return c.JSON(summary)
}

// QueueMetrics handles GET /vouchers/queue/metrics.
func (h *ClaimHandler) QueueMetrics(c *fiber.Ctx) error {
	counts, err := h.service.QueueCounts(c.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to read queue counts")
		return internalError(c)
	}
	return c.JSON(counts)
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal server error",
		"code":  service.CodeInternal,
	})
}
