package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/voucher-claim-system/internal/metrics"
	"github.com/fairyhunter13/voucher-claim-system/internal/model"
	"github.com/fairyhunter13/voucher-claim-system/internal/queue"
	"github.com/fairyhunter13/voucher-claim-system/internal/ratelimit"
	"github.com/fairyhunter13/voucher-claim-system/internal/validator"
	"github.com/fairyhunter13/voucher-claim-system/pkg/database"
)

// UserRepositoryInterface defines the interface for user data access.
type UserRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetForUpdate(ctx context.Context, tx database.TxQuerier, id int64) (*model.User, error)
	IncrementClaimed(ctx context.Context, tx database.TxQuerier, id int64) error
	DecrementClaimed(ctx context.Context, tx database.TxQuerier, id int64) error
}

// VoucherRepositoryInterface defines the interface for voucher code data access.
type VoucherRepositoryInterface interface {
	GetByCode(ctx context.Context, code string) (*model.VoucherCode, error)
	GetForUpdate(ctx context.Context, tx database.TxQuerier, code string) (*model.VoucherCode, error)
	ConsumeUsage(ctx context.Context, tx database.TxQuerier, id, userID int64) error
	ReleaseUsage(ctx context.Context, tx database.TxQuerier, id int64) error
}

// ClaimRepositoryInterface defines the interface for claim data access.
type ClaimRepositoryInterface interface {
	Insert(ctx context.Context, tx database.TxQuerier, claim *model.Claim) (int64, error)
	HasSuccess(ctx context.Context, tx database.TxQuerier, userID int64, code string) (bool, error)
	GetForUpdate(ctx context.Context, tx database.TxQuerier, id int64) (*model.Claim, error)
	MarkRefunded(ctx context.Context, tx database.TxQuerier, id int64, refundedBy *int64, reason string) (time.Time, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]model.Claim, error)
}

// AuditRepositoryInterface defines the interface for audit log appends.
type AuditRepositoryInterface interface {
	Insert(ctx context.Context, q database.TxQuerier, userID int64, claimID *int64, action string, metadata map[string]any) error
}

// CacheInterface defines the cache operations the coordinator needs.
type CacheInterface interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	PutUser(ctx context.Context, user *model.User) error
	GetCount(ctx context.Context, id int64) (*int, error)
	PutCount(ctx context.Context, id int64, claimed int) error
	GetResult(ctx context.Context, requestID string) (*model.ClaimResult, error)
	PutResult(ctx context.Context, requestID string, result *model.ClaimResult) error
	InvalidateUser(ctx context.Context, id int64) error
}

// RateLimiterInterface defines the admission checks.
type RateLimiterInterface interface {
	UserWindow(ctx context.Context, userID int64, max, windowSec int) (ratelimit.Result, error)
	IPWindow(ctx context.Context, addr string, max, windowSec int) (ratelimit.Result, error)
}

// EnqueuerInterface defines the queued claim path.
type EnqueuerInterface interface {
	Enqueue(ctx context.Context, req model.ClaimRequest) (string, error)
	Get(ctx context.Context, id string) (*queue.Status, error)
	Counts(ctx context.Context) (queue.Counts, error)
}

// BreakerInterface protects the store behind the fast path.
type BreakerInterface interface {
	Do(ctx context.Context, action func(ctx context.Context) (any, error)) (any, error)
}

// RateLimitError is a rate-limit rejection carrying the limiter metadata
// the HTTP boundary needs for its response headers.
type RateLimitError struct {
	Scope  string // "user" or "ip"
	Result ratelimit.Result
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s window)", e.Scope)
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Limits holds the admission parameters for the claim path.
type Limits struct {
	UserMax    int
	UserWindow int // seconds
	IPMax      int
	IPWindow   int // seconds
}

// DefaultLimits are the hot-path admission windows: 10/min per user,
// 100/min per IP.
var DefaultLimits = Limits{UserMax: 10, UserWindow: 60, IPMax: 100, IPWindow: 60}

// ClaimService is the claim coordinator: it composes idempotency lookup,
// admission control, validation, and the fast-path/queued-path branch in
// front of the authoritative claim transaction.
type ClaimService struct {
	pool     database.TxBeginner
	users    UserRepositoryInterface
	vouchers VoucherRepositoryInterface
	claims   ClaimRepositoryInterface
	audit    AuditRepositoryInterface
	cache    CacheInterface
	limiter  RateLimiterInterface
	queue    EnqueuerInterface
	breaker  BreakerInterface
	metrics  *metrics.Metrics
	limits   Limits
}

// NewClaimService wires the coordinator. metrics may be nil.
func NewClaimService(
	pool *pgxpool.Pool,
	users UserRepositoryInterface,
	vouchers VoucherRepositoryInterface,
	claims ClaimRepositoryInterface,
	audit AuditRepositoryInterface,
	cache CacheInterface,
	limiter RateLimiterInterface,
	q EnqueuerInterface,
	breaker BreakerInterface,
	m *metrics.Metrics,
	limits Limits,
) *ClaimService {
	return NewClaimServiceWithTxBeginner(pool, users, vouchers, claims, audit, cache, limiter, q, breaker, m, limits)
}

// NewClaimServiceWithTxBeginner creates a ClaimService with a custom
// TxBeginner. Primarily used for testing.
func NewClaimServiceWithTxBeginner(
	pool database.TxBeginner,
	users UserRepositoryInterface,
	vouchers VoucherRepositoryInterface,
	claims ClaimRepositoryInterface,
	audit AuditRepositoryInterface,
	cache CacheInterface,
	limiter RateLimiterInterface,
	q EnqueuerInterface,
	breaker BreakerInterface,
	m *metrics.Metrics,
	limits Limits,
) *ClaimService {
	if limits.UserMax == 0 {
		limits = DefaultLimits
	}
	return &ClaimService{
		pool:     pool,
		users:    users,
		vouchers: vouchers,
		claims:   claims,
		audit:    audit,
		cache:    cache,
		limiter:  limiter,
		queue:    q,
		breaker:  breaker,
		metrics:  m,
		limits:   limits,
	}
}

// Claim runs one claim attempt to a domain-final outcome or an admission
// rejection.
//
// Domain-final outcomes (success, pending, limit exceeded, invalid
// voucher) come back as a ClaimResult with a nil error; failed results
// carry their stable code in ErrorCode so a cached result replays to the
// identical response. A non-nil error means the attempt was not admitted
// (rate limit) or could not be decided (internal failure).
func (s *ClaimService) Claim(ctx context.Context, req model.ClaimRequest) (result *model.ClaimResult, err error) {
	// 1. Idempotency: a request id that already has a result is answered
	// from the cache, unchanged.
	cached, err := s.cache.GetResult(ctx, req.RequestID)
	if err != nil {
		// The authoritative guards below make a lost lookup safe.
		log.Warn().Err(err).Str("request_id", req.RequestID).Msg("idempotency lookup failed, continuing")
	}
	if cached != nil {
		return cached, nil
	}

	// 2. Per-user sliding window.
	rl, err := s.limiter.UserWindow(ctx, req.UserID, s.limits.UserMax, s.limits.UserWindow)
	if err != nil {
		return nil, fmt.Errorf("user rate limit: %w", err)
	}
	if !rl.Allowed {
		s.countRateLimit("user", req.UserID)
		return nil, &RateLimitError{Scope: "user", Result: rl}
	}

	// 3. Per-IP fixed window.
	ipRes, err := s.limiter.IPWindow(ctx, req.IP, s.limits.IPMax, s.limits.IPWindow)
	if err != nil {
		return nil, fmt.Errorf("ip rate limit: %w", err)
	}
	if !ipRes.Allowed {
		s.countRateLimit("ip", req.UserID)
		return nil, &RateLimitError{Scope: "ip", Result: ipRes}
	}

	// Admitted. Every outcome from here on carries the observed user
	// window so the transport can emit its rate-limit headers.
	defer func() {
		if result != nil {
			result.RateLimit = &rl
		}
	}()

	// 4. Soft pre-check on the cached counter. Fast-path rejection only;
	// the transaction repeats the check authoritatively.
	var user *model.User
	if count, err := s.cache.GetCount(ctx, req.UserID); err == nil && count != nil {
		if user, err = s.loadUser(ctx, req.UserID); err != nil {
			return nil, err
		}
		if user != nil && *count >= user.VoucherLimit {
			return s.finalize(ctx, req, failedResult(req.RequestID, CodeLimitExceeded, "voucher limit reached")), nil
		}
	}

	// 5. Code format.
	if !validator.ValidCode(req.Code) {
		return s.finalize(ctx, req, invalidResult(req.RequestID, model.ReasonBadFormat)), nil
	}

	// 6. Eligibility probe on the unlocked row.
	vc, err := s.vouchers.GetByCode(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("load voucher: %w", err)
	}
	if vc == nil {
		return s.finalize(ctx, req, invalidResult(req.RequestID, model.ReasonNotFound)), nil
	}
	if reason := vc.EligibleFor(req.UserID, time.Now()); reason != "" {
		return s.finalize(ctx, req, invalidResult(req.RequestID, reason)), nil
	}

	if user == nil {
		if user, err = s.loadUser(ctx, req.UserID); err != nil {
			return nil, err
		}
	}
	if user == nil {
		return s.finalize(ctx, req, failedResult(req.RequestID, CodeForbidden, "user not found or inactive")), nil
	}

	// 7. Premium users take the synchronous transaction, protected by the
	// circuit breaker.
	if user.IsPremium {
		s.countPath("fast")
		out, err := s.breaker.Do(ctx, func(ctx context.Context) (any, error) {
			return s.runClaimTx(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		return out.(*model.ClaimResult), nil
	}

	// 8. Everyone else is absorbed by the worker pool. The queue rejects
	// duplicate job ids silently, which is how idempotency combines with
	// asynchrony. The pending result is deliberately not cached: the
	// worker caches the final one.
	s.countPath("queued")
	if _, err := s.queue.Enqueue(ctx, req); err != nil {
		return nil, fmt.Errorf("enqueue claim: %w", err)
	}
	return &model.ClaimResult{
		Success:   true,
		Status:    model.ClaimStatusPending,
		Message:   "claim accepted for processing",
		RequestID: req.RequestID,
	}, nil
}

// ProcessClaimJob is the queue worker handler: it runs the authoritative
// claim transaction for a dequeued job.
func (s *ClaimService) ProcessClaimJob(ctx context.Context, req model.ClaimRequest) (*model.ClaimResult, error) {
	return s.runClaimTx(ctx, req)
}

// runClaimTx executes the claim transaction (the single source of truth)
// and converts domain rejections into final, cacheable results. A non-nil
// error is transient: the store failed before a decision was reached.
func (s *ClaimService) runClaimTx(ctx context.Context, req model.ClaimRequest) (*model.ClaimResult, error) {
	started := time.Now()

	var (
		claimID    int64
		newClaimed int
		remaining  int
	)
	txErr := database.Transact(ctx, s.pool, func(tx database.TxQuerier) error {
		// Lock order is user -> voucher_code, system-wide, shared with the
		// refund transaction to keep the paths deadlock-free.
		user, err := s.users.GetForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		if user.Claimed >= user.VoucherLimit {
			return ErrLimitExceeded
		}

		vc, err := s.vouchers.GetForUpdate(ctx, tx, req.Code)
		if err != nil {
			return err
		}
		if reason := vc.EligibleFor(req.UserID, time.Now()); reason != "" {
			return NewInvalidVoucher(reason)
		}

		// At most one successful claim per (user, code).
		claimed, err := s.claims.HasSuccess(ctx, tx, req.UserID, req.Code)
		if err != nil {
			return err
		}
		if claimed {
			return NewInvalidVoucher(model.ReasonAlreadyClaimed)
		}

		if err := s.users.IncrementClaimed(ctx, tx, user.ID); err != nil {
			return err
		}
		if err := s.vouchers.ConsumeUsage(ctx, tx, vc.ID, user.ID); err != nil {
			return err
		}

		claimID, err = s.claims.Insert(ctx, tx, &model.Claim{
			UserID:    req.UserID,
			Code:      req.Code,
			Status:    model.ClaimStatusSuccess,
			RequestID: req.RequestID,
			IP:        req.IP,
			UserAgent: req.UserAgent,
			DeviceID:  req.DeviceID,
		})
		if err != nil {
			return err
		}

		if err := s.audit.Insert(ctx, tx, req.UserID, &claimID, model.AuditActionClaim, map[string]any{
			"code":       req.Code,
			"request_id": req.RequestID,
			"ip":         req.IP,
		}); err != nil {
			return err
		}

		newClaimed = user.Claimed + 1
		remaining = user.VoucherLimit - newClaimed
		return nil
	})

	switch {
	case txErr == nil:
		// Committed. Cache writes happen strictly after commit; a reader
		// racing them is corrected by the transaction's own checks.
		s.postCommit(ctx, req.UserID, newClaimed)
		result := &model.ClaimResult{
			Success:           true,
			Status:            model.ClaimStatusSuccess,
			Message:           "voucher claimed successfully",
			RequestID:         req.RequestID,
			ClaimID:           claimID,
			VouchersRemaining: &remaining,
		}
		s.cacheResult(ctx, req.RequestID, result)
		if s.metrics != nil {
			s.metrics.ClaimsSuccessTotal.Inc()
			s.metrics.ClaimDuration.Observe(time.Since(started).Seconds())
		}
		log.Info().
			Int64("claim_id", claimID).
			Int64("user_id", req.UserID).
			Str("code", req.Code).
			Str("request_id", req.RequestID).
			Msg("claim committed")
		return result, nil

	case errors.Is(txErr, ErrLimitExceeded):
		// The rejection is recorded even though the transaction rolled
		// back, so the audit trail sees the violation.
		s.auditOutsideTx(ctx, req.UserID, model.AuditActionLimitReached, map[string]any{
			"code": req.Code, "request_id": req.RequestID,
		})
		if s.metrics != nil {
			s.metrics.LimitViolationsTotal.Inc()
		}
		return s.finalize(ctx, req, failedResult(req.RequestID, CodeLimitExceeded, "voucher limit reached")), nil

	case errors.Is(txErr, ErrInvalidVoucher):
		return s.finalize(ctx, req, invalidResult(req.RequestID, VoucherReason(txErr))), nil

	case errors.Is(txErr, ErrUserNotFound):
		return s.finalize(ctx, req, failedResult(req.RequestID, CodeForbidden, "user not found or inactive")), nil

	default:
		return nil, txErr
	}
}

// Status resolves a request id to its current outcome: the cached result
// when one exists, else the queued job state.
func (s *ClaimService) Status(ctx context.Context, requestID string) (*queue.Status, error) {
	cached, err := s.cache.GetResult(ctx, requestID)
	if err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("result lookup failed, falling back to queue")
	}
	if cached != nil {
		state := queue.StateCompleted
		if !cached.Success {
			state = queue.StateFailed
		}
		return &queue.Status{State: state, Result: cached, FailReason: cached.Message}, nil
	}

	st, err := s.queue.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}
	return st, nil
}

// History returns the user's claims, most recent first.
func (s *ClaimService) History(ctx context.Context, userID int64, limit int) ([]model.Claim, error) {
	return s.claims.ListByUser(ctx, userID, limit)
}

// Summary returns the user's claim counters.
func (s *ClaimService) Summary(ctx context.Context, userID int64) (*model.UserSummary, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return &model.UserSummary{
		UserID:            user.ID,
		Email:             user.Email,
		Claimed:           user.Claimed,
		VoucherLimit:      user.VoucherLimit,
		VouchersRemaining: user.Remaining(),
		IsPremium:         user.IsPremium,
	}, nil
}

// QueueCounts exposes queue depth for the metrics endpoint.
func (s *ClaimService) QueueCounts(ctx context.Context) (queue.Counts, error) {
	return s.queue.Counts(ctx)
}

// loadUser reads through the cache to the store. Returns nil, nil when
// the user does not exist.
func (s *ClaimService) loadUser(ctx context.Context, id int64) (*model.User, error) {
	if user, err := s.cache.GetUser(ctx, id); err == nil && user != nil {
		return user, nil
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user != nil {
		if err := s.cache.PutUser(ctx, user); err != nil {
			log.Warn().Err(err).Int64("user_id", id).Msg("failed to cache user")
		}
	}
	return user, nil
}

// postCommit refreshes the cache after a committed claim: drop every
// user:* entry, then pin the authoritative counter.
func (s *ClaimService) postCommit(ctx context.Context, userID int64, claimed int) {
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("cache invalidation failed")
	}
	if err := s.cache.PutCount(ctx, userID, claimed); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("counter cache write failed")
	}
}

// finalize caches a domain-final result under its request id and counts
// the failure.
func (s *ClaimService) finalize(ctx context.Context, req model.ClaimRequest, result *model.ClaimResult) *model.ClaimResult {
	s.cacheResult(ctx, req.RequestID, result)
	if s.metrics != nil && !result.Success {
		s.metrics.ClaimsFailedTotal.WithLabelValues(result.ErrorCode).Inc()
	}
	return result
}

func (s *ClaimService) cacheResult(ctx context.Context, requestID string, result *model.ClaimResult) {
	if err := s.cache.PutResult(ctx, requestID, result); err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("result cache write failed")
	}
}

func (s *ClaimService) countPath(path string) {
	if s.metrics != nil {
		s.metrics.ClaimsTotal.WithLabelValues(path).Inc()
	}
}

func (s *ClaimService) countRateLimit(scope string, userID int64) {
	log.Warn().Str("scope", scope).Int64("user_id", userID).Msg("claim rejected by rate limiter")
	if s.metrics != nil {
		s.metrics.RateLimitHitsTotal.WithLabelValues(scope).Inc()
	}
}

// auditOutsideTx records an audit entry through the pool, outside any
// transaction. Used for rejections whose transaction rolled back.
func (s *ClaimService) auditOutsideTx(ctx context.Context, userID int64, action string, metadata map[string]any) {
	pool, ok := s.pool.(database.TxQuerier)
	if !ok {
		return
	}
	if err := s.audit.Insert(ctx, pool, userID, nil, action, metadata); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Str("action", action).Msg("audit append failed")
	}
}

func failedResult(requestID, code, message string) *model.ClaimResult {
	return &model.ClaimResult{
		Success:   false,
		Status:    model.ClaimStatusFailed,
		Message:   message,
		RequestID: requestID,
		ErrorCode: code,
	}
}

func invalidResult(requestID, reason string) *model.ClaimResult {
	return &model.ClaimResult{
		Success:   false,
		Status:    model.ClaimStatusFailed,
		Message:   "invalid voucher: " + reason,
		RequestID: requestID,
		ErrorCode: CodeInvalidVoucher,
	}
}
