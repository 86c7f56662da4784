package call

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"peercall-backend/internal/repository/cockroach"
	apperrors "peercall-backend/pkg/errors"
	"peercall-backend/pkg/metrics"
)

// checkCallPolicy enforces the anti-abuse rules at call start, always
// against the durable store:
//
//  1. a caller with any live outbound call may not start another;
//  2. no second live call between the same pair, in either direction;
//  3. at most MaxCallsPerWindow calls created per caller in the trailing
//     rate window, regardless of outcome.
func (s *Service) checkCallPolicy(ctx context.Context, callerID, targetID uuid.UUID) error {
	_, err := s.callRepo.ActiveCallAsCaller(ctx, callerID)
	if err == nil {
		metrics.CallRejectedTotal.WithLabelValues("caller_busy").Inc()
		return apperrors.CallInProgressError("You already have an active call")
	}
	if !errors.Is(err, cockroach.ErrNotFound) {
		return apperrors.DatabaseError(err)
	}

	_, err = s.callRepo.ActiveCallBetween(ctx, callerID, targetID)
	if err == nil {
		metrics.CallRejectedTotal.WithLabelValues("pair_busy").Inc()
		return apperrors.CallInProgressError("A call with this user is already in progress")
	}
	if !errors.Is(err, cockroach.ErrNotFound) {
		return apperrors.DatabaseError(err)
	}

	since := time.Now().Add(-s.cfg.RateWindow)
	count, err := s.callRepo.CountStartedSince(ctx, callerID, since)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	if count >= s.cfg.MaxCallsPerWindow {
		metrics.CallRejectedTotal.WithLabelValues("rate_limited").Inc()
		return apperrors.CallLimitExceededError("Too many call attempts, try again later")
	}

	return nil
}
