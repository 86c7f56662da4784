package signal

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"peercall-backend/internal/domain"
	"peercall-backend/internal/repository/cockroach"
	apperrors "peercall-backend/pkg/errors"
)

// CallCache is the ephemeral mirror of in-flight call state.
type CallCache interface {
	Get(ctx context.Context, callID uuid.UUID) (*domain.CallCacheEntry, error)
}

// CallStore is the durable call store fallback.
type CallStore interface {
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
}

// Service resolves the counterpart for a signaling frame. The relay never
// inspects payloads; it only needs to know who the other party is and that
// the sender belongs to the call.
type Service struct {
	cache CallCache
	calls CallStore
}

// NewService creates a new signal service
func NewService(cache CallCache, calls CallStore) *Service {
	return &Service{
		cache: cache,
		calls: calls,
	}
}

// ResolveCounterpart returns the other party of the call for a frame sent
// by senderID. Cache first, store on miss. The sender must be a party and
// the call must not be terminal.
func (s *Service) ResolveCounterpart(ctx context.Context, senderID, callID uuid.UUID) (uuid.UUID, error) {
	if entry, err := s.cache.Get(ctx, callID); err == nil && entry != nil {
		return counterpartOf(senderID, entry.CallerID, entry.CalleeID, entry.Status)
	}

	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return uuid.Nil, apperrors.CallNotFoundError()
		}
		return uuid.Nil, apperrors.DatabaseError(err)
	}

	return counterpartOf(senderID, call.CallerID, call.CalleeID, call.Status)
}

func counterpartOf(senderID, callerID, calleeID uuid.UUID, status domain.CallStatus) (uuid.UUID, error) {
	if status.IsTerminal() {
		return uuid.Nil, apperrors.CallAlreadyEndedError()
	}

	switch senderID {
	case callerID:
		return calleeID, nil
	case calleeID:
		return callerID, nil
	}
	return uuid.Nil, apperrors.NotPartyError()
}
