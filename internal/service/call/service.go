package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"peercall-backend/internal/domain"
	"peercall-backend/internal/repository/cockroach"
	"peercall-backend/pkg/constants"
	apperrors "peercall-backend/pkg/errors"
	"peercall-backend/pkg/logger"
	"peercall-backend/pkg/metrics"
)

// Server→client event names pushed through the Notifier.
const (
	EventCallStarted  = "call_started"
	EventIncomingCall = "incoming_call"
	EventCallAccepted = "call_accepted"
	EventCallDeclined = "call_declined"
	EventCallEnded    = "call_ended"
	EventCallTimeout  = "call_timeout"
	EventMediaToggled = "media_toggled"
)

// CallRepository is the durable call store.
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	MarkConnected(ctx context.Context, callID uuid.UUID, startedAt time.Time, calleeMedia domain.MediaState) (bool, error)
	MarkTerminal(ctx context.Context, callID uuid.UUID, from []domain.CallStatus, to domain.CallStatus, reason domain.EndReason, endedAt time.Time, durationSeconds *int) (bool, error)
	SetMediaState(ctx context.Context, callID uuid.UUID, role domain.CallRole, media domain.MediaState) error
	ActiveCallAsCaller(ctx context.Context, callerID uuid.UUID) (*domain.Call, error)
	ActiveCallBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Call, error)
	ActiveCallForUser(ctx context.Context, userID uuid.UUID) (*domain.Call, error)
	ActiveCallsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error)
	CountStartedSince(ctx context.Context, callerID uuid.UUID, since time.Time) (int, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
	ListExpiredRinging(ctx context.Context, now time.Time, limit int) ([]*domain.Call, error)
}

// UserRepository resolves call participants.
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	Exists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// ConversationResolver maps a user pair to its direct conversation and
// records call outcomes in the message log.
type ConversationResolver interface {
	GetOrCreateDirect(ctx context.Context, a, b uuid.UUID) (*domain.DirectConversation, error)
	AppendSystemMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string, metadata map[string]interface{}) error
}

// CallCache is the ephemeral Redis mirror of in-flight call state.
type CallCache interface {
	Set(ctx context.Context, callID uuid.UUID, entry *domain.CallCacheEntry) error
	Get(ctx context.Context, callID uuid.UUID) (*domain.CallCacheEntry, error)
	Delete(ctx context.Context, callID uuid.UUID) error
}

// Notifier pushes a server event to every live connection of a user,
// here and on other instances. Best-effort.
type Notifier interface {
	NotifyUser(userID uuid.UUID, event string, payload interface{})
}

// Presence answers whether a user has any live connection on this instance
// group. Used to decide between socket delivery and push.
type Presence interface {
	HasConnections(userID uuid.UUID) bool
}

// PushSender wakes devices that have no live socket.
type PushSender interface {
	SendIncomingCall(ctx context.Context, calleeID, callID uuid.UUID, callerName, callType string) error
	SendMissedCall(ctx context.Context, calleeID, callID uuid.UUID, callerName string) error
}

// Config tunes lifecycle timing and abuse limits.
type Config struct {
	RingTimeout       time.Duration
	MaxCallsPerWindow int
	RateWindow        time.Duration
}

// Service owns the 1:1 call lifecycle: start, answer, decline, hang up,
// timeout, media toggles and history.
type Service struct {
	callRepo      CallRepository
	userRepo      UserRepository
	conversations ConversationResolver
	cache         CallCache
	notifier      Notifier
	presence      Presence
	push          PushSender
	timers        *ringTimers
	active        *activeCalls
	cfg           Config
}

// NewService creates a new call service
func NewService(
	callRepo CallRepository,
	userRepo UserRepository,
	conversations ConversationResolver,
	cache CallCache,
	notifier Notifier,
	presence Presence,
	push PushSender,
	cfg Config,
) *Service {
	return &Service{
		callRepo:      callRepo,
		userRepo:      userRepo,
		conversations: conversations,
		cache:         cache,
		notifier:      notifier,
		presence:      presence,
		push:          push,
		timers:        newRingTimers(),
		active:        newActiveCalls(),
		cfg:           cfg,
	}
}

// StartCall creates a ringing call from caller to target.
func (s *Service) StartCall(ctx context.Context, callerID, targetID uuid.UUID, withVideo, withAudio bool) (*domain.Call, error) {
	if callerID == targetID {
		return nil, apperrors.InvalidInputError("Cannot call yourself")
	}

	caller, err := s.userRepo.GetByID(ctx, callerID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}

	exists, err := s.userRepo.Exists(ctx, targetID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !exists {
		return nil, apperrors.UserNotFoundError()
	}

	if err := s.checkCallPolicy(ctx, callerID, targetID); err != nil {
		return nil, err
	}

	conv, err := s.conversations.GetOrCreateDirect(ctx, callerID, targetID)
	if err != nil {
		return nil, err
	}

	callType := domain.CallTypeAudio
	if withVideo {
		callType = domain.CallTypeVideo
	}

	now := time.Now()
	ringsUntil := now.Add(s.cfg.RingTimeout)
	call := &domain.Call{
		CallID:         uuid.New(),
		ConversationID: conv.ConversationID,
		CallerID:       callerID,
		CalleeID:       targetID,
		CallType:       callType,
		Status:         domain.CallStatusRinging,
		CreatedAt:      now,
		RingsUntil:     &ringsUntil,
		CallerMedia: domain.MediaState{
			AudioEnabled: withAudio,
			VideoEnabled: withVideo,
		},
	}

	if err := s.callRepo.Create(ctx, call); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	s.writeCache(ctx, call)
	s.timers.Schedule(call.CallID, s.cfg.RingTimeout, func() {
		s.timeoutCall(call.CallID)
	})

	metrics.CallStartedTotal.WithLabelValues(callType).Inc()
	s.active.Add(call.CallID)
	metrics.CallActive.Inc()

	logger.Info("Call started",
		zap.String("call_id", call.CallID.String()),
		zap.String("caller_id", callerID.String()),
		zap.String("callee_id", targetID.String()),
		zap.String("call_type", callType))

	s.notifier.NotifyUser(callerID, EventCallStarted, call)
	s.notifier.NotifyUser(targetID, EventIncomingCall, map[string]interface{}{
		"call":   call,
		"caller": caller.ToResponse(),
	})

	// Ring devices that have no live socket
	if !s.presence.HasConnections(targetID) {
		if err := s.push.SendIncomingCall(ctx, targetID, call.CallID, caller.DisplayName, callType); err != nil {
			logger.Warn("Incoming call push failed",
				zap.String("call_id", call.CallID.String()),
				zap.Error(err))
		}
	}

	return call, nil
}

// AcceptCall answers a ringing call. Only the callee may accept.
func (s *Service) AcceptCall(ctx context.Context, calleeID, callID uuid.UUID, withVideo, withAudio bool) (*domain.Call, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	if call.CalleeID != calleeID {
		return nil, apperrors.NotCalleeError()
	}

	if !CanApply(call.Status, EventAccept) {
		return nil, apperrors.InvalidCallStateError(fmt.Sprintf("Cannot accept call in status %s", call.Status))
	}

	startedAt := time.Now()
	calleeMedia := domain.MediaState{
		AudioEnabled: withAudio,
		VideoEnabled: withVideo,
	}

	ok, err := s.callRepo.MarkConnected(ctx, callID, startedAt, calleeMedia)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		// Lost the race against decline, hangup or timeout
		return nil, apperrors.InvalidCallStateError("Call is no longer ringing")
	}

	s.timers.Cancel(callID)

	call.Status = domain.CallStatusConnected
	call.StartedAt = &startedAt
	call.RingsUntil = nil
	call.CalleeMedia = calleeMedia

	s.writeCache(ctx, call)
	metrics.CallRingToAnswerDuration.Observe(startedAt.Sub(call.CreatedAt).Seconds())

	logger.Info("Call accepted",
		zap.String("call_id", callID.String()),
		zap.String("callee_id", calleeID.String()))

	s.notifier.NotifyUser(call.CallerID, EventCallAccepted, call)
	s.notifier.NotifyUser(call.CalleeID, EventCallAccepted, call)

	return call, nil
}

// DeclineCall rejects a ringing call. Only the callee may decline.
func (s *Service) DeclineCall(ctx context.Context, calleeID, callID uuid.UUID) (*domain.Call, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	if call.CalleeID != calleeID {
		return nil, apperrors.NotCalleeError()
	}

	if !CanApply(call.Status, EventDecline) {
		return nil, apperrors.InvalidCallStateError(fmt.Sprintf("Cannot decline call in status %s", call.Status))
	}

	endedAt := time.Now()
	ok, err := s.callRepo.MarkTerminal(ctx, callID,
		[]domain.CallStatus{domain.CallStatusRinging},
		domain.CallStatusDeclined, domain.EndReasonUserDeclined, endedAt, nil)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		return nil, apperrors.InvalidCallStateError("Call is no longer ringing")
	}

	s.timers.Cancel(callID)
	s.finishCall(ctx, call, domain.CallStatusDeclined, domain.EndReasonUserDeclined, endedAt, nil)
	s.recordOutcome(ctx, call, "Call declined", nil)

	logger.Info("Call declined",
		zap.String("call_id", callID.String()),
		zap.String("callee_id", calleeID.String()))

	s.notifier.NotifyUser(call.CallerID, EventCallDeclined, call)
	s.notifier.NotifyUser(call.CalleeID, EventCallDeclined, call)

	return call, nil
}

// EndCall hangs up a call. Either party may end; a caller hanging up a
// still-ringing call produces a missed call instead of a normal end.
func (s *Service) EndCall(ctx context.Context, userID, callID uuid.UUID, reason domain.EndReason) (*domain.Call, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	if !call.IsParty(userID) {
		return nil, apperrors.NotPartyError()
	}

	if call.Status.IsTerminal() {
		return nil, apperrors.CallAlreadyEndedError()
	}

	if reason == "" {
		reason = domain.EndReasonUserHangup
	}
	if !domain.ValidEndReason(reason) {
		return nil, apperrors.InvalidInputError(fmt.Sprintf("Unknown end reason %q", reason))
	}

	endedAt := time.Now()

	// Caller abandoning an unanswered call: the callee missed it
	target := domain.CallStatusEnded
	if call.Status == domain.CallStatusRinging && call.RoleOf(userID) == domain.RoleCaller {
		target = domain.CallStatusMissed
	}

	var duration *int
	if call.StartedAt != nil {
		d := int(endedAt.Sub(*call.StartedAt).Seconds())
		duration = &d
	}

	ok, err := s.callRepo.MarkTerminal(ctx, callID,
		[]domain.CallStatus{domain.CallStatusRinging, domain.CallStatusConnecting, domain.CallStatusConnected},
		target, reason, endedAt, duration)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		return nil, apperrors.CallAlreadyEndedError()
	}

	s.timers.Cancel(callID)
	s.finishCall(ctx, call, target, reason, endedAt, duration)

	if target == domain.CallStatusMissed {
		s.recordOutcome(ctx, call, "Missed call", nil)
		s.notifyMissed(ctx, call)
	} else if duration != nil {
		s.recordOutcome(ctx, call, callSummary(call.CallType, *duration), duration)
	} else {
		s.recordOutcome(ctx, call, "Missed call", nil)
	}

	logger.Info("Call ended",
		zap.String("call_id", callID.String()),
		zap.String("user_id", userID.String()),
		zap.String("status", string(target)),
		zap.String("reason", string(reason)))

	s.notifier.NotifyUser(call.CallerID, EventCallEnded, call)
	s.notifier.NotifyUser(call.CalleeID, EventCallEnded, call)

	if duration != nil {
		metrics.CallDurationSeconds.Observe(float64(*duration))
	}

	return call, nil
}

// ToggleMedia flips one media flag for the acting party. No status change.
func (s *Service) ToggleMedia(ctx context.Context, userID, callID uuid.UUID, mediaType domain.MediaType, muted bool) (*domain.Call, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	if !call.IsParty(userID) {
		return nil, apperrors.NotPartyError()
	}

	if call.Status.IsTerminal() {
		return nil, apperrors.CallAlreadyEndedError()
	}

	role := call.RoleOf(userID)
	media := call.CallerMedia
	if role == domain.RoleCallee {
		media = call.CalleeMedia
	}

	switch mediaType {
	case domain.MediaTypeAudio:
		media.AudioMuted = muted
	case domain.MediaTypeVideo:
		media.VideoMuted = muted
	default:
		return nil, apperrors.InvalidInputError(fmt.Sprintf("Unknown media type %q", mediaType))
	}

	if err := s.callRepo.SetMediaState(ctx, callID, role, media); err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}

	if role == domain.RoleCallee {
		call.CalleeMedia = media
	} else {
		call.CallerMedia = media
	}

	s.notifier.NotifyUser(call.Counterpart(userID), EventMediaToggled, map[string]interface{}{
		"call_id":    call.CallID,
		"user_id":    userID,
		"media_type": mediaType,
		"muted":      muted,
	})

	return call, nil
}

// HandleDisconnect ends the user's call(s) after their last socket drops.
// With a known callID only that call is ended; otherwise every non-terminal
// call the user participates in is swept.
func (s *Service) HandleDisconnect(ctx context.Context, userID uuid.UUID, callID *uuid.UUID) {
	var calls []*domain.Call

	if callID != nil {
		call, err := s.callRepo.GetByID(ctx, *callID)
		if err != nil {
			if !errors.Is(err, cockroach.ErrNotFound) {
				logger.Warn("Disconnect cleanup lookup failed",
					zap.String("call_id", callID.String()),
					zap.Error(err))
			}
			return
		}
		calls = []*domain.Call{call}
	} else {
		var err error
		calls, err = s.callRepo.ActiveCallsForUser(ctx, userID)
		if err != nil {
			logger.Warn("Disconnect cleanup scan failed",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			return
		}
	}

	for _, call := range calls {
		if call.Status.IsTerminal() || !call.IsParty(userID) {
			continue
		}
		if _, err := s.EndCall(ctx, userID, call.CallID, domain.EndReasonConnectionError); err != nil {
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) && appErr.Code == apperrors.ErrCodeCallAlreadyEnded {
				continue
			}
			logger.Warn("Disconnect cleanup end failed",
				zap.String("call_id", call.CallID.String()),
				zap.Error(err))
		}
	}
}

// GetActiveCall returns the user's current non-terminal call, or nil.
func (s *Service) GetActiveCall(ctx context.Context, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.ActiveCallForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.DatabaseError(err)
	}
	return call, nil
}

// GetCallHistory returns the user's calls, newest first.
func (s *Service) GetCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	calls, err := s.callRepo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return calls, nil
}

// GetCall loads a call the user participates in.
func (s *Service) GetCall(ctx context.Context, userID, callID uuid.UUID) (*domain.Call, error) {
	call, err := s.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsParty(userID) {
		return nil, apperrors.NotPartyError()
	}
	return call, nil
}

// timeoutCall is the in-process ring timer callback.
func (s *Service) timeoutCall(callID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		if !errors.Is(err, cockroach.ErrNotFound) {
			logger.Warn("Ring timeout lookup failed",
				zap.String("call_id", callID.String()),
				zap.Error(err))
		}
		return
	}

	if s.expireRinging(ctx, call) {
		metrics.CallRingTimeoutTotal.Inc()
	}
}

// expireRinging transitions a ringing call to timeout. Returns false when
// the call progressed in the meantime; the conditional UPDATE arbitrates.
func (s *Service) expireRinging(ctx context.Context, call *domain.Call) bool {
	if call.Status != domain.CallStatusRinging {
		return false
	}

	endedAt := time.Now()
	ok, err := s.callRepo.MarkTerminal(ctx, call.CallID,
		[]domain.CallStatus{domain.CallStatusRinging},
		domain.CallStatusTimeout, domain.EndReasonTimeout, endedAt, nil)
	if err != nil {
		logger.Warn("Ring timeout transition failed",
			zap.String("call_id", call.CallID.String()),
			zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	s.timers.Cancel(call.CallID)
	s.finishCall(ctx, call, domain.CallStatusTimeout, domain.EndReasonTimeout, endedAt, nil)
	s.recordOutcome(ctx, call, "Missed call", nil)
	s.notifyMissed(ctx, call)

	logger.Info("Call rang out",
		zap.String("call_id", call.CallID.String()))

	s.notifier.NotifyUser(call.CallerID, EventCallTimeout, call)
	s.notifier.NotifyUser(call.CalleeID, EventCallTimeout, call)

	return true
}

// SweepExpired times out ringing calls whose persisted deadline passed.
// Covers timers lost to restarts. Returns how many calls were reclaimed.
func (s *Service) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := s.callRepo.ListExpiredRinging(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired calls: %w", err)
	}

	reclaimed := 0
	for _, call := range expired {
		if s.expireRinging(ctx, call) {
			reclaimed++
			metrics.CallSweeperReclaimedTotal.Inc()
		}
	}

	return reclaimed, nil
}

// getCall loads a call or maps absence to the public error.
func (s *Service) getCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	return call, nil
}

func (s *Service) writeCache(ctx context.Context, call *domain.Call) {
	_ = s.cache.Set(ctx, call.CallID, &domain.CallCacheEntry{
		CallerID: call.CallerID,
		CalleeID: call.CalleeID,
		Status:   call.Status,
	})
}

// finishCall applies a terminal transition to the in-memory copy and clears
// shared state.
func (s *Service) finishCall(ctx context.Context, call *domain.Call, status domain.CallStatus, reason domain.EndReason, endedAt time.Time, duration *int) {
	call.Status = status
	call.EndReason = &reason
	call.EndedAt = &endedAt
	call.DurationSeconds = duration
	call.RingsUntil = nil

	_ = s.cache.Delete(ctx, call.CallID)
	if s.active.Remove(call.CallID) {
		metrics.CallActive.Dec()
	}
	metrics.CallOutcomeTotal.WithLabelValues(string(status)).Inc()
}

// recordOutcome writes the call outcome into the conversation message log.
func (s *Service) recordOutcome(ctx context.Context, call *domain.Call, content string, duration *int) {
	metadata := map[string]interface{}{
		"call_id":   call.CallID.String(),
		"call_type": call.CallType,
	}
	if duration != nil {
		metadata["duration_seconds"] = *duration
	}

	if err := s.conversations.AppendSystemMessage(ctx, call.ConversationID, call.CallerID, content, metadata); err != nil {
		logger.Warn("Failed to record call outcome message",
			zap.String("call_id", call.CallID.String()),
			zap.Error(err))
	}
}

// notifyMissed pushes a missed-call notification to the callee's devices.
func (s *Service) notifyMissed(ctx context.Context, call *domain.Call) {
	callerName := call.CallerID.String()
	if caller, err := s.userRepo.GetByID(ctx, call.CallerID); err == nil {
		callerName = caller.DisplayName
	}

	if err := s.push.SendMissedCall(ctx, call.CalleeID, call.CallID, callerName); err != nil {
		logger.Warn("Missed call push failed",
			zap.String("call_id", call.CallID.String()),
			zap.Error(err))
	}
}

// callSummary renders the system message for a completed call,
// e.g. "Video call • 3:05".
func callSummary(callType string, durationSeconds int) string {
	label := "Audio call"
	if callType == domain.CallTypeVideo {
		label = "Video call"
	}
	return fmt.Sprintf("%s • %d:%02d", label, durationSeconds/60, durationSeconds%60)
}
