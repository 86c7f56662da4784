package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"peercall-backend/internal/domain"
	"peercall-backend/internal/repository/cockroach"
	apperrors "peercall-backend/pkg/errors"
	"peercall-backend/pkg/metrics"
)

// Mocks

type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Create(ctx context.Context, call *domain.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *MockCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) MarkConnected(ctx context.Context, callID uuid.UUID, startedAt time.Time, calleeMedia domain.MediaState) (bool, error) {
	args := m.Called(ctx, callID, startedAt, calleeMedia)
	return args.Bool(0), args.Error(1)
}

func (m *MockCallRepository) MarkTerminal(ctx context.Context, callID uuid.UUID, from []domain.CallStatus, to domain.CallStatus, reason domain.EndReason, endedAt time.Time, durationSeconds *int) (bool, error) {
	args := m.Called(ctx, callID, from, to, reason, endedAt, durationSeconds)
	return args.Bool(0), args.Error(1)
}

func (m *MockCallRepository) SetMediaState(ctx context.Context, callID uuid.UUID, role domain.CallRole, media domain.MediaState) error {
	args := m.Called(ctx, callID, role, media)
	return args.Error(0)
}

func (m *MockCallRepository) ActiveCallAsCaller(ctx context.Context, callerID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) ActiveCallBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) ActiveCallForUser(ctx context.Context, userID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) ActiveCallsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Call), args.Error(1)
}

func (m *MockCallRepository) CountStartedSince(ctx context.Context, callerID uuid.UUID, since time.Time) (int, error) {
	args := m.Called(ctx, callerID, since)
	return args.Int(0), args.Error(1)
}

func (m *MockCallRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Call), args.Error(1)
}

func (m *MockCallRepository) ListExpiredRinging(ctx context.Context, now time.Time, limit int) ([]*domain.Call, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Call), args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type MockConversationResolver struct {
	mock.Mock
}

func (m *MockConversationResolver) GetOrCreateDirect(ctx context.Context, a, b uuid.UUID) (*domain.DirectConversation, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DirectConversation), args.Error(1)
}

func (m *MockConversationResolver) AppendSystemMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string, metadata map[string]interface{}) error {
	args := m.Called(ctx, conversationID, senderID, content, metadata)
	return args.Error(0)
}

type MockCallCache struct {
	mock.Mock
}

func (m *MockCallCache) Set(ctx context.Context, callID uuid.UUID, entry *domain.CallCacheEntry) error {
	args := m.Called(ctx, callID, entry)
	return args.Error(0)
}

func (m *MockCallCache) Get(ctx context.Context, callID uuid.UUID) (*domain.CallCacheEntry, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallCacheEntry), args.Error(1)
}

func (m *MockCallCache) Delete(ctx context.Context, callID uuid.UUID) error {
	args := m.Called(ctx, callID)
	return args.Error(0)
}

type MockPushSender struct {
	mock.Mock
}

func (m *MockPushSender) SendIncomingCall(ctx context.Context, calleeID, callID uuid.UUID, callerName, callType string) error {
	args := m.Called(ctx, calleeID, callID, callerName, callType)
	return args.Error(0)
}

func (m *MockPushSender) SendMissedCall(ctx context.Context, calleeID, callID uuid.UUID, callerName string) error {
	args := m.Called(ctx, calleeID, callID, callerName)
	return args.Error(0)
}

// recordingNotifier captures server events per user.
type recordingNotifier struct {
	mu     sync.Mutex
	events map[uuid.UUID][]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(map[uuid.UUID][]string)}
}

func (n *recordingNotifier) NotifyUser(userID uuid.UUID, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[userID] = append(n.events[userID], event)
}

func (n *recordingNotifier) eventsFor(userID uuid.UUID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events[userID]...)
}

type stubPresence struct {
	online bool
}

func (p *stubPresence) HasConnections(userID uuid.UUID) bool {
	return p.online
}

// Fixture

type fixture struct {
	callRepo      *MockCallRepository
	userRepo      *MockUserRepository
	conversations *MockConversationResolver
	cache         *MockCallCache
	notifier      *recordingNotifier
	presence      *stubPresence
	push          *MockPushSender
	service       *Service
}

func newFixture() *fixture {
	f := &fixture{
		callRepo:      new(MockCallRepository),
		userRepo:      new(MockUserRepository),
		conversations: new(MockConversationResolver),
		cache:         new(MockCallCache),
		notifier:      newRecordingNotifier(),
		presence:      &stubPresence{online: true},
		push:          new(MockPushSender),
	}
	f.service = NewService(
		f.callRepo, f.userRepo, f.conversations, f.cache,
		f.notifier, f.presence, f.push,
		Config{
			RingTimeout:       30 * time.Second,
			MaxCallsPerWindow: 3,
			RateWindow:        5 * time.Minute,
		},
	)
	return f
}

func testUser(id uuid.UUID, name string) *domain.User {
	return &domain.User{
		UserID:      id,
		Username:    name,
		DisplayName: name,
		Status:      "active",
		CreatedAt:   time.Now(),
	}
}

func ringingCall(callerID, calleeID uuid.UUID) *domain.Call {
	ringsUntil := time.Now().Add(30 * time.Second)
	return &domain.Call{
		CallID:         uuid.New(),
		ConversationID: uuid.New(),
		CallerID:       callerID,
		CalleeID:       calleeID,
		CallType:       domain.CallTypeVideo,
		Status:         domain.CallStatusRinging,
		CreatedAt:      time.Now(),
		RingsUntil:     &ringsUntil,
	}
}

func (f *fixture) allowPolicyPass(callerID uuid.UUID) {
	f.callRepo.On("ActiveCallAsCaller", mock.Anything, callerID).Return(nil, cockroach.ErrNotFound)
	f.callRepo.On("ActiveCallBetween", mock.Anything, callerID, mock.Anything).Return(nil, cockroach.ErrNotFound)
	f.callRepo.On("CountStartedSince", mock.Anything, callerID, mock.Anything).Return(0, nil)
}

// StartCall

func TestStartCall_Success(t *testing.T) {
	f := newFixture()
	callerID := uuid.New()
	targetID := uuid.New()
	conv := &domain.DirectConversation{ConversationID: uuid.New()}

	f.userRepo.On("GetByID", mock.Anything, callerID).Return(testUser(callerID, "alice"), nil)
	f.userRepo.On("Exists", mock.Anything, targetID).Return(true, nil)
	f.allowPolicyPass(callerID)
	f.conversations.On("GetOrCreateDirect", mock.Anything, callerID, targetID).Return(conv, nil)
	f.callRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	call, err := f.service.StartCall(context.Background(), callerID, targetID, true, true)
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusRinging, call.Status)
	assert.Equal(t, domain.CallTypeVideo, call.CallType)
	assert.Equal(t, conv.ConversationID, call.ConversationID)
	assert.Equal(t, callerID, call.CallerID)
	assert.Equal(t, targetID, call.CalleeID)
	require.NotNil(t, call.RingsUntil)
	assert.InDelta(t, 30, time.Until(*call.RingsUntil).Seconds(), 2)
	assert.True(t, call.CallerMedia.AudioEnabled)
	assert.True(t, call.CallerMedia.VideoEnabled)

	assert.Equal(t, []string{EventCallStarted}, f.notifier.eventsFor(callerID))
	assert.Equal(t, []string{EventIncomingCall}, f.notifier.eventsFor(targetID))
	f.push.AssertNotCalled(t, "SendIncomingCall", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	f.service.timers.Cancel(call.CallID)
}

func TestStartCall_SelfCall(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	_, err := f.service.StartCall(context.Background(), userID, userID, false, true)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetAppError(err).Code)
}

func TestStartCall_TargetNotFound(t *testing.T) {
	f := newFixture()
	callerID := uuid.New()
	targetID := uuid.New()

	f.userRepo.On("GetByID", mock.Anything, callerID).Return(testUser(callerID, "alice"), nil)
	f.userRepo.On("Exists", mock.Anything, targetID).Return(false, nil)

	_, err := f.service.StartCall(context.Background(), callerID, targetID, false, true)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUserNotFound, apperrors.GetAppError(err).Code)
}

func TestStartCall_PushesWhenCalleeOffline(t *testing.T) {
	f := newFixture()
	f.presence.online = false
	callerID := uuid.New()
	targetID := uuid.New()
	conv := &domain.DirectConversation{ConversationID: uuid.New()}

	f.userRepo.On("GetByID", mock.Anything, callerID).Return(testUser(callerID, "alice"), nil)
	f.userRepo.On("Exists", mock.Anything, targetID).Return(true, nil)
	f.allowPolicyPass(callerID)
	f.conversations.On("GetOrCreateDirect", mock.Anything, callerID, targetID).Return(conv, nil)
	f.callRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.push.On("SendIncomingCall", mock.Anything, targetID, mock.Anything, "alice", domain.CallTypeAudio).Return(nil)

	call, err := f.service.StartCall(context.Background(), callerID, targetID, false, true)
	require.NoError(t, err)

	f.push.AssertExpectations(t)
	f.service.timers.Cancel(call.CallID)
}

// AcceptCall

func TestAcceptCall_Success(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)
	f.callRepo.On("MarkConnected", mock.Anything, call.CallID, mock.Anything, mock.Anything).Return(true, nil)
	f.cache.On("Set", mock.Anything, call.CallID, mock.Anything).Return(nil)

	got, err := f.service.AcceptCall(context.Background(), call.CalleeID, call.CallID, true, true)
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusConnected, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.RingsUntil)
	assert.True(t, got.CalleeMedia.AudioEnabled)
	assert.True(t, got.CalleeMedia.VideoEnabled)

	assert.Equal(t, []string{EventCallAccepted}, f.notifier.eventsFor(call.CallerID))
	assert.Equal(t, []string{EventCallAccepted}, f.notifier.eventsFor(call.CalleeID))
}

func TestAcceptCall_NotCallee(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)

	// The caller cannot accept their own call
	_, err := f.service.AcceptCall(context.Background(), call.CallerID, call.CallID, false, true)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotCallee, apperrors.GetAppError(err).Code)
}

func TestAcceptCall_NotRinging(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())
	call.Status = domain.CallStatusConnected

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)

	_, err := f.service.AcceptCall(context.Background(), call.CalleeID, call.CallID, false, true)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidCallState, apperrors.GetAppError(err).Code)
}

func TestAcceptCall_LostRace(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)
	f.callRepo.On("MarkConnected", mock.Anything, call.CallID, mock.Anything, mock.Anything).Return(false, nil)

	_, err := f.service.AcceptCall(context.Background(), call.CalleeID, call.CallID, false, true)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidCallState, apperrors.GetAppError(err).Code)
}

func TestAcceptCall_NotFound(t *testing.T) {
	f := newFixture()
	callID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(nil, cockroach.ErrNotFound)

	_, err := f.service.AcceptCall(context.Background(), uuid.New(), callID, false, true)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeCallNotFound, apperrors.GetAppError(err).Code)
}

// DeclineCall

func TestDeclineCall_Success(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, call.CallID,
		[]domain.CallStatus{domain.CallStatusRinging},
		domain.CallStatusDeclined, domain.EndReasonUserDeclined, mock.Anything, (*int)(nil)).Return(true, nil)
	f.cache.On("Delete", mock.Anything, call.CallID).Return(nil)
	f.conversations.On("AppendSystemMessage", mock.Anything, call.ConversationID, call.CallerID, "Call declined", mock.Anything).Return(nil)

	got, err := f.service.DeclineCall(context.Background(), call.CalleeID, call.CallID)
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusDeclined, got.Status)
	require.NotNil(t, got.EndReason)
	assert.Equal(t, domain.EndReasonUserDeclined, *got.EndReason)
	require.NotNil(t, got.EndedAt)
	assert.Nil(t, got.DurationSeconds)

	f.conversations.AssertExpectations(t)
	assert.Equal(t, []string{EventCallDeclined}, f.notifier.eventsFor(call.CallerID))
}

func TestDeclineCall_NotCallee(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)

	_, err := f.service.DeclineCall(context.Background(), call.CallerID, call.CallID)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotCallee, apperrors.GetAppError(err).Code)
}

// EndCall

func TestEndCall_Connected(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())
	startedAt := time.Now().Add(-65 * time.Second)
	call.Status = domain.CallStatusConnected
	call.StartedAt = &startedAt
	call.RingsUntil = nil
	call.CallType = domain.CallTypeAudio

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, call.CallID, mock.Anything,
		domain.CallStatusEnded, domain.EndReasonUserHangup, mock.Anything, mock.Anything).Return(true, nil)
	f.cache.On("Delete", mock.Anything, call.CallID).Return(nil)
	f.conversations.On("AppendSystemMessage", mock.Anything, call.ConversationID, call.CallerID, "Audio call • 1:05", mock.Anything).Return(nil)

	got, err := f.service.EndCall(context.Background(), call.CallerID, call.CallID, domain.EndReasonUserHangup)
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusEnded, got.Status)
	require.NotNil(t, got.DurationSeconds)
	assert.InDelta(t, 65, *got.DurationSeconds, 1)

	f.conversations.AssertExpectations(t)
	assert.Equal(t, []string{EventCallEnded}, f.notifier.eventsFor(call.CalleeID))
}

func TestEndCall_CallerAbandonsRinging(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, call.CallID, mock.Anything,
		domain.CallStatusMissed, domain.EndReasonUserHangup, mock.Anything, (*int)(nil)).Return(true, nil)
	f.cache.On("Delete", mock.Anything, call.CallID).Return(nil)
	f.conversations.On("AppendSystemMessage", mock.Anything, call.ConversationID, call.CallerID, "Missed call", mock.Anything).Return(nil)
	f.userRepo.On("GetByID", mock.Anything, call.CallerID).Return(testUser(call.CallerID, "alice"), nil)
	f.push.On("SendMissedCall", mock.Anything, call.CalleeID, call.CallID, "alice").Return(nil)

	got, err := f.service.EndCall(context.Background(), call.CallerID, call.CallID, domain.EndReasonUserHangup)
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusMissed, got.Status)
	assert.Nil(t, got.DurationSeconds)
	f.push.AssertExpectations(t)
}

func TestEndCall_CalleeHangsUpRinging(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, call.CallID, mock.Anything,
		domain.CallStatusEnded, domain.EndReasonUserHangup, mock.Anything, (*int)(nil)).Return(true, nil)
	f.cache.On("Delete", mock.Anything, call.CallID).Return(nil)
	f.conversations.On("AppendSystemMessage", mock.Anything, call.ConversationID, call.CallerID, "Missed call", mock.Anything).Return(nil)

	got, err := f.service.EndCall(context.Background(), call.CalleeID, call.CallID, domain.EndReasonUserHangup)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, got.Status)
}

func TestEndCall_AlreadyEnded(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())
	call.Status = domain.CallStatusEnded

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)

	_, err := f.service.EndCall(context.Background(), call.CallerID, call.CallID, domain.EndReasonUserHangup)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeCallAlreadyEnded, apperrors.GetAppError(err).Code)
	f.callRepo.AssertNotCalled(t, "MarkTerminal", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEndCall_NotParty(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)

	_, err := f.service.EndCall(context.Background(), uuid.New(), call.CallID, domain.EndReasonUserHangup)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotParty, apperrors.GetAppError(err).Code)
}

func TestEndCall_InvalidReason(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)

	_, err := f.service.EndCall(context.Background(), call.CallerID, call.CallID, domain.EndReason("because"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetAppError(err).Code)
}

// ToggleMedia

func TestToggleMedia_CalleeMutesVideo(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())
	startedAt := time.Now()
	call.Status = domain.CallStatusConnected
	call.StartedAt = &startedAt
	call.CalleeMedia = domain.MediaState{AudioEnabled: true, VideoEnabled: true}

	expected := domain.MediaState{AudioEnabled: true, VideoEnabled: true, VideoMuted: true}

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)
	f.callRepo.On("SetMediaState", mock.Anything, call.CallID, domain.RoleCallee, expected).Return(nil)

	got, err := f.service.ToggleMedia(context.Background(), call.CalleeID, call.CallID, domain.MediaTypeVideo, true)
	require.NoError(t, err)

	assert.True(t, got.CalleeMedia.VideoMuted)
	assert.False(t, got.CallerMedia.VideoMuted)
	assert.Equal(t, []string{EventMediaToggled}, f.notifier.eventsFor(call.CallerID))
	f.callRepo.AssertExpectations(t)
}

func TestToggleMedia_NotParty(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)

	_, err := f.service.ToggleMedia(context.Background(), uuid.New(), call.CallID, domain.MediaTypeAudio, true)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotParty, apperrors.GetAppError(err).Code)
}

// Timeout and sweep

func TestSweepExpired_TimesOutRingingCalls(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())
	now := time.Now()

	f.callRepo.On("ListExpiredRinging", mock.Anything, now, 100).Return([]*domain.Call{call}, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, call.CallID,
		[]domain.CallStatus{domain.CallStatusRinging},
		domain.CallStatusTimeout, domain.EndReasonTimeout, mock.Anything, (*int)(nil)).Return(true, nil)
	f.cache.On("Delete", mock.Anything, call.CallID).Return(nil)
	f.conversations.On("AppendSystemMessage", mock.Anything, call.ConversationID, call.CallerID, "Missed call", mock.Anything).Return(nil)
	f.userRepo.On("GetByID", mock.Anything, call.CallerID).Return(testUser(call.CallerID, "alice"), nil)
	f.push.On("SendMissedCall", mock.Anything, call.CalleeID, call.CallID, "alice").Return(nil)

	reclaimed, err := f.service.SweepExpired(context.Background(), now, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	assert.Equal(t, []string{EventCallTimeout}, f.notifier.eventsFor(call.CallerID))
	assert.Equal(t, []string{EventCallTimeout}, f.notifier.eventsFor(call.CalleeID))
}

func TestSweepExpired_SkipsProgressedCalls(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())
	now := time.Now()

	// Another instance accepted between the SELECT and the CAS
	f.callRepo.On("ListExpiredRinging", mock.Anything, now, 100).Return([]*domain.Call{call}, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, call.CallID, mock.Anything,
		domain.CallStatusTimeout, domain.EndReasonTimeout, mock.Anything, (*int)(nil)).Return(false, nil)

	reclaimed, err := f.service.SweepExpired(context.Background(), now, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
	assert.Empty(t, f.notifier.eventsFor(call.CallerID))
}

// HandleDisconnect

func TestHandleDisconnect_EndsActiveCalls(t *testing.T) {
	f := newFixture()
	call := ringingCall(uuid.New(), uuid.New())
	startedAt := time.Now().Add(-10 * time.Second)
	call.Status = domain.CallStatusConnected
	call.StartedAt = &startedAt

	f.callRepo.On("ActiveCallsForUser", mock.Anything, call.CalleeID).Return([]*domain.Call{call}, nil)
	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, call.CallID, mock.Anything,
		domain.CallStatusEnded, domain.EndReasonConnectionError, mock.Anything, mock.Anything).Return(true, nil)
	f.cache.On("Delete", mock.Anything, call.CallID).Return(nil)
	f.conversations.On("AppendSystemMessage", mock.Anything, call.ConversationID, call.CallerID, mock.Anything, mock.Anything).Return(nil)

	f.service.HandleDisconnect(context.Background(), call.CalleeID, nil)

	f.callRepo.AssertExpectations(t)
	assert.Equal(t, []string{EventCallEnded}, f.notifier.eventsFor(call.CallerID))
}

func TestHandleDisconnect_NoActiveCalls(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	f.callRepo.On("ActiveCallsForUser", mock.Anything, userID).Return([]*domain.Call{}, nil)

	f.service.HandleDisconnect(context.Background(), userID, nil)

	f.callRepo.AssertNotCalled(t, "MarkTerminal", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// Active gauge

func TestSweepExpired_LeavesGaugeForForeignCalls(t *testing.T) {
	f := newFixture()
	// Ringing call created before a restart: its increment never ran in
	// this process, so reclaiming it must not move the gauge
	call := ringingCall(uuid.New(), uuid.New())
	now := time.Now()

	f.callRepo.On("ListExpiredRinging", mock.Anything, now, 100).Return([]*domain.Call{call}, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, call.CallID,
		[]domain.CallStatus{domain.CallStatusRinging},
		domain.CallStatusTimeout, domain.EndReasonTimeout, mock.Anything, (*int)(nil)).Return(true, nil)
	f.cache.On("Delete", mock.Anything, call.CallID).Return(nil)
	f.conversations.On("AppendSystemMessage", mock.Anything, call.ConversationID, call.CallerID, "Missed call", mock.Anything).Return(nil)
	f.userRepo.On("GetByID", mock.Anything, call.CallerID).Return(testUser(call.CallerID, "alice"), nil)
	f.push.On("SendMissedCall", mock.Anything, call.CalleeID, call.CallID, "alice").Return(nil)

	before := testutil.ToFloat64(metrics.CallActive)

	reclaimed, err := f.service.SweepExpired(context.Background(), now, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)
	assert.Equal(t, before, testutil.ToFloat64(metrics.CallActive))
}

func TestCallGauge_StartThenEndBalances(t *testing.T) {
	f := newFixture()
	callerID := uuid.New()
	targetID := uuid.New()
	conv := &domain.DirectConversation{ConversationID: uuid.New()}

	f.userRepo.On("GetByID", mock.Anything, callerID).Return(testUser(callerID, "alice"), nil)
	f.userRepo.On("Exists", mock.Anything, targetID).Return(true, nil)
	f.allowPolicyPass(callerID)
	f.conversations.On("GetOrCreateDirect", mock.Anything, callerID, targetID).Return(conv, nil)
	f.callRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	before := testutil.ToFloat64(metrics.CallActive)

	call, err := f.service.StartCall(context.Background(), callerID, targetID, false, true)
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CallActive))

	f.callRepo.On("GetByID", mock.Anything, call.CallID).Return(call, nil)
	f.callRepo.On("MarkTerminal", mock.Anything, call.CallID, mock.Anything,
		domain.CallStatusMissed, domain.EndReasonUserHangup, mock.Anything, (*int)(nil)).Return(true, nil)
	f.cache.On("Delete", mock.Anything, call.CallID).Return(nil)
	f.conversations.On("AppendSystemMessage", mock.Anything, conv.ConversationID, callerID, "Missed call", mock.Anything).Return(nil)
	f.push.On("SendMissedCall", mock.Anything, targetID, call.CallID, "alice").Return(nil)

	_, err = f.service.EndCall(context.Background(), callerID, call.CallID, domain.EndReasonUserHangup)
	require.NoError(t, err)
	assert.Equal(t, before, testutil.ToFloat64(metrics.CallActive))

	f.service.timers.Cancel(call.CallID)
}

// Queries

func TestGetActiveCall_None(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	f.callRepo.On("ActiveCallForUser", mock.Anything, userID).Return(nil, cockroach.ErrNotFound)

	call, err := f.service.GetActiveCall(context.Background(), userID)
	require.NoError(t, err)
	assert.Nil(t, call)
}

func TestGetCallHistory_ClampsLimit(t *testing.T) {
	f := newFixture()
	userID := uuid.New()

	f.callRepo.On("ListByUser", mock.Anything, userID, 100, 0).Return([]*domain.Call{}, nil)

	_, err := f.service.GetCallHistory(context.Background(), userID, 500, -3)
	require.NoError(t, err)
	f.callRepo.AssertExpectations(t)
}
