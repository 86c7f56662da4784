package push

import (
	"context"
	"fmt"
	"time"

	"peercall-backend/pkg/logger"
	"peercall-backend/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal, low
	Sound    string            `json:"sound,omitempty"`
	Badge    *int              `json:"badge,omitempty"`
	Category string            `json:"category,omitempty"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"  // Firebase Cloud Messaging
	TokenTypeAPNs TokenType = "apns" // Apple Push Notification Service
)

// Token represents a push notification token for a user
type Token struct {
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	Platform  string    `json:"platform,omitempty"` // ios, android
	CreatedAt int64     `json:"created_at"`
}

// TokenRepository defines interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	Remove(ctx context.Context, userID uuid.UUID, token string) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}

// Service handles push notification operations for calls.
// Calls are strictly 1:1 so every send targets a single callee.
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// RegisterToken registers a push notification token for a user
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	if token.CreatedAt == 0 {
		token.CreatedAt = time.Now().Unix()
	}
	return s.repo.Store(ctx, token)
}

// UnregisterToken removes a single push notification token
func (s *Service) UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error {
	return s.repo.Remove(ctx, userID, token)
}

// UnregisterAllTokens removes all tokens for a user
func (s *Service) UnregisterAllTokens(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeleteByUserID(ctx, userID)
}

// SendIncomingCall notifies the callee about a ringing call. Used when the
// callee has no live WebSocket connection so the ring event cannot reach them.
func (s *Service) SendIncomingCall(ctx context.Context, calleeID uuid.UUID, callID uuid.UUID, callerName, callType string) error {
	notification := &Notification{
		Title:    "Incoming Call",
		Body:     fmt.Sprintf("%s is calling you", callerName),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data: map[string]string{
			"type":        "incoming_call",
			"call_id":     callID.String(),
			"caller_name": callerName,
			"call_type":   callType,
			"timestamp":   fmt.Sprintf("%d", time.Now().Unix()),
		},
	}

	return s.sendToUser(ctx, "incoming_call", calleeID, callID, notification)
}

// SendMissedCall notifies the callee that a call rang out or was abandoned
func (s *Service) SendMissedCall(ctx context.Context, calleeID uuid.UUID, callID uuid.UUID, callerName string) error {
	notification := &Notification{
		Title:    "Missed Call",
		Body:     fmt.Sprintf("You missed a call from %s", callerName),
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":        "missed_call",
			"call_id":     callID.String(),
			"caller_name": callerName,
		},
	}

	return s.sendToUser(ctx, "missed_call", calleeID, callID, notification)
}

func (s *Service) sendToUser(ctx context.Context, kind string, userID uuid.UUID, callID uuid.UUID, notification *Notification) error {
	tokens, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		logger.Warn("Failed to get push tokens for user",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		metrics.CallPushSentTotal.WithLabelValues(kind, "token_lookup_failed").Inc()
		return nil // Push is best-effort
	}

	tokenStrings := make([]string, 0, len(tokens))
	for _, t := range tokens {
		tokenStrings = append(tokenStrings, t.Token)
	}

	if len(tokenStrings) == 0 {
		logger.Debug("No push tokens registered for user",
			zap.String("user_id", userID.String()))
		return nil
	}

	result, err := s.provider.Send(ctx, notification, tokenStrings)
	if err != nil {
		logger.Error("Failed to send push notification",
			zap.String("kind", kind),
			zap.String("call_id", callID.String()),
			zap.Int("token_count", len(tokenStrings)),
			zap.Error(err))
		metrics.CallPushSentTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("failed to send %s notification: %w", kind, err)
	}

	logger.Info("Push notification sent",
		zap.String("kind", kind),
		zap.String("call_id", callID.String()),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("invalid_tokens", len(result.InvalidTokens)))
	metrics.CallPushSentTotal.WithLabelValues(kind, "sent").Inc()

	// Prune tokens the provider reported as dead
	for _, invalid := range result.InvalidTokens {
		if err := s.repo.Remove(ctx, userID, invalid); err != nil {
			logger.Warn("Failed to remove invalid push token",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}

	return nil
}

// MockProvider is a mock implementation for development/testing
type MockProvider struct {
	NotificationsSent int
}

// Send implements Provider interface
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.NotificationsSent++

	logger.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
		zap.Int("token_count", len(tokens)))

	return &SendResult{
		SuccessCount: len(tokens),
	}, nil
}
