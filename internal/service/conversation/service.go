package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"peercall-backend/internal/domain"
	"peercall-backend/internal/repository/cockroach"
	apperrors "peercall-backend/pkg/errors"
	"peercall-backend/pkg/logger"
)

// ConversationRepository is the durable store for direct conversations.
type ConversationRepository interface {
	Create(ctx context.Context, conv *domain.DirectConversation) error
	GetByPair(ctx context.Context, userA, userB uuid.UUID) (*domain.DirectConversation, error)
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.DirectConversation, error)
}

// MessageStore appends to the conversation message log.
type MessageStore interface {
	Save(message *domain.Message) error
}

// Service resolves user pairs to direct conversations and records
// call outcomes into the message log.
type Service struct {
	convRepo ConversationRepository
	messages MessageStore
}

// NewService creates a new conversation service. messages may be nil when
// no message store is configured; outcome records are then skipped.
func NewService(convRepo ConversationRepository, messages MessageStore) *Service {
	return &Service{
		convRepo: convRepo,
		messages: messages,
	}
}

// GetOrCreateDirect returns the direct conversation for a user pair,
// creating it lazily. (A,B) and (B,A) resolve to the same record; a
// concurrent create race is settled by the unique constraint and a re-read.
func (s *Service) GetOrCreateDirect(ctx context.Context, a, b uuid.UUID) (*domain.DirectConversation, error) {
	if a == b {
		return nil, apperrors.InvalidInputError("A direct conversation needs two distinct users")
	}

	userA, userB := domain.OrderPair(a, b)

	conv, err := s.convRepo.GetByPair(ctx, userA, userB)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, cockroach.ErrNotFound) {
		return nil, apperrors.DatabaseError(err)
	}

	conv = &domain.DirectConversation{
		ConversationID: uuid.New(),
		UserA:          userA,
		UserB:          userB,
		CreatedAt:      time.Now(),
	}

	err = s.convRepo.Create(ctx, conv)
	if err == nil {
		logger.Info("Direct conversation created",
			zap.String("conversation_id", conv.ConversationID.String()))
		return conv, nil
	}

	if errors.Is(err, cockroach.ErrDuplicate) {
		// Another writer won the race; their row is the conversation
		winner, readErr := s.convRepo.GetByPair(ctx, userA, userB)
		if readErr != nil {
			return nil, apperrors.DatabaseError(readErr)
		}
		return winner, nil
	}

	return nil, apperrors.DatabaseError(err)
}

// AppendSystemMessage writes a system message into the conversation log.
func (s *Service) AppendSystemMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string, metadata map[string]interface{}) error {
	if s.messages == nil {
		return nil
	}

	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MessageType:    domain.MessageTypeSystem,
		Metadata:       metadata,
		CreatedAt:      time.Now(),
	}

	if err := s.messages.Save(message); err != nil {
		return fmt.Errorf("failed to append system message: %w", err)
	}

	return nil
}

// GetByID loads a conversation by id.
func (s *Service) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.DirectConversation, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, apperrors.NotFoundError("Conversation")
		}
		return nil, apperrors.DatabaseError(err)
	}
	return conv, nil
}
