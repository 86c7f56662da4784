package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"peercall-backend/internal/domain"
)

const uniqueViolationCode = "23505"

// ConversationRepository handles direct conversation data operations.
// Pairs are stored in canonical order (user_a < user_b) with a unique
// constraint, so (A,B) and (B,A) always resolve to one row.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Create inserts a new direct conversation. The pair must already be in
// canonical order. Returns ErrDuplicate when another writer won the race.
func (r *ConversationRepository) Create(ctx context.Context, conv *domain.DirectConversation) error {
	query := `
		INSERT INTO conversations_direct (conversation_id, user_a, user_b, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query,
		conv.ConversationID,
		conv.UserA,
		conv.UserB,
		conv.CreatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	return nil
}

// GetByPair retrieves the conversation for a canonical pair, or ErrNotFound
func (r *ConversationRepository) GetByPair(ctx context.Context, userA, userB uuid.UUID) (*domain.DirectConversation, error) {
	query := `
		SELECT conversation_id, user_a, user_b, created_at
		FROM conversations_direct
		WHERE user_a = $1 AND user_b = $2
	`

	conv := &domain.DirectConversation{}
	err := r.pool.QueryRow(ctx, query, userA, userB).Scan(
		&conv.ConversationID,
		&conv.UserA,
		&conv.UserB,
		&conv.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conv, nil
}

// GetByID retrieves a conversation by its id, or ErrNotFound
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.DirectConversation, error) {
	query := `
		SELECT conversation_id, user_a, user_b, created_at
		FROM conversations_direct
		WHERE conversation_id = $1
	`

	conv := &domain.DirectConversation{}
	err := r.pool.QueryRow(ctx, query, conversationID).Scan(
		&conv.ConversationID,
		&conv.UserA,
		&conv.UserB,
		&conv.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conv, nil
}
