package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"peercall-backend/internal/database"
	"peercall-backend/pkg/constants"
	"peercall-backend/pkg/logger"
	"peercall-backend/pkg/push"
)

// PushTokenRepository stores push notification tokens in Redis.
// One hash per user: field = token value, value = serialized push.Token.
type PushTokenRepository struct {
	client *database.RedisClient
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *database.RedisClient) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func userTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("push:user:%s:tokens", userID)
}

// Store stores a push notification token for a user
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	key := userTokensKey(token.UserID)
	if err := r.client.SafeHSet(ctx, key, token.Token, data).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	// Tokens for idle users age out
	if err := r.client.SafeExpire(ctx, key, constants.PushTokenExpiry).Err(); err != nil {
		logger.Warn("Failed to set expiration on user tokens",
			zap.String("user_id", token.UserID.String()),
			zap.Error(err))
	}

	logger.Debug("Push token stored",
		zap.String("user_id", token.UserID.String()),
		zap.String("token_type", string(token.Type)))

	return nil
}

// GetByUserID retrieves all tokens for a user
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	values, err := r.client.SafeHVals(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}

	tokens := make([]*push.Token, 0, len(values))
	for _, raw := range values {
		var token push.Token
		if err := json.Unmarshal([]byte(raw), &token); err != nil {
			logger.Warn("Corrupt push token entry, skipping",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		tokens = append(tokens, &token)
	}

	return tokens, nil
}

// Remove deletes a single token for a user
func (r *PushTokenRepository) Remove(ctx context.Context, userID uuid.UUID, token string) error {
	if err := r.client.SafeHDel(ctx, userTokensKey(userID), token).Err(); err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}

	logger.Debug("Push token removed",
		zap.String("user_id", userID.String()))

	return nil
}

// DeleteByUserID removes all tokens for a user
func (r *PushTokenRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeDel(ctx, userTokensKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete user tokens: %w", err)
	}

	logger.Debug("All push tokens deleted for user",
		zap.String("user_id", userID.String()))

	return nil
}
