package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"peercall-backend/internal/database"
	"peercall-backend/internal/domain"
	"peercall-backend/pkg/constants"
	"peercall-backend/pkg/logger"
	"peercall-backend/pkg/metrics"
)

// CallCacheRepository mirrors in-flight call state in Redis so the signaling
// path can resolve counterparts without a store round trip. Best-effort:
// every error degrades to a cache miss and the durable store wins.
type CallCacheRepository struct {
	client *database.RedisClient
}

// NewCallCacheRepository creates a new call cache repository
func NewCallCacheRepository(client *database.RedisClient) *CallCacheRepository {
	return &CallCacheRepository{client: client}
}

func callKey(callID uuid.UUID) string {
	return fmt.Sprintf("call:%s", callID)
}

// Set writes or refreshes the cache entry for a call. TTL bounds staleness
// when a delete is lost.
func (r *CallCacheRepository) Set(ctx context.Context, callID uuid.UUID, entry *domain.CallCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal call cache entry: %w", err)
	}

	if err := r.client.SafeSet(ctx, callKey(callID), data, constants.CallCacheTTL).Err(); err != nil {
		logger.Warn("Failed to write call cache entry",
			zap.String("call_id", callID.String()),
			zap.Error(err))
		return nil // Cache is best-effort
	}

	return nil
}

// Get returns the cached entry, or (nil, nil) on miss or cache failure
func (r *CallCacheRepository) Get(ctx context.Context, callID uuid.UUID) (*domain.CallCacheEntry, error) {
	data, err := r.client.SafeGet(ctx, callKey(callID)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			metrics.CallCacheHitTotal.WithLabelValues("miss").Inc()
		} else {
			metrics.CallCacheHitTotal.WithLabelValues("error").Inc()
		}
		return nil, nil
	}

	var entry domain.CallCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		logger.Warn("Corrupt call cache entry, treating as miss",
			zap.String("call_id", callID.String()),
			zap.Error(err))
		metrics.CallCacheHitTotal.WithLabelValues("error").Inc()
		return nil, nil
	}

	metrics.CallCacheHitTotal.WithLabelValues("hit").Inc()
	return &entry, nil
}

// Delete removes the cache entry on terminal transitions
func (r *CallCacheRepository) Delete(ctx context.Context, callID uuid.UUID) error {
	if err := r.client.SafeDel(ctx, callKey(callID)).Err(); err != nil {
		logger.Warn("Failed to delete call cache entry",
			zap.String("call_id", callID.String()),
			zap.Error(err))
	}
	return nil
}
