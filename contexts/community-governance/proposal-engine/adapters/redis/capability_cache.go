package redisadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/community-governance/proposal-engine/domain/entities"
	"agora/contexts/community-governance/proposal-engine/ports"

	"github.com/redis/go-redis/v9"
)

const defaultCapabilityTTL = 5 * time.Minute

// CapabilityCache fronts a CapabilityChecker with a Redis lookaside cache.
// Cache failures degrade to the inner checker. The membership consumer calls
// InvalidateCapabilities when a member joins or leaves so stale grants never
// outlive the projection update by more than one round trip.
type CapabilityCache struct {
	client *redis.Client
	inner  ports.CapabilityChecker
	ttl    time.Duration
	logger *slog.Logger
}

func NewCapabilityCache(
	client *redis.Client,
	inner ports.CapabilityChecker,
	ttl time.Duration,
	logger *slog.Logger,
) *CapabilityCache {
	if ttl <= 0 {
		ttl = defaultCapabilityTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CapabilityCache{
		client: client,
		inner:  inner,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CapabilityCache) HasCapability(
	ctx context.Context,
	communityID string,
	userID string,
	capability string,
) (bool, error) {
	key := capabilityKey(communityID, userID, capability)

	cached, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return cached == "1", nil
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("capability cache read failed",
			"event", "capability_cache_get_failed",
			"module", "community-governance/proposal-engine",
			"layer", "adapter",
			"error", err.Error(),
			"cache_key", key,
		)
	}

	allowed, err := c.inner.HasCapability(ctx, communityID, userID, capability)
	if err != nil {
		return false, err
	}

	value := "0"
	if allowed {
		value = "1"
	}
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("capability cache write failed",
			"event", "capability_cache_set_failed",
			"module", "community-governance/proposal-engine",
			"layer", "adapter",
			"error", err.Error(),
			"cache_key", key,
		)
	}
	return allowed, nil
}

func (c *CapabilityCache) InvalidateCapabilities(ctx context.Context, communityID string, userID string) error {
	keys := make([]string, 0, len(entities.KnownCapabilities))
	for _, capability := range entities.KnownCapabilities {
		keys = append(keys, capabilityKey(communityID, userID, capability))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("capability cache invalidation failed",
			"event", "capability_cache_invalidate_failed",
			"module", "community-governance/proposal-engine",
			"layer", "adapter",
			"error", err.Error(),
			"community_id", strings.TrimSpace(communityID),
			"user_id", strings.TrimSpace(userID),
		)
		return err
	}
	return nil
}

func capabilityKey(communityID string, userID string, capability string) string {
	return "agora:capability:" +
		strings.TrimSpace(communityID) + ":" +
		strings.TrimSpace(userID) + ":" +
		strings.TrimSpace(capability)
}

var _ ports.CapabilityChecker = (*CapabilityCache)(nil)
var _ ports.CapabilityInvalidator = (*CapabilityCache)(nil)
