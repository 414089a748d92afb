package redisadapter

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"agora/contexts/community-governance/proposal-engine/ports"

	"github.com/redis/go-redis/v9"
)

// BalanceSource reads token and NFT holdings from the balance projection the
// treasury service maintains in Redis. A missing key means the member holds
// nothing, which resolves to weight zero for the weighted modes.
type BalanceSource struct {
	client *redis.Client
}

func NewBalanceSource(client *redis.Client) *BalanceSource {
	return &BalanceSource{client: client}
}

func (s *BalanceSource) TokenBalance(ctx context.Context, communityID string, userID string) (int64, error) {
	return s.readCounter(ctx, balanceSourceKey("token", communityID, userID))
}

func (s *BalanceSource) NFTCount(ctx context.Context, communityID string, userID string) (int64, error) {
	return s.readCounter(ctx, balanceSourceKey("nft", communityID, userID))
}

func (s *BalanceSource) readCounter(ctx context.Context, key string) (int64, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func balanceSourceKey(kind string, communityID string, userID string) string {
	return "agora:balance:" + kind + ":" +
		strings.TrimSpace(communityID) + ":" +
		strings.TrimSpace(userID)
}

var _ ports.BalanceSource = (*BalanceSource)(nil)
