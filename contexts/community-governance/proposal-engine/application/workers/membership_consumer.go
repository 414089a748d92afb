package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/community-governance/proposal-engine/application"
	"agora/contexts/community-governance/proposal-engine/domain/entities"
	"agora/contexts/community-governance/proposal-engine/ports"
)

const (
	memberJoinedTopic     = "community.member.joined"
	memberLeftTopic       = "community.member.left"
	communityUpdatedTopic = "community.updated"
	defaultMembershipCG   = "proposal-engine-membership-cg"
)

// MembershipConsumer keeps the local community/membership projections in
// sync with the membership service. Quorum reads the live member count, so
// these events feed directly into resolution behavior.
type MembershipConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Communities   ports.CommunityStore
	Capabilities  ports.CapabilityInvalidator
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Disabled      bool
	Logger        *slog.Logger
}

// Start subscribes the engine to the membership topics that affect quorum
// and capability checks.
func (c MembershipConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	if c.Disabled {
		logger.Info("membership consumer disabled by feature flag",
			"event", "governance_membership_consumer_disabled",
			"module", "community-governance/proposal-engine",
			"layer", "worker",
		)
		return nil
	}
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultMembershipCG
	}
	subscriptions := map[string]func(context.Context, ports.EventEnvelope) error{
		memberJoinedTopic:     c.handleMemberJoined,
		memberLeftTopic:       c.handleMemberLeft,
		communityUpdatedTopic: c.handleCommunityUpdated,
	}
	for topic, handler := range subscriptions {
		if err := c.Subscriber.Subscribe(ctx, topic, group, handler); err != nil {
			logger.Error("membership consumer subscribe failed",
				"event", "governance_membership_consumer_subscribe_failed",
				"module", "community-governance/proposal-engine",
				"layer", "worker",
				"topic", topic,
				"consumer_group", group,
				"error", err.Error(),
			)
			return err
		}
	}
	logger.Info("membership consumer subscriptions active",
		"event", "governance_membership_consumer_started",
		"module", "community-governance/proposal-engine",
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c MembershipConsumer) handleMemberJoined(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	if replayed, err := c.reserveEvent(ctx, event); err != nil {
		return err
	} else if replayed {
		return nil
	}
	var payload struct {
		CommunityID  string   `json:"community_id"`
		UserID       string   `json:"user_id"`
		Capabilities []string `json:"capabilities"`
		JoinedAt     string   `json:"joined_at"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("community.member.joined payload decode failed",
			"event", "governance_member_joined_decode_failed",
			"module", "community-governance/proposal-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	capabilities := payload.Capabilities
	if len(capabilities) == 0 {
		capabilities = []string{entities.CapabilityVote}
	}
	joinedAt := c.now()
	if parsed, err := time.Parse(time.RFC3339, payload.JoinedAt); err == nil {
		joinedAt = parsed.UTC()
	}
	if err := c.Communities.UpsertMember(ctx, ports.MemberProjection{
		CommunityID:  strings.TrimSpace(payload.CommunityID),
		UserID:       strings.TrimSpace(payload.UserID),
		Capabilities: capabilities,
		JoinedAt:     joinedAt,
	}); err != nil {
		return err
	}
	c.invalidateCapabilities(ctx, payload.CommunityID, payload.UserID)
	logger.Info("community.member.joined consumed",
		"event", "governance_member_joined_consumed",
		"module", "community-governance/proposal-engine",
		"layer", "worker",
		"event_id", event.EventID,
		"community_id", strings.TrimSpace(payload.CommunityID),
		"user_id", strings.TrimSpace(payload.UserID),
	)
	return nil
}

func (c MembershipConsumer) handleMemberLeft(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	if replayed, err := c.reserveEvent(ctx, event); err != nil {
		return err
	} else if replayed {
		return nil
	}
	var payload struct {
		CommunityID string `json:"community_id"`
		UserID      string `json:"user_id"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("community.member.left payload decode failed",
			"event", "governance_member_left_decode_failed",
			"module", "community-governance/proposal-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	removed, err := c.Communities.RemoveMember(ctx, strings.TrimSpace(payload.CommunityID), strings.TrimSpace(payload.UserID))
	if err != nil {
		return err
	}
	c.invalidateCapabilities(ctx, payload.CommunityID, payload.UserID)
	logger.Info("community.member.left consumed",
		"event", "governance_member_left_consumed",
		"module", "community-governance/proposal-engine",
		"layer", "worker",
		"event_id", event.EventID,
		"community_id", strings.TrimSpace(payload.CommunityID),
		"user_id", strings.TrimSpace(payload.UserID),
		"removed", removed,
	)
	return nil
}

func (c MembershipConsumer) handleCommunityUpdated(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	if replayed, err := c.reserveEvent(ctx, event); err != nil {
		return err
	} else if replayed {
		return nil
	}
	var payload struct {
		CommunityID     string `json:"community_id"`
		MemberCount     int64  `json:"member_count"`
		VotingPowerMode string `json:"voting_power_mode"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("community.updated payload decode failed",
			"event", "governance_community_updated_decode_failed",
			"module", "community-governance/proposal-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	mode := entities.VotingPowerMode(strings.TrimSpace(payload.VotingPowerMode))
	if !entities.ValidVotingPowerMode(mode) {
		mode = entities.VotingPowerEqual
	}
	if err := c.Communities.UpsertCommunity(ctx, ports.CommunityProjection{
		CommunityID:     strings.TrimSpace(payload.CommunityID),
		MemberCount:     payload.MemberCount,
		VotingPowerMode: mode,
	}); err != nil {
		return err
	}
	logger.Info("community.updated consumed",
		"event", "governance_community_updated_consumed",
		"module", "community-governance/proposal-engine",
		"layer", "worker",
		"event_id", event.EventID,
		"community_id", strings.TrimSpace(payload.CommunityID),
		"member_count", payload.MemberCount,
	)
	return nil
}

func (c MembershipConsumer) reserveEvent(ctx context.Context, event ports.EventEnvelope) (bool, error) {
	if c.Dedup == nil {
		return false, nil
	}
	ttl := c.DedupTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), c.now().Add(ttl))
}

func (c MembershipConsumer) invalidateCapabilities(ctx context.Context, communityID string, userID string) {
	if c.Capabilities == nil {
		return
	}
	if err := c.Capabilities.InvalidateCapabilities(ctx, strings.TrimSpace(communityID), strings.TrimSpace(userID)); err != nil {
		application.ResolveLogger(c.Logger).Warn("capability cache invalidation failed",
			"event", "governance_capability_invalidate_failed",
			"module", "community-governance/proposal-engine",
			"layer", "worker",
			"community_id", strings.TrimSpace(communityID),
			"user_id", strings.TrimSpace(userID),
			"error", err.Error(),
		)
	}
}

func (c MembershipConsumer) now() time.Time {
	if c.Clock != nil {
		return c.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
