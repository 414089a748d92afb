package unit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	workerapp "agora/contexts/community-governance/proposal-engine/application/workers"
	"agora/contexts/community-governance/proposal-engine/domain/entities"
	"agora/contexts/community-governance/proposal-engine/ports"
	httptransport "agora/contexts/community-governance/proposal-engine/transport/http"
	"agora/internal/platform/messaging"
)

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	events []ports.EventEnvelope
}

func (p *capturePublisher) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) snapshot() ([]string, []ports.EventEnvelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...), append([]ports.EventEnvelope(nil), p.events...)
}

func TestOutboxRelayPublishesPendingRowsOnce(t *testing.T) {
	module := seededGovernanceModule(10, entities.VotingPowerEqual)
	store := module.Store

	created, err := module.Handler.CreateProposalHandler(context.Background(), "author-1", "idem-1",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			Title:               "Relay publishes this proposal",
			VotingDurationHours: 24,
		})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	if _, err := module.Handler.CastVoteHandler(context.Background(), created.ProposalID, "voter-1",
		httptransport.CastVoteRequest{Choice: "yes"}); err != nil {
		t.Fatalf("cast vote failed: %v", err)
	}

	publisher := &capturePublisher{}
	relay := workerapp.OutboxRelay{Outbox: store, Publisher: publisher, BatchSize: 10}
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay run failed: %v", err)
	}

	topics, events := publisher.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(events))
	}
	seen := map[string]bool{}
	for i, event := range events {
		seen[event.EventType] = true
		if topics[i] != event.EventType {
			t.Fatalf("expected topic %s to match event type, got %s", event.EventType, topics[i])
		}
		if event.PartitionKey != created.ProposalID {
			t.Fatalf("expected partition key %s, got %s", created.ProposalID, event.PartitionKey)
		}
	}
	if !seen["proposal.created"] || !seen["proposal.vote.cast"] {
		t.Fatalf("expected proposal.created and proposal.vote.cast, got %v", seen)
	}

	// A second cycle finds nothing pending.
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("second relay run failed: %v", err)
	}
	if _, events := publisher.snapshot(); len(events) != 2 {
		t.Fatalf("expected published rows to stay marked, got %d events", len(events))
	}
}

func TestMembershipConsumerMaintainsProjections(t *testing.T) {
	module := seededGovernanceModule(10, entities.VotingPowerEqual)
	store := module.Store

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := messaging.NewInProcessBus(nil)
	consumer := workerapp.MembershipConsumer{
		Subscriber:  bus,
		Dedup:       store,
		Communities: store,
	}
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("consumer start failed: %v", err)
	}

	joined := membershipEnvelope(t, "evt-join-1", "community.member.joined", map[string]any{
		"community_id": "community-1",
		"user_id":      "user-9",
	})
	if err := bus.Publish(ctx, "community.member.joined", joined); err != nil {
		t.Fatalf("publish joined failed: %v", err)
	}
	waitFor(t, "member joined applied", func() bool {
		community, err := store.GetCommunity(ctx, "community-1")
		return err == nil && community.MemberCount == 11
	})
	if ok, err := store.HasCapability(ctx, "community-1", "user-9", entities.CapabilityVote); err != nil || !ok {
		t.Fatalf("expected joined member to receive the vote capability, ok=%v err=%v", ok, err)
	}

	// Replay of the same event id is deduplicated; the later leave event
	// fences the assertion because the bus preserves per-topic order only.
	if err := bus.Publish(ctx, "community.member.joined", joined); err != nil {
		t.Fatalf("publish replay failed: %v", err)
	}
	left := membershipEnvelope(t, "evt-left-1", "community.member.left", map[string]any{
		"community_id": "community-1",
		"user_id":      "user-9",
	})
	if err := bus.Publish(ctx, "community.member.left", left); err != nil {
		t.Fatalf("publish left failed: %v", err)
	}
	waitFor(t, "member left applied", func() bool {
		community, err := store.GetCommunity(ctx, "community-1")
		return err == nil && community.MemberCount == 10
	})
	if ok, _ := store.HasCapability(ctx, "community-1", "user-9", entities.CapabilityVote); ok {
		t.Fatalf("expected departed member to lose capabilities")
	}

	updated := membershipEnvelope(t, "evt-updated-1", "community.updated", map[string]any{
		"community_id":      "community-1",
		"member_count":      42,
		"voting_power_mode": string(entities.VotingPowerTokenWeighted),
	})
	if err := bus.Publish(ctx, "community.updated", updated); err != nil {
		t.Fatalf("publish updated failed: %v", err)
	}
	waitFor(t, "community updated applied", func() bool {
		community, err := store.GetCommunity(ctx, "community-1")
		return err == nil && community.MemberCount == 42 &&
			community.VotingPowerMode == entities.VotingPowerTokenWeighted
	})

	// Unknown modes fall back to equal weighting rather than poisoning quorum.
	badMode := membershipEnvelope(t, "evt-updated-2", "community.updated", map[string]any{
		"community_id":      "community-1",
		"member_count":      42,
		"voting_power_mode": "quadratic",
	})
	if err := bus.Publish(ctx, "community.updated", badMode); err != nil {
		t.Fatalf("publish bad mode failed: %v", err)
	}
	waitFor(t, "invalid mode fallback applied", func() bool {
		community, err := store.GetCommunity(ctx, "community-1")
		return err == nil && community.VotingPowerMode == entities.VotingPowerEqual
	})
}

func membershipEnvelope(t *testing.T, eventID string, eventType string, payload map[string]any) ports.EventEnvelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return ports.EventEnvelope{
		EventID:       eventID,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		SourceService: "membership-service",
		SchemaVersion: 1,
		PartitionKey:  "community-1",
		Data:          data,
	}
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
