package weights

import (
	"context"
	"testing"

	"agora/contexts/community-governance/proposal-engine/adapters/memory"
	"agora/contexts/community-governance/proposal-engine/domain/entities"
)

func TestResolveWeightEqualModeIsAlwaysOne(t *testing.T) {
	resolver := NewResolver(memory.NewStore(nil))

	weight, err := resolver.ResolveWeight(context.Background(), "community-1", "user-1", entities.VotingPowerEqual)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if weight != 1 {
		t.Fatalf("expected weight 1, got %d", weight)
	}
}

func TestResolveWeightTokenWeightedReadsBalance(t *testing.T) {
	store := memory.NewStore(nil)
	store.SetTokenBalance("community-1", "user-1", 250)
	resolver := NewResolver(store)

	weight, err := resolver.ResolveWeight(context.Background(), "community-1", "user-1", entities.VotingPowerTokenWeighted)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if weight != 250 {
		t.Fatalf("expected weight 250, got %d", weight)
	}

	// A member with no holdings still gets a vote of weight zero, not an error.
	weight, err = resolver.ResolveWeight(context.Background(), "community-1", "user-2", entities.VotingPowerTokenWeighted)
	if err != nil {
		t.Fatalf("resolve failed for empty balance: %v", err)
	}
	if weight != 0 {
		t.Fatalf("expected weight 0 for missing balance, got %d", weight)
	}
}

func TestResolveWeightNFTWeightedClampsNegative(t *testing.T) {
	store := memory.NewStore(nil)
	store.SetNFTCount("community-1", "user-1", -3)
	resolver := NewResolver(store)

	weight, err := resolver.ResolveWeight(context.Background(), "community-1", "user-1", entities.VotingPowerNFTWeighted)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if weight != 0 {
		t.Fatalf("expected negative count clamped to 0, got %d", weight)
	}
}

func TestResolveWeightUnknownModeFails(t *testing.T) {
	resolver := NewResolver(memory.NewStore(nil))

	if _, err := resolver.ResolveWeight(context.Background(), "community-1", "user-1", "quadratic"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
