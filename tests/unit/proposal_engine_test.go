package unit

import (
	"context"
	"errors"
	"testing"

	proposalengine "agora/contexts/community-governance/proposal-engine"
	"agora/contexts/community-governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/community-governance/proposal-engine/domain/errors"
	"agora/contexts/community-governance/proposal-engine/ports"
	httptransport "agora/contexts/community-governance/proposal-engine/transport/http"
)

func seededGovernanceModule(memberCount int64, mode entities.VotingPowerMode) proposalengine.Module {
	module := proposalengine.NewInMemoryModule(nil, nil)
	module.Store.SetCommunity(ports.CommunityProjection{
		CommunityID:     "community-1",
		MemberCount:     memberCount,
		VotingPowerMode: mode,
	})
	module.Store.SetMemberCapabilities("community-1", "author-1",
		entities.CapabilityCreateProposals, entities.CapabilityVote)
	for _, voter := range []string{"voter-1", "voter-2", "voter-3"} {
		module.Store.SetMemberCapabilities("community-1", voter, entities.CapabilityVote)
	}
	return module
}

func TestProposalCreateAndIdempotentReplay(t *testing.T) {
	module := seededGovernanceModule(10, entities.VotingPowerEqual)

	first, err := module.Handler.CreateProposalHandler(context.Background(), "author-1", "idem-proposal-1",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			Title:               "Adopt new moderation rules",
			Description:         "Switch to the revised moderation charter.",
			ProposalType:        "general",
			VotingDurationHours: 48,
		})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	if first.Status != string(entities.ProposalStatusActive) {
		t.Fatalf("expected active proposal, got %s", first.Status)
	}
	if first.RequiredQuorum != 50 || first.PassingThreshold != 50 {
		t.Fatalf("expected defaulted quorum/threshold 50/50, got %d/%d", first.RequiredQuorum, first.PassingThreshold)
	}
	if first.YesWeight != 0 || first.NoWeight != 0 || first.TotalWeight != 0 {
		t.Fatalf("expected zeroed tallies on creation")
	}

	second, err := module.Handler.CreateProposalHandler(context.Background(), "author-1", "idem-proposal-1",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			Title:               "Adopt new moderation rules",
			Description:         "Switch to the revised moderation charter.",
			ProposalType:        "general",
			VotingDurationHours: 48,
		})
	if err != nil {
		t.Fatalf("replay create failed: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("expected replayed create")
	}
	if first.ProposalID != second.ProposalID {
		t.Fatalf("expected same proposal id, got %s and %s", first.ProposalID, second.ProposalID)
	}

	conflicting, err := module.Handler.CreateProposalHandler(context.Background(), "author-1", "idem-proposal-1",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			Title:               "A different proposal under the same key",
			VotingDurationHours: 48,
		})
	if !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got resp=%+v err=%v", conflicting, err)
	}
}

func TestProposalCreateValidation(t *testing.T) {
	module := seededGovernanceModule(10, entities.VotingPowerEqual)

	_, err := module.Handler.CreateProposalHandler(context.Background(), "author-1", "idem-1",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			Title:               "Too short window",
			VotingDurationHours: 0,
		})
	if !errors.Is(err, domainerrors.ErrInvalidRange) {
		t.Fatalf("expected invalid range for zero duration, got %v", err)
	}

	_, err = module.Handler.CreateProposalHandler(context.Background(), "author-1", "idem-2",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			Title:               "Too long window",
			VotingDurationHours: 169,
		})
	if !errors.Is(err, domainerrors.ErrInvalidRange) {
		t.Fatalf("expected invalid range for oversized duration, got %v", err)
	}

	_, err = module.Handler.CreateProposalHandler(context.Background(), "author-1", "idem-3",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			Title:               "Quorum out of range",
			VotingDurationHours: 24,
			RequiredQuorum:      101,
		})
	if !errors.Is(err, domainerrors.ErrInvalidRange) {
		t.Fatalf("expected invalid range for quorum 101, got %v", err)
	}

	_, err = module.Handler.CreateProposalHandler(context.Background(), "author-1", "idem-4",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			VotingDurationHours: 24,
		})
	if !errors.Is(err, domainerrors.ErrInvalidProposalInput) {
		t.Fatalf("expected invalid input for missing title, got %v", err)
	}

	_, err = module.Handler.CreateProposalHandler(context.Background(), "author-1", "",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			Title:               "Missing idempotency key",
			VotingDurationHours: 24,
		})
	if !errors.Is(err, domainerrors.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected idempotency key required, got %v", err)
	}
}

func TestProposalCreatePermissionDenied(t *testing.T) {
	module := seededGovernanceModule(10, entities.VotingPowerEqual)

	_, err := module.Handler.CreateProposalHandler(context.Background(), "voter-1", "idem-1",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			Title:               "Voters cannot author proposals here",
			VotingDurationHours: 24,
		})
	if !errors.Is(err, domainerrors.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestVoteCastDuplicateAndTallies(t *testing.T) {
	module := seededGovernanceModule(100, entities.VotingPowerEqual)

	created, err := module.Handler.CreateProposalHandler(context.Background(), "author-1", "idem-1",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			Title:               "Fund the community meetup",
			ProposalType:        "treasury",
			VotingDurationHours: 24,
		})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}

	first, err := module.Handler.CastVoteHandler(context.Background(), created.ProposalID, "voter-1",
		httptransport.CastVoteRequest{Choice: "yes"})
	if err != nil {
		t.Fatalf("cast vote failed: %v", err)
	}
	if first.Weight != 1 {
		t.Fatalf("expected equal-mode weight 1, got %d", first.Weight)
	}
	if first.YesWeight != 1 || first.TotalWeight != 1 {
		t.Fatalf("unexpected tally after first vote: yes=%d total=%d", first.YesWeight, first.TotalWeight)
	}

	_, err = module.Handler.CastVoteHandler(context.Background(), created.ProposalID, "voter-1",
		httptransport.CastVoteRequest{Choice: "no"})
	if !errors.Is(err, domainerrors.ErrDuplicateVote) {
		t.Fatalf("expected duplicate vote rejection, got %v", err)
	}

	second, err := module.Handler.CastVoteHandler(context.Background(), created.ProposalID, "voter-2",
		httptransport.CastVoteRequest{Choice: "no"})
	if err != nil {
		t.Fatalf("second voter failed: %v", err)
	}
	if second.YesWeight+second.NoWeight != second.TotalWeight {
		t.Fatalf("tally invariant broken: yes=%d no=%d total=%d",
			second.YesWeight, second.NoWeight, second.TotalWeight)
	}

	votes, err := module.Handler.ProposalVotesHandler(context.Background(), created.ProposalID)
	if err != nil {
		t.Fatalf("proposal votes failed: %v", err)
	}
	if len(votes.Votes) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(votes.Votes))
	}
}

func TestVoteCastValidationAndPermissions(t *testing.T) {
	module := seededGovernanceModule(100, entities.VotingPowerEqual)

	created, err := module.Handler.CreateProposalHandler(context.Background(), "author-1", "idem-1",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			Title:               "Tighten spam rules",
			VotingDurationHours: 24,
		})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}

	_, err = module.Handler.CastVoteHandler(context.Background(), created.ProposalID, "voter-1",
		httptransport.CastVoteRequest{Choice: "abstain"})
	if !errors.Is(err, domainerrors.ErrInvalidVoteInput) {
		t.Fatalf("expected invalid vote input for abstain, got %v", err)
	}

	_, err = module.Handler.CastVoteHandler(context.Background(), created.ProposalID, "outsider-1",
		httptransport.CastVoteRequest{Choice: "yes"})
	if !errors.Is(err, domainerrors.ErrPermissionDenied) {
		t.Fatalf("expected permission denied for non-member, got %v", err)
	}

	_, err = module.Handler.CastVoteHandler(context.Background(), "missing-proposal", "voter-1",
		httptransport.CastVoteRequest{Choice: "yes"})
	if !errors.Is(err, domainerrors.ErrProposalNotFound) {
		t.Fatalf("expected proposal not found, got %v", err)
	}
}

func TestVoteCastEarlyExitResolvesProposal(t *testing.T) {
	module := seededGovernanceModule(3, entities.VotingPowerEqual)

	created, err := module.Handler.CreateProposalHandler(context.Background(), "author-1", "idem-1",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			Title:               "Ratify the new charter",
			VotingDurationHours: 72,
		})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}

	first, err := module.Handler.CastVoteHandler(context.Background(), created.ProposalID, "voter-1",
		httptransport.CastVoteRequest{Choice: "yes"})
	if err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	if first.Resolved {
		t.Fatalf("one of three members should not reach 50%% quorum")
	}

	second, err := module.Handler.CastVoteHandler(context.Background(), created.ProposalID, "voter-2",
		httptransport.CastVoteRequest{Choice: "yes"})
	if err != nil {
		t.Fatalf("second vote failed: %v", err)
	}
	if !second.Resolved || second.Status != string(entities.ProposalStatusPassed) {
		t.Fatalf("expected early exit to passed, got resolved=%v status=%s", second.Resolved, second.Status)
	}

	_, err = module.Handler.CastVoteHandler(context.Background(), created.ProposalID, "voter-3",
		httptransport.CastVoteRequest{Choice: "no"})
	if !errors.Is(err, domainerrors.ErrProposalNotActive) {
		t.Fatalf("expected votes after resolution to be rejected, got %v", err)
	}

	fetched, err := module.Handler.GetProposalHandler(context.Background(), created.ProposalID)
	if err != nil {
		t.Fatalf("get proposal failed: %v", err)
	}
	if fetched.Status != string(entities.ProposalStatusPassed) {
		t.Fatalf("expected persisted passed status, got %s", fetched.Status)
	}
}

func TestVoteCastTokenWeightedFreezesWeight(t *testing.T) {
	module := seededGovernanceModule(1000, entities.VotingPowerTokenWeighted)
	module.Store.SetTokenBalance("community-1", "voter-1", 40)
	module.Store.SetTokenBalance("community-1", "voter-2", 5)

	created, err := module.Handler.CreateProposalHandler(context.Background(), "author-1", "idem-1",
		httptransport.CreateProposalRequest{
			CommunityID:         "community-1",
			Title:               "Token weighted vote",
			VotingDurationHours: 24,
		})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}

	first, err := module.Handler.CastVoteHandler(context.Background(), created.ProposalID, "voter-1",
		httptransport.CastVoteRequest{Choice: "yes"})
	if err != nil {
		t.Fatalf("token weighted vote failed: %v", err)
	}
	if first.Weight != 40 {
		t.Fatalf("expected frozen weight 40, got %d", first.Weight)
	}

	// Balance changes after cast time must not affect the recorded weight.
	module.Store.SetTokenBalance("community-1", "voter-1", 9999)
	votes, err := module.Handler.ProposalVotesHandler(context.Background(), created.ProposalID)
	if err != nil {
		t.Fatalf("proposal votes failed: %v", err)
	}
	if votes.Votes[0].Weight != 40 {
		t.Fatalf("expected ledger weight 40 after balance change, got %d", votes.Votes[0].Weight)
	}

	second, err := module.Handler.CastVoteHandler(context.Background(), created.ProposalID, "voter-2",
		httptransport.CastVoteRequest{Choice: "no"})
	if err != nil {
		t.Fatalf("second token weighted vote failed: %v", err)
	}
	if second.YesWeight != 40 || second.NoWeight != 5 || second.TotalWeight != 45 {
		t.Fatalf("unexpected weighted tally: yes=%d no=%d total=%d",
			second.YesWeight, second.NoWeight, second.TotalWeight)
	}
}

func TestCommunityProposalListing(t *testing.T) {
	module := seededGovernanceModule(10, entities.VotingPowerEqual)

	for _, key := range []string{"idem-1", "idem-2"} {
		if _, err := module.Handler.CreateProposalHandler(context.Background(), "author-1", key,
			httptransport.CreateProposalRequest{
				CommunityID:         "community-1",
				Title:               "Proposal " + key,
				VotingDurationHours: 24,
			}); err != nil {
			t.Fatalf("create %s failed: %v", key, err)
		}
	}

	listing, err := module.Handler.CommunityProposalsHandler(context.Background(), "community-1")
	if err != nil {
		t.Fatalf("community listing failed: %v", err)
	}
	if len(listing.Items) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(listing.Items))
	}
}
