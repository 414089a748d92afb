package services

import (
	"testing"
	"time"

	"agora/contexts/community-governance/proposal-engine/domain/entities"
)

func proposalFixture(yes, no int64, quorum, threshold int, endsAt time.Time) entities.Proposal {
	return entities.Proposal{
		ProposalID:       "proposal-1",
		CommunityID:      "community-1",
		VotingStartsAt:   endsAt.Add(-24 * time.Hour),
		VotingEndsAt:     endsAt,
		RequiredQuorum:   quorum,
		PassingThreshold: threshold,
		Status:           entities.ProposalStatusActive,
		YesWeight:        yes,
		NoWeight:         no,
		TotalWeight:      yes + no,
	}
}

func TestResolveEarlyPassBeforeWindowCloses(t *testing.T) {
	now := time.Now().UTC()
	proposal := proposalFixture(6, 2, 50, 60, now.Add(2*time.Hour))

	status := Resolve(proposal, 10, now)
	if status != entities.ProposalStatusPassed {
		t.Fatalf("expected passed, got %s", status)
	}
}

func TestResolveStaysActiveWhileQuorumMissedAndWindowOpen(t *testing.T) {
	now := time.Now().UTC()
	proposal := proposalFixture(3, 1, 50, 50, now.Add(2*time.Hour))

	status := Resolve(proposal, 100, now)
	if status != entities.ProposalStatusActive {
		t.Fatalf("expected active, got %s", status)
	}
}

func TestResolveFailsOnExpiryWithoutQuorum(t *testing.T) {
	now := time.Now().UTC()
	proposal := proposalFixture(3, 1, 50, 50, now.Add(-time.Minute))

	status := Resolve(proposal, 100, now)
	if status != entities.ProposalStatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}
}

func TestResolveFailsOnExpiryWhenQuorumMetButThresholdMissed(t *testing.T) {
	now := time.Now().UTC()
	proposal := proposalFixture(2, 6, 50, 60, now.Add(-time.Minute))

	status := Resolve(proposal, 10, now)
	if status != entities.ProposalStatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}
}

func TestResolveQuorumMetThresholdMissedStaysActiveWhileOpen(t *testing.T) {
	now := time.Now().UTC()
	proposal := proposalFixture(2, 6, 50, 60, now.Add(2*time.Hour))

	status := Resolve(proposal, 10, now)
	if status != entities.ProposalStatusActive {
		t.Fatalf("expected active, got %s", status)
	}
}

func TestResolveZeroMemberCountCountsAnyWeightAsQuorum(t *testing.T) {
	now := time.Now().UTC()
	proposal := proposalFixture(1, 0, 50, 50, now.Add(2*time.Hour))

	status := Resolve(proposal, 0, now)
	if status != entities.ProposalStatusPassed {
		t.Fatalf("expected passed with zero member count, got %s", status)
	}
}

func TestResolveNoVotesNeverReachesQuorum(t *testing.T) {
	now := time.Now().UTC()
	proposal := proposalFixture(0, 0, 50, 50, now.Add(-time.Minute))

	status := Resolve(proposal, 0, now)
	if status != entities.ProposalStatusFailed {
		t.Fatalf("expected failed for expired proposal with no votes, got %s", status)
	}
}

func TestResolveExactQuorumAndThresholdBoundaries(t *testing.T) {
	now := time.Now().UTC()
	// 5 of 10 members at 50% quorum is exactly quorate; 50% yes at a 50%
	// threshold passes on the boundary.
	proposal := proposalFixture(3, 2, 50, 50, now.Add(2*time.Hour))
	proposal.YesWeight = 3
	proposal.NoWeight = 3
	proposal.TotalWeight = 6

	status := Resolve(proposal, 12, now)
	if status != entities.ProposalStatusPassed {
		t.Fatalf("expected passed on boundary, got %s", status)
	}
}

func TestResolveTerminalProposalIsStable(t *testing.T) {
	now := time.Now().UTC()
	proposal := proposalFixture(0, 9, 50, 50, now.Add(-time.Hour))
	proposal.Status = entities.ProposalStatusPassed

	status := Resolve(proposal, 10, now)
	if status != entities.ProposalStatusPassed {
		t.Fatalf("expected terminal status preserved, got %s", status)
	}
}
