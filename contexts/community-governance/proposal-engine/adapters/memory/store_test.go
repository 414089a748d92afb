package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"agora/contexts/community-governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/community-governance/proposal-engine/domain/errors"
	"agora/contexts/community-governance/proposal-engine/ports"
)

func activeProposal(endsAt time.Time) entities.Proposal {
	return entities.Proposal{
		ProposalID:       "proposal-1",
		CommunityID:      "community-1",
		AuthorID:         "author-1",
		Title:            "Increase treasury allocation",
		Type:             entities.ProposalTypeTreasury,
		VotingStartsAt:   endsAt.Add(-24 * time.Hour),
		VotingEndsAt:     endsAt,
		RequiredQuorum:   50,
		PassingThreshold: 50,
		Status:           entities.ProposalStatusActive,
		CreatedAt:        endsAt.Add(-24 * time.Hour),
		UpdatedAt:        endsAt.Add(-24 * time.Hour),
	}
}

func TestRecordVoteConcurrentSameVoterAdmitsExactlyOne(t *testing.T) {
	now := time.Now().UTC()
	store := NewStore([]entities.Proposal{activeProposal(now.Add(2 * time.Hour))})
	store.SetCommunity(ports.CommunityProjection{
		CommunityID:     "community-1",
		MemberCount:     1000,
		VotingPowerMode: entities.VotingPowerEqual,
	})

	const attempts = 32
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, err := store.RecordVote(context.Background(), entities.Vote{
				VoteID:      fmt.Sprintf("vote-%d", slot),
				ProposalID:  "proposal-1",
				CommunityID: "community-1",
				VoterID:     "voter-1",
				Choice:      entities.VoteChoiceYes,
				Weight:      1,
			}, now)
			results[slot] = err
		}(i)
	}
	wg.Wait()

	admitted := 0
	duplicates := 0
	for _, err := range results {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, domainerrors.ErrDuplicateVote):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if admitted != 1 {
		t.Fatalf("expected exactly one admitted vote, got %d", admitted)
	}
	if duplicates != attempts-1 {
		t.Fatalf("expected %d duplicate rejections, got %d", attempts-1, duplicates)
	}

	proposal, err := store.GetProposal(context.Background(), "proposal-1")
	if err != nil {
		t.Fatalf("get proposal failed: %v", err)
	}
	if proposal.TotalWeight != 1 || proposal.YesWeight != 1 {
		t.Fatalf("tally counted duplicates: yes=%d total=%d", proposal.YesWeight, proposal.TotalWeight)
	}
}

func TestRecordVoteConcurrentDistinctVotersLosesNoUpdates(t *testing.T) {
	now := time.Now().UTC()
	store := NewStore([]entities.Proposal{activeProposal(now.Add(2 * time.Hour))})
	store.SetCommunity(ports.CommunityProjection{
		CommunityID:     "community-1",
		MemberCount:     100000,
		VotingPowerMode: entities.VotingPowerEqual,
	})

	const voters = 64
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			choice := entities.VoteChoiceYes
			if slot%2 == 0 {
				choice = entities.VoteChoiceNo
			}
			_, err := store.RecordVote(context.Background(), entities.Vote{
				VoteID:      fmt.Sprintf("vote-%d", slot),
				ProposalID:  "proposal-1",
				CommunityID: "community-1",
				VoterID:     fmt.Sprintf("voter-%d", slot),
				Choice:      choice,
				Weight:      1,
			}, now)
			if err != nil {
				t.Errorf("vote %d failed: %v", slot, err)
			}
		}(i)
	}
	wg.Wait()

	proposal, err := store.GetProposal(context.Background(), "proposal-1")
	if err != nil {
		t.Fatalf("get proposal failed: %v", err)
	}
	if proposal.TotalWeight != voters {
		t.Fatalf("lost updates: expected total weight %d, got %d", voters, proposal.TotalWeight)
	}
	if proposal.YesWeight+proposal.NoWeight != proposal.TotalWeight {
		t.Fatalf("tally invariant broken: yes=%d no=%d total=%d",
			proposal.YesWeight, proposal.NoWeight, proposal.TotalWeight)
	}
}

func TestRecordVoteRejectsTerminalAndExpiredProposals(t *testing.T) {
	now := time.Now().UTC()
	expired := activeProposal(now.Add(-time.Minute))
	terminal := activeProposal(now.Add(2 * time.Hour))
	terminal.ProposalID = "proposal-2"
	terminal.Status = entities.ProposalStatusPassed

	store := NewStore([]entities.Proposal{expired, terminal})

	_, err := store.RecordVote(context.Background(), entities.Vote{
		VoteID:     "vote-1",
		ProposalID: "proposal-1",
		VoterID:    "voter-1",
		Choice:     entities.VoteChoiceYes,
		Weight:     1,
	}, now)
	if !errors.Is(err, domainerrors.ErrVotingWindowClosed) {
		t.Fatalf("expected voting window closed, got %v", err)
	}

	_, err = store.RecordVote(context.Background(), entities.Vote{
		VoteID:     "vote-2",
		ProposalID: "proposal-2",
		VoterID:    "voter-1",
		Choice:     entities.VoteChoiceYes,
		Weight:     1,
	}, now)
	if !errors.Is(err, domainerrors.ErrProposalNotActive) {
		t.Fatalf("expected proposal not active, got %v", err)
	}

	_, err = store.RecordVote(context.Background(), entities.Vote{
		VoteID:     "vote-3",
		ProposalID: "missing",
		VoterID:    "voter-1",
		Choice:     entities.VoteChoiceYes,
		Weight:     1,
	}, now)
	if !errors.Is(err, domainerrors.ErrProposalNotFound) {
		t.Fatalf("expected proposal not found, got %v", err)
	}
}

func TestSettleProposalLoserSeesTerminalRowWithoutError(t *testing.T) {
	now := time.Now().UTC()
	store := NewStore([]entities.Proposal{activeProposal(now.Add(-time.Minute))})

	first, transitioned, err := store.SettleProposal(context.Background(), "proposal-1", entities.ProposalStatusFailed, now)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if !transitioned || first.Status != entities.ProposalStatusFailed {
		t.Fatalf("expected winning settle to transition, got transitioned=%v status=%s", transitioned, first.Status)
	}

	second, transitioned, err := store.SettleProposal(context.Background(), "proposal-1", entities.ProposalStatusPassed, now)
	if err != nil {
		t.Fatalf("losing settle returned error: %v", err)
	}
	if transitioned {
		t.Fatalf("expected losing settle to report transitioned=false")
	}
	if second.Status != entities.ProposalStatusFailed {
		t.Fatalf("expected persisted terminal status failed, got %s", second.Status)
	}
}

func TestRecordVoteEarlyExitPersistsPassed(t *testing.T) {
	now := time.Now().UTC()
	store := NewStore([]entities.Proposal{activeProposal(now.Add(2 * time.Hour))})
	store.SetCommunity(ports.CommunityProjection{
		CommunityID:     "community-1",
		MemberCount:     2,
		VotingPowerMode: entities.VotingPowerEqual,
	})

	result, err := store.RecordVote(context.Background(), entities.Vote{
		VoteID:      "vote-1",
		ProposalID:  "proposal-1",
		CommunityID: "community-1",
		VoterID:     "voter-1",
		Choice:      entities.VoteChoiceYes,
		Weight:      1,
	}, now)
	if err != nil {
		t.Fatalf("record vote failed: %v", err)
	}
	if !result.Resolved || result.Proposal.Status != entities.ProposalStatusPassed {
		t.Fatalf("expected early exit to passed, got resolved=%v status=%s", result.Resolved, result.Proposal.Status)
	}

	_, err = store.RecordVote(context.Background(), entities.Vote{
		VoteID:      "vote-2",
		ProposalID:  "proposal-1",
		CommunityID: "community-1",
		VoterID:     "voter-2",
		Choice:      entities.VoteChoiceNo,
		Weight:      1,
	}, now)
	if !errors.Is(err, domainerrors.ErrProposalNotActive) {
		t.Fatalf("expected votes after early exit to be rejected, got %v", err)
	}
}
