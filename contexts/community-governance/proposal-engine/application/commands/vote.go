package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/community-governance/proposal-engine/application"
	"agora/contexts/community-governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/community-governance/proposal-engine/domain/errors"
	"agora/contexts/community-governance/proposal-engine/ports"
)

const defaultCastAttempts = 3

// CastVoteCommand is the write-model input for vote admission.
type CastVoteCommand struct {
	ProposalID string
	VoterID    string
	Choice     entities.VoteChoice
}

// CastVoteResult returns the recorded vote, the post-write tally and status,
// and whether this vote resolved the proposal.
type CastVoteResult struct {
	Vote     entities.Vote
	Proposal entities.Proposal
	Resolved bool
}

// VoteUseCase orchestrates vote admission: capability checks, window checks,
// weight resolution, the atomic ledger+tally write, resolution-policy
// evaluation, and outbox event emission. A write that lost a storage race is
// retried a bounded number of times; a retry that discovers the voter was
// recorded after all reports ErrDuplicateVote.
type VoteUseCase struct {
	Proposals    ports.ProposalRepository
	Communities  ports.CommunityStore
	Capabilities ports.CapabilityChecker
	Weights      ports.WeightResolver
	Outbox       ports.OutboxWriter
	Clock        ports.Clock
	IDGen        ports.IDGenerator
	MaxAttempts  int
	Logger       *slog.Logger
}

// CastVote admits at most one vote per (proposal, voter). On success the
// tally and any terminal transition were persisted atomically.
func (uc VoteUseCase) CastVote(ctx context.Context, cmd CastVoteCommand) (CastVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	proposalID := strings.TrimSpace(cmd.ProposalID)
	voterID := strings.TrimSpace(cmd.VoterID)
	logger.Info("vote cast processing started",
		"event", "governance_vote_cast_started",
		"module", "community-governance/proposal-engine",
		"layer", "application",
		"proposal_id", proposalID,
		"voter_id", voterID,
		"choice", string(cmd.Choice),
	)

	if proposalID == "" || voterID == "" || !entities.ValidVoteChoice(cmd.Choice) {
		logger.Warn("vote cast validation failed",
			"event", "governance_vote_cast_validation_failed",
			"module", "community-governance/proposal-engine",
			"layer", "application",
			"proposal_id", proposalID,
			"voter_id", voterID,
			"choice", string(cmd.Choice),
		)
		return CastVoteResult{}, domainerrors.ErrInvalidVoteInput
	}

	attempts := uc.MaxAttempts
	if attempts <= 0 {
		attempts = defaultCastAttempts
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := uc.castOnce(ctx, proposalID, voterID, cmd.Choice)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, domainerrors.ErrStorageConflict) {
			return CastVoteResult{}, err
		}
		lastErr = err
		logger.Warn("vote cast lost a storage race; retrying",
			"event", "governance_vote_cast_retry",
			"module", "community-governance/proposal-engine",
			"layer", "application",
			"proposal_id", proposalID,
			"voter_id", voterID,
			"attempt", attempt,
		)
	}
	return CastVoteResult{}, lastErr
}

func (uc VoteUseCase) castOnce(
	ctx context.Context,
	proposalID string,
	voterID string,
	choice entities.VoteChoice,
) (CastVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.now()

	proposal, err := uc.Proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return CastVoteResult{}, err
	}
	if proposal.Terminal() {
		return CastVoteResult{}, domainerrors.ErrProposalNotActive
	}
	// Rejected even while status still reads active: the lazy sweep may not
	// have re-evaluated the proposal yet.
	if proposal.WindowExpired(now) {
		return CastVoteResult{}, domainerrors.ErrVotingWindowClosed
	}

	allowed, err := uc.Capabilities.HasCapability(ctx, proposal.CommunityID, voterID, entities.CapabilityVote)
	if err != nil {
		return CastVoteResult{}, err
	}
	if !allowed {
		logger.Warn("vote cast permission denied",
			"event", "governance_vote_cast_permission_denied",
			"module", "community-governance/proposal-engine",
			"layer", "application",
			"proposal_id", proposalID,
			"voter_id", voterID,
		)
		return CastVoteResult{}, domainerrors.ErrPermissionDenied
	}

	community, err := uc.Communities.GetCommunity(ctx, proposal.CommunityID)
	if err != nil {
		return CastVoteResult{}, err
	}
	weight, err := uc.Weights.ResolveWeight(ctx, proposal.CommunityID, voterID, community.VotingPowerMode)
	if err != nil {
		return CastVoteResult{}, err
	}
	if weight < 0 {
		return CastVoteResult{}, domainerrors.ErrInvalidVoteInput
	}

	voteID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CastVoteResult{}, err
	}
	vote := entities.Vote{
		VoteID:      voteID,
		ProposalID:  proposalID,
		CommunityID: proposal.CommunityID,
		VoterID:     voterID,
		Choice:      choice,
		Weight:      weight,
		CreatedAt:   now,
	}

	recorded, err := uc.Proposals.RecordVote(ctx, vote, now)
	if err != nil {
		return CastVoteResult{}, err
	}

	if err := uc.appendVoteCastEvent(ctx, recorded, now); err != nil {
		return CastVoteResult{}, err
	}
	if recorded.Resolved {
		if err := uc.appendResolvedEvent(ctx, recorded.Proposal, now); err != nil {
			return CastVoteResult{}, err
		}
	}

	logger.Info("vote cast recorded",
		"event", "governance_vote_cast_recorded",
		"module", "community-governance/proposal-engine",
		"layer", "application",
		"vote_id", recorded.Vote.VoteID,
		"proposal_id", recorded.Vote.ProposalID,
		"voter_id", recorded.Vote.VoterID,
		"choice", string(recorded.Vote.Choice),
		"weight", recorded.Vote.Weight,
		"status", string(recorded.Proposal.Status),
		"total_weight", recorded.Proposal.TotalWeight,
	)
	return CastVoteResult{
		Vote:     recorded.Vote,
		Proposal: recorded.Proposal,
		Resolved: recorded.Resolved,
	}, nil
}

func (uc VoteUseCase) appendVoteCastEvent(ctx context.Context, recorded ports.RecordVoteResult, occurredAt time.Time) error {
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := newGovernanceEnvelope(eventID, "proposal.vote.cast", recorded.Vote.ProposalID, occurredAt, map[string]any{
		"vote_id":      recorded.Vote.VoteID,
		"proposal_id":  recorded.Vote.ProposalID,
		"community_id": recorded.Vote.CommunityID,
		"voter_id":     recorded.Vote.VoterID,
		"choice":       string(recorded.Vote.Choice),
		"weight":       recorded.Vote.Weight,
		"yes_weight":   recorded.Proposal.YesWeight,
		"no_weight":    recorded.Proposal.NoWeight,
		"total_weight": recorded.Proposal.TotalWeight,
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}

func (uc VoteUseCase) appendResolvedEvent(ctx context.Context, proposal entities.Proposal, occurredAt time.Time) error {
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := newGovernanceEnvelope(eventID, "proposal.resolved", proposal.ProposalID, occurredAt, map[string]any{
		"proposal_id":  proposal.ProposalID,
		"community_id": proposal.CommunityID,
		"status":       string(proposal.Status),
		"yes_weight":   proposal.YesWeight,
		"no_weight":    proposal.NoWeight,
		"total_weight": proposal.TotalWeight,
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}

func (uc VoteUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
