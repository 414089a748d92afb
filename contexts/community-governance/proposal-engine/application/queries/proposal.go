package queries

import (
	"context"
	"log/slog"
	"strings"

	application "agora/contexts/community-governance/proposal-engine/application"
	"agora/contexts/community-governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/community-governance/proposal-engine/domain/errors"
	"agora/contexts/community-governance/proposal-engine/ports"
)

// ProposalReadUseCase serves the read path. Reads of active proposals whose
// window has expired re-evaluate and persist the terminal status before
// returning (lazy sweep): without it, quorum-missed expired proposals would
// stay active forever, since no vote arrives to trigger resolution.
type ProposalReadUseCase struct {
	Proposals ports.ProposalRepository
	Settler   application.Settler
	Logger    *slog.Logger
}

// ProposalVotes pairs the authoritative tally with the individual ledger
// entries for one proposal.
type ProposalVotes struct {
	Proposal entities.Proposal
	Votes    []entities.Vote
}

// GetProposal returns the proposal, settling it first if its window expired
// while it was still active. Reads of already-resolved proposals have no
// side effects.
func (uc ProposalReadUseCase) GetProposal(ctx context.Context, proposalID string) (entities.Proposal, error) {
	proposalID = strings.TrimSpace(proposalID)
	if proposalID == "" {
		return entities.Proposal{}, domainerrors.ErrProposalNotFound
	}
	proposal, err := uc.Proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return entities.Proposal{}, err
	}
	settled, _, err := uc.Settler.SettleIfExpired(ctx, proposal)
	if err != nil {
		return entities.Proposal{}, err
	}
	return settled, nil
}

// ListCommunityProposals returns a community's proposals, applying the lazy
// sweep to each expired active row on the way out.
func (uc ProposalReadUseCase) ListCommunityProposals(ctx context.Context, communityID string) ([]entities.Proposal, error) {
	communityID = strings.TrimSpace(communityID)
	if communityID == "" {
		return nil, domainerrors.ErrCommunityNotFound
	}
	proposals, err := uc.Proposals.ListProposalsByCommunity(ctx, communityID)
	if err != nil {
		return nil, err
	}
	items := make([]entities.Proposal, 0, len(proposals))
	for _, proposal := range proposals {
		settled, _, err := uc.Settler.SettleIfExpired(ctx, proposal)
		if err != nil {
			return nil, err
		}
		items = append(items, settled)
	}
	return items, nil
}

// GetProposalVotes returns the ledger entries plus the tally for a proposal.
func (uc ProposalReadUseCase) GetProposalVotes(ctx context.Context, proposalID string) (ProposalVotes, error) {
	proposal, err := uc.GetProposal(ctx, proposalID)
	if err != nil {
		return ProposalVotes{}, err
	}
	votes, err := uc.Proposals.ListVotesByProposal(ctx, proposal.ProposalID)
	if err != nil {
		return ProposalVotes{}, err
	}
	return ProposalVotes{Proposal: proposal, Votes: votes}, nil
}
