package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"agora/contexts/community-governance/proposal-engine/application/commands"
	"agora/contexts/community-governance/proposal-engine/application/queries"
	"agora/contexts/community-governance/proposal-engine/domain/entities"
	httptransport "agora/contexts/community-governance/proposal-engine/transport/http"
)

type Handler struct {
	Proposals commands.ProposalUseCase
	Votes     commands.VoteUseCase
	Reads     queries.ProposalReadUseCase
	Logger    *slog.Logger
}

// CreateProposalHandler godoc
// @Summary Create a governance proposal
// @Description Opens a time-boxed proposal in a community. Requires the create_proposals capability and an Idempotency-Key header.
// @Tags proposals
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Acting user id"
// @Param Idempotency-Key header string true "Idempotency key"
// @Param request body httptransport.CreateProposalRequest true "Proposal definition"
// @Success 201 {object} httptransport.ProposalResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 403 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /proposals [post]
func (h Handler) CreateProposalHandler(
	ctx context.Context,
	userID string,
	idempotencyKey string,
	req httptransport.CreateProposalRequest,
) (httptransport.ProposalResponse, error) {
	result, err := h.Proposals.CreateProposal(ctx, commands.CreateProposalCommand{
		CommunityID:         req.CommunityID,
		AuthorID:            userID,
		IdempotencyKey:      idempotencyKey,
		Title:               req.Title,
		Description:         req.Description,
		Type:                entities.ProposalType(req.ProposalType),
		VotingDurationHours: req.VotingDurationHours,
		RequiredQuorum:      req.RequiredQuorum,
		PassingThreshold:    req.PassingThreshold,
	})
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	response := proposalResponse(result.Proposal)
	response.Replayed = result.Replayed
	return response, nil
}

// GetProposalHandler godoc
// @Summary Get a proposal
// @Description Returns the proposal with current tallies. Expired active proposals are settled before the response.
// @Tags proposals
// @Produce json
// @Param proposal_id path string true "Proposal id"
// @Success 200 {object} httptransport.ProposalResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /proposals/{proposal_id} [get]
func (h Handler) GetProposalHandler(ctx context.Context, proposalID string) (httptransport.ProposalResponse, error) {
	proposal, err := h.Reads.GetProposal(ctx, proposalID)
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	return proposalResponse(proposal), nil
}

// CastVoteHandler godoc
// @Summary Cast a vote
// @Description Records an at-most-once yes/no vote and returns the updated tallies and status. Requires the vote capability.
// @Tags votes
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Acting user id"
// @Param proposal_id path string true "Proposal id"
// @Param request body httptransport.CastVoteRequest true "Vote choice"
// @Success 201 {object} httptransport.CastVoteResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 403 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 410 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /proposals/{proposal_id}/votes [post]
func (h Handler) CastVoteHandler(
	ctx context.Context,
	proposalID string,
	userID string,
	req httptransport.CastVoteRequest,
) (httptransport.CastVoteResponse, error) {
	result, err := h.Votes.CastVote(ctx, commands.CastVoteCommand{
		ProposalID: proposalID,
		VoterID:    userID,
		Choice:     entities.VoteChoice(req.Choice),
	})
	if err != nil {
		return httptransport.CastVoteResponse{}, err
	}
	return httptransport.CastVoteResponse{
		VoteID:      result.Vote.VoteID,
		ProposalID:  result.Vote.ProposalID,
		CommunityID: result.Vote.CommunityID,
		VoterID:     result.Vote.VoterID,
		Choice:      string(result.Vote.Choice),
		Weight:      result.Vote.Weight,
		Status:      string(result.Proposal.Status),
		YesWeight:   result.Proposal.YesWeight,
		NoWeight:    result.Proposal.NoWeight,
		TotalWeight: result.Proposal.TotalWeight,
		Resolved:    result.Resolved,
	}, nil
}

// ProposalVotesHandler godoc
// @Summary List votes on a proposal
// @Tags votes
// @Produce json
// @Param proposal_id path string true "Proposal id"
// @Success 200 {object} httptransport.ProposalVotesResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /proposals/{proposal_id}/votes [get]
func (h Handler) ProposalVotesHandler(ctx context.Context, proposalID string) (httptransport.ProposalVotesResponse, error) {
	result, err := h.Reads.GetProposalVotes(ctx, proposalID)
	if err != nil {
		return httptransport.ProposalVotesResponse{}, err
	}
	votes := make([]httptransport.VoteItem, 0, len(result.Votes))
	for _, vote := range result.Votes {
		votes = append(votes, httptransport.VoteItem{
			VoteID:    vote.VoteID,
			VoterID:   vote.VoterID,
			Choice:    string(vote.Choice),
			Weight:    vote.Weight,
			CreatedAt: vote.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return httptransport.ProposalVotesResponse{
		ProposalID:  result.Proposal.ProposalID,
		Status:      string(result.Proposal.Status),
		YesWeight:   result.Proposal.YesWeight,
		NoWeight:    result.Proposal.NoWeight,
		TotalWeight: result.Proposal.TotalWeight,
		Votes:       votes,
	}, nil
}

// CommunityProposalsHandler godoc
// @Summary List a community's proposals
// @Description Expired active proposals in the listing are settled before the response.
// @Tags proposals
// @Produce json
// @Param community_id path string true "Community id"
// @Success 200 {object} httptransport.ProposalListResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /communities/{community_id}/proposals [get]
func (h Handler) CommunityProposalsHandler(ctx context.Context, communityID string) (httptransport.ProposalListResponse, error) {
	proposals, err := h.Reads.ListCommunityProposals(ctx, communityID)
	if err != nil {
		return httptransport.ProposalListResponse{}, err
	}
	items := make([]httptransport.ProposalResponse, 0, len(proposals))
	for _, proposal := range proposals {
		items = append(items, proposalResponse(proposal))
	}
	return httptransport.ProposalListResponse{Items: items}, nil
}

func proposalResponse(proposal entities.Proposal) httptransport.ProposalResponse {
	return httptransport.ProposalResponse{
		ProposalID:       proposal.ProposalID,
		CommunityID:      proposal.CommunityID,
		AuthorID:         proposal.AuthorID,
		Title:            proposal.Title,
		Description:      proposal.Description,
		ProposalType:     string(proposal.Type),
		VotingStartsAt:   proposal.VotingStartsAt.UTC().Format(time.RFC3339),
		VotingEndsAt:     proposal.VotingEndsAt.UTC().Format(time.RFC3339),
		RequiredQuorum:   proposal.RequiredQuorum,
		PassingThreshold: proposal.PassingThreshold,
		Status:           string(proposal.Status),
		YesWeight:        proposal.YesWeight,
		NoWeight:         proposal.NoWeight,
		TotalWeight:      proposal.TotalWeight,
	}
}
