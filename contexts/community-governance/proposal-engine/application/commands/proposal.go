package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	application "agora/contexts/community-governance/proposal-engine/application"
	"agora/contexts/community-governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/community-governance/proposal-engine/domain/errors"
	"agora/contexts/community-governance/proposal-engine/ports"
)

const (
	defaultRequiredQuorum   = 50
	defaultPassingThreshold = 50
)

// CreateProposalCommand is the write-model input for proposal creation.
type CreateProposalCommand struct {
	CommunityID         string
	AuthorID            string
	IdempotencyKey      string
	Title               string
	Description         string
	Type                entities.ProposalType
	VotingDurationHours int
	RequiredQuorum      int
	PassingThreshold    int
}

// CreateProposalResult returns the final proposal state plus a replay marker
// that the transport layer maps to API semantics.
type CreateProposalResult struct {
	Proposal entities.Proposal
	Replayed bool
}

// ProposalUseCase orchestrates proposal creation: capability checks, range
// validation, idempotent replay, and outbox event emission.
type ProposalUseCase struct {
	Proposals      ports.ProposalRepository
	Communities    ports.CommunityStore
	Capabilities   ports.CapabilityChecker
	Idempotency    ports.IdempotencyStore
	Outbox         ports.OutboxWriter
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// CreateProposal opens a time-boxed proposal with zeroed tallies. The voting
// window is fixed here and never extended.
func (uc ProposalUseCase) CreateProposal(ctx context.Context, cmd CreateProposalCommand) (CreateProposalResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	communityID := strings.TrimSpace(cmd.CommunityID)
	authorID := strings.TrimSpace(cmd.AuthorID)
	logger.Info("proposal create processing started",
		"event", "governance_proposal_create_started",
		"module", "community-governance/proposal-engine",
		"layer", "application",
		"community_id", communityID,
		"author_id", authorID,
	)

	if communityID == "" || authorID == "" || strings.TrimSpace(cmd.Title) == "" {
		logger.Warn("proposal create validation failed",
			"event", "governance_proposal_create_validation_failed",
			"module", "community-governance/proposal-engine",
			"layer", "application",
			"community_id", communityID,
			"author_id", authorID,
		)
		return CreateProposalResult{}, domainerrors.ErrInvalidProposalInput
	}
	proposalType := cmd.Type
	if proposalType == "" {
		proposalType = entities.ProposalTypeGeneral
	}
	if !entities.ValidProposalType(proposalType) {
		return CreateProposalResult{}, domainerrors.ErrInvalidProposalInput
	}

	requiredQuorum := cmd.RequiredQuorum
	if requiredQuorum == 0 {
		requiredQuorum = defaultRequiredQuorum
	}
	passingThreshold := cmd.PassingThreshold
	if passingThreshold == 0 {
		passingThreshold = defaultPassingThreshold
	}
	if cmd.VotingDurationHours < entities.MinVotingDurationHours ||
		cmd.VotingDurationHours > entities.MaxVotingDurationHours ||
		requiredQuorum < 1 || requiredQuorum > 100 ||
		passingThreshold < 1 || passingThreshold > 100 {
		logger.Warn("proposal create range check failed",
			"event", "governance_proposal_create_range_failed",
			"module", "community-governance/proposal-engine",
			"layer", "application",
			"community_id", communityID,
			"duration_hours", cmd.VotingDurationHours,
			"required_quorum", requiredQuorum,
			"passing_threshold", passingThreshold,
		)
		return CreateProposalResult{}, domainerrors.ErrInvalidRange
	}

	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return CreateProposalResult{}, domainerrors.ErrIdempotencyKeyRequired
	}

	now := uc.now()
	requestHash := hashCreateProposalCommand(cmd)
	if record, found, err := uc.Idempotency.Get(ctx, cmd.IdempotencyKey, now); err != nil {
		logger.Error("proposal create idempotency lookup failed",
			"event", "governance_proposal_create_idempotency_lookup_failed",
			"module", "community-governance/proposal-engine",
			"layer", "application",
			"community_id", communityID,
			"error", err.Error(),
		)
		return CreateProposalResult{}, err
	} else if found {
		if record.RequestHash != requestHash {
			return CreateProposalResult{}, domainerrors.ErrIdempotencyConflict
		}
		proposal, err := uc.Proposals.GetProposal(ctx, record.ProposalID)
		if err != nil {
			return CreateProposalResult{}, err
		}
		logger.Info("proposal create replayed",
			"event", "governance_proposal_create_replayed",
			"module", "community-governance/proposal-engine",
			"layer", "application",
			"proposal_id", proposal.ProposalID,
			"community_id", communityID,
		)
		return CreateProposalResult{Proposal: proposal, Replayed: true}, nil
	}

	if _, err := uc.Communities.GetCommunity(ctx, communityID); err != nil {
		return CreateProposalResult{}, err
	}
	allowed, err := uc.Capabilities.HasCapability(ctx, communityID, authorID, entities.CapabilityCreateProposals)
	if err != nil {
		return CreateProposalResult{}, err
	}
	if !allowed {
		logger.Warn("proposal create permission denied",
			"event", "governance_proposal_create_permission_denied",
			"module", "community-governance/proposal-engine",
			"layer", "application",
			"community_id", communityID,
			"author_id", authorID,
		)
		return CreateProposalResult{}, domainerrors.ErrPermissionDenied
	}

	proposalID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CreateProposalResult{}, err
	}
	proposal := entities.Proposal{
		ProposalID:       proposalID,
		CommunityID:      communityID,
		AuthorID:         authorID,
		Title:            strings.TrimSpace(cmd.Title),
		Description:      strings.TrimSpace(cmd.Description),
		Type:             proposalType,
		VotingStartsAt:   now,
		VotingEndsAt:     now.Add(time.Duration(cmd.VotingDurationHours) * time.Hour),
		RequiredQuorum:   requiredQuorum,
		PassingThreshold: passingThreshold,
		Status:           entities.ProposalStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := uc.Proposals.CreateProposal(ctx, proposal); err != nil {
		return CreateProposalResult{}, err
	}
	if err := uc.appendCreatedEvent(ctx, proposal, now); err != nil {
		return CreateProposalResult{}, err
	}
	if err := uc.Idempotency.Put(ctx, ports.IdempotencyRecord{
		Key:         strings.TrimSpace(cmd.IdempotencyKey),
		RequestHash: requestHash,
		ProposalID:  proposal.ProposalID,
		ExpiresAt:   now.Add(uc.resolveIdempotencyTTL()),
	}); err != nil {
		return CreateProposalResult{}, err
	}

	logger.Info("proposal created",
		"event", "governance_proposal_created",
		"module", "community-governance/proposal-engine",
		"layer", "application",
		"proposal_id", proposal.ProposalID,
		"community_id", proposal.CommunityID,
		"author_id", proposal.AuthorID,
		"proposal_type", string(proposal.Type),
		"voting_ends_at", proposal.VotingEndsAt.Format(time.RFC3339),
	)
	return CreateProposalResult{Proposal: proposal}, nil
}

func (uc ProposalUseCase) appendCreatedEvent(ctx context.Context, proposal entities.Proposal, occurredAt time.Time) error {
	// Outbox is optional for pure read/test wiring, so nil is treated as no-op.
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := newGovernanceEnvelope(eventID, "proposal.created", proposal.ProposalID, occurredAt, map[string]any{
		"proposal_id":       proposal.ProposalID,
		"community_id":      proposal.CommunityID,
		"author_id":         proposal.AuthorID,
		"proposal_type":     string(proposal.Type),
		"voting_starts_at":  proposal.VotingStartsAt.Format(time.RFC3339),
		"voting_ends_at":    proposal.VotingEndsAt.Format(time.RFC3339),
		"required_quorum":   proposal.RequiredQuorum,
		"passing_threshold": proposal.PassingThreshold,
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}

func (uc ProposalUseCase) resolveIdempotencyTTL() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}

func (uc ProposalUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func hashCreateProposalCommand(cmd CreateProposalCommand) string {
	payload := map[string]string{
		"community_id":      strings.TrimSpace(cmd.CommunityID),
		"author_id":         strings.TrimSpace(cmd.AuthorID),
		"title":             strings.TrimSpace(cmd.Title),
		"description":       strings.TrimSpace(cmd.Description),
		"proposal_type":     string(cmd.Type),
		"duration_hours":    strconv.Itoa(cmd.VotingDurationHours),
		"required_quorum":   strconv.Itoa(cmd.RequiredQuorum),
		"passing_threshold": strconv.Itoa(cmd.PassingThreshold),
		"op":                "create_proposal",
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
