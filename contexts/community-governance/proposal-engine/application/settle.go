package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"agora/contexts/community-governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/community-governance/proposal-engine/domain/errors"
	"agora/contexts/community-governance/proposal-engine/domain/services"
	"agora/contexts/community-governance/proposal-engine/ports"
)

// Settler applies the resolution policy to an expired, still-active proposal
// and persists the terminal transition. It is shared by the read-path lazy
// sweep and the background expiry sweeper: no dedicated process is required
// for correctness, because every read re-evaluates expired proposals.
type Settler struct {
	Proposals   ports.ProposalRepository
	Communities ports.CommunityStore
	Outbox      ports.OutboxWriter
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Logger      *slog.Logger
}

// SettleIfExpired re-evaluates an active proposal whose window has closed.
// It returns the current proposal state and whether this call performed the
// transition. Losing a settle race is not an error: the already-persisted
// terminal state is returned instead.
func (s Settler) SettleIfExpired(ctx context.Context, proposal entities.Proposal) (entities.Proposal, bool, error) {
	logger := ResolveLogger(s.Logger)
	now := s.now()
	if proposal.Terminal() || !proposal.WindowExpired(now) {
		return proposal, false, nil
	}

	memberCount, err := s.memberCount(ctx, proposal.CommunityID)
	if err != nil {
		return entities.Proposal{}, false, err
	}
	next := services.Resolve(proposal, memberCount, now)
	if next == entities.ProposalStatusActive {
		return proposal, false, nil
	}

	updated, transitioned, err := s.Proposals.SettleProposal(ctx, proposal.ProposalID, next, now)
	if err != nil {
		logger.Error("proposal settle failed",
			"event", "governance_proposal_settle_failed",
			"module", "community-governance/proposal-engine",
			"layer", "application",
			"proposal_id", proposal.ProposalID,
			"to_status", string(next),
			"error", err.Error(),
		)
		return entities.Proposal{}, false, err
	}
	if !transitioned {
		return updated, false, nil
	}

	if err := s.appendResolvedEvent(ctx, updated, now); err != nil {
		return entities.Proposal{}, false, err
	}
	logger.Info("proposal settled",
		"event", "governance_proposal_settled",
		"module", "community-governance/proposal-engine",
		"layer", "application",
		"proposal_id", updated.ProposalID,
		"community_id", updated.CommunityID,
		"status", string(updated.Status),
		"total_weight", updated.TotalWeight,
	)
	return updated, true, nil
}

func (s Settler) memberCount(ctx context.Context, communityID string) (int64, error) {
	community, err := s.Communities.GetCommunity(ctx, communityID)
	if err != nil {
		// A missing projection must not leave an expired proposal active
		// forever; resolve against a zero count instead.
		if errors.Is(err, domainerrors.ErrCommunityNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return community.MemberCount, nil
}

func (s Settler) appendResolvedEvent(ctx context.Context, proposal entities.Proposal, occurredAt time.Time) error {
	if s.Outbox == nil {
		return nil
	}
	eventID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{
		"proposal_id":  proposal.ProposalID,
		"community_id": proposal.CommunityID,
		"status":       string(proposal.Status),
		"yes_weight":   proposal.YesWeight,
		"no_weight":    proposal.NoWeight,
		"total_weight": proposal.TotalWeight,
		"occurred_at":  occurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.Outbox.AppendOutbox(ctx, ports.EventEnvelope{
		EventID:          eventID,
		EventType:        "proposal.resolved",
		OccurredAt:       occurredAt.UTC(),
		SourceService:    "proposal-engine",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "proposal_id",
		PartitionKey:     proposal.ProposalID,
		Data:             payload,
	})
}

func (s Settler) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
