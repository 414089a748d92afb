package ports

import (
	"context"
	"time"

	"agora/contexts/community-governance/proposal-engine/domain/entities"
	contractsv1 "agora/contracts/gen/events/v1"
)

// EventEnvelope is the canonical cross-service event shape.
type EventEnvelope = contractsv1.Envelope

// CommunityProjection mirrors the community record owned by the membership
// service. The engine only reads it; the membership consumer keeps it fresh.
type CommunityProjection struct {
	CommunityID     string
	MemberCount     int64
	VotingPowerMode entities.VotingPowerMode
}

// MemberProjection mirrors one community membership with the capabilities
// granted by the membership service.
type MemberProjection struct {
	CommunityID  string
	UserID       string
	Capabilities []string
	JoinedAt     time.Time
}

// RecordVoteResult carries the post-write proposal state. Resolved is true
// when this write moved the proposal into a terminal status.
type RecordVoteResult struct {
	Vote     entities.Vote
	Proposal entities.Proposal
	Resolved bool
}

// ProposalRepository is the persistent store for proposals and the vote
// ledger.
//
// RecordVote is the crux of the engine: the vote insert, the tally update
// and the resolution-policy status write happen in one atomic unit. A race
// between two submissions for the same (proposal, voter) must admit exactly
// one and fail the other with ErrDuplicateVote. SettleProposal applies an
// active-to-terminal transition conditionally; the loser of a settle race
// gets transitioned=false and the already-persisted row back.
type ProposalRepository interface {
	CreateProposal(ctx context.Context, proposal entities.Proposal) error
	GetProposal(ctx context.Context, proposalID string) (entities.Proposal, error)
	ListProposalsByCommunity(ctx context.Context, communityID string) ([]entities.Proposal, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]entities.Proposal, error)
	RecordVote(ctx context.Context, vote entities.Vote, now time.Time) (RecordVoteResult, error)
	SettleProposal(ctx context.Context, proposalID string, to entities.ProposalStatus, now time.Time) (entities.Proposal, bool, error)
	GetVote(ctx context.Context, voteID string) (entities.Vote, error)
	GetVoteByIdentity(ctx context.Context, proposalID string, voterID string) (entities.Vote, bool, error)
	ListVotesByProposal(ctx context.Context, proposalID string) ([]entities.Vote, error)
}

// CommunityStore reads and maintains the community/membership projections.
type CommunityStore interface {
	GetCommunity(ctx context.Context, communityID string) (CommunityProjection, error)
	UpsertCommunity(ctx context.Context, community CommunityProjection) error
	UpsertMember(ctx context.Context, member MemberProjection) error
	RemoveMember(ctx context.Context, communityID string, userID string) (bool, error)
}

// CapabilityChecker answers membership capability lookups
// (create_proposals, vote).
type CapabilityChecker interface {
	HasCapability(ctx context.Context, communityID string, userID string, capability string) (bool, error)
}

// CapabilityInvalidator drops cached capability decisions for one member.
// Wired only when a cache sits in front of the checker.
type CapabilityInvalidator interface {
	InvalidateCapabilities(ctx context.Context, communityID string, userID string) error
}

// WeightResolver computes a member's vote weight for a community's voting
// power mode. The result is frozen into the vote at cast time.
type WeightResolver interface {
	ResolveWeight(ctx context.Context, communityID string, userID string, mode entities.VotingPowerMode) (int64, error)
}

// BalanceSource backs the token/NFT weighted modes with an external balance
// lookup.
type BalanceSource interface {
	TokenBalance(ctx context.Context, communityID string, userID string) (int64, error)
	NFTCount(ctx context.Context, communityID string, userID string) (int64, error)
}

type IdempotencyRecord struct {
	Key         string
	RequestHash string
	ProposalID  string
	ExpiresAt   time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
	Put(ctx context.Context, record IdempotencyRecord) error
}

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, topic string, consumerGroup string, handler func(context.Context, EventEnvelope) error) error
}

// EventDedupStore reserves processed event ids so consumers stay idempotent.
// It reports true when the event was already processed with the same payload.
type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
