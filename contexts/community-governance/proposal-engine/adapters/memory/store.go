package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/contexts/community-governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/community-governance/proposal-engine/domain/errors"
	"agora/contexts/community-governance/proposal-engine/domain/services"
	"agora/contexts/community-governance/proposal-engine/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

type dedupRecord struct {
	payloadHash string
	expiresAt   time.Time
}

// Store is the in-memory adapter used by tests and local wiring. All write
// paths run under one mutex, which gives the same observable atomicity as
// the transactional postgres adapter: the vote insert, tally update and
// resolution write are one indivisible unit.
type Store struct {
	mu sync.RWMutex

	proposals   map[string]entities.Proposal
	votes       map[string]entities.Vote
	voteIndex   map[string]string // proposalID + "\x00" + voterID -> voteID
	communities map[string]ports.CommunityProjection
	members     map[string]map[string][]string // communityID -> userID -> capabilities
	tokens      map[string]int64               // communityID + "\x00" + userID
	nfts        map[string]int64
	idempotency map[string]ports.IdempotencyRecord
	outbox      map[string]outboxRecord
	eventDedup  map[string]dedupRecord
}

func NewStore(seed []entities.Proposal) *Store {
	proposals := make(map[string]entities.Proposal, len(seed))
	for _, proposal := range seed {
		proposals[proposal.ProposalID] = proposal
	}
	return &Store{
		proposals:   proposals,
		votes:       make(map[string]entities.Vote),
		voteIndex:   make(map[string]string),
		communities: make(map[string]ports.CommunityProjection),
		members:     make(map[string]map[string][]string),
		tokens:      make(map[string]int64),
		nfts:        make(map[string]int64),
		idempotency: make(map[string]ports.IdempotencyRecord),
		outbox:      make(map[string]outboxRecord),
		eventDedup:  make(map[string]dedupRecord),
	}
}

// SetCommunity seeds a community projection.
func (s *Store) SetCommunity(community ports.CommunityProjection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	communityID := strings.TrimSpace(community.CommunityID)
	s.communities[communityID] = ports.CommunityProjection{
		CommunityID:     communityID,
		MemberCount:     community.MemberCount,
		VotingPowerMode: community.VotingPowerMode,
	}
}

// SetMemberCapabilities seeds one member's capabilities without touching the
// community's member count.
func (s *Store) SetMemberCapabilities(communityID string, userID string, capabilities ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	communityID = strings.TrimSpace(communityID)
	if s.members[communityID] == nil {
		s.members[communityID] = make(map[string][]string)
	}
	s.members[communityID][strings.TrimSpace(userID)] = append([]string(nil), capabilities...)
}

// SetTokenBalance seeds a token balance for token-weighted voting.
func (s *Store) SetTokenBalance(communityID string, userID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[balanceKey(communityID, userID)] = balance
}

// SetNFTCount seeds an NFT holding for nft-weighted voting.
func (s *Store) SetNFTCount(communityID string, userID string, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nfts[balanceKey(communityID, userID)] = count
}

func (s *Store) CreateProposal(_ context.Context, proposal entities.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposalID := strings.TrimSpace(proposal.ProposalID)
	if _, exists := s.proposals[proposalID]; exists {
		return domainerrors.ErrConflict
	}
	s.proposals[proposalID] = proposal
	return nil
}

func (s *Store) GetProposal(_ context.Context, proposalID string) (entities.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proposal, ok := s.proposals[strings.TrimSpace(proposalID)]
	if !ok {
		return entities.Proposal{}, domainerrors.ErrProposalNotFound
	}
	return proposal, nil
}

func (s *Store) ListProposalsByCommunity(_ context.Context, communityID string) ([]entities.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	communityID = strings.TrimSpace(communityID)
	items := make([]entities.Proposal, 0)
	for _, proposal := range s.proposals {
		if proposal.CommunityID == communityID {
			items = append(items, proposal)
		}
	}
	sortProposalsByCreation(items)
	return items, nil
}

func (s *Store) ListExpiredActive(_ context.Context, now time.Time, limit int) ([]entities.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	items := make([]entities.Proposal, 0)
	for _, proposal := range s.proposals {
		if proposal.Status == entities.ProposalStatusActive && proposal.WindowExpired(now) {
			items = append(items, proposal)
		}
	}
	sortProposalsByCreation(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// RecordVote admits the vote, bumps the tally and evaluates the resolution
// policy as one unit under the write lock. Exactly one of two racing
// submissions for the same (proposal, voter) observes the empty index slot.
func (s *Store) RecordVote(_ context.Context, vote entities.Vote, now time.Time) (ports.RecordVoteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposalID := strings.TrimSpace(vote.ProposalID)
	voterID := strings.TrimSpace(vote.VoterID)

	proposal, ok := s.proposals[proposalID]
	if !ok {
		return ports.RecordVoteResult{}, domainerrors.ErrProposalNotFound
	}
	if proposal.Terminal() {
		return ports.RecordVoteResult{}, domainerrors.ErrProposalNotActive
	}
	if proposal.WindowExpired(now) {
		return ports.RecordVoteResult{}, domainerrors.ErrVotingWindowClosed
	}

	indexKey := voteKey(proposalID, voterID)
	if _, voted := s.voteIndex[indexKey]; voted {
		return ports.RecordVoteResult{}, domainerrors.ErrDuplicateVote
	}

	vote.ProposalID = proposalID
	vote.VoterID = voterID
	vote.CreatedAt = now.UTC()
	s.votes[strings.TrimSpace(vote.VoteID)] = vote
	s.voteIndex[indexKey] = strings.TrimSpace(vote.VoteID)

	if vote.Choice == entities.VoteChoiceYes {
		proposal.YesWeight += vote.Weight
	} else {
		proposal.NoWeight += vote.Weight
	}
	proposal.TotalWeight += vote.Weight
	proposal.UpdatedAt = now.UTC()

	memberCount := s.communities[proposal.CommunityID].MemberCount
	next := services.Resolve(proposal, memberCount, now)
	resolved := next != entities.ProposalStatusActive
	proposal.Status = next
	s.proposals[proposalID] = proposal

	return ports.RecordVoteResult{
		Vote:     vote,
		Proposal: proposal,
		Resolved: resolved,
	}, nil
}

func (s *Store) SettleProposal(
	_ context.Context,
	proposalID string,
	to entities.ProposalStatus,
	now time.Time,
) (entities.Proposal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, ok := s.proposals[strings.TrimSpace(proposalID)]
	if !ok {
		return entities.Proposal{}, false, domainerrors.ErrProposalNotFound
	}
	// The losing writer of a settle race returns the terminal row unchanged.
	if proposal.Terminal() {
		return proposal, false, nil
	}
	if to == entities.ProposalStatusActive || to == entities.ProposalStatusExecuted {
		return proposal, false, domainerrors.ErrConflict
	}
	proposal.Status = to
	proposal.UpdatedAt = now.UTC()
	s.proposals[strings.TrimSpace(proposalID)] = proposal
	return proposal, true, nil
}

func (s *Store) GetVote(_ context.Context, voteID string) (entities.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vote, ok := s.votes[strings.TrimSpace(voteID)]
	if !ok {
		return entities.Vote{}, domainerrors.ErrVoteNotFound
	}
	return vote, nil
}

func (s *Store) GetVoteByIdentity(_ context.Context, proposalID string, voterID string) (entities.Vote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	voteID, ok := s.voteIndex[voteKey(strings.TrimSpace(proposalID), strings.TrimSpace(voterID))]
	if !ok {
		return entities.Vote{}, false, nil
	}
	return s.votes[voteID], true, nil
}

func (s *Store) ListVotesByProposal(_ context.Context, proposalID string) ([]entities.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proposalID = strings.TrimSpace(proposalID)
	items := make([]entities.Vote, 0)
	for _, vote := range s.votes {
		if vote.ProposalID == proposalID {
			items = append(items, vote)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *Store) GetCommunity(_ context.Context, communityID string) (ports.CommunityProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	community, ok := s.communities[strings.TrimSpace(communityID)]
	if !ok {
		return ports.CommunityProjection{}, domainerrors.ErrCommunityNotFound
	}
	return community, nil
}

func (s *Store) UpsertCommunity(_ context.Context, community ports.CommunityProjection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	communityID := strings.TrimSpace(community.CommunityID)
	if communityID == "" {
		return domainerrors.ErrCommunityNotFound
	}
	s.communities[communityID] = ports.CommunityProjection{
		CommunityID:     communityID,
		MemberCount:     community.MemberCount,
		VotingPowerMode: community.VotingPowerMode,
	}
	return nil
}

func (s *Store) UpsertMember(_ context.Context, member ports.MemberProjection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	communityID := strings.TrimSpace(member.CommunityID)
	userID := strings.TrimSpace(member.UserID)
	if communityID == "" || userID == "" {
		return domainerrors.ErrInvalidProposalInput
	}
	if s.members[communityID] == nil {
		s.members[communityID] = make(map[string][]string)
	}
	_, existed := s.members[communityID][userID]
	s.members[communityID][userID] = append([]string(nil), member.Capabilities...)
	if !existed {
		community := s.communities[communityID]
		community.CommunityID = communityID
		community.MemberCount++
		s.communities[communityID] = community
	}
	return nil
}

func (s *Store) RemoveMember(_ context.Context, communityID string, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	communityID = strings.TrimSpace(communityID)
	userID = strings.TrimSpace(userID)
	if _, ok := s.members[communityID][userID]; !ok {
		return false, nil
	}
	delete(s.members[communityID], userID)
	community := s.communities[communityID]
	if community.MemberCount > 0 {
		community.MemberCount--
		s.communities[communityID] = community
	}
	return true, nil
}

func (s *Store) HasCapability(_ context.Context, communityID string, userID string, capability string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	capabilities, ok := s.members[strings.TrimSpace(communityID)][strings.TrimSpace(userID)]
	if !ok {
		return false, nil
	}
	for _, item := range capabilities {
		if strings.EqualFold(item, capability) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) TokenBalance(_ context.Context, communityID string, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[balanceKey(communityID, userID)], nil
}

func (s *Store) NFTCount(_ context.Context, communityID string, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nfts[balanceKey(communityID, userID)], nil
}

func (s *Store) Get(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	record, exists := s.idempotency[key]
	if !exists {
		return ports.IdempotencyRecord{}, false, nil
	}
	if !record.ExpiresAt.After(now.UTC()) {
		delete(s.idempotency, key)
		return ports.IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

func (s *Store) Put(_ context.Context, record ports.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(record.Key)
	existing, exists := s.idempotency[key]
	if exists {
		if existing.RequestHash != record.RequestHash || existing.ProposalID != record.ProposalID {
			return domainerrors.ErrIdempotencyConflict
		}
		return nil
	}
	s.idempotency[key] = ports.IdempotencyRecord{
		Key:         key,
		RequestHash: strings.TrimSpace(record.RequestHash),
		ProposalID:  strings.TrimSpace(record.ProposalID),
		ExpiresAt:   record.ExpiresAt.UTC(),
	}
	return nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.outbox[outboxID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return domainerrors.ErrConflict
		}
		return nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	s.outbox[outboxID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		items = append(items, row.message)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrConflict
	}
	row.published = true
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

func (s *Store) ReserveEvent(
	_ context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(eventID)
	existing, ok := s.eventDedup[key]
	if ok {
		if !existing.expiresAt.IsZero() && time.Now().UTC().After(existing.expiresAt.UTC()) {
			delete(s.eventDedup, key)
		} else {
			if existing.payloadHash != strings.TrimSpace(payloadHash) {
				return false, domainerrors.ErrConflict
			}
			return true, nil
		}
	}

	s.eventDedup[key] = dedupRecord{
		payloadHash: strings.TrimSpace(payloadHash),
		expiresAt:   expiresAt.UTC(),
	}
	return false, nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func voteKey(proposalID string, voterID string) string {
	return proposalID + "\x00" + voterID
}

func balanceKey(communityID string, userID string) string {
	return strings.TrimSpace(communityID) + "\x00" + strings.TrimSpace(userID)
}

func sortProposalsByCreation(items []entities.Proposal) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

var _ ports.ProposalRepository = (*Store)(nil)
var _ ports.CommunityStore = (*Store)(nil)
var _ ports.CapabilityChecker = (*Store)(nil)
var _ ports.BalanceSource = (*Store)(nil)
var _ ports.IdempotencyStore = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.EventDedupStore = (*Store)(nil)
