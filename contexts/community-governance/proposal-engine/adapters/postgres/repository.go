package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/community-governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/community-governance/proposal-engine/domain/errors"
	"agora/contexts/community-governance/proposal-engine/domain/services"
	"agora/contexts/community-governance/proposal-engine/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) CreateProposal(ctx context.Context, proposal entities.Proposal) error {
	row := proposalModelFromEntity(proposal)
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		if isUniqueViolation(create.Error) {
			return domainerrors.ErrConflict
		}
		return r.logError("proposal_repo_create_proposal_failed", create.Error,
			"proposal_id", row.ID,
			"community_id", row.CommunityID,
		)
	}
	if create.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) GetProposal(ctx context.Context, proposalID string) (entities.Proposal, error) {
	var row proposalModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(proposalID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Proposal{}, domainerrors.ErrProposalNotFound
		}
		return entities.Proposal{}, r.logError("proposal_repo_get_proposal_failed", err,
			"proposal_id", strings.TrimSpace(proposalID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListProposalsByCommunity(ctx context.Context, communityID string) ([]entities.Proposal, error) {
	var rows []proposalModel
	if err := r.db.WithContext(ctx).
		Where("community_id = ?", strings.TrimSpace(communityID)).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("proposal_repo_list_by_community_failed", err,
			"community_id", strings.TrimSpace(communityID),
		)
	}
	return toProposalEntities(rows), nil
}

func (r *Repository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]entities.Proposal, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []proposalModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(entities.ProposalStatusActive)).
		Where("voting_ends_at < ?", now.UTC()).
		Order("voting_ends_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("proposal_repo_list_expired_active_failed", err, "limit", limit)
	}
	return toProposalEntities(rows), nil
}

// RecordVote runs the whole admission inside one transaction: the proposal
// row is locked FOR UPDATE, the vote insert rides the unique
// (proposal_id, voter_id) index, the tally columns are bumped and the
// resolution policy is evaluated against the fresh tally before commit.
// Serialization failures and deadlocks surface as ErrStorageConflict so the
// use case can retry.
func (r *Repository) RecordVote(ctx context.Context, vote entities.Vote, now time.Time) (ports.RecordVoteResult, error) {
	var result ports.RecordVoteResult

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var proposalRow proposalModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", strings.TrimSpace(vote.ProposalID)).
			First(&proposalRow).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrProposalNotFound
			}
			return err
		}

		proposal := proposalRow.toEntity()
		if proposal.Terminal() {
			return domainerrors.ErrProposalNotActive
		}
		if proposal.WindowExpired(now) {
			return domainerrors.ErrVotingWindowClosed
		}

		voteRow := voteModelFromEntity(vote, now)
		create := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "proposal_id"}, {Name: "voter_id"}},
			DoNothing: true,
		}).Create(&voteRow)
		if create.Error != nil {
			if isUniqueViolation(create.Error) {
				return domainerrors.ErrDuplicateVote
			}
			return create.Error
		}
		if create.RowsAffected == 0 {
			return domainerrors.ErrDuplicateVote
		}

		if vote.Choice == entities.VoteChoiceYes {
			proposal.YesWeight += vote.Weight
		} else {
			proposal.NoWeight += vote.Weight
		}
		proposal.TotalWeight += vote.Weight
		proposal.UpdatedAt = now.UTC()

		memberCount, err := r.memberCountInTx(tx, proposal.CommunityID)
		if err != nil {
			return err
		}

		next := services.Resolve(proposal, memberCount, now)
		resolved := next != entities.ProposalStatusActive
		proposal.Status = next

		if err := tx.Model(&proposalModel{}).
			Where("id = ?", proposal.ProposalID).
			Updates(map[string]any{
				"yes_weight":   proposal.YesWeight,
				"no_weight":    proposal.NoWeight,
				"total_weight": proposal.TotalWeight,
				"status":       string(proposal.Status),
				"updated_at":   proposal.UpdatedAt,
			}).Error; err != nil {
			return err
		}

		result = ports.RecordVoteResult{
			Vote:     voteRow.toEntity(),
			Proposal: proposal,
			Resolved: resolved,
		}
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return ports.RecordVoteResult{}, err
		}
		if isSerializationFailure(err) {
			return ports.RecordVoteResult{}, domainerrors.ErrStorageConflict
		}
		return ports.RecordVoteResult{}, r.logError("proposal_repo_record_vote_failed", err,
			"proposal_id", strings.TrimSpace(vote.ProposalID),
			"voter_id", strings.TrimSpace(vote.VoterID),
		)
	}
	return result, nil
}

// SettleProposal moves an active proposal to a terminal status. The update
// is conditional on status still reading active, so the loser of a settle
// race reloads the row and reports transitioned=false.
func (r *Repository) SettleProposal(
	ctx context.Context,
	proposalID string,
	to entities.ProposalStatus,
	now time.Time,
) (entities.Proposal, bool, error) {
	proposalID = strings.TrimSpace(proposalID)
	if to == entities.ProposalStatusActive || to == entities.ProposalStatusExecuted {
		return entities.Proposal{}, false, domainerrors.ErrConflict
	}

	update := r.db.WithContext(ctx).
		Model(&proposalModel{}).
		Where("id = ?", proposalID).
		Where("status = ?", string(entities.ProposalStatusActive)).
		Updates(map[string]any{
			"status":     string(to),
			"updated_at": now.UTC(),
		})
	if update.Error != nil {
		return entities.Proposal{}, false, r.logError("proposal_repo_settle_update_failed", update.Error,
			"proposal_id", proposalID,
			"to_status", string(to),
		)
	}

	var row proposalModel
	err := r.db.WithContext(ctx).
		Where("id = ?", proposalID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Proposal{}, false, domainerrors.ErrProposalNotFound
		}
		return entities.Proposal{}, false, r.logError("proposal_repo_settle_reload_failed", err,
			"proposal_id", proposalID,
		)
	}
	return row.toEntity(), update.RowsAffected > 0, nil
}

func (r *Repository) GetVote(ctx context.Context, voteID string) (entities.Vote, error) {
	var row voteModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(voteID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Vote{}, domainerrors.ErrVoteNotFound
		}
		return entities.Vote{}, r.logError("proposal_repo_get_vote_failed", err,
			"vote_id", strings.TrimSpace(voteID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) GetVoteByIdentity(
	ctx context.Context,
	proposalID string,
	voterID string,
) (entities.Vote, bool, error) {
	var row voteModel
	err := r.db.WithContext(ctx).
		Where("proposal_id = ?", strings.TrimSpace(proposalID)).
		Where("voter_id = ?", strings.TrimSpace(voterID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Vote{}, false, nil
		}
		return entities.Vote{}, false, r.logError("proposal_repo_get_vote_by_identity_failed", err,
			"proposal_id", strings.TrimSpace(proposalID),
			"voter_id", strings.TrimSpace(voterID),
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) ListVotesByProposal(ctx context.Context, proposalID string) ([]entities.Vote, error) {
	var rows []voteModel
	if err := r.db.WithContext(ctx).
		Where("proposal_id = ?", strings.TrimSpace(proposalID)).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("proposal_repo_list_votes_by_proposal_failed", err,
			"proposal_id", strings.TrimSpace(proposalID),
		)
	}
	items := make([]entities.Vote, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) GetCommunity(ctx context.Context, communityID string) (ports.CommunityProjection, error) {
	var row communityModel
	err := r.db.WithContext(ctx).
		Where("community_id = ?", strings.TrimSpace(communityID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.CommunityProjection{}, domainerrors.ErrCommunityNotFound
		}
		return ports.CommunityProjection{}, r.logError("proposal_repo_get_community_failed", err,
			"community_id", strings.TrimSpace(communityID),
		)
	}
	return ports.CommunityProjection{
		CommunityID:     row.CommunityID,
		MemberCount:     row.MemberCount,
		VotingPowerMode: entities.VotingPowerMode(row.VotingPowerMode),
	}, nil
}

func (r *Repository) UpsertCommunity(ctx context.Context, community ports.CommunityProjection) error {
	row := communityModel{
		CommunityID:     strings.TrimSpace(community.CommunityID),
		MemberCount:     community.MemberCount,
		VotingPowerMode: string(community.VotingPowerMode),
		UpdatedAt:       time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "community_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"member_count":      row.MemberCount,
			"voting_power_mode": row.VotingPowerMode,
			"updated_at":        row.UpdatedAt,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("proposal_repo_upsert_community_failed", create.Error,
			"community_id", row.CommunityID,
		)
	}
	return nil
}

// UpsertMember inserts or refreshes a membership row. The community's
// member_count only moves on a fresh insert.
func (r *Repository) UpsertMember(ctx context.Context, member ports.MemberProjection) error {
	communityID := strings.TrimSpace(member.CommunityID)
	userID := strings.TrimSpace(member.UserID)
	if communityID == "" || userID == "" {
		return domainerrors.ErrInvalidProposalInput
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		joinedAt := member.JoinedAt.UTC()
		if joinedAt.IsZero() {
			joinedAt = time.Now().UTC()
		}
		row := memberModel{
			CommunityID:  communityID,
			UserID:       userID,
			Capabilities: strings.Join(member.Capabilities, ","),
			JoinedAt:     joinedAt,
		}
		create := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "community_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"capabilities": row.Capabilities,
			}),
		}).Create(&row)
		if create.Error != nil {
			return create.Error
		}

		var exists communityModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("community_id = ?", communityID).
			First(&exists).
			Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var memberCount int64
		if err := tx.Model(&memberModel{}).
			Where("community_id = ?", communityID).
			Count(&memberCount).Error; err != nil {
			return err
		}

		communityRow := communityModel{
			CommunityID:     communityID,
			MemberCount:     memberCount,
			VotingPowerMode: exists.VotingPowerMode,
			UpdatedAt:       time.Now().UTC(),
		}
		if communityRow.VotingPowerMode == "" {
			communityRow.VotingPowerMode = string(entities.VotingPowerEqual)
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "community_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"member_count": communityRow.MemberCount,
				"updated_at":   communityRow.UpdatedAt,
			}),
		}).Create(&communityRow).Error
	})
	if err != nil {
		return r.logError("proposal_repo_upsert_member_failed", err,
			"community_id", communityID,
			"user_id", userID,
		)
	}
	return nil
}

func (r *Repository) RemoveMember(ctx context.Context, communityID string, userID string) (bool, error) {
	communityID = strings.TrimSpace(communityID)
	userID = strings.TrimSpace(userID)

	removed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Where("community_id = ?", communityID).
			Where("user_id = ?", userID).
			Delete(&memberModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		removed = true

		var memberCount int64
		if err := tx.Model(&memberModel{}).
			Where("community_id = ?", communityID).
			Count(&memberCount).Error; err != nil {
			return err
		}
		return tx.Model(&communityModel{}).
			Where("community_id = ?", communityID).
			Updates(map[string]any{
				"member_count": memberCount,
				"updated_at":   time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return false, r.logError("proposal_repo_remove_member_failed", err,
			"community_id", communityID,
			"user_id", userID,
		)
	}
	return removed, nil
}

func (r *Repository) HasCapability(
	ctx context.Context,
	communityID string,
	userID string,
	capability string,
) (bool, error) {
	var row memberModel
	err := r.db.WithContext(ctx).
		Where("community_id = ?", strings.TrimSpace(communityID)).
		Where("user_id = ?", strings.TrimSpace(userID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, r.logError("proposal_repo_has_capability_failed", err,
			"community_id", strings.TrimSpace(communityID),
			"user_id", strings.TrimSpace(userID),
			"capability", capability,
		)
	}
	for _, item := range strings.Split(row.Capabilities, ",") {
		if strings.EqualFold(strings.TrimSpace(item), strings.TrimSpace(capability)) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository) Get(ctx context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	var row idempotencyModel
	err := r.db.WithContext(ctx).
		Where("key = ?", strings.TrimSpace(key)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, r.logError("proposal_repo_idempotency_get_failed", err,
			"idempotency_key", strings.TrimSpace(key),
		)
	}
	if !row.ExpiresAt.IsZero() && now.UTC().After(row.ExpiresAt.UTC()) {
		if err := r.db.WithContext(ctx).
			Where("key = ?", strings.TrimSpace(key)).
			Delete(&idempotencyModel{}).Error; err != nil {
			return ports.IdempotencyRecord{}, false, r.logError("proposal_repo_idempotency_expire_delete_failed", err,
				"idempotency_key", strings.TrimSpace(key),
			)
		}
		return ports.IdempotencyRecord{}, false, nil
	}
	return ports.IdempotencyRecord{
		Key:         row.Key,
		RequestHash: row.RequestHash,
		ProposalID:  row.ProposalID,
		ExpiresAt:   row.ExpiresAt.UTC(),
	}, true, nil
}

func (r *Repository) Put(ctx context.Context, record ports.IdempotencyRecord) error {
	row := idempotencyModel{
		Key:         strings.TrimSpace(record.Key),
		RequestHash: strings.TrimSpace(record.RequestHash),
		ProposalID:  strings.TrimSpace(record.ProposalID),
		ExpiresAt:   record.ExpiresAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("proposal_repo_idempotency_put_failed", create.Error, "idempotency_key", row.Key)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing idempotencyModel
	if err := r.db.WithContext(ctx).
		Where("key = ?", row.Key).
		First(&existing).Error; err != nil {
		return r.logError("proposal_repo_idempotency_load_existing_failed", err, "idempotency_key", row.Key)
	}
	if existing.RequestHash != row.RequestHash || existing.ProposalID != row.ProposalID {
		return domainerrors.ErrIdempotencyConflict
	}
	return nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("proposal_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("proposal_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("proposal_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrIdempotencyConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("proposal_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("proposal_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("proposal_repo_reserve_event_failed", create.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if create.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash").
		Where("event_id = ?", row.EventID).
		First(&existing).Error; err != nil {
		return false, r.logError("proposal_repo_reserve_event_load_existing_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, domainerrors.ErrConflict
	}
	return true, nil
}

func (r *Repository) memberCountInTx(tx *gorm.DB, communityID string) (int64, error) {
	var row communityModel
	err := tx.
		Where("community_id = ?", strings.TrimSpace(communityID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Projection missing: quorum falls back to a zero member count.
			return 0, nil
		}
		return 0, err
	}
	return row.MemberCount, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+7)
	fields = append(fields,
		"event", event,
		"module", "community-governance/proposal-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("proposal repository operation failed", fields...)
	return err
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

type UUIDGenerator struct{}

func (UUIDGenerator) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

type proposalModel struct {
	ID               string    `gorm:"column:id;primaryKey"`
	CommunityID      string    `gorm:"column:community_id"`
	AuthorID         string    `gorm:"column:author_id"`
	Title            string    `gorm:"column:title"`
	Description      string    `gorm:"column:description"`
	ProposalType     string    `gorm:"column:proposal_type"`
	VotingStartsAt   time.Time `gorm:"column:voting_starts_at"`
	VotingEndsAt     time.Time `gorm:"column:voting_ends_at"`
	RequiredQuorum   int       `gorm:"column:required_quorum"`
	PassingThreshold int       `gorm:"column:passing_threshold"`
	Status           string    `gorm:"column:status"`
	YesWeight        int64     `gorm:"column:yes_weight"`
	NoWeight         int64     `gorm:"column:no_weight"`
	TotalWeight      int64     `gorm:"column:total_weight"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (proposalModel) TableName() string {
	return "proposals"
}

func proposalModelFromEntity(proposal entities.Proposal) proposalModel {
	row := proposalModel{
		ID:               strings.TrimSpace(proposal.ProposalID),
		CommunityID:      strings.TrimSpace(proposal.CommunityID),
		AuthorID:         strings.TrimSpace(proposal.AuthorID),
		Title:            strings.TrimSpace(proposal.Title),
		Description:      proposal.Description,
		ProposalType:     string(proposal.Type),
		VotingStartsAt:   proposal.VotingStartsAt.UTC(),
		VotingEndsAt:     proposal.VotingEndsAt.UTC(),
		RequiredQuorum:   proposal.RequiredQuorum,
		PassingThreshold: proposal.PassingThreshold,
		Status:           string(proposal.Status),
		YesWeight:        proposal.YesWeight,
		NoWeight:         proposal.NoWeight,
		TotalWeight:      proposal.TotalWeight,
		CreatedAt:        proposal.CreatedAt.UTC(),
		UpdatedAt:        proposal.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func (m proposalModel) toEntity() entities.Proposal {
	return entities.Proposal{
		ProposalID:       m.ID,
		CommunityID:      m.CommunityID,
		AuthorID:         m.AuthorID,
		Title:            m.Title,
		Description:      m.Description,
		Type:             entities.ProposalType(m.ProposalType),
		VotingStartsAt:   m.VotingStartsAt.UTC(),
		VotingEndsAt:     m.VotingEndsAt.UTC(),
		RequiredQuorum:   m.RequiredQuorum,
		PassingThreshold: m.PassingThreshold,
		Status:           entities.ProposalStatus(m.Status),
		YesWeight:        m.YesWeight,
		NoWeight:         m.NoWeight,
		TotalWeight:      m.TotalWeight,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}
}

func toProposalEntities(rows []proposalModel) []entities.Proposal {
	items := make([]entities.Proposal, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items
}

type voteModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	ProposalID  string    `gorm:"column:proposal_id;uniqueIndex:ux_proposal_votes_identity"`
	CommunityID string    `gorm:"column:community_id"`
	VoterID     string    `gorm:"column:voter_id;uniqueIndex:ux_proposal_votes_identity"`
	Choice      string    `gorm:"column:choice"`
	Weight      int64     `gorm:"column:weight"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (voteModel) TableName() string {
	return "proposal_votes"
}

func voteModelFromEntity(vote entities.Vote, now time.Time) voteModel {
	row := voteModel{
		ID:          strings.TrimSpace(vote.VoteID),
		ProposalID:  strings.TrimSpace(vote.ProposalID),
		CommunityID: strings.TrimSpace(vote.CommunityID),
		VoterID:     strings.TrimSpace(vote.VoterID),
		Choice:      string(vote.Choice),
		Weight:      vote.Weight,
		CreatedAt:   vote.CreatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now.UTC()
	}
	return row
}

func (m voteModel) toEntity() entities.Vote {
	return entities.Vote{
		VoteID:      m.ID,
		ProposalID:  m.ProposalID,
		CommunityID: m.CommunityID,
		VoterID:     m.VoterID,
		Choice:      entities.VoteChoice(m.Choice),
		Weight:      m.Weight,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

type communityModel struct {
	CommunityID     string    `gorm:"column:community_id;primaryKey"`
	MemberCount     int64     `gorm:"column:member_count"`
	VotingPowerMode string    `gorm:"column:voting_power_mode"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (communityModel) TableName() string {
	return "communities"
}

type memberModel struct {
	CommunityID  string    `gorm:"column:community_id;primaryKey"`
	UserID       string    `gorm:"column:user_id;primaryKey"`
	Capabilities string    `gorm:"column:capabilities"`
	JoinedAt     time.Time `gorm:"column:joined_at"`
}

func (memberModel) TableName() string {
	return "community_members"
}

type idempotencyModel struct {
	Key         string    `gorm:"column:key;primaryKey"`
	RequestHash string    `gorm:"column:request_hash"`
	ProposalID  string    `gorm:"column:proposal_id"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "proposal_engine_idempotency"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "governance_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "governance_event_dedup"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected.
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isDomainError(err error) bool {
	return errors.Is(err, domainerrors.ErrProposalNotFound) ||
		errors.Is(err, domainerrors.ErrProposalNotActive) ||
		errors.Is(err, domainerrors.ErrVotingWindowClosed) ||
		errors.Is(err, domainerrors.ErrDuplicateVote)
}

var _ ports.ProposalRepository = (*Repository)(nil)
var _ ports.CommunityStore = (*Repository)(nil)
var _ ports.CapabilityChecker = (*Repository)(nil)
var _ ports.IdempotencyStore = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)
var _ ports.Clock = SystemClock{}
var _ ports.IDGenerator = UUIDGenerator{}
