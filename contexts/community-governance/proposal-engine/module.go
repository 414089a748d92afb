package proposalengine

import (
	"log/slog"
	"time"

	httpadapter "agora/contexts/community-governance/proposal-engine/adapters/http"
	"agora/contexts/community-governance/proposal-engine/adapters/memory"
	"agora/contexts/community-governance/proposal-engine/adapters/weights"
	application "agora/contexts/community-governance/proposal-engine/application"
	"agora/contexts/community-governance/proposal-engine/application/commands"
	"agora/contexts/community-governance/proposal-engine/application/queries"
	"agora/contexts/community-governance/proposal-engine/domain/entities"
	"agora/contexts/community-governance/proposal-engine/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Settler application.Settler
	Store   *memory.Store
}

type Dependencies struct {
	Proposals      ports.ProposalRepository
	Communities    ports.CommunityStore
	Capabilities   ports.CapabilityChecker
	Weights        ports.WeightResolver
	Idempotency    ports.IdempotencyStore
	Outbox         ports.OutboxWriter
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	MaxCastRetries int
	Logger         *slog.Logger
}

func NewModule(deps Dependencies) Module {
	settler := application.Settler{
		Proposals:   deps.Proposals,
		Communities: deps.Communities,
		Outbox:      deps.Outbox,
		Clock:       deps.Clock,
		IDGen:       deps.IDGen,
		Logger:      deps.Logger,
	}
	proposalUseCase := commands.ProposalUseCase{
		Proposals:      deps.Proposals,
		Communities:    deps.Communities,
		Capabilities:   deps.Capabilities,
		Idempotency:    deps.Idempotency,
		Outbox:         deps.Outbox,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	voteUseCase := commands.VoteUseCase{
		Proposals:    deps.Proposals,
		Communities:  deps.Communities,
		Capabilities: deps.Capabilities,
		Weights:      deps.Weights,
		Outbox:       deps.Outbox,
		Clock:        deps.Clock,
		IDGen:        deps.IDGen,
		MaxAttempts:  deps.MaxCastRetries,
		Logger:       deps.Logger,
	}
	readUseCase := queries.ProposalReadUseCase{
		Proposals: deps.Proposals,
		Settler:   settler,
		Logger:    deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Proposals: proposalUseCase,
			Votes:     voteUseCase,
			Reads:     readUseCase,
			Logger:    deps.Logger,
		},
		Settler: settler,
	}
}

func NewInMemoryModule(seed []entities.Proposal, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Proposals:      store,
		Communities:    store,
		Capabilities:   store,
		Weights:        weights.NewResolver(store),
		Idempotency:    store,
		Outbox:         store,
		Clock:          store,
		IDGen:          store,
		IdempotencyTTL: 24 * time.Hour,
		Logger:         logger,
	})
	module.Store = store
	return module
}
